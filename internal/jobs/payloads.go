// Package jobs holds the typed payloads and results of the generation job
// types and the handlers the worker service runs for them.
package jobs

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cuongbtq/genqueue/internal/queue/domain"
)

// CorrelationKey is the payload field the API dedupes generation requests on.
const CorrelationKey = "podcastId"

// GenerateScriptPayload requests a podcast script
type GenerateScriptPayload struct {
	PodcastID       string `json:"podcastId"`
	Topic           string `json:"topic"`
	Style           string `json:"style,omitempty"`
	DurationMinutes int    `json:"durationMinutes,omitempty"`
}

// Validate checks the required fields
func (p GenerateScriptPayload) Validate() error {
	if p.PodcastID == "" {
		return errors.New("podcastId is required")
	}
	if p.Topic == "" {
		return errors.New("topic is required")
	}
	if p.DurationMinutes < 0 {
		return fmt.Errorf("durationMinutes must not be negative, got %d", p.DurationMinutes)
	}
	return nil
}

// GenerateScriptResult is the output of a generate-script job
type GenerateScriptResult struct {
	ScriptID  string `json:"scriptId"`
	Script    string `json:"script"`
	WordCount int    `json:"wordCount"`
}

// GenerateAudioPayload requests narration of a finished script
type GenerateAudioPayload struct {
	PodcastID string `json:"podcastId"`
	ScriptID  string `json:"scriptId"`
	Voice     string `json:"voice,omitempty"`
}

func (p GenerateAudioPayload) Validate() error {
	if p.PodcastID == "" {
		return errors.New("podcastId is required")
	}
	if p.ScriptID == "" {
		return errors.New("scriptId is required")
	}
	return nil
}

// GenerateAudioResult is the output of a generate-audio job
type GenerateAudioResult struct {
	AudioURL        string  `json:"audioUrl"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// GenerateAvatarPayload requests a talking avatar video for an audio track
type GenerateAvatarPayload struct {
	PodcastID string `json:"podcastId"`
	AudioURL  string `json:"audioUrl"`
	AvatarID  string `json:"avatarId,omitempty"`
}

func (p GenerateAvatarPayload) Validate() error {
	if p.PodcastID == "" {
		return errors.New("podcastId is required")
	}
	if p.AudioURL == "" {
		return errors.New("audioUrl is required")
	}
	return nil
}

// GenerateAvatarResult is the output of a generate-avatar job
type GenerateAvatarResult struct {
	VideoURL string `json:"videoUrl"`
}

// Encode marshals a payload or result for storage
func Encode(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	return data, nil
}

// ValidatePayload decodes payload as the payload type of jobType and runs
// its checks. Unknown job types are accepted as long as payload is JSON.
func ValidatePayload(jobType domain.JobType, payload json.RawMessage) error {
	var err error
	switch jobType {
	case domain.JobTypeGenerateScript:
		_, err = decode[GenerateScriptPayload](payload)
	case domain.JobTypeGenerateAudio:
		_, err = decode[GenerateAudioPayload](payload)
	case domain.JobTypeGenerateAvatar:
		_, err = decode[GenerateAvatarPayload](payload)
	default:
		if !json.Valid(payload) {
			err = errors.New("payload is not valid JSON")
		}
	}
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	return nil
}

type validator interface {
	Validate() error
}

func decode[P any](payload json.RawMessage) (P, error) {
	var p P
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, err
	}
	if v, ok := any(p).(validator); ok {
		if err := v.Validate(); err != nil {
			return p, err
		}
	}
	return p, nil
}
