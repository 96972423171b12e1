package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/genqueue/internal/queue"
	"github.com/cuongbtq/genqueue/internal/queue/domain"
)

const wordsPerMinute = 150

// Simulator produces plausible results for every generation job type after a
// fixed delay. The worker service runs it until real generators are wired in.
type Simulator struct {
	Delay           time.Duration
	ArtifactBaseURL string
}

// Registry returns a registry with a simulated handler for every known type.
func (s *Simulator) Registry() Registry {
	r := Registry{}
	r.Register(domain.JobTypeGenerateScript, Typed(s.generateScript))
	r.Register(domain.JobTypeGenerateAudio, Typed(s.generateAudio))
	r.Register(domain.JobTypeGenerateAvatar, Typed(s.generateAvatar))
	return r
}

func (s *Simulator) wait(ctx context.Context) error {
	if s.Delay <= 0 {
		return nil
	}
	timer := time.NewTimer(s.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return queue.WrapProcessingError(ctx.Err(), "generation interrupted")
	case <-timer.C:
		return nil
	}
}

func (s *Simulator) generateScript(ctx context.Context, job *domain.Job, p GenerateScriptPayload) (GenerateScriptResult, error) {
	if err := s.wait(ctx); err != nil {
		return GenerateScriptResult{}, err
	}

	minutes := p.DurationMinutes
	if minutes == 0 {
		minutes = 1
	}
	style := p.Style
	if style == "" {
		style = "conversational"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Welcome to this %s episode about %s.", style, p.Topic)
	words := len(strings.Fields(b.String()))
	for words < minutes*wordsPerMinute {
		fmt.Fprintf(&b, " More on %s.", p.Topic)
		words += 2 + len(strings.Fields(p.Topic))
	}

	return GenerateScriptResult{
		ScriptID:  uuid.NewString(),
		Script:    b.String(),
		WordCount: words,
	}, nil
}

func (s *Simulator) generateAudio(ctx context.Context, job *domain.Job, p GenerateAudioPayload) (GenerateAudioResult, error) {
	if err := s.wait(ctx); err != nil {
		return GenerateAudioResult{}, err
	}
	return GenerateAudioResult{
		AudioURL:        fmt.Sprintf("%s/audio/%s/%s.mp3", strings.TrimSuffix(s.ArtifactBaseURL, "/"), p.PodcastID, job.ID),
		DurationSeconds: 60,
	}, nil
}

func (s *Simulator) generateAvatar(ctx context.Context, job *domain.Job, p GenerateAvatarPayload) (GenerateAvatarResult, error) {
	if err := s.wait(ctx); err != nil {
		return GenerateAvatarResult{}, err
	}
	return GenerateAvatarResult{
		VideoURL: fmt.Sprintf("%s/video/%s/%s.mp4", strings.TrimSuffix(s.ArtifactBaseURL, "/"), p.PodcastID, job.ID),
	}, nil
}
