package domain

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"unicode/utf8"
)

// StorableJSON reports whether raw can be written to a jsonb column: it must be
// valid UTF-8 and no string or key may decode to a NUL character.
func StorableJSON(raw json.RawMessage) bool {
	if !utf8.Valid(raw) {
		return false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return true
		}
		if err != nil {
			return false
		}
		if s, ok := tok.(string); ok && strings.IndexByte(s, 0) >= 0 {
			return false
		}
	}
}

// StorableText reports whether s can be written to a text column.
func StorableText(s string) bool {
	return utf8.ValidString(s) && strings.IndexByte(s, 0) < 0
}

// SanitizeText makes s storable in a text column, replacing invalid UTF-8 and
// dropping NUL characters.
func SanitizeText(s string) string {
	return strings.ReplaceAll(strings.ToValidUTF8(s, "�"), "\x00", "")
}
