// Package transcribe turns one model turn's audio into text.
package transcribe

import (
	"context"
	"errors"
	"strings"
)

var ErrEmptyAudio = errors.New("no audio to transcribe")

// Gateway is a speech-to-text backend.
type Gateway interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
	Name() string
}

// Mock returns a fixed transcript, or the next queued one.
type Mock struct {
	Text  string
	Queue []string
	Err   error
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) Transcribe(_ context.Context, audio []byte, _ string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}
	if len(m.Queue) > 0 {
		text := m.Queue[0]
		m.Queue = m.Queue[1:]
		return text, nil
	}
	return m.Text, nil
}

func cleanTranscript(s string) string {
	return strings.TrimSpace(s)
}
