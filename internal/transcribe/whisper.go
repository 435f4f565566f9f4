package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

type WhisperConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Whisper transcribes through the OpenAI audio transcription endpoint.
type Whisper struct {
	client *openai.Client
	model  string
}

func NewWhisper(cfg WhisperConfig) *Whisper {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = openai.Whisper1
	}
	return &Whisper{client: openai.NewClientWithConfig(clientCfg), model: model}
}

func (w *Whisper) Name() string { return "openai" }

func (w *Whisper) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		Reader:   bytes.NewReader(audio),
		FilePath: "turn." + extension(mimeType),
	})
	if err != nil {
		return "", fmt.Errorf("whisper transcription: %w", err)
	}
	return cleanTranscript(resp.Text), nil
}

func extension(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "wav"):
		return "wav"
	case strings.Contains(mimeType, "mpeg"), strings.Contains(mimeType, "mp3"):
		return "mp3"
	case strings.Contains(mimeType, "webm"):
		return "webm"
	case strings.Contains(mimeType, "ogg"):
		return "ogg"
	default:
		return "wav"
	}
}
