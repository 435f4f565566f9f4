package transcribe

import (
	"context"
	"fmt"
	"strings"
)

type Options struct {
	// Provider is auto, gemini, openai or mock.
	Provider      string
	GeminiAPIKey  string
	GeminiModel   string
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
}

// New picks a gateway. In auto mode Gemini is preferred, with Whisper as the
// failover when both keys are present, and the mock when neither is.
func New(ctx context.Context, opts Options) (Gateway, error) {
	hasGemini := strings.TrimSpace(opts.GeminiAPIKey) != ""
	hasOpenAI := strings.TrimSpace(opts.OpenAIAPIKey) != ""
	whisper := func() Gateway {
		return NewWhisper(WhisperConfig{APIKey: opts.OpenAIAPIKey, Model: opts.OpenAIModel, BaseURL: opts.OpenAIBaseURL})
	}

	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case "", "auto":
		switch {
		case hasGemini && hasOpenAI:
			g, err := NewGemini(ctx, GeminiConfig{APIKey: opts.GeminiAPIKey, Model: opts.GeminiModel})
			if err != nil {
				return nil, err
			}
			return NewFailover(g, whisper()), nil
		case hasGemini:
			return NewGemini(ctx, GeminiConfig{APIKey: opts.GeminiAPIKey, Model: opts.GeminiModel})
		case hasOpenAI:
			return whisper(), nil
		default:
			return &Mock{}, nil
		}
	case "gemini":
		if !hasGemini {
			return nil, fmt.Errorf("TRANSCRIBE_PROVIDER=gemini requires GEMINI_API_KEY")
		}
		return NewGemini(ctx, GeminiConfig{APIKey: opts.GeminiAPIKey, Model: opts.GeminiModel})
	case "openai":
		if !hasOpenAI {
			return nil, fmt.Errorf("TRANSCRIBE_PROVIDER=openai requires OPENAI_API_KEY")
		}
		return whisper(), nil
	case "mock":
		return &Mock{}, nil
	default:
		return nil, fmt.Errorf("unsupported transcription provider %q", opts.Provider)
	}
}
