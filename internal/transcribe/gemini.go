package transcribe

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const (
	DefaultGeminiModel = "models/gemini-2.0-flash-exp"

	transcriptionPrompt = "Please transcribe the spoken language in this audio accurately. Ignore any background noise or non-speech sounds."
)

// ContentGenerator is the slice of genai.Models used here.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

// Gemini transcribes with a generate-content call carrying the audio inline.
type Gemini struct {
	models ContentGenerator
	model  string
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return NewGeminiWithGenerator(client.Models, cfg.Model), nil
}

func NewGeminiWithGenerator(models ContentGenerator, model string) *Gemini {
	if strings.TrimSpace(model) == "" {
		model = DefaultGeminiModel
	}
	return &Gemini{models: models, model: model}
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}
	if mimeType == "" {
		mimeType = "audio/wav"
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(audio, mimeType),
			genai.NewPartFromText(transcriptionPrompt),
		}, genai.RoleUser),
	}
	resp, err := g.models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gemini transcription: %w", err)
	}
	return cleanTranscript(resp.Text()), nil
}
