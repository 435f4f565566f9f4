// Package analysis runs post-inspection model passes over stored images and
// transcripts.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/ent0n29/ridecheck/internal/inspection"
	"github.com/ent0n29/ridecheck/internal/logging"
	"github.com/ent0n29/ridecheck/internal/media"
	"github.com/ent0n29/ridecheck/internal/storage"
)

const (
	DefaultAnalysisModel = "gemini-2.5-pro"
	DefaultSummaryModel  = "models/gemini-2.0-flash-exp"
)

var (
	ErrEmptyTranscript = errors.New("no transcript to summarize")
	ErrNoImages        = errors.New("no captured images for vehicle")
)

// ContentGenerator is the slice of genai.Models used here.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type Defect struct {
	Description string      `json:"description"`
	BoundingBox BoundingBox `json:"boundingBox"`
	Type        string      `json:"Type"`
}

type Report struct {
	VehicleID string   `json:"vehicle_id"`
	Defects   []Defect `json:"defects"`
	// Missing lists labels that had no stored image.
	Missing []string `json:"missing,omitempty"`
}

type Config struct {
	AnalysisModel string
	SummaryModel  string
	Labels        []string
	Logger        *zap.Logger
}

// Analyzer looks for defects in captured images and summarises transcripts.
type Analyzer struct {
	models ContentGenerator
	store  storage.Store
	cfg    Config
	log    *zap.Logger
}

func New(ctx context.Context, apiKey string, store storage.Store, cfg Config) (*Analyzer, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return NewWithGenerator(client.Models, store, cfg), nil
}

func NewWithGenerator(models ContentGenerator, store storage.Store, cfg Config) *Analyzer {
	if strings.TrimSpace(cfg.AnalysisModel) == "" {
		cfg.AnalysisModel = DefaultAnalysisModel
	}
	if strings.TrimSpace(cfg.SummaryModel) == "" {
		cfg.SummaryModel = DefaultSummaryModel
	}
	if len(cfg.Labels) == 0 {
		cfg.Labels = inspection.DefaultLabels
	}
	return &Analyzer{
		models: models,
		store:  store,
		cfg:    cfg,
		log:    logging.OrNop(cfg.Logger).With(zap.String("component", "analysis")),
	}
}

// AnalyzeVehicle sends every stored capture for the vehicle, each preceded by
// its label, and returns the defects the model reports. Missing captures are
// skipped; if none exist ErrNoImages is returned.
func (a *Analyzer) AnalyzeVehicle(ctx context.Context, vehicleID string) (Report, error) {
	report := Report{VehicleID: vehicleID}
	parts := []*genai.Part{genai.NewPartFromText(defectPrompt)}
	found := 0
	for _, label := range a.cfg.Labels {
		obj, err := a.store.Get(ctx, storage.ImageKey(vehicleID, label, media.MimeJPEG))
		if errors.Is(err, storage.ErrNotFound) {
			report.Missing = append(report.Missing, label)
			continue
		}
		if err != nil {
			return Report{}, fmt.Errorf("fetch %s image: %w", label, err)
		}
		mimeType := obj.ContentType
		if mimeType == "" {
			mimeType = media.MimeJPEG
		}
		parts = append(parts,
			genai.NewPartFromText("Type: "+label),
			genai.NewPartFromBytes(obj.Body, mimeType),
		)
		found++
	}
	if found == 0 {
		return Report{}, ErrNoImages
	}
	if len(report.Missing) > 0 {
		a.log.Warn("analysing with missing captures", zap.String("vehicle_id", vehicleID), zap.Strings("missing", report.Missing))
	}

	resp, err := a.models.GenerateContent(ctx, a.cfg.AnalysisModel, []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}, nil)
	if err != nil {
		return Report{}, fmt.Errorf("analyze vehicle images: %w", err)
	}

	var decoded struct {
		Defects []Defect `json:"defects"`
	}
	if err := sonic.UnmarshalString(stripFences(resp.Text()), &decoded); err != nil {
		return Report{}, fmt.Errorf("decode defect report: %w", err)
	}
	report.Defects = decoded.Defects
	if report.Defects == nil {
		report.Defects = []Defect{}
	}
	return report, nil
}

type VehicleDetails struct {
	VehicleID string `json:"vehicleId"`
	Make      string `json:"make"`
	Model     string `json:"model"`
	Year      any    `json:"year"`
	Color     string `json:"color"`
}

type InspectionDetails struct {
	StartTime string  `json:"inspectionStartTime"`
	EndTime   *string `json:"inspectionEndTime"`
	Status    string  `json:"status"`
	Summary   string  `json:"summary"`
}

type VehicleCondition struct {
	Front          string            `json:"front"`
	Back           string            `json:"back"`
	Right          string            `json:"right"`
	Lights         string            `json:"lights"`
	Odometer       string            `json:"odometer"`
	Extras         map[string]string `json:"extras"`
	Recommendation []string          `json:"recommendation"`
}

// Summary is the structured inspection report derived from a transcript.
type Summary struct {
	Details struct {
		Vehicle    VehicleDetails    `json:"vehicle"`
		Inspection InspectionDetails `json:"inspection"`
	} `json:"details"`
	Condition struct {
		VehicleCondition    VehicleCondition `json:"vehicleCondition"`
		InspectionCondition struct {
			InspectionCompleted bool `json:"inspectionCompleted"`
		} `json:"inspectionCondition"`
	} `json:"condition"`
}

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

// Summarize asks the model for a structured summary. The completion status is
// decided from the transcript itself, not trusted from the model.
func (a *Analyzer) Summarize(ctx context.Context, vehicleID, transcript string) (Summary, error) {
	if strings.TrimSpace(transcript) == "" {
		return Summary{}, ErrEmptyTranscript
	}
	resp, err := a.models.GenerateContent(ctx, a.cfg.SummaryModel, []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(transcript),
			genai.NewPartFromText(fmt.Sprintf(summaryPrompt, vehicleID)),
		}, genai.RoleUser),
	}, nil)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize transcript: %w", err)
	}

	var out Summary
	if err := sonic.UnmarshalString(stripFences(resp.Text()), &out); err != nil {
		return Summary{}, fmt.Errorf("decode summary: %w", err)
	}
	out.Details.Vehicle.VehicleID = vehicleID
	completed := Completed(transcript)
	out.Condition.InspectionCondition.InspectionCompleted = completed
	if completed {
		out.Details.Inspection.Status = StatusCompleted
	} else {
		out.Details.Inspection.Status = StatusPending
	}
	return out, nil
}

// Completed reports whether the transcript records the end of the inspection.
func Completed(transcript string) bool {
	return inspection.NewKeywordClassifier().Classify(transcript).Kind == inspection.KindComplete
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[i+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
