// Package transcripts stores what the model and the inspector said during
// each inspection.
package transcripts

import (
	"context"
	"strings"
	"time"

	"github.com/ent0n29/ridecheck/internal/policy"
)

const (
	RoleModel = "model"
	RoleUser  = "user"
)

// Record is a single transcribed turn.
type Record struct {
	ID          string    `json:"id"`
	VehicleID   string    `json:"vehicle_id"`
	SessionID   string    `json:"session_id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewRecord builds a record with PII masked out of content.
func NewRecord(vehicleID, sessionID, role, content string) Record {
	redacted, changed := policy.RedactPII(content)
	return Record{
		VehicleID:   vehicleID,
		SessionID:   sessionID,
		Role:        role,
		Content:     redacted,
		PIIRedacted: changed,
	}
}

// Store persists and retrieves transcripts.
type Store interface {
	Save(ctx context.Context, record Record) error
	ListByVehicle(ctx context.Context, vehicleID string, limit int) ([]Record, error)
	Close() error
}

// Join renders records as one chronological transcript.
func Join(records []Record) string {
	parts := make([]string, 0, len(records))
	for _, r := range records {
		if c := strings.TrimSpace(r.Content); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, "\n")
}
