package session

import "time"

// CreateRequest defines payload for starting an inspection.
type CreateRequest struct {
	VehicleID string `json:"vehicle_id"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string    `json:"session_id"`
	VehicleID       string    `json:"vehicle_id"`
	Status          Status    `json:"status"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}
