package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// ConnectionStatus mirrors the upstream model link of the session.
type ConnectionStatus string

const (
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionConnecting   ConnectionStatus = "connecting"
	ConnectionConnected    ConnectionStatus = "connected"
)

var ErrNotFound = errors.New("session not found")

type Session struct {
	ID              string           `json:"session_id"`
	VehicleID       string           `json:"vehicle_id"`
	Status          Status           `json:"status"`
	Connection      ConnectionStatus `json:"connection"`
	CheckpointIndex int              `json:"checkpoint_index"`
	CheckpointTotal int              `json:"checkpoint_total"`
	CapturedLabels  []string         `json:"captured_labels"`
	Completed       bool             `json:"completed"`
	ReconnectCount  int              `json:"reconnect_count"`
	StartedAt       time.Time        `json:"started_at"`
	LastActivityAt  time.Time        `json:"last_activity_at"`

	everConnected bool
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	sessionByVehicle  map[string]string
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 10 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		sessionByVehicle:  make(map[string]string),
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) InactivityTimeout() time.Duration { return m.inactivityTimeout }

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Create starts an inspection for vehicleID. A still-active inspection of the
// same vehicle is ended first; one vehicle is inspected by one session.
func (m *Manager) Create(vehicleID string) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		VehicleID:      vehicleID,
		Status:         StatusActive,
		Connection:     ConnectionDisconnected,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.sessionByVehicle[vehicleID]; ok {
		if old := m.sessions[prev]; old != nil && old.Status == StatusActive {
			old.Status = StatusEnded
			old.Connection = ConnectionDisconnected
			old.LastActivityAt = now
		}
	}
	m.sessions[s.ID] = s
	m.sessionByVehicle[vehicleID] = s.ID
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// ActiveForVehicle returns the running inspection of a vehicle.
func (m *Manager) ActiveForVehicle(vehicleID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.sessionByVehicle[vehicleID]
	if !ok {
		return nil, ErrNotFound
	}
	s := m.sessions[id]
	if s == nil || s.Status != StatusActive {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (m *Manager) Touch(sessionID string) error {
	return m.update(sessionID, func(*Session) {})
}

func (m *Manager) SetConnection(sessionID string, status ConnectionStatus) error {
	return m.update(sessionID, func(s *Session) {
		switch {
		case status == ConnectionConnected:
			s.everConnected = true
		case status == ConnectionConnecting && s.everConnected:
			s.ReconnectCount++
		}
		s.Connection = status
	})
}

// RecordStep stores the checkpoint the inspection is now on.
func (m *Manager) RecordStep(sessionID string, index, total int) error {
	return m.update(sessionID, func(s *Session) {
		s.CheckpointIndex = index
		s.CheckpointTotal = total
	})
}

func (m *Manager) RecordCapture(sessionID, label string) error {
	return m.update(sessionID, func(s *Session) {
		s.CapturedLabels = append(s.CapturedLabels, label)
	})
}

func (m *Manager) MarkCompleted(sessionID string) error {
	return m.update(sessionID, func(s *Session) {
		s.Completed = true
		s.CheckpointIndex = s.CheckpointTotal
	})
}

func (m *Manager) update(sessionID string, fn func(*Session)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	fn(s)
	s.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	m.endLocked(s, time.Now().UTC())
	return clone(s), nil
}

func (m *Manager) endLocked(s *Session, now time.Time) {
	s.Status = StatusEnded
	s.Connection = ConnectionDisconnected
	s.LastActivityAt = now
	if m.sessionByVehicle[s.VehicleID] == s.ID {
		delete(m.sessionByVehicle, s.VehicleID)
	}
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for _, s := range m.sessions {
		if s.Status != StatusActive {
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		m.endLocked(s, now)
		expired = append(expired, clone(s))
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	c.CapturedLabels = append([]string(nil), s.CapturedLabels...)
	return &c
}
