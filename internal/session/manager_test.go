package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("KA01")
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.VehicleID != "KA01" || got.Status != StatusActive || got.Connection != ConnectionDisconnected {
		t.Fatalf("unexpected session state: %+v", got)
	}

	ended, err := m.End(s.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("ended status = %q, want %q", ended.Status, StatusEnded)
	}
	if _, err := m.ActiveForVehicle("KA01"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ActiveForVehicle() error = %v, want ErrNotFound", err)
	}
}

func TestManagerUnknownSession(t *testing.T) {
	m := NewManager(time.Minute)
	if _, err := m.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
	if err := m.RecordStep("nope", 1, 2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("RecordStep() error = %v, want ErrNotFound", err)
	}
}

func TestManagerCreateReplacesActiveInspectionOfVehicle(t *testing.T) {
	m := NewManager(time.Minute)
	first := m.Create("KA01")
	second := m.Create("KA01")

	old, _ := m.Get(first.ID)
	if old.Status != StatusEnded {
		t.Fatalf("first status = %q, want ended", old.Status)
	}
	active, err := m.ActiveForVehicle("KA01")
	if err != nil || active.ID != second.ID {
		t.Fatalf("ActiveForVehicle() = %+v, %v", active, err)
	}
	if m.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", m.ActiveCount())
	}
}

func TestManagerTracksProgress(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("KA01")

	for _, st := range []ConnectionStatus{ConnectionConnecting, ConnectionConnected, ConnectionDisconnected, ConnectionConnecting, ConnectionConnected} {
		if err := m.SetConnection(s.ID, st); err != nil {
			t.Fatalf("SetConnection() error = %v", err)
		}
	}
	if err := m.RecordStep(s.ID, 1, 3); err != nil {
		t.Fatalf("RecordStep() error = %v", err)
	}
	if err := m.RecordCapture(s.ID, "front_tyre"); err != nil {
		t.Fatalf("RecordCapture() error = %v", err)
	}

	got, _ := m.Get(s.ID)
	if got.Connection != ConnectionConnected || got.ReconnectCount != 1 {
		t.Fatalf("connection = %q reconnects = %d", got.Connection, got.ReconnectCount)
	}
	if got.CheckpointIndex != 1 || got.CheckpointTotal != 3 {
		t.Fatalf("checkpoint = %d/%d, want 1/3", got.CheckpointIndex, got.CheckpointTotal)
	}
	if len(got.CapturedLabels) != 1 || got.CapturedLabels[0] != "front_tyre" {
		t.Fatalf("CapturedLabels = %v", got.CapturedLabels)
	}

	got.CapturedLabels[0] = "mutated"
	again, _ := m.Get(s.ID)
	if again.CapturedLabels[0] != "front_tyre" {
		t.Fatalf("Get() leaked internal slice")
	}

	if err := m.MarkCompleted(s.ID); err != nil {
		t.Fatalf("MarkCompleted() error = %v", err)
	}
	done, _ := m.Get(s.ID)
	if !done.Completed || done.CheckpointIndex != 3 {
		t.Fatalf("completed session = %+v", done)
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	s := m.Create("KA01")
	expired := make(chan string, 1)
	m.SetExpireHook(func(s *Session) { expired <- s.ID })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case id := <-expired:
		if id != s.ID {
			t.Fatalf("expired %q, want %q", id, s.ID)
		}
	case <-time.After(time.Second):
		t.Fatalf("janitor did not expire session")
	}
	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusEnded {
		t.Fatalf("Status = %q, want %q", got.Status, StatusEnded)
	}
}
