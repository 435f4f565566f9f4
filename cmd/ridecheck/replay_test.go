package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/ridecheck/internal/audio"
	"github.com/ent0n29/ridecheck/internal/config"
	"github.com/ent0n29/ridecheck/internal/httpapi"
	"github.com/ent0n29/ridecheck/internal/protocol"
	"github.com/ent0n29/ridecheck/internal/session"
)

// scriptedInspector walks a three-step checklist, one step per typed answer.
type scriptedInspector struct {
	total int
}

func (s scriptedInspector) RunConnection(ctx context.Context, sess *session.Session, inbound <-chan any, outbound chan<- any) error {
	outbound <- protocol.Status{Type: protocol.TypeStatus, SessionID: sess.ID, Status: "connected"}
	outbound <- protocol.InspectionStep{Type: protocol.TypeInspectionStep, SessionID: sess.ID, Part: "Front Tyre", Index: 0, Total: s.total}
	index := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			if _, isTurn := msg.(protocol.ClientUserTurn); !isTurn {
				continue
			}
			index++
			if index >= s.total {
				outbound <- protocol.InspectionComplete{Type: protocol.TypeInspectionComplete, SessionID: sess.ID, Total: s.total}
				continue
			}
			outbound <- protocol.InspectionStep{Type: protocol.TypeInspectionStep, SessionID: sess.ID, Part: "Part", Index: index, Total: s.total}
		}
	}
}

func TestRunReplayWalksUntilComplete(t *testing.T) {
	sessions := session.NewManager(time.Minute)
	srv := httpapi.New(config.Config{}, httpapi.Deps{
		Sessions:     sessions,
		Orchestrator: scriptedInspector{total: 3},
	})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var out bytes.Buffer
	err := runReplay(context.Background(), &out, replayOptions{
		baseURL:      ts.URL,
		vehicleID:    "KA01AB1234",
		answers:      []string{"looks fine"},
		chunkMS:      40,
		realtime:     1,
		stepTimeout:  2 * time.Second,
		fetchLatency: true,
	})
	if err != nil {
		t.Fatalf("runReplay() error = %v", err)
	}
	if !strings.Contains(out.String(), "answers=3") {
		t.Fatalf("output = %q, want answers=3", out.String())
	}
	if !strings.Contains(out.String(), "window_size") && !strings.Contains(out.String(), "stages") {
		t.Fatalf("output missing latency snapshot: %q", out.String())
	}
}

func TestRunReplayStopsAfterTurns(t *testing.T) {
	srv := httpapi.New(config.Config{}, httpapi.Deps{Orchestrator: scriptedInspector{total: 10}})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var out bytes.Buffer
	err := runReplay(context.Background(), &out, replayOptions{
		baseURL:     ts.URL,
		vehicleID:   "KA01AB1234",
		answers:     defaultAnswers,
		turns:       2,
		chunkMS:     40,
		realtime:    1,
		stepTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("runReplay() error = %v", err)
	}
	if !strings.Contains(out.String(), "answers=2") {
		t.Fatalf("output = %q, want answers=2", out.String())
	}
}

func TestLoadPCMClip(t *testing.T) {
	pcm := []byte{0x00, 0x00, 0xE8, 0x03, 0x18, 0xFC}
	f := audio.Format{Channels: 1, SampleRate: 16000, BitsPerSample: 16}
	wav, err := audio.EncodeWAV([]string{base64.StdEncoding.EncodeToString(pcm)}, f)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	path := filepath.Join(t.TempDir(), "answer.wav")
	if err := os.WriteFile(path, wav, 0o600); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	clip, err := loadPCMClip(path)
	if err != nil {
		t.Fatalf("loadPCMClip() error = %v", err)
	}
	if clip.format != f || !bytes.Equal(clip.pcm, pcm) {
		t.Fatalf("clip = %+v", clip)
	}
}

func TestWSURLForSession(t *testing.T) {
	got, err := wsURLForSession("https://inspect.example/base/", "abc")
	if err != nil {
		t.Fatalf("wsURLForSession() error = %v", err)
	}
	if got != "wss://inspect.example/base/v1/inspections/ws?session_id=abc" {
		t.Fatalf("url = %q", got)
	}
	if _, err := wsURLForSession("ftp://inspect.example", "abc"); err == nil {
		t.Fatalf("expected scheme error")
	}
}

func TestSummarizeLatencies(t *testing.T) {
	got := summarizeLatencies([]time.Duration{30 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond})
	if got != "replay: answers=3 min=10ms p50=20ms p95=30ms max=30ms" {
		t.Fatalf("summary = %q", got)
	}
	if got := summarizeLatencies(nil); got != "replay: no answered steps" {
		t.Fatalf("empty summary = %q", got)
	}
}
