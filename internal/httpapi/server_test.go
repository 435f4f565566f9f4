package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/ridecheck/internal/analysis"
	"github.com/ent0n29/ridecheck/internal/config"
	"github.com/ent0n29/ridecheck/internal/observability"
	"github.com/ent0n29/ridecheck/internal/protocol"
	"github.com/ent0n29/ridecheck/internal/session"
	"github.com/ent0n29/ridecheck/internal/storage"
	"github.com/ent0n29/ridecheck/internal/transcripts"
)

// echoOrchestrator reports connected and answers every inbound message with a
// transcription naming its type.
type echoOrchestrator struct{}

func (echoOrchestrator) RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error {
	outbound <- protocol.Status{Type: protocol.TypeStatus, SessionID: s.ID, Status: "connected"}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			t, _ := messageTypeOf(msg)
			outbound <- protocol.Transcription{Type: protocol.TypeTranscription, SessionID: s.ID, Text: string(t)}
		}
	}
}

type stubAnalyzer struct {
	mu         sync.Mutex
	report     analysis.Report
	err        error
	transcript string
}

func (a *stubAnalyzer) set(report analysis.Report, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.report, a.err = report, err
}

func (a *stubAnalyzer) lastTranscript() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.transcript
}

func (a *stubAnalyzer) AnalyzeVehicle(_ context.Context, vehicleID string) (analysis.Report, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return analysis.Report{}, a.err
	}
	r := a.report
	r.VehicleID = vehicleID
	return r, nil
}

func (a *stubAnalyzer) Summarize(_ context.Context, vehicleID, transcript string) (analysis.Summary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.transcript = transcript
	if strings.TrimSpace(transcript) == "" {
		return analysis.Summary{}, analysis.ErrEmptyTranscript
	}
	var out analysis.Summary
	out.Details.Vehicle.VehicleID = vehicleID
	return out, nil
}

type testServer struct {
	ts          *httptest.Server
	sessions    *session.Manager
	media       *storage.Memory
	transcripts *transcripts.InMemoryStore
	analyzer    *stubAnalyzer
}

func newTestServer(t *testing.T, cfg config.Config) *testServer {
	t.Helper()
	if cfg.SessionInactivityTimeout == 0 {
		cfg.SessionInactivityTimeout = 2 * time.Minute
	}
	h := &testServer{
		sessions:    session.NewManager(cfg.SessionInactivityTimeout),
		media:       storage.NewMemory("https://media.test"),
		transcripts: transcripts.NewInMemoryStore(),
		analyzer:    &stubAnalyzer{},
	}
	srv := New(cfg, Deps{
		Sessions:     h.sessions,
		Orchestrator: echoOrchestrator{},
		Metrics:      observability.NewMetrics("test_httpapi"),
		Media:        h.media,
		Transcripts:  h.transcripts,
		Analyzer:     h.analyzer,
	})
	h.ts = httptest.NewServer(srv.Router())
	t.Cleanup(h.ts.Close)
	return h
}

func (h *testServer) createSession(t *testing.T, vehicleID string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"vehicle_id": vehicleID})
	res, err := http.Post(h.ts.URL+"/v1/inspections", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create session request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	var created session.CreateResponse
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.SessionID == "" || created.VehicleID != vehicleID {
		t.Fatalf("create response = %+v", created)
	}
	return created.SessionID
}

func TestCreateAndEndSession(t *testing.T) {
	h := newTestServer(t, config.Config{})
	sessionID := h.createSession(t, "KA01AB1234")

	endRes, err := http.Post(h.ts.URL+"/v1/inspections/"+sessionID+"/end", "application/json", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("end session request error = %v", err)
	}
	defer endRes.Body.Close()
	if endRes.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d, want %d", endRes.StatusCode, http.StatusOK)
	}
	sess, err := h.sessions.Get(sessionID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if sess.Status != session.StatusEnded {
		t.Fatalf("status = %q, want ended", sess.Status)
	}

	missing, err := http.Post(h.ts.URL+"/v1/inspections/nope/end", "application/json", nil)
	if err != nil {
		t.Fatalf("end unknown session error = %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown end status = %d, want %d", missing.StatusCode, http.StatusNotFound)
	}
}

func TestCreateSessionRejectsBadVehicleID(t *testing.T) {
	h := newTestServer(t, config.Config{})
	for _, body := range []string{"", `{}`, `{"vehicle_id":"../etc"}`, `{"vehicle_id":`} {
		res, err := http.Post(h.ts.URL+"/v1/inspections", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("create request error = %v", err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %q status = %d, want %d", body, res.StatusCode, http.StatusBadRequest)
		}
	}
}

func TestCreateSessionErrorCodes(t *testing.T) {
	h := newTestServer(t, config.Config{})
	cases := map[string]string{
		"   ":              "missing_vehicle_id",
		`{"vehicle_id":`:   "invalid_request",
		`{"vehicle_id":1}`: "invalid_request",
	}
	for body, want := range cases {
		res, err := http.Post(h.ts.URL+"/v1/inspections", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("create request error = %v", err)
		}
		var payload struct {
			Code string `json:"code"`
		}
		err = json.NewDecoder(res.Body).Decode(&payload)
		res.Body.Close()
		if err != nil {
			t.Fatalf("decode error response: %v", err)
		}
		if res.StatusCode != http.StatusBadRequest || payload.Code != want {
			t.Fatalf("body %q = %d %q, want 400 %q", body, res.StatusCode, payload.Code, want)
		}
	}
}

func TestChecklist(t *testing.T) {
	h := newTestServer(t, config.Config{})
	res, err := http.Get(h.ts.URL + "/v1/checklist")
	if err != nil {
		t.Fatalf("GET /v1/checklist error = %v", err)
	}
	defer res.Body.Close()
	var payload struct {
		Total       int `json:"total"`
		Checkpoints []struct {
			Section string `json:"section"`
			Part    string `json:"part"`
		} `json:"checkpoints"`
		Labels []string `json:"labels"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Total == 0 || payload.Total != len(payload.Checkpoints) {
		t.Fatalf("total = %d, checkpoints = %d", payload.Total, len(payload.Checkpoints))
	}
	if payload.Checkpoints[0].Section != "Exterior" || payload.Checkpoints[0].Part != "Front Tyre" {
		t.Fatalf("first checkpoint = %+v", payload.Checkpoints[0])
	}
	if len(payload.Labels) == 0 {
		t.Fatalf("missing labels")
	}
}

func TestUploadVideo(t *testing.T) {
	h := newTestServer(t, config.Config{})
	req, _ := http.NewRequest(http.MethodPost, h.ts.URL+"/v1/vehicles/KA01AB1234/videos?name=walk%20around", bytes.NewReader([]byte("video-bytes")))
	req.Header.Set("Content-Type", "video/webm")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	var payload map[string]any
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["key"] != "KA01AB1234/videos/walk_around.webm" {
		t.Fatalf("key = %v", payload["key"])
	}
	obj, err := h.media.Get(context.Background(), "KA01AB1234/videos/walk_around.webm")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(obj.Body) != "video-bytes" || obj.ContentType != "video/webm" {
		t.Fatalf("stored object = %+v", obj)
	}

	empty, err := http.Post(h.ts.URL+"/v1/vehicles/KA01AB1234/videos", "video/mp4", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("empty upload error = %v", err)
	}
	empty.Body.Close()
	if empty.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty upload status = %d, want %d", empty.StatusCode, http.StatusBadRequest)
	}
}

func TestAnalysisMapsMissingImages(t *testing.T) {
	h := newTestServer(t, config.Config{})
	h.analyzer.set(analysis.Report{}, analysis.ErrNoImages)
	res, err := http.Get(h.ts.URL + "/v1/vehicles/KA01AB1234/analysis")
	if err != nil {
		t.Fatalf("GET analysis error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}

	h.analyzer.set(analysis.Report{}, errors.New("quota"))
	res, err = http.Get(h.ts.URL + "/v1/vehicles/KA01AB1234/analysis")
	if err != nil {
		t.Fatalf("GET analysis error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadGateway)
	}

	h.analyzer.set(analysis.Report{Defects: []analysis.Defect{{Description: "Cracked mirror", Type: "right_mirror"}}}, nil)
	res, err = http.Get(h.ts.URL + "/v1/vehicles/KA01AB1234/analysis")
	if err != nil {
		t.Fatalf("GET analysis error = %v", err)
	}
	defer res.Body.Close()
	var report analysis.Report
	if err := json.NewDecoder(res.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.VehicleID != "KA01AB1234" || len(report.Defects) != 1 {
		t.Fatalf("report = %+v", report)
	}
}

func TestSummaryUsesStoredTranscripts(t *testing.T) {
	h := newTestServer(t, config.Config{})
	ctx := context.Background()
	for _, line := range []string{"Front tyre looks fine.", "Inspection completed, thank you."} {
		if err := h.transcripts.Save(ctx, transcripts.NewRecord("KA01AB1234", "s1", transcripts.RoleModel, line)); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	res, err := http.Post(h.ts.URL+"/v1/vehicles/KA01AB1234/summary", "application/json", nil)
	if err != nil {
		t.Fatalf("POST summary error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if got := h.analyzer.lastTranscript(); got != "Front tyre looks fine.\nInspection completed, thank you." {
		t.Fatalf("transcript = %q", got)
	}

	res, err = http.Post(h.ts.URL+"/v1/vehicles/KA01AB1234/summary", "application/json", strings.NewReader(`{"transcript":"Mirror cracked."}`))
	if err != nil {
		t.Fatalf("POST summary error = %v", err)
	}
	res.Body.Close()
	if got := h.analyzer.lastTranscript(); res.StatusCode != http.StatusOK || got != "Mirror cracked." {
		t.Fatalf("body transcript: status = %d, transcript = %q", res.StatusCode, got)
	}

	res, err = http.Post(h.ts.URL+"/v1/vehicles/UNKNOWN/summary", "application/json", nil)
	if err != nil {
		t.Fatalf("POST summary error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("empty transcript status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestListTranscripts(t *testing.T) {
	h := newTestServer(t, config.Config{})
	if err := h.transcripts.Save(context.Background(), transcripts.NewRecord("KA01AB1234", "s1", transcripts.RoleUser, "rear tyre")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	res, err := http.Get(h.ts.URL + "/v1/vehicles/KA01AB1234/transcripts")
	if err != nil {
		t.Fatalf("GET transcripts error = %v", err)
	}
	defer res.Body.Close()
	var payload struct {
		Transcripts []transcripts.Record `json:"transcripts"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Transcripts) != 1 || payload.Transcripts[0].Content != "rear tyre" {
		t.Fatalf("transcripts = %+v", payload.Transcripts)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestServer(t, config.Config{})
	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/v1/perf/latency"} {
		res, err := http.Get(h.ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want %d", path, res.StatusCode, http.StatusOK)
		}
	}
}

func wsURL(ts *httptest.Server, sessionID string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/inspections/ws?session_id=" + sessionID
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev map[string]any
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return ev
}

func TestSessionWebsocketRoundTrip(t *testing.T) {
	h := newTestServer(t, config.Config{})
	sessionID := h.createSession(t, "KA01AB1234")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(h.ts, sessionID), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if ev := readEvent(t, conn); ev["type"] != "status" || ev["status"] != "connected" {
		t.Fatalf("first event = %+v", ev)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"client_control","session_id":"`+sessionID+`","action":"dance"}`)); err != nil {
		t.Fatalf("write invalid control: %v", err)
	}
	if ev := readEvent(t, conn); ev["type"] != "error_event" || ev["code"] != "invalid_client_message" {
		t.Fatalf("invalid message event = %+v", ev)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"client_user_turn","session_id":"`+sessionID+`","text":"front tyre is fine"}`)); err != nil {
		t.Fatalf("write user turn: %v", err)
	}
	if ev := readEvent(t, conn); ev["type"] != "transcription" || ev["text"] != "client_user_turn" {
		t.Fatalf("echo event = %+v", ev)
	}
}

func TestSessionWebsocketRejectsUnknownAndEnded(t *testing.T) {
	h := newTestServer(t, config.Config{})

	_, res, err := websocket.DefaultDialer.Dial(wsURL(h.ts, "missing"), nil)
	if err == nil {
		t.Fatalf("expected dial error for unknown session")
	}
	if res == nil || res.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown session response = %v", res)
	}

	sessionID := h.createSession(t, "KA01AB1234")
	if _, err := h.sessions.End(sessionID); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	_, res, err = websocket.DefaultDialer.Dial(wsURL(h.ts, sessionID), nil)
	if err == nil {
		t.Fatalf("expected dial error for ended session")
	}
	if res == nil || res.StatusCode != http.StatusGone {
		t.Fatalf("ended session response = %v", res)
	}
}

func TestSessionWebsocketChecksOrigin(t *testing.T) {
	h := newTestServer(t, config.Config{})
	sessionID := h.createSession(t, "KA01AB1234")

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, res, err := websocket.DefaultDialer.Dial(wsURL(h.ts, sessionID), header)
	if err == nil {
		t.Fatalf("expected cross-origin dial to fail")
	}
	if res == nil || res.StatusCode != http.StatusForbidden {
		t.Fatalf("cross-origin response = %v", res)
	}

	open := newTestServer(t, config.Config{AllowAnyOrigin: true})
	openID := open.createSession(t, "KA01AB1234")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(open.ts, openID), header)
	if err != nil {
		t.Fatalf("Dial() with AllowAnyOrigin error = %v", err)
	}
	conn.Close()
}
