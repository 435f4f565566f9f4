package httpapi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/ridecheck/internal/analysis"
	"github.com/ent0n29/ridecheck/internal/config"
	"github.com/ent0n29/ridecheck/internal/inspection"
	"github.com/ent0n29/ridecheck/internal/logging"
	"github.com/ent0n29/ridecheck/internal/observability"
	"github.com/ent0n29/ridecheck/internal/protocol"
	"github.com/ent0n29/ridecheck/internal/session"
	"github.com/ent0n29/ridecheck/internal/storage"
	"github.com/ent0n29/ridecheck/internal/transcripts"
)

const (
	wsReadLimit      = 4 << 20
	wsReadTimeout    = 120 * time.Second
	wsWriteTimeout   = 10 * time.Second
	maxVideoBytes    = 512 << 20
	transcriptLimit  = 500
	wsQueueSize      = 256
	maxJSONBytes     = 1 << 20
	analysisDeadline = 2 * time.Minute
)

type Orchestrator interface {
	RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error
}

// Analyzer produces the post-inspection reports.
type Analyzer interface {
	AnalyzeVehicle(ctx context.Context, vehicleID string) (analysis.Report, error)
	Summarize(ctx context.Context, vehicleID, transcript string) (analysis.Summary, error)
}

// Deps are the collaborators behind the REST and websocket routes. Nil
// optional fields turn their routes into 501 responses.
type Deps struct {
	Sessions     *session.Manager
	Orchestrator Orchestrator
	Metrics      *observability.Metrics
	Checkpoints  []inspection.Checkpoint
	Labels       []string
	Media        storage.Store
	Transcripts  transcripts.Store
	Analyzer     Analyzer
	Logger       *zap.Logger
}

type Server struct {
	cfg      config.Config
	deps     Deps
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, deps Deps) *Server {
	if deps.Sessions == nil {
		deps.Sessions = session.NewManager(cfg.SessionInactivityTimeout)
	}
	if len(deps.Checkpoints) == 0 {
		deps.Checkpoints = inspection.DefaultTree().Flatten()
	}
	if len(deps.Labels) == 0 {
		deps.Labels = inspection.DefaultLabels
	}
	return &Server{
		cfg:  cfg,
		deps: deps,
		log:  logging.OrNop(deps.Logger).With(zap.String("component", "httpapi")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only the inspection page served from this origin may drive a
				// session with the user's camera and mic.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Post("/v1/inspections", s.handleCreateSession)
	r.Post("/v1/inspections/{id}/end", s.handleEndSession)
	r.Get("/v1/inspections/ws", s.handleSessionWS)
	r.Get("/v1/checklist", s.handleChecklist)

	r.Post("/v1/vehicles/{id}/videos", s.handleUploadVideo)
	r.Get("/v1/vehicles/{id}/analysis", s.handleAnalysis)
	r.Post("/v1/vehicles/{id}/summary", s.handleSummary)
	r.Get("/v1/vehicles/{id}/transcripts", s.handleListTranscripts)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"storage":         s.storageName(),
		"active_sessions": s.deps.Sessions.ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Orchestrator == nil {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "orchestrator not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ready",
		"storage": s.storageName(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.deps.Metrics == nil {
		http.NotFound(w, r)
		return
	}
	s.deps.Metrics.Handler().ServeHTTP(w, r)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "missing_vehicle_id", "vehicle_id is required")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.VehicleID = strings.TrimSpace(req.VehicleID)
	if !storage.ValidVehicleID(req.VehicleID) {
		respondError(w, http.StatusBadRequest, "invalid_vehicle_id", "vehicle_id is required and may not contain path separators")
		return
	}

	sess := s.deps.Sessions.Create(req.VehicleID)
	s.deps.Metrics.SessionEvent("created")
	s.log.Info("inspection created", zap.String("session_id", sess.ID), zap.String("vehicle_id", sess.VehicleID))

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		VehicleID:       sess.VehicleID,
		Status:          sess.Status,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.deps.Sessions.InactivityTimeout().Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.deps.Sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.deps.Metrics.SessionEvent("ended")
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if s.deps.Orchestrator == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "orchestrator not configured")
		return
	}

	sess, err := s.deps.Sessions.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if sess.Status != session.StatusActive {
		respondError(w, http.StatusGone, "session_ended", "inspection session has ended")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.deps.Metrics.SessionEvent("ws_connected")
	log := s.log.With(zap.String("session_id", sess.ID), zap.String("vehicle_id", sess.VehicleID))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, wsQueueSize)
	outbound := make(chan any, wsQueueSize)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		if err := s.deps.Orchestrator.RunConnection(ctx, sess, inbound, outbound); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("inspection connection ended with error", zap.Error(err))
		}
		// Let the writer flush what the run left behind, then stop reading.
		cancel()
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump(ctx, conn, outbound, cancel)
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})
	go func() {
		<-ctx.Done()
		// Unblock ReadMessage once the run is over.
		_ = conn.SetReadDeadline(time.Now())
	}()

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			errEvent := protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			}
			select {
			case outbound <- errEvent:
			default:
				// Keep websocket writes single-threaded; drop if outbound queue is saturated.
				s.deps.Metrics.SessionEvent("outbound_drop")
			}
			continue
		}

		if t, ok := messageTypeOf(parsed); ok {
			s.deps.Metrics.WSMessage("inbound", string(t))
		}
		_ = s.deps.Sessions.Touch(sessionID)
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	close(inbound)
	<-runDone
	cancel()
	<-writerDone
	s.deps.Metrics.SessionEvent("ws_disconnected")
}

// writePump is the only writer on conn. It drains what is already queued
// once ctx ends so the finalize event reaches the browser.
func (s *Server) writePump(ctx context.Context, conn *websocket.Conn, outbound <-chan any, cancel context.CancelFunc) {
	write := func(msg any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		payload, err := protocol.Encode(msg)
		if err != nil {
			s.log.Warn("encode outbound message failed", zap.Error(err))
			return true
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			s.deps.Metrics.SessionEvent("ws_write_error")
			cancel()
			return false
		}
		return true
	}
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case msg := <-outbound:
					if !write(msg) {
						return
					}
				default:
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
						time.Now().Add(time.Second))
					return
				}
			}
		case msg := <-outbound:
			if !write(msg) {
				return
			}
		}
	}
}

func (s *Server) handleChecklist(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"total":       len(s.deps.Checkpoints),
		"checkpoints": s.deps.Checkpoints,
		"labels":      s.deps.Labels,
	})
}

func (s *Server) storageName() string {
	if s.deps.Media == nil {
		return "disabled"
	}
	return s.deps.Media.Name()
}

// vehicleID reads and validates the {id} route parameter.
func vehicleID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if !storage.ValidVehicleID(id) {
		respondError(w, http.StatusBadRequest, "invalid_vehicle_id", "invalid vehicle id")
		return "", false
	}
	return id, true
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBytes))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return errEmptyBody
	}
	return sonic.Unmarshal(body, out)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = sonic.ConfigDefault.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientMediaChunk:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.ClientUserTurn:
		return m.Type, true
	default:
		return "", false
	}
}
