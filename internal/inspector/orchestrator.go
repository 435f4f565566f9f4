// Package inspector runs one browser inspection connection end to end.
package inspector

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ent0n29/ridecheck/internal/audio"
	"github.com/ent0n29/ridecheck/internal/inspection"
	"github.com/ent0n29/ridecheck/internal/live"
	"github.com/ent0n29/ridecheck/internal/logging"
	"github.com/ent0n29/ridecheck/internal/media"
	"github.com/ent0n29/ridecheck/internal/observability"
	"github.com/ent0n29/ridecheck/internal/playback"
	"github.com/ent0n29/ridecheck/internal/protocol"
	"github.com/ent0n29/ridecheck/internal/session"
	"github.com/ent0n29/ridecheck/internal/storage"
	"github.com/ent0n29/ridecheck/internal/transcribe"
	"github.com/ent0n29/ridecheck/internal/transcripts"
)

const (
	transcriptSaveTimeout = 2 * time.Second
	uploadTimeout         = 20 * time.Second
	criticalSendTimeout   = 600 * time.Millisecond
	turnQueueSize         = 16
	upstreamQueueSize     = 256
	defaultPlaybackLead   = 120 * time.Millisecond
)

type Config struct {
	// Live is the template for every per-connection upstream client.
	// SystemInstruction and Tools are filled in when empty.
	Live         live.Config
	Checkpoints  []inspection.Checkpoint
	Guide        string
	Labels       []string
	Classifier   inspection.Classifier
	Transcriber  transcribe.Gateway
	Media        storage.Store
	Transcripts  transcripts.Store
	Sessions     *session.Manager
	Metrics      *observability.Metrics
	Logger       *zap.Logger
	PlaybackLead time.Duration
	// RedirectPath is formatted with the vehicle id for the finalize event.
	RedirectPath string
}

// Orchestrator bridges browser sockets and Gemini Live sessions. It holds no
// per-connection state; every RunConnection builds its own.
type Orchestrator struct {
	cfg Config
	log *zap.Logger
}

func New(cfg Config) *Orchestrator {
	if len(cfg.Checkpoints) == 0 {
		cfg.Checkpoints = inspection.DefaultTree().Flatten()
	}
	if strings.TrimSpace(cfg.Guide) == "" {
		cfg.Guide = inspection.DefaultGuide
	}
	if len(cfg.Labels) == 0 {
		cfg.Labels = inspection.DefaultLabels
	}
	if cfg.Classifier == nil {
		cfg.Classifier = inspection.NewKeywordClassifier()
	}
	if cfg.Transcriber == nil {
		cfg.Transcriber = &transcribe.Mock{}
	}
	if cfg.Media == nil {
		cfg.Media = storage.NewMemory("")
	}
	if cfg.PlaybackLead <= 0 {
		cfg.PlaybackLead = defaultPlaybackLead
	}
	if cfg.Sessions == nil {
		cfg.Sessions = session.NewManager(0)
	}
	if cfg.RedirectPath == "" {
		cfg.RedirectPath = "/vehicles/%s"
	}
	return &Orchestrator{cfg: cfg, log: logging.OrNop(cfg.Logger)}
}

// RunConnection serves one inspection until inbound closes or ctx ends.
func (o *Orchestrator) RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := &conn{
		o:        o,
		ctx:      ctx,
		sess:     s,
		outbound: outbound,
		upstream: make(chan any, upstreamQueueSize),
		turns:    make(chan pendingTurn, turnQueueSize),
		log: o.log.With(
			zap.String("component", "inspector"),
			zap.String("session_id", s.ID),
			zap.String("vehicle_id", s.VehicleID),
		),
	}

	liveCfg := o.cfg.Live
	liveCfg.Logger = c.log
	if liveCfg.SystemInstruction == "" {
		liveCfg.SystemInstruction = o.cfg.Guide
	}
	if len(liveCfg.Tools) == 0 {
		liveCfg.Tools = []live.Tool{live.DiagnosticTool(c.log)}
	}
	c.client = live.NewClient(liveCfg, c)
	c.queue = playback.NewQueue(playback.PacedSink{Out: c.playChunk, Lead: o.cfg.PlaybackLead}, c, c.log)
	c.cursor = inspection.NewLabelCursor(o.cfg.Labels, c.log)
	c.engine = inspection.NewEngine(o.cfg.Checkpoints, c.client, inspection.EventFuncs{
		Step:     c.onStep,
		Reply:    c.onReply,
		Complete: c.onComplete,
	})

	o.cfg.Metrics.SessionOpened()
	defer o.cfg.Metrics.SessionClosed()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.transcriptionWorker()
	}()
	defer func() {
		cancel()
		c.client.Disconnect()
		c.queue.Stop()
		close(c.turns)
		c.wg.Wait()
	}()

	c.connectedAt = time.Now()
	// Dial failures reach the browser through OnError; only a missing key
	// ends the connection.
	if err := c.client.Connect(ctx); errors.Is(err, live.ErrMissingAPIKey) {
		c.sendError("missing_api_key", "live", false, err)
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			_ = o.cfg.Sessions.Touch(s.ID)
			c.handleClient(msg)
		case ev := <-c.upstream:
			c.handleUpstream(ev)
		}
	}
}

type pendingTurn struct {
	id    string
	turn  live.Turn
	ended time.Time
}

// Upstream events queued from the live read goroutine to the event loop.
type (
	statusEvent struct{ status live.Status }
	setupEvent  struct{}
	audioEvent  struct{ data, mimeType string }
	textEvent   struct{ text string }
	turnEvent   struct{ turn live.Turn }
	errEvent    struct{ err error }
)

type conn struct {
	o        *Orchestrator
	ctx      context.Context
	sess     *session.Session
	outbound chan<- any
	log      *zap.Logger

	client *live.Client
	queue  *playback.Queue
	engine *inspection.Engine
	cursor *inspection.LabelCursor

	upstream chan any
	turns    chan pendingTurn
	wg       sync.WaitGroup

	// Owned by the event loop.
	connectedAt   time.Time
	everConnected bool
	turnID        string

	audioSeq     atomic.Int64
	finalizeOnce sync.Once
}

func (c *conn) push(ev any) {
	select {
	case c.upstream <- ev:
	case <-c.ctx.Done():
	}
}

func (c *conn) OnStatus(s live.Status)        { c.push(statusEvent{s}) }
func (c *conn) OnSetupComplete()              { c.push(setupEvent{}) }
func (c *conn) OnAudio(data, mimeType string) { c.push(audioEvent{data, mimeType}) }
func (c *conn) OnText(text string)            { c.push(textEvent{text}) }
func (c *conn) OnTurnComplete(t live.Turn)    { c.push(turnEvent{t}) }
func (c *conn) OnError(err error)             { c.push(errEvent{err}) }

func (c *conn) OnSpeaking(v bool) {
	c.send(protocol.Speaking{Type: protocol.TypeSpeaking, SessionID: c.sess.ID, Speaking: v})
}

func (c *conn) OnLevel(v float64) {
	c.send(protocol.AudioLevel{Type: protocol.TypeAudioLevel, SessionID: c.sess.ID, Level: v})
}

func (c *conn) handleUpstream(ev any) {
	metrics := c.o.cfg.Metrics
	switch e := ev.(type) {
	case statusEvent:
		c.handleStatus(e.status)
	case setupEvent:
		metrics.UpstreamFrame("setup_complete")
		metrics.ObserveStage(observability.StageSetupAck, time.Since(c.connectedAt))
		c.goStart()
	case audioEvent:
		metrics.UpstreamFrame("audio")
		if c.turnID == "" {
			c.turnID = newTurnID()
		}
		if err := c.queue.EnqueueFragment(e.data, e.mimeType); err != nil {
			c.log.Warn("dropping undecodable audio part", zap.Error(err))
		}
	case textEvent:
		metrics.UpstreamFrame("text")
		if c.turnID == "" {
			c.turnID = newTurnID()
		}
		c.send(protocol.AssistantTextDelta{
			Type:      protocol.TypeAssistantTextDelta,
			SessionID: c.sess.ID,
			TurnID:    c.turnID,
			TextDelta: e.text,
		})
	case turnEvent:
		metrics.UpstreamFrame("turn_complete")
		id := c.turnID
		if id == "" {
			id = newTurnID()
		}
		c.turnID = ""
		if len(e.turn.Fragments) == 0 {
			return
		}
		select {
		case c.turns <- pendingTurn{id: id, turn: e.turn, ended: time.Now()}:
		default:
			c.log.Warn("transcription backlog full, dropping turn", zap.String("turn_id", id))
			metrics.SessionEvent("turn_dropped")
		}
	case errEvent:
		c.handleUpstreamError(e.err)
	}
}

func (c *conn) handleStatus(s live.Status) {
	sessions := c.o.cfg.Sessions
	switch s {
	case live.StatusConnecting:
		c.connectedAt = time.Now()
		_ = sessions.SetConnection(c.sess.ID, session.ConnectionConnecting)
	case live.StatusConnected:
		if c.everConnected {
			c.o.cfg.Metrics.Reconnect("ok")
		}
		c.everConnected = true
		_ = sessions.SetConnection(c.sess.ID, session.ConnectionConnected)
	case live.StatusDisconnected:
		c.turnID = ""
		c.queue.Stop()
		_ = sessions.SetConnection(c.sess.ID, session.ConnectionDisconnected)
	}
	c.send(protocol.Status{Type: protocol.TypeStatus, SessionID: c.sess.ID, Status: string(s)})
}

func (c *conn) handleUpstreamError(err error) {
	switch {
	case errors.Is(err, live.ErrReconnectExhausted):
		c.o.cfg.Metrics.Reconnect("exhausted")
		c.sendError("reconnect_exhausted", "live", false, err)
	case errors.Is(err, live.ErrMissingAPIKey):
		c.sendError("missing_api_key", "live", false, err)
	default:
		c.o.cfg.Metrics.ProviderError("gemini_live", "upstream")
		c.sendError("upstream_error", "live", true, err)
	}
}

// goStart (re)sends the active checkpoint once the model has acknowledged
// setup, including after a reconnect.
func (c *conn) goStart() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := c.engine.Start(c.ctx)
		switch {
		case err == nil, errors.Is(err, inspection.ErrTurnInProgress):
		case c.ctx.Err() != nil:
		default:
			c.log.Warn("start checkpoint failed", zap.Error(err))
			c.sendError("checkpoint_start_failed", "model", true, err)
		}
	}()
}

func (c *conn) handleClient(msg any) {
	switch m := msg.(type) {
	case protocol.ClientMediaChunk:
		c.forwardMedia(m)
	case protocol.ClientControl:
		c.handleControl(m)
	case protocol.ClientUserTurn:
		c.goUserTurn(m.Text)
	default:
		c.log.Debug("ignoring client message", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (c *conn) forwardMedia(m protocol.ClientMediaChunk) {
	var (
		chunk media.Chunk
		err   error
	)
	switch {
	case strings.HasPrefix(m.MimeType, "image/"):
		chunk, err = media.NormalizeImage(m.Data, m.MimeType)
	case strings.HasPrefix(m.MimeType, "audio/"):
		mimeType := m.MimeType
		if m.SampleRate > 0 && !strings.Contains(mimeType, "rate=") {
			mimeType = fmt.Sprintf("%s;rate=%d", mimeType, m.SampleRate)
		}
		chunk, err = media.NormalizeAudio(m.Data, mimeType)
	default:
		err = fmt.Errorf("unsupported media type %q", m.MimeType)
	}
	if err != nil {
		c.sendError("invalid_media", "client", false, err)
		return
	}
	if err := c.client.SendMediaChunk(chunk.Data, chunk.MimeType); err != nil {
		c.log.Debug("media chunk not delivered", zap.Error(err))
	}
}

func (c *conn) handleControl(m protocol.ClientControl) {
	switch m.Action {
	case protocol.ActionNext, protocol.ActionRepeat, protocol.ActionSkip:
		if err := c.client.SendClientEvent("checkpoint."+m.Action, map[string]any{"index": c.engine.Index()}); err != nil {
			c.sendError("control_failed", "live", true, err)
			return
		}
		_ = c.client.RequestResponse(map[string]any{"reason": m.Action})
	case protocol.ActionPace:
		if err := c.client.SendClientEvent("pace", map[string]any{"mode": m.Mode}); err != nil {
			c.sendError("control_failed", "live", true, err)
		}
	case protocol.ActionStop:
		c.queue.Stop()
		// Disconnect reports status through c.upstream, which only this
		// loop drains.
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.client.Disconnect()
		}()
	case protocol.ActionReconnect:
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.client.Reconnect(c.ctx); err != nil {
				c.log.Warn("manual reconnect failed", zap.Error(err))
			}
		}()
	}
}

func (c *conn) goUserTurn(text string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.saveTranscript(transcripts.RoleUser, text)
		start := time.Now()
		err := c.engine.HandleTurn(c.ctx, text)
		switch {
		case err == nil:
			c.o.cfg.Metrics.ObserveStage(observability.StageModelTurn, time.Since(start))
		case errors.Is(err, inspection.ErrTurnInProgress):
			c.sendError("turn_in_progress", "engine", true, err)
		case errors.Is(err, inspection.ErrInspectionComplete):
			c.sendError("inspection_complete", "engine", false, err)
		case c.ctx.Err() != nil:
		default:
			c.o.cfg.Metrics.ProviderError("gemini_live", "turn")
			c.sendError("model_turn_failed", "model", true, err)
		}
	}()
}

func (c *conn) onStep(step inspection.Step) {
	_ = c.o.cfg.Sessions.RecordStep(c.sess.ID, step.Index, step.Total)
	c.send(protocol.InspectionStep{
		Type:      protocol.TypeInspectionStep,
		SessionID: c.sess.ID,
		Question:  step.Question,
		Section:   step.Section,
		Part:      step.Part,
		Index:     step.Index,
		Total:     step.Total,
	})
}

func (c *conn) onReply(text string) {
	c.log.Debug("checkpoint reply", zap.Int("chars", len(text)))
}

func (c *conn) onComplete() {
	_ = c.o.cfg.Sessions.MarkCompleted(c.sess.ID)
	c.send(protocol.InspectionComplete{
		Type:      protocol.TypeInspectionComplete,
		SessionID: c.sess.ID,
		Total:     c.engine.Total(),
	})
}

// playChunk is the PacedSink output: one assistant audio chunk to the browser.
func (c *conn) playChunk(ctx context.Context, pcm []byte, f audio.Format) error {
	msg := protocol.AssistantAudioChunk{
		Type:        protocol.TypeAssistantAudio,
		SessionID:   c.sess.ID,
		Seq:         int(c.audioSeq.Add(1)),
		Format:      f.String(),
		AudioBase64: base64.StdEncoding.EncodeToString(pcm),
	}
	select {
	case c.outbound <- msg:
		c.o.cfg.Metrics.WSMessage("outbound", string(msg.Type))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newTurnID() string {
	return uuid.NewString()
}
