// Package live is the client for the Gemini Live bidirectional streaming
// endpoint: one websocket per inspection session carrying camera frames and
// microphone audio up, and streamed model audio, text and tool calls down.
package live

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ent0n29/ridecheck/internal/logging"
	"github.com/ent0n29/ridecheck/internal/media"
	"github.com/ent0n29/ridecheck/internal/reliability"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	DefaultURL            = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1alpha.GenerativeService.BidiGenerateContent"
	DefaultModel          = "models/gemini-2.0-flash-exp"
	DefaultConnectTimeout = 10 * time.Second
	DefaultTurnTimeout    = 45 * time.Second

	closeReasonIntentional = "Intentional disconnect"
)

var (
	ErrMissingAPIKey      = errors.New("gemini api key is not configured")
	ErrNotConnected       = errors.New("live session is not connected")
	ErrTurnTimeout        = errors.New("timed out waiting for model turn")
	ErrReconnectExhausted = errors.New("live reconnect attempts exhausted")
	errUnknownTool        = errors.New("unknown tool")
)

// Status is the tri-state connection indicator surfaced to the browser.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// Turn is one completed model response.
type Turn struct {
	// Fragments are the base64 PCM parts in arrival order.
	Fragments []string
	MimeType  string
	Text      string
}

// Handler receives session events. Calls for one link arrive in frame order
// on that link's read goroutine; handlers must not block for long.
type Handler interface {
	OnStatus(Status)
	OnSetupComplete()
	OnAudio(data, mimeType string)
	OnText(text string)
	OnTurnComplete(Turn)
	OnError(error)
}

// Tool is a function the model may call. Invoke's result is returned to the
// model as response.result.
type Tool struct {
	Declaration FunctionDeclaration
	Invoke      func(ctx context.Context, args map[string]any) (any, error)
}

// DiagnosticTool is the no-argument tool declared on every session.
func DiagnosticTool(log *zap.Logger) Tool {
	log = logging.OrNop(log)
	return Tool{
		Declaration: FunctionDeclaration{
			Name:        "sayHelloWorld",
			Description: "Logs Hello world to the console.",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		},
		Invoke: func(context.Context, map[string]any) (any, error) {
			log.Info("hello world")
			return "ok", nil
		},
	}
}

type Config struct {
	APIKey            string
	URL               string
	Model             string
	SystemInstruction string
	Tools             []Tool
	ConnectTimeout    time.Duration
	TurnTimeout       time.Duration
	Retry             reliability.RetryPolicy
	Clock             reliability.Clock
	Dialer            *websocket.Dialer
	Logger            *zap.Logger
}

// Image is the most recent still frame sent upstream.
type Image struct {
	MimeType string
	Data     string
}

// Client owns one logical streaming session. A reconnect replaces the
// underlying link but keeps instructions, tools and the retained image.
type Client struct {
	cfg     Config
	handler Handler
	log     *zap.Logger

	mu         sync.Mutex
	link       *link
	epoch      uint64
	attempts   int
	retryTimer reliability.Timer
	lastImage  *Image
	turn       turnBuffer
	waiters    []chan turnResult

	// acked is set once any link of this session saw setupComplete and
	// cleared only by Disconnect.
	acked bool
}

type link struct {
	conn       *websocket.Conn
	writeMu    sync.Mutex
	setupAcked atomic.Bool
	closing    atomic.Bool
}

type turnResult struct {
	text string
	err  error
}

type turnBuffer struct {
	fragments []string
	mimeType  string
	text      strings.Builder
}

func (b *turnBuffer) reset() {
	b.fragments = nil
	b.mimeType = ""
	b.text.Reset()
}

func (b *turnBuffer) snapshot() Turn {
	return Turn{
		Fragments: append([]string(nil), b.fragments...),
		MimeType:  b.mimeType,
		Text:      b.text.String(),
	}
}

func NewClient(cfg Config, handler Handler) *Client {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = DefaultTurnTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = reliability.SystemClock()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if handler == nil {
		handler = Callbacks{}
	}
	return &Client{
		cfg:     cfg,
		handler: handler,
		log:     logging.OrNop(cfg.Logger).With(zap.String("component", "live")),
	}
}

// Connect opens the link and sends the setup frame. It is a no-op while a
// link is open. Media is accepted only after the setup acknowledgement.
func (c *Client) Connect(ctx context.Context) error {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		c.log.Error("gemini api key not configured")
		c.handler.OnError(ErrMissingAPIKey)
		return ErrMissingAPIKey
	}
	c.mu.Lock()
	if c.link != nil {
		c.mu.Unlock()
		return nil
	}
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	epoch := c.epoch
	c.mu.Unlock()
	return c.open(ctx, epoch, false)
}

func (c *Client) open(ctx context.Context, epoch uint64, reconnecting bool) error {
	c.handler.OnStatus(StatusConnecting)

	endpoint, err := c.endpoint()
	if err != nil {
		c.handler.OnStatus(StatusDisconnected)
		c.handler.OnError(err)
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	conn, resp, err := c.cfg.Dialer.DialContext(dialCtx, endpoint, http.Header{})
	cancel()
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		switch {
		case errors.Is(dialCtx.Err(), context.DeadlineExceeded):
			err = fmt.Errorf("connect timed out after %s: %w", c.cfg.ConnectTimeout, err)
		case status != 0:
			err = fmt.Errorf("dial live endpoint: HTTP %d: %w", status, err)
		default:
			err = fmt.Errorf("dial live endpoint: %w", err)
		}
		c.log.Warn("live connect failed", zap.Error(err), zap.Int("http_status", status), zap.Bool("reconnecting", reconnecting))
		c.handler.OnStatus(StatusDisconnected)
		c.handler.OnError(err)
		if reconnecting {
			// A rejected handshake (bad key, unknown model) will not heal by retrying.
			if status != 0 && !reliability.IsRetryableHTTPStatus(status) {
				c.handler.OnError(fmt.Errorf("%w: handshake rejected with HTTP %d", ErrReconnectExhausted, status))
				return err
			}
			c.mu.Lock()
			if c.epoch == epoch && c.link == nil {
				c.scheduleReconnectLocked(epoch)
			}
			c.mu.Unlock()
		}
		return err
	}

	l := &link{conn: conn}
	c.mu.Lock()
	if c.epoch != epoch || c.link != nil {
		// Disconnected or superseded while dialing.
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.link = l
	c.attempts = 0
	c.mu.Unlock()

	c.handler.OnStatus(StatusConnected)
	go c.readLoop(l)

	if err := l.writeFrame(c.setupFrame()); err != nil {
		c.log.Warn("send setup failed", zap.Error(err))
		_ = conn.Close()
		return fmt.Errorf("send setup: %w", err)
	}
	return nil
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse live url: %w", err)
	}
	q := u.Query()
	q.Set("key", c.cfg.APIKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) setupFrame() setupFrame {
	payload := setupPayload{
		Model:            c.cfg.Model,
		GenerationConfig: generationConfig{ResponseModalities: []string{"AUDIO"}},
	}
	if strings.TrimSpace(c.cfg.SystemInstruction) != "" {
		payload.SystemInstruction = &wireContent{Parts: []wirePart{{Text: c.cfg.SystemInstruction}}}
	}
	if len(c.cfg.Tools) > 0 {
		decls := make([]FunctionDeclaration, 0, len(c.cfg.Tools))
		for _, t := range c.cfg.Tools {
			decls = append(decls, t.Declaration)
		}
		payload.Tools = []wireTool{{FunctionDeclarations: decls}}
	}
	return setupFrame{Setup: payload}
}

// Ready reports whether media would currently be forwarded.
func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link != nil && c.link.setupAcked.Load()
}

// SendMediaChunk forwards one base64 chunk. Chunks sent before the setup
// acknowledgement are dropped. JPEG frames are kept as the last image.
func (c *Client) SendMediaChunk(data, mimeType string) error {
	c.mu.Lock()
	l := c.link
	if l == nil || !l.setupAcked.Load() {
		c.mu.Unlock()
		return nil
	}
	if mimeType == media.MimeJPEG {
		c.lastImage = &Image{MimeType: mimeType, Data: data}
	}
	c.mu.Unlock()

	frame := realtimeInputFrame{RealtimeInput: realtimeInput{
		MediaChunks: []mediaChunk{{MimeType: mimeType, Data: data}},
	}}
	if err := l.writeFrame(frame); err != nil {
		c.log.Warn("send media chunk failed", zap.String("mime_type", mimeType), zap.Error(err))
		return err
	}
	return nil
}

// LastImage returns the most recent JPEG frame forwarded upstream.
func (c *Client) LastImage() (Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastImage == nil {
		return Image{}, false
	}
	return *c.lastImage, true
}

// SendClientEvent sends {"event":name,"data":data} as realtime text.
func (c *Client) SendClientEvent(name string, data any) error {
	payload, err := encodeFrame(struct {
		Event string `json:"event"`
		Data  any    `json:"data,omitempty"`
	}{Event: name, Data: data})
	if err != nil {
		return fmt.Errorf("encode client event: %w", err)
	}
	return c.sendText(string(payload))
}

// RequestResponse nudges the model to speak. extra is sent as JSON text, or
// "continue" when nil.
func (c *Client) RequestResponse(extra map[string]any) error {
	text := "continue"
	if extra != nil {
		payload, err := encodeFrame(extra)
		if err != nil {
			return fmt.Errorf("encode response request: %w", err)
		}
		text = string(payload)
	}
	return c.sendText(text)
}

func (c *Client) sendText(text string) error {
	l := c.currentLink()
	if l == nil {
		return ErrNotConnected
	}
	return l.writeFrame(realtimeInputFrame{RealtimeInput: realtimeInput{Text: text}})
}

// Converse sends user text turns and waits for the model's next completed
// turn, returning the text it produced.
func (c *Client) Converse(ctx context.Context, turns []string) (string, error) {
	wait := make(chan turnResult, 1)
	c.mu.Lock()
	l := c.link
	if l == nil {
		c.mu.Unlock()
		return "", ErrNotConnected
	}
	c.waiters = append(c.waiters, wait)
	c.mu.Unlock()

	contents := make([]wireContent, 0, len(turns))
	for _, t := range turns {
		contents = append(contents, wireContent{Role: "user", Parts: []wirePart{{Text: t}}})
	}
	if err := l.writeFrame(clientContentFrame{ClientContent: clientContent{Turns: contents, TurnComplete: true}}); err != nil {
		c.dropWaiter(wait)
		return "", fmt.Errorf("send conversation turn: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.TurnTimeout)
	defer cancel()
	select {
	case res := <-wait:
		return res.text, res.err
	case <-ctx.Done():
		c.dropWaiter(wait)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", ErrTurnTimeout
		}
		return "", ctx.Err()
	}
}

func (c *Client) dropWaiter(wait chan turnResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, w := range c.waiters {
		if w == wait {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

// Disconnect closes the session on purpose: no reconnect follows. Calling it
// again is a no-op.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.epoch++
	c.acked = false
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	l := c.link
	c.link = nil
	c.turn.reset()
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	for _, w := range waiters {
		w <- turnResult{err: ErrNotConnected}
	}
	if l == nil {
		return
	}
	l.closing.Store(true)
	l.setupAcked.Store(false)
	l.writeMu.Lock()
	_ = l.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, closeReasonIntentional),
		time.Now().Add(time.Second),
	)
	l.writeMu.Unlock()
	_ = l.conn.Close()
	c.handler.OnStatus(StatusDisconnected)
}

// Reconnect is the manual retry control: it drops any pending backoff timer
// and dials immediately.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	c.attempts = 0
	c.mu.Unlock()
	return c.Connect(ctx)
}

func (c *Client) currentLink() *link {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link
}

func (c *Client) readLoop(l *link) {
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			c.handleClose(l, err)
			return
		}
		events, err := Decode(data)
		if err != nil {
			c.log.Warn("malformed upstream frame", zap.Error(err), zap.Int("bytes", len(data)))
			continue
		}
		for _, ev := range events {
			c.dispatch(l, ev)
		}
	}
}

func (c *Client) dispatch(l *link, ev Event) {
	switch ev.Kind {
	case EventSetupComplete:
		if l.setupAcked.CompareAndSwap(false, true) {
			c.mu.Lock()
			if c.link == l {
				c.acked = true
			}
			c.mu.Unlock()
			c.handler.OnSetupComplete()
		}
	case EventToolCall:
		for _, call := range ev.Calls {
			c.answerToolCall(l, ev.ToolUseID, call)
		}
	case EventAudioChunk:
		c.mu.Lock()
		c.turn.fragments = append(c.turn.fragments, ev.Data)
		if c.turn.mimeType == "" {
			c.turn.mimeType = ev.MimeType
		}
		c.mu.Unlock()
		c.handler.OnAudio(ev.Data, ev.MimeType)
	case EventTextChunk:
		c.mu.Lock()
		c.turn.text.WriteString(ev.Text)
		c.mu.Unlock()
		c.handler.OnText(ev.Text)
	case EventTurnComplete:
		c.mu.Lock()
		turn := c.turn.snapshot()
		c.turn.reset()
		waiters := c.waiters
		c.waiters = nil
		c.mu.Unlock()
		for _, w := range waiters {
			w <- turnResult{text: turn.Text}
		}
		c.handler.OnTurnComplete(turn)
	default:
		c.log.Debug("ignoring upstream frame")
	}
}

func (c *Client) answerToolCall(l *link, toolUseID string, call FunctionCall) {
	response := map[string]any{}
	result, err := c.invokeTool(call)
	if err != nil {
		c.log.Warn("tool call failed", zap.String("tool", call.Name), zap.Error(err))
		response["result"] = "error"
		response["error"] = err.Error()
	} else {
		response["result"] = result
	}
	frame := toolResponseFrame{ToolResponse: toolResponse{ToolUseID: toolUseID, Response: response}}
	if err := l.writeFrame(frame); err != nil {
		c.log.Warn("send tool response failed", zap.String("tool", call.Name), zap.Error(err))
	}
}

func (c *Client) invokeTool(call FunctionCall) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", call.Name, r)
		}
	}()
	for _, t := range c.cfg.Tools {
		if t.Declaration.Name != call.Name {
			continue
		}
		if t.Invoke == nil {
			return "ok", nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.TurnTimeout)
		defer cancel()
		return t.Invoke(ctx, call.Args)
	}
	return nil, fmt.Errorf("%w: %s", errUnknownTool, call.Name)
}

func (c *Client) handleClose(l *link, err error) {
	code := websocket.CloseAbnormalClosure
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		code = closeErr.Code
	}

	c.mu.Lock()
	if c.link != l {
		c.mu.Unlock()
		return
	}
	c.link = nil
	c.turn.reset()
	waiters := c.waiters
	c.waiters = nil
	retry := !l.closing.Load() && c.acked && reliability.IsRetryableCloseCode(code)
	if retry {
		c.scheduleReconnectLocked(c.epoch)
	}
	c.mu.Unlock()

	_ = l.conn.Close()
	for _, w := range waiters {
		w <- turnResult{err: ErrNotConnected}
	}
	c.log.Info("live link closed", zap.Int("code", code), zap.Bool("reconnect", retry), zap.Error(err))
	c.handler.OnStatus(StatusDisconnected)
}

func (c *Client) scheduleReconnectLocked(epoch uint64) {
	c.attempts++
	attempt := c.attempts
	if !c.cfg.Retry.Allows(attempt) {
		c.log.Error("giving up on live reconnect", zap.Int("attempts", attempt-1))
		go c.handler.OnError(ErrReconnectExhausted)
		return
	}
	delay := c.cfg.Retry.Delay(attempt)
	c.log.Info("scheduling live reconnect", zap.Int("attempt", attempt), zap.Duration("delay", delay))
	c.retryTimer = c.cfg.Clock.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.epoch != epoch || c.link != nil {
			c.mu.Unlock()
			return
		}
		c.retryTimer = nil
		c.mu.Unlock()
		_ = c.open(context.Background(), epoch, true)
	})
}

// Attempts is the current consecutive reconnect attempt count.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (l *link) writeFrame(v any) error {
	payload, err := encodeFrame(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.conn.WriteMessage(websocket.TextMessage, payload)
}

// Callbacks adapts optional funcs to Handler.
type Callbacks struct {
	Status        func(Status)
	SetupComplete func()
	Audio         func(data, mimeType string)
	Text          func(string)
	TurnComplete  func(Turn)
	Error         func(error)
}

func (cb Callbacks) OnStatus(s Status) {
	if cb.Status != nil {
		cb.Status(s)
	}
}

func (cb Callbacks) OnSetupComplete() {
	if cb.SetupComplete != nil {
		cb.SetupComplete()
	}
}

func (cb Callbacks) OnAudio(data, mimeType string) {
	if cb.Audio != nil {
		cb.Audio(data, mimeType)
	}
}

func (cb Callbacks) OnText(text string) {
	if cb.Text != nil {
		cb.Text(text)
	}
}

func (cb Callbacks) OnTurnComplete(t Turn) {
	if cb.TurnComplete != nil {
		cb.TurnComplete(t)
	}
}

func (cb Callbacks) OnError(err error) {
	if cb.Error != nil {
		cb.Error(err)
	}
}
