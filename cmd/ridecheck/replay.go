package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/urfave/cli/v2"

	"github.com/ent0n29/ridecheck/internal/audio"
	"github.com/ent0n29/ridecheck/internal/protocol"
)

type replayOptions struct {
	baseURL      string
	vehicleID    string
	answers      []string
	turns        int
	audioPath    string
	chunkMS      int
	realtime     float64
	stepTimeout  time.Duration
	interTurn    time.Duration
	verbose      bool
	fetchLatency bool
}

type wsEnvelope struct {
	Type   string `json:"type"`
	Index  int    `json:"index"`
	Total  int    `json:"total"`
	Part   string `json:"part"`
	Status string `json:"status"`
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

type stepEvent struct {
	index    int
	part     string
	complete bool
}

type pcmClip struct {
	pcm    []byte
	format audio.Format
}

var defaultAnswers = []string{
	"Tread looks even, no cracks on the sidewall.",
	"Slight wear on the edges but still usable.",
	"No damage visible, everything looks fine.",
}

func replayCommand() *cli.Command {
	return &cli.Command{
		Name:  "replay",
		Usage: "Drive a scripted inspection against a running gateway and report step latency",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "base-url", Value: "http://127.0.0.1:8080", Usage: "gateway base URL"},
			&cli.StringFlag{Name: "vehicle", Value: "REPLAY0001", Usage: "vehicle id for the synthetic inspection"},
			&cli.StringFlag{Name: "answers", Usage: "typed answers separated by '|'"},
			&cli.IntFlag{Name: "turns", Value: 0, Usage: "answers to send (0 = until the checklist completes)"},
			&cli.StringFlag{Name: "audio", Usage: "optional 16-bit PCM WAV streamed before every answer"},
			&cli.IntFlag{Name: "chunk-ms", Value: 40, Usage: "audio chunk size in milliseconds"},
			&cli.Float64Flag{Name: "realtime", Value: 3.0, Usage: "chunk pacing multiplier (1.0=realtime)"},
			&cli.DurationFlag{Name: "step-timeout", Value: 45 * time.Second, Usage: "wait for the next inspection_step"},
			&cli.DurationFlag{Name: "inter-turn", Value: 150 * time.Millisecond, Usage: "pause between answers"},
			&cli.BoolFlag{Name: "latency", Value: true, Usage: "print /v1/perf/latency after the run"},
			&cli.BoolFlag{Name: "verbose", Value: true, Usage: "print replay progress"},
		},
		Action: func(c *cli.Context) error {
			opts, err := replayOptionsFrom(c)
			if err != nil {
				return err
			}
			return runReplay(c.Context, c.App.Writer, opts)
		},
	}
}

func replayOptionsFrom(c *cli.Context) (replayOptions, error) {
	opts := replayOptions{
		baseURL:      strings.TrimRight(strings.TrimSpace(c.String("base-url")), "/"),
		vehicleID:    strings.TrimSpace(c.String("vehicle")),
		turns:        c.Int("turns"),
		audioPath:    strings.TrimSpace(c.String("audio")),
		chunkMS:      c.Int("chunk-ms"),
		realtime:     c.Float64("realtime"),
		stepTimeout:  c.Duration("step-timeout"),
		interTurn:    c.Duration("inter-turn"),
		verbose:      c.Bool("verbose"),
		fetchLatency: c.Bool("latency"),
	}
	if opts.baseURL == "" {
		return replayOptions{}, errors.New("base-url is required")
	}
	if opts.vehicleID == "" {
		return replayOptions{}, errors.New("vehicle is required")
	}
	if opts.turns < 0 {
		return replayOptions{}, errors.New("turns must be >= 0")
	}
	if opts.chunkMS < 10 || opts.chunkMS > 2000 {
		return replayOptions{}, errors.New("chunk-ms must be in [10,2000]")
	}
	if opts.realtime <= 0 {
		return replayOptions{}, errors.New("realtime must be > 0")
	}
	if opts.stepTimeout < time.Second {
		opts.stepTimeout = time.Second
	}
	for _, part := range strings.Split(c.String("answers"), "|") {
		if t := strings.TrimSpace(part); t != "" {
			opts.answers = append(opts.answers, t)
		}
	}
	if len(opts.answers) == 0 {
		opts.answers = append([]string(nil), defaultAnswers...)
	}
	return opts, nil
}

func runReplay(ctx context.Context, out io.Writer, opts replayOptions) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Minute)
	defer cancel()

	var clip *pcmClip
	if opts.audioPath != "" {
		c, err := loadPCMClip(opts.audioPath)
		if err != nil {
			return fmt.Errorf("load audio: %w", err)
		}
		clip = &c
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	sessionID, err := createInspection(ctx, httpClient, opts.baseURL, opts.vehicleID)
	if err != nil {
		return fmt.Errorf("create inspection: %w", err)
	}
	defer func() {
		_ = endInspection(context.Background(), httpClient, opts.baseURL, sessionID)
	}()
	logf := func(format string, args ...any) {
		if opts.verbose {
			fmt.Fprintf(out, "replay: "+format+"\n", args...)
		}
	}
	logf("session=%s vehicle=%s", sessionID, opts.vehicleID)

	wsURL, err := wsURLForSession(opts.baseURL, sessionID)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	steps := make(chan stepEvent, 32)
	readErr := make(chan error, 1)
	go replayReadLoop(conn, steps, readErr, logf)

	first, err := awaitStep(steps, readErr, opts.stepTimeout)
	if err != nil {
		return fmt.Errorf("await first inspection_step: %w", err)
	}
	logf("step %d: %s", first.index+1, first.part)

	var latencies []time.Duration
	seq := 0
	for i := 0; opts.turns == 0 || i < opts.turns; i++ {
		if clip != nil {
			if err := streamClip(conn, sessionID, *clip, opts.chunkMS, opts.realtime, &seq); err != nil {
				return fmt.Errorf("turn %d stream audio: %w", i+1, err)
			}
		}
		answer := opts.answers[i%len(opts.answers)]
		start := time.Now()
		if err := writeMessage(conn, protocol.ClientUserTurn{
			Type:      protocol.TypeClientUserTurn,
			SessionID: sessionID,
			Text:      answer,
		}); err != nil {
			return fmt.Errorf("turn %d send answer: %w", i+1, err)
		}
		next, err := awaitStep(steps, readErr, opts.stepTimeout)
		if err != nil {
			return fmt.Errorf("turn %d await next step: %w", i+1, err)
		}
		latencies = append(latencies, time.Since(start))
		if next.complete {
			logf("inspection complete after %d answers", i+1)
			break
		}
		logf("step %d: %s (%s)", next.index+1, next.part, latencies[len(latencies)-1].Round(time.Millisecond))
		if opts.interTurn > 0 {
			time.Sleep(opts.interTurn)
		}
	}

	fmt.Fprintln(out, summarizeLatencies(latencies))
	if opts.fetchLatency {
		body, err := fetchLatency(ctx, httpClient, opts.baseURL)
		if err != nil {
			logf("latency snapshot unavailable: %v", err)
			return nil
		}
		fmt.Fprintln(out, strings.TrimSpace(string(body)))
	}
	return nil
}

func replayReadLoop(conn *websocket.Conn, steps chan<- stepEvent, readErr chan<- error, logf func(string, ...any)) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErr <- err:
			default:
			}
			return
		}
		var env wsEnvelope
		if err := sonic.Unmarshal(data, &env); err != nil {
			continue
		}
		switch protocol.MessageType(env.Type) {
		case protocol.TypeInspectionStep:
			steps <- stepEvent{index: env.Index, part: env.Part}
		case protocol.TypeInspectionComplete:
			steps <- stepEvent{index: env.Total, complete: true}
		case protocol.TypeStatus:
			logf("status %s", env.Status)
		case protocol.TypeErrorEvent:
			logf("error_event code=%s detail=%s", env.Code, env.Detail)
		}
	}
}

func awaitStep(steps <-chan stepEvent, readErr <-chan error, timeout time.Duration) (stepEvent, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ev := <-steps:
		return ev, nil
	case err := <-readErr:
		return stepEvent{}, err
	case <-timer.C:
		return stepEvent{}, fmt.Errorf("timeout after %s", timeout)
	}
}

// loadPCMClip reads a canonical 16-bit PCM WAV file.
func loadPCMClip(path string) (pcmClip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return pcmClip{}, err
	}
	h, err := audio.ParseWAVHeader(data)
	if err != nil {
		return pcmClip{}, err
	}
	if h.Format.BitsPerSample != 16 {
		return pcmClip{}, fmt.Errorf("%s: %d-bit audio, want 16-bit", path, h.Format.BitsPerSample)
	}
	pcm := data[44:]
	if h.DataLength < len(pcm) {
		pcm = pcm[:h.DataLength]
	}
	if len(pcm) == 0 {
		return pcmClip{}, fmt.Errorf("%s: no samples", path)
	}
	return pcmClip{pcm: pcm, format: h.Format}, nil
}

func streamClip(conn *websocket.Conn, sessionID string, clip pcmClip, chunkMS int, realtime float64, seq *int) error {
	bytesPerChunk := clip.format.ByteRate() * chunkMS / 1000
	if block := clip.format.BlockAlign(); block > 0 {
		bytesPerChunk -= bytesPerChunk % block
	}
	if bytesPerChunk <= 0 {
		bytesPerChunk = clip.format.BlockAlign()
	}
	pause := time.Duration(float64(chunkMS)/realtime) * time.Millisecond
	for off := 0; off < len(clip.pcm); off += bytesPerChunk {
		end := min(off+bytesPerChunk, len(clip.pcm))
		*seq++
		if err := writeMessage(conn, protocol.ClientMediaChunk{
			Type:       protocol.TypeClientMediaChunk,
			SessionID:  sessionID,
			Seq:        *seq,
			MimeType:   clip.format.String(),
			Data:       base64.StdEncoding.EncodeToString(clip.pcm[off:end]),
			SampleRate: clip.format.SampleRate,
			TSMs:       time.Now().UnixMilli(),
		}); err != nil {
			return err
		}
		time.Sleep(pause)
	}
	return nil
}

func summarizeLatencies(latencies []time.Duration) string {
	if len(latencies) == 0 {
		return "replay: no answered steps"
	}
	sorted := slices.Clone(latencies)
	slices.Sort(sorted)
	pct := func(p float64) time.Duration {
		idx := int(p*float64(len(sorted))+0.5) - 1
		idx = max(0, min(idx, len(sorted)-1))
		return sorted[idx]
	}
	return fmt.Sprintf("replay: answers=%d min=%s p50=%s p95=%s max=%s",
		len(sorted),
		sorted[0].Round(time.Millisecond),
		pct(0.50).Round(time.Millisecond),
		pct(0.95).Round(time.Millisecond),
		sorted[len(sorted)-1].Round(time.Millisecond),
	)
}

func writeMessage(conn *websocket.Conn, msg any) error {
	payload, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func createInspection(ctx context.Context, client *http.Client, baseURL, vehicleID string) (string, error) {
	payload, err := sonic.Marshal(map[string]string{"vehicle_id": vehicleID})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/inspections", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	var created struct {
		SessionID string `json:"session_id"`
	}
	if err := sonic.Unmarshal(body, &created); err != nil {
		return "", err
	}
	if strings.TrimSpace(created.SessionID) == "" {
		return "", errors.New("missing session_id in response")
	}
	return created.SessionID, nil
}

func endInspection(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/inspections/"+url.PathEscape(sessionID)+"/end", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}

func fetchLatency(ctx context.Context, client *http.Client, baseURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/perf/latency", nil)
	if err != nil {
		return nil, err
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", res.StatusCode)
	}
	return io.ReadAll(io.LimitReader(res.Body, 1<<20))
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", errors.New("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/inspections/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
