// Package playback sequences streamed model audio into a gapless run and
// reports speaking state and loudness while it plays.
package playback

import (
	"context"
	"errors"
	"sync"

	"github.com/ent0n29/ridecheck/internal/audio"
	"github.com/ent0n29/ridecheck/internal/logging"
	"go.uber.org/zap"
)

// Sink plays one chunk and returns when it has finished playing or ctx ends.
type Sink interface {
	Play(ctx context.Context, pcm []byte, f audio.Format) error
}

// Listener observes a queue. Callbacks run on the queue's goroutines and
// must not call back into the queue.
type Listener interface {
	OnSpeaking(bool)
	OnLevel(float64)
}

type chunk struct {
	pcm    []byte
	format audio.Format
}

// Queue plays chunks strictly one after another. Speaking is reported once
// per contiguous run, not per chunk.
type Queue struct {
	sink     Sink
	listener Listener
	log      *zap.Logger

	// notifyMu orders listener callbacks across runs and Stop.
	notifyMu sync.Mutex

	mu      sync.Mutex
	pending []chunk
	playing bool
	gen     uint64
	cancel  context.CancelFunc
}

func NewQueue(sink Sink, listener Listener, log *zap.Logger) *Queue {
	if listener == nil {
		listener = ListenerFuncs{}
	}
	return &Queue{
		sink:     sink,
		listener: listener,
		log:      logging.OrNop(log).With(zap.String("component", "playback")),
	}
}

// Enqueue appends a chunk and starts a run if the queue is idle.
func (q *Queue) Enqueue(pcm []byte, f audio.Format) {
	if len(pcm) == 0 {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, chunk{pcm: pcm, format: f})
	if q.playing {
		q.mu.Unlock()
		return
	}
	q.playing = true
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	gen := q.gen
	q.mu.Unlock()

	go q.run(ctx, gen)
}

// EnqueueFragment decodes one base64 audio part as delivered upstream.
func (q *Queue) EnqueueFragment(data, mimeType string) error {
	pcm, err := audio.DecodeFragments([]string{data})
	if err != nil {
		return err
	}
	q.Enqueue(pcm, audio.ParseFormat(mimeType))
	return nil
}

// Stop drops queued audio and interrupts the chunk in flight.
func (q *Queue) Stop() {
	q.notifyMu.Lock()
	defer q.notifyMu.Unlock()

	q.mu.Lock()
	q.gen++
	q.pending = nil
	wasPlaying := q.playing
	q.playing = false
	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
	}
	q.mu.Unlock()

	if wasPlaying {
		q.listener.OnSpeaking(false)
	}
}

// Playing reports whether a run is active.
func (q *Queue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// Pending is the number of chunks waiting behind the one in flight.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) run(ctx context.Context, gen uint64) {
	q.notifyMu.Lock()
	if !q.current(gen) {
		q.notifyMu.Unlock()
		return
	}
	q.listener.OnSpeaking(true)
	q.notifyMu.Unlock()

	for {
		c, ok := q.next(gen)
		if !ok {
			return
		}
		q.listener.OnLevel(audio.Level(c.pcm))
		if err := q.sink.Play(ctx, c.pcm, c.format); err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			q.log.Warn("playback chunk failed", zap.Error(err))
		}
	}
}

// next pops the following chunk, or ends the run when the queue drained.
func (q *Queue) next(gen uint64) (chunk, bool) {
	q.notifyMu.Lock()
	defer q.notifyMu.Unlock()

	q.mu.Lock()
	if q.gen != gen {
		q.mu.Unlock()
		return chunk{}, false
	}
	if len(q.pending) == 0 {
		q.playing = false
		if q.cancel != nil {
			q.cancel()
			q.cancel = nil
		}
		q.mu.Unlock()
		q.listener.OnSpeaking(false)
		return chunk{}, false
	}
	c := q.pending[0]
	q.pending[0] = chunk{}
	q.pending = q.pending[1:]
	q.mu.Unlock()
	return c, true
}

func (q *Queue) current(gen uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.gen == gen
}

// ListenerFuncs adapts optional funcs to Listener.
type ListenerFuncs struct {
	Speaking func(bool)
	Level    func(float64)
}

func (l ListenerFuncs) OnSpeaking(v bool) {
	if l.Speaking != nil {
		l.Speaking(v)
	}
}

func (l ListenerFuncs) OnLevel(v float64) {
	if l.Level != nil {
		l.Level(v)
	}
}
