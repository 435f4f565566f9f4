package observability

import (
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

// Latency stages sampled per inspection.
const (
	StageSetupAck      = "setup_ack"
	StageTranscription = "transcription"
	StageModelTurn     = "model_turn"
	StageUpload        = "upload"
	StageTurnToCapture = "turn_to_capture"
)

var stageTargetsP95MS = map[string]float64{
	StageSetupAck:      1500,
	StageTranscription: 2500,
	StageModelTurn:     4000,
	StageUpload:        1200,
	StageTurnToCapture: 5000,
}

type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type Indicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type LatencySnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
	Indicators  []Indicator  `json:"indicators,omitempty"`
}

// stageWindow keeps the most recent samples per stage in fixed rings.
type stageWindow struct {
	mu         sync.RWMutex
	size       int
	rings      map[string]*ring
	indicators map[string]int
}

type ring struct {
	values []float64
	n      int
	pos    int
	last   float64
}

func (r *ring) add(v float64) {
	r.values[r.pos] = v
	r.pos = (r.pos + 1) % len(r.values)
	if r.n < len(r.values) {
		r.n++
	}
	r.last = v
}

func (r *ring) sorted() []float64 {
	out := slices.Clone(r.values[:r.n])
	slices.Sort(out)
	return out
}

func newStageWindow(size int) *stageWindow {
	if size <= 0 {
		size = 256
	}
	return &stageWindow{
		size:       size,
		rings:      make(map[string]*ring),
		indicators: make(map[string]int),
	}
}

func (w *stageWindow) Observe(stage string, ms float64) {
	if stage == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	r := w.rings[stage]
	if r == nil {
		r = &ring{values: make([]float64, w.size)}
		w.rings[stage] = r
	}
	r.add(ms)
}

func (w *stageWindow) ObserveIndicator(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.indicators[name]++
}

func (w *stageWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	clear(w.rings)
	clear(w.indicators)
}

func (w *stageWindow) Snapshot() LatencySnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	snap := LatencySnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      make([]StageStats, 0, len(w.rings)),
	}
	for _, stage := range slices.Sorted(maps.Keys(w.rings)) {
		r := w.rings[stage]
		if r.n == 0 {
			continue
		}
		samples := r.sorted()
		sum := 0.0
		for _, v := range samples {
			sum += v
		}
		snap.Stages = append(snap.Stages, StageStats{
			Stage:       stage,
			Samples:     r.n,
			LastMS:      round2(r.last),
			AvgMS:       round2(sum / float64(r.n)),
			P50MS:       round2(quantile(samples, 0.50)),
			P95MS:       round2(quantile(samples, 0.95)),
			P99MS:       round2(quantile(samples, 0.99)),
			TargetP95MS: stageTargetsP95MS[stage],
		})
	}
	for _, name := range slices.Sorted(maps.Keys(w.indicators)) {
		if c := w.indicators[name]; c > 0 {
			snap.Indicators = append(snap.Indicators, Indicator{Name: name, Count: c})
		}
	}
	return snap
}

// quantile interpolates linearly between the closest ranks.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	q = math.Max(0, math.Min(1, q))
	idx := q * float64(len(sorted)-1)
	lo, hi := int(math.Floor(idx)), int(math.Ceil(idx))
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
