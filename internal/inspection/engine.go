package inspection

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrInspectionComplete = errors.New("inspection already complete")
	ErrTurnInProgress     = errors.New("an inspection turn is already in progress")
)

// Model is the conversational side of the live session.
type Model interface {
	Converse(ctx context.Context, turns []string) (string, error)
}

// Step is emitted whenever a checkpoint becomes active.
type Step struct {
	Question string `json:"question"`
	Section  string `json:"section"`
	Part     string `json:"part"`
	Index    int    `json:"index"`
	Total    int    `json:"total"`
}

type Events interface {
	OnStep(Step)
	OnReply(text string)
	OnComplete()
}

// Engine walks an immutable checkpoint sequence. The index only moves
// forward and len(seq) means complete.
type Engine struct {
	seq    []Checkpoint
	model  Model
	events Events

	turnMu sync.Mutex

	mu    sync.Mutex
	index int
}

func NewEngine(seq []Checkpoint, model Model, events Events) *Engine {
	if events == nil {
		events = EventFuncs{}
	}
	return &Engine{
		seq:    append([]Checkpoint(nil), seq...),
		model:  model,
		events: events,
	}
}

// Start sends the active checkpoint's instruction and announces the step.
func (e *Engine) Start(ctx context.Context) error {
	if !e.turnMu.TryLock() {
		return ErrTurnInProgress
	}
	emit, err := e.start(ctx)
	e.turnMu.Unlock()
	emit()
	return err
}

// HandleTurn sends the active instruction with the user's input, and once
// the model replies advances exactly one checkpoint. A model error leaves
// the index untouched.
func (e *Engine) HandleTurn(ctx context.Context, input string) error {
	if !e.turnMu.TryLock() {
		return ErrTurnInProgress
	}
	emit, err := e.handleTurn(ctx, input)
	e.turnMu.Unlock()
	emit()
	return err
}

// Events are emitted after the turn lock is released so listeners may start
// the next turn straight away.

func (e *Engine) start(ctx context.Context) (func(), error) {
	cp, idx, ok := e.current()
	if !ok {
		return e.events.OnComplete, nil
	}
	if _, err := e.model.Converse(ctx, []string{RenderInstruction(cp, e.seq)}); err != nil {
		return noop, fmt.Errorf("send checkpoint instruction: %w", err)
	}
	step := e.step(cp, idx)
	return func() { e.events.OnStep(step) }, nil
}

func (e *Engine) handleTurn(ctx context.Context, input string) (func(), error) {
	cp, _, ok := e.current()
	if !ok {
		return noop, ErrInspectionComplete
	}
	reply, err := e.model.Converse(ctx, []string{RenderInstruction(cp, e.seq), input})
	if err != nil {
		return noop, fmt.Errorf("converse on %s/%s: %w", cp.Section, cp.Part, err)
	}

	e.mu.Lock()
	e.index++
	e.mu.Unlock()

	next, idx, ok := e.current()
	if !ok {
		return func() {
			e.events.OnReply(reply)
			e.events.OnComplete()
		}, nil
	}
	if _, err := e.model.Converse(ctx, []string{RenderInstruction(next, e.seq)}); err != nil {
		return func() { e.events.OnReply(reply) }, fmt.Errorf("send checkpoint instruction: %w", err)
	}
	step := e.step(next, idx)
	return func() {
		e.events.OnReply(reply)
		e.events.OnStep(step)
	}, nil
}

func noop() {}

func (e *Engine) current() (Checkpoint, int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.index >= len(e.seq) {
		return Checkpoint{}, e.index, false
	}
	return e.seq[e.index], e.index, true
}

func (e *Engine) step(cp Checkpoint, idx int) Step {
	return Step{
		Question: cp.Question,
		Section:  cp.Section,
		Part:     cp.Part,
		Index:    idx,
		Total:    len(e.seq),
	}
}

func (e *Engine) Index() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index
}

func (e *Engine) Total() int { return len(e.seq) }

func (e *Engine) Done() bool {
	_, _, ok := e.current()
	return !ok
}

// EventFuncs adapts optional funcs to Events.
type EventFuncs struct {
	Step     func(Step)
	Reply    func(string)
	Complete func()
}

func (f EventFuncs) OnStep(s Step) {
	if f.Step != nil {
		f.Step(s)
	}
}

func (f EventFuncs) OnReply(text string) {
	if f.Reply != nil {
		f.Reply(text)
	}
}

func (f EventFuncs) OnComplete() {
	if f.Complete != nil {
		f.Complete()
	}
}
