package pipeline

import (
	"context"
	"fmt"
	"sync"
)

type Handler interface {
	Handle(ctx context.Context, c *Cycle) error
}

type HandlerFunc func(ctx context.Context, c *Cycle) error

func (f HandlerFunc) Handle(ctx context.Context, c *Cycle) error { return f(ctx, c) }

// StageError is returned by Dispatch when a handler fails.
type StageError struct {
	Stage StageName
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("stage %s: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

// Dispatcher maps stages to handlers run in registration order.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[StageName][]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[StageName][]Handler)}
}

func (d *Dispatcher) Register(stage StageName, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[stage] = append(d.handlers[stage], h)
}

func (d *Dispatcher) Handlers(stage StageName) []Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Handler(nil), d.handlers[stage]...)
}

// Dispatch runs the stage's handlers and stops at the first error. A stage
// with no handlers is a no-op.
func (d *Dispatcher) Dispatch(ctx context.Context, stage StageName, c *Cycle) error {
	for _, h := range d.Handlers(stage) {
		if err := ctx.Err(); err != nil {
			return &StageError{Stage: stage, Err: err}
		}
		if err := h.Handle(ctx, c); err != nil {
			return &StageError{Stage: stage, Err: err}
		}
	}
	return nil
}
