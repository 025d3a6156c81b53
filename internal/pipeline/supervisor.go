package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

type CycleRunner interface {
	RunCycle(ctx context.Context) (*Cycle, error)
}

// RunnerSource returns the runner for the next cycle. It lets a config reload
// swap the runner between cycles.
type RunnerSource func() CycleRunner

func Static(r CycleRunner) RunnerSource {
	return func() CycleRunner { return r }
}

type SupervisorOption func(*Supervisor)

// OnCycle is called after every cycle, including failed ones.
func OnCycle(fn func(*Cycle, error)) SupervisorOption {
	return func(s *Supervisor) { s.onCycle = fn }
}

type Supervisor struct {
	source  RunnerSource
	onCycle func(*Cycle, error)
}

func NewSupervisor(source RunnerSource, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{source: source}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes one cycle when interval is zero, otherwise a cycle every
// interval until ctx is done. Cancellation is only observed between cycles:
// a running cycle finishes with its orders settled.
func (s *Supervisor) Run(ctx context.Context, interval time.Duration) error {
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return nil
		}
		runner := s.source()
		if runner == nil {
			log.Warn().Msg("no runner available, skipping cycle")
		} else {
			cycle, err := runner.RunCycle(context.WithoutCancel(ctx))
			if s.onCycle != nil {
				s.onCycle(cycle, err)
			}
			if interval <= 0 {
				return err
			}
			if err != nil {
				log.Error().Err(err).Int("cycle", n).Msg("cycle failed, waiting for the next one")
			}
		}
		if interval <= 0 {
			return nil
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("supervisor stopped")
			return nil
		case <-timer.C:
		}
	}
}
