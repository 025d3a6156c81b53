// Package quorum fans analysis out to independent producers and releases the
// merged result once the configured number of them has reported for the
// current cycle.
package quorum

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dyike/quorumtrade/internal/models"
)

var (
	ErrDuplicateOpinion = errors.New("quorum: duplicate submission from producer")
	ErrCycleReleased    = errors.New("quorum: cycle already released")
	ErrCycleAborted     = errors.New("quorum: cycle aborted")
	ErrStaleCycle       = errors.New("quorum: submission for stale cycle")
	ErrNotReached       = errors.New("quorum: not reached")
)

// Producer forms opinions about a set of markets.
type Producer interface {
	Name() string
	Analyze(ctx context.Context, markets []models.MarketContext) (models.AnalystReport, error)
}

// Aggregator buffers one report per producer for the active cycle. The
// insert and the threshold check happen under one lock, so exactly one
// Submit call observes the quorum.
type Aggregator struct {
	mu       sync.Mutex
	size     int
	cycleID  string
	buffer   map[string]models.AnalystReport
	released bool
	aborted  bool
}

func New(size int) (*Aggregator, error) {
	if size < 1 {
		return nil, fmt.Errorf("quorum size must be positive, got %d", size)
	}
	return &Aggregator{size: size, buffer: make(map[string]models.AnalystReport)}, nil
}

func (a *Aggregator) Size() int { return a.size }

// Begin discards whatever the previous cycle left and starts cycleID.
func (a *Aggregator) Begin(cycleID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cycleID = cycleID
	a.buffer = make(map[string]models.AnalystReport, a.size)
	a.released = false
	a.aborted = false
}

// Submit adds report to the cycle. It returns the bundle and true only for the
// submission that completes the quorum.
func (a *Aggregator) Submit(cycleID string, report models.AnalystReport) (*Bundle, bool, error) {
	if report.Producer == "" {
		return nil, false, errors.New("quorum: report has no producer")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case cycleID != a.cycleID:
		return nil, false, fmt.Errorf("%w: got %s, active %s", ErrStaleCycle, cycleID, a.cycleID)
	case a.aborted:
		return nil, false, ErrCycleAborted
	case a.released:
		return nil, false, fmt.Errorf("%w: late report from %s", ErrCycleReleased, report.Producer)
	}

	if _, exists := a.buffer[report.Producer]; exists {
		a.aborted = true
		a.buffer = make(map[string]models.AnalystReport)
		return nil, false, fmt.Errorf("%w %s in cycle %s", ErrDuplicateOpinion, report.Producer, cycleID)
	}
	a.buffer[report.Producer] = report

	log.Debug().
		Str("cycle", cycleID).
		Str("producer", report.Producer).
		Int("have", len(a.buffer)).
		Int("need", a.size).
		Msg("opinion received")

	if len(a.buffer) < a.size {
		return nil, false, nil
	}

	bundle := newBundle(cycleID, a.buffer)
	a.buffer = make(map[string]models.AnalystReport)
	a.released = true
	return bundle, true, nil
}

// Collect runs every producer concurrently against markets and returns the
// released bundle, or the first producer or quorum error. Producers still
// running when the quorum is released are cancelled and their reports dropped.
func (a *Aggregator) Collect(ctx context.Context, cycleID string, producers []Producer, markets []models.MarketContext) (*Bundle, error) {
	a.Begin(cycleID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		released *Bundle
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range producers {
		g.Go(func() error {
			report, err := p.Analyze(gctx, markets)
			if err != nil {
				if a.isReleased(cycleID) {
					log.Debug().Str("cycle", cycleID).Str("producer", p.Name()).Err(err).Msg("producer stopped after quorum")
					return nil
				}
				return fmt.Errorf("producer %s: %w", p.Name(), err)
			}
			report.Producer = p.Name()

			bundle, ok, err := a.Submit(cycleID, report)
			switch {
			case errors.Is(err, ErrCycleReleased):
				log.Info().Str("cycle", cycleID).Str("producer", p.Name()).Msg("late report dropped")
				return nil
			case err != nil:
				return err
			}
			if ok {
				mu.Lock()
				released = bundle
				mu.Unlock()
				cancel()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if released == nil {
		return nil, fmt.Errorf("%w: %d of %d producers", ErrNotReached, len(producers), a.size)
	}
	return released, nil
}

func (a *Aggregator) isReleased(cycleID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cycleID == cycleID && a.released
}

// Bundle is the merged output of one completed quorum.
type Bundle struct {
	CycleID string
	Reports []models.AnalystReport
}

func newBundle(cycleID string, buffer map[string]models.AnalystReport) *Bundle {
	reports := make([]models.AnalystReport, 0, len(buffer))
	for _, r := range buffer {
		reports = append(reports, r)
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].Producer < reports[j].Producer })
	return &Bundle{CycleID: cycleID, Reports: reports}
}

// Opinions returns every producer's opinion on ticker.
func (b *Bundle) Opinions(ticker string) []models.Opinion {
	var out []models.Opinion
	for _, r := range b.Reports {
		for _, o := range r.Opinions {
			if o.Ticker == ticker {
				if o.Producer == "" {
					o.Producer = r.Producer
				}
				out = append(out, o)
			}
		}
	}
	return out
}

// Tickers lists the tickers any producer had an opinion on, sorted.
func (b *Bundle) Tickers() []string {
	seen := make(map[string]struct{})
	for _, r := range b.Reports {
		for _, o := range r.Opinions {
			seen[o.Ticker] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Text renders the bundle as prompt input.
func (b *Bundle) Text() string {
	var sb strings.Builder
	for _, r := range b.Reports {
		fmt.Fprintf(&sb, "Message from %s\n", r.Producer)
		for _, o := range r.Opinions {
			fmt.Fprintf(&sb, "Ticker: %s [%s], [Confidence: %g], [Reasoning: %s]\n", o.Ticker, o.Signal, o.Confidence, o.Reasoning)
		}
		if r.Overall != nil && r.Overall.Reasoning != "" {
			fmt.Fprintf(&sb, "\nOverall Analysis: %s, [Confidence: %g], [Reasoning: %s]\n", r.Overall.Signal, r.Overall.Confidence, r.Overall.Reasoning)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
