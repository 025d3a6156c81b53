package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/quorumtrade/internal/admission"
	"github.com/dyike/quorumtrade/internal/exchange"
	"github.com/dyike/quorumtrade/internal/execution"
	"github.com/dyike/quorumtrade/internal/ledger"
	"github.com/dyike/quorumtrade/internal/models"
	"github.com/dyike/quorumtrade/internal/notify"
	"github.com/dyike/quorumtrade/internal/quorum"
	"github.com/dyike/quorumtrade/internal/retry"
	"github.com/dyike/quorumtrade/internal/risk"
	"github.com/dyike/quorumtrade/internal/storage"
	"github.com/dyike/quorumtrade/internal/synth"
)

var markets = []models.MarketContext{{Ticker: "KRW-BTC", Name: "Bitcoin"}, {Ticker: "KRW-ETH", Name: "Ethereum"}}

type feed struct {
	exchange.Client
	prices map[string]float64
}

func (f feed) Tickers(ctx context.Context, ms ...string) ([]exchange.Ticker, error) {
	var out []exchange.Ticker
	for _, m := range ms {
		if p, ok := f.prices[m]; ok {
			out = append(out, exchange.Ticker{Market: m, TradePrice: p})
		}
	}
	return out, nil
}

type gate struct {
	mu       sync.Mutex
	admit    bool
	reasoned []string
}

func (g *gate) Admit(ctx context.Context, ms []models.MarketContext) ([]models.MarketContext, []admission.Decision, error) {
	var admitted []models.MarketContext
	var decisions []admission.Decision
	for _, m := range ms {
		decisions = append(decisions, admission.Decision{Ticker: m.Ticker, Admit: g.admit})
		if g.admit {
			admitted = append(admitted, m)
		}
	}
	return admitted, decisions, nil
}

func (g *gate) MarkReasoned(ctx context.Context, ticker string, at time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reasoned = append(g.reasoned, ticker)
	return nil
}

type producer struct {
	name   string
	signal models.Signal
	calls  *atomic.Int32
}

func (p producer) Name() string { return p.name }

func (p producer) Analyze(ctx context.Context, ms []models.MarketContext) (models.AnalystReport, error) {
	p.calls.Add(1)
	r := models.AnalystReport{Producer: p.name}
	for _, m := range ms {
		r.Opinions = append(r.Opinions, models.Opinion{Ticker: m.Ticker, Signal: p.signal, Confidence: 90, Reasoning: "test"})
	}
	return r, nil
}

type failingSynth struct{ err error }

func (f failingSynth) Synthesize(ctx context.Context, in synth.Input) ([]models.TransactionProposal, error) {
	return nil, f.err
}

type env struct {
	gate   *gate
	paper  *exchange.Paper
	ledger *ledger.Ledger
	calls  *atomic.Int32
	mu     sync.Mutex
	sent   []string
	deps   Deps
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{gate: &gate{admit: true}, calls: &atomic.Int32{}}
	e.paper = exchange.NewPaper(feed{prices: map[string]float64{"KRW-BTC": 100, "KRW-ETH": 1000}}, "KRW", 1_000_000)
	e.ledger = ledger.New(storage.NewMemory(50))

	agg, err := quorum.New(3)
	require.NoError(t, err)

	policy := synth.Policy{ProfitThreshold: 0.05, StopLoss: 0.05, MinTradeValue: 20000, Quote: "KRW"}
	engine := execution.New(e.paper, e.ledger, execution.Options{
		MinTradeValue: 20000,
		FillTimeout:   time.Second,
		Poll:          retry.Config{BaseDelay: time.Millisecond, Multiplier: 2},
	})
	e.deps = Deps{
		Markets:      markets,
		Quote:        "KRW",
		HistoryCount: 10,
		Admission:    e.gate,
		Quorum:       agg,
		Producers: []quorum.Producer{
			producer{"news", models.SignalBullish, e.calls},
			producer{"sentiment", models.SignalBullish, e.calls},
			producer{"technical", models.SignalBullish, e.calls},
		},
		Account:     e.paper,
		Book:        e.ledger,
		Synthesizer: synth.NewRules(policy),
		Risk:        risk.New(risk.Limits{MinTradeValue: 20000, MaxConcentration: 0.5}),
		Executor:    engine,
		Notifier: notify.Func(func(ctx context.Context, text string) error {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.sent = append(e.sent, text)
			return nil
		}),
	}
	return e
}

func (e *env) messages() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.sent...)
}

func TestRunCycleEndToEnd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	r, err := NewRunner(e.deps)
	require.NoError(t, err)

	c, err := r.RunCycle(ctx)
	require.NoError(t, err)
	assert.False(t, c.Idle)
	assert.NotEmpty(t, c.ID)
	require.NotNil(t, c.Bundle)
	assert.Len(t, c.Bundle.Reports, 3)
	assert.Equal(t, int32(3), e.calls.Load())

	require.Len(t, c.Adjustment.Proposals, 2)
	assert.InDelta(t, 100_000, c.Adjustment.Proposals[0].Quantity, 1e-6)
	assert.InDelta(t, 90_000, c.Adjustment.Proposals[1].Quantity, 1e-6)
	assert.Equal(t, 2, c.Execution.Count(execution.StatusFilled))

	pos, err := e.ledger.Position(ctx, "KRW-BTC")
	require.NoError(t, err)
	assert.InDelta(t, 1000, pos.Amount, 1e-9)
	assert.InDelta(t, 809_905, c.Portfolio.Cash, 1e-6)
	assert.Len(t, c.History, 2)

	assert.ElementsMatch(t, []string{"KRW-BTC", "KRW-ETH"}, e.gate.reasoned)
	msgs := e.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, c.Summary, msgs[0])
	assert.Contains(t, msgs[0], "Cycle "+c.ID)
	assert.Contains(t, msgs[0], "2 filled")
	assert.Contains(t, msgs[0], "Available Balance")
}

func TestRunCycleIdleWhenNothingAdmitted(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.gate.admit = false
	r, err := NewRunner(e.deps)
	require.NoError(t, err)

	c, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, c.Idle)
	assert.Len(t, c.Decisions, 2)
	assert.Zero(t, e.calls.Load())
	assert.Empty(t, e.messages())
}

func TestRunCycleAbortsOnStageError(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.deps.Synthesizer = failingSynth{err: synth.ErrMalformedOutput}
	r, err := NewRunner(e.deps)
	require.NoError(t, err)

	c, err := r.RunCycle(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, synth.ErrMalformedOutput)
	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageSynthesis, stageErr.Stage)

	assert.Empty(t, c.Execution.Results)
	assert.Empty(t, e.gate.reasoned)
	msgs := e.messages()
	require.Len(t, msgs, 1)
	assert.True(t, strings.HasPrefix(msgs[0], "Cycle "+c.ID+" aborted at synthesis"))
}

func TestExtraHandlersRunAfterDefaults(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	r, err := NewRunner(e.deps)
	require.NoError(t, err)

	var seen string
	r.Dispatcher().Register(StageReport, HandlerFunc(func(ctx context.Context, c *Cycle) error {
		seen = c.Summary
		return nil
	}))
	c, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, c.Summary, seen)
}

func TestNewRunnerValidates(t *testing.T) {
	t.Parallel()
	_, err := NewRunner(Deps{})
	assert.Error(t, err)
}

func TestDispatchStopsAtFirstError(t *testing.T) {
	t.Parallel()
	d := NewDispatcher()
	var order []string
	boom := errors.New("boom")
	d.Register(StageRisk, HandlerFunc(func(ctx context.Context, c *Cycle) error { order = append(order, "a"); return nil }))
	d.Register(StageRisk, HandlerFunc(func(ctx context.Context, c *Cycle) error { order = append(order, "b"); return boom }))
	d.Register(StageRisk, HandlerFunc(func(ctx context.Context, c *Cycle) error { order = append(order, "c"); return nil }))

	err := d.Dispatch(context.Background(), StageRisk, &Cycle{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "stage risk: boom", err.Error())
	assert.Equal(t, []string{"a", "b"}, order)
	assert.NoError(t, d.Dispatch(context.Background(), StageQuorum, &Cycle{}))
}

type countingRunner struct {
	n      atomic.Int32
	err    error
	onRun  func(n int32)
	ctxErr atomic.Value
}

func (r *countingRunner) RunCycle(ctx context.Context) (*Cycle, error) {
	n := r.n.Add(1)
	if r.onRun != nil {
		r.onRun(n)
	}
	if err := ctx.Err(); err != nil {
		r.ctxErr.Store(err)
	}
	return &Cycle{ID: "c"}, r.err
}

func TestSupervisorOneShot(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	r := &countingRunner{err: boom}
	var observed error
	s := NewSupervisor(Static(r), OnCycle(func(c *Cycle, err error) { observed = err }))

	assert.ErrorIs(t, s.Run(context.Background(), 0), boom)
	assert.Equal(t, int32(1), r.n.Load())
	assert.ErrorIs(t, observed, boom)
}

func TestSupervisorPeriodicStopsBetweenCycles(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := &countingRunner{err: errors.New("transient")}
	r.onRun = func(n int32) {
		if n == 3 {
			cancel()
		}
	}
	err := NewSupervisor(Static(r)).Run(ctx, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int32(3), r.n.Load())
	assert.Nil(t, r.ctxErr.Load(), "running cycle must not see cancellation")
}
