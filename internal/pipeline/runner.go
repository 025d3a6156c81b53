package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dyike/quorumtrade/internal/admission"
	"github.com/dyike/quorumtrade/internal/exchange"
	"github.com/dyike/quorumtrade/internal/execution"
	"github.com/dyike/quorumtrade/internal/models"
	"github.com/dyike/quorumtrade/internal/notify"
	"github.com/dyike/quorumtrade/internal/quorum"
	"github.com/dyike/quorumtrade/internal/risk"
	"github.com/dyike/quorumtrade/internal/synth"
)

type Admitter interface {
	Admit(ctx context.Context, markets []models.MarketContext) ([]models.MarketContext, []admission.Decision, error)
	MarkReasoned(ctx context.Context, ticker string, at time.Time) error
}

type Collector interface {
	Collect(ctx context.Context, cycleID string, producers []quorum.Producer, markets []models.MarketContext) (*quorum.Bundle, error)
}

// Account is the exchange view the runner needs for prices and cash.
type Account interface {
	Tickers(ctx context.Context, markets ...string) ([]exchange.Ticker, error)
	Accounts(ctx context.Context) ([]exchange.Account, error)
}

// Book is the read side of the ledger.
type Book interface {
	Positions(ctx context.Context) ([]models.Position, error)
	History(ctx context.Context, n int) ([]models.TradeRecord, error)
	Totals(ctx context.Context) (models.HistoryTotals, error)
	Report(ctx context.Context) (models.PerformanceReport, error)
}

type Adjuster interface {
	Adjust(ctx context.Context, proposals []models.TransactionProposal, pf risk.Portfolio) (risk.Adjustment, error)
}

type Executor interface {
	Execute(ctx context.Context, proposals []models.TransactionProposal) execution.Report
}

type Deps struct {
	Markets      []models.MarketContext
	Quote        string
	HistoryCount int

	Admission   Admitter
	Quorum      Collector
	Producers   []quorum.Producer
	Account     Account
	Book        Book
	Synthesizer synth.Synthesizer
	Risk        Adjuster
	Executor    Executor
	Notifier    notify.Notifier
}

func (d Deps) validate() error {
	var errs []error
	if len(d.Markets) == 0 {
		errs = append(errs, errors.New("no markets"))
	}
	if d.Quote == "" {
		errs = append(errs, errors.New("quote currency is required"))
	}
	if d.Admission == nil || d.Quorum == nil || d.Account == nil || d.Book == nil ||
		d.Synthesizer == nil || d.Risk == nil || d.Executor == nil {
		errs = append(errs, errors.New("every stage dependency is required"))
	}
	if len(d.Producers) == 0 {
		errs = append(errs, errors.New("at least one producer is required"))
	}
	return errors.Join(errs...)
}

type Runner struct {
	deps       Deps
	dispatcher *Dispatcher
	notifier   notify.Notifier
	now        func() time.Time
}

// NewRunner registers the default handler for every stage. More handlers can
// be added through Dispatcher.
func NewRunner(deps Deps) (*Runner, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.LogNotifier{}
	}
	r := &Runner{
		deps:       deps,
		dispatcher: NewDispatcher(),
		notifier:   notify.Safe(deps.Notifier),
		now:        time.Now,
	}
	r.dispatcher.Register(StageAdmission, HandlerFunc(r.admit))
	r.dispatcher.Register(StageQuorum, HandlerFunc(r.collect))
	r.dispatcher.Register(StageMarket, HandlerFunc(r.snapshot))
	r.dispatcher.Register(StageSynthesis, HandlerFunc(r.synthesize))
	r.dispatcher.Register(StageRisk, HandlerFunc(r.adjust))
	r.dispatcher.Register(StageExecution, HandlerFunc(r.execute))
	r.dispatcher.Register(StageReport, HandlerFunc(r.report))
	return r, nil
}

func (r *Runner) Dispatcher() *Dispatcher { return r.dispatcher }

// RunCycle runs every stage once. A stage error aborts the cycle; the partial
// cycle is returned with it.
func (r *Runner) RunCycle(ctx context.Context) (*Cycle, error) {
	c := NewCycle(r.deps.Markets, r.now())
	logger := log.With().Str("cycle", c.ID).Logger()
	logger.Info().Int("markets", len(c.Markets)).Msg("cycle started")

	for _, stage := range Stages {
		if c.Idle {
			break
		}
		start := time.Now()
		if err := r.dispatcher.Dispatch(ctx, stage, c); err != nil {
			logger.Error().Err(err).Str("stage", string(stage)).Msg("cycle aborted")
			_ = r.notifier.Send(ctx, fmt.Sprintf("Cycle %s aborted at %s: %v", c.ID, stage, err))
			return c, err
		}
		logger.Debug().Str("stage", string(stage)).Dur("took", time.Since(start)).Msg("stage done")
	}

	if c.Idle {
		logger.Info().Msg("no market admitted, cycle idle")
	} else {
		logger.Info().
			Int("filled", c.Execution.Count(execution.StatusFilled)).
			Int("errors", len(c.Errors)).
			Dur("took", time.Since(c.StartedAt)).
			Msg("cycle finished")
	}
	return c, nil
}

func (r *Runner) admit(ctx context.Context, c *Cycle) error {
	admitted, decisions, err := r.deps.Admission.Admit(ctx, c.Markets)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		c.Errors = append(c.Errors, err)
	}
	c.Admitted, c.Decisions = admitted, decisions
	c.Idle = len(admitted) == 0
	return nil
}

func (r *Runner) collect(ctx context.Context, c *Cycle) error {
	bundle, err := r.deps.Quorum.Collect(ctx, c.ID, r.deps.Producers, c.Admitted)
	if err != nil {
		return err
	}
	c.Bundle = bundle
	return nil
}

// snapshot loads prices for every configured market and the account state in
// one pass so later stages agree on them.
func (r *Runner) snapshot(ctx context.Context, c *Cycle) error {
	tickers := make([]string, len(c.Markets))
	for i, m := range c.Markets {
		tickers[i] = m.Ticker
	}
	quotes, err := r.deps.Account.Tickers(ctx, tickers...)
	if err != nil {
		return fmt.Errorf("tickers: %w", err)
	}
	c.Prices = exchange.PriceMap(quotes)

	accounts, err := r.deps.Account.Accounts(ctx)
	if err != nil {
		return fmt.Errorf("accounts: %w", err)
	}
	cash := cashOf(accounts, r.deps.Quote)

	positions, err := r.deps.Book.Positions(ctx)
	if err != nil {
		return err
	}
	c.Portfolio = risk.Portfolio{Cash: cash, Positions: positions, Prices: c.Prices}

	if c.History, err = r.deps.Book.History(ctx, r.deps.HistoryCount); err != nil {
		return err
	}
	if c.Totals, err = r.deps.Book.Totals(ctx); err != nil {
		return err
	}
	return nil
}

func (r *Runner) synthesize(ctx context.Context, c *Cycle) error {
	proposals, err := r.deps.Synthesizer.Synthesize(ctx, synth.Input{
		Bundle:    c.Bundle,
		Tickers:   c.AdmittedTickers(),
		Prices:    c.Prices,
		Positions: c.Portfolio.Positions,
		Cash:      c.Portfolio.Cash,
		History:   c.History,
		Totals:    c.Totals,
	})
	if err != nil {
		return err
	}
	c.Proposals = proposals
	return nil
}

func (r *Runner) adjust(ctx context.Context, c *Cycle) error {
	adj, err := r.deps.Risk.Adjust(ctx, c.Proposals, c.Portfolio)
	if err != nil {
		return err
	}
	c.Adjustment = adj
	return nil
}

func (r *Runner) execute(ctx context.Context, c *Cycle) error {
	c.Execution = r.deps.Executor.Execute(ctx, c.Adjustment.Proposals)
	return nil
}

// report marks the admitted tickers reasoned and sends the cycle summary.
// Ledger read failures are kept on the cycle so the summary still goes out.
func (r *Runner) report(ctx context.Context, c *Cycle) error {
	at := r.now()
	for _, m := range c.Admitted {
		if err := r.deps.Admission.MarkReasoned(ctx, m.Ticker, at); err != nil {
			c.Errors = append(c.Errors, err)
		}
	}

	var err error
	if c.Report, err = r.deps.Book.Report(ctx); err != nil {
		c.Errors = append(c.Errors, err)
	}
	if accounts, err := r.deps.Account.Accounts(ctx); err == nil {
		c.Portfolio.Cash = cashOf(accounts, r.deps.Quote)
	} else {
		c.Errors = append(c.Errors, err)
	}
	if positions, err := r.deps.Book.Positions(ctx); err == nil {
		c.Portfolio.Positions = positions
	} else {
		c.Errors = append(c.Errors, err)
	}
	if history, err := r.deps.Book.History(ctx, r.deps.HistoryCount); err == nil {
		c.History = history
	} else {
		c.Errors = append(c.Errors, err)
	}
	if totals, err := r.deps.Book.Totals(ctx); err == nil {
		c.Totals = totals
	} else {
		c.Errors = append(c.Errors, err)
	}

	c.Summary = Summary(c, r.deps.Quote)
	return r.notifier.Send(ctx, c.Summary)
}

func cashOf(accounts []exchange.Account, quote string) float64 {
	for _, a := range accounts {
		if a.Currency == quote {
			return a.Balance
		}
	}
	return 0
}
