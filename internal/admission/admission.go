// Package admission decides which markets enter an analysis cycle based on
// when they were last analyzed and how the held position is doing.
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dyike/quorumtrade/config"
	"github.com/dyike/quorumtrade/internal/exchange"
	"github.com/dyike/quorumtrade/internal/models"
	"github.com/dyike/quorumtrade/internal/notify"
)

// ReasoningStore is the subset of storage.Store the controller needs.
type ReasoningStore interface {
	Reasoning(ctx context.Context, ticker string) (*models.ReasoningRecord, error)
	UpsertReasoning(ctx context.Context, rec models.ReasoningRecord) error
}

// Market is the exchange view used for the profit check.
type Market interface {
	Tickers(ctx context.Context, markets ...string) ([]exchange.Ticker, error)
	Chance(ctx context.Context, market string) (exchange.Chance, error)
}

type Decision struct {
	Ticker string
	Admit  bool
	Reason string
}

type Controller struct {
	store    ReasoningStore
	market   Market
	notifier notify.Notifier
	cfg      config.AdmissionConfig
	now      func() time.Time
}

type Option func(*Controller)

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func WithNotifier(n notify.Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

func New(store ReasoningStore, market Market, cfg config.AdmissionConfig, opts ...Option) *Controller {
	c := &Controller{
		store:    store,
		market:   market,
		notifier: notify.LogNotifier{},
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Evaluate decides whether ticker should be analyzed now. Skips are sent to
// the notifier.
func (c *Controller) Evaluate(ctx context.Context, ticker string) (Decision, error) {
	d, err := c.evaluate(ctx, ticker)
	if err != nil {
		return Decision{Ticker: ticker}, err
	}
	if !d.Admit {
		log.Info().Str("ticker", ticker).Str("reason", d.Reason).Msg("admission skipped")
		_ = notify.Safe(c.notifier).Send(ctx, fmt.Sprintf("[%s] skipped: %s", ticker, d.Reason))
	}
	return d, nil
}

func (c *Controller) evaluate(ctx context.Context, ticker string) (Decision, error) {
	rec, err := c.store.Reasoning(ctx, ticker)
	if err != nil {
		return Decision{}, fmt.Errorf("load reasoning record %s: %w", ticker, err)
	}
	if rec == nil {
		return Decision{Ticker: ticker, Admit: true, Reason: "never analyzed"}, nil
	}

	elapsed := c.now().Sub(rec.LastReasoningTime)
	if elapsed < c.cfg.Cooldown.Std() {
		return Decision{Ticker: ticker, Reason: fmt.Sprintf("last analysis %s ago is within the %s cooldown", elapsed.Round(time.Minute), c.cfg.Cooldown)}, nil
	}
	if elapsed >= c.cfg.ReviewWindow.Std() {
		return Decision{Ticker: ticker, Admit: true, Reason: "review window elapsed"}, nil
	}

	tickers, err := c.market.Tickers(ctx, ticker)
	if err != nil {
		return Decision{}, fmt.Errorf("fetch ticker %s: %w", ticker, err)
	}
	price, ok := exchange.PriceMap(tickers)[ticker]
	if !ok {
		log.Warn().Str("ticker", ticker).Msg("no ticker returned; admitting without profit check")
		return Decision{Ticker: ticker, Admit: true, Reason: "no price available"}, nil
	}

	chance, err := c.market.Chance(ctx, ticker)
	if err != nil {
		return Decision{}, fmt.Errorf("fetch position %s: %w", ticker, err)
	}
	held := chance.AskAccount
	if held.Balance == 0 {
		return Decision{Ticker: ticker, Reason: "no open position"}, nil
	}
	target := held.AvgBuyPrice * c.cfg.ProfitMultiplier
	if price < target {
		return Decision{Ticker: ticker, Reason: fmt.Sprintf("price %.2f is below the profit target %.2f", price, target)}, nil
	}
	return Decision{Ticker: ticker, Admit: true, Reason: "profit target reached"}, nil
}

// Admit evaluates every market independently and returns the admitted ones.
// A market whose evaluation fails is left out and its error collected.
func (c *Controller) Admit(ctx context.Context, markets []models.MarketContext) ([]models.MarketContext, []Decision, error) {
	var (
		admitted  []models.MarketContext
		decisions []Decision
		errs      []error
	)
	for _, m := range markets {
		if err := ctx.Err(); err != nil {
			return admitted, decisions, err
		}
		d, err := c.Evaluate(ctx, m.Ticker)
		if err != nil {
			log.Error().Err(err).Str("ticker", m.Ticker).Msg("admission failed")
			errs = append(errs, err)
			continue
		}
		decisions = append(decisions, d)
		if d.Admit {
			admitted = append(admitted, m)
		}
	}
	return admitted, decisions, errors.Join(errs...)
}

// MarkReasoned records that ticker finished analysis at at.
func (c *Controller) MarkReasoned(ctx context.Context, ticker string, at time.Time) error {
	if at.IsZero() {
		at = c.now()
	}
	if err := c.store.UpsertReasoning(ctx, models.ReasoningRecord{Ticker: ticker, LastReasoningTime: at}); err != nil {
		return fmt.Errorf("mark %s reasoned: %w", ticker, err)
	}
	return nil
}
