// Package execution places adjusted proposals on the exchange and records the
// resulting fills.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/dyike/quorumtrade/config"
	"github.com/dyike/quorumtrade/internal/exchange"
	"github.com/dyike/quorumtrade/internal/models"
	"github.com/dyike/quorumtrade/internal/notify"
	"github.com/dyike/quorumtrade/internal/retry"
)

var (
	ErrUnconfirmed = errors.New("execution: fill not confirmed before timeout")
	ErrNoFill      = errors.New("execution: order closed without fills")
)

// Recorder persists executed fills.
type Recorder interface {
	RecordTrade(ctx context.Context, trade models.TradeRecord) (models.Position, error)
}

type Options struct {
	MinTradeValue float64
	// Throttle is waited before every exchange call.
	Throttle    time.Duration
	SettleDelay time.Duration
	FillTimeout time.Duration
	Poll        retry.Config
}

// DefaultFillTimeout bounds fill confirmation when Options leaves it unset.
const DefaultFillTimeout = 30 * time.Second

func DefaultPoll() retry.Config {
	return retry.Config{BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second, Multiplier: 2}
}

func OptionsFromConfig(cfg config.TradingConfig) Options {
	return Options{
		MinTradeValue: cfg.MinTradeValue,
		Throttle:      cfg.Throttle.Std(),
		SettleDelay:   cfg.SettleDelay.Std(),
		FillTimeout:   cfg.FillTimeout.Std(),
		Poll:          DefaultPoll(),
	}
}

type Option func(*Engine)

func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

type Engine struct {
	client   exchange.Client
	recorder Recorder
	notifier notify.Notifier
	opts     Options
	now      func() time.Time
}

func New(client exchange.Client, recorder Recorder, opts Options, options ...Option) *Engine {
	e := &Engine{
		client:   client,
		recorder: recorder,
		notifier: notify.LogNotifier{},
		opts:     opts,
		now:      time.Now,
	}
	for _, o := range options {
		o(e)
	}
	e.notifier = notify.Safe(e.notifier)
	if e.opts.FillTimeout <= 0 {
		e.opts.FillTimeout = DefaultFillTimeout
	}
	if e.opts.Poll.BaseDelay <= 0 {
		e.opts.Poll = DefaultPoll()
	}
	return e
}

// Execute runs proposals in order. A failing proposal is reported and the
// rest still run.
func (e *Engine) Execute(ctx context.Context, proposals []models.TransactionProposal) Report {
	report := Report{Results: make([]Result, 0, len(proposals))}

	var tickers []string
	for _, p := range proposals {
		if p.IsActionable() {
			tickers = append(tickers, p.Ticker)
		}
	}
	var prices map[string]float64
	if len(tickers) > 0 {
		quotes, err := e.fetchTickers(ctx, tickers)
		if err != nil {
			e.alert(ctx, fmt.Sprintf("price fetch failed, no orders placed: %v", err))
			for _, p := range proposals {
				if p.IsActionable() {
					report.add(Result{Proposal: p, Status: StatusFailed, Reason: "price fetch: " + err.Error()})
				} else {
					report.add(Result{Proposal: p, Status: StatusSkipped, Reason: "hold"})
				}
			}
			return report
		}
		prices = exchange.PriceMap(quotes)
	}

	for _, p := range proposals {
		report.add(e.executeOne(ctx, p, prices))
	}
	return report
}

func (e *Engine) fetchTickers(ctx context.Context, tickers []string) ([]exchange.Ticker, error) {
	if err := e.throttle(ctx); err != nil {
		return nil, err
	}
	return e.client.Tickers(ctx, tickers...)
}

func (e *Engine) executeOne(ctx context.Context, p models.TransactionProposal, prices map[string]float64) Result {
	res := Result{Proposal: p}
	if !p.IsActionable() {
		res.Status, res.Reason = StatusSkipped, "hold"
		return res
	}
	if err := ctx.Err(); err != nil {
		res.Status, res.Reason = StatusFailed, err.Error()
		return res
	}

	price, ok := prices[p.Ticker]
	if !ok || price <= 0 {
		res.Status, res.Reason = StatusFailed, "no current price"
		e.alert(ctx, fmt.Sprintf("%s %s failed: no current price", p.Action, p.Ticker))
		return res
	}
	value := p.Quantity
	if p.Action == models.ActionSell {
		value = p.Quantity * price
	}
	if value < e.opts.MinTradeValue {
		res.Status = StatusSkipped
		res.Reason = fmt.Sprintf("value %.2f below minimum %.2f", value, e.opts.MinTradeValue)
		log.Info().Str("ticker", p.Ticker).Str("action", string(p.Action)).Msg(res.Reason)
		return res
	}

	trade, orderID, err := e.place(ctx, p)
	res.OrderID = orderID
	switch {
	case errors.Is(err, ErrUnconfirmed):
		res.Status, res.Reason = StatusUnconfirmed, err.Error()
		e.alert(ctx, fmt.Sprintf("%s %s order %s unconfirmed after %s", p.Action, p.Ticker, orderID, e.opts.FillTimeout))
		return res
	case err != nil:
		res.Status, res.Reason = StatusFailed, err.Error()
		e.alert(ctx, fmt.Sprintf("%s %s failed: %v", p.Action, p.Ticker, err))
		return res
	}

	res.Status, res.Trade = StatusFilled, &trade
	if _, err := e.recorder.RecordTrade(ctx, trade); err != nil {
		res.Reason = "record trade: " + err.Error()
		e.alert(ctx, fmt.Sprintf("%s %s filled but not recorded: %v", p.Action, p.Ticker, err))
	}
	log.Info().
		Str("ticker", trade.Symbol).
		Str("side", string(trade.Side)).
		Float64("price", trade.Price).
		Float64("amount", trade.Amount).
		Str("order", orderID).
		Msg("order filled")
	return res
}

// place submits one order and waits for it to settle.
func (e *Engine) place(ctx context.Context, p models.TransactionProposal) (models.TradeRecord, string, error) {
	if err := e.throttle(ctx); err != nil {
		return models.TradeRecord{}, "", err
	}
	chance, err := e.client.Chance(ctx, p.Ticker)
	if err != nil {
		return models.TradeRecord{}, "", fmt.Errorf("chance: %w", err)
	}

	req := OrderRequest(p)
	if err := e.throttle(ctx); err != nil {
		return models.TradeRecord{}, "", err
	}
	handle, err := e.client.PlaceOrder(ctx, req)
	if err != nil {
		return models.TradeRecord{}, "", fmt.Errorf("place order: %w", err)
	}
	log.Info().Str("ticker", p.Ticker).Str("order", handle.UUID).Str("side", string(req.Side)).Msg("order submitted")

	if err := retry.Sleep(ctx, e.opts.SettleDelay); err != nil {
		return models.TradeRecord{}, handle.UUID, err
	}
	status, err := e.await(ctx, handle.UUID)
	if err != nil {
		return models.TradeRecord{}, handle.UUID, err
	}
	filled := status.FilledVolume()
	if filled <= 0 {
		return models.TradeRecord{}, handle.UUID, fmt.Errorf("%w: state %s", ErrNoFill, status.State)
	}

	trade := models.TradeRecord{
		Date:   e.now(),
		Symbol: p.Ticker,
		Side:   models.SideBuy,
		Price:  status.AveragePrice(),
		Amount: filled,
	}
	if p.Action == models.ActionSell {
		trade.Side = models.SideSell
		trade.CostBasis = chance.AskAccount.AvgBuyPrice
	}
	return trade, handle.UUID, nil
}

// await polls the order with backoff until it is terminal or FillTimeout
// passes.
func (e *Engine) await(ctx context.Context, id string) (exchange.OrderStatus, error) {
	pollCtx, cancel := context.WithTimeout(ctx, e.opts.FillTimeout)
	defer cancel()

	for attempt := 0; ; attempt++ {
		if err := retry.Sleep(pollCtx, e.opts.Poll.Delay(attempt)); err != nil {
			return exchange.OrderStatus{}, e.pollErr(ctx, err)
		}
		if err := e.throttle(pollCtx); err != nil {
			return exchange.OrderStatus{}, e.pollErr(ctx, err)
		}
		status, err := e.client.Order(pollCtx, id)
		if err != nil {
			log.Warn().Err(err).Str("order", id).Int("attempt", attempt).Msg("order status poll failed")
			continue
		}
		if status.Terminal() {
			return status, nil
		}
	}
}

// pollErr tells a parent cancellation apart from the fill timeout.
func (e *Engine) pollErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %v", ErrUnconfirmed, err)
}

func (e *Engine) throttle(ctx context.Context) error {
	return retry.Sleep(ctx, e.opts.Throttle)
}

func (e *Engine) alert(ctx context.Context, text string) {
	log.Error().Msg(text)
	_ = e.notifier.Send(ctx, text)
}

// OrderRequest maps a proposal to a market order: buys spend quote currency,
// sells liquidate base volume. Amounts keep 8 fractional digits.
func OrderRequest(p models.TransactionProposal) exchange.OrderRequest {
	amount := decimal.NewFromFloat(p.Quantity).StringFixed(8)
	if p.Action == models.ActionSell {
		return exchange.OrderRequest{Market: p.Ticker, Side: exchange.SideAsk, Type: exchange.OrderTypeMarket, Volume: amount}
	}
	return exchange.OrderRequest{Market: p.Ticker, Side: exchange.SideBid, Type: exchange.OrderTypePrice, Price: amount}
}
