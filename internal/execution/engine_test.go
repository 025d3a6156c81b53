package execution

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/quorumtrade/internal/exchange"
	"github.com/dyike/quorumtrade/internal/ledger"
	"github.com/dyike/quorumtrade/internal/models"
	"github.com/dyike/quorumtrade/internal/notify"
	"github.com/dyike/quorumtrade/internal/retry"
	"github.com/dyike/quorumtrade/internal/storage"
)

type feed struct {
	exchange.Client
	prices map[string]float64
	err    error
}

func (f *feed) Tickers(ctx context.Context, markets ...string) ([]exchange.Ticker, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []exchange.Ticker
	for _, m := range markets {
		if p, ok := f.prices[m]; ok {
			out = append(out, exchange.Ticker{Market: m, TradePrice: p})
		}
	}
	return out, nil
}

// venue wraps a paper account to observe requests and script order states.
type venue struct {
	*exchange.Paper
	mu       sync.Mutex
	requests []exchange.OrderRequest
	placeErr map[string]error
	override func(exchange.OrderStatus) exchange.OrderStatus
	polls    int
}

func (v *venue) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderHandle, error) {
	v.mu.Lock()
	v.requests = append(v.requests, req)
	err := v.placeErr[req.Market]
	v.mu.Unlock()
	if err != nil {
		return exchange.OrderHandle{}, err
	}
	return v.Paper.PlaceOrder(ctx, req)
}

func (v *venue) Order(ctx context.Context, id string) (exchange.OrderStatus, error) {
	st, err := v.Paper.Order(ctx, id)
	v.mu.Lock()
	defer v.mu.Unlock()
	v.polls++
	if err == nil && v.override != nil {
		st = v.override(st)
	}
	return st, err
}

type inbox struct {
	mu   sync.Mutex
	msgs []string
}

func (b *inbox) notifier() notify.Notifier {
	return notify.Func(func(ctx context.Context, text string) error {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.msgs = append(b.msgs, text)
		return nil
	})
}

func (b *inbox) joined() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.msgs, "\n")
}

type fixture struct {
	feed   *feed
	venue  *venue
	ledger *ledger.Ledger
	inbox  *inbox
	engine *Engine
}

func testOptions() Options {
	return Options{
		MinTradeValue: 20000,
		FillTimeout:   time.Second,
		Poll:          retry.Config{BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2},
	}
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &feed{prices: map[string]float64{"KRW-BTC": 100, "KRW-ETH": 1000}}
	paper := exchange.NewPaper(f, "KRW", 1_000_000)
	paper.Seed("ETH", 30, 800)
	v := &venue{Paper: paper, placeErr: map[string]error{}}
	l := ledger.New(storage.NewMemory(50))
	box := &inbox{}
	return &fixture{
		feed:   f,
		venue:  v,
		ledger: l,
		inbox:  box,
		engine: New(v, l, opts, WithNotifier(box.notifier())),
	}
}

func TestExecuteFillsAndRecords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newFixture(t, testOptions())

	report := fx.engine.Execute(ctx, []models.TransactionProposal{
		{Ticker: "KRW-ETH", Action: models.ActionSell, Quantity: 25},
		{Ticker: "KRW-BTC", Action: models.ActionBuy, Quantity: 20000},
		{Ticker: "KRW-XRP", Action: models.ActionHold},
	})
	require.Len(t, report.Results, 3)
	assert.Equal(t, StatusFilled, report.Results[0].Status)
	assert.Equal(t, StatusFilled, report.Results[1].Status)
	assert.Equal(t, StatusSkipped, report.Results[2].Status)
	assert.Equal(t, 2, report.Count(StatusFilled))

	sell := report.Results[0].Trade
	require.NotNil(t, sell)
	assert.Equal(t, models.SideSell, sell.Side)
	assert.InDelta(t, 1000, sell.Price, 1e-9)
	assert.InDelta(t, 25, sell.Amount, 1e-9)
	assert.InDelta(t, 800, sell.CostBasis, 1e-9)

	assert.Equal(t, []exchange.OrderRequest{
		{Market: "KRW-ETH", Side: exchange.SideAsk, Type: exchange.OrderTypeMarket, Volume: "25.00000000"},
		{Market: "KRW-BTC", Side: exchange.SideBid, Type: exchange.OrderTypePrice, Price: "20000.00000000"},
	}, fx.venue.requests)

	pos, err := fx.ledger.Position(ctx, "KRW-BTC")
	require.NoError(t, err)
	assert.InDelta(t, 200, pos.Amount, 1e-9)
	assert.InDelta(t, 100, pos.AverageBuyPrice, 1e-9)

	history, err := fx.ledger.History(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Len(t, report.Trades(), 2)
	assert.Contains(t, report.Table(), "2 filled")
	assert.Empty(t, fx.inbox.joined())
}

func TestExecuteMinimumTradeValue(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, testOptions())

	report := fx.engine.Execute(context.Background(), []models.TransactionProposal{
		{Ticker: "KRW-BTC", Action: models.ActionBuy, Quantity: 19999},
		{Ticker: "KRW-ETH", Action: models.ActionSell, Quantity: 19.999},
		{Ticker: "KRW-BTC", Action: models.ActionBuy, Quantity: 20000},
	})
	assert.Equal(t, StatusSkipped, report.Results[0].Status)
	assert.Contains(t, report.Results[0].Reason, "below minimum")
	assert.Equal(t, StatusSkipped, report.Results[1].Status)
	assert.Equal(t, StatusFilled, report.Results[2].Status)
	assert.Len(t, fx.venue.requests, 1)
}

func TestExecuteUnconfirmed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	opts := testOptions()
	opts.FillTimeout = 30 * time.Millisecond
	fx := newFixture(t, opts)
	fx.venue.override = func(st exchange.OrderStatus) exchange.OrderStatus {
		st.State, st.Trades, st.ExecutedVolume = exchange.StateWait, nil, 0
		return st
	}

	report := fx.engine.Execute(ctx, []models.TransactionProposal{{Ticker: "KRW-BTC", Action: models.ActionBuy, Quantity: 50000}})
	res := report.Results[0]
	assert.Equal(t, StatusUnconfirmed, res.Status)
	assert.NotEmpty(t, res.OrderID)
	assert.Nil(t, res.Trade)
	assert.Greater(t, fx.venue.polls, 1)
	assert.Contains(t, fx.inbox.joined(), "unconfirmed")

	history, err := fx.ledger.History(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestUnsetFillTimeoutIsBounded(t *testing.T) {
	t.Parallel()
	e := New(nil, nil, Options{MinTradeValue: 20000})
	assert.Equal(t, DefaultFillTimeout, e.opts.FillTimeout)
	assert.Equal(t, DefaultPoll(), e.opts.Poll)

	fx := newFixture(t, Options{MinTradeValue: 20000, Poll: testOptions().Poll})
	fx.engine.opts.FillTimeout = 20 * time.Millisecond
	fx.venue.override = func(st exchange.OrderStatus) exchange.OrderStatus {
		st.State, st.Trades, st.ExecutedVolume = exchange.StateWait, nil, 0
		return st
	}
	start := time.Now()
	report := fx.engine.Execute(context.Background(), []models.TransactionProposal{{Ticker: "KRW-BTC", Action: models.ActionBuy, Quantity: 50000}})
	assert.Equal(t, StatusUnconfirmed, report.Results[0].Status)
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecuteCancelledOrders(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, testOptions())
	fx.venue.override = func(st exchange.OrderStatus) exchange.OrderStatus {
		st.State, st.Trades, st.ExecutedVolume = exchange.StateCancel, nil, 0
		return st
	}
	report := fx.engine.Execute(context.Background(), []models.TransactionProposal{{Ticker: "KRW-BTC", Action: models.ActionBuy, Quantity: 50000}})
	assert.Equal(t, StatusFailed, report.Results[0].Status)
	assert.Contains(t, report.Results[0].Reason, "without fills")

	fx = newFixture(t, testOptions())
	fx.venue.override = func(st exchange.OrderStatus) exchange.OrderStatus {
		st.State = exchange.StateCancel
		return st
	}
	report = fx.engine.Execute(context.Background(), []models.TransactionProposal{{Ticker: "KRW-BTC", Action: models.ActionBuy, Quantity: 50000}})
	assert.Equal(t, StatusFilled, report.Results[0].Status)
}

func TestExecuteIsolatesFailures(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, testOptions())
	fx.venue.placeErr["KRW-BTC"] = errors.New("insufficient_funds_bid")

	report := fx.engine.Execute(context.Background(), []models.TransactionProposal{
		{Ticker: "KRW-BTC", Action: models.ActionBuy, Quantity: 50000},
		{Ticker: "KRW-DOGE", Action: models.ActionBuy, Quantity: 50000},
		{Ticker: "KRW-ETH", Action: models.ActionBuy, Quantity: 50000},
	})
	assert.Equal(t, StatusFailed, report.Results[0].Status)
	assert.Equal(t, StatusFailed, report.Results[1].Status)
	assert.Equal(t, "no current price", report.Results[1].Reason)
	assert.Equal(t, StatusFilled, report.Results[2].Status)

	msgs := fx.inbox.joined()
	assert.Contains(t, msgs, "Buy KRW-BTC failed")
	assert.Contains(t, msgs, "insufficient_funds_bid")
	assert.Contains(t, msgs, "Buy KRW-DOGE failed: no current price")
}

func TestExecutePriceFetchFailure(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, testOptions())
	fx.feed.err = errors.New("503")

	report := fx.engine.Execute(context.Background(), []models.TransactionProposal{
		{Ticker: "KRW-BTC", Action: models.ActionBuy, Quantity: 50000},
		{Ticker: "KRW-ETH", Action: models.ActionHold},
	})
	assert.Equal(t, StatusFailed, report.Results[0].Status)
	assert.Equal(t, StatusSkipped, report.Results[1].Status)
	assert.Empty(t, fx.venue.requests)
	assert.Contains(t, fx.inbox.joined(), "price fetch failed")
}

func TestExecuteThrottlesExchangeCalls(t *testing.T) {
	t.Parallel()
	opts := testOptions()
	opts.Throttle = 5 * time.Millisecond
	fx := newFixture(t, opts)

	start := time.Now()
	report := fx.engine.Execute(context.Background(), []models.TransactionProposal{{Ticker: "KRW-BTC", Action: models.ActionBuy, Quantity: 50000}})
	require.Equal(t, StatusFilled, report.Results[0].Status)
	// ticker fetch, chance, place and one status poll
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestOrderRequestFormatting(t *testing.T) {
	t.Parallel()
	assert.Equal(t, exchange.OrderRequest{Market: "KRW-BTC", Side: exchange.SideAsk, Type: exchange.OrderTypeMarket, Volume: "0.12345679"},
		OrderRequest(models.TransactionProposal{Ticker: "KRW-BTC", Action: models.ActionSell, Quantity: 0.123456789}))
	assert.Equal(t, "20000.00000000",
		OrderRequest(models.TransactionProposal{Ticker: "KRW-BTC", Action: models.ActionBuy, Quantity: 20000}).Price)
}
