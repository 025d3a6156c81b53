package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/quorumtrade/internal/exchange"
	"github.com/dyike/quorumtrade/internal/models"
	"github.com/dyike/quorumtrade/internal/storage"
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	l := New(storage.NewMemory(50))
	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return l
}

func TestRecordTradeWeightedAverage(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)

	_, err := l.RecordTrade(ctx, models.TradeRecord{Symbol: "KRW-BTC", Side: models.SideBuy, Price: 100, Amount: 1})
	require.NoError(t, err)
	pos, err := l.RecordTrade(ctx, models.TradeRecord{Symbol: "KRW-BTC", Side: models.SideBuy, Price: 200, Amount: 1})
	require.NoError(t, err)
	assert.InDelta(t, 2, pos.Amount, 1e-12)
	assert.InDelta(t, 150, pos.AverageBuyPrice, 1e-12)

	pos, err = l.RecordTrade(ctx, models.TradeRecord{Symbol: "KRW-BTC", Side: models.SideSell, Price: 180, Amount: 0.5})
	require.NoError(t, err)
	assert.InDelta(t, 1.5, pos.Amount, 1e-12)
	assert.InDelta(t, 150, pos.AverageBuyPrice, 1e-12)

	history, err := l.History(ctx, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.SideSell, history[0].Side)
	assert.InDelta(t, 150, history[0].CostBasis, 1e-12)
	assert.NotEmpty(t, history[0].ID)
}

func TestSellClosesPosition(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)

	_, err := l.RecordTrade(ctx, models.TradeRecord{Symbol: "KRW-ETH", Side: models.SideBuy, Price: 10, Amount: 3})
	require.NoError(t, err)
	pos, err := l.RecordTrade(ctx, models.TradeRecord{Symbol: "KRW-ETH", Side: models.SideSell, Price: 12, Amount: 5})
	require.NoError(t, err)
	assert.Zero(t, pos.Amount)
	assert.Zero(t, pos.AverageBuyPrice)

	open, err := l.Positions(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	got, err := l.Position(ctx, "KRW-ETH")
	require.NoError(t, err)
	assert.Zero(t, got.Amount)
}

func TestPositionUnknownSymbol(t *testing.T) {
	l := newLedger(t)
	pos, err := l.Position(context.Background(), "KRW-XRP")
	require.NoError(t, err)
	assert.Equal(t, "KRW-XRP", pos.Symbol)
	assert.Zero(t, pos.Amount)
}

func TestRecordTradeValidation(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)

	_, err := l.RecordTrade(ctx, models.TradeRecord{Side: models.SideBuy, Price: 1, Amount: 1})
	assert.Error(t, err)
	_, err = l.RecordTrade(ctx, models.TradeRecord{Symbol: "KRW-BTC", Side: "Short", Price: 1, Amount: 1})
	assert.Error(t, err)
	_, err = l.RecordTrade(ctx, models.TradeRecord{Symbol: "KRW-BTC", Side: models.SideBuy, Price: 1, Amount: -1})
	assert.Error(t, err)
}

func TestReportAndTotals(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)

	steps := []models.TradeRecord{
		{Symbol: "KRW-BTC", Side: models.SideBuy, Price: 100, Amount: 1},
		{Symbol: "KRW-BTC", Side: models.SideSell, Price: 110, Amount: 1},
		{Symbol: "KRW-ETH", Side: models.SideBuy, Price: 100, Amount: 2},
		{Symbol: "KRW-ETH", Side: models.SideSell, Price: 95, Amount: 2},
	}
	for _, s := range steps {
		_, err := l.RecordTrade(ctx, s)
		require.NoError(t, err)
	}

	report, err := l.Report(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.045, report.CumulativeReturn, 1e-12)
	assert.InDelta(t, -0.05, report.MaxDrawdown, 1e-12)

	totals, err := l.Totals(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.10, totals.ProfitRate, 1e-12)
	assert.InDelta(t, 0.05, totals.LossRate, 1e-12)
	assert.InDelta(t, 10, totals.Profit, 1e-9)
	assert.InDelta(t, -10, totals.Loss, 1e-9)
}

func TestEmptyReport(t *testing.T) {
	l := newLedger(t)
	report, err := l.Report(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.PerformanceReport{}, report)
}

func TestTryAddInitialPositionAndSeed(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)

	ok, err := l.TryAddInitialPosition(ctx, models.Position{Symbol: "KRW-BTC", Amount: 1, AverageBuyPrice: 90})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.TryAddInitialPosition(ctx, models.Position{Symbol: "KRW-BTC", Amount: 5, AverageBuyPrice: 1})
	require.NoError(t, err)
	assert.False(t, ok)

	added, err := l.SeedFromAccounts(ctx, []exchange.Account{
		{Currency: "KRW", Balance: 1_000_000},
		{Currency: "BTC", Balance: 3, AvgBuyPrice: 50},
		{Currency: "ETH", Balance: 2, Locked: 1, AvgBuyPrice: 10},
		{Currency: "XRP"},
	}, "KRW")
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	btc, err := l.Position(ctx, "KRW-BTC")
	require.NoError(t, err)
	assert.InDelta(t, 1, btc.Amount, 1e-12)

	eth, err := l.Position(ctx, "KRW-ETH")
	require.NoError(t, err)
	assert.InDelta(t, 3, eth.Amount, 1e-12)

	require.NoError(t, l.Reset(ctx))
	open, err := l.Positions(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestTables(t *testing.T) {
	positions := []models.Position{
		{Symbol: "KRW-BTC", Amount: 0.5, AverageBuyPrice: 100},
		{Symbol: "KRW-ETH", Amount: 1, AverageBuyPrice: 10},
	}
	out := PortfolioTable(positions, map[string]float64{"KRW-BTC": 110}, 5000, "KRW")
	assert.Contains(t, out, "KRW-BTC")
	assert.Contains(t, out, "10.00%")
	assert.Contains(t, out, "Available Balance : 5000.00 KRW")

	trades := []models.TradeRecord{{Date: time.Now(), Symbol: "KRW-BTC", Side: models.SideSell, Price: 110, Amount: 1, CostBasis: 100}}
	hist := HistoryTable(trades, SumTotals(trades))
	assert.Contains(t, hist, "110.00")
	assert.Contains(t, hist, "Total Profit : 10.00")

	assert.Contains(t, ReportTable(models.PerformanceReport{CumulativeReturn: 0.045}), "4.50%")
}
