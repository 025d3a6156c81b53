package ledger

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dyike/quorumtrade/internal/models"
)

func TestTradeReturnsUsesBuysUpToSellDate(t *testing.T) {
	t.Parallel()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []models.TradeRecord{
		{Symbol: "KRW-BTC", Side: models.SideBuy, Price: 100, Amount: 1, Date: base},
		{Symbol: "KRW-BTC", Side: models.SideSell, Price: 110, Amount: 1, Date: base.Add(time.Hour)},
		{Symbol: "KRW-BTC", Side: models.SideBuy, Price: 200, Amount: 1, Date: base.Add(2 * time.Hour)},
		{Symbol: "KRW-ETH", Side: models.SideSell, Price: 50, Amount: 1, Date: base.Add(3 * time.Hour)},
		{Symbol: "KRW-BTC", Side: models.SideSell, Price: 142.5, Amount: 1, Date: base.Add(4 * time.Hour)},
	}

	got := TradeReturns(trades)
	// The ETH sell has no buys and is skipped; the second BTC sell averages 100 and 200.
	assert.InDeltaSlice(t, []float64{0.10, -0.05}, got, 1e-12)
}

func TestComputeReport(t *testing.T) {
	t.Parallel()
	returns := []float64{0.10, -0.05}
	r := ComputeReport(returns)

	assert.InDelta(t, 0.045, r.CumulativeReturn, 1e-12)
	assert.InDelta(t, math.Pow(1.045, 126)-1, r.AnnualizedReturn, 1e-9)
	assert.InDelta(t, -0.05, r.MaxDrawdown, 1e-12)

	periodic := math.Pow(1.01, 1.0/365) - 1
	std := math.Sqrt((0.075*0.075 + 0.075*0.075) / 1)
	assert.InDelta(t, (0.025-periodic)/std*math.Sqrt(365), r.SharpeRatio, 1e-9)
}

func TestComputeReportEdgeCases(t *testing.T) {
	t.Parallel()
	assert.Equal(t, models.PerformanceReport{}, ComputeReport(nil))

	single := ComputeReport([]float64{0.2})
	assert.InDelta(t, 0.2, single.CumulativeReturn, 1e-12)
	assert.Zero(t, single.SharpeRatio)
	assert.Zero(t, single.MaxDrawdown)

	flat := ComputeReport([]float64{0.01, 0.01, 0.01})
	assert.Zero(t, flat.SharpeRatio)

	// 0.1 averages to 0.10000000000000002.
	assert.Zero(t, SharpeRatio([]float64{0.1, 0.1, 0.1}, AnnualRiskFreeRate))
}

func TestMaxDrawdownTracksPeak(t *testing.T) {
	t.Parallel()
	// 1 -> 1.2 -> 0.6 -> 0.66
	assert.InDelta(t, -0.5, MaxDrawdown([]float64{0.2, -0.5, 0.1}), 1e-12)
	assert.Zero(t, MaxDrawdown([]float64{0.1, 0.2}))
}
