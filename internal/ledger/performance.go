package ledger

import (
	"math"
	"sort"

	"github.com/dyike/quorumtrade/internal/models"
)

const (
	// AnnualizationPeriods converts the compounded return to a yearly figure.
	AnnualizationPeriods = 252
	// SharpePeriods scales the Sharpe ratio; crypto trades every calendar day.
	SharpePeriods = 365
	// AnnualRiskFreeRate is the yearly risk free rate used by the Sharpe ratio.
	AnnualRiskFreeRate = 0.01
)

// TradeReturns walks sells in date order and returns (sell - avgCost) / avgCost
// for each, where avgCost is the volume weighted price of all buys of the same
// symbol dated at or before the sell. Sells with no prior buys are skipped.
func TradeReturns(trades []models.TradeRecord) []float64 {
	sorted := append([]models.TradeRecord(nil), trades...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	var returns []float64
	for _, sell := range sorted {
		if sell.Side != models.SideSell || sell.Amount <= 0 {
			continue
		}
		var cost, amount float64
		for _, buy := range sorted {
			if buy.Side != models.SideBuy || buy.Symbol != sell.Symbol || buy.Date.After(sell.Date) {
				continue
			}
			cost += buy.Price * buy.Amount
			amount += buy.Amount
		}
		if amount <= 0 {
			continue
		}
		avg := cost / amount
		if avg > 0 {
			returns = append(returns, (sell.Price-avg)/avg)
		}
	}
	return returns
}

// ComputeReport derives the performance statistics of a return series. Every
// field is zero for an empty series.
func ComputeReport(returns []float64) models.PerformanceReport {
	if len(returns) == 0 {
		return models.PerformanceReport{}
	}
	cum := CumulativeReturn(returns)
	return models.PerformanceReport{
		CumulativeReturn: cum,
		AnnualizedReturn: AnnualizedReturn(cum, len(returns)),
		SharpeRatio:      SharpeRatio(returns, AnnualRiskFreeRate),
		MaxDrawdown:      MaxDrawdown(returns),
	}
}

func CumulativeReturn(returns []float64) float64 {
	growth := 1.0
	for _, r := range returns {
		growth *= 1 + r
	}
	return growth - 1
}

func AnnualizedReturn(cumulative float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return math.Pow(1+cumulative, float64(AnnualizationPeriods)/float64(n)) - 1
}

// SharpeRatio uses the sample standard deviation and is zero for fewer than
// two returns or a flat series.
func SharpeRatio(returns []float64, annualRiskFree float64) float64 {
	n := len(returns)
	if n < 2 || flat(returns) {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(n)

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	std := math.Sqrt(variance / float64(n-1))
	if std == 0 {
		return 0
	}

	periodic := math.Pow(1+annualRiskFree, 1.0/SharpePeriods) - 1
	return (mean - periodic) / std * math.Sqrt(SharpePeriods)
}

// flat reports a series with no spread. The mean of equal values can round
// away from them, leaving a residue the variance would read as risk.
func flat(returns []float64) bool {
	for _, r := range returns[1:] {
		if r != returns[0] {
			return false
		}
	}
	return true
}

// MaxDrawdown is the largest peak to trough decline of the compounded series
// starting at 1, reported as a non-positive number.
func MaxDrawdown(returns []float64) float64 {
	value, peak, worst := 1.0, 1.0, 0.0
	for _, r := range returns {
		value *= 1 + r
		if value > peak {
			peak = value
		}
		if dd := (peak - value) / peak; dd > worst {
			worst = dd
		}
	}
	if worst == 0 {
		return 0
	}
	return -worst
}
