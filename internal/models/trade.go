package models

import "time"

type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// Position tracks the weighted average cost of the held amount of one symbol.
type Position struct {
	Symbol          string    `json:"symbol"`
	Amount          float64   `json:"amount"`
	AverageBuyPrice float64   `json:"average_buy_price"`
	LastUpdated     time.Time `json:"last_updated"`
}

// TradeRecord is an executed fill. CostBasis is the average buy price held
// before a sell and zero for buys.
type TradeRecord struct {
	ID        string    `json:"id"`
	Date      time.Time `json:"date"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Price     float64   `json:"price"`
	Amount    float64   `json:"amount"`
	CostBasis float64   `json:"cost_basis"`
}

func (t TradeRecord) ProfitRate() float64 {
	if t.Side != SideSell || t.CostBasis <= 0 {
		return 0
	}
	return (t.Price - t.CostBasis) / t.CostBasis
}

func (t TradeRecord) LossRate() float64 {
	if r := t.ProfitRate(); r < 0 {
		return -r
	}
	return 0
}

type ReasoningRecord struct {
	Ticker            string    `json:"ticker"`
	LastReasoningTime time.Time `json:"last_reasoning_time"`
}

type PerformanceReport struct {
	CumulativeReturn float64 `json:"cumulative_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	MaxDrawdown      float64 `json:"max_drawdown"`
}

// HistoryTotals aggregates closed sells that carry a cost basis.
type HistoryTotals struct {
	ProfitRate float64 `json:"profit_rate"`
	LossRate   float64 `json:"loss_rate"`
	Profit     float64 `json:"profit"`
	Loss       float64 `json:"loss"`
}
