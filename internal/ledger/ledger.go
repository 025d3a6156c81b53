package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dyike/quorumtrade/internal/exchange"
	"github.com/dyike/quorumtrade/internal/models"
	"github.com/dyike/quorumtrade/internal/storage"
	"github.com/dyike/quorumtrade/pkg/id"
)

// dustAmount absorbs float drift when a sell closes a position.
const dustAmount = 1e-12

type Ledger struct {
	store storage.Store
	now   func() time.Time
}

func New(store storage.Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// ApplyTrade returns pos after trade using weighted average cost. A sell that
// leaves nothing (or slightly less than nothing) zeroes the position.
func ApplyTrade(pos models.Position, trade models.TradeRecord, at time.Time) models.Position {
	switch trade.Side {
	case models.SideBuy:
		total := pos.Amount + trade.Amount
		if total > 0 {
			pos.AverageBuyPrice = (pos.AverageBuyPrice*pos.Amount + trade.Price*trade.Amount) / total
		}
		pos.Amount = total
	case models.SideSell:
		pos.Amount -= trade.Amount
	}
	if pos.Amount <= dustAmount || math.IsNaN(pos.Amount) {
		pos.Amount = 0
		pos.AverageBuyPrice = 0
	}
	pos.LastUpdated = at
	return pos
}

// RecordTrade appends trade and updates the symbol's position.
func (l *Ledger) RecordTrade(ctx context.Context, trade models.TradeRecord) (models.Position, error) {
	if strings.TrimSpace(trade.Symbol) == "" {
		return models.Position{}, errors.New("ledger: trade symbol is required")
	}
	if trade.Side != models.SideBuy && trade.Side != models.SideSell {
		return models.Position{}, fmt.Errorf("ledger: invalid trade side %q", trade.Side)
	}
	if trade.Amount < 0 || trade.Price < 0 {
		return models.Position{}, fmt.Errorf("ledger: negative price or amount for %s", trade.Symbol)
	}
	if trade.Date.IsZero() {
		trade.Date = l.now()
	}
	if trade.ID == "" {
		trade.ID = id.NewAt(trade.Date)
	}
	if trade.Side == models.SideSell && trade.CostBasis == 0 {
		held, err := l.Position(ctx, trade.Symbol)
		if err != nil {
			return models.Position{}, fmt.Errorf("load position %s: %w", trade.Symbol, err)
		}
		trade.CostBasis = held.AverageBuyPrice
	}

	at := l.now()
	pos, err := l.store.ApplyTrade(ctx, trade, func(current models.Position) models.Position {
		return ApplyTrade(current, trade, at)
	})
	if err != nil {
		return models.Position{}, fmt.Errorf("record trade %s: %w", trade.Symbol, err)
	}

	log.Info().
		Str("symbol", trade.Symbol).
		Str("side", string(trade.Side)).
		Float64("price", trade.Price).
		Float64("amount", trade.Amount).
		Float64("position", pos.Amount).
		Float64("avg_price", pos.AverageBuyPrice).
		Msg("trade recorded")
	return pos, nil
}

// Position returns the symbol's position, zero valued if it never traded.
func (l *Ledger) Position(ctx context.Context, symbol string) (models.Position, error) {
	pos, err := l.store.Position(ctx, symbol)
	if err != nil {
		return models.Position{}, err
	}
	if pos == nil {
		return models.Position{Symbol: symbol}, nil
	}
	return *pos, nil
}

// Positions returns open positions only.
func (l *Ledger) Positions(ctx context.Context) ([]models.Position, error) {
	all, err := l.store.Positions(ctx)
	if err != nil {
		return nil, err
	}
	open := all[:0]
	for _, p := range all {
		if p.Amount > 0 {
			open = append(open, p)
		}
	}
	return open, nil
}

// History returns up to n trades, newest first.
func (l *Ledger) History(ctx context.Context, n int) ([]models.TradeRecord, error) {
	return l.store.RecentTrades(ctx, n)
}

// Report recomputes performance from the full retained trade history.
func (l *Ledger) Report(ctx context.Context) (models.PerformanceReport, error) {
	trades, err := l.store.Trades(ctx)
	if err != nil {
		return models.PerformanceReport{}, fmt.Errorf("load trades: %w", err)
	}
	return ComputeReport(TradeReturns(trades)), nil
}

// Totals sums profit and loss over sells that carry a cost basis.
func (l *Ledger) Totals(ctx context.Context) (models.HistoryTotals, error) {
	trades, err := l.store.Trades(ctx)
	if err != nil {
		return models.HistoryTotals{}, fmt.Errorf("load trades: %w", err)
	}
	return SumTotals(trades), nil
}

func SumTotals(trades []models.TradeRecord) models.HistoryTotals {
	var totals models.HistoryTotals
	for _, t := range trades {
		if t.Side != models.SideSell || t.CostBasis <= 0 {
			continue
		}
		pnl := (t.Price - t.CostBasis) * t.Amount
		if rate := t.ProfitRate(); rate > 0 {
			totals.ProfitRate += rate
			totals.Profit += pnl
		} else if rate < 0 {
			totals.LossRate += t.LossRate()
			totals.Loss += pnl
		}
	}
	return totals
}

// TryAddInitialPosition seeds a position for a symbol that has none yet.
func (l *Ledger) TryAddInitialPosition(ctx context.Context, pos models.Position) (bool, error) {
	if pos.LastUpdated.IsZero() {
		pos.LastUpdated = l.now()
	}
	if pos.Amount <= 0 {
		pos.Amount, pos.AverageBuyPrice = 0, 0
	}
	return l.store.InsertPosition(ctx, pos)
}

// SeedFromAccounts adds initial positions for exchange balances denominated in
// quote, e.g. a BTC balance becomes KRW-BTC. Returns how many were added.
func (l *Ledger) SeedFromAccounts(ctx context.Context, accounts []exchange.Account, quote string) (int, error) {
	added := 0
	for _, a := range accounts {
		if a.Currency == quote || a.Balance+a.Locked <= 0 {
			continue
		}
		ok, err := l.TryAddInitialPosition(ctx, models.Position{
			Symbol:          quote + "-" + a.Currency,
			Amount:          a.Balance + a.Locked,
			AverageBuyPrice: a.AvgBuyPrice,
		})
		if err != nil {
			return added, err
		}
		if ok {
			added++
		}
	}
	return added, nil
}

func (l *Ledger) Reset(ctx context.Context) error {
	return l.store.Reset(ctx)
}
