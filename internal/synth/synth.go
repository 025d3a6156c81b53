// Package synth turns a released opinion bundle into one transaction proposal
// per ticker.
package synth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dyike/quorumtrade/config"
	"github.com/dyike/quorumtrade/internal/models"
	"github.com/dyike/quorumtrade/internal/quorum"
)

var (
	ErrMalformedOutput   = errors.New("synth: malformed decision output")
	ErrDuplicateProposal = errors.New("synth: duplicate proposal")
)

// Input is everything a synthesizer sees for one cycle.
type Input struct {
	Bundle    *quorum.Bundle
	Tickers   []string
	Prices    map[string]float64
	Positions []models.Position
	Cash      float64
	History   []models.TradeRecord
	Totals    models.HistoryTotals
}

// tickers returns the tickers to decide on, falling back to the bundle.
func (in Input) tickers() []string {
	if len(in.Tickers) > 0 {
		return in.Tickers
	}
	if in.Bundle != nil {
		return in.Bundle.Tickers()
	}
	return nil
}

type Synthesizer interface {
	Synthesize(ctx context.Context, in Input) ([]models.TransactionProposal, error)
}

// Policy holds the trading thresholds both synthesizers apply.
type Policy struct {
	ProfitThreshold float64
	StopLoss        float64
	MinTradeValue   float64
	Quote           string
}

func PolicyFromConfig(cfg config.TradingConfig, quote string) Policy {
	return Policy{
		ProfitThreshold: cfg.ProfitThreshold,
		StopLoss:        cfg.StopLoss,
		MinTradeValue:   cfg.MinTradeValue,
		Quote:           quote,
	}
}

// Normalize returns exactly one proposal per ticker in tickers order.
// Missing tickers become Hold, proposals for other tickers are dropped.
func Normalize(proposals []models.TransactionProposal, tickers []string) ([]models.TransactionProposal, error) {
	wanted := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		wanted[t] = true
	}

	byTicker := make(map[string]models.TransactionProposal, len(proposals))
	for _, p := range proposals {
		p.Ticker = strings.ToUpper(strings.TrimSpace(p.Ticker))
		if p.Ticker == "" {
			return nil, fmt.Errorf("%w: proposal without ticker", ErrMalformedOutput)
		}
		switch p.Action {
		case models.ActionBuy, models.ActionSell, models.ActionHold:
		default:
			return nil, fmt.Errorf("%w: unknown action %q for %s", ErrMalformedOutput, p.Action, p.Ticker)
		}
		if p.Quantity < 0 || p.Quantity != p.Quantity {
			return nil, fmt.Errorf("%w: invalid quantity %v for %s", ErrMalformedOutput, p.Quantity, p.Ticker)
		}
		if !wanted[p.Ticker] {
			log.Warn().Str("ticker", p.Ticker).Msg("dropping proposal for unrequested ticker")
			continue
		}
		if _, dup := byTicker[p.Ticker]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateProposal, p.Ticker)
		}
		if p.Action == models.ActionHold {
			p.Quantity = 0
		}
		p.Confidence = models.ClampConfidence(p.Confidence)
		p.Reasoning = strings.TrimSpace(p.Reasoning)
		byTicker[p.Ticker] = p
	}

	out := make([]models.TransactionProposal, 0, len(tickers))
	for _, t := range tickers {
		p, ok := byTicker[t]
		if !ok {
			p = models.TransactionProposal{Ticker: t, Action: models.ActionHold, Reasoning: "no decision returned"}
		}
		out = append(out, p)
	}
	return out, nil
}

func positionMap(positions []models.Position) map[string]models.Position {
	out := make(map[string]models.Position, len(positions))
	for _, p := range positions {
		out[p.Symbol] = p
	}
	return out
}

func sortedTickers(prices map[string]float64) []string {
	out := make([]string, 0, len(prices))
	for t := range prices {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
