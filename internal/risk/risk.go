// Package risk enforces trade size, concentration and cash limits on
// proposals before they reach the exchange.
package risk

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dyike/quorumtrade/config"
	"github.com/dyike/quorumtrade/internal/models"
	"github.com/dyike/quorumtrade/internal/synth"
)

const (
	RuleMinTradeValue   = "min_trade_value"
	RuleConcentration   = "max_concentration"
	RuleAvailableCash   = "available_cash"
	RuleHoldingExceeded = "holding_exceeded"
	RuleMissingPrice    = "missing_price"
)

// Violation records a proposal the rules changed or dropped.
type Violation struct {
	Ticker string
	Rule   string
	Detail string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s %s: %s", v.Ticker, v.Rule, v.Detail)
}

type Adjustment struct {
	Proposals  []models.TransactionProposal
	Rationale  string
	Violations []Violation
}

// Portfolio is the account state proposals are checked against.
type Portfolio struct {
	Cash      float64
	Positions []models.Position
	Prices    map[string]float64
}

// Value is cash plus every priced holding at its current price.
func (p Portfolio) Value() float64 {
	total := p.Cash
	for _, pos := range p.Positions {
		total += pos.Amount * p.Prices[pos.Symbol]
	}
	return total
}

type Limits struct {
	MinTradeValue    float64
	MaxConcentration float64
}

func LimitsFromConfig(cfg config.TradingConfig) Limits {
	return Limits{MinTradeValue: cfg.MinTradeValue, MaxConcentration: cfg.MaxConcentration}
}

// Reviewer revises proposals before the deterministic rules run.
type Reviewer interface {
	Review(ctx context.Context, proposals []models.TransactionProposal, pf Portfolio) ([]models.TransactionProposal, string, error)
}

type Option func(*Adjuster)

func WithReviewer(r Reviewer) Option {
	return func(a *Adjuster) { a.reviewer = r }
}

type Adjuster struct {
	limits   Limits
	reviewer Reviewer
}

func New(limits Limits, opts ...Option) *Adjuster {
	a := &Adjuster{limits: limits}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Adjust returns proposals ordered sells, buys, holds. Buys are clipped to the
// concentration headroom and to cash left after the sells; anything below the
// minimum trade value becomes a Hold.
func (a *Adjuster) Adjust(ctx context.Context, proposals []models.TransactionProposal, pf Portfolio) (Adjustment, error) {
	var adj Adjustment
	if a.reviewer != nil {
		tickers := make([]string, len(proposals))
		for i, p := range proposals {
			tickers[i] = p.Ticker
		}
		reviewed, summary, err := a.reviewer.Review(ctx, proposals, pf)
		if err != nil {
			return Adjustment{}, err
		}
		if proposals, err = synth.Normalize(reviewed, tickers); err != nil {
			return Adjustment{}, err
		}
		adj.Rationale = summary
	}

	ordered := append([]models.TransactionProposal(nil), proposals...)
	sort.SliceStable(ordered, func(i, j int) bool { return rank(ordered[i].Action) < rank(ordered[j].Action) })

	holdings := make(map[string]float64, len(pf.Positions))
	for _, pos := range pf.Positions {
		holdings[pos.Symbol] += pos.Amount
	}
	total := pf.Value()
	cash := pf.Cash

	violate := func(p *models.TransactionProposal, rule, format string, args ...any) {
		v := Violation{Ticker: p.Ticker, Rule: rule, Detail: fmt.Sprintf(format, args...)}
		adj.Violations = append(adj.Violations, v)
		log.Warn().Str("ticker", v.Ticker).Str("rule", v.Rule).Msg(v.Detail)
	}
	toHold := func(p *models.TransactionProposal, format string, args ...any) {
		violate(p, RuleMinTradeValue, format, args...)
		p.Action, p.Quantity = models.ActionHold, 0
	}

	for _, p := range ordered {
		if p.Action == models.ActionHold || p.Quantity <= 0 {
			p.Action, p.Quantity = models.ActionHold, 0
			adj.Proposals = append(adj.Proposals, p)
			continue
		}
		price, ok := pf.Prices[p.Ticker]
		if !ok || price <= 0 {
			violate(&p, RuleMissingPrice, "no current price, %s dropped", p.Action)
			continue
		}

		switch p.Action {
		case models.ActionSell:
			if held := holdings[p.Ticker]; p.Quantity > held {
				violate(&p, RuleHoldingExceeded, "sell %.8f clipped to held %.8f", p.Quantity, held)
				p.Quantity = held
			}
			if value := p.Quantity * price; value < a.limits.MinTradeValue {
				toHold(&p, "sell value %.2f below minimum %.2f", value, a.limits.MinTradeValue)
				break
			}
			holdings[p.Ticker] -= p.Quantity
			cash += p.Quantity * price

		case models.ActionBuy:
			if p.Quantity < a.limits.MinTradeValue {
				toHold(&p, "buy %.2f below minimum %.2f", p.Quantity, a.limits.MinTradeValue)
				break
			}
			headroom := math.Max(0, a.limits.MaxConcentration*total-holdings[p.Ticker]*price)
			if p.Quantity > headroom {
				violate(&p, RuleConcentration, "buy %.2f clipped to headroom %.2f", p.Quantity, headroom)
				p.Quantity = headroom
			}
			if p.Quantity > cash {
				violate(&p, RuleAvailableCash, "buy %.2f clipped to cash %.2f", p.Quantity, cash)
				p.Quantity = math.Max(0, cash)
			}
			if p.Quantity < a.limits.MinTradeValue {
				toHold(&p, "clipped buy %.2f below minimum %.2f", p.Quantity, a.limits.MinTradeValue)
				break
			}
			holdings[p.Ticker] += p.Quantity / price
			cash -= p.Quantity
		}
		adj.Proposals = append(adj.Proposals, p)
	}

	// Holds produced by the rules move behind the remaining trades.
	sort.SliceStable(adj.Proposals, func(i, j int) bool {
		return rank(adj.Proposals[i].Action) < rank(adj.Proposals[j].Action)
	})
	adj.Rationale = rationale(adj.Rationale, adj.Violations)
	return adj, nil
}

func rank(a models.Action) int {
	switch a {
	case models.ActionSell:
		return 0
	case models.ActionBuy:
		return 1
	}
	return 2
}

func rationale(summary string, violations []Violation) string {
	lines := make([]string, 0, len(violations)+1)
	if s := strings.TrimSpace(summary); s != "" {
		lines = append(lines, s)
	}
	for _, v := range violations {
		lines = append(lines, "- "+v.String())
	}
	if len(lines) == 0 {
		return "all proposals within limits"
	}
	return strings.Join(lines, "\n")
}
