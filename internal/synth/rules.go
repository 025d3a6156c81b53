package synth

import (
	"context"
	"fmt"
	"math"

	"github.com/dyike/quorumtrade/internal/models"
)

// strongVote is the confidence weighted signal average needed to act on the
// quorum alone.
const strongVote = 0.5

// RuleSynthesizer applies the trading policy without a language model: take
// profit and stop loss on held assets, otherwise follow a strong quorum vote.
type RuleSynthesizer struct {
	policy Policy
	// BuyFraction of available cash is spent on a buy, never less than the
	// minimum trade value.
	BuyFraction float64
}

func NewRules(policy Policy) *RuleSynthesizer {
	return &RuleSynthesizer{policy: policy, BuyFraction: 0.1}
}

func (s *RuleSynthesizer) Synthesize(ctx context.Context, in Input) ([]models.TransactionProposal, error) {
	positions := positionMap(in.Positions)
	cash := in.Cash

	var out []models.TransactionProposal
	for _, ticker := range in.tickers() {
		vote := 0.0
		if in.Bundle != nil {
			vote = Vote(in.Bundle.Opinions(ticker))
		}
		p := s.decide(ticker, positions[ticker], in.Prices[ticker], vote, cash)
		if p.Action == models.ActionBuy {
			cash -= p.Quantity
		}
		out = append(out, p)
	}
	return Normalize(out, in.tickers())
}

func (s *RuleSynthesizer) decide(ticker string, pos models.Position, price, vote, cash float64) models.TransactionProposal {
	hold := models.TransactionProposal{
		Ticker:     ticker,
		Action:     models.ActionHold,
		Confidence: math.Abs(vote) * 100,
		Reasoning:  fmt.Sprintf("quorum vote %.2f", vote),
	}
	if price <= 0 {
		hold.Reasoning = "no price"
		return hold
	}

	if pos.Amount > 0 && pos.AverageBuyPrice > 0 {
		change := price/pos.AverageBuyPrice - 1
		switch {
		case change >= s.policy.ProfitThreshold:
			return models.TransactionProposal{
				Ticker: ticker, Action: models.ActionSell, Quantity: pos.Amount, Confidence: 100,
				Reasoning: fmt.Sprintf("take profit at %+.2f%%", change*100),
			}
		case change <= -s.policy.StopLoss:
			return models.TransactionProposal{
				Ticker: ticker, Action: models.ActionSell, Quantity: pos.Amount, Confidence: 100,
				Reasoning: fmt.Sprintf("stop loss at %+.2f%% with vote %.2f", change*100, vote),
			}
		case vote <= -strongVote:
			return models.TransactionProposal{
				Ticker: ticker, Action: models.ActionSell, Quantity: pos.Amount, Confidence: math.Abs(vote) * 100,
				Reasoning: fmt.Sprintf("strong bearish vote %.2f", vote),
			}
		}
	}

	if vote >= strongVote {
		spend := math.Min(cash, math.Max(s.policy.MinTradeValue, cash*s.BuyFraction))
		if spend >= s.policy.MinTradeValue {
			return models.TransactionProposal{
				Ticker: ticker, Action: models.ActionBuy, Quantity: spend, Confidence: vote * 100,
				Reasoning: fmt.Sprintf("strong bullish vote %.2f", vote),
			}
		}
		hold.Reasoning = fmt.Sprintf("bullish vote %.2f but not enough cash", vote)
	}
	return hold
}

// Vote averages signal scores weighted by confidence into [-1, 1].
func Vote(opinions []models.Opinion) float64 {
	if len(opinions) == 0 {
		return 0
	}
	total := 0.0
	for _, o := range opinions {
		total += o.Signal.Score() * models.ClampConfidence(o.Confidence) / 100
	}
	return total / float64(len(opinions))
}
