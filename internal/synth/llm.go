package synth

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/rs/zerolog/log"

	"github.com/dyike/quorumtrade/internal/ledger"
	"github.com/dyike/quorumtrade/internal/llm"
	"github.com/dyike/quorumtrade/internal/models"
	"github.com/dyike/quorumtrade/internal/prompts"
)

const chainName = "portfolio_manager"

type decisionJSON struct {
	Ticker     string  `json:"Ticker"`
	Action     string  `json:"Action"`
	Quantity   float64 `json:"Quantity"`
	Confidence float64 `json:"Confidence"`
	Reasoning  string  `json:"Reasoning"`
}

// LLMSynthesizer asks the portfolio manager model for the final decisions.
type LLMSynthesizer struct {
	chain  llm.Runnable
	policy Policy
}

func NewLLM(ctx context.Context, cm model.BaseChatModel, policy Policy) (*LLMSynthesizer, error) {
	system, user, err := prompts.Load(prompts.PortfolioManager)
	if err != nil {
		return nil, err
	}
	chain, err := llm.NewChain(ctx, chainName, llm.Template(system, user), cm)
	if err != nil {
		return nil, err
	}
	return &LLMSynthesizer{chain: chain, policy: policy}, nil
}

func (s *LLMSynthesizer) Synthesize(ctx context.Context, in Input) ([]models.TransactionProposal, error) {
	if in.Bundle == nil {
		return nil, fmt.Errorf("synth: nil bundle")
	}
	reply, err := s.chain.Invoke(ctx, s.variables(in))
	if err != nil {
		return nil, fmt.Errorf("synth: %w", err)
	}
	proposals, err := ParseDecisions(reply)
	if err != nil {
		log.Error().Err(err).Str("reply", reply).Msg("portfolio manager reply rejected")
		return nil, err
	}
	return Normalize(proposals, in.tickers())
}

func (s *LLMSynthesizer) variables(in Input) map[string]any {
	return map[string]any{
		"profit_threshold_pct": fmt.Sprintf("%.4g", s.policy.ProfitThreshold*100),
		"stop_loss_pct":        fmt.Sprintf("%.4g", s.policy.StopLoss*100),
		"quote_currency":       s.policy.Quote,
		"min_trade_value":      fmt.Sprintf("%g", s.policy.MinTradeValue),
		"market_insight":       in.Bundle.Text(),
		"current_price":        PriceLines(in.Prices),
		"current_portfolio":    ledger.PortfolioTable(in.Positions, in.Prices, in.Cash, s.policy.Quote),
		"trading_history":      ledger.HistoryTable(in.History, in.Totals),
		"output_format":        prompts.DecisionFormat,
	}
}

// PriceLines renders prices one ticker per line in ticker order.
func PriceLines(prices map[string]float64) string {
	var sb strings.Builder
	for _, t := range sortedTickers(prices) {
		fmt.Fprintf(&sb, "- %s: %.2f\n", t, prices[t])
	}
	return sb.String()
}

// ParseDecisions decodes {"FinalDecisions": [...]}.
func ParseDecisions(reply string) ([]models.TransactionProposal, error) {
	var raw struct {
		FinalDecisions []decisionJSON `json:"FinalDecisions"`
	}
	if err := llm.DecodeJSON(reply, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if raw.FinalDecisions == nil {
		return nil, fmt.Errorf("%w: FinalDecisions missing", ErrMalformedOutput)
	}
	return toProposals(raw.FinalDecisions)
}

func toProposals(raw []decisionJSON) ([]models.TransactionProposal, error) {
	out := make([]models.TransactionProposal, 0, len(raw))
	for _, d := range raw {
		action, err := models.ParseAction(d.Action)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
		}
		out = append(out, models.TransactionProposal{
			Ticker:     d.Ticker,
			Action:     action,
			Quantity:   d.Quantity,
			Confidence: d.Confidence,
			Reasoning:  d.Reasoning,
		})
	}
	return out, nil
}
