package risk

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/components/model"

	"github.com/dyike/quorumtrade/internal/ledger"
	"github.com/dyike/quorumtrade/internal/llm"
	"github.com/dyike/quorumtrade/internal/models"
	"github.com/dyike/quorumtrade/internal/prompts"
	"github.com/dyike/quorumtrade/internal/synth"
)

// LLMReviewer asks the risk manager model to revise proposals.
type LLMReviewer struct {
	chain  llm.Runnable
	limits Limits
	quote  string
}

var _ Reviewer = (*LLMReviewer)(nil)

func NewLLMReviewer(ctx context.Context, cm model.BaseChatModel, limits Limits, quote string) (*LLMReviewer, error) {
	system, user, err := prompts.Load(prompts.RiskManager)
	if err != nil {
		return nil, err
	}
	chain, err := llm.NewChain(ctx, "risk_manager", llm.Template(system, user), cm)
	if err != nil {
		return nil, err
	}
	return &LLMReviewer{chain: chain, limits: limits, quote: quote}, nil
}

type reviewJSON struct {
	RiskAssessmentSummary string `json:"RiskAssessmentSummary"`
	Recommendations       []struct {
		Ticker     string  `json:"Ticker"`
		Action     string  `json:"Action"`
		Quantity   float64 `json:"Quantity"`
		Confidence float64 `json:"Confidence"`
		Reasoning  string  `json:"Reasoning"`
	} `json:"Recommendations"`
}

func (r *LLMReviewer) Review(ctx context.Context, proposals []models.TransactionProposal, pf Portfolio) ([]models.TransactionProposal, string, error) {
	decisions, err := json.MarshalIndent(proposals, "", "  ")
	if err != nil {
		return nil, "", err
	}
	reply, err := r.chain.Invoke(ctx, map[string]any{
		"max_concentration_pct": fmt.Sprintf("%.4g", r.limits.MaxConcentration*100),
		"decisions":             string(decisions),
		"current_price":         synth.PriceLines(pf.Prices),
		"current_portfolio":     ledger.PortfolioTable(pf.Positions, pf.Prices, pf.Cash, r.quote),
		"min_trade_value":       fmt.Sprintf("%g", r.limits.MinTradeValue),
		"quote_currency":        r.quote,
		"output_format":         prompts.RiskFormat,
	})
	if err != nil {
		return nil, "", fmt.Errorf("risk review: %w", err)
	}

	var raw reviewJSON
	if err := llm.DecodeJSON(reply, &raw); err != nil {
		return nil, "", fmt.Errorf("%w: %v", synth.ErrMalformedOutput, err)
	}
	if raw.Recommendations == nil {
		return nil, "", fmt.Errorf("%w: Recommendations missing", synth.ErrMalformedOutput)
	}
	out := make([]models.TransactionProposal, 0, len(raw.Recommendations))
	for _, rec := range raw.Recommendations {
		action, err := models.ParseAction(rec.Action)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", synth.ErrMalformedOutput, err)
		}
		out = append(out, models.TransactionProposal{
			Ticker:     rec.Ticker,
			Action:     action,
			Quantity:   rec.Quantity,
			Confidence: rec.Confidence,
			Reasoning:  rec.Reasoning,
		})
	}
	return out, raw.RiskAssessmentSummary, nil
}
