// Package agents implements the opinion producers that feed the quorum.
package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dyike/quorumtrade/internal/exchange"
	"github.com/dyike/quorumtrade/internal/llm"
	"github.com/dyike/quorumtrade/internal/models"
)

// MarketData is the exchange view the analysts read.
type MarketData interface {
	Tickers(ctx context.Context, markets ...string) ([]exchange.Ticker, error)
	Candles(ctx context.Context, market string, unit exchange.Granularity, count int) ([]exchange.Candle, error)
}

type opinionJSON struct {
	Ticker     string  `json:"Ticker"`
	Signal     string  `json:"Signal"`
	Confidence float64 `json:"Confidence"`
	Reasoning  string  `json:"Reasoning"`
}

type reportJSON struct {
	Opinions []opinionJSON `json:"Opinions"`
	Overall  *opinionJSON  `json:"Overall"`

	// Single market replies may come back flat.
	opinionJSON
}

// ParseOpinion decodes a model reply into a report covering exactly markets.
// Tickers the model skipped become Neutral with zero confidence and tickers
// that were not asked about are dropped.
func ParseOpinion(producer, reply string, markets []models.MarketContext) (models.AnalystReport, error) {
	var raw reportJSON
	if err := llm.DecodeJSON(reply, &raw); err != nil {
		return models.AnalystReport{}, fmt.Errorf("%s: %w", producer, err)
	}
	if len(raw.Opinions) == 0 && raw.Signal != "" && len(markets) == 1 {
		raw.opinionJSON.Ticker = markets[0].Ticker
		raw.Opinions = []opinionJSON{raw.opinionJSON}
	}

	byTicker := make(map[string]models.Opinion, len(raw.Opinions))
	for _, o := range raw.Opinions {
		op, err := toOpinion(producer, o)
		if err != nil {
			return models.AnalystReport{}, err
		}
		byTicker[strings.ToUpper(strings.TrimSpace(o.Ticker))] = op
	}

	report := models.AnalystReport{Producer: producer}
	for _, m := range markets {
		op, ok := byTicker[strings.ToUpper(m.Ticker)]
		if !ok {
			op = models.Opinion{Producer: producer, Signal: models.SignalNeutral, Reasoning: "no opinion returned"}
		}
		op.Ticker = m.Ticker
		report.Opinions = append(report.Opinions, op)
	}
	if raw.Overall != nil && raw.Overall.Signal != "" {
		overall, err := toOpinion(producer, *raw.Overall)
		if err != nil {
			return models.AnalystReport{}, err
		}
		overall.Ticker = ""
		report.Overall = &overall
	}
	return report, nil
}

func toOpinion(producer string, o opinionJSON) (models.Opinion, error) {
	signal, err := models.ParseSignal(o.Signal)
	if err != nil {
		return models.Opinion{}, fmt.Errorf("%s: %w", producer, err)
	}
	return models.Opinion{
		Producer:   producer,
		Ticker:     o.Ticker,
		Signal:     signal,
		Confidence: models.ClampConfidence(o.Confidence),
		Reasoning:  strings.TrimSpace(o.Reasoning),
	}, nil
}

// Analyst renders market specific variables into a prompt chain and
// parses the reply.
type Analyst struct {
	name  string
	chain llm.Runnable
	vars  func(ctx context.Context, markets []models.MarketContext) (map[string]any, error)
	now   func() time.Time
}

func (a *Analyst) Name() string { return a.name }

func (a *Analyst) Analyze(ctx context.Context, markets []models.MarketContext) (models.AnalystReport, error) {
	vars, err := a.vars(ctx, markets)
	if err != nil {
		return models.AnalystReport{}, fmt.Errorf("%s: prepare input: %w", a.name, err)
	}
	vars["current_date_time"] = a.now().UTC().Format("2006-01-02 15:04 MST")

	reply, err := a.chain.Invoke(ctx, vars)
	if err != nil {
		return models.AnalystReport{}, fmt.Errorf("%s: %w", a.name, err)
	}
	return ParseOpinion(a.name, reply, markets)
}
