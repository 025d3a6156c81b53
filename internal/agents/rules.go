package agents

import (
	"context"
	"fmt"
	"math"

	"github.com/dyike/quorumtrade/internal/dataflows"
	"github.com/dyike/quorumtrade/internal/exchange"
	"github.com/dyike/quorumtrade/internal/models"
)

// Rule scores one market from its candles.
type Rule func(candles []exchange.Candle) (models.Signal, float64, string, error)

// RuleProducer forms opinions without a language model. It backs dry runs and
// deployments without an LLM key.
type RuleProducer struct {
	name string
	unit exchange.Granularity
	data MarketData
	rule Rule
}

func NewRuleProducer(name string, unit exchange.Granularity, data MarketData, rule Rule) *RuleProducer {
	return &RuleProducer{name: name, unit: unit, data: data, rule: rule}
}

func (p *RuleProducer) Name() string { return p.name }

func (p *RuleProducer) Analyze(ctx context.Context, markets []models.MarketContext) (models.AnalystReport, error) {
	report := models.AnalystReport{Producer: p.name}
	for _, m := range markets {
		candles, err := p.data.Candles(ctx, m.Ticker, p.unit, 100)
		if err != nil {
			return models.AnalystReport{}, fmt.Errorf("%s: candles %s: %w", p.name, m.Ticker, err)
		}
		signal, conf, why, err := p.rule(candles)
		if err != nil {
			signal, conf, why = models.SignalNeutral, 0, err.Error()
		}
		report.Opinions = append(report.Opinions, models.Opinion{
			Producer:   p.name,
			Ticker:     m.Ticker,
			Signal:     signal,
			Confidence: models.ClampConfidence(conf),
			Reasoning:  why,
		})
	}
	return report, nil
}

// RuleProducers returns the three rule based producers used when no model is
// configured.
func RuleProducers(data MarketData) []*RuleProducer {
	return []*RuleProducer{
		NewRuleProducer("momentum", exchange.Hour1, data, MomentumRule),
		NewRuleProducer("trend", exchange.Hour4, data, TrendRule),
		NewRuleProducer("bands", exchange.Hour1, data, BandRule),
	}
}

// MomentumRule reads RSI(14) extremes and the MACD histogram.
func MomentumRule(candles []exchange.Candle) (models.Signal, float64, string, error) {
	snap, err := dataflows.Indicators(candles)
	if err != nil {
		return "", 0, "", err
	}
	score := 0.0
	switch {
	case snap.RSI < 30:
		score++
	case snap.RSI > 70:
		score--
	}
	switch {
	case snap.MACDHistogram > 0:
		score += 0.5
	case snap.MACDHistogram < 0:
		score -= 0.5
	}
	why := fmt.Sprintf("[RSI=%.2f] [MACD hist=%.4f]", snap.RSI, snap.MACDHistogram)
	return scoreSignal(score, 1.5), math.Abs(score) / 1.5 * 100, why, nil
}

// TrendRule compares EMA(20) with EMA(50) and price with EMA(20).
func TrendRule(candles []exchange.Candle) (models.Signal, float64, string, error) {
	if len(candles) < 50 {
		return "", 0, "", fmt.Errorf("need 50 candles, got %d", len(candles))
	}
	closes := dataflows.Closes(candles)
	fast, slow := dataflows.EMA(closes, 20).Last(), dataflows.EMA(closes, 50).Last()
	last := closes[len(closes)-1]

	score := 0.0
	if fast > slow {
		score++
	} else if fast < slow {
		score--
	}
	if last > fast {
		score += 0.5
	} else if last < fast {
		score -= 0.5
	}
	why := fmt.Sprintf("[EMA20=%.4f] [EMA50=%.4f] [Close=%.4f]", fast, slow, last)
	return scoreSignal(score, 1.5), math.Abs(score) / 1.5 * 100, why, nil
}

// BandRule treats closes outside the Bollinger bands as mean reversion
// signals.
func BandRule(candles []exchange.Candle) (models.Signal, float64, string, error) {
	snap, err := dataflows.Indicators(candles)
	if err != nil {
		return "", 0, "", err
	}
	pb := snap.PercentB
	why := fmt.Sprintf("[%%B=%.3f] [Width=%.4f]", pb, snap.BandWidth)
	switch {
	case math.IsNaN(pb):
		return models.SignalNeutral, 0, why, nil
	case pb < 0:
		return models.SignalBullish, math.Min(100, 60+(-pb)*100), why, nil
	case pb > 1:
		return models.SignalBearish, math.Min(100, 60+(pb-1)*100), why, nil
	}
	return models.SignalNeutral, (1 - math.Abs(pb-0.5)*2) * 50, why, nil
}

func scoreSignal(score, threshold float64) models.Signal {
	switch {
	case score >= threshold/2:
		return models.SignalBullish
	case score <= -threshold/2:
		return models.SignalBearish
	}
	return models.SignalNeutral
}
