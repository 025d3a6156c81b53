package models

import (
	"fmt"
	"strings"
)

// MarketContext identifies a configured market, e.g. {KRW-BTC, Bitcoin}.
type MarketContext struct {
	Ticker string `json:"ticker" yaml:"ticker"`
	Name   string `json:"name" yaml:"name"`
}

type Signal string

const (
	SignalBullish Signal = "Bullish"
	SignalNeutral Signal = "Neutral"
	SignalBearish Signal = "Bearish"
)

// ParseSignal normalizes free-form signals such as "High Bullish" or "bearish".
func ParseSignal(s string) (Signal, error) {
	v := strings.ToLower(s)
	switch {
	case strings.Contains(v, "bull"):
		return SignalBullish, nil
	case strings.Contains(v, "bear"):
		return SignalBearish, nil
	case strings.Contains(v, "neutral"):
		return SignalNeutral, nil
	}
	return "", fmt.Errorf("unknown signal %q", s)
}

// Score maps a signal onto -1, 0 or +1.
func (s Signal) Score() float64 {
	switch s {
	case SignalBullish:
		return 1
	case SignalBearish:
		return -1
	}
	return 0
}

// Opinion is one producer's view on one ticker.
type Opinion struct {
	Producer   string  `json:"producer"`
	Ticker     string  `json:"ticker"`
	Signal     Signal  `json:"signal"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// AnalystReport is everything one producer returns for a cycle: an opinion per
// ticker plus an optional overall view of the market.
type AnalystReport struct {
	Producer string    `json:"producer"`
	Opinions []Opinion `json:"opinions"`
	Overall  *Opinion  `json:"overall,omitempty"`
}
