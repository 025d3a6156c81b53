package models

import (
	"fmt"
	"strings"
)

type Action string

const (
	ActionBuy  Action = "Buy"
	ActionSell Action = "Sell"
	ActionHold Action = "Hold"
)

// ParseAction accepts the action names in any letter case.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return ActionBuy, nil
	case "sell":
		return ActionSell, nil
	case "hold", "":
		return ActionHold, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// TransactionProposal is one candidate action for a ticker. Quantity is quote
// currency to spend for Buy and base asset to liquidate for Sell.
type TransactionProposal struct {
	Ticker     string  `json:"Ticker"`
	Action     Action  `json:"Action"`
	Quantity   float64 `json:"Quantity"`
	Confidence float64 `json:"Confidence"`
	Reasoning  string  `json:"Reasoning"`
}

func (p TransactionProposal) IsActionable() bool {
	return p.Action != ActionHold && p.Quantity > 0
}

func (p TransactionProposal) String() string {
	return fmt.Sprintf("%s %s qty=%.8f conf=%.1f", p.Action, p.Ticker, p.Quantity, p.Confidence)
}

// ClampConfidence bounds a confidence into [0, 100]; NaN becomes 0.
func ClampConfidence(c float64) float64 {
	switch {
	case c != c, c < 0:
		return 0
	case c > 100:
		return 100
	}
	return c
}
