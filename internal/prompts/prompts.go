// Package prompts holds the embedded prompt templates. Templates use FString
// placeholders such as {ticker}; literal braces are not allowed in them, so
// JSON reply formats are passed in through {output_format}.
package prompts

import (
	"embed"
	"fmt"
)

//go:embed templates
var files embed.FS

const (
	TechnicalAnalyst = "technical_analyst"
	NewsAnalyst      = "news_analyst"
	SentimentAnalyst = "sentiment_analyst"
	PortfolioManager = "portfolio_manager"
	RiskManager      = "risk_manager"
)

// Load returns the system and user templates of a prompt.
func Load(name string) (system, user string, err error) {
	sys, err := files.ReadFile(fmt.Sprintf("templates/%s.system.md", name))
	if err != nil {
		return "", "", fmt.Errorf("load prompt %s: %w", name, err)
	}
	usr, err := files.ReadFile(fmt.Sprintf("templates/%s.user.md", name))
	if err != nil {
		return "", "", fmt.Errorf("load prompt %s: %w", name, err)
	}
	return string(sys), string(usr), nil
}

// OpinionFormat is the reply format every analyst is asked for.
const OpinionFormat = `{
  "Opinions": [
    {
      "Ticker": "<string: the ticker, e.g. KRW-BTC>",
      "Signal": "<string: Bullish, Neutral or Bearish>",
      "Confidence": <number between 0 and 100>,
      "Reasoning": "<string: mid-length explanation citing the exact readings>"
    }
  ],
  "Overall": {
    "Signal": "<string: Bullish, Neutral or Bearish>",
    "Confidence": <number between 0 and 100>,
    "Reasoning": "<string: view on the market as a whole>"
  }
}`

// DecisionFormat is the reply format of the portfolio manager.
const DecisionFormat = `{
  "FinalDecisions": [
    {
      "Ticker": "KRW-BTC",
      "Action": "Buy/Sell/Hold",
      "Quantity": <number: quote currency to spend for Buy, asset amount for Sell, 0 for Hold>,
      "Confidence": <number between 0 and 100>,
      "Reasoning": "<string>"
    }
  ]
}`

// RiskFormat is the reply format of the risk manager.
const RiskFormat = `{
  "RiskAssessmentSummary": "<string: brief summary of the risk assessment>",
  "Recommendations": [
    {
      "Ticker": "<string>",
      "Action": "Buy/Sell/Hold",
      "Quantity": <number: quote currency for Buy, asset amount for Sell>,
      "Confidence": <number between 0 and 100>,
      "Reasoning": "<string>"
    }
  ]
}`
