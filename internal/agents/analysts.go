package agents

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"golang.org/x/sync/errgroup"

	"github.com/dyike/quorumtrade/internal/dataflows"
	"github.com/dyike/quorumtrade/internal/exchange"
	"github.com/dyike/quorumtrade/internal/llm"
	"github.com/dyike/quorumtrade/internal/models"
	"github.com/dyike/quorumtrade/internal/prompts"
)

const (
	TechnicalAnalystName = "technical_analyst"
	NewsAnalystName      = "news_analyst"
	SentimentAnalystName = "sentiment_analyst"
)

func newAnalyst(ctx context.Context, name, promptName string, cm model.BaseChatModel,
	vars func(context.Context, []models.MarketContext) (map[string]any, error)) (*Analyst, error) {
	system, user, err := prompts.Load(promptName)
	if err != nil {
		return nil, err
	}
	chain, err := llm.NewChain(ctx, name, llm.Template(system, user), cm)
	if err != nil {
		return nil, err
	}
	return &Analyst{name: name, chain: chain, vars: vars, now: time.Now}, nil
}

// technicalFrames are the candle widths the technical analyst reads.
var technicalFrames = []struct {
	unit  exchange.Granularity
	label string
}{
	{exchange.Hour1, "1-Hour"},
	{exchange.Hour4, "4-Hour"},
	{exchange.Day, "Daily"},
}

const technicalCandles = 60

// NewTechnicalAnalyst reads Bollinger bands, RSI, MACD and OBV over hourly,
// 4-hour and daily candles.
func NewTechnicalAnalyst(ctx context.Context, cm model.BaseChatModel, data MarketData) (*Analyst, error) {
	return newAnalyst(ctx, TechnicalAnalystName, prompts.TechnicalAnalyst, cm,
		func(ctx context.Context, markets []models.MarketContext) (map[string]any, error) {
			sections := make([]string, len(markets))
			g, gctx := errgroup.WithContext(ctx)
			for i, m := range markets {
				g.Go(func() error {
					s, err := technicalSection(gctx, data, m)
					sections[i] = s
					return err
				})
			}
			if err := g.Wait(); err != nil {
				return nil, err
			}
			return map[string]any{
				"market_data":   strings.Join(sections, "\n"),
				"output_format": prompts.OpinionFormat,
			}, nil
		})
}

func technicalSection(ctx context.Context, data MarketData, m models.MarketContext) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s (%s)\n\n", m.Ticker, m.Name)
	for _, f := range technicalFrames {
		candles, err := data.Candles(ctx, m.Ticker, f.unit, technicalCandles)
		if err != nil {
			return "", fmt.Errorf("candles %s %s: %w", m.Ticker, f.unit, err)
		}
		fmt.Fprintf(&sb, "### %s Candle\n%s\n\n", f.label, dataflows.CandleTable(candles, 10))
		snap, err := dataflows.Indicators(candles)
		if err != nil {
			fmt.Fprintf(&sb, "Indicators unavailable: %v\n\n", err)
			continue
		}
		fmt.Fprintf(&sb, "### %s Indicators\n%s\n\n", f.label, snap)
	}
	return sb.String(), nil
}

// HeadlineSource finds recent news for a query.
type HeadlineSource interface {
	Headlines(ctx context.Context, query string, limit int) ([]dataflows.Headline, error)
}

const headlinesPerMarket = 8

// NewNewsAnalyst judges recent headlines about each market's asset.
func NewNewsAnalyst(ctx context.Context, cm model.BaseChatModel, news HeadlineSource) (*Analyst, error) {
	return newAnalyst(ctx, NewsAnalystName, prompts.NewsAnalyst, cm,
		func(ctx context.Context, markets []models.MarketContext) (map[string]any, error) {
			var sb strings.Builder
			for _, m := range markets {
				query := m.Name
				if query == "" {
					query = exchange.BaseCurrency(m.Ticker)
				}
				headlines, err := news.Headlines(ctx, query+" crypto", headlinesPerMarket)
				if err != nil {
					return nil, fmt.Errorf("headlines %s: %w", m.Ticker, err)
				}
				fmt.Fprintf(&sb, "## %s (%s)\n", m.Ticker, m.Name)
				if len(headlines) == 0 {
					sb.WriteString("- no recent headlines\n")
				}
				for _, h := range headlines {
					fmt.Fprintf(&sb, "- [%s] %s (%s)\n", h.PublishedAt.UTC().Format("2006-01-02 15:04"), h.Title, h.Source)
				}
				sb.WriteString("\n")
			}
			return map[string]any{
				"headlines":     sb.String(),
				"output_format": prompts.OpinionFormat,
			}, nil
		})
}

// NewSentimentAnalyst infers crowd sentiment from 24h momentum, where price
// sits inside the day's range and the recent volume trend.
func NewSentimentAnalyst(ctx context.Context, cm model.BaseChatModel, data MarketData) (*Analyst, error) {
	return newAnalyst(ctx, SentimentAnalystName, prompts.SentimentAnalyst, cm,
		func(ctx context.Context, markets []models.MarketContext) (map[string]any, error) {
			tickers := make([]string, len(markets))
			for i, m := range markets {
				tickers[i] = m.Ticker
			}
			quotes, err := data.Tickers(ctx, tickers...)
			if err != nil {
				return nil, fmt.Errorf("tickers: %w", err)
			}
			byMarket := make(map[string]exchange.Ticker, len(quotes))
			for _, q := range quotes {
				byMarket[q.Market] = q
			}

			var sb strings.Builder
			for _, m := range markets {
				candles, err := data.Candles(ctx, m.Ticker, exchange.Hour1, 48)
				if err != nil {
					return nil, fmt.Errorf("candles %s: %w", m.Ticker, err)
				}
				fmt.Fprintf(&sb, "## %s (%s)\n%s\n", m.Ticker, m.Name, activity(byMarket[m.Ticker], candles))
			}
			return map[string]any{
				"activity":      sb.String(),
				"output_format": prompts.OpinionFormat,
			}, nil
		})
}

// activity summarizes a ticker and its last 48 hourly candles.
func activity(t exchange.Ticker, candles []exchange.Candle) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "- Last price: %g\n- 24h change: %.2f%%\n", t.TradePrice, t.ChangeRate*100)
	if t.HighPrice > t.LowPrice {
		fmt.Fprintf(&sb, "- Position in 24h range: %.0f%%\n", (t.TradePrice-t.LowPrice)/(t.HighPrice-t.LowPrice)*100)
	}
	if t.Volume24h > 0 {
		fmt.Fprintf(&sb, "- 24h volume: %g\n", t.Volume24h)
	}
	if n := len(candles); n >= 48 {
		recent, prior := sumVolume(candles[n-24:]), sumVolume(candles[:n-24])
		if prior > 0 {
			fmt.Fprintf(&sb, "- Volume last 24h vs prior 24h: %+.1f%%\n", (recent/prior-1)*100)
		}
		up := 0
		for _, c := range candles[n-24:] {
			if c.Close > c.Open {
				up++
			}
		}
		fmt.Fprintf(&sb, "- Up candles in last 24h: %d of 24\n", up)
	}
	return sb.String()
}

func sumVolume(candles []exchange.Candle) float64 {
	total := 0.0
	for _, c := range candles {
		if !math.IsNaN(c.Volume) {
			total += c.Volume
		}
	}
	return total
}
