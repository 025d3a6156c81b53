package ledger

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/dyike/quorumtrade/internal/models"
)

// PortfolioTable renders holdings for prompts and reports. Positions without a
// price show a dash.
func PortfolioTable(positions []models.Position, prices map[string]float64, cash float64, quote string) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Market", "Amount", "Avg Buying Price", "Current Price", "Value", "P/L"})
	for _, p := range positions {
		price, ok := prices[p.Symbol]
		if !ok {
			t.AppendRow(table.Row{p.Symbol, fmtAmount(p.Amount), fmtPrice(p.AverageBuyPrice), "-", "-", "-"})
			continue
		}
		pl := "-"
		if p.AverageBuyPrice > 0 {
			pl = fmtRate((price - p.AverageBuyPrice) / p.AverageBuyPrice)
		}
		t.AppendRow(table.Row{p.Symbol, fmtAmount(p.Amount), fmtPrice(p.AverageBuyPrice), fmtPrice(price), fmtPrice(price * p.Amount), pl})
	}

	var b strings.Builder
	b.WriteString(t.Render())
	fmt.Fprintf(&b, "\nAvailable Balance : %s %s\n", fmtPrice(cash), quote)
	return b.String()
}

// HistoryTable renders closed trades newest first with profit and loss totals.
func HistoryTable(trades []models.TradeRecord, totals models.HistoryTotals) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Date", "Ticker", "Side", "Amount", "Buying Price", "Selling Price", "Profit Rate", "Loss Rate"})
	for _, tr := range trades {
		buying, selling := "-", "-"
		switch tr.Side {
		case models.SideBuy:
			buying = fmtPrice(tr.Price)
		case models.SideSell:
			selling = fmtPrice(tr.Price)
			if tr.CostBasis > 0 {
				buying = fmtPrice(tr.CostBasis)
			}
		}
		t.AppendRow(table.Row{
			tr.Date.UTC().Format("2006-01-02 15:04"),
			tr.Symbol,
			string(tr.Side),
			fmtAmount(tr.Amount),
			buying,
			selling,
			fmtRate(tr.ProfitRate()),
			fmtRate(tr.LossRate()),
		})
	}
	t.AppendFooter(table.Row{"Total", "", "", "", "", "", fmtRate(totals.ProfitRate), fmtRate(totals.LossRate)})

	var b strings.Builder
	b.WriteString(t.Render())
	fmt.Fprintf(&b, "\nTotal Profit : %s\nTotal Loss : %s\n", fmtPrice(totals.Profit), fmtPrice(totals.Loss))
	return b.String()
}

// ReportTable renders a performance report.
func ReportTable(r models.PerformanceReport) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Cumulative Return", fmtRate(r.CumulativeReturn)},
		{"Annualized Return", fmtRate(r.AnnualizedReturn)},
		{"Sharpe Ratio", fmt.Sprintf("%.4f", r.SharpeRatio)},
		{"Max Drawdown", fmtRate(r.MaxDrawdown)},
	})
	return t.Render()
}

func fmtPrice(v float64) string  { return fmt.Sprintf("%.2f", v) }
func fmtAmount(v float64) string { return fmt.Sprintf("%.8f", v) }
func fmtRate(v float64) string   { return fmt.Sprintf("%.2f%%", v*100) }
