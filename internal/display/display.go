// Package display renders cycles and ledger views for the terminal.
package display

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/dyike/quorumtrade/internal/admission"
	"github.com/dyike/quorumtrade/internal/execution"
	"github.com/dyike/quorumtrade/internal/ledger"
	"github.com/dyike/quorumtrade/internal/models"
	"github.com/dyike/quorumtrade/internal/pipeline"
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Padding(0, 1)

	SectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#3B82F6")).
			MarginTop(1)

	OKStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#10B981")).
		Bold(true)

	WarnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F59E0B"))

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)

	MutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))
)

func Title(text string) string { return TitleStyle.Render(text) }

func section(w io.Writer, name string) {
	fmt.Fprintln(w, SectionStyle.Render(name))
}

// Signal colors a signal green, red or grey.
func Signal(s models.Signal) string {
	switch s {
	case models.SignalBullish:
		return OKStyle.Render(string(s))
	case models.SignalBearish:
		return ErrorStyle.Render(string(s))
	}
	return MutedStyle.Render(string(s))
}

func Status(s execution.Status) string {
	switch s {
	case execution.StatusFilled:
		return OKStyle.Render(string(s))
	case execution.StatusFailed:
		return ErrorStyle.Render(string(s))
	case execution.StatusUnconfirmed:
		return WarnStyle.Render(string(s))
	}
	return MutedStyle.Render(string(s))
}

func admissionLine(d admission.Decision) string {
	mark := MutedStyle.Render("skip ")
	if d.Admit {
		mark = OKStyle.Render("admit")
	}
	return fmt.Sprintf("  %s %-10s %s", mark, d.Ticker, MutedStyle.Render(d.Reason))
}

// Opinions renders a ticker by producer grid of signals and confidences.
func Opinions(c *pipeline.Cycle) string {
	if c.Bundle == nil {
		return ""
	}
	header := table.Row{"Ticker"}
	for _, r := range c.Bundle.Reports {
		header = append(header, r.Producer)
	}
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(header)
	for _, ticker := range c.AdmittedTickers() {
		row := table.Row{ticker}
		for _, r := range c.Bundle.Reports {
			cell := "-"
			for _, o := range r.Opinions {
				if o.Ticker == ticker {
					cell = fmt.Sprintf("%s %.0f", Signal(o.Signal), o.Confidence)
					break
				}
			}
			row = append(row, cell)
		}
		t.AppendRow(row)
	}
	return t.Render()
}

// Cycle writes everything a finished or aborted cycle produced.
func Cycle(w io.Writer, c *pipeline.Cycle, quote string) {
	if c == nil {
		return
	}
	fmt.Fprintln(w, Title(fmt.Sprintf("Cycle %s  %s", c.ID, c.StartedAt.Local().Format("2006-01-02 15:04:05"))))

	if len(c.Decisions) > 0 {
		section(w, "Admission")
		for _, d := range c.Decisions {
			fmt.Fprintln(w, admissionLine(d))
		}
	}
	if c.Idle {
		fmt.Fprintln(w, MutedStyle.Render("No market admitted; nothing to do this cycle."))
		writeWarnings(w, c.Errors)
		return
	}

	if grid := Opinions(c); grid != "" {
		section(w, "Analyst Opinions")
		fmt.Fprintln(w, grid)
	}

	if len(c.Adjustment.Proposals) > 0 {
		section(w, "Decisions")
		for _, p := range c.Adjustment.Proposals {
			fmt.Fprintf(w, "  %s\n", p)
			if p.Reasoning != "" {
				fmt.Fprintf(w, "    %s\n", MutedStyle.Render(p.Reasoning))
			}
		}
	}
	if r := c.Adjustment.Rationale; r != "" {
		section(w, "Risk")
		fmt.Fprintln(w, indent(r))
	}

	if len(c.Execution.Results) > 0 {
		section(w, "Execution")
		fmt.Fprintln(w, c.Execution.Table())
		for _, res := range c.Execution.Results {
			if res.Status == execution.StatusFailed || res.Status == execution.StatusUnconfirmed {
				fmt.Fprintf(w, "  %s %s: %s\n", Status(res.Status), res.Proposal.Ticker, res.Reason)
			}
		}
	}

	if c.Prices != nil {
		Portfolio(w, c.Portfolio.Positions, c.Prices, c.Portfolio.Cash, quote)
		History(w, c.History, c.Totals)
		Performance(w, c.Report)
	}
	writeWarnings(w, c.Errors)
}

func Portfolio(w io.Writer, positions []models.Position, prices map[string]float64, cash float64, quote string) {
	section(w, "Portfolio")
	fmt.Fprintln(w, ledger.PortfolioTable(positions, prices, cash, quote))
}

func History(w io.Writer, trades []models.TradeRecord, totals models.HistoryTotals) {
	section(w, "Trading History")
	fmt.Fprintln(w, ledger.HistoryTable(trades, totals))
}

func Performance(w io.Writer, r models.PerformanceReport) {
	section(w, "Performance")
	fmt.Fprintln(w, ledger.ReportTable(r))
}

func writeWarnings(w io.Writer, errs []error) {
	if len(errs) == 0 {
		return
	}
	section(w, "Warnings")
	for _, err := range errs {
		fmt.Fprintf(w, "  %s %v\n", WarnStyle.Render("!"), err)
	}
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return strings.Join(lines, "\n")
}
