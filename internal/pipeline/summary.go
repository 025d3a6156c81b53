package pipeline

import (
	"fmt"
	"strings"

	"github.com/dyike/quorumtrade/internal/ledger"
)

// Summary renders the cycle for the notifier: decisions, risk notes,
// execution results, portfolio, trade history and performance.
func Summary(c *Cycle, quote string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Cycle %s (%s)\n\n", c.ID, c.StartedAt.UTC().Format("2006-01-02 15:04 MST"))

	if len(c.Adjustment.Proposals) > 0 {
		sb.WriteString("Decisions:\n")
		for _, p := range c.Adjustment.Proposals {
			fmt.Fprintf(&sb, "- %s", p)
			if p.Reasoning != "" {
				fmt.Fprintf(&sb, " (%s)", p.Reasoning)
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	if r := c.Adjustment.Rationale; r != "" {
		fmt.Fprintf(&sb, "Risk:\n%s\n\n", r)
	}
	if len(c.Execution.Results) > 0 {
		fmt.Fprintf(&sb, "Execution:\n%s\n\n", c.Execution.Table())
	}

	fmt.Fprintf(&sb, "Portfolio:\n%s\n\n", ledger.PortfolioTable(c.Portfolio.Positions, c.Prices, c.Portfolio.Cash, quote))
	fmt.Fprintf(&sb, "Trading History:\n%s\n\n", ledger.HistoryTable(c.History, c.Totals))
	fmt.Fprintf(&sb, "Performance:\n%s\n", ledger.ReportTable(c.Report))

	if len(c.Errors) > 0 {
		sb.WriteString("\nWarnings:\n")
		for _, err := range c.Errors {
			fmt.Fprintf(&sb, "- %v\n", err)
		}
	}
	return sb.String()
}
