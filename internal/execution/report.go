package execution

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/dyike/quorumtrade/internal/models"
)

type Status string

const (
	StatusSkipped     Status = "Skipped"
	StatusFilled      Status = "Filled"
	StatusUnconfirmed Status = "Unconfirmed"
	StatusFailed      Status = "Failed"
)

// Result is the outcome of one proposal. Trade is set only when filled.
type Result struct {
	Proposal models.TransactionProposal
	Status   Status
	Reason   string
	OrderID  string
	Trade    *models.TradeRecord
}

type Report struct {
	Results []Result
}

func (r *Report) add(res Result) { r.Results = append(r.Results, res) }

func (r Report) Count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

// Trades returns the recorded fills in execution order.
func (r Report) Trades() []models.TradeRecord {
	var out []models.TradeRecord
	for _, res := range r.Results {
		if res.Trade != nil {
			out = append(out, *res.Trade)
		}
	}
	return out
}

func (r Report) Table() string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Ticker", "Action", "Quantity", "Status", "Fill Price", "Filled", "Note"})
	for _, res := range r.Results {
		price, amount := "-", "-"
		if res.Trade != nil {
			price = fmt.Sprintf("%.2f", res.Trade.Price)
			amount = fmt.Sprintf("%.8f", res.Trade.Amount)
		}
		t.AppendRow(table.Row{
			res.Proposal.Ticker, res.Proposal.Action, fmt.Sprintf("%.8f", res.Proposal.Quantity),
			res.Status, price, amount, res.Reason,
		})
	}
	t.AppendFooter(table.Row{"", "", "", fmt.Sprintf("%d filled", r.Count(StatusFilled)), "", "", ""})
	return t.Render()
}
