// Package pipeline runs trading cycles: admission, quorum, synthesis, risk,
// execution and reporting, one stage after another.
package pipeline

import (
	"time"

	"github.com/dyike/quorumtrade/internal/admission"
	"github.com/dyike/quorumtrade/internal/execution"
	"github.com/dyike/quorumtrade/internal/models"
	"github.com/dyike/quorumtrade/internal/quorum"
	"github.com/dyike/quorumtrade/internal/risk"
	"github.com/dyike/quorumtrade/pkg/id"
)

type StageName string

const (
	StageAdmission StageName = "admission"
	StageQuorum    StageName = "quorum"
	StageMarket    StageName = "market"
	StageSynthesis StageName = "synthesis"
	StageRisk      StageName = "risk"
	StageExecution StageName = "execution"
	StageReport    StageName = "report"
)

// Stages is the order RunCycle dispatches in.
var Stages = []StageName{
	StageAdmission,
	StageQuorum,
	StageMarket,
	StageSynthesis,
	StageRisk,
	StageExecution,
	StageReport,
}

// Cycle carries one pass through the stages. Each stage reads what earlier
// stages filled in.
type Cycle struct {
	ID        string
	StartedAt time.Time
	Markets   []models.MarketContext

	Admitted  []models.MarketContext
	Decisions []admission.Decision
	// Idle is set when nothing was admitted and the remaining stages are skipped.
	Idle bool

	Bundle    *quorum.Bundle
	Prices    map[string]float64
	Portfolio risk.Portfolio
	History   []models.TradeRecord
	Totals    models.HistoryTotals

	Proposals  []models.TransactionProposal
	Adjustment risk.Adjustment
	Execution  execution.Report
	Report     models.PerformanceReport
	Summary    string

	// Errors holds failures that did not abort the cycle.
	Errors []error
}

func NewCycle(markets []models.MarketContext, now time.Time) *Cycle {
	return &Cycle{
		ID:        id.NewAt(now),
		StartedAt: now,
		Markets:   markets,
	}
}

// AdmittedTickers returns the admitted tickers in configuration order.
func (c *Cycle) AdmittedTickers() []string {
	out := make([]string, len(c.Admitted))
	for i, m := range c.Admitted {
		out[i] = m.Ticker
	}
	return out
}
