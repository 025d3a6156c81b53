package storage

import (
	"context"

	"github.com/dyike/quorumtrade/internal/models"
)

// PositionUpdate derives the new position from the current one. It must not
// fail; the store persists whatever it returns.
type PositionUpdate func(current models.Position) models.Position

// Store persists positions, trade records and reasoning records. Trades are
// append-only and exactly one pipeline cycle writes at a time.
type Store interface {
	// ApplyTrade appends trade and replaces the symbol's position with
	// update(current) as one step.
	ApplyTrade(ctx context.Context, trade models.TradeRecord, update PositionUpdate) (models.Position, error)
	// Trades returns every retained trade oldest first.
	Trades(ctx context.Context) ([]models.TradeRecord, error)
	// RecentTrades returns at most n trades newest first.
	RecentTrades(ctx context.Context, n int) ([]models.TradeRecord, error)

	// Position returns nil when the symbol has never traded.
	Position(ctx context.Context, symbol string) (*models.Position, error)
	Positions(ctx context.Context) ([]models.Position, error)
	// InsertPosition stores pos only if the symbol has no position yet.
	InsertPosition(ctx context.Context, pos models.Position) (bool, error)

	// Reasoning returns nil when the ticker was never analyzed.
	Reasoning(ctx context.Context, ticker string) (*models.ReasoningRecord, error)
	UpsertReasoning(ctx context.Context, rec models.ReasoningRecord) error

	Reset(ctx context.Context) error
	Close() error
}
