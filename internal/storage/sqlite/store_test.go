package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/quorumtrade/internal/models"
	"github.com/dyike/quorumtrade/internal/storage"
	"github.com/dyike/quorumtrade/internal/storage/storagetest"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "trade.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return openTemp(t)
	})
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "trade.db")
	at := time.Date(2025, 2, 3, 4, 5, 6, 789, time.UTC)

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.ApplyTrade(ctx, models.TradeRecord{ID: "01", Date: at, Symbol: "KRW-BTC", Side: models.SideBuy, Price: 100, Amount: 1},
		func(p models.Position) models.Position {
			p.Amount, p.AverageBuyPrice, p.LastUpdated = 1, 100, at
			return p
		})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	trades, err := s.Trades(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].Date.Equal(at))

	pos, err := s.Position(ctx, "KRW-BTC")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, 100.0, pos.AverageBuyPrice)
}

func TestDuplicateTradeIDRollsBack(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	add := func(p models.Position) models.Position { p.Amount++; return p }

	trade := models.TradeRecord{ID: "same", Date: time.Now(), Symbol: "KRW-BTC", Side: models.SideBuy, Price: 1, Amount: 1}
	_, err := s.ApplyTrade(ctx, trade, add)
	require.NoError(t, err)
	_, err = s.ApplyTrade(ctx, trade, add)
	require.Error(t, err)

	pos, err := s.Position(ctx, "KRW-BTC")
	require.NoError(t, err)
	assert.Equal(t, 1.0, pos.Amount)
}
