// Package storagetest holds behaviour checks shared by every storage.Store.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/quorumtrade/internal/models"
	"github.com/dyike/quorumtrade/internal/storage"
)

var base = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func addAmount(delta float64) storage.PositionUpdate {
	return func(p models.Position) models.Position {
		p.Amount += delta
		p.LastUpdated = base
		return p
	}
}

// Run exercises a fresh store from newStore in every subtest.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("trades are ordered", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		dates := []time.Duration{2 * time.Hour, 0, time.Hour}
		for i, d := range dates {
			_, err := s.ApplyTrade(ctx, models.TradeRecord{
				ID:     string(rune('a' + i)),
				Date:   base.Add(d),
				Symbol: "KRW-BTC",
				Side:   models.SideBuy,
				Price:  float64(100 * (i + 1)),
				Amount: 1,
			}, addAmount(1))
			require.NoError(t, err)
		}

		all, err := s.Trades(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []float64{200, 300, 100}, []float64{all[0].Price, all[1].Price, all[2].Price})
		assert.True(t, all[0].Date.Equal(base))

		recent, err := s.RecentTrades(ctx, 2)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, 100.0, recent[0].Price)
		assert.Equal(t, 300.0, recent[1].Price)

		everything, err := s.RecentTrades(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, everything, 3)
	})

	t.Run("apply trade updates position", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		pos, err := s.Position(ctx, "KRW-ETH")
		require.NoError(t, err)
		assert.Nil(t, pos)

		next, err := s.ApplyTrade(ctx, models.TradeRecord{ID: "1", Date: base, Symbol: "KRW-ETH", Side: models.SideBuy, Price: 10, Amount: 2}, addAmount(2))
		require.NoError(t, err)
		assert.Equal(t, 2.0, next.Amount)

		_, err = s.ApplyTrade(ctx, models.TradeRecord{ID: "2", Date: base.Add(time.Minute), Symbol: "KRW-ETH", Side: models.SideSell, Price: 12, Amount: 0.5, CostBasis: 10}, addAmount(-0.5))
		require.NoError(t, err)

		pos, err = s.Position(ctx, "KRW-ETH")
		require.NoError(t, err)
		require.NotNil(t, pos)
		assert.InDelta(t, 1.5, pos.Amount, 1e-12)
		assert.True(t, pos.LastUpdated.Equal(base))

		trades, err := s.Trades(ctx)
		require.NoError(t, err)
		require.Len(t, trades, 2)
		assert.Equal(t, models.SideSell, trades[1].Side)
		assert.Equal(t, 10.0, trades[1].CostBasis)
	})

	t.Run("insert position only once", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		ok, err := s.InsertPosition(ctx, models.Position{Symbol: "KRW-XRP", Amount: 5, AverageBuyPrice: 700, LastUpdated: base})
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.InsertPosition(ctx, models.Position{Symbol: "KRW-XRP", Amount: 1, AverageBuyPrice: 1, LastUpdated: base})
		require.NoError(t, err)
		assert.False(t, ok)

		all, err := s.Positions(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, 5.0, all[0].Amount)
	})

	t.Run("reasoning upsert and reset", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		rec, err := s.Reasoning(ctx, "KRW-BTC")
		require.NoError(t, err)
		assert.Nil(t, rec)

		require.NoError(t, s.UpsertReasoning(ctx, models.ReasoningRecord{Ticker: "KRW-BTC", LastReasoningTime: base}))
		require.NoError(t, s.UpsertReasoning(ctx, models.ReasoningRecord{Ticker: "KRW-BTC", LastReasoningTime: base.Add(time.Hour)}))

		rec, err = s.Reasoning(ctx, "KRW-BTC")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.True(t, rec.LastReasoningTime.Equal(base.Add(time.Hour)))

		_, err = s.ApplyTrade(ctx, models.TradeRecord{ID: "x", Date: base, Symbol: "KRW-BTC", Side: models.SideBuy, Price: 1, Amount: 1}, addAmount(1))
		require.NoError(t, err)

		require.NoError(t, s.Reset(ctx))
		rec, err = s.Reasoning(ctx, "KRW-BTC")
		require.NoError(t, err)
		assert.Nil(t, rec)
		trades, err := s.Trades(ctx)
		require.NoError(t, err)
		assert.Empty(t, trades)
		positions, err := s.Positions(ctx)
		require.NoError(t, err)
		assert.Empty(t, positions)
	})
}
