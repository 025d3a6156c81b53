package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/dyike/quorumtrade/internal/models"
)

// Memory keeps everything in process. A positive capacity bounds the trade
// list and evicts the oldest record first.
type Memory struct {
	mu        sync.RWMutex
	capacity  int
	trades    []models.TradeRecord
	positions map[string]models.Position
	reasoning map[string]models.ReasoningRecord
}

func NewMemory(capacity int) *Memory {
	return &Memory{
		capacity:  capacity,
		positions: make(map[string]models.Position),
		reasoning: make(map[string]models.ReasoningRecord),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) ApplyTrade(ctx context.Context, trade models.TradeRecord, update PositionUpdate) (models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := sort.Search(len(m.trades), func(i int) bool { return m.trades[i].Date.After(trade.Date) })
	m.trades = append(m.trades, models.TradeRecord{})
	copy(m.trades[idx+1:], m.trades[idx:])
	m.trades[idx] = trade
	if m.capacity > 0 && len(m.trades) > m.capacity {
		m.trades = append(m.trades[:0:0], m.trades[len(m.trades)-m.capacity:]...)
	}

	current, ok := m.positions[trade.Symbol]
	if !ok {
		current = models.Position{Symbol: trade.Symbol}
	}
	next := update(current)
	m.positions[trade.Symbol] = next
	return next, nil
}

func (m *Memory) Trades(ctx context.Context) ([]models.TradeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.TradeRecord(nil), m.trades...), nil
}

func (m *Memory) RecentTrades(ctx context.Context, n int) ([]models.TradeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if n <= 0 || n > len(m.trades) {
		n = len(m.trades)
	}
	out := make([]models.TradeRecord, 0, n)
	for i := len(m.trades) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.trades[i])
	}
	return out, nil
}

func (m *Memory) Position(ctx context.Context, symbol string) (*models.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[symbol]
	if !ok {
		return nil, nil
	}
	return &pos, nil
}

func (m *Memory) Positions(ctx context.Context) ([]models.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (m *Memory) InsertPosition(ctx context.Context, pos models.Position) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.positions[pos.Symbol]; ok {
		return false, nil
	}
	m.positions[pos.Symbol] = pos
	return true, nil
}

func (m *Memory) Reasoning(ctx context.Context, ticker string) (*models.ReasoningRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.reasoning[ticker]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *Memory) UpsertReasoning(ctx context.Context, rec models.ReasoningRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reasoning[rec.Ticker] = rec
	return nil
}

func (m *Memory) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = nil
	m.positions = make(map[string]models.Position)
	m.reasoning = make(map[string]models.ReasoningRecord)
	return nil
}

func (m *Memory) Close() error { return nil }
