package app

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/quorumtrade/config"
	"github.com/dyike/quorumtrade/internal/dataflows"
	"github.com/dyike/quorumtrade/internal/exchange"
	"github.com/dyike/quorumtrade/internal/llm/llmtest"
	"github.com/dyike/quorumtrade/internal/models"
)

type flatFeed struct {
	exchange.Client
}

func (flatFeed) Tickers(ctx context.Context, ms ...string) ([]exchange.Ticker, error) {
	out := make([]exchange.Ticker, 0, len(ms))
	for _, m := range ms {
		out = append(out, exchange.Ticker{Market: m, TradePrice: 100_000})
	}
	return out, nil
}

func (flatFeed) Candles(ctx context.Context, market string, unit exchange.Granularity, count int) ([]exchange.Candle, error) {
	return nil, nil
}

type noNews struct{}

func (noNews) Headlines(ctx context.Context, query string, limit int) ([]dataflows.Headline, error) {
	return nil, nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := *config.DefaultConfigWithRoot(t.TempDir())
	cfg.LLM.Provider = config.ProviderNone
	cfg.Storage.Driver = config.DriverMemory
	cfg.Trading.DryRun = true
	cfg.Trading.Throttle = 0
	cfg.Trading.SettleDelay = 0
	cfg.Telegram = config.TelegramConfig{}
	cfg.Discord = config.DiscordConfig{}
	return cfg
}

func TestBuildRulesDryRun(t *testing.T) {
	cfg := testConfig(t)
	e, err := Build(context.Background(), cfg, WithExchange(flatFeed{}))
	require.NoError(t, err)

	assert.Equal(t, "rules", e.Mode)
	assert.IsType(t, &exchange.Paper{}, e.Exchange)

	cycle, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, cycle.Admitted, len(cfg.Markets))
	for _, p := range cycle.Adjustment.Proposals {
		assert.Equal(t, models.ActionHold, p.Action, p.Ticker)
	}
	assert.Empty(t, cycle.Execution.Trades())

	require.NoError(t, e.Close())
	_, err = e.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrEngineClosed)
	assert.NoError(t, e.Close())
}

func TestBuildLLMMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Trading.LLMRiskReview = true
	cm := &llmtest.Model{Replies: []string{`{}`}}

	e, err := Build(context.Background(), cfg,
		WithExchange(flatFeed{}), WithChatModels(cm, cm), WithNewsSource(noNews{}))
	require.NoError(t, err)
	defer e.Close()
	assert.Equal(t, "llm", e.Mode)
}

func TestBuildErrors(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig(t)
	cfg.Trading.QuorumSize = 4
	_, err := Build(ctx, cfg, WithExchange(flatFeed{}))
	assert.ErrorContains(t, err, "quorum_size 4")

	cfg = testConfig(t)
	cfg.Trading.DryRun = false
	cfg.Upbit = config.UpbitConfig{}
	_, err = Build(ctx, cfg)
	assert.ErrorContains(t, err, "access_key")

	cfg = testConfig(t)
	cfg.Trading.MaxConcentration = 3
	_, err = Build(ctx, cfg, WithExchange(flatFeed{}))
	assert.ErrorContains(t, err, "invalid config")
}

func TestBuildSQLite(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Driver = config.DriverSQLite
	cfg.Storage.Path = filepath.Join(t.TempDir(), "db", "trade.db")

	e, err := Build(context.Background(), cfg, WithExchange(flatFeed{}))
	require.NoError(t, err)
	assert.FileExists(t, cfg.Storage.Path)
	assert.NoError(t, e.Close())
}

func TestRuntimeReload(t *testing.T) {
	cfg := testConfig(t)
	mgr, err := config.NewManager(
		config.WithConfigPath(filepath.Join(t.TempDir(), "config.yaml")),
		config.WithInitialConfig(&cfg),
	)
	require.NoError(t, err)

	var (
		mu     sync.Mutex
		topics []string
	)
	builder := func(c config.Config) (*Engine, error) {
		return Build(context.Background(), c, WithExchange(flatFeed{}))
	}
	rt, err := NewRuntime(mgr, WithBuilder(builder), WithoutWatch(), WithNotifier(func(topic, payload string) {
		mu.Lock()
		defer mu.Unlock()
		topics = append(topics, topic)
	}))
	require.NoError(t, err)
	defer rt.Close()

	first := rt.Engine()
	require.NotNil(t, first)
	assert.Same(t, first, rt.Source()())

	// Without a watcher the update is only persisted.
	require.NoError(t, rt.UpdateConfigJSON(`{"trading":{"min_trade_value":30000}}`))
	require.NoError(t, rt.reload(mgr.Get()))
	second := rt.Engine()
	assert.NotSame(t, first, second)
	assert.Equal(t, 30000.0, second.Config.Trading.MinTradeValue)
	assert.Greater(t, second.Version, first.Version)

	bad := mgr.Get()
	bad.Trading.QuorumSize = 9
	assert.Error(t, rt.reload(bad))
	assert.Same(t, second, rt.Engine(), "failed rebuild keeps the running engine")

	mu.Lock()
	assert.Equal(t, []string{"engine.reloaded", "engine.reloaded", "engine.reload_failed"}, topics)
	mu.Unlock()
}

func TestRuntimeRequiresManager(t *testing.T) {
	_, err := NewRuntime(nil)
	assert.Error(t, err)
}
