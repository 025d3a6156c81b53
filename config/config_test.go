package config

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/quorumtrade/internal/models"
)

func TestDefaultsAreValid(t *testing.T) {
	t.Parallel()

	cfg := defaults(t.TempDir())
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 20000.0, cfg.Trading.MinTradeValue)
	assert.Equal(t, 3*time.Hour, cfg.Admission.Cooldown.Std())
	assert.Equal(t, 12*time.Hour, cfg.Admission.ReviewWindow.Std())
	assert.Equal(t, []string{"KRW-BTC", "KRW-ETH", "KRW-XRP"}, cfg.Tickers())
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no markets", func(c *Config) { c.Markets = nil }},
		{"duplicate market", func(c *Config) {
			c.Markets = []models.MarketContext{{Ticker: "KRW-BTC"}, {Ticker: "KRW-BTC"}}
		}},
		{"bad provider", func(c *Config) { c.LLM.Provider = "bard" }},
		{"zero min trade", func(c *Config) { c.Trading.MinTradeValue = 0 }},
		{"concentration above one", func(c *Config) { c.Trading.MaxConcentration = 1.5 }},
		{"zero quorum", func(c *Config) { c.Trading.QuorumSize = 0 }},
		{"zero fill timeout", func(c *Config) { c.Trading.FillTimeout = 0 }},
		{"window shorter than cooldown", func(c *Config) { c.Admission.ReviewWindow = Duration(time.Hour) }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo" }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := defaults(t.TempDir())
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestRequireCredentials(t *testing.T) {
	t.Parallel()

	cfg := defaults(t.TempDir())
	assert.Error(t, cfg.RequireCredentials())

	cfg.Trading.DryRun = true
	assert.NoError(t, cfg.RequireCredentials())

	cfg.Trading.DryRun = false
	cfg.Upbit.AccessKey, cfg.Upbit.SecretKey = "a", "s"
	assert.NoError(t, cfg.RequireCredentials())
}

func TestParseMarkets(t *testing.T) {
	t.Parallel()

	got := ParseMarkets("krw-btc:Bitcoin, KRW-ETH ,")
	assert.Equal(t, []models.MarketContext{
		{Ticker: "KRW-BTC", Name: "Bitcoin"},
		{Ticker: "KRW-ETH", Name: "KRW-ETH"},
	}, got)
}

func TestSaveAndLoadJSONAndYAML(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"config.json", "config.yaml"} {
		path := filepath.Join(t.TempDir(), name)
		cfg := defaults(filepath.Dir(path))
		cfg.Trading.FillTimeout = Duration(45 * time.Second)
		cfg.Telegram.ChatID = 42

		require.NoError(t, SaveToFile(path, cfg))
		loaded, err := LoadFromFile(path)
		require.NoError(t, err, name)
		assert.Equal(t, cfg, loaded, name)
	}
}

func TestDurationJSON(t *testing.T) {
	t.Parallel()

	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"1m30s"`), &d))
	assert.Equal(t, 90*time.Second, d.Std())

	require.NoError(t, json.Unmarshal([]byte(`1000000000`), &d))
	assert.Equal(t, time.Second, d.Std())

	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &d))

	out, err := json.Marshal(Duration(2 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, `"2h0m0s"`, string(out))
}
