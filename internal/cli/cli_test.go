package cli

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/quorumtrade/config"
	"github.com/dyike/quorumtrade/internal/ledger"
	"github.com/dyike/quorumtrade/internal/models"
	"github.com/dyike/quorumtrade/internal/storage/sqlite"
)

func writeConfig(t *testing.T, edit func(*config.Config)) (string, config.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := *config.DefaultConfigWithRoot(dir)
	cfg.LLM.Provider = config.ProviderNone
	cfg.LLM.APIKey = ""
	cfg.Trading.DryRun = true
	cfg.Storage.Driver = config.DriverSQLite
	cfg.Storage.Path = filepath.Join(dir, "trade.db")
	if edit != nil {
		edit(&cfg)
	}
	path := filepath.Join(dir, "config.yaml")
	_, err := config.NewManager(config.WithConfigPath(path), config.WithInitialConfig(&cfg))
	require.NoError(t, err)
	return path, cfg
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "quorumtrade dev\n", out)
}

func TestConfigShowMasksSecrets(t *testing.T) {
	path, _ := writeConfig(t, func(c *config.Config) {
		c.LLM.APIKey = "sk-abcdef123456"
		c.Upbit.SecretKey = "upbit-secret-value"
	})

	out, err := execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, path)
	assert.Contains(t, out, "sk******56")
	assert.NotContains(t, out, "sk-abcdef123456")
	assert.NotContains(t, out, "upbit-secret-value")
	assert.Contains(t, out, "KRW-BTC")
}

func TestConfigValidate(t *testing.T) {
	path, _ := writeConfig(t, nil)
	out, err := execute(t, "--config", path, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "✅ config values")
	assert.Contains(t, out, "dry run")
	assert.Contains(t, out, "Configuration is valid.")

	var buf bytes.Buffer
	cfg := *config.DefaultConfigWithRoot(t.TempDir())
	cfg.Trading.DryRun = false
	cfg.Upbit = config.UpbitConfig{}
	err = validateConfig(&buf, cfg)
	assert.Error(t, err)
	assert.Contains(t, buf.String(), "❌ exchange credentials")
}

func TestLedgerCommands(t *testing.T) {
	path, cfg := writeConfig(t, nil)

	store, err := sqlite.Open(cfg.Storage.Path)
	require.NoError(t, err)
	book := ledger.New(store)
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err = book.RecordTrade(ctx, models.TradeRecord{Date: day, Symbol: "KRW-BTC", Side: models.SideBuy, Price: 100, Amount: 2})
	require.NoError(t, err)
	_, err = book.RecordTrade(ctx, models.TradeRecord{Date: day.Add(time.Hour), Symbol: "KRW-BTC", Side: models.SideSell, Price: 110, Amount: 1})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	out, err := execute(t, "--config", path, "history", "-n", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "Trading History")
	assert.Contains(t, out, "KRW-BTC")
	assert.Contains(t, out, "110.00")

	out, err = execute(t, "--config", path, "report")
	require.NoError(t, err)
	assert.Contains(t, out, "Performance")
	assert.Contains(t, out, "10.00%")

	out, err = execute(t, "--config", path, "reset", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "ledger cleared")

	out, err = execute(t, "--config", path, "history")
	require.NoError(t, err)
	assert.NotContains(t, out, "KRW-BTC")
}

func TestRunFlagsApply(t *testing.T) {
	cfg := config.Config{}
	got := runFlags{dryRun: true, einoDebug: true}.apply(cfg)
	assert.True(t, got.Trading.DryRun)
	assert.True(t, got.EinoDebug)

	got = runFlags{}.apply(config.Config{Trading: config.TradingConfig{DryRun: true}})
	assert.True(t, got.Trading.DryRun, "flags never turn dry run off")
}

func TestMask(t *testing.T) {
	assert.Equal(t, "", mask(""))
	assert.Equal(t, "****", mask("abcd"))
	assert.Equal(t, "ab******ef", mask("abcdef"))
}

func TestValidateMarkets(t *testing.T) {
	assert.NoError(t, validateMarkets("KRW-BTC:Bitcoin, KRW-ETH"))
	assert.Error(t, validateMarkets(" "))
	assert.Error(t, validateMarkets("BTC"))
}
