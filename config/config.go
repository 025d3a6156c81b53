package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dyike/quorumtrade/internal/models"
)

const (
	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek"
	ProviderNone     = "none"

	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

type Config struct {
	DataDir   string `json:"data_dir" yaml:"data_dir"`
	Debug     bool   `json:"debug" yaml:"debug"`
	EinoDebug bool   `json:"eino_debug" yaml:"eino_debug"`

	Markets []models.MarketContext `json:"markets" yaml:"markets"`

	LLM       LLMConfig       `json:"llm" yaml:"llm"`
	Upbit     UpbitConfig     `json:"upbit" yaml:"upbit"`
	Telegram  TelegramConfig  `json:"telegram" yaml:"telegram"`
	Discord   DiscordConfig   `json:"discord" yaml:"discord"`
	Trading   TradingConfig   `json:"trading" yaml:"trading"`
	Admission AdmissionConfig `json:"admission" yaml:"admission"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
}

type LLMConfig struct {
	Provider   string `json:"provider" yaml:"provider"`
	APIKey     string `json:"api_key" yaml:"api_key"`
	BaseURL    string `json:"base_url" yaml:"base_url"`
	SmartModel string `json:"smart_model" yaml:"smart_model"`
	FastModel  string `json:"fast_model" yaml:"fast_model"`
	MaxTokens  int    `json:"max_tokens" yaml:"max_tokens"`
}

type UpbitConfig struct {
	AccessKey string `json:"access_key" yaml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key"`
	BaseURL   string `json:"base_url" yaml:"base_url"`
}

type TelegramConfig struct {
	BotToken string `json:"bot_token" yaml:"bot_token"`
	ChatID   int64  `json:"chat_id" yaml:"chat_id"`
}

type DiscordConfig struct {
	WebhookURL string `json:"webhook_url" yaml:"webhook_url"`
}

type TradingConfig struct {
	MinTradeValue    float64  `json:"min_trade_value" yaml:"min_trade_value"`
	MaxConcentration float64  `json:"max_concentration" yaml:"max_concentration"`
	ProfitThreshold  float64  `json:"profit_threshold" yaml:"profit_threshold"`
	StopLoss         float64  `json:"stop_loss" yaml:"stop_loss"`
	QuorumSize       int      `json:"quorum_size" yaml:"quorum_size"`
	Throttle         Duration `json:"throttle" yaml:"throttle"`
	SettleDelay      Duration `json:"settle_delay" yaml:"settle_delay"`
	FillTimeout      Duration `json:"fill_timeout" yaml:"fill_timeout"`
	Interval         Duration `json:"interval" yaml:"interval"`
	HistoryCount     int      `json:"history_count" yaml:"history_count"`
	DryRun           bool     `json:"dry_run" yaml:"dry_run"`
	PaperBalance     float64  `json:"paper_balance" yaml:"paper_balance"`
	LLMRiskReview    bool     `json:"llm_risk_review" yaml:"llm_risk_review"`
}

type AdmissionConfig struct {
	Cooldown         Duration `json:"cooldown" yaml:"cooldown"`
	ReviewWindow     Duration `json:"review_window" yaml:"review_window"`
	ProfitMultiplier float64  `json:"profit_multiplier" yaml:"profit_multiplier"`
}

type StorageConfig struct {
	Driver          string `json:"driver" yaml:"driver"`
	Path            string `json:"path" yaml:"path"`
	HistoryCapacity int    `json:"history_capacity" yaml:"history_capacity"`
}

func DefaultConfig() *Config {
	currentDir, _ := os.Getwd()
	cfg := defaults(currentDir)

	// Load environment variables from .env file
	_ = godotenv.Load()
	cfg.loadFromEnv()

	return cfg
}

// DefaultConfigWithRoot returns defaults whose data directory lives under root.
func DefaultConfigWithRoot(root string) *Config {
	cfg := defaults(root)
	_ = godotenv.Load()
	cfg.loadFromEnv()
	return cfg
}

func defaults(root string) *Config {
	dataDir := filepath.Join(root, "data")
	return &Config{
		DataDir: dataDir,
		Markets: []models.MarketContext{
			{Ticker: "KRW-BTC", Name: "Bitcoin"},
			{Ticker: "KRW-ETH", Name: "Ethereum"},
			{Ticker: "KRW-XRP", Name: "Ripple"},
		},
		LLM: LLMConfig{
			Provider:   ProviderOpenAI,
			SmartModel: "gpt-4o",
			FastModel:  "gpt-4o-mini",
			MaxTokens:  4096,
		},
		Upbit: UpbitConfig{
			BaseURL: "https://api.upbit.com/v1/",
		},
		Trading: TradingConfig{
			MinTradeValue:    20000,
			MaxConcentration: 0.5,
			ProfitThreshold:  0.05,
			StopLoss:         0.05,
			QuorumSize:       3,
			Throttle:         Duration(200 * time.Millisecond),
			SettleDelay:      Duration(time.Second),
			FillTimeout:      Duration(30 * time.Second),
			Interval:         Duration(time.Hour),
			HistoryCount:     10,
			PaperBalance:     1_000_000,
		},
		Admission: AdmissionConfig{
			Cooldown:         Duration(3 * time.Hour),
			ReviewWindow:     Duration(12 * time.Hour),
			ProfitMultiplier: 1.05,
		},
		Storage: StorageConfig{
			Driver:          DriverSQLite,
			Path:            filepath.Join(dataDir, "quorumtrade.db"),
			HistoryCapacity: 50,
		},
	}
}

func (c *Config) loadFromEnv() {
	if val := os.Getenv("DATA_DIR"); val != "" {
		c.DataDir = val
	}
	if val := os.Getenv("QUORUMTRADE_DEBUG"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.Debug = enabled
		}
	}
	if val := os.Getenv("EINO_DEBUG_ENABLED"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.EinoDebug = enabled
		}
	}
	if val := os.Getenv("MARKETS"); val != "" {
		if markets := ParseMarkets(val); len(markets) > 0 {
			c.Markets = markets
		}
	}

	if val := os.Getenv("LLM_PROVIDER"); val != "" {
		c.LLM.Provider = strings.ToLower(val)
	}
	switch {
	case os.Getenv("LLM_API_KEY") != "":
		c.LLM.APIKey = os.Getenv("LLM_API_KEY")
	case c.LLM.Provider == ProviderDeepSeek && os.Getenv("DEEPSEEK_API_KEY") != "":
		c.LLM.APIKey = os.Getenv("DEEPSEEK_API_KEY")
	case os.Getenv("OPENAI_API_KEY") != "":
		c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if val := os.Getenv("LLM_BASE_URL"); val != "" {
		c.LLM.BaseURL = val
	}
	if val := os.Getenv("SMART_MODEL"); val != "" {
		c.LLM.SmartModel = val
	}
	if val := os.Getenv("FAST_MODEL"); val != "" {
		c.LLM.FastModel = val
	}

	if val := os.Getenv("UPBIT_ACCESS_KEY"); val != "" {
		c.Upbit.AccessKey = val
	}
	if val := os.Getenv("UPBIT_SECRET_KEY"); val != "" {
		c.Upbit.SecretKey = val
	}
	if val := os.Getenv("UPBIT_BASE_URL"); val != "" {
		c.Upbit.BaseURL = val
	}

	if val := os.Getenv("TELEGRAM_BOT_TOKEN"); val != "" {
		c.Telegram.BotToken = val
	}
	if val := os.Getenv("TELEGRAM_CHAT_ID"); val != "" {
		if v, err := strconv.ParseInt(val, 10, 64); err == nil {
			c.Telegram.ChatID = v
		}
	}
	if val := os.Getenv("DISCORD_WEBHOOK_URL"); val != "" {
		c.Discord.WebhookURL = val
	}

	if val := os.Getenv("TRADING_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Trading.Interval = Duration(d)
		}
	}
	if val := os.Getenv("DRY_RUN"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.Trading.DryRun = enabled
		}
	}

	if val := os.Getenv("STORAGE_DRIVER"); val != "" {
		c.Storage.Driver = strings.ToLower(val)
	}
	if val := os.Getenv("DATABASE_PATH"); val != "" {
		c.Storage.Path = val
	}
}

// ParseMarkets reads "KRW-BTC:Bitcoin,KRW-ETH:Ethereum".
func ParseMarkets(val string) []models.MarketContext {
	var markets []models.MarketContext
	for _, item := range strings.Split(val, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		ticker, name, _ := strings.Cut(item, ":")
		ticker = strings.ToUpper(strings.TrimSpace(ticker))
		name = strings.TrimSpace(name)
		if name == "" {
			name = ticker
		}
		markets = append(markets, models.MarketContext{Ticker: ticker, Name: name})
	}
	return markets
}

func (c *Config) Validate() error {
	var errs []error

	if len(c.Markets) == 0 {
		errs = append(errs, errors.New("at least one market is required"))
	}
	seen := make(map[string]bool, len(c.Markets))
	for i, m := range c.Markets {
		if strings.TrimSpace(m.Ticker) == "" {
			errs = append(errs, fmt.Errorf("markets[%d]: ticker is required", i))
			continue
		}
		if seen[m.Ticker] {
			errs = append(errs, fmt.Errorf("markets[%d]: duplicate ticker %s", i, m.Ticker))
		}
		seen[m.Ticker] = true
	}

	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderDeepSeek, ProviderNone:
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be one of openai, deepseek, none (got %q)", c.LLM.Provider))
	}

	t := c.Trading
	if t.MinTradeValue <= 0 {
		errs = append(errs, errors.New("trading.min_trade_value must be > 0"))
	}
	if t.MaxConcentration <= 0 || t.MaxConcentration > 1 {
		errs = append(errs, errors.New("trading.max_concentration must be in (0, 1]"))
	}
	if t.ProfitThreshold < 0 || t.StopLoss < 0 {
		errs = append(errs, errors.New("trading.profit_threshold and trading.stop_loss must be >= 0"))
	}
	if t.DryRun && t.PaperBalance < 0 {
		errs = append(errs, errors.New("trading.paper_balance must be >= 0"))
	}
	if t.QuorumSize < 1 {
		errs = append(errs, errors.New("trading.quorum_size must be >= 1"))
	}
	if t.Throttle < 0 || t.SettleDelay < 0 || t.Interval < 0 {
		errs = append(errs, errors.New("trading durations must be >= 0"))
	}
	if t.FillTimeout <= 0 {
		errs = append(errs, errors.New("trading.fill_timeout must be > 0"))
	}

	a := c.Admission
	if a.Cooldown < 0 || a.ReviewWindow < a.Cooldown {
		errs = append(errs, errors.New("admission.review_window must be >= admission.cooldown >= 0"))
	}
	if a.ProfitMultiplier <= 0 {
		errs = append(errs, errors.New("admission.profit_multiplier must be > 0"))
	}

	switch c.Storage.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path is required for sqlite"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be sqlite or memory (got %q)", c.Storage.Driver))
	}
	if c.Storage.HistoryCapacity < 0 {
		errs = append(errs, errors.New("storage.history_capacity must be >= 0"))
	}

	return errors.Join(errs...)
}

// RequireCredentials checks the keys needed for live trading.
func (c *Config) RequireCredentials() error {
	if c.Trading.DryRun {
		return nil
	}
	if c.Upbit.AccessKey == "" || c.Upbit.SecretKey == "" {
		return errors.New("upbit access_key and secret_key are required unless dry_run is set")
	}
	return nil
}

func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	if c.Storage.Driver == DriverSQLite {
		dirs = append(dirs, filepath.Dir(c.Storage.Path))
	}
	for _, dir := range dirs {
		path := strings.TrimSpace(dir)
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", path, err)
		}
	}
	return nil
}

// Quote is the quote currency of the first market, e.g. "KRW".
func (c *Config) Quote() string {
	for _, m := range c.Markets {
		if quote, _, ok := strings.Cut(m.Ticker, "-"); ok && quote != "" {
			return quote
		}
	}
	return "KRW"
}

// Tickers returns the configured market tickers in order.
func (c *Config) Tickers() []string {
	out := make([]string, 0, len(c.Markets))
	for _, m := range c.Markets {
		out = append(out, m.Ticker)
	}
	return out
}

// LoadFromFile decodes YAML for .yaml/.yml paths and JSON otherwise.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := parse(path, data)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func SaveToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := encode(path, *cfg)
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
