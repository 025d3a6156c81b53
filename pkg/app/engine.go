package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/rs/zerolog/log"

	"github.com/dyike/quorumtrade/config"
	"github.com/dyike/quorumtrade/internal/admission"
	"github.com/dyike/quorumtrade/internal/agents"
	"github.com/dyike/quorumtrade/internal/dataflows"
	"github.com/dyike/quorumtrade/internal/exchange"
	"github.com/dyike/quorumtrade/internal/exchange/upbit"
	"github.com/dyike/quorumtrade/internal/execution"
	"github.com/dyike/quorumtrade/internal/ledger"
	"github.com/dyike/quorumtrade/internal/llm"
	"github.com/dyike/quorumtrade/internal/notify"
	"github.com/dyike/quorumtrade/internal/pipeline"
	"github.com/dyike/quorumtrade/internal/quorum"
	"github.com/dyike/quorumtrade/internal/risk"
	"github.com/dyike/quorumtrade/internal/storage"
	"github.com/dyike/quorumtrade/internal/storage/sqlite"
	"github.com/dyike/quorumtrade/internal/synth"
)

var ErrEngineClosed = errors.New("engine closed")

const newsCacheTTL = time.Hour

// Engine is one fully wired pipeline built from a config snapshot.
type Engine struct {
	Config  config.Config
	BuiltAt time.Time
	Version uint64

	Runner    *pipeline.Runner
	Ledger    *ledger.Ledger
	Exchange  exchange.Client
	Admission *admission.Controller
	Notifier  notify.Notifier
	// Mode is "llm" when analysts and the synthesizer use a chat model,
	// "rules" otherwise.
	Mode string

	mu     sync.RWMutex
	closed bool
	store  storage.Store
}

var _ pipeline.CycleRunner = (*Engine)(nil)

// RunCycle runs one cycle. Close waits for running cycles before releasing
// the store.
func (e *Engine) RunCycle(ctx context.Context) (*pipeline.Cycle, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	return e.Runner.RunCycle(ctx)
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if c, ok := e.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

var engineSeq atomic.Uint64

type buildOptions struct {
	client    exchange.Client
	smart     model.BaseChatModel
	fast      model.BaseChatModel
	news      agents.HeadlineSource
	notifiers []notify.Notifier
}

type BuildOption func(*buildOptions)

// WithExchange replaces the Upbit client. In dry runs it is wrapped by the
// paper account like the real one.
func WithExchange(c exchange.Client) BuildOption {
	return func(o *buildOptions) { o.client = c }
}

// WithChatModels replaces the models built from the llm config.
func WithChatModels(smart, fast model.BaseChatModel) BuildOption {
	return func(o *buildOptions) { o.smart, o.fast = smart, fast }
}

func WithNewsSource(src agents.HeadlineSource) BuildOption {
	return func(o *buildOptions) { o.news = src }
}

// WithExtraNotifier adds a sink next to the configured ones.
func WithExtraNotifier(n notify.Notifier) BuildOption {
	return func(o *buildOptions) { o.notifiers = append(o.notifiers, n) }
}

// BuildEngine is the default EngineBuilder.
func BuildEngine(cfg config.Config) (*Engine, error) {
	return Build(context.Background(), cfg)
}

// Build wires every stage of the pipeline from cfg.
func Build(ctx context.Context, cfg config.Config, opts ...BuildOption) (*Engine, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if o.client == nil {
		if err := cfg.RequireCredentials(); err != nil {
			return nil, err
		}
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	store, err := OpenStore(cfg.Storage)
	if err != nil {
		return nil, err
	}
	e, err := wire(ctx, cfg, store, o)
	if err != nil {
		if c, ok := store.(io.Closer); ok {
			_ = c.Close()
		}
		return nil, err
	}
	log.Info().
		Uint64("version", e.Version).
		Str("mode", e.Mode).
		Bool("dry_run", cfg.Trading.DryRun).
		Strs("markets", cfg.Tickers()).
		Msg("engine built")
	return e, nil
}

// OpenStore opens the configured trade store.
func OpenStore(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return storage.NewMemory(cfg.HistoryCapacity), nil
	default:
		s, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		return s, nil
	}
}

func wire(ctx context.Context, cfg config.Config, store storage.Store, o buildOptions) (*Engine, error) {
	quote := cfg.Quote()

	client := o.client
	if client == nil {
		client = upbit.NewClient(cfg.Upbit.AccessKey, cfg.Upbit.SecretKey, upbit.WithBaseURL(cfg.Upbit.BaseURL))
	}
	if cfg.Trading.DryRun {
		client = exchange.NewPaper(client, quote, cfg.Trading.PaperBalance)
	}

	notifier := buildNotifier(cfg, o.notifiers)

	book := ledger.New(store)
	gate := admission.New(store, client, cfg.Admission, admission.WithNotifier(notifier))

	smart, fast := o.smart, o.fast
	if smart == nil || fast == nil {
		var err error
		smart, fast, err = chatModels(ctx, cfg.LLM)
		if err != nil {
			return nil, err
		}
	}

	mode := "rules"
	var (
		producers   []quorum.Producer
		synthesizer synth.Synthesizer
		err         error
	)
	policy := synth.PolicyFromConfig(cfg.Trading, quote)
	if smart != nil {
		mode = "llm"
		news := o.news
		if news == nil {
			cache := dataflows.NewCache(filepath.Join(cfg.DataDir, "cache"), newsCacheTTL, true)
			news = dataflows.NewNewsClient(dataflows.WithNewsCache(cache))
		}
		if producers, err = analysts(ctx, fast, client, news); err != nil {
			return nil, err
		}
		if synthesizer, err = synth.NewLLM(ctx, smart, policy); err != nil {
			return nil, err
		}
	} else {
		for _, p := range agents.RuleProducers(client) {
			producers = append(producers, p)
		}
		synthesizer = synth.NewRules(policy)
	}

	if cfg.Trading.QuorumSize > len(producers) {
		return nil, fmt.Errorf("quorum_size %d exceeds the %d available producers", cfg.Trading.QuorumSize, len(producers))
	}
	agg, err := quorum.New(cfg.Trading.QuorumSize)
	if err != nil {
		return nil, err
	}

	limits := risk.LimitsFromConfig(cfg.Trading)
	var riskOpts []risk.Option
	if cfg.Trading.LLMRiskReview && smart != nil {
		reviewer, err := risk.NewLLMReviewer(ctx, smart, limits, quote)
		if err != nil {
			return nil, err
		}
		riskOpts = append(riskOpts, risk.WithReviewer(reviewer))
	}

	engine := execution.New(client, book, execution.OptionsFromConfig(cfg.Trading), execution.WithNotifier(notifier))

	runner, err := pipeline.NewRunner(pipeline.Deps{
		Markets:      cfg.Markets,
		Quote:        quote,
		HistoryCount: cfg.Trading.HistoryCount,
		Admission:    gate,
		Quorum:       agg,
		Producers:    producers,
		Account:      client,
		Book:         book,
		Synthesizer:  synthesizer,
		Risk:         risk.New(limits, riskOpts...),
		Executor:     engine,
		Notifier:     notifier,
	})
	if err != nil {
		return nil, err
	}

	return &Engine{
		Config:    cfg,
		BuiltAt:   time.Now(),
		Version:   engineSeq.Add(1),
		Runner:    runner,
		Ledger:    book,
		Exchange:  client,
		Admission: gate,
		Notifier:  notifier,
		Mode:      mode,
		store:     store,
	}, nil
}

// chatModels returns nil models when no provider or key is configured, which
// selects the rule based pipeline.
func chatModels(ctx context.Context, cfg config.LLMConfig) (smart, fast model.BaseChatModel, err error) {
	if cfg.Provider != config.ProviderNone && cfg.APIKey == "" {
		log.Warn().Str("provider", cfg.Provider).Msg("llm api key missing, falling back to rule based analysis")
		return nil, nil, nil
	}
	smart, err = llm.NewChatModel(ctx, cfg, llm.Smart)
	if errors.Is(err, llm.ErrNoProvider) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	fast, err = llm.NewChatModel(ctx, cfg, llm.Fast)
	if err != nil {
		return nil, nil, err
	}
	return smart, fast, nil
}

func analysts(ctx context.Context, cm model.BaseChatModel, data agents.MarketData, news agents.HeadlineSource) ([]quorum.Producer, error) {
	technical, err := agents.NewTechnicalAnalyst(ctx, cm, data)
	if err != nil {
		return nil, err
	}
	headlines, err := agents.NewNewsAnalyst(ctx, cm, news)
	if err != nil {
		return nil, err
	}
	sentiment, err := agents.NewSentimentAnalyst(ctx, cm, data)
	if err != nil {
		return nil, err
	}
	return []quorum.Producer{technical, headlines, sentiment}, nil
}

func buildNotifier(cfg config.Config, extra []notify.Notifier) notify.Notifier {
	sinks := notify.Multi{notify.LogNotifier{}}
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != 0 {
		tg, err := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			log.Warn().Err(err).Msg("telegram notifier disabled")
		} else {
			sinks = append(sinks, tg)
		}
	}
	if cfg.Discord.WebhookURL != "" {
		sinks = append(sinks, notify.NewDiscordWebhook(cfg.Discord.WebhookURL))
	}
	return append(sinks, extra...)
}
