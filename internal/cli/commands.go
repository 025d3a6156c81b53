package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dyike/quorumtrade/config"
	"github.com/dyike/quorumtrade/internal/debug"
	"github.com/dyike/quorumtrade/internal/display"
	"github.com/dyike/quorumtrade/internal/exchange"
	"github.com/dyike/quorumtrade/internal/exchange/upbit"
	"github.com/dyike/quorumtrade/internal/ledger"
	"github.com/dyike/quorumtrade/internal/pipeline"
	"github.com/dyike/quorumtrade/pkg/app"
)

type runFlags struct {
	interval  time.Duration
	dryRun    bool
	einoDebug bool
}

// apply layers command line overrides on cfg. It runs again on every config
// reload so the overrides survive edits to the file.
func (f runFlags) apply(cfg config.Config) config.Config {
	if f.dryRun {
		cfg.Trading.DryRun = true
	}
	if f.einoDebug {
		cfg.EinoDebug = true
	}
	return cfg
}

func newRunCmd(g *globals) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run trading cycles until interrupted",
		Long: `Run a trading cycle every interval until interrupted. The config file is
watched and the pipeline is rebuilt between cycles when it changes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCycles(cmd, g, f, true)
		},
	}
	cmd.Flags().DurationVar(&f.interval, "interval", 0, "Time between cycles (default: trading.interval from config)")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "Trade against a paper account instead of the exchange")
	cmd.Flags().BoolVar(&f.einoDebug, "eino-debug", false, "Start the eino visual debug server")
	return cmd
}

func newOnceCmd(g *globals) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single trading cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCycles(cmd, g, f, false)
		},
	}
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "Trade against a paper account instead of the exchange")
	cmd.Flags().BoolVar(&f.einoDebug, "eino-debug", false, "Start the eino visual debug server")
	return cmd
}

func runCycles(cmd *cobra.Command, g *globals, f runFlags, loop bool) error {
	mgr, err := g.manager()
	if err != nil {
		return err
	}
	cfg, err := g.config()
	if err != nil {
		return err
	}
	cfg = f.apply(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := debug.Init(ctx, cfg); err != nil {
		log.Warn().Err(err).Msg("debugging disabled")
	}

	opts := []app.Option{app.WithBuilder(func(c config.Config) (*app.Engine, error) {
		if g.debug {
			c.Debug = true
		}
		return app.Build(ctx, f.apply(c))
	})}
	if !loop {
		opts = append(opts, app.WithoutWatch())
	}
	rt, err := app.NewRuntime(mgr, opts...)
	if err != nil {
		return err
	}
	defer rt.Close()

	out := cmd.OutOrStdout()
	sup := pipeline.NewSupervisor(rt.Source(), pipeline.OnCycle(func(c *pipeline.Cycle, err error) {
		quote := cfg.Quote()
		if e := rt.Engine(); e != nil {
			quote = e.Config.Quote()
		}
		display.Cycle(out, c, quote)
		if err != nil {
			fmt.Fprintln(out, display.ErrorStyle.Render("cycle failed: "+err.Error()))
		}
	}))

	if !loop {
		return sup.Run(ctx, 0)
	}
	interval := f.interval
	if interval <= 0 {
		interval = cfg.Trading.Interval.Std()
	}
	if interval <= 0 {
		return errors.New("interval must be positive; use 'once' for a single cycle")
	}
	fmt.Fprintf(out, "%s every %s, mode %s. Press Ctrl+C to stop.\n",
		display.Title("quorumtrade running"), interval, rt.Engine().Mode)
	return sup.Run(ctx, interval)
}

// openLedger opens the configured store without touching the exchange.
func openLedger(cfg config.Config) (*ledger.Ledger, func(), error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, nil, err
	}
	store, err := app.OpenStore(cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		if c, ok := store.(io.Closer); ok {
			_ = c.Close()
		}
	}
	return ledger.New(store), closer, nil
}

func newPositionsCmd(g *globals) *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "positions",
		Short: "Show ledger positions valued at current prices",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.config()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if seed {
				e, err := app.Build(ctx, cfg)
				if err != nil {
					return err
				}
				defer e.Close()
				accounts, err := e.Exchange.Accounts(ctx)
				if err != nil {
					return fmt.Errorf("fetch accounts: %w", err)
				}
				added, err := e.Ledger.SeedFromAccounts(ctx, accounts, cfg.Quote())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s seeded %d position(s) from exchange balances\n", display.OKStyle.Render("✓"), added)
				return showPositions(ctx, out, e.Ledger, e.Exchange, cfg)
			}

			book, closeFn, err := openLedger(cfg)
			if err != nil {
				return err
			}
			defer closeFn()
			feed := upbit.NewClient("", "", upbit.WithBaseURL(cfg.Upbit.BaseURL), upbit.WithTimeout(10*time.Second))
			return showPositions(ctx, out, book, feed, cfg)
		},
	}
	cmd.Flags().BoolVar(&seed, "sync", false, "Seed missing positions from exchange balances first")
	return cmd
}

func showPositions(ctx context.Context, out io.Writer, book *ledger.Ledger, feed pipeline.Account, cfg config.Config) error {
	positions, err := book.Positions(ctx)
	if err != nil {
		return err
	}
	tickers := make([]string, 0, len(positions))
	for _, p := range positions {
		tickers = append(tickers, p.Symbol)
	}

	prices := map[string]float64{}
	if len(tickers) > 0 {
		quotes, err := feed.Tickers(ctx, tickers...)
		if err != nil {
			log.Warn().Err(err).Msg("prices unavailable, showing positions at cost")
		} else {
			prices = exchange.PriceMap(quotes)
		}
	}
	display.Portfolio(out, positions, prices, 0, cfg.Quote())
	return nil
}

func newHistoryCmd(g *globals) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the most recent trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.config()
			if err != nil {
				return err
			}
			book, closeFn, err := openLedger(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			trades, err := book.History(cmd.Context(), n)
			if err != nil {
				return err
			}
			totals, err := book.Totals(cmd.Context())
			if err != nil {
				return err
			}
			display.History(cmd.OutOrStdout(), trades, totals)
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "count", "n", 10, "Number of trades to show")
	return cmd
}

func newReportCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Show performance statistics over all recorded sells",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.config()
			if err != nil {
				return err
			}
			book, closeFn, err := openLedger(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			r, err := book.Report(cmd.Context())
			if err != nil {
				return err
			}
			display.Performance(cmd.OutOrStdout(), r)
			return nil
		},
	}
}

func newResetCmd(g *globals) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all trades, positions and reasoning records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.config()
			if err != nil {
				return err
			}
			if !yes {
				ok, err := confirm(fmt.Sprintf("Erase the ledger at %s?", storeLocation(cfg)), false)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
					return nil
				}
			}
			book, closeFn, err := openLedger(cfg)
			if err != nil {
				return err
			}
			defer closeFn()
			if err := book.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s ledger cleared\n", display.OKStyle.Render("✓"))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

func storeLocation(cfg config.Config) string {
	if cfg.Storage.Driver == config.DriverMemory {
		return "memory"
	}
	return cfg.Storage.Path
}
