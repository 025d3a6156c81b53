// Package cli provides the command-line interface for quorumtrade.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/dyike/quorumtrade/config"
	"github.com/dyike/quorumtrade/internal/logging"
)

// Version is set at build time with -ldflags "-X ...cli.Version=v1.2.3".
var Version = "dev"

type globals struct {
	configPath string
	debug      bool
	jsonLogs   bool

	mgr *config.Manager
}

// manager loads the config file once per process, creating it with defaults
// when missing.
func (g *globals) manager() (*config.Manager, error) {
	if g.mgr != nil {
		return g.mgr, nil
	}
	mgr, err := config.NewManager(config.WithConfigPath(g.configPath))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	g.mgr = mgr
	return mgr, nil
}

func (g *globals) config() (config.Config, error) {
	mgr, err := g.manager()
	if err != nil {
		return config.Config{}, err
	}
	cfg := mgr.Get()
	if g.debug {
		cfg.Debug = true
	}
	return cfg, nil
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:   "quorumtrade",
		Short: "quorumtrade - multi-agent crypto trading",
		Long: `quorumtrade runs a panel of analysts over your configured markets, waits for
a quorum of opinions, turns them into orders within your risk limits and keeps
a ledger of every fill.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.SetupWriter(cmd.ErrOrStderr(), g.debug, !g.jsonLogs && isTerminal(cmd.ErrOrStderr()))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&g.configPath, "config", "", "Configuration file path (default: user config dir)")
	rootCmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&g.jsonLogs, "json-logs", false, "Write logs as JSON lines")

	rootCmd.AddCommand(
		newRunCmd(g),
		newOnceCmd(g),
		newPositionsCmd(g),
		newHistoryCmd(g),
		newReportCmd(g),
		newResetCmd(g),
		newConfigCmd(g),
		newVersionCmd(),
	)
	return rootCmd
}

// Run executes the root command and exits non-zero on failure.
func Run() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "quorumtrade %s\n", Version)
		},
	}
}
