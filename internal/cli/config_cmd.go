package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dyike/quorumtrade/config"
	"github.com/dyike/quorumtrade/internal/display"
)

func newConfigCmd(g *globals) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the current configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := g.manager()
			if err != nil {
				return err
			}
			return showConfig(cmd.OutOrStdout(), mgr.Path(), mgr.Get())
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.config()
			if err != nil {
				return err
			}
			return validateConfig(cmd.OutOrStdout(), cfg)
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Answer a few questions to set up the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := g.manager()
			if err != nil {
				return err
			}
			cfg, err := askConfig(mgr.Get())
			if err != nil {
				return err
			}
			if err := mgr.Update(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s configuration saved to %s\n", display.OKStyle.Render("✓"), mgr.Path())
			return nil
		},
	})

	return configCmd
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:2] + strings.Repeat("*", 6) + secret[len(secret)-2:]
}

func masked(cfg config.Config) config.Config {
	cfg.LLM.APIKey = mask(cfg.LLM.APIKey)
	cfg.Upbit.AccessKey = mask(cfg.Upbit.AccessKey)
	cfg.Upbit.SecretKey = mask(cfg.Upbit.SecretKey)
	cfg.Telegram.BotToken = mask(cfg.Telegram.BotToken)
	cfg.Discord.WebhookURL = mask(cfg.Discord.WebhookURL)
	return cfg
}

func showConfig(w io.Writer, path string, cfg config.Config) error {
	fmt.Fprintln(w, display.Title("Current configuration"))
	fmt.Fprintln(w, display.MutedStyle.Render(path))
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(masked(cfg)); err != nil {
		return err
	}
	return enc.Close()
}

func validateConfig(w io.Writer, cfg config.Config) error {
	fmt.Fprintln(w, display.Title("Validating configuration"))

	check := func(name string, err error) bool {
		if err != nil {
			fmt.Fprintf(w, "❌ %s\n", name)
			for _, line := range strings.Split(err.Error(), "\n") {
				fmt.Fprintf(w, "   %s\n", line)
			}
			return false
		}
		fmt.Fprintf(w, "✅ %s\n", name)
		return true
	}

	ok := check("config values", cfg.Validate())
	ok = check("exchange credentials", cfg.RequireCredentials()) && ok
	ok = check("directories", cfg.EnsureDirectories()) && ok

	var warnings []string
	if cfg.LLM.Provider != config.ProviderNone && cfg.LLM.APIKey == "" {
		warnings = append(warnings, fmt.Sprintf("llm.api_key is empty; %s analysis falls back to rules", cfg.LLM.Provider))
	}
	if cfg.Telegram.BotToken == "" && cfg.Discord.WebhookURL == "" {
		warnings = append(warnings, "no telegram or discord notifier; summaries go to the log only")
	}
	if cfg.Trading.DryRun {
		warnings = append(warnings, fmt.Sprintf("dry run: orders fill on a paper account with %.0f %s", cfg.Trading.PaperBalance, cfg.Quote()))
	}
	for _, warning := range warnings {
		fmt.Fprintf(w, "⚠️  %s\n", warning)
	}

	if !ok {
		return fmt.Errorf("configuration is invalid")
	}
	fmt.Fprintln(w, display.OKStyle.Render("Configuration is valid."))
	return nil
}
