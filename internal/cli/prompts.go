package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/AlecAivazis/survey/v2"

	"github.com/dyike/quorumtrade/config"
)

// confirm asks a yes/no question.
func confirm(message string, def bool) (bool, error) {
	ok := def
	err := survey.AskOne(&survey.Confirm{Message: message, Default: def}, &ok)
	return ok, err
}

func formatMarkets(cfg config.Config) string {
	parts := make([]string, 0, len(cfg.Markets))
	for _, m := range cfg.Markets {
		if m.Name != "" && m.Name != m.Ticker {
			parts = append(parts, m.Ticker+":"+m.Name)
		} else {
			parts = append(parts, m.Ticker)
		}
	}
	return strings.Join(parts, ",")
}

func validateMarkets(val interface{}) error {
	markets := config.ParseMarkets(val.(string))
	if len(markets) == 0 {
		return fmt.Errorf("enter at least one market, e.g. KRW-BTC:Bitcoin")
	}
	for _, m := range markets {
		if quote, base, ok := strings.Cut(m.Ticker, "-"); !ok || quote == "" || base == "" {
			return fmt.Errorf("%s is not a QUOTE-BASE market code", m.Ticker)
		}
	}
	return nil
}

func validateNumber(val interface{}) error {
	s := strings.TrimSpace(val.(string))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return fmt.Errorf("enter a positive number")
	}
	return nil
}

// askConfig walks through the settings most users change and returns cfg with
// the answers applied. Empty secret answers keep the current value.
func askConfig(cfg config.Config) (config.Config, error) {
	markets := formatMarkets(cfg)
	if err := survey.AskOne(&survey.Input{
		Message: "Markets to trade (comma separated, TICKER:Name):",
		Default: markets,
		Help:    "Upbit market codes such as KRW-BTC. The name is used in news searches.",
	}, &markets, survey.WithValidator(validateMarkets)); err != nil {
		return cfg, err
	}
	cfg.Markets = config.ParseMarkets(markets)

	provider := cfg.LLM.Provider
	switch provider {
	case config.ProviderOpenAI, config.ProviderDeepSeek, config.ProviderNone:
	default:
		provider = config.ProviderOpenAI
	}
	if err := survey.AskOne(&survey.Select{
		Message: "LLM provider:",
		Options: []string{config.ProviderOpenAI, config.ProviderDeepSeek, config.ProviderNone},
		Default: provider,
		Help:    "With none, rule based analysts and a rule based synthesizer are used.",
	}, &provider); err != nil {
		return cfg, err
	}
	cfg.LLM.Provider = provider

	if provider != config.ProviderNone {
		var key string
		if err := survey.AskOne(&survey.Password{
			Message: fmt.Sprintf("%s API key (leave empty to keep the current one):", provider),
		}, &key); err != nil {
			return cfg, err
		}
		if key = strings.TrimSpace(key); key != "" {
			cfg.LLM.APIKey = key
		}
		var models struct {
			Smart string `survey:"smart"`
			Fast  string `survey:"fast"`
		}
		if err := survey.Ask([]*survey.Question{
			{Name: "smart", Prompt: &survey.Input{Message: "Model for the portfolio manager:", Default: cfg.LLM.SmartModel}},
			{Name: "fast", Prompt: &survey.Input{Message: "Model for the analysts:", Default: cfg.LLM.FastModel}},
		}, &models); err != nil {
			return cfg, err
		}
		cfg.LLM.SmartModel, cfg.LLM.FastModel = models.Smart, models.Fast
	}

	dryRun := cfg.Trading.DryRun
	if err := survey.AskOne(&survey.Confirm{
		Message: "Paper trade (dry run)?",
		Default: dryRun,
	}, &dryRun); err != nil {
		return cfg, err
	}
	cfg.Trading.DryRun = dryRun

	if dryRun {
		balance := strconv.FormatFloat(cfg.Trading.PaperBalance, 'f', -1, 64)
		if err := survey.AskOne(&survey.Input{
			Message: fmt.Sprintf("Paper balance in %s:", cfg.Quote()),
			Default: balance,
		}, &balance, survey.WithValidator(validateNumber)); err != nil {
			return cfg, err
		}
		cfg.Trading.PaperBalance, _ = strconv.ParseFloat(strings.TrimSpace(balance), 64)
	} else {
		var keys struct {
			Access string `survey:"access"`
			Secret string `survey:"secret"`
		}
		if err := survey.Ask([]*survey.Question{
			{Name: "access", Prompt: &survey.Password{Message: "Upbit access key (empty keeps current):"}},
			{Name: "secret", Prompt: &survey.Password{Message: "Upbit secret key (empty keeps current):"}},
		}, &keys); err != nil {
			return cfg, err
		}
		if keys.Access != "" {
			cfg.Upbit.AccessKey = keys.Access
		}
		if keys.Secret != "" {
			cfg.Upbit.SecretKey = keys.Secret
		}
	}

	minTrade := strconv.FormatFloat(cfg.Trading.MinTradeValue, 'f', -1, 64)
	if err := survey.AskOne(&survey.Input{
		Message: fmt.Sprintf("Minimum trade value in %s:", cfg.Quote()),
		Default: minTrade,
	}, &minTrade, survey.WithValidator(validateNumber)); err != nil {
		return cfg, err
	}
	cfg.Trading.MinTradeValue, _ = strconv.ParseFloat(strings.TrimSpace(minTrade), 64)

	return cfg, nil
}
