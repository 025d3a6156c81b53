// Package llm builds chat models and prompt chains shared by the analysts,
// the synthesizer and the risk reviewer.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/dyike/quorumtrade/config"
)

// Tier picks between the configured reasoning and worker models.
type Tier int

const (
	Smart Tier = iota
	Fast
)

var ErrNoProvider = errors.New("llm: no provider configured")

func NewChatModel(ctx context.Context, cfg config.LLMConfig, tier Tier) (model.BaseChatModel, error) {
	name := cfg.SmartModel
	if tier == Fast && cfg.FastModel != "" {
		name = cfg.FastModel
	}

	switch cfg.Provider {
	case config.ProviderOpenAI:
		maxTokens := cfg.MaxTokens
		cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:   cfg.BaseURL,
			APIKey:    cfg.APIKey,
			Model:     name,
			MaxTokens: &maxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("create openai model %s: %w", name, err)
		}
		return cm, nil
	case config.ProviderDeepSeek:
		cm, err := deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     name,
			MaxTokens: cfg.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("create deepseek model %s: %w", name, err)
		}
		return cm, nil
	case config.ProviderNone, "":
		return nil, ErrNoProvider
	}
	return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
}

// Template is a system plus user prompt with FString placeholders.
func Template(system, user string) prompt.ChatTemplate {
	return prompt.FromMessages(schema.FString,
		schema.SystemMessage(system),
		schema.UserMessage(user),
	)
}

// Runnable renders the template with the invoke variables and sends the
// result to cm, returning the reply text.
type Runnable = compose.Runnable[map[string]any, string]

func NewChain(ctx context.Context, name string, tpl prompt.ChatTemplate, cm model.BaseChatModel) (Runnable, error) {
	chain := compose.NewChain[map[string]any, string]()
	chain.
		AppendChatTemplate(tpl).
		AppendChatModel(cm).
		AppendLambda(compose.InvokableLambda(func(ctx context.Context, msg *schema.Message) (string, error) {
			if msg == nil {
				return "", errors.New("empty model reply")
			}
			return msg.Content, nil
		}))

	r, err := chain.Compile(ctx, compose.WithGraphName(name))
	if err != nil {
		return nil, fmt.Errorf("compile %s chain: %w", name, err)
	}
	return r, nil
}
