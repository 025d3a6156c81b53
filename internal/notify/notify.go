// Package notify delivers cycle summaries and skip notices to humans.
package notify

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, text string) error

func (f Func) Send(ctx context.Context, text string) error { return f(ctx, text) }

// LogNotifier writes messages to the global logger.
type LogNotifier struct{}

func (LogNotifier) Send(ctx context.Context, text string) error {
	log.Info().Str("sink", "log").Msg(text)
	return nil
}

// Multi sends to every notifier and joins the failures.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, text string) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Send(ctx, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Safe logs delivery failures instead of returning them. Messages are never
// retried.
func Safe(n Notifier) Notifier {
	return Func(func(ctx context.Context, text string) error {
		if n == nil {
			return nil
		}
		if err := n.Send(ctx, text); err != nil {
			log.Warn().Err(err).Msg("notification delivery failed")
		}
		return nil
	})
}

// chunk splits text into pieces of at most limit runes, preferring line breaks.
func chunk(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var out []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > 0; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		out = append(out, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}
