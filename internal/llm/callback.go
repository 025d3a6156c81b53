package llm

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type startKey struct{}

// LogCallback logs every chain and model run with its latency and, for chat
// models, token usage.
type LogCallback struct {
	Logger *zerolog.Logger
}

var _ callbacks.Handler = (*LogCallback)(nil)

func (cb *LogCallback) logger() *zerolog.Logger {
	if cb.Logger != nil {
		return cb.Logger
	}
	return &log.Logger
}

func runEvent(e *zerolog.Event, info *callbacks.RunInfo) *zerolog.Event {
	if info == nil {
		return e
	}
	return e.Str("name", info.Name).Str("type", info.Type).Str("component", string(info.Component))
}

func (cb *LogCallback) OnStart(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
	runEvent(cb.logger().Debug(), info).Msg("llm run started")
	return context.WithValue(ctx, startKey{}, time.Now())
}

func (cb *LogCallback) OnEnd(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
	e := runEvent(cb.logger().Debug(), info)
	if start, ok := ctx.Value(startKey{}).(time.Time); ok {
		e = e.Dur("took", time.Since(start))
	}
	if out := model.ConvCallbackOutput(output); out != nil && out.TokenUsage != nil {
		e = e.Int("prompt_tokens", out.TokenUsage.PromptTokens).
			Int("completion_tokens", out.TokenUsage.CompletionTokens)
	}
	e.Msg("llm run finished")
	return ctx
}

func (cb *LogCallback) OnError(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
	runEvent(cb.logger().Error(), info).Err(err).Msg("llm run failed")
	return ctx
}

func (cb *LogCallback) OnStartWithStreamInput(ctx context.Context, info *callbacks.RunInfo,
	input *schema.StreamReader[callbacks.CallbackInput]) context.Context {
	input.Close()
	return ctx
}

// OnEndWithStreamOutput drains the stream in the background and logs the
// final token usage.
func (cb *LogCallback) OnEndWithStreamOutput(ctx context.Context, info *callbacks.RunInfo,
	output *schema.StreamReader[callbacks.CallbackOutput]) context.Context {
	go func() {
		defer output.Close()
		defer func() {
			if r := recover(); r != nil {
				runEvent(cb.logger().Error(), info).Interface("panic", r).Msg("llm stream callback panicked")
			}
		}()
		var usage *model.TokenUsage
		for {
			frame, err := output.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				runEvent(cb.logger().Warn(), info).Err(err).Msg("llm stream receive failed")
				return
			}
			if out := model.ConvCallbackOutput(frame); out != nil && out.TokenUsage != nil {
				usage = out.TokenUsage
			}
		}
		e := runEvent(cb.logger().Debug(), info)
		if usage != nil {
			e = e.Int("total_tokens", usage.TotalTokens)
		}
		e.Msg("llm stream finished")
	}()
	return ctx
}

// RegisterLogging installs LogCallback for every eino run in the process.
func RegisterLogging() {
	callbacks.AppendGlobalHandlers(&LogCallback{})
}
