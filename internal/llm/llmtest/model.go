// Package llmtest provides a scripted chat model for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Model replies with Respond when set, otherwise with Replies in order,
// repeating the last one.
type Model struct {
	mu      sync.Mutex
	Replies []string
	Respond func(input []*schema.Message) (string, error)
	Err     error
	calls   [][]*schema.Message
}

var _ model.BaseChatModel = (*Model)(nil)

func (m *Model) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, input)
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Respond != nil {
		text, err := m.Respond(input)
		if err != nil {
			return nil, err
		}
		return schema.AssistantMessage(text, nil), nil
	}
	if len(m.Replies) == 0 {
		return nil, errors.New("llmtest: no scripted reply")
	}
	idx := len(m.calls) - 1
	if idx >= len(m.Replies) {
		idx = len(m.Replies) - 1
	}
	return schema.AssistantMessage(m.Replies[idx], nil), nil
}

func (m *Model) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// Calls returns the prompts received so far.
func (m *Model) Calls() [][]*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]*schema.Message(nil), m.calls...)
}
