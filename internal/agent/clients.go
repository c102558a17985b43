package agent

import (
	"context"

	"github.com/xyrax/instra/internal/llm"
	"github.com/xyrax/instra/internal/ollama"
)

// Sampling configures the external model call.
type Sampling struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// FromLLM adapts an OpenAI-compatible client to External.
func FromLLM(c *llm.Client, s Sampling) External {
	return ExternalFunc(func(ctx context.Context, msgs []Message) (string, error) {
		out := make([]llm.Message, len(msgs))
		for i, m := range msgs {
			out[i] = llm.Message{Role: m.Role, Content: m.Content}
		}
		return c.Complete(ctx, llm.ChatRequest{
			Model:       s.Model,
			Messages:    out,
			MaxTokens:   s.MaxTokens,
			Temperature: s.Temperature,
		})
	})
}

// FromOllama adapts a local Ollama client to External.
func FromOllama(c *ollama.Client, s Sampling) External {
	return ExternalFunc(func(ctx context.Context, msgs []Message) (string, error) {
		out := make([]ollama.Message, len(msgs))
		for i, m := range msgs {
			out[i] = ollama.Message{Role: m.Role, Content: m.Content}
		}
		return c.Chat(ctx, s.Model, out, &ollama.Options{
			Temperature: s.Temperature,
			NumPredict:  s.MaxTokens,
		})
	})
}
