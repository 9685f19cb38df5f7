// Package llm abstracts the two LLM backends the personalizer, summarizer,
// classifier and embedder depend on: an OpenAI-compatible adapter (also the
// sole embeddings provider) and an Anthropic adapter for generate/summarize.
// Call sites never talk to a vendor SDK directly.
package llm

import (
	"context"
	"fmt"
	"strings"

	"mynewslens/internal/config"
	"mynewslens/internal/domain"
)

// DefaultTemperature is the sampling temperature used by callers that have
// no specific reason to deviate from it (chat/refine).
const DefaultTemperature = 0.7

// Provider is the common surface every backend implements. Embed is only
// meaningful on the OpenAI-compatible backend; the Anthropic adapter's Embed
// always errors so a misconfigured embedding endpoint fails loudly instead
// of silently skipping vectorization.
type Provider interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (text string, promptTokens, completionTokens int, err error)
	Summarize(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (text string, promptTokens, completionTokens int, err error)
	Embed(ctx context.Context, input string) ([]float32, error)
}

// NoopProvider backs the "none" adapter setting: every call returns an
// ErrLLMTimeout so callers fall through to their extractive/default
// fallback paths without ever dialing out.
type NoopProvider struct{}

func (NoopProvider) Generate(context.Context, string, string, float64) (string, int, int, error) {
	return "", 0, 0, fmt.Errorf("%w: llm adapter disabled", domain.ErrLLMTimeout)
}

func (NoopProvider) Summarize(context.Context, string, string, float64) (string, int, int, error) {
	return "", 0, 0, fmt.Errorf("%w: llm adapter disabled", domain.ErrLLMTimeout)
}

func (NoopProvider) Embed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("%w: llm adapter disabled", domain.ErrLLMTimeout)
}

// Registry resolves each of the six named config endpoints (remote,
// background, interactive, summarization, personalization, embedding) to a
// concrete Provider. A Claude-named model ("claude-...") resolves to the
// Anthropic SDK; anything else resolves to the OpenAI-compatible client, so
// a single deployment can mix a local OpenAI-compatible server for bulk
// summarization with Claude for interactive chat.
type Registry struct {
	Background      Provider
	Interactive     Provider
	Summarization   Provider
	Personalization Provider
	Embedding       Provider
}

// NewRegistry builds a Registry from the resolved LLM config.
func NewRegistry(cfg config.LLMConfig) (*Registry, error) {
	if cfg.Adapter == "none" {
		noop := NoopProvider{}
		return &Registry{Background: noop, Interactive: noop, Summarization: noop, Personalization: noop, Embedding: noop}, nil
	}
	if cfg.Adapter != "local" && cfg.Adapter != "remote" {
		return nil, fmt.Errorf("%w: unknown llm adapter %q", domain.ErrConfig, cfg.Adapter)
	}

	resolve := func(ep, fallback config.LLMEndpoint) Provider {
		if ep.Model == "" && ep.APIURL == "" {
			ep = fallback
		}
		return resolveProvider(ep)
	}

	embeddingEndpoint := cfg.Embedding
	if embeddingEndpoint.Model == "" && embeddingEndpoint.APIURL == "" {
		embeddingEndpoint = cfg.Remote
	}

	return &Registry{
		Background:      resolve(cfg.Background, cfg.Remote),
		Interactive:     resolve(cfg.Interactive, cfg.Remote),
		Summarization:   resolve(cfg.Summarization, cfg.Remote),
		Personalization: resolve(cfg.Personalization, cfg.Remote),
		// Embedding never resolves to Anthropic: it has no embeddings endpoint.
		Embedding: NewOpenAIProvider(embeddingEndpoint),
	}, nil
}

func resolveProvider(ep config.LLMEndpoint) Provider {
	if strings.HasPrefix(strings.ToLower(ep.Model), "claude") {
		return NewAnthropicProvider(ep)
	}
	return NewOpenAIProvider(ep)
}
