package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mynewslens/internal/config"
	"mynewslens/internal/domain"
)

func TestNoopProvider_GenerateReturnsLLMTimeout(t *testing.T) {
	_, _, _, err := NoopProvider{}.Generate(context.Background(), "sys", "user", DefaultTemperature)
	assert.ErrorIs(t, err, domain.ErrLLMTimeout)
}

func TestNoopProvider_SummarizeReturnsLLMTimeout(t *testing.T) {
	_, _, _, err := NoopProvider{}.Summarize(context.Background(), "sys", "user", DefaultTemperature)
	assert.ErrorIs(t, err, domain.ErrLLMTimeout)
}

func TestNoopProvider_EmbedReturnsLLMTimeout(t *testing.T) {
	vec, err := NoopProvider{}.Embed(context.Background(), "text")
	assert.Nil(t, vec)
	assert.ErrorIs(t, err, domain.ErrLLMTimeout)
}

func TestNewRegistry_NoneAdapterResolvesAllEndpointsToNoop(t *testing.T) {
	reg, err := NewRegistry(config.LLMConfig{Adapter: "none"})
	require.NoError(t, err)

	for _, p := range []Provider{reg.Background, reg.Interactive, reg.Summarization, reg.Personalization, reg.Embedding} {
		_, _, _, err := p.Generate(context.Background(), "", "", DefaultTemperature)
		assert.ErrorIs(t, err, domain.ErrLLMTimeout)
	}
}

func TestNewRegistry_RejectsUnknownAdapter(t *testing.T) {
	_, err := NewRegistry(config.LLMConfig{Adapter: "bogus"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestNewRegistry_EndpointFallsBackToRemoteWhenUnset(t *testing.T) {
	cfg := config.LLMConfig{
		Adapter: "remote",
		Remote:  config.LLMEndpoint{Model: "claude-3-haiku", APIURL: "https://api.anthropic.com"},
	}
	reg, err := NewRegistry(cfg)
	require.NoError(t, err)

	assert.IsType(t, &AnthropicProvider{}, reg.Background)
	assert.IsType(t, &AnthropicProvider{}, reg.Interactive)
}

func TestNewRegistry_EmbeddingNeverResolvesToAnthropic(t *testing.T) {
	cfg := config.LLMConfig{
		Adapter: "remote",
		Remote:  config.LLMEndpoint{Model: "claude-3-haiku", APIURL: "https://api.anthropic.com"},
	}
	reg, err := NewRegistry(cfg)
	require.NoError(t, err)

	assert.IsType(t, &OpenAIProvider{}, reg.Embedding)
}

func TestResolveProvider_ClaudeModelNamePicksAnthropic(t *testing.T) {
	p := resolveProvider(config.LLMEndpoint{Model: "claude-3-5-sonnet"})
	assert.IsType(t, &AnthropicProvider{}, p)
}

func TestResolveProvider_OtherModelNamePicksOpenAICompatible(t *testing.T) {
	p := resolveProvider(config.LLMEndpoint{Model: "llama3"})
	assert.IsType(t, &OpenAIProvider{}, p)
}

func TestExtractJSON_ParsesBareObject(t *testing.T) {
	var out struct {
		Score float64 `json:"score"`
	}
	err := ExtractJSON(`{"score": 0.5}`, &out)
	require.NoError(t, err)
	assert.Equal(t, 0.5, out.Score)
}

func TestExtractJSON_StripsJSONCodeFence(t *testing.T) {
	var out struct {
		Headline string `json:"headline"`
	}
	raw := "```json\n{\"headline\": \"hi\"}\n```"
	err := ExtractJSON(raw, &out)
	require.NoError(t, err)
	assert.Equal(t, "hi", out.Headline)
}

func TestExtractJSON_StripsBareCodeFence(t *testing.T) {
	var out struct {
		Headline string `json:"headline"`
	}
	raw := "```\n{\"headline\": \"hi\"}\n```"
	err := ExtractJSON(raw, &out)
	require.NoError(t, err)
	assert.Equal(t, "hi", out.Headline)
}

func TestExtractJSON_RecoversObjectEmbeddedInProse(t *testing.T) {
	var out struct {
		Headline string `json:"headline"`
	}
	raw := `Sure, here you go: {"headline": "hi"} hope that helps!`
	err := ExtractJSON(raw, &out)
	require.NoError(t, err)
	assert.Equal(t, "hi", out.Headline)
}

func TestExtractJSON_ReturnsLLMParseErrorWhenNoObjectFound(t *testing.T) {
	var out struct{}
	err := ExtractJSON("no json here at all", &out)
	assert.ErrorIs(t, err, domain.ErrLLMParse)
}

func TestExtractJSON_ReturnsLLMParseErrorOnMalformedObject(t *testing.T) {
	var out struct{}
	err := ExtractJSON(`{"headline": "unterminated`, &out)
	assert.ErrorIs(t, err, domain.ErrLLMParse)
}

func TestExtractJSON_WrapsUnderlyingJSONErrorMessage(t *testing.T) {
	var out struct{}
	err := ExtractJSON(`{not valid json}`, &out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrLLMParse))
}
