package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"mynewslens/internal/config"
	"mynewslens/internal/domain"
	"mynewslens/internal/resilience/circuitbreaker"
	"mynewslens/internal/resilience/retry"
)

// OpenAIProvider implements Provider against any OpenAI-compatible chat +
// embeddings API (local inference server or the hosted remote endpoint),
// wrapped in the same circuit breaker + retry ladder the teacher uses for
// its own AI API calls.
type OpenAIProvider struct {
	client    *openai.Client
	model     string
	apiURL    string
	apiKey    string
	timeout   time.Duration
	maxTokens int
	cb        *circuitbreaker.CircuitBreaker
	retryCfg  retry.Config
	http      *http.Client
}

// NewOpenAIProvider builds a provider from one named config endpoint.
func NewOpenAIProvider(ep config.LLMEndpoint) *OpenAIProvider {
	clientConfig := openai.DefaultConfig(ep.APIKey())
	if ep.APIURL != "" {
		clientConfig.BaseURL = ep.APIURL
	}

	timeout := time.Duration(ep.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxTokens := ep.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	return &OpenAIProvider{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     ep.Model,
		apiURL:    strings.TrimRight(clientConfig.BaseURL, "/"),
		apiKey:    ep.APIKey(),
		timeout:   timeout,
		maxTokens: maxTokens,
		cb:        circuitbreaker.New(circuitbreaker.OpenAIAPIConfig()),
		retryCfg:  retry.AIAPIConfig(),
		http:      &http.Client{},
	}
}

func (p *OpenAIProvider) chat(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, int, int, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var content string
	var promptTokens, completionTokens int

	retryErr := retry.WithBackoff(ctx, p.retryCfg, func() error {
		result, err := p.cb.Execute(func() (interface{}, error) {
			return p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model:       p.model,
				MaxTokens:   p.maxTokens,
				Temperature: float32(temperature),
				Messages: []openai.ChatCompletionMessage{
					{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
					{Role: openai.ChatMessageRoleUser, Content: userPrompt},
				},
			})
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) {
				return fmt.Errorf("%w: openai-compatible api circuit breaker open", domain.ErrLLMTimeout)
			}
			return fmt.Errorf("%w: %v", domain.ErrLLMTimeout, err)
		}
		resp := result.(openai.ChatCompletionResponse)
		if len(resp.Choices) == 0 {
			return fmt.Errorf("%w: empty choices", domain.ErrLLMParse)
		}
		content = resp.Choices[0].Message.Content
		promptTokens = resp.Usage.PromptTokens
		completionTokens = resp.Usage.CompletionTokens
		return nil
	})
	if retryErr != nil {
		return "", 0, 0, retryErr
	}
	return content, promptTokens, completionTokens, nil
}

// Generate issues a single free-form chat completion at the given sampling
// temperature.
func (p *OpenAIProvider) Generate(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, int, int, error) {
	return p.chat(ctx, systemPrompt, userPrompt, temperature)
}

// Summarize issues a single chat completion intended to return strict JSON;
// callers apply ExtractJSON to the result.
func (p *OpenAIProvider) Summarize(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, int, int, error) {
	return p.chat(ctx, systemPrompt, userPrompt, temperature)
}

// Embed calls the embeddings endpoint and returns the first vector. Not
// every OpenAI-compatible server replies with the SDK's documented
// `{data: [{embedding}]}` shape, so the raw response body is parsed against
// that shape first and, on failure, two looser fallbacks: a bare `[f32]`
// array, and a single `{embedding}` object.
func (p *OpenAIProvider) Embed(ctx context.Context, input string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var vec []float32
	retryErr := retry.WithBackoff(ctx, p.retryCfg, func() error {
		result, err := p.cb.Execute(func() (interface{}, error) {
			return p.rawEmbed(ctx, input)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) {
				return fmt.Errorf("%w: embeddings api circuit breaker open", domain.ErrLLMTimeout)
			}
			return fmt.Errorf("%w: %v", domain.ErrLLMTimeout, err)
		}
		parsed := result.([]float32)
		if len(parsed) == 0 {
			return fmt.Errorf("%w: empty embedding response", domain.ErrLLMParse)
		}
		vec = parsed
		return nil
	})
	if retryErr != nil {
		return nil, retryErr
	}
	return vec, nil
}

type embedRequestBody struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

// openAIEmbeddingShape is the documented `{data: [{embedding}]}` response.
type openAIEmbeddingShape struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// singleEmbeddingShape is a bare `{embedding}` object, the third fallback.
type singleEmbeddingShape struct {
	Embedding []float32 `json:"embedding"`
}

// rawEmbed issues the HTTP request itself instead of going through the
// go-openai client, so the raw body is available for the fallback parses.
func (p *OpenAIProvider) rawEmbed(ctx context.Context, input string) ([]float32, error) {
	body, err := json.Marshal(embedRequestBody{Input: input, Model: p.model})
	if err != nil {
		return nil, fmt.Errorf("marshal embeddings request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embeddings request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embeddings request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embeddings response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &retry.HTTPError{StatusCode: resp.StatusCode, Message: string(raw)}
	}

	return parseEmbeddingBody(raw)
}

// parseEmbeddingBody tries the standard SDK shape first, then a bare
// `[f32]` array, then a single `{embedding}` object.
func parseEmbeddingBody(raw []byte) ([]float32, error) {
	var standard openAIEmbeddingShape
	if err := json.Unmarshal(raw, &standard); err == nil && len(standard.Data) > 0 && len(standard.Data[0].Embedding) > 0 {
		return standard.Data[0].Embedding, nil
	}

	var bareArray []float32
	if err := json.Unmarshal(raw, &bareArray); err == nil && len(bareArray) > 0 {
		return bareArray, nil
	}

	var single singleEmbeddingShape
	if err := json.Unmarshal(raw, &single); err == nil && len(single.Embedding) > 0 {
		return single.Embedding, nil
	}

	return nil, fmt.Errorf("%w: unrecognized embedding response shape", domain.ErrLLMParse)
}
