package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sony/gobreaker"

	"mynewslens/internal/config"
	"mynewslens/internal/domain"
	"mynewslens/internal/resilience/circuitbreaker"
	"mynewslens/internal/resilience/retry"
)

// AnthropicProvider implements Provider's Generate/Summarize against
// Claude. Embed always errors: Claude has no embeddings endpoint, so the
// Registry never routes embedding calls here.
type AnthropicProvider struct {
	client    anthropic.Client
	model     anthropic.Model
	timeout   time.Duration
	maxTokens int64
	cb        *circuitbreaker.CircuitBreaker
	retryCfg  retry.Config
}

// NewAnthropicProvider builds a provider from one named config endpoint.
func NewAnthropicProvider(ep config.LLMEndpoint) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(ep.APIKey())}
	if ep.APIURL != "" {
		opts = append(opts, option.WithBaseURL(ep.APIURL))
	}

	model := anthropic.Model(ep.Model)
	if ep.Model == "" {
		model = anthropic.ModelClaude3_5HaikuLatest
	}

	timeout := time.Duration(ep.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxTokens := int64(ep.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	return &AnthropicProvider{
		client:    anthropic.NewClient(opts...),
		model:     model,
		timeout:   timeout,
		maxTokens: maxTokens,
		cb:        circuitbreaker.New(circuitbreaker.ClaudeAPIConfig()),
		retryCfg:  retry.AIAPIConfig(),
	}
}

func (p *AnthropicProvider) call(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, int, int, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var text string
	var inputTokens, outputTokens int

	retryErr := retry.WithBackoff(ctx, p.retryCfg, func() error {
		result, err := p.cb.Execute(func() (interface{}, error) {
			return p.client.Messages.New(ctx, anthropic.MessageNewParams{
				Model:       p.model,
				MaxTokens:   p.maxTokens,
				Temperature: anthropic.Float(temperature),
				System: []anthropic.TextBlockParam{
					{Text: systemPrompt},
				},
				Messages: []anthropic.MessageParam{
					anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
				},
			})
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) {
				return fmt.Errorf("%w: anthropic api circuit breaker open", domain.ErrLLMTimeout)
			}
			return fmt.Errorf("%w: %v", domain.ErrLLMTimeout, err)
		}
		msg := result.(*anthropic.Message)
		for _, block := range msg.Content {
			if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
				text = variant.Text
				break
			}
		}
		if text == "" {
			return fmt.Errorf("%w: no text block in response", domain.ErrLLMParse)
		}
		inputTokens = int(msg.Usage.InputTokens)
		outputTokens = int(msg.Usage.OutputTokens)
		return nil
	})
	if retryErr != nil {
		return "", 0, 0, retryErr
	}
	return text, inputTokens, outputTokens, nil
}

func (p *AnthropicProvider) Generate(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, int, int, error) {
	return p.call(ctx, systemPrompt, userPrompt, temperature)
}

func (p *AnthropicProvider) Summarize(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, int, int, error) {
	return p.call(ctx, systemPrompt, userPrompt, temperature)
}

func (p *AnthropicProvider) Embed(ctx context.Context, _ string) ([]float32, error) {
	return nil, fmt.Errorf("%w: anthropic provider has no embeddings endpoint", domain.ErrLLMParse)
}
