package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nikhilbhutani/docqa/internal/models"
)

const anthropicDefaultMaxTokens = 1024

// AnthropicProvider answers chat requests only; there is no embedding API.
type AnthropicProvider struct {
	client anthropic.Client
}

func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{client: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Defaults() ModelDefaults {
	return ModelDefaults{Chat: "claude-sonnet-4-20250514"}
}

// toAnthropic moves system messages into the request's system prompt, which
// the Messages API keeps separate from the turn list.
func toAnthropic(msgs []Message) (system []anthropic.TextBlockParam, turns []anthropic.MessageParam) {
	var sys []string
	for _, m := range msgs {
		block := anthropic.NewTextBlock(m.Content)
		switch m.Role {
		case RoleSystem:
			sys = append(sys, m.Content)
		case RoleAssistant:
			turns = append(turns, anthropic.NewAssistantMessage(block))
		default:
			turns = append(turns, anthropic.NewUserMessage(block))
		}
	}
	if len(sys) > 0 {
		system = []anthropic.TextBlockParam{{Text: strings.Join(sys, "\n\n")}}
	}
	return system, turns
}

func (p *AnthropicProvider) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	model := modelOr(req.Model, p.Defaults().Chat)

	system, turns := toAnthropic(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: anthropicDefaultMaxTokens,
		Messages:  turns,
		System:    system,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = int64(req.MaxTokens)
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classify(p.Name(), fmt.Errorf("anthropic chat: %w", err))
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	in, out := int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens)
	return &ChatResponse{
		Provider:     p.Name(),
		Model:        string(msg.Model),
		Content:      text.String(),
		InputTokens:  in,
		OutputTokens: out,
		CostUSD:      CalculateCost(model, in, out),
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}

func (p *AnthropicProvider) Embed(context.Context, EmbeddingRequest) (*EmbeddingResponse, error) {
	return nil, &models.ProviderError{
		Provider: p.Name(),
		Err:      fmt.Errorf("%w: anthropic does not provide embeddings, use openai or ollama", models.ErrConfiguration),
	}
}

func (p *AnthropicProvider) Ping(ctx context.Context) error {
	if _, err := p.client.Models.List(ctx, anthropic.ModelListParams{}); err != nil {
		return classify(p.Name(), fmt.Errorf("anthropic list models: %w", err))
	}
	return nil
}
