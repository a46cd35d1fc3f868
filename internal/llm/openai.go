package llm

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider serves OpenAI and any endpoint speaking its API.
type OpenAIProvider struct {
	client *openai.Client
}

func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg)}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Defaults() ModelDefaults {
	return ModelDefaults{Chat: "gpt-4o", Embedding: "text-embedding-3-small"}
}

func (p *OpenAIProvider) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	model := modelOr(req.Model, p.Defaults().Chat)

	in := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  make([]openai.ChatCompletionMessage, 0, len(req.Messages)),
		MaxTokens: req.MaxTokens,
	}
	for _, m := range req.Messages {
		in.Messages = append(in.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	if req.Temperature > 0 {
		in.Temperature = float32(req.Temperature)
	}

	out, err := p.client.CreateChatCompletion(ctx, in)
	if err != nil {
		return nil, classify(p.Name(), fmt.Errorf("openai chat: %w", err))
	}

	resp := &ChatResponse{
		Provider:     p.Name(),
		Model:        out.Model,
		InputTokens:  out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
		CostUSD:      CalculateCost(model, out.Usage.PromptTokens, out.Usage.CompletionTokens),
		LatencyMs:    time.Since(start).Milliseconds(),
	}
	if len(out.Choices) > 0 {
		resp.Content = out.Choices[0].Message.Content
	}
	return resp, nil
}

func (p *OpenAIProvider) Embed(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error) {
	model := modelOr(req.Model, p.Defaults().Embedding)

	out, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      req.Input,
		Model:      openai.EmbeddingModel(model),
		Dimensions: req.Dimensions,
	})
	if err != nil {
		return nil, classify(p.Name(), fmt.Errorf("openai embedding: %w", err))
	}

	// Data may arrive out of order; Index ties each vector to its input.
	vectors := make([][]float32, len(req.Input))
	for _, d := range out.Data {
		if d.Index >= 0 && d.Index < len(vectors) {
			vectors[d.Index] = d.Embedding
		}
	}

	return &EmbeddingResponse{
		Provider:   p.Name(),
		Model:      model,
		Embeddings: vectors,
		Tokens:     out.Usage.TotalTokens,
		CostUSD:    CalculateCost(model, out.Usage.PromptTokens, 0),
	}, nil
}

func (p *OpenAIProvider) Ping(ctx context.Context) error {
	if _, err := p.client.ListModels(ctx); err != nil {
		return classify(p.Name(), fmt.Errorf("openai list models: %w", err))
	}
	return nil
}
