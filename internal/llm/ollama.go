package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaProvider calls a local Ollama server over its REST API.
type OllamaProvider struct {
	baseURL string
	http    *http.Client
}

func NewOllamaProvider(baseURL string) *OllamaProvider {
	return &OllamaProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

func (p *OllamaProvider) Name() string { return "ollama" }

func (p *OllamaProvider) Defaults() ModelDefaults {
	return ModelDefaults{Chat: "llama3", Embedding: "nomic-embed-text"}
}

type ollamaChat struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatReply struct {
	Message         Message `json:"message"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
}

type ollamaEmbed struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedReply struct {
	Embeddings      [][]float32 `json:"embeddings"`
	PromptEvalCount int         `json:"prompt_eval_count"`
}

func (p *OllamaProvider) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	in := ollamaChat{Model: modelOr(req.Model, p.Defaults().Chat), Messages: req.Messages}

	opts := map[string]any{}
	if req.Temperature > 0 {
		opts["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		opts["num_predict"] = req.MaxTokens
	}
	if len(opts) > 0 {
		in.Options = opts
	}

	var out ollamaChatReply
	if err := p.call(ctx, http.MethodPost, "/api/chat", in, &out); err != nil {
		return nil, classify(p.Name(), fmt.Errorf("ollama chat: %w", err))
	}

	return &ChatResponse{
		Provider:     p.Name(),
		Model:        in.Model,
		Content:      out.Message.Content,
		InputTokens:  out.PromptEvalCount,
		OutputTokens: out.EvalCount,
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}

func (p *OllamaProvider) Embed(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error) {
	in := ollamaEmbed{Model: modelOr(req.Model, p.Defaults().Embedding), Input: req.Input}

	var out ollamaEmbedReply
	if err := p.call(ctx, http.MethodPost, "/api/embed", in, &out); err != nil {
		return nil, classify(p.Name(), fmt.Errorf("ollama embed: %w", err))
	}

	return &EmbeddingResponse{
		Provider:   p.Name(),
		Model:      in.Model,
		Embeddings: out.Embeddings,
		Tokens:     out.PromptEvalCount,
	}, nil
}

func (p *OllamaProvider) Ping(ctx context.Context) error {
	if err := p.call(ctx, http.MethodGet, "/api/tags", nil, nil); err != nil {
		return classify(p.Name(), fmt.Errorf("ollama ping: %w", err))
	}
	return nil
}

// call sends in as JSON (when non-nil) and decodes the reply into out (when non-nil).
func (p *OllamaProvider) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
