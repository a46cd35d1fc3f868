package rag

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nikhilbhutani/docqa/internal/llm"
	"github.com/nikhilbhutani/docqa/internal/memory"
	"github.com/nikhilbhutani/docqa/internal/models"
)

const (
	// NotSureAnswer is what the model is told to say when the question is
	// unrelated to the supplied context.
	NotSureAnswer = "I'm not sure. The uploaded documents don't cover this question."

	// EmptyAnswerFallback replaces a completion that contained no text.
	EmptyAnswerFallback = "I wasn't able to generate an answer from the retrieved documents. Please try rephrasing your question."

	DefaultHistoryWindow = 6
)

var systemPrompt = `You are a knowledgeable research assistant answering questions about the user's uploaded documents.

Rules:
- Answer only from the supplied context. Do not use outside knowledge.
- Cite the documents you rely on with their source marker, e.g. [Doc 1], and mention document names where helpful.
- If the context is insufficient to answer fully, say what is missing.
- If sources conflict, point out the conflict and cite both sides.
- If the question is unrelated to the context, reply exactly: "` + NotSureAnswer + `"`

// SourceDoc is one document represented in the assembled context.
type SourceDoc struct {
	DocumentID string
	Title      string
	Authors    []string
	Score      float64
}

// Answer is a generated response with citations aligned to its [N] markers.
type Answer struct {
	Text      string
	Citations []models.Citation
	Usage     models.Usage
}

type GeneratorOptions struct {
	Provider      string
	Model         string
	MaxTokens     int
	Temperature   float64
	HistoryWindow int
}

// Generator produces grounded answers through the LLM gateway.
type Generator struct {
	gateway llm.Gateway
	opts    GeneratorOptions
}

func NewGenerator(gw llm.Gateway, opts GeneratorOptions) *Generator {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = DefaultHistoryWindow
	}
	return &Generator{gateway: gw, opts: opts}
}

// Generate answers question from contextText. sources are numbered 1..n in the
// prompt; inline markers in the answer are rewritten to match the returned
// citation list.
func (g *Generator) Generate(ctx context.Context, question, contextText string, sources []SourceDoc, history []models.ConversationTurn) (*Answer, error) {
	messages := g.buildMessages(question, contextText, sources, history)

	resp, err := g.gateway.Chat(ctx, llm.ChatRequest{
		Provider:    g.opts.Provider,
		Model:       g.opts.Model,
		Messages:    messages,
		MaxTokens:   g.opts.MaxTokens,
		Temperature: g.opts.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	usage := models.Usage{
		Provider:     resp.Provider,
		Model:        resp.Model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		CostUSD:      resp.CostUSD,
		LatencyMs:    resp.LatencyMs,
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return &Answer{Text: EmptyAnswerFallback, Citations: []models.Citation{}, Usage: usage}, nil
	}
	if strings.Contains(text, NotSureAnswer) {
		return &Answer{Text: text, Citations: []models.Citation{}, Usage: usage}, nil
	}

	return &Answer{
		Text:      RewriteMarkers(text, len(sources)),
		Citations: citationsFor(sources),
		Usage:     usage,
	}, nil
}

func (g *Generator) buildMessages(question, contextText string, sources []SourceDoc, history []models.ConversationTurn) []llm.Message {
	messages := []llm.Message{{Role: llm.RoleSystem, Content: systemPrompt}}

	for _, turn := range memory.Window(history, g.opts.HistoryWindow) {
		switch turn.Role {
		case models.RoleUser:
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: turn.Content})
		case models.RoleAssistant:
			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: turn.Content})
		}
	}

	var sb strings.Builder
	sb.WriteString("Sources:\n")
	for i, s := range sources {
		fmt.Fprintf(&sb, "[Doc %d] %s\n", i+1, s.Title)
	}
	sb.WriteString("\nContext:\n")
	sb.WriteString(contextText)
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(question)

	return append(messages, llm.Message{Role: llm.RoleUser, Content: sb.String()})
}

var markerRe = regexp.MustCompile(`(?i)([ \t]?)\[\s*(?:doc(?:ument)?|source)\s*#?\s*(\d+)\s*\]`)

// RewriteMarkers turns [Doc N] and [Source N] markers into [N]. Markers that
// point past the n available citations are removed with their leading space.
func RewriteMarkers(text string, n int) string {
	return markerRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := markerRe.FindStringSubmatch(m)
		idx, err := strconv.Atoi(sub[2])
		if err != nil || idx < 1 || idx > n {
			return ""
		}
		return sub[1] + "[" + strconv.Itoa(idx) + "]"
	})
}

func citationsFor(sources []SourceDoc) []models.Citation {
	out := make([]models.Citation, len(sources))
	for i, s := range sources {
		out[i] = models.Citation{
			DocumentID: s.DocumentID,
			Title:      s.Title,
			Authors:    s.Authors,
			Reference:  models.FormatReference(s.Title, s.Authors),
			Score:      models.ClampScore(s.Score),
		}
	}
	return out
}
