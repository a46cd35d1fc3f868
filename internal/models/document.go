package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Document is a named unit of ingested content. It exclusively owns its chunks.
type Document struct {
	ID         uuid.UUID `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	SizeBytes  int64     `json:"size_bytes" db:"size_bytes"`
	MediaType  string    `json:"media_type,omitempty" db:"media_type"`
	Authors    []string  `json:"authors,omitempty" db:"authors"`
	ChunkCount int       `json:"chunk_count" db:"chunk_count"`
	IngestedAt time.Time `json:"ingested_at" db:"ingested_at"`
}

// Chunk is a bounded span of a document's normalized text.
type Chunk struct {
	ID         uuid.UUID `json:"id"`
	DocumentID uuid.UUID `json:"document_id"`
	Index      int       `json:"index"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// Citation ties a generated answer back to a retrieved source document.
// Its position in a response's citation list is the 1-based index used by
// inline [N] markers in that response only.
type Citation struct {
	DocumentID string   `json:"document_id"`
	Title      string   `json:"title"`
	Authors    []string `json:"authors,omitempty"`
	Reference  string   `json:"reference"`
	Score      float64  `json:"score"`
}

// FormatReference renders a display reference such as "Smith; Doe. Title."
func FormatReference(title string, authors []string) string {
	title = strings.TrimSpace(title)
	if len(authors) == 0 {
		return title
	}
	return strings.Join(authors, "; ") + ". " + title + "."
}

// ClampScore limits a similarity score to [0,1].
func ClampScore(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	default:
		return s
	}
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationTurn is one message of a caller-owned conversation.
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage records the cost of one completion call.
type Usage struct {
	Provider     string  `json:"provider,omitempty"`
	Model        string  `json:"model,omitempty"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	LatencyMs    int64   `json:"latency_ms"`
}
