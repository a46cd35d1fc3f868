package rag

import (
	"context"
	"fmt"

	"github.com/nikhilbhutani/docqa/internal/embedding"
	"github.com/nikhilbhutani/docqa/internal/models"
	"github.com/nikhilbhutani/docqa/internal/vectorstore"
)

const DefaultTopK = 5

type Retriever struct {
	embedder   embedding.Embedder
	index      vectorstore.Index
	collection string
	topK       int
	minScore   float64
}

func NewRetriever(embedder embedding.Embedder, index vectorstore.Index, collection string, topK int, minScore float64) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Retriever{
		embedder:   embedder,
		index:      index,
		collection: collection,
		topK:       topK,
		minScore:   minScore,
	}
}

// Retrieve embeds the question and returns the topK closest chunks, best
// first, optionally restricted to documentIDs. Hits scoring below minScore
// are dropped. When nothing is left it returns models.ErrNoRelevantContent.
func (r *Retriever) Retrieve(ctx context.Context, question string, documentIDs []string) ([]RetrievedChunk, error) {
	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, models.Stage(models.StageEmbedQuery, fmt.Errorf("embed query: %w", err))
	}

	hits, err := r.index.Search(ctx, r.collection, vec, r.topK, vectorstore.Filter{DocumentIDs: documentIDs})
	if err != nil {
		return nil, models.Stage(models.StageSearch, err)
	}

	out := make([]RetrievedChunk, 0, len(hits))
	for _, h := range hits {
		score := models.ClampScore(h.Score)
		if score < r.minScore {
			continue
		}
		out = append(out, RetrievedChunk{
			ID:           h.ID,
			DocumentID:   h.Payload.DocumentID,
			DocumentName: h.Payload.DocumentName,
			Index:        h.Payload.Index,
			Text:         h.Payload.Text,
			Score:        score,
		})
	}
	if len(out) == 0 {
		return nil, models.ErrNoRelevantContent
	}
	return out, nil
}
