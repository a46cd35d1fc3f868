package rag

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docqa/internal/vectorstore"
	"github.com/nikhilbhutani/docqa/pkg/chunker"
	"github.com/nikhilbhutani/docqa/pkg/tokenizer"
)

// ChunkResult is one chunk of a document ready for embedding.
type ChunkResult struct {
	PointID    string
	Content    string
	Index      int
	TokenCount int
}

// PointID derives a stable point identifier from the document and chunk
// position, so re-ingesting a document overwrites its points.
func PointID(documentID uuid.UUID, index int) string {
	return uuid.NewSHA1(documentID, []byte("chunk:"+strconv.Itoa(index))).String()
}

func ChunkText(c *chunker.Chunker, documentID uuid.UUID, text string) []ChunkResult {
	var results []ChunkResult
	for ch := range c.Chunks(text) {
		results = append(results, ChunkResult{
			PointID:    PointID(documentID, ch.Index),
			Content:    ch.Content,
			Index:      ch.Index,
			TokenCount: tokenizer.CountTokens(ch.Content),
		})
	}
	return results
}

func toPoints(chunks []ChunkResult, vectors [][]float32, documentID uuid.UUID, name string, at time.Time) []vectorstore.Point {
	points := make([]vectorstore.Point, len(chunks))
	for i, c := range chunks {
		points[i] = vectorstore.Point{
			ID:     c.PointID,
			Vector: vectors[i],
			Payload: vectorstore.Payload{
				DocumentID:   documentID.String(),
				DocumentName: name,
				Text:         c.Content,
				Index:        c.Index,
				CreatedAt:    at,
			},
		}
	}
	return points
}
