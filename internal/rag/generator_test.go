package rag

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/docqa/internal/models"
)

func TestRewriteMarkers(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"doc marker", "Zebras migrate [Doc 1].", 2, "Zebras migrate [1]."},
		{"variants", "See [doc 2], [Source 1] and [Document #2].", 2, "See [2], [1] and [2]."},
		{"out of range removed", "Claim [Doc 3] here.", 2, "Claim here."},
		{"keeps newlines", "One [Doc 1].\n\nTwo [Doc 2].", 2, "One [1].\n\nTwo [2]."},
		{"plain brackets untouched", "An array [1, 2] stays.", 1, "An array [1, 2] stays."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RewriteMarkers(tt.in, tt.n))
		})
	}
}

func TestGenerator_Generate(t *testing.T) {
	ctx := context.Background()
	sources := []SourceDoc{
		{DocumentID: "d1", Title: "Zebras", Authors: []string{"Smith"}, Score: 0.9},
		{DocumentID: "d2", Title: "Plains", Score: 1.4},
	}

	t.Run("aligns citations with markers", func(t *testing.T) {
		gw := &chatGateway{reply: "Herds move [Doc 2] and graze [Doc 1]."}
		ans, err := NewGenerator(gw, GeneratorOptions{}).Generate(ctx, "q", "ctx", sources, nil)
		require.NoError(t, err)
		assert.Equal(t, "Herds move [2] and graze [1].", ans.Text)
		require.Len(t, ans.Citations, 2)
		assert.Equal(t, "Smith. Zebras.", ans.Citations[0].Reference)
		assert.Equal(t, 1.0, ans.Citations[1].Score, "score clamped")

		prompt := gw.requests[0].Messages[1].Content
		assert.Contains(t, prompt, "[Doc 1] Zebras\n[Doc 2] Plains")
	})

	t.Run("empty completion falls back", func(t *testing.T) {
		gw := &chatGateway{reply: "  \n"}
		ans, err := NewGenerator(gw, GeneratorOptions{}).Generate(ctx, "q", "ctx", sources, nil)
		require.NoError(t, err)
		assert.Equal(t, EmptyAnswerFallback, ans.Text)
		assert.Empty(t, ans.Citations)
	})

	t.Run("not sure answer has no citations", func(t *testing.T) {
		gw := &chatGateway{reply: NotSureAnswer}
		ans, err := NewGenerator(gw, GeneratorOptions{}).Generate(ctx, "q", "ctx", sources, nil)
		require.NoError(t, err)
		assert.Equal(t, NotSureAnswer, ans.Text)
		assert.NotNil(t, ans.Citations)
		assert.Empty(t, ans.Citations)
	})

	t.Run("history is windowed", func(t *testing.T) {
		var history []models.ConversationTurn
		for i := range 10 {
			role := models.RoleUser
			if i%2 == 1 {
				role = models.RoleAssistant
			}
			history = append(history, models.ConversationTurn{Role: role, Content: fmt.Sprint(i)})
		}
		history = append(history, models.ConversationTurn{Role: "system", Content: "ignored"})

		gw := &chatGateway{reply: "ok"}
		_, err := NewGenerator(gw, GeneratorOptions{HistoryWindow: 4}).Generate(ctx, "q", "ctx", sources, history)
		require.NoError(t, err)

		msgs := gw.requests[0].Messages
		// system, turns 7..9 (the 4th windowed turn has an unknown role), final user turn
		require.Len(t, msgs, 5)
		assert.Equal(t, "7", msgs[1].Content)
		assert.Equal(t, "9", msgs[3].Content)
	})

	t.Run("provider error is returned", func(t *testing.T) {
		gw := &chatGateway{err: fmt.Errorf("%w: no key", models.ErrConfiguration)}
		_, err := NewGenerator(gw, GeneratorOptions{}).Generate(ctx, "q", "ctx", sources, nil)
		assert.ErrorIs(t, err, models.ErrConfiguration)
	})
}
