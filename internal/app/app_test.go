package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/docqa/internal/config"
)

func TestNewQueue(t *testing.T) {
	t.Run("chromem keeps ingestion in process", func(t *testing.T) {
		cfg := config.Defaults()
		assert.Nil(t, newQueue(cfg))
	})

	t.Run("shared index enables the queue", func(t *testing.T) {
		cfg := config.Defaults()
		cfg.VectorIndex.Backend = "qdrant"
		cfg.VectorIndex.QdrantURL = "http://localhost:6333"

		q := newQueue(cfg)
		require.NotNil(t, q)
		assert.NoError(t, q.Close())
	})
}
