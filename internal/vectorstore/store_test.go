package vectorstore

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/docqa/internal/config"
	"github.com/nikhilbhutani/docqa/internal/models"
)

func makePoints(n int) []Point {
	pts := make([]Point, n)
	for i := range pts {
		pts[i] = Point{ID: fmt.Sprint(i)}
	}
	return pts
}

func TestWriteBatches(t *testing.T) {
	t.Run("splits into fixed-size groups", func(t *testing.T) {
		var sizes []int
		err := writeBatches("docs", makePoints(250), 100, func(b []Point) error {
			sizes = append(sizes, len(b))
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []int{100, 100, 50}, sizes)
	})

	t.Run("reports the failing batch", func(t *testing.T) {
		calls := 0
		err := writeBatches("docs", makePoints(250), 100, func(b []Point) error {
			calls++
			if calls == 2 {
				return errors.New("payload too large")
			}
			return nil
		})

		var ie *models.IndexError
		require.ErrorAs(t, err, &ie)
		assert.Equal(t, "upsert", ie.Op)
		assert.Equal(t, 1, ie.Batch)
		assert.Equal(t, 100, ie.Succeeded)
		assert.ErrorIs(t, err, models.ErrIndexOperation)
		assert.Equal(t, 2, calls, "stops at the first failure")
	})

	t.Run("no points means no writes", func(t *testing.T) {
		err := writeBatches("docs", nil, 100, func([]Point) error {
			t.Fatal("unexpected write")
			return nil
		})
		assert.NoError(t, err)
	})
}

func TestOpen(t *testing.T) {
	idx, err := Open(config.VectorIndexConfig{Backend: "chromem"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "chromem", idx.Name())

	idx, err = Open(config.VectorIndexConfig{Backend: "qdrant", QdrantURL: "http://localhost:6333"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "qdrant", idx.Name())

	_, err = Open(config.VectorIndexConfig{Backend: "pgvector"}, nil)
	assert.ErrorIs(t, err, models.ErrConfiguration)

	_, err = Open(config.VectorIndexConfig{Backend: "faiss"}, nil)
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestPgVectorHelpers(t *testing.T) {
	assert.Equal(t, `"documents_points"`, tableName("documents"))
	assert.Equal(t, `"we""ird_points"`, tableName(`we"ird`))

	op, opclass, err := opsFor(Cosine)
	require.NoError(t, err)
	assert.Equal(t, "<=>", op)
	assert.Equal(t, "vector_cosine_ops", opclass)

	_, _, err = opsFor("manhattan")
	assert.ErrorIs(t, err, models.ErrConfiguration)
}
