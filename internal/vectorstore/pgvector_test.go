package vectorstore

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errStopQuery = errors.New("stop")

// recordingPool captures statements without a database; Query always fails.
type recordingPool struct {
	sql  []string
	args [][]any
}

func (p *recordingPool) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.sql = append(p.sql, sql)
	p.args = append(p.args, args)
	return pgconn.CommandTag{}, nil
}

func (p *recordingPool) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	p.sql = append(p.sql, sql)
	p.args = append(p.args, args)
	return nil, errStopQuery
}

func (p *recordingPool) Begin(context.Context) (pgx.Tx, error) { return nil, errStopQuery }
func (p *recordingPool) Ping(context.Context) error            { return nil }

func TestPgVectorIndex_SearchUsesConfiguredDistance(t *testing.T) {
	pool := &recordingPool{}
	idx := NewPgVectorIndex(pool, 10, Dot)

	_, err := idx.Search(context.Background(), "documents", []float32{1, 0}, 3, Filter{})
	require.ErrorIs(t, err, errStopQuery)
	require.Len(t, pool.sql, 1)
	assert.Contains(t, pool.sql[0], "-(embedding <#> $1)")
	assert.Contains(t, pool.sql[0], "ORDER BY embedding <#> $1")
}

func TestPgVectorIndex_EnsuredDistanceWins(t *testing.T) {
	pool := &recordingPool{}
	idx := NewPgVectorIndex(pool, 10, "")
	require.NoError(t, idx.EnsureCollection(context.Background(), "documents", 2, Euclidean))

	_, err := idx.Search(context.Background(), "documents", []float32{1, 0}, 3, Filter{})
	require.ErrorIs(t, err, errStopQuery)
	assert.Contains(t, pool.sql[len(pool.sql)-1], "ORDER BY embedding <-> $1")

	_, err = idx.Search(context.Background(), "other", []float32{1, 0}, 3, Filter{})
	require.ErrorIs(t, err, errStopQuery)
	assert.Contains(t, pool.sql[len(pool.sql)-1], "ORDER BY embedding <=> $1")
}

func TestPgVectorIndex_DeleteFromIndex(t *testing.T) {
	pool := &recordingPool{}
	idx := NewPgVectorIndex(pool, 10, Cosine)

	require.NoError(t, idx.DeleteByFilter(context.Background(), "documents", Filter{DocumentIDs: []string{"a"}, FromIndex: 3}))
	require.Len(t, pool.sql, 1)
	assert.Contains(t, pool.sql[0], "chunk_index >= $2")
	assert.Equal(t, []any{[]string{"a"}, 3}, pool.args[0])
}
