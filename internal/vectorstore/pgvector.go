package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/nikhilbhutani/docqa/internal/models"
)

// Postgres error codes the index tolerates or translates.
const (
	pgUndefinedTable  = "42P01"
	pgDuplicateTable  = "42P07"
	pgDuplicateObject = "42710"
	pgUniqueViolation = "23505"
)

// PgPool is the subset of *pgxpool.Pool used by the pgvector index.
type PgPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// PgVectorIndex stores each collection as its own table with a fixed-size
// vector column.
type PgVectorIndex struct {
	db        PgPool
	batchSize int

	// distance scores searches on collections this process has not
	// ensured itself, e.g. an API fed only by the queue worker.
	distance Distance

	mu        sync.RWMutex
	distances map[string]Distance
}

func NewPgVectorIndex(db PgPool, batchSize int, distance Distance) *PgVectorIndex {
	if distance == "" {
		distance = Cosine
	}
	return &PgVectorIndex{db: db, batchSize: batchSize, distance: distance, distances: make(map[string]Distance)}
}

func (s *PgVectorIndex) Name() string { return "pgvector" }

func (s *PgVectorIndex) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("pgvector ping: %w", err)
	}
	return nil
}

func tableName(collection string) string {
	return pgx.Identifier{collection + "_points"}.Sanitize()
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// opsFor returns the distance operator and index operator class.
func opsFor(d Distance) (op, opclass string, err error) {
	switch d {
	case Cosine, "":
		return "<=>", "vector_cosine_ops", nil
	case Dot:
		return "<#>", "vector_ip_ops", nil
	case Euclidean:
		return "<->", "vector_l2_ops", nil
	}
	return "", "", fmt.Errorf("%w: unknown distance %q", models.ErrConfiguration, d)
}

// scoreExpr converts the operator's distance into a higher-is-better score.
func scoreExpr(d Distance) string {
	switch d {
	case Dot:
		return "-(embedding <#> $1)"
	case Euclidean:
		return "1 / (1 + (embedding <-> $1))"
	default:
		return "1 - (embedding <=> $1)"
	}
}

func (s *PgVectorIndex) distanceFor(collection string) Distance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.distances[collection]; ok {
		return d
	}
	return s.distance
}

// EnsureCollection creates the table and its indexes if absent. Losing a
// concurrent create race surfaces as a duplicate error, which is ignored.
func (s *PgVectorIndex) EnsureCollection(ctx context.Context, name string, dimension int, distance Distance) error {
	_, opclass, err := opsFor(distance)
	if err != nil {
		return err
	}
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", models.ErrConfiguration)
	}
	table := tableName(name)

	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id            UUID PRIMARY KEY,
			document_id   TEXT NOT NULL,
			document_name TEXT NOT NULL DEFAULT '',
			chunk_index   INT NOT NULL,
			content       TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			embedding     vector(%d) NOT NULL
		)`, table, dimension),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (document_id)",
			pgx.Identifier{name + "_points_document_id_idx"}.Sanitize(), table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding %s)",
			pgx.Identifier{name + "_points_embedding_idx"}.Sanitize(), table, opclass),
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			switch pgCode(err) {
			case pgDuplicateTable, pgDuplicateObject, pgUniqueViolation:
				continue
			}
			return indexErr("create_collection", name, err)
		}
	}

	s.mu.Lock()
	s.distances[name] = distance
	s.mu.Unlock()
	return nil
}

func (s *PgVectorIndex) Upsert(ctx context.Context, collection string, points []Point) error {
	query := fmt.Sprintf(`INSERT INTO %s (id, document_id, document_name, chunk_index, content, created_at, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET document_id = $2, document_name = $3, chunk_index = $4,
			content = $5, created_at = $6, embedding = $7`, tableName(collection))

	return writeBatches(collection, points, s.batchSize, func(batch []Point) error {
		b := &pgx.Batch{}
		for _, p := range batch {
			id, err := uuid.Parse(p.ID)
			if err != nil {
				return fmt.Errorf("point id %q: %w", p.ID, err)
			}
			b.Queue(query, id, p.Payload.DocumentID, p.Payload.DocumentName, p.Payload.Index,
				p.Payload.Text, p.Payload.CreatedAt, pgvector.NewVector(p.Vector))
		}

		tx, err := s.db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := tx.SendBatch(ctx, b).Close(); err != nil {
			if pgCode(err) == pgUndefinedTable {
				return fmt.Errorf("%w: %v", models.ErrCollectionNotFound, err)
			}
			return err
		}
		return tx.Commit(ctx)
	})
}

func (s *PgVectorIndex) Search(ctx context.Context, collection string, vector []float32, limit int, filter Filter) ([]ScoredPoint, error) {
	if limit <= 0 {
		return nil, nil
	}
	dist := s.distanceFor(collection)
	op, _, err := opsFor(dist)
	if err != nil {
		return nil, err
	}

	args := []any{pgvector.NewVector(vector), limit}
	where := ""
	if !filter.IsEmpty() {
		where = "WHERE document_id = ANY($3)"
		args = append(args, filter.DocumentIDs)
	}
	query := fmt.Sprintf(`SELECT id, document_id, document_name, chunk_index, content, created_at, %s AS score
		FROM %s %s
		ORDER BY embedding %s $1
		LIMIT $2`, scoreExpr(dist), tableName(collection), where, op)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		if pgCode(err) == pgUndefinedTable {
			return nil, nil
		}
		return nil, indexErr("search", collection, err)
	}
	defer rows.Close()

	var out []ScoredPoint
	for rows.Next() {
		var (
			id uuid.UUID
			sp ScoredPoint
		)
		if err := rows.Scan(&id, &sp.Payload.DocumentID, &sp.Payload.DocumentName, &sp.Payload.Index,
			&sp.Payload.Text, &sp.Payload.CreatedAt, &sp.Score); err != nil {
			return nil, indexErr("search", collection, fmt.Errorf("scan result: %w", err))
		}
		sp.ID = id.String()
		out = append(out, sp)
	}
	if err := rows.Err(); err != nil {
		if pgCode(err) == pgUndefinedTable {
			return nil, nil
		}
		return nil, indexErr("search", collection, err)
	}
	return out, nil
}

func (s *PgVectorIndex) DeleteByFilter(ctx context.Context, collection string, filter Filter) error {
	var err error
	if filter.IsEmpty() {
		_, err = s.db.Exec(ctx, "DELETE FROM "+tableName(collection))
	} else {
		_, err = s.db.Exec(ctx, "DELETE FROM "+tableName(collection)+" WHERE document_id = ANY($1) AND chunk_index >= $2",
			filter.DocumentIDs, filter.FromIndex)
	}
	if pgCode(err) == pgUndefinedTable {
		return fmt.Errorf("delete from %q: %w", collection, models.ErrCollectionNotFound)
	}
	if err != nil {
		return indexErr("delete", collection, err)
	}
	return nil
}
