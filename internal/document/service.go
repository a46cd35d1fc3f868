package document

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nikhilbhutani/docqa/internal/models"
)

// DB is the subset of *pgxpool.Pool used by PGRegistry.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGRegistry stores documents in the documents table (see migrations/).
type PGRegistry struct {
	db DB
}

func NewPGRegistry(db DB) *PGRegistry {
	return &PGRegistry{db: db}
}

const documentColumns = `id, name, size_bytes, media_type, authors, chunk_count, ingested_at`

func (s *PGRegistry) Put(ctx context.Context, doc *models.Document) error {
	authors := doc.Authors
	if authors == nil {
		authors = []string{}
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO documents (`+documentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET name = $2, size_bytes = $3, media_type = $4,
		 	authors = $5, chunk_count = $6, ingested_at = $7`,
		doc.ID, doc.Name, doc.SizeBytes, doc.MediaType, authors, doc.ChunkCount, doc.IngestedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

func (s *PGRegistry) Get(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	row := s.db.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

func (s *PGRegistry) List(ctx context.Context) ([]models.Document, error) {
	rows, err := s.db.Query(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY ingested_at DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

func (s *PGRegistry) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM documents WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGRegistry) Clear(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, "DELETE FROM documents"); err != nil {
		return fmt.Errorf("clear documents: %w", err)
	}
	return nil
}

func scanDocument(row pgx.Row) (*models.Document, error) {
	var d models.Document
	if err := row.Scan(&d.ID, &d.Name, &d.SizeBytes, &d.MediaType, &d.Authors, &d.ChunkCount, &d.IngestedAt); err != nil {
		return nil, err
	}
	return &d, nil
}
