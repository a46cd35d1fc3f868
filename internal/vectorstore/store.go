package vectorstore

import (
	"context"
	"time"

	"github.com/nikhilbhutani/docqa/internal/models"
)

// DefaultBatchSize is the number of points written per upsert request.
const DefaultBatchSize = 100

type Distance string

const (
	Cosine    Distance = "cosine"
	Dot       Distance = "dot"
	Euclidean Distance = "euclid"
)

// Payload is the data stored alongside each vector.
type Payload struct {
	DocumentID   string    `json:"document_id"`
	DocumentName string    `json:"document_name"`
	Text         string    `json:"text"`
	Index        int       `json:"index"`
	CreatedAt    time.Time `json:"created_at"`
}

// Point is one chunk vector. Writing a Point whose ID already exists
// overwrites it.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// ScoredPoint is a search hit. Score is higher for closer matches.
type ScoredPoint struct {
	ID      string
	Score   float64
	Payload Payload
}

// Filter restricts an operation to points whose document identity is in
// DocumentIDs. An empty filter matches every point in the collection.
// FromIndex, when positive, further limits a document filter to chunks at or
// after that index.
type Filter struct {
	DocumentIDs []string
	FromIndex   int
}

func (f Filter) IsEmpty() bool { return len(f.DocumentIDs) == 0 }

// Index is a vector similarity store.
//
// Search returns an empty result, not an error, when the collection does not
// exist. DeleteByFilter returns an error wrapping models.ErrCollectionNotFound
// in that case. Every other failure is a *models.IndexError.
type Index interface {
	EnsureCollection(ctx context.Context, name string, dimension int, distance Distance) error
	Upsert(ctx context.Context, collection string, points []Point) error
	Search(ctx context.Context, collection string, vector []float32, limit int, filter Filter) ([]ScoredPoint, error)
	DeleteByFilter(ctx context.Context, collection string, filter Filter) error
	Ping(ctx context.Context) error
	Name() string
}

// writeBatches calls write for consecutive groups of at most size points and
// stops at the first failure, reporting the failing batch and how many points
// were already written.
func writeBatches(collection string, points []Point, size int, write func(batch []Point) error) error {
	if size <= 0 {
		size = DefaultBatchSize
	}
	written := 0
	for b, start := 0, 0; start < len(points); b, start = b+1, start+size {
		end := min(start+size, len(points))
		if err := write(points[start:end]); err != nil {
			return &models.IndexError{
				Op:         "upsert",
				Collection: collection,
				Batch:      b,
				Succeeded:  written,
				Err:        err,
			}
		}
		written += end - start
	}
	return nil
}

func indexErr(op, collection string, err error) error {
	return &models.IndexError{Op: op, Collection: collection, Batch: -1, Err: err}
}
