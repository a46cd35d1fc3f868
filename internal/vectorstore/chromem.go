package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"

	"github.com/nikhilbhutani/docqa/internal/models"
)

const (
	metaDocumentID   = "document_id"
	metaDocumentName = "document_name"
	metaIndex        = "index"
	metaCreatedAt    = "created_at"

	// dimensionsCollection holds one record per collection: id is the
	// collection name, content its vector size.
	dimensionsCollection = "docqa_dimensions"
)

// errNoEmbedder guards against chromem computing embeddings itself; every
// point and query arrives with its vector.
var errNoEmbedder = errors.New("chromem: vectors must be supplied by the caller")

func noEmbed(context.Context, string) ([]float32, error) { return nil, errNoEmbedder }

// ChromemIndex is an embedded index backed by chromem-go. It only supports
// cosine similarity.
type ChromemIndex struct {
	db        *chromem.DB
	batchSize int

	mu   sync.RWMutex
	dims map[string]int
}

// NewChromemIndex opens a persistent index under path, or an in-memory one
// when path is empty.
func NewChromemIndex(path string, batchSize int) (*ChromemIndex, error) {
	db := chromem.NewDB()
	if path != "" {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db: %w", err)
		}
	}
	return &ChromemIndex{db: db, batchSize: batchSize, dims: make(map[string]int)}, nil
}

func (s *ChromemIndex) Name() string { return "chromem" }

func (s *ChromemIndex) Ping(context.Context) error { return nil }

// EnsureCollection creates the collection on first use and records its
// dimension in a side collection, so a persistent index reopened with a
// different embedding size is rejected.
func (s *ChromemIndex) EnsureCollection(ctx context.Context, name string, dimension int, distance Distance) error {
	if distance != "" && distance != Cosine {
		return fmt.Errorf("%w: chromem supports cosine distance only, got %q", models.ErrConfiguration, distance)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if have, ok := s.dims[name]; ok {
		if have != dimension {
			return &models.DimensionError{Want: have, Got: dimension}
		}
		return nil
	}

	have, err := s.storedDimension(ctx, name, dimension)
	if err != nil {
		return err
	}
	if have != dimension {
		return &models.DimensionError{Want: have, Got: dimension}
	}
	if _, err := s.db.GetOrCreateCollection(name, map[string]string{"dimension": strconv.Itoa(dimension)}, noEmbed); err != nil {
		return indexErr("create_collection", name, err)
	}
	s.dims[name] = dimension
	return nil
}

// storedDimension returns the dimension recorded for name, recording
// dimension first if there is none.
func (s *ChromemIndex) storedDimension(ctx context.Context, name string, dimension int) (int, error) {
	meta, err := s.db.GetOrCreateCollection(dimensionsCollection, nil, noEmbed)
	if err != nil {
		return 0, indexErr("create_collection", dimensionsCollection, err)
	}
	if doc, err := meta.GetByID(ctx, name); err == nil {
		have, err := strconv.Atoi(doc.Content)
		if err != nil {
			return 0, indexErr("create_collection", name, fmt.Errorf("stored dimension %q: %w", doc.Content, err))
		}
		return have, nil
	}
	err = meta.AddDocument(ctx, chromem.Document{
		ID:        name,
		Content:   strconv.Itoa(dimension),
		Embedding: []float32{1},
	})
	if err != nil {
		return 0, indexErr("create_collection", name, err)
	}
	return dimension, nil
}

func (s *ChromemIndex) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	c := s.db.GetCollection(collection, noEmbed)
	if c == nil {
		return indexErr("upsert", collection, models.ErrCollectionNotFound)
	}

	s.mu.RLock()
	want := s.dims[collection]
	s.mu.RUnlock()

	return writeBatches(collection, points, s.batchSize, func(batch []Point) error {
		docs := make([]chromem.Document, len(batch))
		for i, p := range batch {
			if want > 0 && len(p.Vector) != want {
				return &models.DimensionError{Want: want, Got: len(p.Vector)}
			}
			docs[i] = chromem.Document{
				ID:        p.ID,
				Content:   p.Payload.Text,
				Embedding: p.Vector,
				Metadata: map[string]string{
					metaDocumentID:   p.Payload.DocumentID,
					metaDocumentName: p.Payload.DocumentName,
					metaIndex:        strconv.Itoa(p.Payload.Index),
					metaCreatedAt:    p.Payload.CreatedAt.UTC().Format(time.RFC3339Nano),
				},
			}
		}
		return c.AddDocuments(ctx, docs, runtime.NumCPU())
	})
}

func (s *ChromemIndex) Search(ctx context.Context, collection string, vector []float32, limit int, filter Filter) ([]ScoredPoint, error) {
	c := s.db.GetCollection(collection, noEmbed)
	if c == nil || limit <= 0 {
		return nil, nil
	}
	n := min(limit, c.Count())
	if n == 0 {
		return nil, nil
	}

	// chromem filters by exact metadata match, so a multi-document filter
	// runs one query per document and merges the hits.
	var wheres []map[string]string
	if filter.IsEmpty() {
		wheres = []map[string]string{nil}
	} else {
		for _, id := range filter.DocumentIDs {
			wheres = append(wheres, map[string]string{metaDocumentID: id})
		}
	}

	var hits []ScoredPoint
	for _, where := range wheres {
		res, err := queryAtMost(ctx, c, vector, n, where)
		if err != nil {
			return nil, indexErr("search", collection, err)
		}
		for _, r := range res {
			hits = append(hits, ScoredPoint{
				ID:      r.ID,
				Score:   float64(r.Similarity),
				Payload: payloadFromMetadata(r.Metadata, r.Content),
			})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// queryAtMost runs the query for up to n results. chromem rejects n above
// the collection size, and a concurrent delete can shrink the collection after
// n was chosen, so the query is retried against the current count.
func queryAtMost(ctx context.Context, c *chromem.Collection, vector []float32, n int, where map[string]string) ([]chromem.Result, error) {
	for {
		res, err := c.QueryEmbedding(ctx, vector, n, where, nil)
		if err == nil {
			return res, nil
		}
		count := c.Count()
		if count >= n {
			return nil, err
		}
		if count == 0 {
			return nil, nil
		}
		n = count
	}
}

func (s *ChromemIndex) DeleteByFilter(ctx context.Context, collection string, filter Filter) error {
	c := s.db.GetCollection(collection, noEmbed)
	if c == nil {
		return fmt.Errorf("delete from %q: %w", collection, models.ErrCollectionNotFound)
	}

	if filter.IsEmpty() {
		// Every content contains the empty string.
		if err := c.Delete(ctx, nil, map[string]string{"$contains": ""}); err != nil {
			return indexErr("delete", collection, err)
		}
		return nil
	}
	for _, id := range filter.DocumentIDs {
		if filter.FromIndex > 0 {
			if err := deleteFromIndex(ctx, c, id, filter.FromIndex); err != nil {
				return indexErr("delete", collection, err)
			}
			continue
		}
		if err := c.Delete(ctx, map[string]string{metaDocumentID: id}, nil); err != nil {
			return indexErr("delete", collection, err)
		}
	}
	return nil
}

// deleteFromIndex removes a document's chunks from index from onwards.
// chromem only matches metadata exactly, so chunks are removed one index at a
// time until an index matches nothing; chunk indices are contiguous.
func deleteFromIndex(ctx context.Context, c *chromem.Collection, documentID string, from int) error {
	for i := from; ; i++ {
		before := c.Count()
		if before == 0 {
			return nil
		}
		where := map[string]string{metaDocumentID: documentID, metaIndex: strconv.Itoa(i)}
		if err := c.Delete(ctx, where, nil); err != nil {
			return err
		}
		if c.Count() == before {
			return nil
		}
	}
}

func payloadFromMetadata(meta map[string]string, content string) Payload {
	p := Payload{
		DocumentID:   meta[metaDocumentID],
		DocumentName: meta[metaDocumentName],
		Text:         content,
	}
	p.Index, _ = strconv.Atoi(meta[metaIndex])
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, meta[metaCreatedAt])
	return p
}
