package document

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docqa/internal/models"
)

// ErrNotFound is returned when a document is not registered.
var ErrNotFound = errors.New("document not found")

// Registry records ingested documents so they can be listed and their
// display names resolved. The vector index remains the source of truth for
// chunks.
type Registry interface {
	Put(ctx context.Context, doc *models.Document) error
	Get(ctx context.Context, id uuid.UUID) (*models.Document, error)
	List(ctx context.Context) ([]models.Document, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Clear(ctx context.Context) error
}

// IDForName derives a stable document id from its display name, so
// re-ingesting a file replaces its earlier chunks instead of duplicating them.
func IDForName(name string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("docqa:document:"+strings.TrimSpace(name)))
}

// MemoryRegistry keeps documents for the lifetime of the process.
type MemoryRegistry struct {
	mu   sync.RWMutex
	docs map[uuid.UUID]models.Document
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{docs: make(map[uuid.UUID]models.Document)}
}

func (r *MemoryRegistry) Put(_ context.Context, doc *models.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := *doc
	d.Authors = slices.Clone(doc.Authors)
	r.docs[doc.ID] = d
	return nil
}

func (r *MemoryRegistry) Get(_ context.Context, id uuid.UUID) (*models.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

// List returns documents newest first.
func (r *MemoryRegistry) List(_ context.Context) ([]models.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Document, 0, len(r.docs))
	for _, d := range r.docs {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b models.Document) int {
		if c := b.IngestedAt.Compare(a.IngestedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

func (r *MemoryRegistry) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[id]; !ok {
		return ErrNotFound
	}
	delete(r.docs, id)
	return nil
}

func (r *MemoryRegistry) Clear(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.docs)
	return nil
}
