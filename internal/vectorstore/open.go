package vectorstore

import (
	"fmt"

	"github.com/nikhilbhutani/docqa/internal/config"
	"github.com/nikhilbhutani/docqa/internal/models"
)

// Open builds the backend named by cfg.Backend. pool is only used by the
// pgvector backend and may be nil otherwise.
func Open(cfg config.VectorIndexConfig, pool PgPool) (Index, error) {
	switch cfg.Backend {
	case "chromem", "":
		return NewChromemIndex(cfg.ChromemPath, cfg.BatchSize)
	case "qdrant":
		return NewQdrantIndex(QdrantConfig{URL: cfg.QdrantURL, APIKey: cfg.QdrantAPIKey, BatchSize: cfg.BatchSize}), nil
	case "pgvector":
		if pool == nil {
			return nil, fmt.Errorf("%w: pgvector backend needs a database pool", models.ErrConfiguration)
		}
		return NewPgVectorIndex(pool, cfg.BatchSize, Distance(cfg.Distance)), nil
	}
	return nil, fmt.Errorf("%w: unknown vector backend %q", models.ErrConfiguration, cfg.Backend)
}
