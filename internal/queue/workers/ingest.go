package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/docqa/internal/models"
	"github.com/nikhilbhutani/docqa/internal/queue"
	"github.com/nikhilbhutani/docqa/internal/rag"
)

// Ingester is the part of the pipeline the worker drives.
type Ingester interface {
	Ingest(ctx context.Context, req rag.IngestRequest) (*rag.IngestResult, error)
}

type IngestWorker struct {
	pipeline Ingester
}

func NewIngestWorker(p Ingester) *IngestWorker {
	return &IngestWorker{pipeline: p}
}

// ProcessTask ingests the document carried by t. Bad payloads and unusable
// content are not retried.
func (w *IngestWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.DocumentIngestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	slog.Info("processing document", "name", payload.Request.Name)

	res, err := w.pipeline.Ingest(ctx, payload.Request)
	if err != nil {
		if models.IsClientError(err) {
			slog.Warn("document rejected", "name", payload.Request.Name, "error", err)
			return fmt.Errorf("ingest %s: %v: %w", payload.Request.Name, err, asynq.SkipRetry)
		}
		return fmt.Errorf("ingest %s: %w", payload.Request.Name, err)
	}

	slog.Info("document processed", "document_id", res.DocumentID, "chunks", res.ChunkCount)
	return nil
}
