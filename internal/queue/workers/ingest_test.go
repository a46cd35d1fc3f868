package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/docqa/internal/models"
	"github.com/nikhilbhutani/docqa/internal/queue"
	"github.com/nikhilbhutani/docqa/internal/rag"
)

type fakeIngester struct {
	got []rag.IngestRequest
	err error
}

func (f *fakeIngester) Ingest(_ context.Context, req rag.IngestRequest) (*rag.IngestResult, error) {
	f.got = append(f.got, req)
	if f.err != nil {
		return nil, f.err
	}
	return &rag.IngestResult{Name: req.Name, ChunkCount: 2}, nil
}

func task(t *testing.T, req rag.IngestRequest) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(queue.DocumentIngestPayload{Request: req})
	require.NoError(t, err)
	return asynq.NewTask(queue.TypeDocumentIngest, data)
}

func TestIngestWorker_ProcessTask(t *testing.T) {
	ctx := context.Background()
	req := rag.IngestRequest{Name: "zebras.pdf", Text: "the zebra herds migrate", Authors: []string{"Smith"}}

	t.Run("ingests the payload", func(t *testing.T) {
		f := &fakeIngester{}
		require.NoError(t, NewIngestWorker(f).ProcessTask(ctx, task(t, req)))
		require.Len(t, f.got, 1)
		assert.Equal(t, req, f.got[0])
	})

	t.Run("client errors skip retry", func(t *testing.T) {
		f := &fakeIngester{err: models.Stage(models.StageNormalize, fmt.Errorf("%w: too short", models.ErrEmptyContent))}
		err := NewIngestWorker(f).ProcessTask(ctx, task(t, req))
		assert.ErrorIs(t, err, asynq.SkipRetry)
	})

	t.Run("transient errors are retried", func(t *testing.T) {
		f := &fakeIngester{err: models.Stage(models.StageEmbed, &models.RetryExhaustedError{Attempts: 3, Err: errors.New("503")})}
		err := NewIngestWorker(f).ProcessTask(ctx, task(t, req))
		require.Error(t, err)
		assert.NotErrorIs(t, err, asynq.SkipRetry)
	})

	t.Run("malformed payload", func(t *testing.T) {
		f := &fakeIngester{}
		err := NewIngestWorker(f).ProcessTask(ctx, asynq.NewTask(queue.TypeDocumentIngest, []byte("{")))
		assert.ErrorIs(t, err, asynq.SkipRetry)
		assert.Empty(t, f.got)
	})
}
