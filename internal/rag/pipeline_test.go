package rag

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/docqa/internal/document"
	"github.com/nikhilbhutani/docqa/internal/embedding"
	"github.com/nikhilbhutani/docqa/internal/llm"
	"github.com/nikhilbhutani/docqa/internal/models"
	"github.com/nikhilbhutani/docqa/internal/vectorstore"
	"github.com/nikhilbhutani/docqa/pkg/chunker"
)

const testDim = 32

// wordEmbedder hashes words into a small bag-of-words vector so texts that
// share words land close together.
type wordEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (e *wordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	v := make([]float32, testDim)
	v[testDim-1] = 0.1
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%(testDim-1)]++
	}
	return v, nil
}

func (e *wordEmbedder) Dimension() int             { return testDim }
func (e *wordEmbedder) Ping(context.Context) error { return nil }

// chatGateway answers every Chat call with reply and records the requests.
type chatGateway struct {
	llm.Gateway
	mu       sync.Mutex
	reply    string
	err      error
	requests []llm.ChatRequest
	embed    func(req llm.EmbeddingRequest) (*llm.EmbeddingResponse, error)
	embeds   int
}

func (g *chatGateway) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	return &llm.ChatResponse{Provider: "openai", Model: "gpt-4o", Content: g.reply, InputTokens: 120, OutputTokens: 30}, nil
}

func (g *chatGateway) Embed(_ context.Context, req llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
	g.mu.Lock()
	g.embeds++
	g.mu.Unlock()
	return g.embed(req)
}

func (g *chatGateway) Ping(context.Context, string) error { return nil }

type fixture struct {
	pipeline Pipeline
	embedder *wordEmbedder
	gateway  *chatGateway
	index    *vectorstore.ChromemIndex
	registry *document.MemoryRegistry
}

func newFixture(t *testing.T, budget int) *fixture {
	t.Helper()
	idx, err := vectorstore.NewChromemIndex("", 0)
	require.NoError(t, err)
	ch, err := chunker.New(chunker.WithSize(50), chunker.WithOverlap(10))
	require.NoError(t, err)

	f := &fixture{
		embedder: &wordEmbedder{},
		gateway:  &chatGateway{reply: "Zebras migrate in herds [Doc 1]."},
		index:    idx,
		registry: document.NewMemoryRegistry(),
	}
	p, err := NewPipeline(Dependencies{
		Embedder:  f.embedder,
		Index:     idx,
		Generator: NewGenerator(f.gateway, GeneratorOptions{Model: "gpt-4o"}),
		Chunker:   ch,
		Assembler: NewAssembler(budget, Chars),
		Registry:  f.registry,
	}, Config{Collection: "test", EmbedConcurrency: 4, TopK: 5})
	require.NoError(t, err)
	f.pipeline = p
	return f
}

func words(prefix string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return "the " + strings.Join(parts, " ")
}

const zebraText = "The zebra herds migrate across the plains every year in search of water and fresh grass."
const fungusText = "This study of soil fungus shows that mycelium networks share nutrients between the trees."

func TestNewPipeline_RequiresCollaborators(t *testing.T) {
	_, err := NewPipeline(Dependencies{}, Config{})
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestPipeline_Ingest(t *testing.T) {
	ctx := context.Background()

	t.Run("stores chunks and records the document", func(t *testing.T) {
		f := newFixture(t, 0)
		res, err := f.pipeline.Ingest(ctx, IngestRequest{Name: "zebras.pdf", SizeBytes: 2048, Authors: []string{"Smith"}, Text: zebraText})
		require.NoError(t, err)
		assert.Equal(t, document.IDForName("zebras.pdf"), res.DocumentID)
		assert.Equal(t, 1, res.ChunkCount)
		assert.False(t, res.IngestedAt.IsZero())

		doc, err := f.registry.Get(ctx, res.DocumentID)
		require.NoError(t, err)
		assert.Equal(t, int64(2048), doc.SizeBytes)
		assert.Equal(t, []string{"Smith"}, doc.Authors)
	})

	t.Run("chunk count follows the window rule", func(t *testing.T) {
		f := newFixture(t, 0)
		// 120 words, size 50, overlap 10: starts at 0, 40, 80.
		res, err := f.pipeline.Ingest(ctx, IngestRequest{Name: "long.txt", Text: words("w", 119)})
		require.NoError(t, err)
		assert.Equal(t, 3, res.ChunkCount)
		assert.Equal(t, 3, f.embedder.calls)
	})

	t.Run("filtered search returns only that document", func(t *testing.T) {
		f := newFixture(t, 0)
		a, err := f.pipeline.Ingest(ctx, IngestRequest{Name: "a.txt", Text: words("alpha", 119)})
		require.NoError(t, err)
		_, err = f.pipeline.Ingest(ctx, IngestRequest{Name: "b.txt", Text: words("beta", 119)})
		require.NoError(t, err)

		vec, _ := f.embedder.Embed(ctx, "alpha1 beta1")
		hits, err := f.index.Search(ctx, "test", vec, 50, vectorstore.Filter{DocumentIDs: []string{a.DocumentID.String()}})
		require.NoError(t, err)
		require.Len(t, hits, 3)
		for _, h := range hits {
			assert.Equal(t, a.DocumentID.String(), h.Payload.DocumentID)
		}
	})

	t.Run("re-ingest replaces previous chunks", func(t *testing.T) {
		f := newFixture(t, 0)
		_, err := f.pipeline.Ingest(ctx, IngestRequest{Name: "doc.txt", Text: words("w", 119)})
		require.NoError(t, err)
		res, err := f.pipeline.Ingest(ctx, IngestRequest{Name: "doc.txt", Text: zebraText})
		require.NoError(t, err)
		assert.Equal(t, 1, res.ChunkCount)

		vec, _ := f.embedder.Embed(ctx, zebraText)
		hits, err := f.index.Search(ctx, "test", vec, 50, vectorstore.Filter{DocumentIDs: []string{res.DocumentID.String()}})
		require.NoError(t, err)
		assert.Len(t, hits, 1)
	})

	t.Run("rejects unusable text as a client error", func(t *testing.T) {
		f := newFixture(t, 0)
		_, err := f.pipeline.Ingest(ctx, IngestRequest{Name: "scan.pdf", Text: "   \n\t "})
		require.Error(t, err)
		assert.ErrorIs(t, err, models.ErrEmptyContent)
		assert.True(t, models.IsClientError(err))

		_, err = f.pipeline.Ingest(ctx, IngestRequest{Name: "bin.pdf", Text: "xq7 zzv9 kkq2 vvb8 ppw3 qqz1"})
		assert.ErrorIs(t, err, models.ErrInvalidContent)

		_, err = f.pipeline.Ingest(ctx, IngestRequest{Text: zebraText})
		assert.ErrorIs(t, err, models.ErrInvalidRequest)
		assert.Zero(t, f.embedder.calls, "validation happens before embedding")
	})

	t.Run("embedding failure is stage tagged", func(t *testing.T) {
		f := newFixture(t, 0)
		f.embedder.err = &models.RetryExhaustedError{Attempts: 3, Err: errors.New("503")}
		_, err := f.pipeline.Ingest(ctx, IngestRequest{Name: "zebras.pdf", Text: zebraText})
		var se *models.StageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, models.StageEmbed, se.Stage)
		assert.Contains(t, err.Error(), "embedding generation failed")

		_, err = f.registry.Get(ctx, document.IDForName("zebras.pdf"))
		assert.ErrorIs(t, err, document.ErrNotFound)
	})
}

// flakyIndex fails Upsert while failUpserts is set.
type flakyIndex struct {
	vectorstore.Index
	failUpserts bool
}

func (x *flakyIndex) Upsert(ctx context.Context, collection string, points []vectorstore.Point) error {
	if x.failUpserts {
		return &models.IndexError{Op: "upsert", Collection: collection, Err: errors.New("connection reset")}
	}
	return x.Index.Upsert(ctx, collection, points)
}

func TestPipeline_Reingest_FailedUpsertKeepsPreviousVersion(t *testing.T) {
	ctx := context.Background()
	chromemIdx, err := vectorstore.NewChromemIndex("", 0)
	require.NoError(t, err)
	idx := &flakyIndex{Index: chromemIdx}
	ch, err := chunker.New(chunker.WithSize(50), chunker.WithOverlap(10))
	require.NoError(t, err)
	emb := &wordEmbedder{}
	p, err := NewPipeline(Dependencies{
		Embedder:  emb,
		Index:     idx,
		Generator: NewGenerator(&chatGateway{}, GeneratorOptions{}),
		Chunker:   ch,
	}, Config{Collection: "test"})
	require.NoError(t, err)

	first, err := p.Ingest(ctx, IngestRequest{Name: "doc.txt", Text: words("w", 119)})
	require.NoError(t, err)
	require.Equal(t, 3, first.ChunkCount)

	idx.failUpserts = true
	_, err = p.Ingest(ctx, IngestRequest{Name: "doc.txt", Text: zebraText})
	var se *models.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, models.StageUpsert, se.Stage)

	vec, _ := emb.Embed(ctx, "w1 w2")
	hits, err := chromemIdx.Search(ctx, "test", vec, 50, vectorstore.Filter{DocumentIDs: []string{first.DocumentID.String()}})
	require.NoError(t, err)
	assert.Len(t, hits, 3, "previous chunks survive a failed write")
}

func TestPipeline_Ingest_WrongDimensionIsFatal(t *testing.T) {
	idx, err := vectorstore.NewChromemIndex("", 0)
	require.NoError(t, err)
	gw := &chatGateway{embed: func(llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
		return &llm.EmbeddingResponse{Embeddings: [][]float32{make([]float32, 768)}}, nil
	}}
	emb := embedding.NewService(gw, embedding.Options{Provider: "openai", Dimension: 1536, MaxAttempts: 3, Backoff: time.Millisecond})
	p, err := NewPipeline(Dependencies{Embedder: emb, Index: idx, Generator: NewGenerator(gw, GeneratorOptions{})}, Config{})
	require.NoError(t, err)

	_, err = p.Ingest(context.Background(), IngestRequest{Name: "zebras.pdf", Text: zebraText})
	require.Error(t, err)

	var dim *models.DimensionError
	require.ErrorAs(t, err, &dim)
	assert.Equal(t, 1536, dim.Want)
	assert.Equal(t, 768, dim.Got)
	assert.ErrorIs(t, err, models.ErrConfiguration)
	assert.NotErrorIs(t, err, models.ErrTransientProvider)
	assert.Equal(t, 1, gw.embeds, "not retried")
}

func TestPipeline_IngestBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	statuses := f.pipeline.IngestBatch(ctx, []IngestRequest{
		{Name: "zebras.pdf", Text: zebraText},
		{Name: "empty.pdf", Text: ""},
		{Name: "fungus.pdf", Text: fungusText},
	})
	require.Len(t, statuses, 3)
	assert.Equal(t, StatusOK, statuses[0].Status)
	assert.Equal(t, StatusFailed, statuses[1].Status)
	assert.Equal(t, models.StageNormalize, statuses[1].Stage)
	assert.NotEmpty(t, statuses[1].Error)
	assert.Equal(t, StatusOK, statuses[2].Status, "continues after a failed document")

	docs, err := f.pipeline.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	t.Run("cancelled context fails remaining documents", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		statuses := f.pipeline.IngestBatch(cctx, []IngestRequest{{Name: "late.pdf", Text: zebraText}})
		require.Len(t, statuses, 1)
		assert.Equal(t, StatusFailed, statuses[0].Status)
	})
}

func TestPipeline_Query(t *testing.T) {
	ctx := context.Background()

	t.Run("no documents returns the canned answer", func(t *testing.T) {
		f := newFixture(t, 0)
		res, err := f.pipeline.Query(ctx, QueryRequest{Question: "How do zebras migrate?"})
		require.NoError(t, err)
		assert.Equal(t, NoContextAnswer, res.Answer)
		assert.NotNil(t, res.Citations)
		assert.Empty(t, res.Citations)
		assert.True(t, res.NoContext)
		assert.Empty(t, f.gateway.requests, "no completion call")
	})

	t.Run("grounded answer with citations", func(t *testing.T) {
		f := newFixture(t, 0)
		_, err := f.pipeline.Ingest(ctx, IngestRequest{Name: "zebras.pdf", Authors: []string{"Smith", "Doe"}, Text: zebraText})
		require.NoError(t, err)

		res, err := f.pipeline.Query(ctx, QueryRequest{
			Question: "How do zebra herds migrate?",
			History: []models.ConversationTurn{
				{Role: models.RoleUser, Content: "hi"},
				{Role: models.RoleAssistant, Content: "hello"},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "Zebras migrate in herds [1].", res.Answer)
		require.Len(t, res.Citations, 1)
		c := res.Citations[0]
		assert.Equal(t, document.IDForName("zebras.pdf").String(), c.DocumentID)
		assert.Equal(t, "zebras.pdf", c.Title)
		assert.Equal(t, []string{"Smith", "Doe"}, c.Authors)
		assert.Equal(t, "Smith; Doe. zebras.pdf.", c.Reference)
		assert.True(t, c.Score > 0 && c.Score <= 1)
		assert.Equal(t, 1, res.ChunksUsed)
		require.NotNil(t, res.Usage)
		assert.Equal(t, 30, res.Usage.OutputTokens)

		require.Len(t, f.gateway.requests, 1)
		msgs := f.gateway.requests[0].Messages
		require.Len(t, msgs, 4)
		assert.Equal(t, llm.RoleSystem, msgs[0].Role)
		assert.Equal(t, "hi", msgs[1].Content)
		assert.Contains(t, msgs[3].Content, "[From: zebras.pdf]")
		assert.Contains(t, msgs[3].Content, "Question: How do zebra herds migrate?")
	})

	t.Run("document filter restricts retrieval", func(t *testing.T) {
		f := newFixture(t, 0)
		_, err := f.pipeline.Ingest(ctx, IngestRequest{Name: "zebras.pdf", Text: zebraText})
		require.NoError(t, err)
		fungus, err := f.pipeline.Ingest(ctx, IngestRequest{Name: "fungus.pdf", Text: fungusText})
		require.NoError(t, err)

		res, err := f.pipeline.Query(ctx, QueryRequest{Question: "zebra herds", DocumentIDs: []string{fungus.DocumentID.String()}})
		require.NoError(t, err)
		require.Len(t, res.Citations, 1)
		assert.Equal(t, "fungus.pdf", res.Citations[0].Title)
	})

	t.Run("budget limits the chunks sent", func(t *testing.T) {
		f := newFixture(t, 200)
		_, err := f.pipeline.Ingest(ctx, IngestRequest{Name: "zebras.pdf", Text: zebraText})
		require.NoError(t, err)
		_, err = f.pipeline.Ingest(ctx, IngestRequest{Name: "fungus.pdf", Text: fungusText})
		require.NoError(t, err)

		res, err := f.pipeline.Query(ctx, QueryRequest{Question: "zebra herds migrate"})
		require.NoError(t, err)
		assert.Equal(t, 1, res.ChunksUsed)
		require.Len(t, res.Citations, 1)
		assert.Equal(t, "zebras.pdf", res.Citations[0].Title)
	})

	t.Run("generation failure is stage tagged", func(t *testing.T) {
		f := newFixture(t, 0)
		_, err := f.pipeline.Ingest(ctx, IngestRequest{Name: "zebras.pdf", Text: zebraText})
		require.NoError(t, err)
		f.gateway.err = &models.ProviderError{Provider: "openai", StatusCode: 503, Transient: true, Err: errors.New("unavailable")}

		_, err = f.pipeline.Query(ctx, QueryRequest{Question: "zebras?"})
		var se *models.StageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, models.StageGenerate, se.Stage)
		assert.ErrorIs(t, err, models.ErrTransientProvider)
	})

	t.Run("query embedding failure is stage tagged", func(t *testing.T) {
		f := newFixture(t, 0)
		f.embedder.err = errors.New("boom")
		_, err := f.pipeline.Query(ctx, QueryRequest{Question: "zebras?"})
		var se *models.StageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, models.StageEmbedQuery, se.Stage)
	})

	t.Run("empty question", func(t *testing.T) {
		f := newFixture(t, 0)
		_, err := f.pipeline.Query(ctx, QueryRequest{Question: "  "})
		assert.ErrorIs(t, err, models.ErrInvalidRequest)
	})
}

func TestPipeline_Usage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	assert.Zero(t, f.pipeline.Usage().Queries)

	_, err := f.pipeline.Ingest(ctx, IngestRequest{Name: "zebras.pdf", Text: zebraText})
	require.NoError(t, err)

	_, err = f.pipeline.Query(ctx, QueryRequest{Question: "How do zebra herds migrate?"})
	require.NoError(t, err)
	_, err = f.pipeline.Query(ctx, QueryRequest{Question: "zebra herds"})
	require.NoError(t, err)

	f.gateway.err = &models.ProviderError{Provider: "openai", StatusCode: 503, Transient: true, Err: errors.New("unavailable")}
	_, err = f.pipeline.Query(ctx, QueryRequest{Question: "zebras?"})
	require.Error(t, err)

	r := f.pipeline.Usage()
	assert.Equal(t, 3, r.Queries)
	assert.Equal(t, 1, r.Failed)
	assert.InDelta(t, 2.0/3.0, r.SuccessRate, 1e-9)
	assert.InDelta(t, 2.0/3.0, r.AvgChunksUsed, 1e-9)
	require.Len(t, r.ByModel, 1)
	assert.Equal(t, ModelUsage{Provider: "openai", Model: "gpt-4o", TotalCalls: 2, TotalTokens: 300}, r.ByModel[0])
}

func TestUsageTracker(t *testing.T) {
	tr := NewUsageTracker()
	assert.Equal(t, UsageReport{ByModel: []ModelUsage{}}, tr.Report())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := &models.Usage{Provider: "openai", Model: "gpt-4o", InputTokens: 10, OutputTokens: 5, CostUSD: 0.01}
			if i%2 == 1 {
				u = &models.Usage{Provider: "anthropic", Model: "claude-3-haiku-20240307", InputTokens: 10, CostUSD: 0.001}
			}
			tr.Record(u, 2, 100*time.Millisecond, false)
		}(i)
	}
	wg.Wait()
	tr.Record(nil, 0, 100*time.Millisecond, true)

	r := tr.Report()
	assert.Equal(t, 11, r.Queries)
	assert.Equal(t, 1, r.Failed)
	assert.InDelta(t, 100, r.AvgLatencyMs, 1e-9)
	assert.InDelta(t, 0.055, r.TotalCostUSD, 1e-9)
	require.Len(t, r.ByModel, 2)
	assert.Equal(t, "gpt-4o", r.ByModel[0].Model, "most expensive first")
	assert.Equal(t, 75, r.ByModel[0].TotalTokens)
	assert.Equal(t, 5, r.ByModel[1].TotalCalls)
}

func TestPipeline_Cleanup(t *testing.T) {
	ctx := context.Background()

	t.Run("remove one on a missing collection", func(t *testing.T) {
		f := newFixture(t, 0)
		res, err := f.pipeline.Cleanup(ctx, CleanupRequest{Action: RemoveOne, DocumentID: document.IDForName("x.pdf").String()})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, "Nothing to clean up", res.Message)
	})

	t.Run("remove one", func(t *testing.T) {
		f := newFixture(t, 0)
		zebra, err := f.pipeline.Ingest(ctx, IngestRequest{Name: "zebras.pdf", Text: zebraText})
		require.NoError(t, err)
		_, err = f.pipeline.Ingest(ctx, IngestRequest{Name: "fungus.pdf", Text: fungusText})
		require.NoError(t, err)

		res, err := f.pipeline.Cleanup(ctx, CleanupRequest{Action: RemoveOne, DocumentID: zebra.DocumentID.String()})
		require.NoError(t, err)
		assert.True(t, res.Success)

		q, err := f.pipeline.Query(ctx, QueryRequest{Question: "zebra herds", DocumentIDs: []string{zebra.DocumentID.String()}})
		require.NoError(t, err)
		assert.True(t, q.NoContext)

		docs, err := f.pipeline.ListDocuments(ctx)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "fungus.pdf", docs[0].Name)
	})

	t.Run("clear all", func(t *testing.T) {
		f := newFixture(t, 0)
		_, err := f.pipeline.Ingest(ctx, IngestRequest{Name: "zebras.pdf", Text: zebraText})
		require.NoError(t, err)

		res, err := f.pipeline.Cleanup(ctx, CleanupRequest{Action: ClearAll})
		require.NoError(t, err)
		assert.True(t, res.Success)

		q, err := f.pipeline.Query(ctx, QueryRequest{Question: "zebra herds"})
		require.NoError(t, err)
		assert.True(t, q.NoContext)

		docs, err := f.pipeline.ListDocuments(ctx)
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("invalid requests", func(t *testing.T) {
		f := newFixture(t, 0)
		_, err := f.pipeline.Cleanup(ctx, CleanupRequest{Action: "drop"})
		assert.ErrorIs(t, err, models.ErrInvalidRequest)
		_, err = f.pipeline.Cleanup(ctx, CleanupRequest{Action: RemoveOne, DocumentID: "not-a-uuid"})
		assert.ErrorIs(t, err, models.ErrInvalidRequest)
	})
}

func TestPipeline_Health(t *testing.T) {
	f := newFixture(t, 0)
	report := f.pipeline.Health(context.Background())
	assert.Equal(t, "ok", report.Status)
	assert.Equal(t, "chromem", report.Index.Name)
	assert.True(t, report.Embedder.OK)
}
