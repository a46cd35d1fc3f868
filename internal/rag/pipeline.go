package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nikhilbhutani/docqa/internal/document"
	"github.com/nikhilbhutani/docqa/internal/embedding"
	"github.com/nikhilbhutani/docqa/internal/models"
	"github.com/nikhilbhutani/docqa/internal/vectorstore"
	"github.com/nikhilbhutani/docqa/pkg/chunker"
	"github.com/nikhilbhutani/docqa/pkg/textnorm"
)

// NoContextAnswer is returned when retrieval finds nothing to ground an answer on.
const NoContextAnswer = "I couldn't find any relevant information in the uploaded documents to answer your question."

const DefaultCollection = "documents"

type Pipeline interface {
	Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error)
	IngestBatch(ctx context.Context, reqs []IngestRequest) []DocumentStatus
	Query(ctx context.Context, req QueryRequest) (*QueryResult, error)
	Cleanup(ctx context.Context, req CleanupRequest) (*CleanupResult, error)
	ListDocuments(ctx context.Context) ([]models.Document, error)
	Health(ctx context.Context) HealthReport
	Usage() UsageReport
}

// IngestRequest carries one document's pre-extracted text.
type IngestRequest struct {
	Name      string   `json:"name"`
	SizeBytes int64    `json:"size"`
	MediaType string   `json:"media_type,omitempty"`
	Authors   []string `json:"authors,omitempty"`
	Text      string   `json:"text"`
}

type IngestResult struct {
	DocumentID uuid.UUID `json:"document_id"`
	Name       string    `json:"name"`
	ChunkCount int       `json:"chunk_count"`
	IngestedAt time.Time `json:"ingested_at"`
}

// DocumentStatus is the outcome of one document in a batch.
type DocumentStatus struct {
	Name       string    `json:"name"`
	DocumentID string    `json:"document_id,omitempty"`
	ChunkCount int       `json:"chunk_count,omitempty"`
	IngestedAt time.Time `json:"ingested_at,omitzero"`
	Status     string    `json:"status"`
	TaskID     string    `json:"task_id,omitempty"`
	Stage      string    `json:"stage,omitempty"`
	Error      string    `json:"error,omitempty"`
}

const (
	StatusOK     = "ok"
	StatusQueued = "queued"
	StatusFailed = "failed"
)

type QueryRequest struct {
	Question    string                    `json:"question"`
	DocumentIDs []string                  `json:"document_ids,omitempty"`
	History     []models.ConversationTurn `json:"history,omitempty"`
}

type QueryResult struct {
	Answer     string            `json:"answer"`
	Citations  []models.Citation `json:"citations"`
	Usage      *models.Usage     `json:"usage,omitempty"`
	NoContext  bool              `json:"no_context,omitempty"`
	ChunksUsed int               `json:"chunks_used"`
}

type CleanupAction string

const (
	ClearAll  CleanupAction = "clear_all"
	RemoveOne CleanupAction = "remove_one"
)

type CleanupRequest struct {
	Action     CleanupAction `json:"action"`
	DocumentID string        `json:"document_id,omitempty"`
}

type CleanupResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type ComponentStatus struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type HealthReport struct {
	Status   string          `json:"status"`
	Embedder ComponentStatus `json:"embedder"`
	Index    ComponentStatus `json:"index"`
}

// Config holds the orchestrator settings.
type Config struct {
	Collection       string
	Distance         vectorstore.Distance
	EmbedConcurrency int
	TopK             int
	MinScore         float64
}

// Dependencies are the collaborators the pipeline is built from. Chunker,
// Assembler and Registry fall back to defaults when nil.
type Dependencies struct {
	Embedder  embedding.Embedder
	Index     vectorstore.Index
	Generator *Generator
	Chunker   *chunker.Chunker
	Assembler *Assembler
	Registry  document.Registry
}

type pipeline struct {
	embedder  embedding.Embedder
	index     vectorstore.Index
	chunker   *chunker.Chunker
	retriever *Retriever
	assembler *Assembler
	generator *Generator
	registry  document.Registry
	usage     *UsageTracker
	cfg       Config
	now       func() time.Time
}

func NewPipeline(deps Dependencies, cfg Config) (Pipeline, error) {
	if deps.Embedder == nil || deps.Index == nil || deps.Generator == nil {
		return nil, fmt.Errorf("%w: pipeline needs an embedder, a vector index and a generator", models.ErrConfiguration)
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	if cfg.Distance == "" {
		cfg.Distance = vectorstore.Cosine
	}
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = 1
	}

	ch := deps.Chunker
	if ch == nil {
		var err error
		if ch, err = chunker.New(); err != nil {
			return nil, err
		}
	}
	asm := deps.Assembler
	if asm == nil {
		asm = NewAssembler(DefaultContextBudget, Chars)
	}
	reg := deps.Registry
	if reg == nil {
		reg = document.NewMemoryRegistry()
	}

	return &pipeline{
		embedder:  deps.Embedder,
		index:     deps.Index,
		chunker:   ch,
		retriever: NewRetriever(deps.Embedder, deps.Index, cfg.Collection, cfg.TopK, cfg.MinScore),
		assembler: asm,
		generator: deps.Generator,
		registry:  reg,
		usage:     NewUsageTracker(),
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Ingest normalizes, chunks, embeds and stores one document. Re-ingesting a
// name replaces the document's previous chunks.
func (p *pipeline) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: document name is required", models.ErrInvalidRequest)
	}

	text, err := textnorm.Normalize(req.Text)
	if err != nil {
		return nil, models.Stage(models.StageNormalize, err)
	}

	docID := document.IDForName(name)
	chunks := ChunkText(p.chunker, docID, text)
	if len(chunks) == 0 {
		return nil, models.Stage(models.StageChunk, fmt.Errorf("%w: no chunks produced", models.ErrEmptyContent))
	}

	if err := p.index.EnsureCollection(ctx, p.cfg.Collection, p.embedder.Dimension(), p.cfg.Distance); err != nil {
		return nil, models.Stage(models.StageEnsureCollection, err)
	}

	vectors, err := p.embedChunks(ctx, chunks)
	if err != nil {
		return nil, models.Stage(models.StageEmbed, err)
	}

	// Point ids are stable per chunk index, so the upsert overwrites the
	// previous version in place and only its surplus chunks need removing.
	at := p.now()
	if err := p.index.Upsert(ctx, p.cfg.Collection, toPoints(chunks, vectors, docID, name, at)); err != nil {
		return nil, models.Stage(models.StageUpsert, err)
	}

	stale := vectorstore.Filter{DocumentIDs: []string{docID.String()}, FromIndex: len(chunks)}
	if err := p.index.DeleteByFilter(ctx, p.cfg.Collection, stale); err != nil && !errors.Is(err, models.ErrCollectionNotFound) {
		return nil, models.Stage(models.StageUpsert, fmt.Errorf("remove previous chunks: %w", err))
	}

	doc := &models.Document{
		ID:         docID,
		Name:       name,
		SizeBytes:  req.SizeBytes,
		MediaType:  req.MediaType,
		Authors:    req.Authors,
		ChunkCount: len(chunks),
		IngestedAt: at,
	}
	if err := p.registry.Put(ctx, doc); err != nil {
		slog.Warn("failed to record document", "document_id", docID, "error", err)
	}

	tokens := 0
	for _, c := range chunks {
		tokens += c.TokenCount
	}
	slog.Info("document ingested", "document_id", docID, "name", name, "chunks", len(chunks), "tokens", tokens)

	return &IngestResult{DocumentID: docID, Name: name, ChunkCount: len(chunks), IngestedAt: at}, nil
}

func (p *pipeline) embedChunks(ctx context.Context, chunks []ChunkResult) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.EmbedConcurrency)
	for i, c := range chunks {
		g.Go(func() error {
			vec, err := p.embedder.Embed(gctx, c.Content)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", c.Index, err)
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// IngestBatch ingests documents one at a time. A failed document does not
// stop the batch; cancellation marks the remaining documents failed.
func (p *pipeline) IngestBatch(ctx context.Context, reqs []IngestRequest) []DocumentStatus {
	out := make([]DocumentStatus, 0, len(reqs))
	for _, req := range reqs {
		st := DocumentStatus{Name: req.Name}
		if err := ctx.Err(); err != nil {
			st.Status = StatusFailed
			st.Error = err.Error()
			out = append(out, st)
			continue
		}

		res, err := p.Ingest(ctx, req)
		if err != nil {
			slog.Warn("document ingestion failed", "name", req.Name, "error", err)
			st.Status = StatusFailed
			st.Error = err.Error()
			var se *models.StageError
			if errors.As(err, &se) {
				st.Stage = se.Stage
			}
			out = append(out, st)
			continue
		}

		st.Status = StatusOK
		st.DocumentID = res.DocumentID.String()
		st.ChunkCount = res.ChunkCount
		st.IngestedAt = res.IngestedAt
		out = append(out, st)
	}
	return out
}

// Query retrieves context for the question and generates a cited answer.
// Finding no relevant chunks is a normal outcome answered with NoContextAnswer.
func (p *pipeline) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	start := time.Now()
	res, err := p.query(ctx, req)
	if err != nil {
		p.usage.Record(nil, 0, time.Since(start), true)
		return nil, err
	}
	p.usage.Record(res.Usage, res.ChunksUsed, time.Since(start), false)
	return res, nil
}

// Usage reports the totals of every Query made through this pipeline.
func (p *pipeline) Usage() UsageReport { return p.usage.Report() }

func (p *pipeline) query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", models.ErrInvalidRequest)
	}

	chunks, err := p.retriever.Retrieve(ctx, question, req.DocumentIDs)
	if errors.Is(err, models.ErrNoRelevantContent) {
		slog.Debug("no relevant content", "question_len", len(question), "filter", len(req.DocumentIDs))
		return &QueryResult{Answer: NoContextAnswer, Citations: []models.Citation{}, NoContext: true}, nil
	}
	if err != nil {
		return nil, err
	}

	built := p.assembler.Build(chunks)
	if len(built.Included) == 0 {
		return nil, models.Stage(models.StageAssemble, errors.New("no chunk fits the context budget"))
	}

	answer, err := p.generator.Generate(ctx, question, built.Text, p.sourcesFor(ctx, built.Included), req.History)
	if err != nil {
		return nil, models.Stage(models.StageGenerate, err)
	}

	return &QueryResult{
		Answer:     answer.Text,
		Citations:  answer.Citations,
		Usage:      &answer.Usage,
		ChunksUsed: len(built.Included),
	}, nil
}

// sourcesFor lists the distinct documents among chunks in rank order, each
// scored by its best chunk.
func (p *pipeline) sourcesFor(ctx context.Context, chunks []RetrievedChunk) []SourceDoc {
	seen := make(map[string]int)
	var out []SourceDoc
	for _, c := range chunks {
		if i, ok := seen[c.DocumentID]; ok {
			out[i].Score = max(out[i].Score, c.Score)
			continue
		}
		src := SourceDoc{DocumentID: c.DocumentID, Title: c.DocumentName, Score: c.Score}
		if id, err := uuid.Parse(c.DocumentID); err == nil {
			if doc, err := p.registry.Get(ctx, id); err == nil {
				src.Authors = doc.Authors
				if src.Title == "" {
					src.Title = doc.Name
				}
			}
		}
		seen[c.DocumentID] = len(out)
		out = append(out, src)
	}
	return out
}

// Cleanup removes every document or a single one. A missing collection means
// there is nothing to clean and counts as success.
func (p *pipeline) Cleanup(ctx context.Context, req CleanupRequest) (*CleanupResult, error) {
	var (
		filter vectorstore.Filter
		docID  uuid.UUID
	)
	switch req.Action {
	case ClearAll:
	case RemoveOne:
		id, err := uuid.Parse(strings.TrimSpace(req.DocumentID))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid document id %q", models.ErrInvalidRequest, req.DocumentID)
		}
		docID = id
		filter.DocumentIDs = []string{id.String()}
	default:
		return nil, fmt.Errorf("%w: unknown cleanup action %q", models.ErrInvalidRequest, req.Action)
	}

	err := p.index.DeleteByFilter(ctx, p.cfg.Collection, filter)
	switch {
	case errors.Is(err, models.ErrCollectionNotFound):
		p.forget(ctx, req.Action, docID)
		return &CleanupResult{Success: true, Message: "Nothing to clean up"}, nil
	case err != nil:
		return nil, models.Stage(models.StageCleanup, err)
	}

	p.forget(ctx, req.Action, docID)
	if req.Action == ClearAll {
		slog.Info("collection cleared", "collection", p.cfg.Collection)
		return &CleanupResult{Success: true, Message: "All documents removed"}, nil
	}
	slog.Info("document removed", "document_id", docID)
	return &CleanupResult{Success: true, Message: "Document " + docID.String() + " removed"}, nil
}

func (p *pipeline) forget(ctx context.Context, action CleanupAction, id uuid.UUID) {
	var err error
	if action == ClearAll {
		err = p.registry.Clear(ctx)
	} else {
		err = p.registry.Delete(ctx, id)
	}
	if err != nil && !errors.Is(err, document.ErrNotFound) {
		slog.Warn("failed to update document registry", "action", action, "error", err)
	}
}

func (p *pipeline) ListDocuments(ctx context.Context) ([]models.Document, error) {
	docs, err := p.registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// Health pings the embedding provider and the vector index.
func (p *pipeline) Health(ctx context.Context) HealthReport {
	report := HealthReport{
		Status:   "ok",
		Embedder: ComponentStatus{Name: "embedding", OK: true},
		Index:    ComponentStatus{Name: p.index.Name(), OK: true},
	}
	if err := p.embedder.Ping(ctx); err != nil {
		report.Embedder.OK = false
		report.Embedder.Error = err.Error()
		report.Status = "degraded"
	}
	if err := p.index.Ping(ctx); err != nil {
		report.Index.OK = false
		report.Index.Error = err.Error()
		report.Status = "degraded"
	}
	return report
}
