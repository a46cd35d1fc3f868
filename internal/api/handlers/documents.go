package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nikhilbhutani/docqa/internal/document"
	"github.com/nikhilbhutani/docqa/internal/models"
	"github.com/nikhilbhutani/docqa/internal/rag"
)

const maxUploadBytes = 32 << 20 // 32MB

// Enqueuer schedules ingestion on a background worker.
type Enqueuer interface {
	EnqueueIngest(ctx context.Context, req rag.IngestRequest) (string, error)
}

type DocumentHandler struct {
	pipeline  rag.Pipeline
	extractor *document.Extractor
	queue     Enqueuer
}

// NewDocumentHandler takes an optional queue; without one ?async=true is rejected.
func NewDocumentHandler(p rag.Pipeline, ex *document.Extractor, q Enqueuer) *DocumentHandler {
	return &DocumentHandler{pipeline: p, extractor: ex, queue: q}
}

// uploadItem is one document of an upload, either ready to ingest or
// already rejected.
type uploadItem struct {
	req    rag.IngestRequest
	failed *rag.DocumentStatus
	err    error
}

// uploadBody accepts a single document or a "documents" list.
type uploadBody struct {
	rag.IngestRequest
	Documents []rag.IngestRequest `json:"documents"`
}

// Upload ingests multipart files (fields "file" or "files") or JSON with
// pre-extracted text. A single document answers with its result or error;
// several answer with a per-document status list.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	var (
		items []uploadItem
		err   error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		items, err = h.fromMultipart(r)
	} else {
		items, err = fromJSON(r)
	}
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if len(items) == 0 {
		badRequest(w, "no documents in request")
		return
	}

	if r.URL.Query().Get("async") == "true" {
		h.enqueue(w, r, items)
		return
	}

	if len(items) == 1 {
		it := items[0]
		if it.err != nil {
			writeError(w, it.err)
			return
		}
		res, err := h.pipeline.Ingest(r.Context(), it.req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
		return
	}

	var reqs []rag.IngestRequest
	for _, it := range items {
		if it.failed == nil {
			reqs = append(reqs, it.req)
		}
	}
	results := h.pipeline.IngestBatch(r.Context(), reqs)

	statuses := make([]rag.DocumentStatus, 0, len(items))
	next := 0
	for _, it := range items {
		if it.failed != nil {
			statuses = append(statuses, *it.failed)
			continue
		}
		statuses = append(statuses, results[next])
		next++
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": statuses, "count": len(statuses)})
}

func (h *DocumentHandler) enqueue(w http.ResponseWriter, r *http.Request, items []uploadItem) {
	if h.queue == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "background ingestion is not available"})
		return
	}

	statuses := make([]rag.DocumentStatus, 0, len(items))
	for _, it := range items {
		if it.failed != nil {
			statuses = append(statuses, *it.failed)
			continue
		}
		st := rag.DocumentStatus{Name: it.req.Name, Status: rag.StatusQueued}
		id, err := h.queue.EnqueueIngest(r.Context(), it.req)
		if err != nil {
			st.Status = rag.StatusFailed
			st.Error = err.Error()
		}
		st.TaskID = id
		statuses = append(statuses, st)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"documents": statuses, "count": len(statuses)})
}

func (h *DocumentHandler) fromMultipart(r *http.Request) ([]uploadItem, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, errors.New("invalid multipart form")
	}
	authors := splitAuthors(r.FormValue("authors"))

	files := slices.Concat(r.MultipartForm.File["file"], r.MultipartForm.File["files"])
	items := make([]uploadItem, 0, len(files))
	for _, fh := range files {
		items = append(items, h.extract(r.Context(), fh, authors))
	}
	return items, nil
}

func (h *DocumentHandler) extract(ctx context.Context, fh *multipart.FileHeader, authors []string) uploadItem {
	fail := func(err error) uploadItem {
		err = models.Stage(models.StageExtract, err)
		return uploadItem{
			err: err,
			failed: &rag.DocumentStatus{
				Name:   fh.Filename,
				Status: rag.StatusFailed,
				Stage:  models.StageExtract,
				Error:  err.Error(),
			},
		}
	}

	f, err := fh.Open()
	if err != nil {
		return fail(err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fail(err)
	}
	out, err := h.extractor.Extract(ctx, fh.Filename, fh.Header.Get("Content-Type"), data)
	if err != nil {
		return fail(err)
	}

	return uploadItem{req: rag.IngestRequest{
		Name:      fh.Filename,
		SizeBytes: fh.Size,
		MediaType: out.MediaType,
		Authors:   authors,
		Text:      out.Text,
	}}
}

func fromJSON(r *http.Request) ([]uploadItem, error) {
	var body uploadBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, errors.New("invalid request body")
	}
	reqs := body.Documents
	if len(reqs) == 0 && (body.Name != "" || body.Text != "") {
		reqs = []rag.IngestRequest{body.IngestRequest}
	}

	items := make([]uploadItem, len(reqs))
	for i, req := range reqs {
		if req.SizeBytes == 0 {
			req.SizeBytes = int64(len(req.Text))
		}
		items[i] = uploadItem{req: req}
	}
	return items, nil
}

func splitAuthors(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	docs, err := h.pipeline.ListDocuments(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)})
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	res, err := h.pipeline.Cleanup(r.Context(), rag.CleanupRequest{
		Action:     rag.RemoveOne,
		DocumentID: chi.URLParam(r, "id"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
