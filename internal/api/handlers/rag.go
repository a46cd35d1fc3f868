package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/nikhilbhutani/docqa/internal/rag"
)

type RAGHandler struct {
	pipeline rag.Pipeline
}

func NewRAGHandler(p rag.Pipeline) *RAGHandler {
	return &RAGHandler{pipeline: p}
}

func (h *RAGHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req rag.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	resp, err := h.pipeline.Query(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *RAGHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	var req rag.CleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	resp, err := h.pipeline.Cleanup(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Usage reports query totals since the process started.
func (h *RAGHandler) Usage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pipeline.Usage())
}
