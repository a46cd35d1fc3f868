package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/docqa/internal/rag"
)

// Pinger is a dependency that can report its reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	pipeline rag.Pipeline
	db       Pinger
	redis    *redis.Client
}

// NewHealthHandler takes optional db and redis handles; nil skips the check.
func NewHealthHandler(p rag.Pipeline, db Pinger, rdb *redis.Client) *HealthHandler {
	return &HealthHandler{pipeline: p, db: db, redis: rdb}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz reports the embedding provider, the vector index and any optional
// stores. Error strings come from the clients and carry no credentials.
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	report := h.pipeline.Health(r.Context())
	checks := map[string]string{}

	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			checks["database"] = "unhealthy: " + err.Error()
		} else {
			checks["database"] = "ok"
		}
	}

	if h.redis != nil {
		if err := h.redis.Ping(r.Context()).Err(); err != nil {
			checks["redis"] = "unhealthy: " + err.Error()
		} else {
			checks["redis"] = "ok"
		}
	}

	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	for _, v := range checks {
		if v != "ok" {
			status = http.StatusServiceUnavailable
			break
		}
	}

	writeJSON(w, status, map[string]any{
		"status":   statusStr(status),
		"embedder": report.Embedder,
		"index":    report.Index,
		"checks":   checks,
	})
}

func statusStr(code int) string {
	if code == http.StatusOK {
		return "ok"
	}
	return "unhealthy"
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
