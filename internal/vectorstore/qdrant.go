package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nikhilbhutani/docqa/internal/models"
)

// QdrantIndex is a minimal REST client for Qdrant.
type QdrantIndex struct {
	baseURL   string
	apiKey    string
	batchSize int
	client    *http.Client
}

type QdrantConfig struct {
	URL       string
	APIKey    string
	BatchSize int
	Timeout   time.Duration
}

func NewQdrantIndex(cfg QdrantConfig) *QdrantIndex {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &QdrantIndex{
		baseURL:   strings.TrimRight(cfg.URL, "/"),
		apiKey:    cfg.APIKey,
		batchSize: cfg.BatchSize,
		client:    &http.Client{Timeout: timeout},
	}
}

func (s *QdrantIndex) Name() string { return "qdrant" }

// qdrantStatusError is a non-2xx response from Qdrant.
type qdrantStatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *qdrantStatusError) Error() string {
	return fmt.Sprintf("qdrant %s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

func isStatus(err error, code int) bool {
	var se *qdrantStatusError
	return errors.As(err, &se) && se.Code == code
}

func (s *QdrantIndex) Ping(ctx context.Context) error {
	if err := s.do(ctx, http.MethodGet, "/collections", nil, nil); err != nil {
		return fmt.Errorf("qdrant ping: %w", err)
	}
	return nil
}

func qdrantDistance(d Distance) (string, error) {
	switch d {
	case Cosine, "":
		return "Cosine", nil
	case Dot:
		return "Dot", nil
	case Euclidean:
		return "Euclid", nil
	}
	return "", fmt.Errorf("%w: unknown distance %q", models.ErrConfiguration, d)
}

func (s *QdrantIndex) EnsureCollection(ctx context.Context, name string, dimension int, distance Distance) error {
	dist, err := qdrantDistance(distance)
	if err != nil {
		return err
	}
	path := "/collections/" + url.PathEscape(name)

	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	err = s.do(ctx, http.MethodGet, path, nil, &info)
	switch {
	case err == nil:
		if have := info.Result.Config.Params.Vectors.Size; have != 0 && have != dimension {
			return &models.DimensionError{Want: have, Got: dimension}
		}
		return nil
	case !isStatus(err, http.StatusNotFound):
		return indexErr("create_collection", name, err)
	}

	body := map[string]any{
		"vectors": map[string]any{"size": dimension, "distance": dist},
	}
	err = s.do(ctx, http.MethodPut, path, body, nil)
	if err != nil && !isStatus(err, http.StatusConflict) && !alreadyExists(err) {
		return indexErr("create_collection", name, err)
	}

	// Keyword index on the filter field; a concurrent creator may have made it.
	idx := map[string]any{"field_name": "document_id", "field_schema": "keyword"}
	if err := s.do(ctx, http.MethodPut, path+"/index?wait=true", idx, nil); err != nil && !alreadyExists(err) {
		return indexErr("create_index", name, err)
	}
	return nil
}

// alreadyExists matches older Qdrant versions that answer a duplicate create
// with 400 instead of 409.
func alreadyExists(err error) bool {
	var se *qdrantStatusError
	return errors.As(err, &se) && se.Code == http.StatusBadRequest && strings.Contains(se.Body, "already exists")
}

type qdrantPoint struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector"`
	Payload Payload   `json:"payload"`
}

func (s *QdrantIndex) Upsert(ctx context.Context, collection string, points []Point) error {
	path := "/collections/" + url.PathEscape(collection) + "/points?wait=true"
	return writeBatches(collection, points, s.batchSize, func(batch []Point) error {
		qp := make([]qdrantPoint, len(batch))
		for i, p := range batch {
			qp[i] = qdrantPoint{ID: p.ID, Vector: p.Vector, Payload: p.Payload}
		}
		return s.do(ctx, http.MethodPut, path, map[string]any{"points": qp}, nil)
	})
}

func qdrantFilter(f Filter) map[string]any {
	if f.IsEmpty() {
		return map[string]any{"must": []any{}}
	}
	must := []any{
		map[string]any{"key": "document_id", "match": map[string]any{"any": f.DocumentIDs}},
	}
	if f.FromIndex > 0 {
		must = append(must, map[string]any{"key": "index", "range": map[string]any{"gte": f.FromIndex}})
	}
	return map[string]any{"must": must}
}

func (s *QdrantIndex) Search(ctx context.Context, collection string, vector []float32, limit int, filter Filter) ([]ScoredPoint, error) {
	if limit <= 0 {
		return nil, nil
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if !filter.IsEmpty() {
		req["filter"] = qdrantFilter(filter)
	}

	var resp struct {
		Result []struct {
			ID      any     `json:"id"`
			Score   float64 `json:"score"`
			Payload Payload `json:"payload"`
		} `json:"result"`
	}
	err := s.do(ctx, http.MethodPost, "/collections/"+url.PathEscape(collection)+"/points/search", req, &resp)
	if isStatus(err, http.StatusNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, indexErr("search", collection, err)
	}

	out := make([]ScoredPoint, 0, len(resp.Result))
	for _, r := range resp.Result {
		out = append(out, ScoredPoint{ID: fmt.Sprint(r.ID), Score: r.Score, Payload: r.Payload})
	}
	return out, nil
}

func (s *QdrantIndex) DeleteByFilter(ctx context.Context, collection string, filter Filter) error {
	body := map[string]any{"filter": qdrantFilter(filter)}
	err := s.do(ctx, http.MethodPost, "/collections/"+url.PathEscape(collection)+"/points/delete?wait=true", body, nil)
	if isStatus(err, http.StatusNotFound) {
		return fmt.Errorf("delete from %q: %w", collection, models.ErrCollectionNotFound)
	}
	if err != nil {
		return indexErr("delete", collection, err)
	}
	return nil
}

func (s *QdrantIndex) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &qdrantStatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode qdrant response: %w", err)
		}
	}
	return nil
}
