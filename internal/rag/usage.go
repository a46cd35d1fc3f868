package rag

import (
	"sort"
	"sync"
	"time"

	"github.com/nikhilbhutani/docqa/internal/models"
)

// ModelUsage totals the completion calls made with one provider and model.
type ModelUsage struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	TotalCalls   int     `json:"total_calls"`
	TotalTokens  int     `json:"total_tokens"`
	TotalCostUSD float64 `json:"total_cost_usd"`
}

// UsageReport summarises every query answered since the process started.
type UsageReport struct {
	Queries       int          `json:"queries"`
	Failed        int          `json:"failed"`
	SuccessRate   float64      `json:"success_rate"`
	AvgLatencyMs  float64      `json:"avg_latency_ms"`
	AvgChunksUsed float64      `json:"avg_chunks_used"`
	TotalCostUSD  float64      `json:"total_cost_usd"`
	ByModel       []ModelUsage `json:"by_model"`
}

type modelKey struct{ provider, model string }

// UsageTracker aggregates per-query usage. It is safe for concurrent use.
type UsageTracker struct {
	mu      sync.Mutex
	queries int
	failed  int
	latency time.Duration
	chunks  int
	cost    float64
	models  map[modelKey]*ModelUsage
}

func NewUsageTracker() *UsageTracker {
	return &UsageTracker{models: make(map[modelKey]*ModelUsage)}
}

// Record adds one query. usage is nil when no completion was made.
func (t *UsageTracker) Record(usage *models.Usage, chunksUsed int, elapsed time.Duration, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.queries++
	if failed {
		t.failed++
	}
	t.latency += elapsed
	t.chunks += chunksUsed

	if usage == nil || usage.Model == "" {
		return
	}
	k := modelKey{usage.Provider, usage.Model}
	m, ok := t.models[k]
	if !ok {
		m = &ModelUsage{Provider: usage.Provider, Model: usage.Model}
		t.models[k] = m
	}
	m.TotalCalls++
	m.TotalTokens += usage.InputTokens + usage.OutputTokens
	m.TotalCostUSD += usage.CostUSD
	t.cost += usage.CostUSD
}

// Report returns a snapshot, models ordered by cost.
func (t *UsageTracker) Report() UsageReport {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := UsageReport{
		Queries:      t.queries,
		Failed:       t.failed,
		TotalCostUSD: t.cost,
		ByModel:      make([]ModelUsage, 0, len(t.models)),
	}
	if t.queries > 0 {
		n := float64(t.queries)
		r.SuccessRate = float64(t.queries-t.failed) / n
		r.AvgLatencyMs = float64(t.latency.Milliseconds()) / n
		r.AvgChunksUsed = float64(t.chunks) / n
	}
	for _, m := range t.models {
		r.ByModel = append(r.ByModel, *m)
	}
	sort.Slice(r.ByModel, func(i, j int) bool {
		if r.ByModel[i].TotalCostUSD != r.ByModel[j].TotalCostUSD {
			return r.ByModel[i].TotalCostUSD > r.ByModel[j].TotalCostUSD
		}
		return r.ByModel[i].Model < r.ByModel[j].Model
	})
	return r
}
