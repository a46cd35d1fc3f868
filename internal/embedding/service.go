package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/nikhilbhutani/docqa/internal/llm"
	"github.com/nikhilbhutani/docqa/internal/models"
	"github.com/nikhilbhutani/docqa/pkg/textnorm"
)

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Ping(ctx context.Context) error
}

type Options struct {
	Provider    string
	Model       string
	Dimension   int
	MaxChars    int
	MaxAttempts int
	Backoff     time.Duration
	RateLimit   float64 // calls per second; 0 disables throttling
}

func (o *Options) defaults() {
	if o.Model == "" {
		o.Model = "text-embedding-3-small"
	}
	if o.MaxChars <= 0 {
		o.MaxChars = 8000
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Backoff < 0 {
		o.Backoff = 0
	}
}

// Service embeds one text per provider call. Transient provider failures are
// retried with linear backoff; malformed or wrongly sized vectors are not.
type Service struct {
	gateway llm.Gateway
	opts    Options
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewService(gw llm.Gateway, opts Options) *Service {
	opts.defaults()
	s := &Service{gateway: gw, opts: opts, sleep: sleepCtx}
	if opts.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return s
}

func (s *Service) Dimension() int { return s.opts.Dimension }
func (s *Service) Model() string  { return s.opts.Model }

func (s *Service) Ping(ctx context.Context) error {
	return s.gateway.Ping(ctx, s.opts.Provider)
}

// Embed cleans and truncates text, then requests its vector.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	input := Truncate(textnorm.Clean(text), s.opts.MaxChars)
	if input == "" {
		return nil, fmt.Errorf("embed: %w", models.ErrEmptyContent)
	}

	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			slog.Debug("retrying embedding", "provider", s.opts.Provider, "attempt", attempt, "error", lastErr)
			if err := s.sleep(ctx, time.Duration(attempt-1)*s.opts.Backoff); err != nil {
				return nil, err
			}
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("embed rate limit: %w", err)
			}
		}

		resp, err := s.gateway.Embed(ctx, llm.EmbeddingRequest{
			Provider: s.opts.Provider,
			Model:    s.opts.Model,
			Input:    []string{input},
		})
		if err == nil {
			return s.validate(resp)
		}
		if !errors.Is(err, models.ErrTransientProvider) {
			return nil, err
		}
		lastErr = err
	}

	return nil, &models.RetryExhaustedError{Attempts: s.opts.MaxAttempts, Err: lastErr}
}

func (s *Service) validate(resp *llm.EmbeddingResponse) ([]float32, error) {
	if resp == nil || len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("%w: %s returned no embedding vector", models.ErrConfiguration, s.opts.Provider)
	}
	vec := resp.Embeddings[0]
	if s.opts.Dimension > 0 && len(vec) != s.opts.Dimension {
		return nil, &models.DimensionError{Want: s.opts.Dimension, Got: len(vec)}
	}
	return vec, nil
}

// Truncate caps text at maxChars characters.
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	n := 0
	for i := range text {
		if n == maxChars {
			return text[:i]
		}
		n++
	}
	return text
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
