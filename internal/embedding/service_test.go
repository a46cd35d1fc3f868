package embedding

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/docqa/internal/cache"
	"github.com/nikhilbhutani/docqa/internal/llm"
	"github.com/nikhilbhutani/docqa/internal/models"
)

// fakeGateway answers Embed from a scripted list of results.
type fakeGateway struct {
	llm.Gateway
	results []func(req llm.EmbeddingRequest) (*llm.EmbeddingResponse, error)
	calls   int
	inputs  []string
}

func (f *fakeGateway) Embed(_ context.Context, req llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
	f.inputs = append(f.inputs, req.Input...)
	i := min(f.calls, len(f.results)-1)
	f.calls++
	return f.results[i](req)
}

func (f *fakeGateway) Ping(context.Context, string) error { return nil }

func vector(dim int) func(llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
	return func(llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
		return &llm.EmbeddingResponse{Embeddings: [][]float32{make([]float32, dim)}}, nil
	}
}

func failing(err error) func(llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
	return func(llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) { return nil, err }
}

var errRateLimited = &models.ProviderError{Provider: "openai", StatusCode: 429, Transient: true, Err: errors.New("rate limited")}

func newTestService(gw llm.Gateway, dim int) (*Service, *[]time.Duration) {
	s := NewService(gw, Options{Provider: "openai", Dimension: dim, MaxAttempts: 3, Backoff: time.Second})
	var slept []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return s, &slept
}

func TestService_Embed(t *testing.T) {
	t.Run("returns the vector", func(t *testing.T) {
		gw := &fakeGateway{results: []func(llm.EmbeddingRequest) (*llm.EmbeddingResponse, error){vector(4)}}
		s, _ := newTestService(gw, 4)

		vec, err := s.Embed(context.Background(), "  hello\x00   world ")
		require.NoError(t, err)
		assert.Len(t, vec, 4)
		assert.Equal(t, []string{"hello world"}, gw.inputs)
	})

	t.Run("retries transient failures with linear backoff", func(t *testing.T) {
		gw := &fakeGateway{results: []func(llm.EmbeddingRequest) (*llm.EmbeddingResponse, error){
			failing(errRateLimited), failing(errRateLimited), vector(4),
		}}
		s, slept := newTestService(gw, 4)

		_, err := s.Embed(context.Background(), "hello world")
		require.NoError(t, err)
		assert.Equal(t, 3, gw.calls)
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept)
	})

	t.Run("gives up after the retry budget", func(t *testing.T) {
		gw := &fakeGateway{results: []func(llm.EmbeddingRequest) (*llm.EmbeddingResponse, error){failing(errRateLimited)}}
		s, _ := newTestService(gw, 4)

		_, err := s.Embed(context.Background(), "hello world")
		var exhausted *models.RetryExhaustedError
		require.ErrorAs(t, err, &exhausted)
		assert.Equal(t, 3, exhausted.Attempts)
		assert.Equal(t, 3, gw.calls)
		assert.ErrorIs(t, err, models.ErrTransientProvider)
	})

	t.Run("permanent failures are not retried", func(t *testing.T) {
		authErr := &models.ProviderError{Provider: "openai", StatusCode: 401, Err: errors.New("invalid key")}
		gw := &fakeGateway{results: []func(llm.EmbeddingRequest) (*llm.EmbeddingResponse, error){failing(authErr)}}
		s, _ := newTestService(gw, 4)

		_, err := s.Embed(context.Background(), "hello world")
		assert.ErrorIs(t, err, models.ErrConfiguration)
		assert.Equal(t, 1, gw.calls)
	})

	t.Run("wrong dimension is fatal", func(t *testing.T) {
		gw := &fakeGateway{results: []func(llm.EmbeddingRequest) (*llm.EmbeddingResponse, error){vector(3)}}
		s, _ := newTestService(gw, 4)

		_, err := s.Embed(context.Background(), "hello world")
		var dimErr *models.DimensionError
		require.ErrorAs(t, err, &dimErr)
		assert.Equal(t, 4, dimErr.Want)
		assert.Equal(t, 3, dimErr.Got)
		assert.ErrorIs(t, err, models.ErrConfiguration)
		assert.NotErrorIs(t, err, models.ErrTransientProvider)
		assert.Equal(t, 1, gw.calls)
	})

	t.Run("missing vector is fatal", func(t *testing.T) {
		gw := &fakeGateway{results: []func(llm.EmbeddingRequest) (*llm.EmbeddingResponse, error){
			func(llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) { return &llm.EmbeddingResponse{}, nil },
		}}
		s, _ := newTestService(gw, 4)

		_, err := s.Embed(context.Background(), "hello world")
		assert.ErrorIs(t, err, models.ErrConfiguration)
		assert.Equal(t, 1, gw.calls)
	})

	t.Run("empty input is rejected before calling the provider", func(t *testing.T) {
		gw := &fakeGateway{results: []func(llm.EmbeddingRequest) (*llm.EmbeddingResponse, error){vector(4)}}
		s, _ := newTestService(gw, 4)

		_, err := s.Embed(context.Background(), " \x01 ")
		assert.ErrorIs(t, err, models.ErrEmptyContent)
		assert.Zero(t, gw.calls)
	})

	t.Run("long input is truncated", func(t *testing.T) {
		gw := &fakeGateway{results: []func(llm.EmbeddingRequest) (*llm.EmbeddingResponse, error){vector(4)}}
		s, _ := newTestService(gw, 4)

		_, err := s.Embed(context.Background(), strings.Repeat("é", 9000))
		require.NoError(t, err)
		assert.Equal(t, 8000, len([]rune(gw.inputs[0])))
	})
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "héllo", Truncate("héllo", 10))
	assert.Equal(t, "hé", Truncate("héllo", 2))
	assert.Equal(t, "héllo", Truncate("héllo", 0))
}

type mapStore struct {
	data map[string][]byte
	sets int
}

func (m *mapStore) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.data[key]
	if !ok {
		return nil, cache.ErrMiss
	}
	return v, nil
}

func (m *mapStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.sets++
	m.data[key] = value
	return nil
}

func TestCachedEmbedder(t *testing.T) {
	gw := &fakeGateway{results: []func(llm.EmbeddingRequest) (*llm.EmbeddingResponse, error){vector(4)}}
	s, _ := newTestService(gw, 4)
	store := &mapStore{data: map[string][]byte{}}
	c := NewCachedEmbedder(s, store, "openai:text-embedding-3-small", time.Hour)

	for range 3 {
		vec, err := c.Embed(context.Background(), "same question")
		require.NoError(t, err)
		assert.Len(t, vec, 4)
	}
	assert.Equal(t, 1, gw.calls)
	assert.Equal(t, 1, store.sets)
	assert.Equal(t, 4, c.Dimension())

	t.Run("wrong size entry is refreshed", func(t *testing.T) {
		for k := range store.data {
			store.data[k] = cache.EncodeVector([]float32{1, 2})
		}
		vec, err := c.Embed(context.Background(), "same question")
		require.NoError(t, err)
		assert.Len(t, vec, 4)
		assert.Equal(t, 2, gw.calls)
	})
}
