package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/docqa/internal/api/handlers"
	"github.com/nikhilbhutani/docqa/internal/api/middleware"
	"github.com/nikhilbhutani/docqa/internal/config"
	"github.com/nikhilbhutani/docqa/internal/document"
	"github.com/nikhilbhutani/docqa/internal/rag"
)

// Deps are the services the HTTP layer serves. DB, Redis and Queue are optional.
type Deps struct {
	Pipeline  rag.Pipeline
	Extractor *document.Extractor
	Queue     handlers.Enqueuer
	DB        handlers.Pinger
	Redis     *redis.Client
}

type Router struct {
	mux     *chi.Mux
	cfg     config.ServerConfig
	deps    Deps
	limiter *middleware.RateLimiter
}

func NewRouter(cfg config.ServerConfig, deps Deps) *Router {
	if deps.Extractor == nil {
		deps.Extractor = document.NewExtractor()
	}
	return &Router{mux: chi.NewRouter(), cfg: cfg, deps: deps}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	origins := rt.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(middleware.CORS(origins))

	if rt.cfg.RateLimit > 0 {
		rt.limiter = middleware.NewRateLimiter(rt.cfg.RateLimit, rt.cfg.RateBurst)
		r.Use(rt.limiter.Limit)
	}

	health := handlers.NewHealthHandler(rt.deps.Pipeline, rt.deps.DB, rt.deps.Redis)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	r.Route("/api/v1", func(r chi.Router) {
		docH := handlers.NewDocumentHandler(rt.deps.Pipeline, rt.deps.Extractor, rt.deps.Queue)
		r.Route("/documents", func(r chi.Router) {
			r.Post("/", docH.Upload)
			r.Get("/", docH.List)
			r.Delete("/{id}", docH.Delete)
		})

		ragH := handlers.NewRAGHandler(rt.deps.Pipeline)
		r.Post("/query", ragH.Query)
		r.Post("/cleanup", ragH.Cleanup)
		r.Get("/usage", ragH.Usage)
	})

	return r
}

// Close stops background work started by Setup.
func (rt *Router) Close() {
	if rt.limiter != nil {
		rt.limiter.Stop()
	}
}
