package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nikhilbhutani/docqa/internal/models"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	LLM         LLMConfig         `yaml:"llm"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	VectorIndex VectorIndexConfig `yaml:"vector_index"`
	RAG         RAGConfig         `yaml:"rag"`
	Queue       QueueConfig       `yaml:"queue"`
}

type ServerConfig struct {
	Host      string  `yaml:"host"`
	Port      int     `yaml:"port"`
	RateLimit float64 `yaml:"rate_limit"` // requests per second per client
	RateBurst int     `yaml:"rate_burst"`

	// CORSOrigins lists browser origins allowed to call the API; "*" allows any.
	CORSOrigins []string `yaml:"cors_origins"`
}

type DatabaseConfig struct {
	URL            string `yaml:"url"`
	MaxConns       int    `yaml:"max_conns"`
	MinConns       int    `yaml:"min_conns"`
	MigrationsPath string `yaml:"migrations_path"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LLMConfig struct {
	OpenAIKey        string  `yaml:"openai_key"`
	OpenAIBaseURL    string  `yaml:"openai_base_url"`
	AnthropicKey     string  `yaml:"anthropic_key"`
	OllamaURL        string  `yaml:"ollama_url"`
	DefaultProvider  string  `yaml:"default_provider"`
	DefaultModel     string  `yaml:"default_model"`
	FallbackProvider string  `yaml:"fallback_provider"`
	MaxRetries       int     `yaml:"max_retries"`
	MaxTokens        int     `yaml:"max_tokens"`
	Temperature      float64 `yaml:"temperature"`
}

type EmbeddingConfig struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	Dimension   int           `yaml:"dimension"`
	MaxChars    int           `yaml:"max_chars"`
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
	Concurrency int           `yaml:"concurrency"`
	RateLimit   float64       `yaml:"rate_limit"` // calls per second, 0 = unlimited
	CacheTTL    time.Duration `yaml:"cache_ttl"`  // 0 disables the Redis cache
}

type VectorIndexConfig struct {
	Backend      string `yaml:"backend"` // chromem, qdrant or pgvector
	Collection   string `yaml:"collection"`
	Distance     string `yaml:"distance"`
	BatchSize    int    `yaml:"batch_size"`
	QdrantURL    string `yaml:"qdrant_url"`
	QdrantAPIKey string `yaml:"qdrant_api_key"`
	ChromemPath  string `yaml:"chromem_path"` // empty keeps the index in memory
}

type RAGConfig struct {
	ChunkSize     int     `yaml:"chunk_size"`
	ChunkOverlap  int     `yaml:"chunk_overlap"`
	SentenceSnap  bool    `yaml:"sentence_snap"`
	TopK          int     `yaml:"top_k"`
	MinScore      float64 `yaml:"min_score"`
	ContextBudget int     `yaml:"context_budget"`
	BudgetUnit    string  `yaml:"budget_unit"` // chars or tokens
	HistoryWindow int     `yaml:"history_window"`
}

type QueueConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// DefaultChromemPath is where the embedded index persists, so separate CLI
// invocations share one index.
const DefaultChromemPath = "data/chromem"

// Defaults returns the configuration used when nothing else is set.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080, RateLimit: 20, RateBurst: 40, CORSOrigins: []string{"*"}},
		Database: DatabaseConfig{
			MaxConns:       10,
			MinConns:       2,
			MigrationsPath: "", // built-in migrations
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		LLM: LLMConfig{
			OllamaURL:       "http://localhost:11434",
			DefaultProvider: "openai",
			DefaultModel:    "gpt-4o",
			MaxRetries:      3,
			MaxTokens:       1000,
			Temperature:     0.2,
		},
		Embedding: EmbeddingConfig{
			Provider:    "openai",
			Model:       "text-embedding-3-small",
			Dimension:   1536,
			MaxChars:    8000,
			MaxAttempts: 3,
			Backoff:     time.Second,
			Concurrency: 1,
		},
		VectorIndex: VectorIndexConfig{
			Backend:     "chromem",
			Collection:  "documents",
			Distance:    "cosine",
			BatchSize:   100,
			ChromemPath: DefaultChromemPath,
		},
		RAG: RAGConfig{
			ChunkSize:     500,
			ChunkOverlap:  100,
			SentenceSnap:  false,
			TopK:          5,
			ContextBudget: 12000,
			BudgetUnit:    "chars",
			HistoryWindow: 6,
		},
		Queue: QueueConfig{Concurrency: 4},
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE if set, then environment variables.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	e := envReader{}

	c.Server.Host = e.str("SERVER_HOST", c.Server.Host)
	c.Server.Port = e.int("SERVER_PORT", c.Server.Port)
	c.Server.RateLimit = e.float("SERVER_RATE_LIMIT", c.Server.RateLimit)
	c.Server.RateBurst = e.int("SERVER_RATE_BURST", c.Server.RateBurst)
	c.Server.CORSOrigins = e.list("CORS_ORIGINS", c.Server.CORSOrigins)

	c.Database.URL = e.str("DATABASE_URL", c.Database.URL)
	c.Database.MaxConns = e.int("DB_MAX_CONNS", c.Database.MaxConns)
	c.Database.MinConns = e.int("DB_MIN_CONNS", c.Database.MinConns)
	c.Database.MigrationsPath = e.str("MIGRATIONS_PATH", c.Database.MigrationsPath)

	c.Redis.Addr = e.str("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = e.str("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = e.int("REDIS_DB", c.Redis.DB)

	c.LLM.OpenAIKey = e.str("OPENAI_API_KEY", c.LLM.OpenAIKey)
	c.LLM.OpenAIBaseURL = e.str("OPENAI_BASE_URL", c.LLM.OpenAIBaseURL)
	c.LLM.AnthropicKey = e.str("ANTHROPIC_API_KEY", c.LLM.AnthropicKey)
	c.LLM.OllamaURL = e.str("OLLAMA_URL", c.LLM.OllamaURL)
	c.LLM.DefaultProvider = e.str("LLM_DEFAULT_PROVIDER", c.LLM.DefaultProvider)
	c.LLM.DefaultModel = e.str("LLM_DEFAULT_MODEL", c.LLM.DefaultModel)
	c.LLM.FallbackProvider = e.str("LLM_FALLBACK_PROVIDER", c.LLM.FallbackProvider)
	c.LLM.MaxRetries = e.int("LLM_MAX_RETRIES", c.LLM.MaxRetries)
	c.LLM.MaxTokens = e.int("LLM_MAX_TOKENS", c.LLM.MaxTokens)
	c.LLM.Temperature = e.float("LLM_TEMPERATURE", c.LLM.Temperature)

	c.Embedding.Provider = e.str("EMBEDDING_PROVIDER", c.Embedding.Provider)
	c.Embedding.Model = e.str("EMBEDDING_MODEL", c.Embedding.Model)
	c.Embedding.Dimension = e.int("EMBEDDING_DIMENSION", c.Embedding.Dimension)
	c.Embedding.MaxChars = e.int("EMBEDDING_MAX_CHARS", c.Embedding.MaxChars)
	c.Embedding.MaxAttempts = e.int("EMBEDDING_MAX_ATTEMPTS", c.Embedding.MaxAttempts)
	c.Embedding.Backoff = e.duration("EMBEDDING_BACKOFF", c.Embedding.Backoff)
	c.Embedding.Concurrency = e.int("EMBEDDING_CONCURRENCY", c.Embedding.Concurrency)
	c.Embedding.RateLimit = e.float("EMBEDDING_RATE_LIMIT", c.Embedding.RateLimit)
	c.Embedding.CacheTTL = e.duration("EMBEDDING_CACHE_TTL", c.Embedding.CacheTTL)

	c.VectorIndex.Backend = e.str("VECTOR_BACKEND", c.VectorIndex.Backend)
	c.VectorIndex.Collection = e.str("VECTOR_COLLECTION", c.VectorIndex.Collection)
	c.VectorIndex.Distance = e.str("VECTOR_DISTANCE", c.VectorIndex.Distance)
	c.VectorIndex.BatchSize = e.int("VECTOR_BATCH_SIZE", c.VectorIndex.BatchSize)
	c.VectorIndex.QdrantURL = e.str("QDRANT_URL", c.VectorIndex.QdrantURL)
	c.VectorIndex.QdrantAPIKey = e.str("QDRANT_API_KEY", c.VectorIndex.QdrantAPIKey)
	c.VectorIndex.ChromemPath = e.str("CHROMEM_PATH", c.VectorIndex.ChromemPath)

	c.RAG.ChunkSize = e.int("CHUNK_SIZE", c.RAG.ChunkSize)
	c.RAG.ChunkOverlap = e.int("CHUNK_OVERLAP", c.RAG.ChunkOverlap)
	c.RAG.SentenceSnap = e.bool("CHUNK_SENTENCE_SNAP", c.RAG.SentenceSnap)
	c.RAG.TopK = e.int("RAG_TOP_K", c.RAG.TopK)
	c.RAG.MinScore = e.float("RAG_MIN_SCORE", c.RAG.MinScore)
	c.RAG.ContextBudget = e.int("RAG_CONTEXT_BUDGET", c.RAG.ContextBudget)
	c.RAG.BudgetUnit = e.str("RAG_BUDGET_UNIT", c.RAG.BudgetUnit)
	c.RAG.HistoryWindow = e.int("RAG_HISTORY_WINDOW", c.RAG.HistoryWindow)

	c.Queue.Concurrency = e.int("QUEUE_CONCURRENCY", c.Queue.Concurrency)

	return e.err()
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate reports missing credentials and impossible settings. The returned
// error wraps models.ErrConfiguration.
func (c *Config) Validate() error {
	var problems []string

	needsOpenAI := c.Embedding.Provider == "openai" ||
		c.LLM.DefaultProvider == "openai" || c.LLM.FallbackProvider == "openai"
	if needsOpenAI && c.LLM.OpenAIKey == "" {
		problems = append(problems, "OPENAI_API_KEY is required")
	}
	if (c.LLM.DefaultProvider == "anthropic" || c.LLM.FallbackProvider == "anthropic") && c.LLM.AnthropicKey == "" {
		problems = append(problems, "ANTHROPIC_API_KEY is required")
	}
	if c.Embedding.Provider == "anthropic" {
		problems = append(problems, "EMBEDDING_PROVIDER anthropic has no embedding API")
	}
	if c.Embedding.Dimension <= 0 {
		problems = append(problems, "EMBEDDING_DIMENSION must be positive")
	}

	switch c.VectorIndex.Backend {
	case "chromem":
	case "qdrant":
		if c.VectorIndex.QdrantURL == "" {
			problems = append(problems, "QDRANT_URL is required for the qdrant backend")
		}
	case "pgvector":
		if c.Database.URL == "" {
			problems = append(problems, "DATABASE_URL is required for the pgvector backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown VECTOR_BACKEND %q", c.VectorIndex.Backend))
	}

	if c.RAG.ChunkSize <= 0 || c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		problems = append(problems, fmt.Sprintf("CHUNK_OVERLAP %d must be in [0, CHUNK_SIZE %d)",
			c.RAG.ChunkOverlap, c.RAG.ChunkSize))
	}
	if c.RAG.BudgetUnit != "chars" && c.RAG.BudgetUnit != "tokens" {
		problems = append(problems, fmt.Sprintf("RAG_BUDGET_UNIT %q must be chars or tokens", c.RAG.BudgetUnit))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", models.ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// AsyncIngestion reports whether documents may be ingested by a separate
// worker process. The embedded chromem index lives inside one process, so a
// worker's writes would never reach the API.
func (c *Config) AsyncIngestion() error {
	if c.VectorIndex.Backend == "chromem" || c.VectorIndex.Backend == "" {
		return fmt.Errorf("%w: background ingestion needs a shared vector index (qdrant or pgvector), not chromem",
			models.ErrConfiguration)
	}
	return nil
}

// envReader reads typed env vars, keeping the first parse error.
type envReader struct {
	first error
}

func (e *envReader) str(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// list splits a comma-separated value, dropping empty entries.
func (e *envReader) list(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (e *envReader) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return fallback
	}
	return n
}

func (e *envReader) float(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, err)
		return fallback
	}
	return f
}

func (e *envReader) bool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, err)
		return fallback
	}
	return b
}

func (e *envReader) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return fallback
	}
	return d
}

func (e *envReader) fail(key string, err error) {
	if e.first == nil {
		e.first = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func (e *envReader) err() error { return e.first }
