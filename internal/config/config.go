package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Config holds all application configuration
type Config struct {
	// Server settings
	ServerPort    int    `env:"SERVER_PORT" envDefault:"8080"`
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"0.0.0.0"`
	Environment   string `env:"ENVIRONMENT" envDefault:"local"`
	Debug         bool   `env:"DEBUG" envDefault:"false"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	Database  DatabaseConfig
	Redis     RedisConfig
	Qdrant    QdrantConfig
	Storage   StorageConfig
	Embedding EmbeddingConfig
	Pipeline  PipelineConfig
	RateLimit RateLimitConfig
	Auth      AuthConfig

	// Server timeouts
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"120s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host         string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port         int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User         string        `env:"POSTGRES_USER" envDefault:"pagemill"`
	Password     string        `env:"POSTGRES_PASSWORD" envDefault:""`
	Database     string        `env:"POSTGRES_DB" envDefault:"pagemill"`
	SSLMode      string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	MaxIdleTime  time.Duration `env:"DB_MAX_IDLE_TIME" envDefault:"5m"`
	QueryDebug   bool          `env:"DB_QUERY_DEBUG" envDefault:"false"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// RedisConfig holds connection settings for the queue substrate and
// rate limiter.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// QdrantConfig holds vector index settings
type QdrantConfig struct {
	Host       string `env:"QDRANT_HOST" envDefault:"localhost"`
	Port       int    `env:"QDRANT_PORT" envDefault:"6334"`
	APIKey     string `env:"QDRANT_API_KEY" envDefault:""`
	UseTLS     bool   `env:"QDRANT_USE_TLS" envDefault:"false"`
	Collection string `env:"QDRANT_COLLECTION" envDefault:"document_chunks"`
}

// StorageConfig holds blob store (MinIO/S3) configuration
type StorageConfig struct {
	Endpoint        string `env:"STORAGE_ENDPOINT" envDefault:""`
	AccessKey       string `env:"STORAGE_ACCESS_KEY" envDefault:""`
	SecretKey       string `env:"STORAGE_SECRET_KEY" envDefault:""`
	Region          string `env:"STORAGE_REGION" envDefault:"us-east-1"`
	Bucket          string `env:"STORAGE_BUCKET" envDefault:"documents"`
	UsePathStyle    bool   `env:"STORAGE_PATH_STYLE" envDefault:"true"`
	MaxFileSizeBytes int64 `env:"MAX_FILE_SIZE_BYTES" envDefault:"104857600"`
}

// IsConfigured returns true if the blob store is configured
func (s *StorageConfig) IsConfigured() bool {
	return s.Endpoint != "" && s.AccessKey != "" && s.SecretKey != ""
}

// EmbeddingConfig holds embedder settings. Dimension must match the vector
// index collection; mismatches are a startup error.
type EmbeddingConfig struct {
	// Provider: "openai" or "local" (deterministic, for dev and tests)
	Provider  string `env:"EMBEDDING_PROVIDER" envDefault:"local"`
	Model     string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	Dimension int    `env:"VECTOR_DIMENSION" envDefault:"1536"`
	APIKey    string `env:"OPENAI_API_KEY" envDefault:""`
	BaseURL   string `env:"OPENAI_BASE_URL" envDefault:""`
}

// PipelineConfig holds the three-stage pipeline knobs
type PipelineConfig struct {
	ChunkSize      int `env:"CHUNK_SIZE" envDefault:"512"`
	ChunkOverlap   int `env:"CHUNK_OVERLAP" envDefault:"50"`
	EmbedBatchSize int `env:"EMBED_BATCH_SIZE" envDefault:"100"`
	MaxRetries     int `env:"MAX_RETRIES" envDefault:"3"`

	ExtractWorkers int `env:"EXTRACT_WORKERS" envDefault:"2"`
	ChunkWorkers   int `env:"CHUNK_WORKERS" envDefault:"2"`
	EmbedWorkers   int `env:"EMBED_WORKERS" envDefault:"4"`

	// Per-tenant in-flight cap per stage; 0 disables the cap.
	TenantConcurrencyCap int `env:"PER_TENANT_CONCURRENCY_CAP" envDefault:"0"`

	// Wall-clock budgets per stage
	ExtractTimeout time.Duration `env:"EXTRACT_TIMEOUT" envDefault:"5m"`
	ChunkTimeout   time.Duration `env:"CHUNK_TIMEOUT" envDefault:"2m"`
	EmbedTimeout   time.Duration `env:"EMBED_TIMEOUT" envDefault:"10m"`

	// Idle poll backoff for workers when their stage has no work
	IdleBackoffMin time.Duration `env:"WORKER_IDLE_BACKOFF_MIN" envDefault:"100ms"`
	IdleBackoffMax time.Duration `env:"WORKER_IDLE_BACKOFF_MAX" envDefault:"2s"`

	// External PDF extraction service (empty disables PDF ingestion)
	PDFServiceURL     string        `env:"PDF_SERVICE_URL" envDefault:""`
	PDFServiceTimeout time.Duration `env:"PDF_SERVICE_TIMEOUT" envDefault:"5m"`

	// Reconciler sweep interval for interrupted deletions
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"5m"`
}

// RateLimitConfig holds the sliding-window admission limiter settings
type RateLimitConfig struct {
	WindowSeconds int `env:"RATE_LIMIT_WINDOW_SECONDS" envDefault:"60"`
	// Default requests-per-window for tenants created without an explicit limit
	DefaultLimit int `env:"RATE_LIMIT_DEFAULT" envDefault:"100"`
}

// Window returns the window as a Duration
func (r *RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// AuthConfig holds credential settings
type AuthConfig struct {
	// InternalToken is the shared secret for /internal endpoints.
	// Compared in constant time.
	InternalToken string `env:"INTERNAL_SERVICE_TOKEN" envDefault:""`
}

// NewConfig loads configuration from environment variables
func NewConfig(log *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.ServerPort),
		slog.String("db_host", cfg.Database.Host),
		slog.String("redis_addr", cfg.Redis.Addr),
		slog.String("qdrant_collection", cfg.Qdrant.Collection),
	)

	return cfg, nil
}

// Validate enforces the recognized option ranges.
func (c *Config) Validate() error {
	p := &c.Pipeline
	if p.ChunkSize < 128 || p.ChunkSize > 4096 {
		return fmt.Errorf("CHUNK_SIZE %d out of range [128, 4096]", p.ChunkSize)
	}
	if p.ChunkOverlap < 0 || p.ChunkOverlap > p.ChunkSize/2 {
		return fmt.Errorf("CHUNK_OVERLAP %d out of range [0, %d]", p.ChunkOverlap, p.ChunkSize/2)
	}
	if p.EmbedBatchSize < 1 || p.EmbedBatchSize > 1000 {
		return fmt.Errorf("EMBED_BATCH_SIZE %d out of range [1, 1000]", p.EmbedBatchSize)
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative")
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("VECTOR_DIMENSION must be positive")
	}
	if c.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW_SECONDS must be positive")
	}
	if c.Storage.MaxFileSizeBytes <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE_BYTES must be positive")
	}
	return nil
}
