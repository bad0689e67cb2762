package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"documind"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"documind"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	GeminiAPIKey   string `envconfig:"GEMINI_API_KEY"`
	EmbeddingModel string `envconfig:"EMBEDDING_MODEL" default:"gemini-embedding-001"`

	// Vector index
	IndexName      string `envconfig:"INDEX_NAME" default:"documind"`
	IndexDimension int    `envconfig:"INDEX_DIMENSION" default:"1536"`

	// Chunking
	MaxChunkSize int `envconfig:"MAX_CHUNK_SIZE" default:"1000"`
	OverlapSize  int `envconfig:"OVERLAP_SIZE" default:"200"`

	// Embedding batching / retry
	EmbedBatchSize    int `envconfig:"EMBED_BATCH_SIZE" default:"100"`
	EmbedMaxRetries   int `envconfig:"EMBED_MAX_RETRIES" default:"3"`
	EmbedRetryDelayMS int `envconfig:"EMBED_RETRY_DELAY_MS" default:"1000"`

	// Queue delivery
	JobMaxAttempts    int `envconfig:"JOB_MAX_ATTEMPTS" default:"3"`
	JobBackoffSeconds int `envconfig:"JOB_BACKOFF_SECONDS" default:"5"`
	KeepCompletedJobs int `envconfig:"KEEP_COMPLETED_JOBS" default:"100"`
	KeepFailedJobs    int `envconfig:"KEEP_FAILED_JOBS" default:"50"`
	WorkerConcurrency int `envconfig:"WORKER_CONCURRENCY" default:"1"`

	// Server
	ServerPort      int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath    string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	MigrationPath   string `envconfig:"MIGRATION_PATH" default:"file://migrations"`
	MaxUploadSizeMB int64  `envconfig:"MAX_UPLOAD_SIZE_MB" default:"50"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Try loading .env from current dir and repo root
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.IndexName == "" {
		return fmt.Errorf("%w: INDEX_NAME", ErrMissingRequired)
	}
	if c.IndexDimension <= 0 {
		return fmt.Errorf("%w: INDEX_DIMENSION", ErrMissingRequired)
	}
	if c.WorkerConcurrency != 1 {
		// Ingestion is serialized per process; scale out by running more
		// worker processes against the same queue, each still capped at 1.
		return fmt.Errorf("%w: WORKER_CONCURRENCY must be 1", ErrMissingRequired)
	}
	return nil
}
