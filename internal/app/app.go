package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nsqio/go-nsq"

	"documind/backend/features/document"
	"documind/backend/features/job"
	"documind/backend/internal/config"
	"documind/backend/internal/embedding"
	"documind/backend/internal/extract"
	"documind/backend/internal/middleware"
	"documind/backend/internal/queue"
	"documind/backend/internal/retrieval"
	"documind/backend/internal/text"
	"documind/backend/internal/vector"
	"documind/backend/internal/worker"
)

type App struct {
	Handler         http.Handler
	Queue           *queue.Queue
	DocumentService *document.Service
	Worker          *worker.IngestionWorker

	port int
}

// New wires every feature against the bootstrapped dependencies. The
// embedding client is injected separately so tests can swap the Gemini API
// out.
func New(
	cfg *config.Config,
	db *sql.DB,
	index vector.IndexClient,
	producer queue.Publisher,
	embedClient embedding.Client,
) (*App, error) {
	batcher := embedding.NewBatcher(embedClient, embedding.Options{
		BatchSize:         cfg.EmbedBatchSize,
		MaxRetries:        cfg.EmbedMaxRetries,
		RetryDelay:        time.Duration(cfg.EmbedRetryDelayMS) * time.Millisecond,
		ExpectedDimension: cfg.IndexDimension,
	})

	jobRepo := job.NewPostgresRepo(db)
	q := queue.New(producer, jobRepo, queue.Options{
		Topic:         config.TopicIngestTask,
		MaxAttempts:   cfg.JobMaxAttempts,
		Backoff:       time.Duration(cfg.JobBackoffSeconds) * time.Second,
		KeepCompleted: cfg.KeepCompletedJobs,
		KeepFailed:    cfg.KeepFailedJobs,
	})
	jobHandler := job.NewHandler(q)

	docRepo := document.NewPostgresRepo(db)
	docService := document.NewService(docRepo, q)
	docHandler := document.NewHandler(docService)

	ingestionWorker := worker.NewIngestionWorker(q, docRepo, extract.NewExtractor(nil), batcher, index, worker.Options{
		IndexName:      cfg.IndexName,
		IndexDimension: cfg.IndexDimension,
		Chunking: text.Options{
			MaxChunkSize: cfg.MaxChunkSize,
			OverlapSize:  cfg.OverlapSize,
		},
	})

	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	retrievalService := retrieval.NewService(batcher, index, cfg.IndexName, queryLogger)
	retrievalHandler := retrieval.NewHandler(retrievalService)

	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	mux := http.NewServeMux()

	mux.Handle("POST /documents", middleware.CorrelationID(enableCORS(docHandler.Create)))
	mux.Handle("GET /documents", middleware.CorrelationID(enableCORS(docHandler.List)))
	mux.Handle("GET /documents/{id}", middleware.CorrelationID(enableCORS(docHandler.Get)))
	mux.Handle("POST /documents/{id}/retry", middleware.CorrelationID(enableCORS(docHandler.Retry)))
	mux.Handle("POST /documents/process", middleware.CorrelationID(enableCORS(docHandler.ProcessAll)))
	mux.Handle("POST /ingest", middleware.CorrelationID(enableCORS(docHandler.Ingest)))

	mux.Handle("GET /queue/status", middleware.CorrelationID(enableCORS(jobHandler.Status)))
	mux.Handle("GET /queue/jobs/{id}", middleware.CorrelationID(enableCORS(jobHandler.Get)))
	mux.Handle("DELETE /queue/jobs/{id}", middleware.CorrelationID(enableCORS(jobHandler.Remove)))

	mux.Handle("POST /query", middleware.CorrelationID(enableCORS(retrievalHandler.Query)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return &App{
		Handler:         mux,
		Queue:           q,
		DocumentService: docService,
		Worker:          ingestionWorker,
		port:            cfg.ServerPort,
	}, nil
}

// StartConsumer attaches the ingestion worker to the task topic.
func (a *App) StartConsumer(cfg *config.Config) (*nsq.Consumer, error) {
	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxInFlight = cfg.WorkerConcurrency
	nsqCfg.MaxAttempts = uint16(cfg.JobMaxAttempts)
	nsqCfg.DefaultRequeueDelay = time.Duration(cfg.JobBackoffSeconds) * time.Second

	consumer, err := nsq.NewConsumer(config.TopicIngestTask, config.ChannelWorker, nsqCfg)
	if err != nil {
		return nil, fmt.Errorf("nsq consumer error: %w", err)
	}
	consumer.AddHandler(a.Worker)
	consumer.SetLoggerLevel(nsq.LogLevelWarning)

	if err := consumer.ConnectToNSQLookupd(cfg.NSQLookupd); err != nil {
		return nil, fmt.Errorf("nsq lookupd connect error: %w", err)
	}
	slog.Info("ingestion consumer connected", "topic", config.TopicIngestTask, "channel", config.ChannelWorker)
	return consumer, nil
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.port),
		Handler: a.Handler,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
