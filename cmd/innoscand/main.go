// Command innoscand serves the innovation ingestion and similarity
// pipeline: PDF upload, section extraction, embedding, plagiarism
// recall with LSA rerank, rubric scoring and grounded chat.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
	_ "modernc.org/sqlite"

	"innoscan/blob"
	"innoscan/chat"
	"innoscan/chunker"
	"innoscan/config"
	"innoscan/dbopen"
	"innoscan/docstore"
	"innoscan/embed"
	"innoscan/extract"
	"innoscan/httpapi"
	"innoscan/ingest"
	"innoscan/mcptool"
	"innoscan/observability"
	"innoscan/scoring"
	"innoscan/similarity"
	"innoscan/vecstore"
)

const workerName = "innoscand"

func main() {
	_ = godotenv.Load()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to YAML config file (optional)")
	flag.Parse()

	var cfg *config.Config
	var err error
	if cfgPath != "" {
		cfg, err = config.LoadConfig(cfgPath)
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Postgres pool, shared by the document and vector stores. The
	// pgvector types must be registered before vecstore can scan them.
	pc, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
	if err != nil {
		logger.Error("parse postgres dsn", "error", err)
		os.Exit(1)
	}
	pc.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		logger.Error("postgres connect", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	docs, err := docstore.NewWithPool(pool, docstore.Config{Table: cfg.Postgres.Table, Logger: logger})
	if err != nil {
		logger.Error("docstore", "error", err)
		os.Exit(1)
	}
	vecs, err := vecstore.NewWithPool(pool, vecstore.Config{
		Table:     cfg.Postgres.Table,
		Dimension: cfg.Pipeline.EmbedDimension,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("vecstore", "error", err)
		os.Exit(1)
	}

	// Parent table first; the embeddings table references it.
	if err := docs.EnsureSchema(ctx); err != nil {
		logger.Error("document schema", "error", err)
		os.Exit(1)
	}
	if err := vecs.EnsureSchema(ctx); err != nil {
		logger.Error("vector schema", "error", err)
		os.Exit(1)
	}
	vecs.EnsureIndex(ctx)

	blobs, err := blob.New(ctx, blob.Config{
		Endpoint:  cfg.Minio.Endpoint,
		AccessKey: cfg.Minio.AccessKey,
		SecretKey: cfg.Minio.SecretKey,
		UseSSL:    cfg.Minio.UseSSL,
		Bucket:    cfg.Minio.Bucket,
		BaseURL:   cfg.Minio.BaseURL,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("blob store", "error", err)
		os.Exit(1)
	}

	// Event store (SQLite): pipeline events, request logs, heartbeats.
	eventsDB, err := dbopen.Open(cfg.Events.DBPath, dbopen.WithMkdirAll())
	if err != nil {
		logger.Error("events db", "error", err)
		os.Exit(1)
	}
	defer eventsDB.Close()
	if err := observability.Init(eventsDB); err != nil {
		logger.Error("events schema", "error", err)
		os.Exit(1)
	}
	events := observability.NewEventLogger(eventsDB, observability.WithEventLoggerLogger(logger))

	heartbeatInterval := 30 * time.Second
	hb := observability.NewHeartbeatWriter(eventsDB, workerName, heartbeatInterval)
	hb.Start(ctx)
	defer hb.Stop()

	retention := observability.RetentionConfig{
		EventsDays:     cfg.Events.RetentionDays,
		HTTPLogsDays:   cfg.Events.RetentionDays,
		HeartbeatsDays: cfg.Events.RetentionDays,
	}
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			if err := observability.Cleanup(ctx, eventsDB, retention); err != nil {
				logger.Warn("event retention cleanup", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	// Model clients. Empty endpoints degrade to noop implementations,
	// which keeps local development usable without GPUs.
	embedder := embed.New(embed.Config{
		Endpoint:  cfg.Model.EmbedEndpoint,
		Model:     cfg.Model.EmbedModel,
		APIKey:    cfg.Model.APIKey,
		Dimension: cfg.Pipeline.EmbedDimension,
		Timeout:   cfg.Model.Timeout,
		Logger:    logger,
	})
	extractor := extract.New(extract.Config{
		Endpoint: cfg.Model.ExtractEndpoint,
		Model:    cfg.Model.ExtractModel,
		APIKey:   cfg.Model.APIKey,
		Timeout:  cfg.Model.Timeout,
		Logger:   logger,
	})
	chunk := chunker.New(chunker.Config{Embedder: embedder, Logger: logger})

	ingestSvc := ingest.New(ingest.Config{
		Extractor: extractor,
		Chunker:   chunk,
		Embedder:  embedder,
		Documents: docs,
		Vectors:   vecs,
		Blobs:     blobs,
		Events:    events,
		Bucket:    cfg.Minio.Bucket,
		Logger:    logger,
	})
	simSvc := similarity.New(similarity.Config{
		Documents: docs,
		Embedder:  embedder,
		Vectors:   vecs,
		Threshold: cfg.Pipeline.SimilarityThreshold,
		Limit:     cfg.Pipeline.SimilarityLimit,
		Language:  cfg.Pipeline.Language,
		Logger:    logger,
	})
	scoreSvc := scoring.New(scoring.Config{
		Documents: docs,
		Blobs:     blobs,
		Prompter:  extractor,
		Logger:    logger,
	})
	chatSvc := chat.New(chat.Config{
		Documents: docs,
		Prompter:  extractor,
		Logger:    logger,
	})

	api := httpapi.New(httpapi.Config{
		Ingest:     ingestSvc,
		Documents:  docs,
		Similarity: simSvc,
		Scoring:    scoreSvc,
		Chat:       chatSvc,
		Events:     events,
		Blobs:      blobs,
		Health: func(ctx context.Context) (*observability.HeartbeatStatus, error) {
			return observability.LatestHeartbeat(ctx, eventsDB, workerName, 3*heartbeatInterval)
		},
		Logger: logger,
	})

	if cfg.MCP.Enabled {
		mcpSrv := mcptool.NewServer(mcptool.Config{
			Embedder:  embedder,
			Vectors:   vecs,
			Documents: docs,
			Events:    events,
			Threshold: cfg.Pipeline.SimilarityThreshold,
			Limit:     cfg.Pipeline.SimilarityLimit,
			Logger:    logger,
		})
		go func() {
			logger.Info("mcp stdio starting")
			if err := mcptool.Serve(ctx, mcpSrv); err != nil && ctx.Err() == nil {
				logger.Error("mcp stdio", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "addr", cfg.Listen, "table", cfg.Postgres.Table)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	logger.Info("server stopped")
}
