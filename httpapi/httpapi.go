// Package httpapi exposes the innovation pipeline over HTTP.
//
// Usage:
//
//	api := httpapi.New(httpapi.Config{
//		Ingest:     ingestSvc,
//		Documents:  docs,
//		Similarity: simSvc,
//		Scoring:    scoreSvc,
//		Chat:       chatSvc,
//	})
//	http.ListenAndServe(":8080", api.Router())
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"innoscan/chat"
	"innoscan/docstore"
	"innoscan/ingest"
	"innoscan/observability"
	"innoscan/similarity"
)

// Uploads larger than this are rejected before parsing.
const maxUploadBytes = 32 << 20

// Ingester runs the ingestion pipeline for one upload.
type Ingester interface {
	Run(ctx context.Context, sub ingest.Submission) (ingest.Result, error)
}

// Documents is the document-store surface the API needs.
type Documents interface {
	Get(ctx context.Context, id string) (docstore.Document, error)
	List(ctx context.Context) ([]docstore.Document, error)
	Delete(ctx context.Context, id string) error
	SimilarityResults(ctx context.Context, id string) ([]docstore.SimilarityResult, error)
}

// Similarity runs the similarity pipeline.
type Similarity interface {
	Run(ctx context.Context, documentID string) (similarity.Report, error)
}

// Scoring runs and reads rubric evaluations.
type Scoring interface {
	Score(ctx context.Context, documentID string) (docstore.Score, error)
	Get(ctx context.Context, documentID string) (docstore.Score, error)
}

// Chatter answers grounded questions about a document.
type Chatter interface {
	Answer(ctx context.Context, documentID, requester, question string) (chat.Reply, error)
}

// Events reads pipeline events and records request logs.
type Events interface {
	RecentFor(ctx context.Context, documentID string, limit int) ([]observability.PipelineEvent, error)
	LogRequest(ctx context.Context, method, path string, status int, duration time.Duration, remoteAddr string)
}

// Blobs removes stored PDFs when their document is deleted.
type Blobs interface {
	Delete(ctx context.Context, key string) error
}

// Config wires a Service.
type Config struct {
	Ingest     Ingester
	Documents  Documents
	Similarity Similarity
	Scoring    Scoring
	Chat       Chatter

	// Events is optional; nil disables request logs and the events
	// endpoint returns empty lists.
	Events Events

	// Blobs is optional; nil skips PDF removal on delete.
	Blobs Blobs

	// Health reports the latest worker heartbeat. Optional.
	Health func(ctx context.Context) (*observability.HeartbeatStatus, error)

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Service is the HTTP adapter over the pipeline services.
type Service struct {
	cfg Config
	log *slog.Logger
}

// New builds a Service.
func New(cfg Config) *Service {
	cfg.defaults()
	return &Service{cfg: cfg, log: cfg.Logger}
}

// Router builds the chi router with middleware and all routes mounted.
func (s *Service) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/health", s.handleHealth)

	r.Route("/innovations", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Get("/", s.handleList)
		r.Route("/{document_id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Delete("/", s.handleDelete)
			r.Post("/similarity", s.handleSimilarityRun)
			r.Get("/similarity", s.handleSimilarityGet)
			r.Post("/score", s.handleScoreRun)
			r.Get("/score", s.handleScoreGet)
			r.Post("/chat", s.handleChat)
			r.Get("/events", s.handleEvents)
		})
	})
	return r
}

// requestLog records one http_request_logs row per request.
func (s *Service) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Events == nil {
			next.ServeHTTP(w, r)
			return
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.cfg.Events.LogRequest(r.Context(), r.Method, r.URL.Path, ww.Status(), time.Since(start), r.RemoteAddr)
	})
}
