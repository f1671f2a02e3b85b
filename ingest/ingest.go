// Package ingest runs the document ingestion pipeline: validate the
// uploaded PDF, store it, extract its sections, upsert the document
// row, then chunk and embed the section text into the vector store.
//
// Ingestion is idempotent per identity. The same title and owner always
// derive the same document id, and every stage writes with upsert
// semantics, so re-submitting a document fully replaces its previous
// version and derived artifacts instead of accumulating duplicates.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"innoscan/chunker"
	"innoscan/docstore"
	"innoscan/extract"
	"innoscan/vecstore"
)

// Terminal pipeline statuses.
const (
	// StatusSuccess: the document and all its embeddings are stored.
	StatusSuccess = "success"
	// StatusNoEmbedding: the document is stored but no section text
	// survived scrubbing, so there is nothing to embed. Distinct from
	// success and distinct from failure.
	StatusNoEmbedding = "success_no_embedding"
)

// ErrEmbeddingExhausted marks an ingestion that failed after the
// embedding retry budget ran out. The document row and blob written
// before the failure stay in place with ingest_status=partial.
var ErrEmbeddingExhausted = errors.New("ingest: embedding retries exhausted")

// Extractor is the section-extraction surface the pipeline needs.
type Extractor interface {
	Sections(ctx context.Context, pdf []byte, keys []string) (extract.Output, error)
}

// Chunks splits section text into embeddable chunks.
type Chunks interface {
	Chunk(ctx context.Context, text string) ([]string, error)
}

// Embedder turns chunk text into vectors.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Documents is the document-store surface the pipeline needs.
type Documents interface {
	Upsert(ctx context.Context, d docstore.Document) error
	SetStatus(ctx context.Context, id, status string) error
}

// Vectors is the embedding-store surface the pipeline needs.
type Vectors interface {
	UpsertEmbeddings(ctx context.Context, documentID string, chunks []vecstore.Chunk) error

	// EnsureIndex creates the ANN index if absent. Creation failure is
	// not fatal, queries fall back to a sequential scan.
	EnsureIndex(ctx context.Context)
}

// Blobs uploads the original PDF.
type Blobs interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Events receives per-stage pipeline events. Implementations must not
// block ingestion on failure.
type Events interface {
	LogStage(ctx context.Context, documentID, stage, detail string, success bool)
}

// Config wires a Service.
type Config struct {
	Extractor Extractor
	Chunker   Chunks
	Embedder  Embedder
	Documents Documents
	Vectors   Vectors
	Blobs     Blobs

	// Events is optional; nil disables stage events.
	Events Events

	// Bucket is recorded on the document row.
	Bucket string

	// Validate checks the uploaded bytes and returns the page count.
	// Defaults to ValidatePDF.
	Validate func([]byte) (int, error)

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Validate == nil {
		c.Validate = ValidatePDF
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Service orchestrates the ingestion pipeline. Safe for concurrent use;
// concurrent submissions of the same identity are serialised.
type Service struct {
	cfg   Config
	log   *slog.Logger
	locks *keyedMutex
}

// New builds a Service.
func New(cfg Config) *Service {
	cfg.defaults()
	return &Service{cfg: cfg, log: cfg.Logger, locks: newKeyedMutex()}
}

// Submission is one uploaded document.
type Submission struct {
	Title string
	Owner string
	PDF   []byte
}

// Result reports what ingestion did.
type Result struct {
	DocumentID  string           `json:"document_id"`
	Status      string           `json:"status"`
	Pages       int              `json:"pages"`
	Chunks      int              `json:"chunks"`
	StorageLink string           `json:"storage_link"`
	Sections    extract.Sections `json:"sections"`
}

// event records one pipeline stage. detail, when non-nil, is marshaled
// to JSON for the event's detail column.
func (s *Service) event(ctx context.Context, id, stage string, detail any, ok bool) {
	if s.cfg.Events == nil {
		return
	}
	var payload string
	if detail != nil {
		if b, err := json.Marshal(detail); err == nil {
			payload = string(b)
		}
	}
	s.cfg.Events.LogStage(ctx, id, stage, payload, ok)
}

// Run executes the full pipeline for one submission.
//
// Failure semantics: PDF validation and blob upload fail the request
// before any database write. Extraction failure is not fatal; the
// sections stay at the NOT_FOUND sentinel and the document is still
// stored and searchable by title and owner. Zero chunks end the run
// with StatusNoEmbedding. Embedding exhaustion and vector-store errors
// are fatal and leave the row at ingest_status=partial for cleanup.
func (s *Service) Run(ctx context.Context, sub Submission) (Result, error) {
	if sub.Title == "" || sub.Owner == "" {
		return Result{}, fmt.Errorf("ingest: title and owner are required")
	}
	id := DocumentID(sub.Title, sub.Owner)

	unlock := s.locks.lock(id)
	defer unlock()

	log := s.log.With("document_id", id)

	pages, err := s.cfg.Validate(sub.PDF)
	if err != nil {
		s.event(ctx, id, "validate", map[string]any{"error": err.Error()}, false)
		return Result{}, err
	}
	s.event(ctx, id, "validate", map[string]any{"pages": pages}, true)

	link, err := s.cfg.Blobs.Put(ctx, id+".pdf", sub.PDF, "application/pdf")
	if err != nil {
		s.event(ctx, id, "upload", map[string]any{"error": err.Error()}, false)
		return Result{}, fmt.Errorf("ingest: upload: %w", err)
	}
	s.event(ctx, id, "upload", nil, true)

	sections := s.extractSections(ctx, id, sub.PDF, log)

	doc := docstore.Document{
		ID:           id,
		Title:        sub.Title,
		Owner:        sub.Owner,
		Bucket:       s.cfg.Bucket,
		StorageLink:  link,
		Background:   sections.Background,
		Purpose:      sections.Purpose,
		Description:  sections.Description,
		IngestStatus: docstore.StatusPending,
	}
	if err := s.cfg.Documents.Upsert(ctx, doc); err != nil {
		s.event(ctx, id, "upsert", map[string]any{"error": err.Error()}, false)
		return Result{}, fmt.Errorf("ingest: upsert: %w", err)
	}
	s.event(ctx, id, "upsert", nil, true)

	res := Result{DocumentID: id, Pages: pages, StorageLink: link, Sections: sections}

	chunks, err := s.chunkSections(ctx, sections)
	if err != nil {
		s.event(ctx, id, "chunk", map[string]any{"error": err.Error()}, false)
		return Result{}, fmt.Errorf("ingest: chunk: %w", err)
	}
	if len(chunks) == 0 {
		log.Warn("no content chunks for embedding")
		s.event(ctx, id, "chunk", map[string]any{"chunks": 0}, true)
		if err := s.cfg.Documents.SetStatus(ctx, id, docstore.StatusNoContent); err != nil {
			return Result{}, fmt.Errorf("ingest: set status: %w", err)
		}
		res.Status = StatusNoEmbedding
		return res, nil
	}
	s.event(ctx, id, "chunk", map[string]any{"chunks": len(chunks)}, true)
	res.Chunks = len(chunks)

	// From here on the row exists but its embeddings do not.
	if err := s.cfg.Documents.SetStatus(ctx, id, docstore.StatusPartial); err != nil {
		return Result{}, fmt.Errorf("ingest: set status: %w", err)
	}

	vectors, err := s.cfg.Embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		s.event(ctx, id, "embed", map[string]any{"error": err.Error()}, false)
		return Result{}, fmt.Errorf("%w: %w", ErrEmbeddingExhausted, err)
	}
	s.event(ctx, id, "embed", map[string]any{"vectors": len(vectors)}, true)

	stored := make([]vecstore.Chunk, len(chunks))
	for i := range chunks {
		stored[i] = vecstore.Chunk{Content: chunks[i], Embedding: vectors[i]}
	}
	if err := s.cfg.Vectors.UpsertEmbeddings(ctx, id, stored); err != nil {
		s.event(ctx, id, "store", map[string]any{"error": err.Error()}, false)
		return Result{}, fmt.Errorf("ingest: store embeddings: %w", err)
	}
	s.cfg.Vectors.EnsureIndex(ctx)

	if err := s.cfg.Documents.SetStatus(ctx, id, docstore.StatusComplete); err != nil {
		return Result{}, fmt.Errorf("ingest: set status: %w", err)
	}
	s.event(ctx, id, "complete", nil, true)
	log.Info("document ingested", "pages", pages, "chunks", len(chunks))

	res.Status = StatusSuccess
	return res, nil
}

func (s *Service) extractSections(ctx context.Context, id string, pdf []byte, log *slog.Logger) extract.Sections {
	out, err := s.cfg.Extractor.Sections(ctx, pdf, extract.SectionKeys)
	if err != nil {
		// Not fatal: a document with sentinel sections is still worth
		// storing and searchable by title and owner.
		log.Warn("section extraction failed, keeping sentinels", "error", err)
		s.event(ctx, id, "extract", map[string]any{"error": err.Error()}, false)
		return extract.SectionsFromMap(nil)
	}
	sections := extract.ParseSections(out)
	s.event(ctx, id, "extract", nil, !sections.AllMissing())
	return sections
}

func (s *Service) chunkSections(ctx context.Context, sections extract.Sections) ([]string, error) {
	var all []string
	for _, text := range []string{sections.Background, sections.Purpose, sections.Description} {
		chunks, err := s.cfg.Chunker.Chunk(ctx, text)
		if err != nil {
			return nil, err
		}
		all = append(all, chunks...)
	}
	return all, nil
}

var _ Chunks = (*chunker.Chunker)(nil)
