// Package vecstore persists chunk embeddings in Postgres with the
// pgvector extension and serves approximate-nearest-neighbour recall
// over them.
//
// Embeddings live in a <table>_embeddings table keyed by
// (document_id, content), so re-ingesting a document with identical
// chunk text is a no-op rather than a duplicate row. The document_id
// column cascades from the parent document table: deleting a document
// removes its vectors without a second round trip.
//
// Usage:
//
//	store, err := vecstore.Connect(ctx, vecstore.Config{
//		DSN:   "postgres://innoscan@localhost/innoscan",
//		Table: "innovations",
//	})
//	if err != nil { ... }
//	defer store.Close()
package vecstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

// ErrNoMatches is returned by Search when no stored embedding clears
// the similarity threshold.
var ErrNoMatches = errors.New("vecstore: no matches above threshold")

var tableNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidTableName reports whether name is usable as a table identifier.
// Table names are interpolated into DDL and query text, so anything
// outside the conservative lowercase set is rejected outright.
func ValidTableName(name string) bool {
	return tableNameRe.MatchString(name)
}

// Chunk is one embedded text span of a document.
type Chunk struct {
	Content   string
	Embedding []float32
}

// Match is a recall hit, aggregated per document with the best chunk
// similarity.
type Match struct {
	DocumentID string
	Content    string
	Similarity float64
}

// Config configures a Store.
type Config struct {
	// DSN is the Postgres connection string.
	DSN string

	// Table is the parent document table the embeddings reference.
	// Vectors are stored in <Table>_embeddings.
	Table string

	// Dimension is the embedding width. Defaults to 768.
	Dimension int

	// Logger receives schema and index events. Defaults to slog.Default().
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Dimension == 0 {
		c.Dimension = 768
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Store is a pgvector-backed embedding store. Safe for concurrent use.
type Store struct {
	pool  *pgxpool.Pool
	table string
	dim   int
	log   *slog.Logger
}

// Connect opens a connection pool and registers the pgvector types on
// every new connection. It does not create the schema; call
// EnsureSchema for that.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()
	if !ValidTableName(cfg.Table) {
		return nil, fmt.Errorf("vecstore: invalid table name %q", cfg.Table)
	}

	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("vecstore: parse dsn: %w", err)
	}
	pc.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("vecstore: connect: %w", err)
	}
	return &Store{pool: pool, table: cfg.Table, dim: cfg.Dimension, log: cfg.Logger}, nil
}

// NewWithPool wraps an existing pool. The pool must have pgvector types
// registered via an AfterConnect hook.
func NewWithPool(pool *pgxpool.Pool, cfg Config) (*Store, error) {
	cfg.defaults()
	if !ValidTableName(cfg.Table) {
		return nil, fmt.Errorf("vecstore: invalid table name %q", cfg.Table)
	}
	return &Store{pool: pool, table: cfg.Table, dim: cfg.Dimension, log: cfg.Logger}, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

func (s *Store) embTable() string { return s.table + "_embeddings" }

// EnsureSchema creates the vector extension and the embeddings table if
// they do not exist. The parent document table must already exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("vecstore: create extension: %w", err)
	}
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			document_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			content     TEXT NOT NULL,
			embedding   vector(%d) NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (document_id, content)
		)`, s.embTable(), s.table, s.dim)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("vecstore: create table %s: %w", s.embTable(), err)
	}
	s.log.Debug("embeddings schema ready", "table", s.embTable(), "dimension", s.dim)
	return nil
}

// EnsureIndex creates an HNSW cosine index over the embeddings. Index
// creation can fail on pgvector builds without HNSW support or when the
// host lacks maintenance memory; sequential-scan recall still works, so
// failure is logged and swallowed.
func (s *Store) EnsureIndex(ctx context.Context) {
	stmt := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s_hnsw ON %s USING hnsw (embedding vector_cosine_ops) WITH (m = 24, ef_construction = 100)`,
		s.embTable(), s.embTable())
	if _, err := s.pool.Exec(ctx, stmt); err != nil {
		s.log.Warn("hnsw index creation failed, recall falls back to sequential scan",
			"table", s.embTable(), "error", err)
		return
	}
	s.log.Debug("hnsw index ready", "table", s.embTable())
}

// UpsertEmbeddings stores the chunks of one document in a single
// transaction. Chunks whose (document_id, content) pair already exists
// are overwritten in place.
func (s *Store) UpsertEmbeddings(ctx context.Context, documentID string, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for i, c := range chunks {
		if len(c.Embedding) != s.dim {
			return fmt.Errorf("vecstore: chunk %d has dimension %d, want %d", i, len(c.Embedding), s.dim)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("vecstore: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (document_id, content, embedding)
		VALUES ($1, $2, $3)
		ON CONFLICT (document_id, content)
		DO UPDATE SET embedding = EXCLUDED.embedding, created_at = now()`, s.embTable())
	for _, c := range chunks {
		if _, err := tx.Exec(ctx, stmt, documentID, c.Content, pgvector.NewVector(c.Embedding)); err != nil {
			return fmt.Errorf("vecstore: upsert chunk for %s: %w", documentID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("vecstore: commit: %w", err)
	}
	s.log.Debug("embeddings upserted", "document_id", documentID, "chunks", len(chunks))
	return nil
}

// DeleteDocument removes all embeddings of a document. Deleting a
// document through the parent table cascades here automatically; this
// is for callers that manage the embeddings independently.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE document_id = $1`, s.embTable())
	if _, err := s.pool.Exec(ctx, stmt, documentID); err != nil {
		return fmt.Errorf("vecstore: delete %s: %w", documentID, err)
	}
	return nil
}

// Search recalls up to limit documents whose best chunk clears the
// cosine similarity threshold (strictly greater). excludeID removes the
// query's own document from the result. Returns ErrNoMatches when
// nothing qualifies.
func (s *Store) Search(ctx context.Context, embedding []float32, limit int, threshold float64, excludeID string) ([]Match, error) {
	if len(embedding) != s.dim {
		return nil, fmt.Errorf("vecstore: query dimension %d, want %d", len(embedding), s.dim)
	}
	query := fmt.Sprintf(`
		WITH scored AS (
			SELECT document_id, content, 1 - (embedding <=> $1) AS similarity
			FROM %s
			WHERE document_id <> $2
		), best AS (
			SELECT DISTINCT ON (document_id) document_id, content, similarity
			FROM scored
			ORDER BY document_id, similarity DESC
		)
		SELECT document_id, content, similarity
		FROM best
		WHERE similarity > $3
		ORDER BY similarity DESC
		LIMIT $4`, s.embTable())

	rows, err := s.pool.Query(ctx, query, pgvector.NewVector(embedding), excludeID, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("vecstore: search: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.DocumentID, &m.Content, &m.Similarity); err != nil {
			return nil, fmt.Errorf("vecstore: scan match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vecstore: search rows: %w", err)
	}
	if len(matches) == 0 {
		return nil, ErrNoMatches
	}
	return matches, nil
}
