// Package docstore persists innovation documents, their similarity
// results and their rubric scores in Postgres.
//
// One parent table holds the documents; a <table>_results table holds
// the current similarity report per document and a <table>_scoring
// table holds one rubric row per document. Child rows reference the
// parent with ON DELETE CASCADE, so Delete on a document clears
// everything derived from it, embeddings included (see vecstore).
package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"innoscan/vecstore"
)

// ErrNotFound is returned when a document id has no row.
var ErrNotFound = errors.New("docstore: document not found")

// Ingestion status values. A document is created pending, moves to
// partial once its metadata row exists, and ends complete or no_content.
// Anything still pending or partial after the pipeline returns marks an
// interrupted run.
const (
	StatusPending   = "pending"
	StatusPartial   = "partial"
	StatusComplete  = "complete"
	StatusNoContent = "no_content"
)

// Document is one stored innovation.
type Document struct {
	ID           string
	Title        string
	Owner        string
	Bucket       string
	StorageLink  string
	Background   string
	Purpose      string
	Description  string
	IngestStatus string
	UpdatedAt    time.Time
}

// SimilarityResult is one row of a document's similarity report.
type SimilarityResult struct {
	MatchedID   string
	Score       float64
	StorageLink string
	Owner       string
	CreatedAt   time.Time
}

// Score is the rubric evaluation of a document. The nine components are
// graded 1 to 5; Raw keeps the model's response verbatim for audit.
type Score struct {
	Originality int
	Urgency     int
	Depth       int
	Impact      int
	Feasibility int
	DataUse     int
	Structure   int
	Language    int
	References  int
	Total       int
	Raw         string
	CreatedAt   time.Time
}

// Config configures a Store.
type Config struct {
	// DSN is the Postgres connection string. Ignored by NewWithPool.
	DSN string

	// Table is the parent document table name.
	Table string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Store wraps a pgx pool for one document table. Safe for concurrent use.
type Store struct {
	pool  *pgxpool.Pool
	table string
	log   *slog.Logger
}

// Connect opens a dedicated pool.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()
	if !vecstore.ValidTableName(cfg.Table) {
		return nil, fmt.Errorf("docstore: invalid table name %q", cfg.Table)
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("docstore: connect: %w", err)
	}
	return &Store{pool: pool, table: cfg.Table, log: cfg.Logger}, nil
}

// NewWithPool wraps an existing pool, sharing connections with other
// stores on the same database.
func NewWithPool(pool *pgxpool.Pool, cfg Config) (*Store, error) {
	cfg.defaults()
	if !vecstore.ValidTableName(cfg.Table) {
		return nil, fmt.Errorf("docstore: invalid table name %q", cfg.Table)
	}
	return &Store{pool: pool, table: cfg.Table, log: cfg.Logger}, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

func (s *Store) resultsTable() string { return s.table + "_results" }
func (s *Store) scoringTable() string { return s.table + "_scoring" }

// EnsureSchema creates the document, results and scoring tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id            TEXT PRIMARY KEY,
				title         TEXT NOT NULL,
				owner_name    TEXT NOT NULL,
				bucket        TEXT NOT NULL DEFAULT '',
				storage_link  TEXT NOT NULL DEFAULT '',
				background    TEXT NOT NULL DEFAULT '',
				purpose       TEXT NOT NULL DEFAULT '',
				description   TEXT NOT NULL DEFAULT '',
				ingest_status TEXT NOT NULL DEFAULT '%s',
				updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
			)`, s.table, StatusPending),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id           BIGSERIAL PRIMARY KEY,
				document_id  TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
				matched_id   TEXT NOT NULL,
				score        DOUBLE PRECISION NOT NULL,
				storage_link TEXT NOT NULL DEFAULT '',
				owner_name   TEXT NOT NULL DEFAULT '',
				created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
			)`, s.resultsTable(), s.table),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				document_id TEXT PRIMARY KEY REFERENCES %s(id) ON DELETE CASCADE,
				originality INTEGER,
				urgency     INTEGER,
				depth       INTEGER,
				impact      INTEGER,
				feasibility INTEGER,
				data_use    INTEGER,
				structure   INTEGER,
				language    INTEGER,
				refs        INTEGER,
				total       INTEGER,
				raw         TEXT NOT NULL DEFAULT '',
				created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
			)`, s.scoringTable(), s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("docstore: ensure schema: %w", err)
		}
	}
	s.log.Debug("document schema ready", "table", s.table)
	return nil
}

// Upsert writes the document, fully replacing any row with the same id.
func (s *Store) Upsert(ctx context.Context, d Document) error {
	stmt := fmt.Sprintf(`
		INSERT INTO %s
			(id, title, owner_name, bucket, storage_link, background, purpose, description, ingest_status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			owner_name = EXCLUDED.owner_name,
			bucket = EXCLUDED.bucket,
			storage_link = EXCLUDED.storage_link,
			background = EXCLUDED.background,
			purpose = EXCLUDED.purpose,
			description = EXCLUDED.description,
			ingest_status = EXCLUDED.ingest_status,
			updated_at = now()`, s.table)
	status := d.IngestStatus
	if status == "" {
		status = StatusPending
	}
	_, err := s.pool.Exec(ctx, stmt,
		d.ID, d.Title, d.Owner, d.Bucket, d.StorageLink,
		d.Background, d.Purpose, d.Description, status)
	if err != nil {
		return fmt.Errorf("docstore: upsert %s: %w", d.ID, err)
	}
	return nil
}

// SetStatus advances the ingestion status of a document.
func (s *Store) SetStatus(ctx context.Context, id, status string) error {
	stmt := fmt.Sprintf(`UPDATE %s SET ingest_status = $2, updated_at = now() WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, stmt, id, status)
	if err != nil {
		return fmt.Errorf("docstore: set status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get loads a document by id.
func (s *Store) Get(ctx context.Context, id string) (Document, error) {
	stmt := fmt.Sprintf(`
		SELECT id, title, owner_name, bucket, storage_link, background, purpose, description, ingest_status, updated_at
		FROM %s WHERE id = $1`, s.table)
	var d Document
	err := s.pool.QueryRow(ctx, stmt, id).Scan(
		&d.ID, &d.Title, &d.Owner, &d.Bucket, &d.StorageLink,
		&d.Background, &d.Purpose, &d.Description, &d.IngestStatus, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("docstore: get %s: %w", id, err)
	}
	return d, nil
}

// List returns all documents ordered by most recently updated.
func (s *Store) List(ctx context.Context) ([]Document, error) {
	stmt := fmt.Sprintf(`
		SELECT id, title, owner_name, bucket, storage_link, background, purpose, description, ingest_status, updated_at
		FROM %s ORDER BY updated_at DESC`, s.table)
	rows, err := s.pool.Query(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("docstore: list: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Title, &d.Owner, &d.Bucket, &d.StorageLink,
			&d.Background, &d.Purpose, &d.Description, &d.IngestStatus, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("docstore: scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Delete removes a document. Embeddings, similarity results and scores
// go with it through the FK cascade.
func (s *Store) Delete(ctx context.Context, id string) error {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, stmt, id)
	if err != nil {
		return fmt.Errorf("docstore: delete %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceSimilarityResults swaps a document's similarity report for the
// given set in one transaction. An empty set still clears previous rows:
// a re-run that finds nothing must not leave stale matches behind.
func (s *Store) ReplaceSimilarityResults(ctx context.Context, id string, results []SimilarityResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("docstore: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	del := fmt.Sprintf(`DELETE FROM %s WHERE document_id = $1`, s.resultsTable())
	if _, err := tx.Exec(ctx, del, id); err != nil {
		return fmt.Errorf("docstore: clear results for %s: %w", id, err)
	}
	ins := fmt.Sprintf(`
		INSERT INTO %s (document_id, matched_id, score, storage_link, owner_name)
		VALUES ($1, $2, $3, $4, $5)`, s.resultsTable())
	for _, r := range results {
		if _, err := tx.Exec(ctx, ins, id, r.MatchedID, r.Score, r.StorageLink, r.Owner); err != nil {
			return fmt.Errorf("docstore: insert result for %s: %w", id, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("docstore: commit results: %w", err)
	}
	s.log.Debug("similarity results replaced", "document_id", id, "count", len(results))
	return nil
}

// SimilarityResults returns the current report for a document, best
// match first.
func (s *Store) SimilarityResults(ctx context.Context, id string) ([]SimilarityResult, error) {
	stmt := fmt.Sprintf(`
		SELECT matched_id, score, storage_link, owner_name, created_at
		FROM %s WHERE document_id = $1 ORDER BY score DESC`, s.resultsTable())
	rows, err := s.pool.Query(ctx, stmt, id)
	if err != nil {
		return nil, fmt.Errorf("docstore: results for %s: %w", id, err)
	}
	defer rows.Close()

	var out []SimilarityResult
	for rows.Next() {
		var r SimilarityResult
		if err := rows.Scan(&r.MatchedID, &r.Score, &r.StorageLink, &r.Owner, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("docstore: scan result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertScore writes a document's rubric row, replacing a previous one.
func (s *Store) UpsertScore(ctx context.Context, id string, sc Score) error {
	stmt := fmt.Sprintf(`
		INSERT INTO %s
			(document_id, originality, urgency, depth, impact, feasibility, data_use, structure, language, refs, total, raw, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
		ON CONFLICT (document_id) DO UPDATE SET
			originality = EXCLUDED.originality,
			urgency = EXCLUDED.urgency,
			depth = EXCLUDED.depth,
			impact = EXCLUDED.impact,
			feasibility = EXCLUDED.feasibility,
			data_use = EXCLUDED.data_use,
			structure = EXCLUDED.structure,
			language = EXCLUDED.language,
			refs = EXCLUDED.refs,
			total = EXCLUDED.total,
			raw = EXCLUDED.raw,
			created_at = now()`, s.scoringTable())
	_, err := s.pool.Exec(ctx, stmt, id,
		sc.Originality, sc.Urgency, sc.Depth, sc.Impact, sc.Feasibility,
		sc.DataUse, sc.Structure, sc.Language, sc.References, sc.Total, sc.Raw)
	if err != nil {
		return fmt.Errorf("docstore: upsert score %s: %w", id, err)
	}
	return nil
}

// GetScore loads the rubric row for a document.
func (s *Store) GetScore(ctx context.Context, id string) (Score, error) {
	stmt := fmt.Sprintf(`
		SELECT originality, urgency, depth, impact, feasibility, data_use, structure, language, refs, total, raw, created_at
		FROM %s WHERE document_id = $1`, s.scoringTable())
	var sc Score
	err := s.pool.QueryRow(ctx, stmt, id).Scan(
		&sc.Originality, &sc.Urgency, &sc.Depth, &sc.Impact, &sc.Feasibility,
		&sc.DataUse, &sc.Structure, &sc.Language, &sc.References, &sc.Total, &sc.Raw, &sc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Score{}, ErrNotFound
	}
	if err != nil {
		return Score{}, fmt.Errorf("docstore: get score %s: %w", id, err)
	}
	return sc, nil
}
