// Package similarity runs the two-stage plagiarism check for one
// stored document: embedding recall against the vector store, then an
// LSA re-rank of the shortlist, persisted as the document's current
// similarity report.
package similarity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"innoscan/chunker"
	"innoscan/docstore"
	"innoscan/extract"
	"innoscan/lsa"
	"innoscan/vecstore"
)

// Documents is the document-store surface the pipeline needs.
type Documents interface {
	Get(ctx context.Context, id string) (docstore.Document, error)
	ReplaceSimilarityResults(ctx context.Context, id string, results []docstore.SimilarityResult) error
}

// Embedder embeds the query text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Vectors recalls candidate documents by embedding similarity.
type Vectors interface {
	Search(ctx context.Context, embedding []float32, limit int, threshold float64, excludeID string) ([]vecstore.Match, error)
}

// Config wires a Service.
type Config struct {
	Documents Documents
	Embedder  Embedder
	Vectors   Vectors

	// Threshold is the minimum recall cosine similarity; matches must
	// score strictly above it. Default 0.5.
	Threshold float64

	// Limit caps the recall shortlist. Default 10.
	Limit int

	// Language selects the stemmer for the LSA vectorizer.
	Language string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Threshold == 0 {
		c.Threshold = 0.5
	}
	if c.Limit == 0 {
		c.Limit = 10
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Match is one re-ranked similarity hit.
type Match struct {
	DocumentID     string  `json:"document_id"`
	Title          string  `json:"title"`
	Owner          string  `json:"owner"`
	StorageLink    string  `json:"storage_link"`
	EmbeddingScore float64 `json:"embedding_score"`
	Score          float64 `json:"score"`
}

// Report is the outcome of one similarity run.
type Report struct {
	DocumentID string  `json:"document_id"`
	NoMatches  bool    `json:"no_matches"`
	Matches    []Match `json:"matches"`
}

// Service runs similarity checks. Safe for concurrent use.
type Service struct {
	cfg Config
	log *slog.Logger
}

// New builds a Service.
func New(cfg Config) *Service {
	cfg.defaults()
	return &Service{cfg: cfg, log: cfg.Logger}
}

// queryText builds the scrubbed query for a document from its
// non-sentinel sections.
func queryText(d docstore.Document) string {
	s := extract.Sections{Background: d.Background, Purpose: d.Purpose, Description: d.Description}
	return chunker.Scrub(s.Concat())
}

// Run checks documentID against the rest of the corpus and replaces its
// stored similarity report with the outcome. A run that finds nothing
// still replaces the report, so stale matches from a previous version
// never survive.
func (s *Service) Run(ctx context.Context, documentID string) (Report, error) {
	doc, err := s.cfg.Documents.Get(ctx, documentID)
	if err != nil {
		return Report{}, fmt.Errorf("similarity: load document: %w", err)
	}

	report := Report{DocumentID: documentID}

	query := queryText(doc)
	if query == "" {
		s.log.Info("no usable section text for similarity", "document_id", documentID)
		report.NoMatches = true
		return report, s.persist(ctx, documentID, nil)
	}

	embedding, err := s.cfg.Embedder.Embed(ctx, query)
	if err != nil {
		return Report{}, fmt.Errorf("similarity: embed query: %w", err)
	}

	recalled, err := s.cfg.Vectors.Search(ctx, embedding, s.cfg.Limit, s.cfg.Threshold, documentID)
	if errors.Is(err, vecstore.ErrNoMatches) {
		report.NoMatches = true
		return report, s.persist(ctx, documentID, nil)
	}
	if err != nil {
		return Report{}, fmt.Errorf("similarity: recall: %w", err)
	}

	matches, err := s.rerank(ctx, query, recalled)
	if err != nil {
		return Report{}, err
	}
	report.Matches = matches

	results := make([]docstore.SimilarityResult, len(matches))
	for i, m := range matches {
		results[i] = docstore.SimilarityResult{
			MatchedID:   m.DocumentID,
			Score:       m.Score,
			StorageLink: m.StorageLink,
			Owner:       m.Owner,
		}
	}
	if err := s.persist(ctx, documentID, results); err != nil {
		return Report{}, err
	}
	s.log.Info("similarity report updated", "document_id", documentID, "matches", len(matches))
	return report, nil
}

func (s *Service) persist(ctx context.Context, id string, results []docstore.SimilarityResult) error {
	if err := s.cfg.Documents.ReplaceSimilarityResults(ctx, id, results); err != nil {
		return fmt.Errorf("similarity: persist report: %w", err)
	}
	return nil
}

// rerank loads the recalled documents and scores them against the query
// with the LSA matrix. Matches come back sorted by LSA score, best first.
func (s *Service) rerank(ctx context.Context, query string, recalled []vecstore.Match) ([]Match, error) {
	matches := make([]Match, 0, len(recalled))
	texts := make([]string, 0, len(recalled))
	for _, r := range recalled {
		cand, err := s.cfg.Documents.Get(ctx, r.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("similarity: load candidate %s: %w", r.DocumentID, err)
		}
		text := queryText(cand)
		if text == "" {
			// A recalled chunk with no surviving section text still
			// carries content; fall back to the matched chunk itself.
			text = r.Content
		}
		texts = append(texts, text)
		matches = append(matches, Match{
			DocumentID:     cand.ID,
			Title:          cand.Title,
			Owner:          cand.Owner,
			StorageLink:    cand.StorageLink,
			EmbeddingScore: r.Similarity,
		})
	}

	matrix, err := lsa.Rerank(query, texts, &lsa.Vectorizer{Language: s.cfg.Language})
	if err != nil {
		return nil, fmt.Errorf("similarity: rerank: %w", err)
	}
	for i := range matches {
		matches[i].Score = matrix.Score(i)
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	return matches, nil
}
