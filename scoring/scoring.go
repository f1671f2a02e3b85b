// Package scoring grades a stored innovation document against a fixed
// nine-component rubric by prompting the multimodal model with the
// original PDF, salvaging the numeric response, and persisting one
// rubric row per document.
package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"innoscan/docstore"
	"innoscan/extract"
)

// rubricKeys are the component names the model is asked to fill, each
// graded 1 to 5.
var rubricKeys = []string{
	"originality", "urgency", "depth",
	"impact", "feasibility", "data_use",
	"structure", "language", "references",
}

const rubricPrompt = `You are an innovation assessor. Read the attached document and grade it
on each component below with an integer from 1 (poor) to 5 (excellent).

- originality: how novel the idea is compared to common practice
- urgency: how pressing the problem it addresses is
- depth: how thoroughly the substance is worked out
- impact: expected effect if deployed
- feasibility: how realistic implementation is
- data_use: quality of supporting data and evidence
- structure: organisation of the document
- language: clarity of the writing
- references: quality of citations and sources

Respond with ONLY a JSON object containing the nine component keys with
integer values and a "total" key with their sum.`

// Documents loads document rows.
type Documents interface {
	Get(ctx context.Context, id string) (docstore.Document, error)
	UpsertScore(ctx context.Context, id string, sc docstore.Score) error
	GetScore(ctx context.Context, id string) (docstore.Score, error)
}

// Blobs fetches the stored PDF.
type Blobs interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// Prompter is the generative surface of the extraction client.
type Prompter interface {
	Prompt(ctx context.Context, pdf []byte, prompt string) (string, error)
}

// Config wires a Service.
type Config struct {
	Documents Documents
	Blobs     Blobs
	Prompter  Prompter

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Service scores documents. Safe for concurrent use.
type Service struct {
	cfg Config
	log *slog.Logger
}

// New builds a Service.
func New(cfg Config) *Service {
	cfg.defaults()
	return &Service{cfg: cfg, log: cfg.Logger}
}

// Score grades documentID and stores the rubric row, replacing any
// previous one. The model response is salvage-parsed; components the
// model omitted or mangled stay zero rather than failing the run, and
// the raw response is kept verbatim for audit.
func (s *Service) Score(ctx context.Context, documentID string) (docstore.Score, error) {
	if _, err := s.cfg.Documents.Get(ctx, documentID); err != nil {
		return docstore.Score{}, fmt.Errorf("scoring: load document: %w", err)
	}

	rc, err := s.cfg.Blobs.Get(ctx, documentID+".pdf")
	if err != nil {
		return docstore.Score{}, fmt.Errorf("scoring: fetch pdf: %w", err)
	}
	pdf, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return docstore.Score{}, fmt.Errorf("scoring: read pdf: %w", err)
	}

	raw, err := s.cfg.Prompter.Prompt(ctx, pdf, rubricPrompt)
	if err != nil {
		return docstore.Score{}, fmt.Errorf("scoring: model: %w", err)
	}

	sc := ParseScore(raw)
	if err := s.cfg.Documents.UpsertScore(ctx, documentID, sc); err != nil {
		return docstore.Score{}, fmt.Errorf("scoring: persist: %w", err)
	}
	s.log.Info("document scored", "document_id", documentID, "total", sc.Total)
	return sc, nil
}

// Get returns the stored rubric row for documentID.
func (s *Service) Get(ctx context.Context, documentID string) (docstore.Score, error) {
	return s.cfg.Documents.GetScore(ctx, documentID)
}

// ParseScore salvages a rubric from raw model output. Components the
// response lacks stay zero; the total falls back to the component sum
// when the model's own total is absent or unusable.
func ParseScore(raw string) docstore.Score {
	var sc docstore.Score
	sc.Raw = raw

	obj, ok := extract.ParseObject(raw)
	if !ok {
		return sc
	}

	values := make(map[string]int, len(rubricKeys))
	for _, key := range rubricKeys {
		values[key] = asInt(obj[key])
	}
	sc.Originality = values["originality"]
	sc.Urgency = values["urgency"]
	sc.Depth = values["depth"]
	sc.Impact = values["impact"]
	sc.Feasibility = values["feasibility"]
	sc.DataUse = values["data_use"]
	sc.Structure = values["structure"]
	sc.Language = values["language"]
	sc.References = values["references"]

	sc.Total = asInt(obj["total"])
	if sc.Total == 0 {
		for _, v := range values {
			sc.Total += v
		}
	}
	return sc
}

// asInt coerces the loose JSON types a model emits for numbers.
func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}
