// Package chat answers questions about a single stored innovation,
// grounded in the document's extracted sections. Only the document's
// owner may ask; chat history lives with the caller, not here.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"innoscan/docstore"
	"innoscan/extract"
	"innoscan/ingest"
)

// ErrForbidden is returned when the requester does not own the document.
var ErrForbidden = errors.New("chat: requester is not the document owner")

// Documents loads document rows.
type Documents interface {
	Get(ctx context.Context, id string) (docstore.Document, error)
}

// Prompter is the generative surface of the extraction client.
type Prompter interface {
	Prompt(ctx context.Context, pdf []byte, prompt string) (string, error)
}

// Config wires a Service.
type Config struct {
	Documents Documents
	Prompter  Prompter

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Service answers grounded questions. Safe for concurrent use.
type Service struct {
	cfg Config
	log *slog.Logger
}

// New builds a Service.
func New(cfg Config) *Service {
	cfg.defaults()
	return &Service{cfg: cfg, log: cfg.Logger}
}

// Reply carries the answer and the section text it was grounded in.
type Reply struct {
	DocumentID string            `json:"document_id"`
	Answer     string            `json:"answer"`
	Sections   map[string]string `json:"sections"`
}

// Answer responds to a question about documentID on behalf of
// requester. The requester must match the document owner under identity
// normalisation, the same rule that derives document ids.
func (s *Service) Answer(ctx context.Context, documentID, requester, question string) (Reply, error) {
	if strings.TrimSpace(question) == "" {
		return Reply{}, fmt.Errorf("chat: question is required")
	}

	doc, err := s.cfg.Documents.Get(ctx, documentID)
	if err != nil {
		return Reply{}, fmt.Errorf("chat: load document: %w", err)
	}
	if ingest.Normalize(requester) != ingest.Normalize(doc.Owner) {
		return Reply{}, ErrForbidden
	}

	sections := extract.Sections{
		Background:  doc.Background,
		Purpose:     doc.Purpose,
		Description: doc.Description,
	}
	grounded := groundedSections(sections)

	answer, err := s.cfg.Prompter.Prompt(ctx, nil, buildPrompt(doc.Title, grounded, question))
	if err != nil {
		return Reply{}, fmt.Errorf("chat: model: %w", err)
	}
	s.log.Debug("chat answered", "document_id", documentID)

	return Reply{DocumentID: documentID, Answer: answer, Sections: grounded}, nil
}

// groundedSections keeps only the sections extraction actually found.
func groundedSections(s extract.Sections) map[string]string {
	out := make(map[string]string)
	for key, text := range s.Map() {
		if extract.IsFound(text) && text != "" {
			out[key] = text
		}
	}
	return out
}

func buildPrompt(title string, sections map[string]string, question string) string {
	var b strings.Builder
	b.WriteString("Answer the question using only the innovation document below.\n")
	b.WriteString("If the document does not contain the answer, say so.\n\n")
	fmt.Fprintf(&b, "Title: %s\n", title)
	for _, key := range extract.SectionKeys {
		if text, ok := sections[key]; ok {
			fmt.Fprintf(&b, "\n%s:\n%s\n", key, text)
		}
	}
	fmt.Fprintf(&b, "\nQuestion: %s", question)
	return b.String()
}
