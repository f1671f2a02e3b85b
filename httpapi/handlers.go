package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"innoscan/chat"
	"innoscan/docstore"
	"innoscan/ingest"
)

type documentResponse struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Owner        string    `json:"owner"`
	StorageLink  string    `json:"storage_link"`
	Background   string    `json:"background"`
	Purpose      string    `json:"purpose"`
	Description  string    `json:"description"`
	IngestStatus string    `json:"ingest_status"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toDocumentResponse(d docstore.Document) documentResponse {
	return documentResponse{
		ID:           d.ID,
		Title:        d.Title,
		Owner:        d.Owner,
		StorageLink:  d.StorageLink,
		Background:   d.Background,
		Purpose:      d.Purpose,
		Description:  d.Description,
		IngestStatus: d.IngestStatus,
		UpdatedAt:    d.UpdatedAt,
	}
}

type similarityResultResponse struct {
	MatchedID   string    `json:"matched_id"`
	Score       float64   `json:"score"`
	StorageLink string    `json:"storage_link"`
	Owner       string    `json:"owner"`
	CreatedAt   time.Time `json:"created_at"`
}

type scoreResponse struct {
	Originality int       `json:"originality"`
	Urgency     int       `json:"urgency"`
	Depth       int       `json:"depth"`
	Impact      int       `json:"impact"`
	Feasibility int       `json:"feasibility"`
	DataUse     int       `json:"data_use"`
	Structure   int       `json:"structure"`
	Language    int       `json:"language"`
	References  int       `json:"references"`
	Total       int       `json:"total"`
	CreatedAt   time.Time `json:"created_at"`
}

func toScoreResponse(sc docstore.Score) scoreResponse {
	return scoreResponse{
		Originality: sc.Originality,
		Urgency:     sc.Urgency,
		Depth:       sc.Depth,
		Impact:      sc.Impact,
		Feasibility: sc.Feasibility,
		DataUse:     sc.DataUse,
		Structure:   sc.Structure,
		Language:    sc.Language,
		References:  sc.References,
		Total:       sc.Total,
		CreatedAt:   sc.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ingest.ErrInvalidPDF):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// requester returns the caller identity from the X-Innovator header.
func requester(r *http.Request) string {
	return r.Header.Get("X-Innovator")
}

// handleSubmit ingests one uploaded PDF.
// POST /innovations, multipart form: title + file, owner in X-Innovator.
func (s *Service) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid multipart form: %w", err))
		return
	}
	title := r.FormValue("title")
	owner := requester(r)
	if owner == "" {
		owner = r.FormValue("owner")
	}
	if title == "" || owner == "" {
		writeError(w, http.StatusBadRequest, errors.New("title and X-Innovator are required"))
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("file field is required"))
		return
	}
	defer file.Close()
	pdf, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read upload: %w", err))
		return
	}

	res, err := s.cfg.Ingest.Run(r.Context(), ingest.Submission{Title: title, Owner: owner, PDF: pdf})
	if err != nil {
		s.log.Error("ingestion failed", "title", title, "error", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// handleList returns all documents.
// GET /innovations
func (s *Service) handleList(w http.ResponseWriter, r *http.Request) {
	docs, err := s.cfg.Documents.List(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	out := make([]documentResponse, len(docs))
	for i, d := range docs {
		out[i] = toDocumentResponse(d)
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": out, "count": len(out)})
}

// handleGet returns one document.
// GET /innovations/{document_id}
func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "document_id")
	doc, err := s.cfg.Documents.Get(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

// handleDelete removes a document, its derived rows and its stored PDF.
// DELETE /innovations/{document_id}
func (s *Service) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "document_id")
	if err := s.cfg.Documents.Delete(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if s.cfg.Blobs != nil {
		if err := s.cfg.Blobs.Delete(r.Context(), id+".pdf"); err != nil {
			// Row deletion already happened; an orphan blob is not
			// worth failing the request over.
			s.log.Warn("blob delete failed", "document_id", id, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

// handleSimilarityRun runs the similarity pipeline for one document.
// POST /innovations/{document_id}/similarity
func (s *Service) handleSimilarityRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "document_id")
	report, err := s.cfg.Similarity.Run(r.Context(), id)
	if err != nil {
		s.log.Error("similarity run failed", "document_id", id, "error", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleSimilarityGet returns the persisted similarity report.
// GET /innovations/{document_id}/similarity
func (s *Service) handleSimilarityGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "document_id")
	results, err := s.cfg.Documents.SimilarityResults(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	out := make([]similarityResultResponse, len(results))
	for i, m := range results {
		out[i] = similarityResultResponse{
			MatchedID:   m.MatchedID,
			Score:       m.Score,
			StorageLink: m.StorageLink,
			Owner:       m.Owner,
			CreatedAt:   m.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"document_id": id, "matches": out})
}

// handleScoreRun grades one document against the rubric.
// POST /innovations/{document_id}/score
func (s *Service) handleScoreRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "document_id")
	sc, err := s.cfg.Scoring.Score(r.Context(), id)
	if err != nil {
		s.log.Error("scoring failed", "document_id", id, "error", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, toScoreResponse(sc))
}

// handleScoreGet returns the persisted score.
// GET /innovations/{document_id}/score
func (s *Service) handleScoreGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "document_id")
	sc, err := s.cfg.Scoring.Get(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, toScoreResponse(sc))
}

type chatRequest struct {
	Question string `json:"question"`
}

// handleChat answers a grounded question on behalf of the document
// owner, identified by the X-Innovator header.
// POST /innovations/{document_id}/chat
func (s *Service) handleChat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "document_id")
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, errors.New("question is required"))
		return
	}
	who := requester(r)
	if who == "" {
		writeError(w, http.StatusBadRequest, errors.New("X-Innovator header is required"))
		return
	}

	reply, err := s.cfg.Chat.Answer(r.Context(), id, who, req.Question)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// handleEvents returns recent pipeline events for a document.
// GET /innovations/{document_id}/events?limit=50
func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "document_id")
	limit := queryInt(r, "limit", 50)
	if s.cfg.Events == nil {
		writeJSON(w, http.StatusOK, map[string]any{"document_id": id, "events": []any{}})
		return
	}
	events, err := s.cfg.Events.RecentFor(r.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document_id": id, "events": events})
}

// handleHealth reports process liveness and, when wired, the latest
// worker heartbeat.
// GET /health
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.cfg.Health != nil {
		hb, err := s.cfg.Health(r.Context())
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "error": err.Error()})
			return
		}
		if hb != nil {
			resp["worker"] = hb
			if !hb.Alive {
				resp["status"] = "degraded"
				writeJSON(w, http.StatusServiceUnavailable, resp)
				return
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
