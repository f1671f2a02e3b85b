package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"innoscan/chat"
	"innoscan/docstore"
	"innoscan/ingest"
	"innoscan/observability"
	"innoscan/similarity"
)

type fakeIngest struct {
	got ingest.Submission
	res ingest.Result
	err error
}

func (f *fakeIngest) Run(_ context.Context, sub ingest.Submission) (ingest.Result, error) {
	f.got = sub
	return f.res, f.err
}

type fakeDocs struct {
	docs    map[string]docstore.Document
	results map[string][]docstore.SimilarityResult
	deleted []string
}

func (f *fakeDocs) Get(_ context.Context, id string) (docstore.Document, error) {
	d, ok := f.docs[id]
	if !ok {
		return docstore.Document{}, docstore.ErrNotFound
	}
	return d, nil
}

func (f *fakeDocs) List(_ context.Context) ([]docstore.Document, error) {
	var out []docstore.Document
	for _, d := range f.docs {
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeDocs) Delete(_ context.Context, id string) error {
	if _, ok := f.docs[id]; !ok {
		return docstore.ErrNotFound
	}
	delete(f.docs, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeDocs) SimilarityResults(_ context.Context, id string) ([]docstore.SimilarityResult, error) {
	return f.results[id], nil
}

type fakeSimilarity struct {
	report similarity.Report
	err    error
}

func (f *fakeSimilarity) Run(_ context.Context, documentID string) (similarity.Report, error) {
	if f.err != nil {
		return similarity.Report{}, f.err
	}
	r := f.report
	r.DocumentID = documentID
	return r, nil
}

type fakeScoring struct {
	score docstore.Score
	err   error
}

func (f *fakeScoring) Score(_ context.Context, _ string) (docstore.Score, error) {
	return f.score, f.err
}

func (f *fakeScoring) Get(_ context.Context, _ string) (docstore.Score, error) {
	return f.score, f.err
}

type fakeChat struct {
	reply chat.Reply
	err   error
}

func (f *fakeChat) Answer(_ context.Context, documentID, requester, question string) (chat.Reply, error) {
	if f.err != nil {
		return chat.Reply{}, f.err
	}
	r := f.reply
	r.DocumentID = documentID
	return r, nil
}

type fakeEvents struct {
	events   []observability.PipelineEvent
	requests []string
}

func (f *fakeEvents) RecentFor(_ context.Context, _ string, limit int) ([]observability.PipelineEvent, error) {
	if limit < len(f.events) {
		return f.events[:limit], nil
	}
	return f.events, nil
}

func (f *fakeEvents) LogRequest(_ context.Context, method, path string, status int, _ time.Duration, _ string) {
	f.requests = append(f.requests, method+" "+path)
}

type fakeBlobs struct {
	deleted []string
	err     error
}

func (f *fakeBlobs) Delete(_ context.Context, key string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, key)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testService(cfg Config) *Service {
	cfg.Logger = quietLogger()
	return New(cfg)
}

func multipartUpload(t *testing.T, title string, pdf []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if title != "" {
		if err := mw.WriteField("title", title); err != nil {
			t.Fatal(err)
		}
	}
	if pdf != nil {
		fw, err := mw.CreateFormFile("file", "doc.pdf")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write(pdf); err != nil {
			t.Fatal(err)
		}
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestSubmit(t *testing.T) {
	ing := &fakeIngest{res: ingest.Result{DocumentID: "smart_bin_jane_doe", Status: ingest.StatusSuccess, Chunks: 3}}
	svc := testService(Config{Ingest: ing, Documents: &fakeDocs{}})

	body, ctype := multipartUpload(t, "Smart Bin", []byte("%PDF-1.7 fake"))
	req := httptest.NewRequest(http.MethodPost, "/innovations", body)
	req.Header.Set("Content-Type", ctype)
	req.Header.Set("X-Innovator", "Jane Doe")
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if ing.got.Title != "Smart Bin" || ing.got.Owner != "Jane Doe" {
		t.Errorf("submission = %+v", ing.got)
	}
	var res ingest.Result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.DocumentID != "smart_bin_jane_doe" || res.Status != ingest.StatusSuccess {
		t.Errorf("result = %+v", res)
	}
}

func TestSubmitMissingFields(t *testing.T) {
	svc := testService(Config{Ingest: &fakeIngest{}, Documents: &fakeDocs{}})

	// No title.
	body, ctype := multipartUpload(t, "", []byte("%PDF-"))
	req := httptest.NewRequest(http.MethodPost, "/innovations", body)
	req.Header.Set("Content-Type", ctype)
	req.Header.Set("X-Innovator", "Jane Doe")
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("no title: status = %d", rec.Code)
	}

	// No file part.
	body, ctype = multipartUpload(t, "Smart Bin", nil)
	req = httptest.NewRequest(http.MethodPost, "/innovations", body)
	req.Header.Set("Content-Type", ctype)
	req.Header.Set("X-Innovator", "Jane Doe")
	rec = httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("no file: status = %d", rec.Code)
	}
}

func TestSubmitInvalidPDF(t *testing.T) {
	ing := &fakeIngest{err: ingest.ErrInvalidPDF}
	svc := testService(Config{Ingest: ing, Documents: &fakeDocs{}})

	body, ctype := multipartUpload(t, "Smart Bin", []byte("not a pdf"))
	req := httptest.NewRequest(http.MethodPost, "/innovations", body)
	req.Header.Set("Content-Type", ctype)
	req.Header.Set("X-Innovator", "Jane Doe")
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGetDocument(t *testing.T) {
	docs := &fakeDocs{docs: map[string]docstore.Document{
		"smart_bin_jane_doe": {ID: "smart_bin_jane_doe", Title: "Smart Bin", Owner: "Jane Doe", IngestStatus: docstore.StatusComplete},
	}}
	svc := testService(Config{Documents: docs})

	req := httptest.NewRequest(http.MethodGet, "/innovations/smart_bin_jane_doe", nil)
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got documentResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.ID != "smart_bin_jane_doe" || got.IngestStatus != docstore.StatusComplete {
		t.Errorf("document = %+v", got)
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	svc := testService(Config{Documents: &fakeDocs{}})

	req := httptest.NewRequest(http.MethodGet, "/innovations/missing", nil)
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestDeleteRemovesBlob(t *testing.T) {
	docs := &fakeDocs{docs: map[string]docstore.Document{"doc_a": {ID: "doc_a"}}}
	blobs := &fakeBlobs{}
	svc := testService(Config{Documents: docs, Blobs: blobs})

	req := httptest.NewRequest(http.MethodDelete, "/innovations/doc_a", nil)
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(blobs.deleted) != 1 || blobs.deleted[0] != "doc_a.pdf" {
		t.Errorf("blob deletes = %v", blobs.deleted)
	}
}

func TestDeleteBlobFailureStillSucceeds(t *testing.T) {
	docs := &fakeDocs{docs: map[string]docstore.Document{"doc_a": {ID: "doc_a"}}}
	svc := testService(Config{Documents: docs, Blobs: &fakeBlobs{err: errors.New("minio down")}})

	req := httptest.NewRequest(http.MethodDelete, "/innovations/doc_a", nil)
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSimilarityRun(t *testing.T) {
	sim := &fakeSimilarity{report: similarity.Report{Matches: []similarity.Match{
		{DocumentID: "other_doc", Score: 0.8123},
	}}}
	svc := testService(Config{Documents: &fakeDocs{}, Similarity: sim})

	req := httptest.NewRequest(http.MethodPost, "/innovations/doc_a/similarity", nil)
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var report similarity.Report
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatal(err)
	}
	if report.DocumentID != "doc_a" || len(report.Matches) != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestSimilarityGetPersisted(t *testing.T) {
	docs := &fakeDocs{results: map[string][]docstore.SimilarityResult{
		"doc_a": {{MatchedID: "doc_b", Score: 0.9, Owner: "Bob"}},
	}}
	svc := testService(Config{Documents: docs})

	req := httptest.NewRequest(http.MethodGet, "/innovations/doc_a/similarity", nil)
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"matched_id":"doc_b"`) {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestScoreRunAndGet(t *testing.T) {
	sc := docstore.Score{Originality: 4, Urgency: 3, Total: 31}
	svc := testService(Config{Documents: &fakeDocs{}, Scoring: &fakeScoring{score: sc}})

	for _, method := range []string{http.MethodPost, http.MethodGet} {
		req := httptest.NewRequest(method, "/innovations/doc_a/score", nil)
		rec := httptest.NewRecorder()
		svc.Router().ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", method, rec.Code)
		}
		var got scoreResponse
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
		if got.Originality != 4 || got.Total != 31 {
			t.Errorf("%s: score = %+v", method, got)
		}
	}
}

func TestChat(t *testing.T) {
	ch := &fakeChat{reply: chat.Reply{Answer: "It reduces waste."}}
	svc := testService(Config{Documents: &fakeDocs{}, Chat: ch})

	body := strings.NewReader(`{"question":"what does it do?"}`)
	req := httptest.NewRequest(http.MethodPost, "/innovations/doc_a/chat", body)
	req.Header.Set("X-Innovator", "Jane Doe")
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var reply chat.Reply
	if err := json.NewDecoder(rec.Body).Decode(&reply); err != nil {
		t.Fatal(err)
	}
	if reply.Answer != "It reduces waste." {
		t.Errorf("reply = %+v", reply)
	}
}

func TestChatForbidden(t *testing.T) {
	svc := testService(Config{Documents: &fakeDocs{}, Chat: &fakeChat{err: chat.ErrForbidden}})

	body := strings.NewReader(`{"question":"what does it do?"}`)
	req := httptest.NewRequest(http.MethodPost, "/innovations/doc_a/chat", body)
	req.Header.Set("X-Innovator", "Eve")
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestChatMissingRequester(t *testing.T) {
	svc := testService(Config{Documents: &fakeDocs{}, Chat: &fakeChat{}})

	body := strings.NewReader(`{"question":"hello?"}`)
	req := httptest.NewRequest(http.MethodPost, "/innovations/doc_a/chat", body)
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestEventsEndpoint(t *testing.T) {
	ev := &fakeEvents{events: []observability.PipelineEvent{
		{EventID: "evt_1", DocumentID: "doc_a", Stage: "validate", Success: true},
		{EventID: "evt_2", DocumentID: "doc_a", Stage: "upload", Success: true},
	}}
	svc := testService(Config{Documents: &fakeDocs{}, Events: ev})

	req := httptest.NewRequest(http.MethodGet, "/innovations/doc_a/events?limit=1", nil)
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Events []observability.PipelineEvent `json:"events"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Events) != 1 || resp.Events[0].EventID != "evt_1" {
		t.Errorf("events = %+v", resp.Events)
	}
}

func TestRequestLogMiddleware(t *testing.T) {
	ev := &fakeEvents{}
	svc := testService(Config{Documents: &fakeDocs{}, Events: ev})

	req := httptest.NewRequest(http.MethodGet, "/innovations", nil)
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	if len(ev.requests) != 1 || ev.requests[0] != "GET /innovations" {
		t.Errorf("request log = %v", ev.requests)
	}
}

func TestHealth(t *testing.T) {
	hb := &observability.HeartbeatStatus{WorkerName: "innoscand", Alive: true}
	svc := testService(Config{
		Documents: &fakeDocs{},
		Health: func(context.Context) (*observability.HeartbeatStatus, error) {
			return hb, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"worker_name":"innoscand"`) {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestHealthStaleWorker(t *testing.T) {
	hb := &observability.HeartbeatStatus{WorkerName: "innoscand", Alive: false}
	svc := testService(Config{
		Documents: &fakeDocs{},
		Health: func(context.Context) (*observability.HeartbeatStatus, error) {
			return hb, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}
