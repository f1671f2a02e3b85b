package docstore

import (
	"context"
	"errors"
	"os"
	"testing"
)

func TestNewWithPoolRejectsBadTable(t *testing.T) {
	for _, name := range []string{"", "Docs", "1docs", "docs;drop", "docs table", "_hidden"} {
		if _, err := NewWithPool(nil, Config{Table: name}); err == nil {
			t.Errorf("table %q accepted, want error", name)
		}
	}
	if _, err := NewWithPool(nil, Config{Table: "innovations"}); err != nil {
		t.Errorf("valid table rejected: %v", err)
	}
}

func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("INNOSCAN_TEST_DSN")
	if dsn == "" {
		t.Skip("INNOSCAN_TEST_DSN not set")
	}
	ctx := context.Background()
	store, err := Connect(ctx, Config{DSN: dsn, Table: "docstore_test"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	t.Cleanup(func() {
		store.pool.Exec(ctx, `DROP TABLE IF EXISTS docstore_test_scoring`)
		store.pool.Exec(ctx, `DROP TABLE IF EXISTS docstore_test_results`)
		store.pool.Exec(ctx, `DROP TABLE IF EXISTS docstore_test CASCADE`)
	})
	return store
}

func TestUpsertReplaces(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	doc := Document{ID: "smart_meter_acme", Title: "Smart Meter", Owner: "Acme",
		Background: "first background", IngestStatus: StatusPartial}
	if err := store.Upsert(ctx, doc); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	doc.Background = "second background"
	doc.IngestStatus = StatusComplete
	if err := store.Upsert(ctx, doc); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := store.Get(ctx, "smart_meter_acme")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Background != "second background" {
		t.Errorf("Background = %q, want replacement", got.Background)
	}
	if got.IngestStatus != StatusComplete {
		t.Errorf("IngestStatus = %q, want %q", got.IngestStatus, StatusComplete)
	}

	docs, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("List returned %d docs, want 1 (upsert duplicated)", len(docs))
	}
}

func TestGetMissing(t *testing.T) {
	store := testStore(t)
	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := store.SetStatus(context.Background(), "nope", StatusComplete); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SetStatus err = %v, want ErrNotFound", err)
	}
}

func TestReplaceSimilarityResults(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.Upsert(ctx, Document{ID: "doc_a", Title: "A", Owner: "x"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	first := []SimilarityResult{
		{MatchedID: "doc_b", Score: 0.91},
		{MatchedID: "doc_c", Score: 0.77},
	}
	if err := store.ReplaceSimilarityResults(ctx, "doc_a", first); err != nil {
		t.Fatalf("first replace: %v", err)
	}

	second := []SimilarityResult{{MatchedID: "doc_d", Score: 0.85}}
	if err := store.ReplaceSimilarityResults(ctx, "doc_a", second); err != nil {
		t.Fatalf("second replace: %v", err)
	}

	got, err := store.SimilarityResults(ctx, "doc_a")
	if err != nil {
		t.Fatalf("SimilarityResults: %v", err)
	}
	if len(got) != 1 || got[0].MatchedID != "doc_d" {
		t.Fatalf("results = %+v, want only doc_d (replace, not append)", got)
	}

	// An empty re-run clears the report entirely.
	if err := store.ReplaceSimilarityResults(ctx, "doc_a", nil); err != nil {
		t.Fatalf("empty replace: %v", err)
	}
	got, err = store.SimilarityResults(ctx, "doc_a")
	if err != nil {
		t.Fatalf("SimilarityResults after clear: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("results = %+v, want empty", got)
	}
}

func TestScoreRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.Upsert(ctx, Document{ID: "doc_s", Title: "S", Owner: "x"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	sc := Score{Originality: 4, Urgency: 3, Depth: 5, Impact: 4, Feasibility: 3,
		DataUse: 2, Structure: 4, Language: 5, References: 3, Total: 33, Raw: `{"total":33}`}
	if err := store.UpsertScore(ctx, "doc_s", sc); err != nil {
		t.Fatalf("UpsertScore: %v", err)
	}
	// Re-scoring overwrites the single row per document.
	sc.Total = 34
	sc.Urgency = 4
	if err := store.UpsertScore(ctx, "doc_s", sc); err != nil {
		t.Fatalf("second UpsertScore: %v", err)
	}

	got, err := store.GetScore(ctx, "doc_s")
	if err != nil {
		t.Fatalf("GetScore: %v", err)
	}
	if got.Total != 34 || got.Urgency != 4 || got.Depth != 5 {
		t.Fatalf("score = %+v, want updated row", got)
	}
}

func TestDeleteCascades(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.Upsert(ctx, Document{ID: "doc_del", Title: "D", Owner: "x"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := store.ReplaceSimilarityResults(ctx, "doc_del",
		[]SimilarityResult{{MatchedID: "other", Score: 0.8}}); err != nil {
		t.Fatalf("ReplaceSimilarityResults: %v", err)
	}
	if err := store.UpsertScore(ctx, "doc_del", Score{Total: 10}); err != nil {
		t.Fatalf("UpsertScore: %v", err)
	}

	if err := store.Delete(ctx, "doc_del"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "doc_del"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete: %v, want ErrNotFound", err)
	}
	results, err := store.SimilarityResults(ctx, "doc_del")
	if err != nil {
		t.Fatalf("SimilarityResults: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("results survived delete: %+v", results)
	}
	if _, err := store.GetScore(ctx, "doc_del"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetScore after delete: %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, "doc_del"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Delete: %v, want ErrNotFound", err)
	}
}
