package vecstore

import (
	"context"
	"os"
	"testing"
)

func TestValidTableName(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"innovations", true},
		{"innovations_v2", true},
		{"a", true},
		{"", false},
		{"Innovations", false},
		{"2innovations", false},
		{"_innovations", false},
		{"innovations; DROP TABLE users", false},
		{"innovations-v2", false},
	}
	for _, c := range cases {
		if got := ValidTableName(c.name); got != c.want {
			t.Errorf("ValidTableName(%q) = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestConnectRejectsBadTable(t *testing.T) {
	_, err := Connect(context.Background(), Config{DSN: "postgres://localhost/x", Table: "bad-table"})
	if err == nil {
		t.Fatal("expected error for invalid table name")
	}
}

// Integration tests run only against a real Postgres with pgvector.
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("INNOSCAN_TEST_DSN")
	if dsn == "" {
		t.Skip("INNOSCAN_TEST_DSN not set")
	}
	ctx := context.Background()
	store, err := Connect(ctx, Config{DSN: dsn, Table: "vecstore_test", Dimension: 3})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(store.Close)

	if _, err := store.pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS vecstore_test (id TEXT PRIMARY KEY)`); err != nil {
		t.Fatalf("create parent table: %v", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	t.Cleanup(func() {
		store.pool.Exec(ctx, `DROP TABLE IF EXISTS vecstore_test_embeddings`)
		store.pool.Exec(ctx, `DROP TABLE IF EXISTS vecstore_test`)
	})
	return store
}

func seedDocument(t *testing.T, s *Store, id string) {
	t.Helper()
	if _, err := s.pool.Exec(context.Background(),
		`INSERT INTO vecstore_test (id) VALUES ($1) ON CONFLICT DO NOTHING`, id); err != nil {
		t.Fatalf("seed document %s: %v", id, err)
	}
}

func TestUpsertAndSearch(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	seedDocument(t, store, "doc-a")
	seedDocument(t, store, "doc-b")
	seedDocument(t, store, "doc-q")

	if err := store.UpsertEmbeddings(ctx, "doc-a", []Chunk{
		{Content: "close chunk", Embedding: []float32{1, 0, 0}},
	}); err != nil {
		t.Fatalf("UpsertEmbeddings doc-a: %v", err)
	}
	if err := store.UpsertEmbeddings(ctx, "doc-b", []Chunk{
		{Content: "far chunk", Embedding: []float32{0, 1, 0}},
	}); err != nil {
		t.Fatalf("UpsertEmbeddings doc-b: %v", err)
	}
	if err := store.UpsertEmbeddings(ctx, "doc-q", []Chunk{
		{Content: "query doc chunk", Embedding: []float32{1, 0, 0}},
	}); err != nil {
		t.Fatalf("UpsertEmbeddings doc-q: %v", err)
	}

	matches, err := store.Search(ctx, []float32{1, 0, 0}, 10, 0.5, "doc-q")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1: %+v", len(matches), matches)
	}
	if matches[0].DocumentID != "doc-a" {
		t.Errorf("match = %s, want doc-a", matches[0].DocumentID)
	}
	if matches[0].Similarity < 0.99 {
		t.Errorf("similarity = %v, want ~1", matches[0].Similarity)
	}
}

func TestSearchExcludesSelf(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	seedDocument(t, store, "doc-self")
	if err := store.UpsertEmbeddings(ctx, "doc-self", []Chunk{
		{Content: "only chunk", Embedding: []float32{0, 0, 1}},
	}); err != nil {
		t.Fatalf("UpsertEmbeddings: %v", err)
	}

	_, err := store.Search(ctx, []float32{0, 0, 1}, 10, 0.5, "doc-self")
	if err != ErrNoMatches {
		t.Fatalf("err = %v, want ErrNoMatches", err)
	}
}

func TestUpsertIdempotent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	seedDocument(t, store, "doc-i")
	chunks := []Chunk{{Content: "same text", Embedding: []float32{1, 0, 0}}}
	if err := store.UpsertEmbeddings(ctx, "doc-i", chunks); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	// Same content, new vector: must replace, not duplicate.
	chunks[0].Embedding = []float32{0, 1, 0}
	if err := store.UpsertEmbeddings(ctx, "doc-i", chunks); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	var n int
	if err := store.pool.QueryRow(ctx,
		`SELECT count(*) FROM vecstore_test_embeddings WHERE document_id = 'doc-i'`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("row count = %d, want 1", n)
	}
}

func TestDeleteCascade(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	seedDocument(t, store, "doc-del")
	if err := store.UpsertEmbeddings(ctx, "doc-del", []Chunk{
		{Content: "chunk", Embedding: []float32{1, 0, 0}},
	}); err != nil {
		t.Fatalf("UpsertEmbeddings: %v", err)
	}
	if _, err := store.pool.Exec(ctx, `DELETE FROM vecstore_test WHERE id = 'doc-del'`); err != nil {
		t.Fatalf("delete parent: %v", err)
	}

	var n int
	if err := store.pool.QueryRow(ctx,
		`SELECT count(*) FROM vecstore_test_embeddings WHERE document_id = 'doc-del'`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("embeddings survived parent delete: %d rows", n)
	}
}

func TestUpsertDimensionMismatch(t *testing.T) {
	store := testStore(t)
	err := store.UpsertEmbeddings(context.Background(), "doc-x", []Chunk{
		{Content: "chunk", Embedding: []float32{1, 0}},
	})
	if err == nil {
		t.Fatal("expected dimension error")
	}
}
