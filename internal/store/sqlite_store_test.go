package store

import (
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInitMemopediaRootsSeeded(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []string{RootPeople, RootTerms, RootPlans} {
		p, err := s.GetMemopediaPage(id)
		if err != nil {
			t.Fatalf("expected root %s to be seeded: %v", id, err)
		}
		if !p.IsTrunk {
			t.Errorf("root %s should be a trunk page", id)
		}
	}
}

func TestMessageLifecycle(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().Unix()

	if err := s.UpsertThread(&Thread{ID: "p1:t", ResourceID: "p1", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("upsert thread: %v", err)
	}

	msg := &Message{ID: "m1", ThreadID: "p1:t", Role: "user", Content: "hello", ResourceID: "p1", CreatedAt: now}
	if err := s.AppendMessage(msg); err != nil {
		t.Fatalf("append message: %v", err)
	}

	count, err := s.CountThreadMessages("p1:t")
	if err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 message, got %d", count)
	}

	if err := s.ReplaceMessageEmbeddings("m1", []EmbeddingChunk{
		{MessageID: "m1", ChunkIndex: 0, Content: "hello", Vector: []float32{0.1, 0.2}},
	}); err != nil {
		t.Fatalf("replace embeddings: %v", err)
	}

	chunks, err := s.GetMessageEmbeddings("m1")
	if err != nil {
		t.Fatalf("get embeddings: %v", err)
	}
	if len(chunks) != 1 || len(chunks[0].Vector) != 2 {
		t.Fatalf("unexpected embedding chunks: %+v", chunks)
	}

	if err := s.UpdateMessageContent("m1", "hello again", ""); err != nil {
		t.Fatalf("update message content: %v", err)
	}
	chunks, err = s.GetMessageEmbeddings("m1")
	if err != nil {
		t.Fatalf("get embeddings after update: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected embeddings cleared after content update, got %d", len(chunks))
	}

	if err := s.DeleteMessage("m1"); err != nil {
		t.Fatalf("delete message: %v", err)
	}
	if _, err := s.GetMessage("m1"); err == nil {
		t.Fatal("expected not-found after delete")
	}
}

func TestChronicleEntryUpdate(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().Unix()

	e := &ChronicleEntry{
		ID:           "e1",
		Level:        1,
		Content:      "they went to the market",
		SourceIDs:    []string{"m1", "m2"},
		StartTime:    100,
		EndTime:      200,
		SourceCount:  2,
		MessageCount: 2,
		CreatedAt:    now,
	}
	if err := s.CreateChronicleEntry(e); err != nil {
		t.Fatalf("create chronicle entry: %v", err)
	}

	e.IsConsolidated = true
	e.ParentID = "e2"
	e.SourceIDs = append(e.SourceIDs, "m3")
	if err := s.UpdateChronicleEntry(e); err != nil {
		t.Fatalf("update chronicle entry: %v", err)
	}

	got, err := s.GetChronicleEntry("e1")
	if err != nil {
		t.Fatalf("get chronicle entry: %v", err)
	}
	if !got.IsConsolidated || got.ParentID != "e2" || len(got.SourceIDs) != 3 {
		t.Fatalf("update not persisted correctly: %+v", got)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().Unix()

	if err := s.UpsertThread(&Thread{ID: "p1:t", ResourceID: "p1", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("upsert thread: %v", err)
	}
	if err := s.AppendMessage(&Message{ID: "m1", ThreadID: "p1:t", Role: "user", Content: "hi", CreatedAt: now}); err != nil {
		t.Fatalf("append message: %v", err)
	}

	data, err := s.Export()
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("exported data is empty")
	}

	s2 := newTestStore(t)
	if err := s2.Import(data); err != nil {
		t.Fatalf("import failed: %v", err)
	}

	got, err := s2.GetMessage("m1")
	if err != nil {
		t.Fatalf("get imported message: %v", err)
	}
	if got.Content != "hi" {
		t.Fatalf("expected imported content 'hi', got %q", got.Content)
	}
}
