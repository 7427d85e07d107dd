package memopedia

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/saiverse/memoryweave/internal/chronicle"
	"github.com/saiverse/memoryweave/internal/recall"
	"github.com/saiverse/memoryweave/internal/store"
	"github.com/saiverse/memoryweave/pkg/llm"
)

func newTestGenerator(t *testing.T, responses []string) (*Generator, store.Storer) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	embedder := llm.NewFakeEmbedder(16)
	recallEngine := recall.NewEngine(s, embedder, zerolog.Nop())
	assembler := chronicle.NewAssembler(s)
	client := &llm.FakeClient{Responses: responses}
	engine := NewEngine(s)
	cfg := GeneratorConfig{MaxLoops: 3, ContextWindow: 1, TopK: 5, Scope: recall.ScopeThread, ThreadID: "p1:t"}
	gen := NewGenerator(engine, recallEngine, assembler, client, cfg, nil, zerolog.Nop())
	return gen, s
}

func seedMessageAndEmbedding(t *testing.T, s store.Storer, embedder llm.Embedder, threadID, id, content string, createdAt int64) {
	t.Helper()
	if _, err := s.GetThread(threadID); err != nil {
		if err := s.UpsertThread(&store.Thread{ID: threadID, ResourceID: threadID, CreatedAt: createdAt, UpdatedAt: createdAt}); err != nil {
			t.Fatalf("upsert thread: %v", err)
		}
	}
	m := &store.Message{ID: id, ThreadID: threadID, Role: "user", Content: content, CreatedAt: createdAt}
	if err := s.AppendMessage(m); err != nil {
		t.Fatalf("append message: %v", err)
	}
	vecs, err := embedder.Embed(context.Background(), []string{content}, false)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if err := s.ReplaceMessageEmbeddings(id, []store.EmbeddingChunk{{ChunkIndex: 0, Content: content, Vector: vecs[0]}}); err != nil {
		t.Fatalf("replace embeddings: %v", err)
	}
}

func TestMemopediaGeneratorCreatesPage(t *testing.T) {
	// Response order: extract (loop 1), sufficient (loop 1, true), compose.
	responses := []string{
		`{"extracted": "Aria collects old maps and has visited the northern ruins."}`,
		`{"sufficient": true}`,
		`{"title": "Aria", "summary": "a map collector", "content": "Aria collects old maps and has visited the northern ruins.", "category": "people", "keywords": ["maps", "ruins"]}`,
	}
	gen, s := newTestGenerator(t, responses)

	embedder := llm.NewFakeEmbedder(16)
	seedMessageAndEmbedding(t, s, embedder, "p1:t", "m1", "Aria talked about collecting old maps", 1)
	seedMessageAndEmbedding(t, s, embedder, "p1:t", "m2", "she mentioned the northern ruins too", 2)

	result, err := gen.Generate(context.Background(), "Aria", "", store.CategoryPeople)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.Action != "created" {
		t.Fatalf("expected action=created, got %+v", result)
	}
	if result.Page == nil || result.Page.Title != "Aria" {
		t.Fatalf("expected page titled Aria, got %+v", result.Page)
	}
	if result.Page.ParentID != store.RootPeople {
		t.Fatalf("expected page filed under root_people, got %s", result.Page.ParentID)
	}
}

func TestMemopediaGeneratorUpdatesExistingPage(t *testing.T) {
	responses := []string{
		`{"extracted": "Aria also plays the violin."}`,
		`{"sufficient": true}`,
		`{"title": "Aria", "summary": "a musician and map collector", "content": "Aria also plays the violin.", "category": "people", "keywords": ["violin"]}`,
	}
	gen, s := newTestGenerator(t, responses)

	if _, err := gen.engine.CreatePage(store.RootPeople, "Aria", "a map collector", "Aria collects old maps.", []string{"maps"}, store.VividnessVivid, false, "test"); err != nil {
		t.Fatalf("seed existing page: %v", err)
	}

	embedder := llm.NewFakeEmbedder(16)
	seedMessageAndEmbedding(t, s, embedder, "p1:t", "m1", "Aria picked up the violin again", 1)

	result, err := gen.Generate(context.Background(), "Aria", "", store.CategoryPeople)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.Action != "updated" {
		t.Fatalf("expected action=updated, got %+v", result)
	}

	pages, err := s.ListMemopediaChildren(store.RootPeople)
	if err != nil {
		t.Fatalf("list children: %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("expected exactly one Aria page, got %d", len(pages))
	}
	if pages[0].Content == "Aria collects old maps." {
		t.Fatal("expected content to be appended to, not left unchanged")
	}
}

func TestMemopediaGeneratorNoInfoCollected(t *testing.T) {
	responses := []string{`{"extracted": ""}`, `{"sufficient": false}`}
	gen, _ := newTestGenerator(t, responses)

	result, err := gen.Generate(context.Background(), "Unknown Thing", "", store.CategoryTerms)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.Error != "no_info_collected" {
		t.Fatalf("expected no_info_collected error, got %+v", result)
	}
	if result.Page != nil {
		t.Fatalf("expected no page created, got %+v", result.Page)
	}
}
