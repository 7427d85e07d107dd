package uriresolver

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/saiverse/memoryweave/internal/chronicle"
	"github.com/saiverse/memoryweave/internal/memopedia"
	"github.com/saiverse/memoryweave/internal/recall"
	"github.com/saiverse/memoryweave/internal/store"
	"github.com/saiverse/memoryweave/pkg/llm"
)

func newTestResolver(t *testing.T, personaID string) (*Resolver, store.Storer) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	embedder := llm.NewFakeEmbedder(8)
	recallEngine := recall.NewEngine(s, embedder, zerolog.Nop())
	memopediaEngine := memopedia.NewEngine(s)
	assembler := chronicle.NewAssembler(s)
	return NewResolver(personaID, s, recallEngine, memopediaEngine, assembler), s
}

// TestURIACLDeniesCrossPersona implements Scenario 6: persona A resolving a
// URI scoped to a different persona gets an access_denied error and never
// touches that persona's store (there is none to touch — each Resolver only
// ever holds its own persona's Storer).
func TestURIACLDeniesCrossPersona(t *testing.T) {
	r, _ := newTestResolver(t, "alice_cityA")

	result := r.Resolve("saiverse://cityA/bob/memopedia/tree")
	if result.ContentType != "error" {
		t.Fatalf("expected content_type=error, got %q", result.ContentType)
	}
	if result.Metadata["error"] != "access_denied" {
		t.Fatalf("expected metadata.error=access_denied, got %v", result.Metadata)
	}
}

func TestURISelfMemopediaTree(t *testing.T) {
	r, _ := newTestResolver(t, "alice_cityA")
	result := r.Resolve("saiverse://self/memopedia/tree")
	if result.ContentType != "memopedia_tree" {
		t.Fatalf("expected memopedia_tree, got %+v", result)
	}
}

func TestURISelfMessagelogRecent(t *testing.T) {
	r, s := newTestResolver(t, "alice_cityA")
	if err := s.UpsertThread(&store.Thread{ID: "alice_cityA:t", ResourceID: "alice_cityA", CreatedAt: 0, UpdatedAt: 0}); err != nil {
		t.Fatalf("upsert thread: %v", err)
	}
	for i, content := range []string{"hello", "world"} {
		if err := s.AppendMessage(&store.Message{ID: "m" + string(rune('0'+i)), ThreadID: "alice_cityA:t", Role: "user", Content: content, CreatedAt: int64(i)}); err != nil {
			t.Fatalf("append message: %v", err)
		}
	}
	result := r.Resolve("saiverse://self/messagelog/msg/recent?depth=5")
	if result.ContentType != "message_log" {
		t.Fatalf("expected message_log, got %+v", result)
	}
	if result.Metadata["count"] != 2 {
		t.Fatalf("expected count=2, got %v", result.Metadata)
	}
}

func TestParsePersonaScopedURI(t *testing.T) {
	u, err := Parse("saiverse://cityA/bob/memopedia/tree", "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.PersonaID != "bob_cityA" {
		t.Fatalf("expected resolved persona id bob_cityA, got %s", u.PersonaID)
	}
	if !u.IsPersonaScoped() {
		t.Fatal("expected memopedia scheme to be persona-scoped")
	}
}

func TestResolveManyFirstPriorityTrims(t *testing.T) {
	results := []Resolved{
		{URI: "a", Content: strings.Repeat("a", 10), CharCount: 10},
		{URI: "b", Content: strings.Repeat("b", 10), CharCount: 10},
	}
	r := &Resolver{}
	trimmed := r.trim(results, 15, PriorityFirst)
	if trimmed[0].CharCount != 10 {
		t.Fatalf("expected first item kept whole, got %d", trimmed[0].CharCount)
	}
	if trimmed[1].Content == strings.Repeat("b", 10) {
		t.Fatal("expected second item trimmed")
	}
}
