package recall

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/saiverse/memoryweave/internal/message"
	"github.com/saiverse/memoryweave/internal/store"
	"github.com/saiverse/memoryweave/pkg/llm"
)

// TestBasicIngestRecall implements Scenario 1 from the design: three
// messages about a fruit purchase, recalled with a neighbor window.
func TestBasicIngestRecall(t *testing.T) {
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer s.Close()

	embedder := llm.NewFakeEmbedder(16)
	msgSvc := message.NewService(s, embedder, 1, 480, zerolog.Nop())
	ctx := context.Background()

	m1, err := msgSvc.AppendMessage(ctx, "p1:t", "user", "I bought apples at the market", "p1", 0, "")
	if err != nil {
		t.Fatalf("append m1: %v", err)
	}
	m2, err := msgSvc.AppendMessage(ctx, "p1:t", "assistant", "How many?", "p1", 1, "")
	if err != nil {
		t.Fatalf("append m2: %v", err)
	}
	m3, err := msgSvc.AppendMessage(ctx, "p1:t", "user", "Twelve, and some oranges too", "p1", 2, "")
	if err != nil {
		t.Fatalf("append m3: %v", err)
	}

	engine := NewEngine(s, embedder, zerolog.Nop())
	results, err := engine.SemanticRecall(ctx, Query{
		Text:        "fruit purchase apples oranges market",
		ThreadID:    "p1:t",
		TopK:        2,
		RangeBefore: 1,
		RangeAfter:  1,
		Scope:       ScopeThread,
	})
	if err != nil {
		t.Fatalf("semantic recall: %v", err)
	}

	if len(results) == 0 {
		t.Fatal("expected non-empty recall result")
	}
	ids := make(map[string]bool)
	for _, m := range results {
		ids[m.ID] = true
	}
	if !ids[m1] || !ids[m3] {
		t.Fatalf("expected message 1 and 3 present, got %v", ids)
	}
	if !ids[m2] {
		t.Fatalf("expected message 2 pulled in as neighbor")
	}

	for i := 1; i < len(results); i++ {
		if results[i].CreatedAt < results[i-1].CreatedAt {
			t.Fatalf("results not chronologically ordered: %+v", results)
		}
	}
}

func TestSemanticRecallGroupsBundlesNeighbors(t *testing.T) {
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer s.Close()

	embedder := llm.NewFakeEmbedder(16)
	msgSvc := message.NewService(s, embedder, 1, 480, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := msgSvc.AppendMessage(ctx, "p1:t", "user", "a message about topic", "p1", int64(i), ""); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	engine := NewEngine(s, embedder, zerolog.Nop())
	groups, err := engine.SemanticRecallGroups(ctx, Query{
		Text:        "topic",
		ThreadID:    "p1:t",
		TopK:        2,
		RangeBefore: 1,
		RangeAfter:  1,
		Scope:       ScopeThread,
	})
	if err != nil {
		t.Fatalf("semantic recall groups: %v", err)
	}
	if len(groups) == 0 {
		t.Fatal("expected at least one group")
	}
	for _, g := range groups {
		if len(g.Bundle) == 0 {
			t.Fatal("expected non-empty bundle")
		}
	}
}
