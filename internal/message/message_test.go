package message

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/saiverse/memoryweave/internal/store"
	"github.com/saiverse/memoryweave/pkg/llm"
)

func newTestService(t *testing.T) (*Service, store.Storer) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	svc := NewService(s, llm.NewFakeEmbedder(8), 1, 480, zerolog.Nop())
	return svc, s
}

func TestAppendMessageCreatesThreadAndEmbeds(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	id, err := svc.AppendMessage(ctx, "p1:t", "user", "I bought apples at the market", "p1", 100, "")
	if err != nil {
		t.Fatalf("append message: %v", err)
	}

	thread, err := s.GetThread("p1:t")
	if err != nil {
		t.Fatalf("expected thread auto-created: %v", err)
	}
	if thread.ResourceID != "p1" {
		t.Fatalf("expected resource id p1, got %q", thread.ResourceID)
	}

	chunks, err := s.GetMessageEmbeddings(id)
	if err != nil {
		t.Fatalf("get embeddings: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("expected at least one embedding chunk")
	}
}

func TestUpdateMessageContentReembeds(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	id, err := svc.AppendMessage(ctx, "p1:t", "user", "original", "p1", 100, "")
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := svc.UpdateMessageContent(ctx, id, "revised content"); err != nil {
		t.Fatalf("update content: %v", err)
	}

	got, err := s.GetMessage(id)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if got.Content != "revised content" {
		t.Fatalf("expected updated content, got %q", got.Content)
	}

	chunks, err := s.GetMessageEmbeddings(id)
	if err != nil {
		t.Fatalf("get embeddings: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("expected re-embedded chunks after update")
	}
}

func TestUpdateMessageContentEmptyLeavesZeroChunks(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	id, err := svc.AppendMessage(ctx, "p1:t", "user", "original", "p1", 100, "")
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := svc.UpdateMessageContent(ctx, id, ""); err != nil {
		t.Fatalf("update content: %v", err)
	}

	chunks, err := s.GetMessageEmbeddings(id)
	if err != nil {
		t.Fatalf("get embeddings: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected zero chunks for empty content, got %d", len(chunks))
	}
}

func TestDeleteThreadCascades(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	id, err := svc.AppendMessage(ctx, "p1:t", "user", "hi", "p1", 100, "")
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := svc.DeleteThread("p1:t"); err != nil {
		t.Fatalf("delete thread: %v", err)
	}

	if _, err := s.GetMessage(id); err == nil {
		t.Fatal("expected message gone after thread delete")
	}
	if _, err := s.GetThread("p1:t"); err == nil {
		t.Fatal("expected thread gone after delete")
	}
}

func TestListThreadMessagesPagination(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := svc.AppendMessage(ctx, "p1:t", "user", "msg", "p1", int64(100+i), ""); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	page0, err := svc.ListThreadMessages("p1:t", 0, 2)
	if err != nil {
		t.Fatalf("list page 0: %v", err)
	}
	if len(page0) != 2 {
		t.Fatalf("expected 2 messages on page 0, got %d", len(page0))
	}

	page2, err := svc.ListThreadMessages("p1:t", 2, 2)
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(page2) != 1 {
		t.Fatalf("expected 1 message on page 2, got %d", len(page2))
	}
}
