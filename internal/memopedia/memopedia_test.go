package memopedia

import (
	"testing"

	"github.com/saiverse/memoryweave/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, store.Storer) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewEngine(s), s
}

// TestMemopediaEditHistory implements Scenario 5: creating a page then
// applying two updates must leave exactly three edit-history rows, in
// insertion order create, update, update.
func TestMemopediaEditHistory(t *testing.T) {
	e, _ := newTestEngine(t)

	page, err := e.CreatePage(store.RootPeople, "Aria", "a friend", "met at the market", []string{"friend"}, store.VividnessVivid, false, "test")
	if err != nil {
		t.Fatalf("create page: %v", err)
	}

	newSummary := "a close friend"
	if _, err := e.UpdatePage(page.ID, PageFields{Summary: &newSummary}, "test"); err != nil {
		t.Fatalf("update 1: %v", err)
	}

	newContent := "met at the market, shares a love of old maps"
	if _, err := e.UpdatePage(page.ID, PageFields{Content: &newContent}, "test"); err != nil {
		t.Fatalf("update 2: %v", err)
	}

	history, err := e.GetPageEditHistory(page.ID, 0)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 edit-history rows, got %d", len(history))
	}

	// ListMemopediaEditHistory returns newest-first; reverse for insertion
	// order.
	types := make([]store.EditType, len(history))
	for i, h := range history {
		types[len(history)-1-i] = h.EditType
	}
	want := []store.EditType{store.EditCreate, store.EditUpdate, store.EditUpdate}
	for i, wt := range want {
		if types[i] != wt {
			t.Fatalf("expected edit_type sequence %v, got %v", want, types)
		}
	}
}

func TestMemopediaNoOpUpdateRecordsNoEdit(t *testing.T) {
	e, _ := newTestEngine(t)
	page, err := e.CreatePage(store.RootTerms, "Weave", "a term", "definition", nil, store.VividnessRough, false, "test")
	if err != nil {
		t.Fatalf("create page: %v", err)
	}
	sameTitle := page.Title
	if _, err := e.UpdatePage(page.ID, PageFields{Title: &sameTitle}, "test"); err != nil {
		t.Fatalf("no-op update: %v", err)
	}
	history, err := e.GetPageEditHistory(page.ID, 0)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected only the create edit to be recorded, got %d rows", len(history))
	}
}

func TestMemopediaDeletePageRejectsRoots(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.DeletePage(store.RootPeople, "test"); err == nil {
		t.Fatal("expected deleting a root page to fail")
	}
}

func TestMemopediaMoveToTrunkRejectsCycle(t *testing.T) {
	e, _ := newTestEngine(t)
	parent, err := e.CreatePage(store.RootPlans, "Plan A", "", "", nil, store.VividnessRough, true, "test")
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}
	child, err := e.CreatePage(parent.ID, "Plan A.1", "", "", nil, store.VividnessRough, false, "test")
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	if err := e.MovePagesToTrunk([]string{parent.ID}, child.ID); err == nil {
		t.Fatal("expected moving a page under its own descendant to fail")
	}
}

func TestMemopediaMoveUnderRootRequiresTrunk(t *testing.T) {
	e, _ := newTestEngine(t)
	page, err := e.CreatePage(store.RootPlans, "Plan B", "", "", nil, store.VividnessRough, false, "test")
	if err != nil {
		t.Fatalf("create page: %v", err)
	}
	if err := e.MovePagesToTrunk([]string{page.ID}, store.RootPlans); err == nil {
		t.Fatal("expected moving a non-trunk page directly under a root to fail")
	}
	if err := e.SetTrunk(page.ID, true); err != nil {
		t.Fatalf("set trunk: %v", err)
	}
	if err := e.MovePagesToTrunk([]string{page.ID}, store.RootPlans); err != nil {
		t.Fatalf("expected trunk page move under root to succeed: %v", err)
	}
}

func TestMemopediaSearchFiltered(t *testing.T) {
	e, _ := newTestEngine(t)
	if _, err := e.CreatePage(store.RootPeople, "Kael", "a traveler", "loves maps", []string{"cartography"}, store.VividnessVivid, false, "test"); err != nil {
		t.Fatalf("create page: %v", err)
	}
	results, err := e.SearchPagesFiltered("cartography", store.CategoryPeople, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].Title != "Kael" {
		t.Fatalf("expected keyword match on Kael, got %+v", results)
	}
}
