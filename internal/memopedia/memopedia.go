// Package memopedia implements the Memopedia engine (§4.8): a category-
// rooted forest of knowledge pages with diff-based edit history. Grounded on
// original_source/sai_memory/memopedia/core.py.
package memopedia

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/saiverse/memoryweave/internal/store"
	"github.com/saiverse/memoryweave/pkg/weaveerr"
)

// maxAncestryDepth bounds the parent_id walk used for cycle detection
// (Property G: every non-root page terminates at a root within this many
// hops).
const maxAncestryDepth = 64

// Engine implements the Memopedia public operations against one persona's
// store.
type Engine struct {
	store store.Storer
}

func NewEngine(s store.Storer) *Engine {
	return &Engine{store: s}
}

// composite builds the single string a page's edit history diffs against.
func composite(title, summary, content string) string {
	return fmt.Sprintf("title: %s\nsummary: %s\ncontent:\n%s", title, summary, content)
}

func pageComposite(p *store.MemopediaPage) string {
	return composite(p.Title, p.Summary, p.Content)
}

// unifiedDiff renders a unified diff between two composite strings. Returns
// "" if they are identical.
func unifiedDiff(before, after string) (string, error) {
	if before == after {
		return "", nil
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: "before",
		ToFile:   "after",
		Context:  3,
	}
	return difflib.GetUnifiedDiffString(diff)
}

func (e *Engine) recordEdit(pageID string, before, after string, editType store.EditType, editSource string) error {
	diffText, err := unifiedDiff(before, after)
	if err != nil {
		return weaveerr.Invalid("compute diff for page %s: %v", pageID, err)
	}
	if diffText == "" && editType == store.EditUpdate {
		return nil // no-op update: nothing changed, nothing to record
	}
	return e.store.RecordMemopediaEdit(&store.MemopediaEdit{
		ID:         uuid.NewString(),
		PageID:     pageID,
		EditedAt:   time.Now().UnixNano(),
		DiffText:   diffText,
		EditType:   editType,
		EditSource: editSource,
	})
}

func isRoot(id string) bool {
	return id == store.RootPeople || id == store.RootTerms || id == store.RootPlans
}

// CreatePage creates a page under parentID, inheriting category from the
// parent, and records a "create" edit with a full-content diff from empty.
func (e *Engine) CreatePage(parentID, title, summary, content string, keywords []string, vividness store.Vividness, isTrunk bool, editSource string) (*store.MemopediaPage, error) {
	parent, err := e.store.GetMemopediaPage(parentID)
	if err != nil {
		return nil, err
	}
	now := time.Now().Unix()
	page := &store.MemopediaPage{
		ID:        uuid.NewString(),
		ParentID:  parentID,
		Title:     title,
		Summary:   summary,
		Content:   content,
		Category:  parent.Category,
		Keywords:  keywords,
		Vividness: vividness,
		IsTrunk:   isTrunk,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if page.Vividness == "" {
		page.Vividness = store.VividnessRough
	}
	if err := e.store.CreateMemopediaPage(page); err != nil {
		return nil, err
	}
	if err := e.recordEdit(page.ID, "", pageComposite(page), store.EditCreate, editSource); err != nil {
		return nil, err
	}
	return page, nil
}

// PageFields are the mutable fields UpdatePage will apply when non-nil.
type PageFields struct {
	Title     *string
	Summary   *string
	Content   *string
	Keywords  *[]string
	Vividness *store.Vividness
}

// UpdatePage applies the provided fields and records an "update" edit only
// if the before/after composite actually differs.
func (e *Engine) UpdatePage(id string, fields PageFields, editSource string) (*store.MemopediaPage, error) {
	page, err := e.store.GetMemopediaPage(id)
	if err != nil {
		return nil, err
	}
	before := pageComposite(page)

	if fields.Title != nil {
		page.Title = *fields.Title
	}
	if fields.Summary != nil {
		page.Summary = *fields.Summary
	}
	if fields.Content != nil {
		page.Content = *fields.Content
	}
	if fields.Keywords != nil {
		page.Keywords = *fields.Keywords
	}
	if fields.Vividness != nil {
		page.Vividness = *fields.Vividness
	}
	page.UpdatedAt = time.Now().Unix()

	if err := e.store.UpdateMemopediaPage(page); err != nil {
		return nil, err
	}
	if err := e.recordEdit(page.ID, before, pageComposite(page), store.EditUpdate, editSource); err != nil {
		return nil, err
	}
	return page, nil
}

// AppendToContent appends text to a page's content after two newlines.
func (e *Engine) AppendToContent(id, text, editSource string) (*store.MemopediaPage, error) {
	page, err := e.store.GetMemopediaPage(id)
	if err != nil {
		return nil, err
	}
	before := pageComposite(page)
	if page.Content == "" {
		page.Content = text
	} else {
		page.Content = page.Content + "\n\n" + text
	}
	page.UpdatedAt = time.Now().Unix()
	if err := e.store.UpdateMemopediaPage(page); err != nil {
		return nil, err
	}
	if err := e.recordEdit(page.ID, before, pageComposite(page), store.EditAppend, editSource); err != nil {
		return nil, err
	}
	return page, nil
}

// DeletePage soft-deletes a page. Root pages cannot be deleted. History and
// edit trail are preserved.
func (e *Engine) DeletePage(id, editSource string) error {
	if isRoot(id) {
		return weaveerr.Invalid("cannot delete root page %s", id)
	}
	page, err := e.store.GetMemopediaPage(id)
	if err != nil {
		return err
	}
	before := pageComposite(page)
	if err := e.store.SoftDeleteMemopediaPage(id); err != nil {
		return err
	}
	return e.recordEdit(id, before, "", store.EditDelete, editSource)
}

func (e *Engine) SetTrunk(id string, isTrunk bool) error {
	page, err := e.store.GetMemopediaPage(id)
	if err != nil {
		return err
	}
	page.IsTrunk = isTrunk
	return e.store.UpdateMemopediaPage(page)
}

func (e *Engine) SetImportant(id string, isImportant bool) error {
	page, err := e.store.GetMemopediaPage(id)
	if err != nil {
		return err
	}
	page.IsImportant = isImportant
	return e.store.UpdateMemopediaPage(page)
}

// ancestryContains reports whether walking parent_id from startID reaches
// target within maxAncestryDepth hops.
func (e *Engine) ancestryContains(startID, target string) (bool, error) {
	current := startID
	for i := 0; i < maxAncestryDepth; i++ {
		if current == target {
			return true, nil
		}
		if isRoot(current) {
			return false, nil
		}
		page, err := e.store.GetMemopediaPage(current)
		if err != nil {
			return false, err
		}
		if page.ParentID == "" {
			return false, nil
		}
		current = page.ParentID
	}
	return false, weaveerr.Invalid("ancestry walk from %s exceeded depth limit", startID)
}

// MovePagesToTrunk reparents pages under newParentID atomically (page by
// page; a mid-batch failure leaves earlier moves applied). Moving under a
// root is disallowed unless the page being moved is a trunk page. A move
// that would create a cycle is rejected.
func (e *Engine) MovePagesToTrunk(ids []string, newParentID string) error {
	newParent, err := e.store.GetMemopediaPage(newParentID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		page, err := e.store.GetMemopediaPage(id)
		if err != nil {
			return err
		}
		if isRoot(newParentID) && !page.IsTrunk {
			return weaveerr.Invalid("page %s must be a trunk page to move directly under a root", id)
		}
		cyclic, err := e.ancestryContains(newParentID, id)
		if err != nil {
			return err
		}
		if cyclic {
			return weaveerr.Invalid("moving page %s under %s would create a cycle", id, newParentID)
		}
		page.ParentID = newParentID
		page.Category = newParent.Category
		page.UpdatedAt = time.Now().Unix()
		if err := e.store.UpdateMemopediaPage(page); err != nil {
			return err
		}
	}
	return nil
}

// SearchPagesFiltered does a case-insensitive substring search over title,
// summary, content and keywords.
func (e *Engine) SearchPagesFiltered(query string, category store.PageCategory, limit int) ([]*store.MemopediaPage, error) {
	return e.store.SearchMemopediaPages(query, category, limit)
}

func (e *Engine) FindByTitle(title string, category store.PageCategory) (*store.MemopediaPage, error) {
	return e.store.FindMemopediaPageByTitle(title, category)
}

func (e *Engine) GetPageEditHistory(pageID string, limit int) ([]*store.MemopediaEdit, error) {
	return e.store.ListMemopediaEditHistory(pageID, limit)
}

// TreeNode is one node of get_tree's breadth-first output.
type TreeNode struct {
	Page     *store.MemopediaPage
	IsOpen   bool
	Children []*TreeNode
}

// GetTree returns the three category roots and their descendants. If
// threadID is non-empty, each node is annotated with whether it is open in
// that thread.
func (e *Engine) GetTree(threadID string) (map[store.PageCategory]*TreeNode, error) {
	var open map[string]bool
	if threadID != "" {
		ids, err := e.store.GetOpenPages(threadID)
		if err != nil {
			return nil, err
		}
		open = make(map[string]bool, len(ids))
		for _, id := range ids {
			open[id] = true
		}
	}

	build := func(rootID string) (*TreeNode, error) {
		root, err := e.store.GetMemopediaPage(rootID)
		if err != nil {
			return nil, err
		}
		return e.buildSubtree(root, open)
	}

	tree := make(map[store.PageCategory]*TreeNode, 3)
	for category, rootID := range map[store.PageCategory]string{
		store.CategoryPeople: store.RootPeople,
		store.CategoryTerms:  store.RootTerms,
		store.CategoryPlans:  store.RootPlans,
	} {
		node, err := build(rootID)
		if err != nil {
			return nil, err
		}
		tree[category] = node
	}
	return tree, nil
}

func (e *Engine) buildSubtree(page *store.MemopediaPage, open map[string]bool) (*TreeNode, error) {
	node := &TreeNode{Page: page, IsOpen: open[page.ID]}
	children, err := e.store.ListMemopediaChildren(page.ID)
	if err != nil {
		return nil, err
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Title < children[j].Title })
	for _, c := range children {
		childNode, err := e.buildSubtree(c, open)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, childNode)
	}
	return node, nil
}

// GetTreeMarkdown renders the tree as an indented outline suitable for
// prompt injection.
func (e *Engine) GetTreeMarkdown(includeKeywords, showMarkers bool) (string, error) {
	tree, err := e.GetTree("")
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, category := range []store.PageCategory{store.CategoryPeople, store.CategoryTerms, store.CategoryPlans} {
		root := tree[category]
		if root == nil {
			continue
		}
		fmt.Fprintf(&b, "# %s\n", category)
		for _, child := range root.Children {
			writeMarkdownNode(&b, child, 1, includeKeywords, showMarkers)
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func writeMarkdownNode(b *strings.Builder, node *TreeNode, depth int, includeKeywords, showMarkers bool) {
	indent := strings.Repeat("  ", depth)
	marker := ""
	if showMarkers {
		if node.Page.IsTrunk {
			marker += " [trunk]"
		}
		if node.Page.IsImportant {
			marker += " [important]"
		}
	}
	fmt.Fprintf(b, "%s- %s%s\n", indent, node.Page.Title, marker)
	if includeKeywords && len(node.Page.Keywords) > 0 {
		fmt.Fprintf(b, "%s  (%s)\n", indent, strings.Join(node.Page.Keywords, ", "))
	}
	for _, c := range node.Children {
		writeMarkdownNode(b, c, depth+1, includeKeywords, showMarkers)
	}
}
