package memopedia

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/orsinium-labs/stopwords"
	"github.com/rs/zerolog"

	"github.com/saiverse/memoryweave/internal/chronicle"
	"github.com/saiverse/memoryweave/internal/recall"
	"github.com/saiverse/memoryweave/internal/store"
	"github.com/saiverse/memoryweave/pkg/llm"
)

// GeneratorConfig tunes the deep-research loop (§4.9).
type GeneratorConfig struct {
	MaxLoops      int
	ContextWindow int
	TopK          int
	Scope         recall.Scope
	ThreadID      string
	ResourceID    string
}

func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{MaxLoops: 5, ContextWindow: 3, TopK: 5, Scope: recall.ScopeResource}
}

// Generator runs the deep-research loop that turns a keyword into a new or
// updated Memopedia page. Grounded on
// original_source/sai_memory/memopedia/generator.py.
type Generator struct {
	engine     *Engine
	recall     *recall.Engine
	assembler  *chronicle.Assembler
	llmClient  llm.Client
	usage      llm.UsageRecorder
	config     GeneratorConfig
	stopwords  *stopwords.Stopwords
	log        zerolog.Logger
}

func NewGenerator(engine *Engine, recallEngine *recall.Engine, assembler *chronicle.Assembler, client llm.Client, cfg GeneratorConfig, usage llm.UsageRecorder, log zerolog.Logger) *Generator {
	return &Generator{
		engine:    engine,
		recall:    recallEngine,
		assembler: assembler,
		llmClient: client,
		config:    cfg,
		usage:     usage,
		stopwords: stopwords.MustGet("en"),
		log:       log,
	}
}

const completionMarker = "完了"

// Result is the outcome of one deep-research run.
type Result struct {
	Action         string // "created", "updated", or "" on error
	Page           *store.MemopediaPage
	LoopsCompleted int
	Error          string
}

// Generate runs the loop described in §4.9: repeatedly query, recall,
// extract, and check sufficiency, then compose and file a page.
func (g *Generator) Generate(ctx context.Context, keyword, directions string, category store.PageCategory) (*Result, error) {
	accumulated := ""
	processedIDs := make(map[string]bool)
	var queriesTried []string
	loopsCompleted := 0

	for loop := 1; loop <= g.config.MaxLoops; loop++ {
		loopsCompleted = loop

		var query string
		if loop == 1 {
			query = keyword
		} else {
			q, err := g.nextQuery(ctx, keyword, accumulated, queriesTried)
			if err != nil {
				return nil, err
			}
			query = q
		}
		if query == completionMarker || contains(queriesTried, query) {
			break
		}
		queriesTried = append(queriesTried, query)

		msgs, err := g.recall.SemanticRecall(ctx, recall.Query{
			Text:       query,
			ThreadID:   g.config.ThreadID,
			ResourceID: g.config.ResourceID,
			Scope:      g.config.Scope,
			TopK:       g.config.TopK,
		})
		if err != nil {
			return nil, err
		}

		var newIDs []string
		for _, m := range msgs {
			if !processedIDs[m.ID] {
				newIDs = append(newIDs, m.ID)
			}
		}
		if len(newIDs) == 0 {
			continue
		}

		firstThree := newIDs
		if len(firstThree) > 3 {
			firstThree = firstThree[:3]
		}
		byID := make(map[string]*store.Message, len(msgs))
		for _, m := range msgs {
			byID[m.ID] = m
		}

		var contextMsgs []*store.Message
		seen := make(map[string]bool)
		for _, id := range firstThree {
			seed, ok := byID[id]
			if !ok {
				continue
			}
			window, err := g.recall.MessagesAround(seed, g.config.ContextWindow, g.config.ContextWindow)
			if err != nil {
				return nil, err
			}
			for _, m := range window {
				if !seen[m.ID] {
					seen[m.ID] = true
					contextMsgs = append(contextMsgs, m)
				}
			}
		}
		for _, id := range newIDs {
			processedIDs[id] = true
		}
		sort.Slice(contextMsgs, func(i, j int) bool {
			if contextMsgs[i].CreatedAt != contextMsgs[j].CreatedAt {
				return contextMsgs[i].CreatedAt < contextMsgs[j].CreatedAt
			}
			return contextMsgs[i].ID < contextMsgs[j].ID
		})

		chronicleCtx, memopediaBrief, err := g.briefs()
		if err != nil {
			return nil, err
		}

		extracted, err := g.extract(ctx, keyword, directions, chronicleCtx, memopediaBrief, contextMsgs, accumulated)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(extracted) != "" {
			if accumulated == "" {
				accumulated = extracted
			} else {
				accumulated = accumulated + "\n\n" + extracted
			}
		}

		sufficient, err := g.sufficient(ctx, keyword, accumulated)
		if err != nil {
			return nil, err
		}
		if sufficient {
			break
		}
	}

	if strings.TrimSpace(accumulated) == "" {
		return &Result{Error: "no_info_collected", LoopsCompleted: loopsCompleted}, nil
	}

	chronicleCtx, memopediaBrief, err := g.briefs()
	if err != nil {
		return nil, err
	}
	composed, err := g.compose(ctx, keyword, directions, category, accumulated, memopediaBrief, chronicleCtx)
	if err != nil {
		return nil, err
	}
	if len(composed.Keywords) == 0 {
		composed.Keywords = g.deriveKeywords(composed.Title + " " + composed.Content)
	}

	existing, err := g.engine.FindByTitle(composed.Title, composed.Category)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if _, err := g.engine.AppendToContent(existing.ID, composed.Content, "memopedia_generator"); err != nil {
			return nil, err
		}
		summary := composed.Summary
		updated, err := g.engine.UpdatePage(existing.ID, PageFields{Summary: &summary}, "memopedia_generator")
		if err != nil {
			return nil, err
		}
		return &Result{Action: "updated", Page: updated, LoopsCompleted: loopsCompleted}, nil
	}

	root := rootForCategory(composed.Category)
	created, err := g.engine.CreatePage(root, composed.Title, composed.Summary, composed.Content, composed.Keywords, store.VividnessRough, false, "memopedia_generator")
	if err != nil {
		return nil, err
	}
	return &Result{Action: "created", Page: created, LoopsCompleted: loopsCompleted}, nil
}

func rootForCategory(category store.PageCategory) string {
	switch category {
	case store.CategoryPeople:
		return store.RootPeople
	case store.CategoryPlans:
		return store.RootPlans
	default:
		return store.RootTerms
	}
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// briefs assembles the shared chronicle/memopedia context spliced into every
// prompt in the loop.
func (g *Generator) briefs() (chronicleCtx, memopediaBrief string, err error) {
	entries, err := g.assembler.GetEpisodeContext(10)
	if err != nil {
		return "", "", err
	}
	chronicleCtx = chronicle.FormatEpisodeContext(entries)
	memopediaBrief, err = g.engine.GetTreeMarkdown(false, false)
	if err != nil {
		return "", "", err
	}
	return chronicleCtx, memopediaBrief, nil
}

// deriveKeywords falls back to stopword-filtered tokens when the compose
// prompt's response came back without keywords.
func (g *Generator) deriveKeywords(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	seen := make(map[string]bool)
	var out []string
	for _, f := range fields {
		f = strings.Trim(f, ".,!?:;\"'()[]")
		if f == "" || g.stopwords.Contains(f) || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
		if len(out) >= 8 {
			break
		}
	}
	return out
}

func formatContextMessages(msgs []*store.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

var nextQuerySchema = json.RawMessage(`{
	"type": "object",
	"properties": {"query": {"type": "string"}},
	"required": ["query"]
}`)

func (g *Generator) nextQuery(ctx context.Context, keyword, accumulated string, tried []string) (string, error) {
	prompt := "keyword: " + keyword + "\n" +
		"accumulated so far:\n" + accumulated + "\n" +
		"queries already tried: " + strings.Join(tried, ", ") + "\n" +
		"Propose the next search query to deepen research on this keyword, or reply with exactly 完了 if nothing more is needed."
	raw, err := g.llmClient.Generate(ctx, []llm.ChatMessage{{Role: "user", Content: prompt}}, nextQuerySchema)
	if err != nil {
		return "", err
	}
	var resp struct {
		Query string `json:"query"`
	}
	if err := parseJSON(raw, &resp); err != nil {
		return strings.TrimSpace(raw), nil
	}
	return strings.TrimSpace(resp.Query), nil
}

var extractSchema = json.RawMessage(`{
	"type": "object",
	"properties": {"extracted": {"type": "string"}},
	"required": ["extracted"]
}`)

func (g *Generator) extract(ctx context.Context, keyword, directions, chronicleCtx, memopediaBrief string, msgs []*store.Message, accumulated string) (string, error) {
	var b strings.Builder
	b.WriteString("keyword: " + keyword + "\n")
	if directions != "" {
		b.WriteString("directions: " + directions + "\n")
	}
	b.WriteString("past context:\n" + chronicleCtx + "\n\n")
	b.WriteString("known pages:\n" + memopediaBrief + "\n\n")
	b.WriteString("new material:\n" + formatContextMessages(msgs) + "\n\n")
	b.WriteString("already accumulated:\n" + accumulated + "\n\n")
	b.WriteString("Extract any new facts about the keyword from the new material. Reply with an empty string if there is nothing new.")

	raw, err := g.llmClient.Generate(ctx, []llm.ChatMessage{{Role: "user", Content: b.String()}}, extractSchema)
	if err != nil {
		return "", err
	}
	var resp struct {
		Extracted string `json:"extracted"`
	}
	if err := parseJSON(raw, &resp); err != nil {
		return strings.TrimSpace(raw), nil
	}
	return strings.TrimSpace(resp.Extracted), nil
}

var sufficientSchema = json.RawMessage(`{
	"type": "object",
	"properties": {"sufficient": {"type": "boolean"}},
	"required": ["sufficient"]
}`)

func (g *Generator) sufficient(ctx context.Context, keyword, accumulated string) (bool, error) {
	prompt := "keyword: " + keyword + "\naccumulated:\n" + accumulated +
		"\nIs this enough to write a complete page about the keyword?"
	raw, err := g.llmClient.Generate(ctx, []llm.ChatMessage{{Role: "user", Content: prompt}}, sufficientSchema)
	if err != nil {
		return false, err
	}
	var resp struct {
		Sufficient bool `json:"sufficient"`
	}
	if err := parseJSON(raw, &resp); err != nil {
		return false, nil
	}
	return resp.Sufficient, nil
}

type composedPage struct {
	Title    string              `json:"title"`
	Summary  string              `json:"summary"`
	Content  string              `json:"content"`
	Category store.PageCategory  `json:"category"`
	Keywords []string            `json:"keywords"`
}

var composeSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"title": {"type": "string"},
		"summary": {"type": "string"},
		"content": {"type": "string"},
		"category": {"type": "string", "enum": ["people", "terms", "plans"]},
		"keywords": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["title", "summary", "content", "category"]
}`)

func (g *Generator) compose(ctx context.Context, keyword, directions string, category store.PageCategory, accumulated, memopediaBrief, chronicleCtx string) (*composedPage, error) {
	var b strings.Builder
	b.WriteString("keyword: " + keyword + "\n")
	if directions != "" {
		b.WriteString("directions: " + directions + "\n")
	}
	if category != "" {
		b.WriteString("category: " + string(category) + "\n")
	}
	b.WriteString("past context:\n" + chronicleCtx + "\n\n")
	b.WriteString("known pages:\n" + memopediaBrief + "\n\n")
	b.WriteString("collected material:\n" + accumulated + "\n\n")
	b.WriteString("Compose a Memopedia page: a short title, a one-sentence summary, and a content body.")

	raw, err := g.llmClient.Generate(ctx, []llm.ChatMessage{{Role: "user", Content: b.String()}}, composeSchema)
	if err != nil {
		return nil, err
	}
	var page composedPage
	if err := parseJSON(raw, &page); err != nil {
		page = composedPage{Title: keyword, Summary: accumulated, Content: accumulated, Category: category}
	}
	if page.Category == "" {
		page.Category = category
	}
	if page.Category == "" {
		page.Category = store.CategoryTerms
	}
	return &page, nil
}

// parseJSON strips a markdown code fence (as LLM responses sometimes wrap
// JSON in one) before unmarshaling.
func parseJSON(raw string, v any) error {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```") {
		lines := strings.Split(cleaned, "\n")
		if len(lines) > 0 {
			lines = lines[1:]
		}
		if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
			lines = lines[:len(lines)-1]
		}
		cleaned = strings.Join(lines, "\n")
	}
	return json.Unmarshal([]byte(cleaned), v)
}
