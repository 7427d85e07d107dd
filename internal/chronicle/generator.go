package chronicle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/saiverse/memoryweave/internal/store"
	"github.com/saiverse/memoryweave/pkg/llm"
	"github.com/saiverse/memoryweave/pkg/weaveerr"
)

// Config tunes the generator's batching and consolidation thresholds.
type Config struct {
	BatchSize         int // messages per level-1 entry
	ConsolidationSize int // entries merged into the level above
	IncludeTimestamp  bool
	MemopediaBrief    string // optional Memopedia context spliced into prompts
}

func DefaultConfig() Config {
	return Config{BatchSize: 20, ConsolidationSize: 10}
}

// Generator produces and maintains the Chronicle hierarchy for one persona.
type Generator struct {
	store     store.Storer
	llmClient llm.Client
	assembler *Assembler
	config    Config
	usage     llm.UsageRecorder
	log       zerolog.Logger
}

func NewGenerator(s store.Storer, client llm.Client, cfg Config, usage llm.UsageRecorder, log zerolog.Logger) *Generator {
	return &Generator{
		store:     s,
		llmClient: client,
		assembler: NewAssembler(s),
		config:    cfg,
		usage:     usage,
		log:       log.With().Str("component", "chronicle").Logger(),
	}
}

const maxDBRetries = 3

// retryWrite retries a store write up to maxDBRetries times on transient-IO
// failures, sleeping 2**attempt seconds between attempts (1s, 2s) and giving
// up without a final sleep.
func retryWrite(fn func() error) error {
	var err error
	for attempt := 0; attempt < maxDBRetries; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !weaveerr.Of(err, weaveerr.KindTransientIO) {
			return err
		}
		if attempt < maxDBRetries-1 {
			time.Sleep(time.Duration(1<<attempt) * time.Second)
		}
	}
	return err
}

// processedMessageIDs is the authoritative "already part of a level-1 entry"
// set, derived from source_ids rather than the advisory progress bookmark.
func (g *Generator) processedMessageIDs() (map[string]bool, error) {
	entries, err := g.store.ListChronicleEntriesByLevel(1)
	if err != nil {
		return nil, err
	}
	processed := make(map[string]bool)
	for _, e := range entries {
		for _, id := range e.SourceIDs {
			processed[id] = true
		}
	}
	return processed, nil
}

func splitIntoRuns(messages []*store.Message, processed map[string]bool) [][]*store.Message {
	var runs [][]*store.Message
	var current []*store.Message
	for _, m := range messages {
		if processed[m.ID] {
			if len(current) > 0 {
				runs = append(runs, current)
				current = nil
			}
			continue
		}
		current = append(current, m)
	}
	if len(current) > 0 {
		runs = append(runs, current)
	}
	return runs
}

func splitWindows(run []*store.Message, batchSize int) [][]*store.Message {
	var windows [][]*store.Message
	for i := 0; i+batchSize <= len(run); i += batchSize {
		windows = append(windows, run[i:i+batchSize])
	}
	return windows
}

// GenerateUnprocessed scans every message in chronological order, groups the
// unprocessed stretches into runs, and generates level-1 entries for every
// run at least config.BatchSize long. cancelled, if non-nil, is polled
// between windows so a long backlog can be interrupted without losing the
// windows already persisted. maxMessages caps the number of messages
// consumed this call (0 = unlimited), truncating the final run.
func (g *Generator) GenerateUnprocessed(ctx context.Context, maxMessages int, cancelled func() bool) (int, error) {
	processed, err := g.processedMessageIDs()
	if err != nil {
		return 0, err
	}
	all, err := g.store.ListAllMessagesChronological()
	if err != nil {
		return 0, err
	}

	runs := splitIntoRuns(all, processed)
	var qualifying [][]*store.Message
	for _, run := range runs {
		if len(run) >= g.config.BatchSize {
			qualifying = append(qualifying, run)
		}
	}

	if maxMessages > 0 {
		var capped [][]*store.Message
		total := 0
		for _, run := range qualifying {
			if total >= maxMessages {
				break
			}
			remaining := maxMessages - total
			if len(run) <= remaining {
				capped = append(capped, run)
				total += len(run)
			} else {
				capped = append(capped, run[:remaining])
				total = maxMessages
				break
			}
		}
		qualifying = capped
	}

	created := 0
	for _, run := range qualifying {
		if cancelled != nil && cancelled() {
			return created, nil
		}
		n, err := g.generateFromMessages(ctx, run, nil, cancelled)
		created += n
		if err != nil {
			return created, err
		}
	}
	return created, nil
}

// GenerateFromMessages splits run into fixed-size windows, dropping an
// incomplete trailing window, and generates one level-1 entry per window.
// perBatchCallback, if non-nil, is invoked after each window is persisted.
func (g *Generator) GenerateFromMessages(ctx context.Context, run []*store.Message, perBatchCallback func([]*store.Message)) (int, error) {
	return g.generateFromMessages(ctx, run, perBatchCallback, nil)
}

// generateFromMessages is GenerateFromMessages with an optional cancelled
// poll, checked before each window.
func (g *Generator) generateFromMessages(ctx context.Context, run []*store.Message, perBatchCallback func([]*store.Message), cancelled func() bool) (int, error) {
	windows := splitWindows(run, g.config.BatchSize)
	runEntryIDs := make([]string, 0, len(windows))
	created := 0

	for _, window := range windows {
		if cancelled != nil && cancelled() {
			return created, nil
		}
		entry, err := g.generateLevel1(ctx, window)
		if err != nil {
			return created, err
		}
		if err := retryWrite(func() error { return g.store.CreateChronicleEntry(entry) }); err != nil {
			return created, err
		}
		runEntryIDs = append(runEntryIDs, entry.ID)
		created++

		covering, err := g.store.FindCoveringEntry(entry.Level+1, entry.StartTime, entry.EndTime, runEntryIDs)
		if err != nil {
			return created, err
		}
		if covering != nil {
			if err := g.IntegrateGapFill(ctx, entry, covering); err != nil {
				return created, err
			}
		} else if err := g.maybeConsolidate(ctx, 1); err != nil {
			return created, err
		}

		if perBatchCallback != nil {
			perBatchCallback(window)
		}
	}
	return created, nil
}

func windowSpan(window []*store.Message) (start, end int64) {
	start, end = window[0].CreatedAt, window[0].CreatedAt
	for _, m := range window {
		if m.CreatedAt < start {
			start = m.CreatedAt
		}
		if m.CreatedAt > end {
			end = m.CreatedAt
		}
	}
	return start, end
}

func formatWindow(window []*store.Message, includeTimestamp bool) string {
	var b strings.Builder
	for _, m := range window {
		if includeTimestamp {
			fmt.Fprintf(&b, "[%s] %s: %s\n", time.Unix(m.CreatedAt, 0).UTC().Format(time.RFC3339), m.Role, m.Content)
		} else {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
	}
	return b.String()
}

func messageIDs(window []*store.Message) []string {
	ids := make([]string, len(window))
	for i, m := range window {
		ids[i] = m.ID
	}
	return ids
}

func (g *Generator) generateLevel1(ctx context.Context, window []*store.Message) (*store.ChronicleEntry, error) {
	start, end := windowSpan(window)

	pastContext, err := g.assembler.GetEpisodeContextForTimerange(end, 20)
	if err != nil {
		return nil, err
	}

	var prompt strings.Builder
	prompt.WriteString("あなたは会話ログから簡潔な物語風の要約（あらすじ）を作成するアシスタントです。以下の会話を3〜6文の過去形の物語として要約してください。\n\n")
	if formatted := FormatEpisodeContext(pastContext); formatted != "" {
		prompt.WriteString("## これまでの文脈\n")
		prompt.WriteString(formatted)
		prompt.WriteString("\n\n")
	}
	if g.config.MemopediaBrief != "" {
		prompt.WriteString("## 関連知識\n")
		prompt.WriteString(g.config.MemopediaBrief)
		prompt.WriteString("\n\n")
	}
	prompt.WriteString("## 会話\n")
	prompt.WriteString(formatWindow(window, g.config.IncludeTimestamp))

	response, err := g.llmClient.Generate(ctx, []llm.ChatMessage{{Role: "user", Content: prompt.String()}}, nil)
	if err != nil {
		if werr, ok := err.(*weaveerr.Error); ok {
			return nil, werr.WithBatchMeta(weaveerr.BatchMeta{MessageIDs: messageIDs(window), StartTime: &start, EndTime: &end})
		}
		return nil, err
	}

	return &store.ChronicleEntry{
		ID:           uuid.NewString(),
		Level:        1,
		Content:      response,
		SourceIDs:    messageIDs(window),
		StartTime:    start,
		EndTime:      end,
		SourceCount:  len(window),
		MessageCount: len(window),
		CreatedAt:    time.Now().Unix(),
	}, nil
}

// maybeConsolidate repeatedly merges config.ConsolidationSize unconsolidated
// entries at level into one entry at level+1, cascading upward, until fewer
// than config.ConsolidationSize entries remain unconsolidated at level.
func (g *Generator) maybeConsolidate(ctx context.Context, level int) error {
	for {
		unconsolidated, err := g.store.ListUnconsolidatedEntries(level)
		if err != nil {
			return err
		}
		if len(unconsolidated) < g.config.ConsolidationSize {
			return nil
		}
		batch := unconsolidated[:g.config.ConsolidationSize]

		parent, err := g.generateConsolidated(ctx, batch)
		if err != nil {
			return err
		}
		if err := retryWrite(func() error { return g.store.CreateChronicleEntry(parent) }); err != nil {
			return err
		}
		for _, child := range batch {
			child.IsConsolidated = true
			child.ParentID = parent.ID
			if err := retryWrite(func() error { return g.store.UpdateChronicleEntry(child) }); err != nil {
				return err
			}
		}
		if err := g.maybeConsolidate(ctx, level+1); err != nil {
			return err
		}
	}
}

func formatChildren(children []*store.ChronicleEntry) string {
	var b strings.Builder
	for _, c := range children {
		fmt.Fprintf(&b, "%s\n\n", c.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (g *Generator) generateConsolidated(ctx context.Context, children []*store.ChronicleEntry) (*store.ChronicleEntry, error) {
	start, end := children[0].StartTime, children[0].EndTime
	messageCount := 0
	childIDs := make([]string, len(children))
	for i, c := range children {
		if c.StartTime < start {
			start = c.StartTime
		}
		if c.EndTime > end {
			end = c.EndTime
		}
		messageCount += c.MessageCount
		childIDs[i] = c.ID
	}

	pastContext, err := g.assembler.GetEpisodeContextForTimerange(start-1, 20)
	if err != nil {
		return nil, err
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "以下の%d件の要約を、一つのより上位の物語にまとめてください。5〜8文の過去形で、流れを保ったまま統合してください。\n\n", len(children))
	if formatted := FormatEpisodeContext(pastContext); formatted != "" {
		prompt.WriteString("## これまでの文脈\n")
		prompt.WriteString(formatted)
		prompt.WriteString("\n\n")
	}
	prompt.WriteString("## 統合対象\n")
	prompt.WriteString(formatChildren(children))

	response, err := g.llmClient.Generate(ctx, []llm.ChatMessage{{Role: "user", Content: prompt.String()}}, nil)
	if err != nil {
		return nil, err
	}

	return &store.ChronicleEntry{
		ID:           uuid.NewString(),
		Level:        children[0].Level + 1,
		Content:      response,
		SourceIDs:    childIDs,
		StartTime:    start,
		EndTime:      end,
		SourceCount:  len(children),
		MessageCount: messageCount,
		CreatedAt:    time.Now().Unix(),
	}, nil
}

// IntegrateGapFill attaches a late-arriving entry to a pre-existing,
// temporally-covering higher-level entry instead of leaving it to be picked
// up by ordinary consolidation, then regenerates the covering entry's
// content in place so it reflects the newly folded-in material.
func (g *Generator) IntegrateGapFill(ctx context.Context, entry *store.ChronicleEntry, covering *store.ChronicleEntry) error {
	entry.IsConsolidated = true
	entry.ParentID = covering.ID
	if err := retryWrite(func() error { return g.store.UpdateChronicleEntry(entry) }); err != nil {
		return err
	}
	covering.SourceIDs = append(covering.SourceIDs, entry.ID)
	if err := retryWrite(func() error { return g.store.UpdateChronicleEntry(covering) }); err != nil {
		return err
	}
	return g.RegenerateConsolidatedContent(ctx, covering.ID)
}

// regenerateContent recomputes one entry's content and aggregates from its
// current source_ids (messages for a level-1 entry, child entries above
// that), then persists the entry in place. It does not cascade.
func (g *Generator) regenerateContent(ctx context.Context, entry *store.ChronicleEntry) error {
	if entry.Level == 1 {
		window := make([]*store.Message, 0, len(entry.SourceIDs))
		for _, id := range entry.SourceIDs {
			m, err := g.store.GetMessage(id)
			if err != nil {
				return err
			}
			window = append(window, m)
		}
		fresh, err := g.generateLevel1(ctx, window)
		if err != nil {
			return err
		}
		entry.Content = fresh.Content
		entry.StartTime = fresh.StartTime
		entry.EndTime = fresh.EndTime
		entry.SourceCount = fresh.SourceCount
		entry.MessageCount = fresh.MessageCount
		return g.store.UpdateChronicleEntry(entry)
	}

	children := make([]*store.ChronicleEntry, 0, len(entry.SourceIDs))
	for _, id := range entry.SourceIDs {
		c, err := g.store.GetChronicleEntry(id)
		if err != nil {
			return err
		}
		children = append(children, c)
	}
	fresh, err := g.generateConsolidated(ctx, children)
	if err != nil {
		return err
	}
	entry.Content = fresh.Content
	entry.StartTime = fresh.StartTime
	entry.EndTime = fresh.EndTime
	entry.SourceCount = fresh.SourceCount
	entry.MessageCount = fresh.MessageCount
	return g.store.UpdateChronicleEntry(entry)
}

// RegenerateConsolidatedContent regenerates entry id in place and cascades
// the same regeneration up through every ancestor, since an ancestor's
// content was derived in part from this entry's old content. A failure
// partway up is logged and stops the cascade; entries already regenerated
// below it are not rolled back.
func (g *Generator) RegenerateConsolidatedContent(ctx context.Context, id string) error {
	entry, err := g.store.GetChronicleEntry(id)
	if err != nil {
		return err
	}
	if err := g.regenerateContent(ctx, entry); err != nil {
		return err
	}
	if entry.ParentID == "" {
		return nil
	}
	if err := g.RegenerateConsolidatedContent(ctx, entry.ParentID); err != nil {
		g.log.Warn().Err(err).Str("entry_id", entry.ParentID).Msg("cascade regeneration stopped")
	}
	return nil
}

// RegenerateEntry is the user-triggered regeneration of a single entry: it
// preserves the entry's id, level, parent_id and consolidation links, only
// recomputing content and aggregates from its existing source_ids. Unlike
// RegenerateConsolidatedContent it does not cascade to ancestors.
func (g *Generator) RegenerateEntry(ctx context.Context, id string) error {
	entry, err := g.store.GetChronicleEntry(id)
	if err != nil {
		return err
	}
	return g.regenerateContent(ctx, entry)
}

func (g *Generator) Assembler() *Assembler {
	return g.assembler
}
