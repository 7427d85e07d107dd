// Package chronicle implements the Chronicle hierarchy (§4.6): batch
// consolidation of messages into leveled summaries, and the episode-context
// assembler (§4.7) that reads that hierarchy back out for prompting.
// Grounded on the original arasuji/generator.py and arasuji/context.py.
package chronicle

import (
	"fmt"
	"sort"
	"strings"

	"github.com/saiverse/memoryweave/internal/store"
)

// ContextEntry is one entry in an assembled episode context, already
// resolved to its content and time span.
type ContextEntry struct {
	ID           string
	Level        int
	Content      string
	StartTime    int64
	EndTime      int64
	MessageCount int
}

// SummaryStats reports coverage across the whole Chronicle hierarchy.
type SummaryStats struct {
	TotalMessagesCovered int
	MaxLevel             int
	EntriesByLevel       map[int]int
	UnconsolidatedByLevel map[int]int
}

// Assembler reads the Chronicle hierarchy to build prompt-ready context.
type Assembler struct {
	store store.Storer
}

func NewAssembler(s store.Storer) *Assembler {
	return &Assembler{store: s}
}

func (a *Assembler) allSorted() ([]*store.ChronicleEntry, error) {
	return a.store.ListAllEntriesSortedByEndTimeDesc()
}

func entryByID(entries []*store.ChronicleEntry) map[string]*store.ChronicleEntry {
	out := make(map[string]*store.ChronicleEntry, len(entries))
	for _, e := range entries {
		out[e.ID] = e
	}
	return out
}

// findAtLevel returns the newest entry at level whose end_time <= position
// and whose id is not already in read, or nil.
func findAtLevel(sorted []*store.ChronicleEntry, level int, position int64, read map[string]bool) *store.ChronicleEntry {
	for _, e := range sorted {
		if e.Level != level {
			continue
		}
		if read[e.ID] {
			continue
		}
		if e.EndTime <= position {
			return e
		}
	}
	return nil
}

// markReadRecursive marks e and, transitively, every id it was consolidated
// from, so a later round never re-selects an entry already covered by a
// higher-level one that was picked first.
func markReadRecursive(e *store.ChronicleEntry, read map[string]bool, byID map[string]*store.ChronicleEntry) {
	if read[e.ID] {
		return
	}
	read[e.ID] = true
	for _, id := range e.SourceIDs {
		read[id] = true
		if child, ok := byID[id]; ok {
			markReadRecursive(child, read, byID)
		}
	}
}

func toContextEntry(e *store.ChronicleEntry) ContextEntry {
	return ContextEntry{
		ID:           e.ID,
		Level:        e.Level,
		Content:      e.Content,
		StartTime:    e.StartTime,
		EndTime:      e.EndTime,
		MessageCount: e.MessageCount,
	}
}

// GetEpisodeContext implements the reverse-level-promotion walk: starting
// from the most recent moment covered by any entry, repeatedly prefer the
// highest available level not yet read, falling back to lower levels, and
// step the cursor back before the chosen entry's start. Returns up to
// maxEntries entries, oldest first.
func (a *Assembler) GetEpisodeContext(maxEntries int) ([]ContextEntry, error) {
	sorted, err := a.allSorted()
	if err != nil {
		return nil, err
	}
	if len(sorted) == 0 {
		return nil, nil
	}
	byID := entryByID(sorted)

	position := sorted[0].EndTime
	currentLevel := 0
	read := make(map[string]bool)
	var result []ContextEntry

	for len(result) < maxEntries {
		var found *store.ChronicleEntry
		for tryLevel := currentLevel + 1; tryLevel >= 1; tryLevel-- {
			if e := findAtLevel(sorted, tryLevel, position, read); e != nil {
				found = e
				break
			}
		}
		if found == nil {
			break
		}
		result = append(result, toContextEntry(found))
		markReadRecursive(found, read, byID)
		currentLevel = found.Level
		position = found.StartTime - 1
	}

	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result, nil
}

// levelName renders level 1 as "あらすじ" and each level above that as one
// more "のあらすじ" nested onto it.
func levelName(level int) string {
	if level <= 1 {
		return "あらすじ"
	}
	return "あらすじ" + strings.Repeat("のあらすじ", level-1)
}

// FormatEpisodeContext renders entries as a leveled, chronological brief
// suitable for splicing into a generation prompt. A header is emitted each
// time the level changes.
func FormatEpisodeContext(entries []ContextEntry) string {
	if len(entries) == 0 {
		return ""
	}
	var b strings.Builder
	prevLevel := -1
	for _, e := range entries {
		if e.Level != prevLevel {
			fmt.Fprintf(&b, "### %s\n", levelName(e.Level))
			prevLevel = e.Level
		}
		fmt.Fprintf(&b, "%s\n\n", e.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

// GetEpisodeContextForTimerange returns up to limit entries, of any level,
// ending at or before end, oldest first. Used both for the temporal context
// a new entry is written against and for arbitrary historical lookups.
func (a *Assembler) GetEpisodeContextForTimerange(end int64, limit int) ([]ContextEntry, error) {
	sorted, err := a.allSorted()
	if err != nil {
		return nil, err
	}
	var matched []*store.ChronicleEntry
	for _, e := range sorted {
		if e.EndTime <= end {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].EndTime < matched[j].EndTime })
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	out := make([]ContextEntry, len(matched))
	for i, e := range matched {
		out[i] = toContextEntry(e)
	}
	return out, nil
}

// GetEpisodeSummaryStats reports coverage across the hierarchy.
func (a *Assembler) GetEpisodeSummaryStats() (*SummaryStats, error) {
	total, err := a.store.TotalMessageCountCovered()
	if err != nil {
		return nil, err
	}
	maxLevel, err := a.store.MaxLevel()
	if err != nil {
		return nil, err
	}
	byLevel, err := a.store.CountEntriesByLevel()
	if err != nil {
		return nil, err
	}
	unconsolidated := make(map[int]int, maxLevel)
	for level := 1; level <= maxLevel; level++ {
		entries, err := a.store.ListUnconsolidatedEntries(level)
		if err != nil {
			return nil, err
		}
		unconsolidated[level] = len(entries)
	}
	return &SummaryStats{
		TotalMessagesCovered: total,
		MaxLevel:             maxLevel,
		EntriesByLevel:       byLevel,
		UnconsolidatedByLevel: unconsolidated,
	}, nil
}
