// Package recall implements the Recall engine (§4.5): cosine top-k over
// embeddings, neighbor-window expansion, grouping, dedup and tag filtering.
// Grounded on the original recall.py's semantic_recall/semantic_recall_groups.
package recall

import (
	"context"
	"encoding/json"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/saiverse/memoryweave/internal/store"
	"github.com/saiverse/memoryweave/pkg/llm"
)

// Scope selects the corpus semantic_recall searches over.
type Scope string

const (
	ScopeThread   Scope = "thread"
	ScopeResource Scope = "resource"
)

// Query bundles semantic_recall's parameters.
type Query struct {
	Text          string
	ThreadID      string
	ResourceID    string
	TopK          int
	RangeBefore   int
	RangeAfter    int
	Scope         Scope
	RequiredTags  []string
	ExcludeIDs    []string
}

// Group is one (seed, bundle, score) result from semantic_recall_groups.
type Group struct {
	Seed   *store.Message
	Bundle []*store.Message
	Score  float32
}

// Engine runs recall queries against one persona's store.
type Engine struct {
	store    store.Storer
	embedder llm.Embedder
	log      zerolog.Logger
}

func NewEngine(s store.Storer, embedder llm.Embedder, log zerolog.Logger) *Engine {
	return &Engine{store: s, embedder: embedder, log: log.With().Str("component", "recall").Logger()}
}

type scoredChunk struct {
	msg        *store.Message
	score      float32
	chunkIndex int
}

// loadScored embeds the query, loads the corpus for q.Scope, and returns the
// best-scoring chunk per message (deduped), sorted by descending score.
func (e *Engine) loadScored(ctx context.Context, q Query) ([]scoredChunk, error) {
	vectors, err := e.embedder.Embed(ctx, []string{q.Text}, true)
	if err != nil {
		return nil, err
	}
	query := vectors[0]
	dim := len(query)

	var embeddings map[string][]store.EmbeddingChunk
	var messages map[string]*store.Message

	if q.Scope == ScopeResource && q.ResourceID != "" {
		embeddings, err = e.store.ListEmbeddingsForResource(q.ResourceID)
		if err != nil {
			return nil, err
		}
		msgs, err := e.store.ListMessagesByResource(q.ResourceID)
		if err != nil {
			return nil, err
		}
		messages = indexByID(msgs)
	} else {
		embeddings, err = e.store.ListEmbeddingsForThread(q.ThreadID)
		if err != nil {
			return nil, err
		}
		msgs, err := e.store.ListThreadMessages(q.ThreadID, 0, math.MaxInt32)
		if err != nil {
			return nil, err
		}
		messages = indexByID(msgs)
	}

	exclude := toSet(q.ExcludeIDs)

	best := make(map[string]scoredChunk)
	for msgID, chunks := range embeddings {
		msg, ok := messages[msgID]
		if !ok || exclude[msgID] {
			continue
		}
		if !hasAllTags(msg, q.RequiredTags) {
			continue
		}
		for _, c := range chunks {
			if len(c.Vector) != dim {
				e.log.Warn().Str("message_id", msgID).Int("chunk_index", c.ChunkIndex).
					Int("want_dim", dim).Int("got_dim", len(c.Vector)).
					Msg("skipping chunk with mismatched embedding dimension")
				continue
			}
			score := cosineSim(query, c.Vector)
			if cur, ok := best[msgID]; !ok || score > cur.score {
				best[msgID] = scoredChunk{msg: msg, score: score, chunkIndex: c.ChunkIndex}
			}
		}
	}

	scored := make([]scoredChunk, 0, len(best))
	for _, sc := range best {
		scored = append(scored, sc)
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	return scored, nil
}

func indexByID(msgs []*store.Message) map[string]*store.Message {
	out := make(map[string]*store.Message, len(msgs))
	for _, m := range msgs {
		out[m.ID] = m
	}
	return out
}

func toSet(ids []string) map[string]bool {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

func hasAllTags(msg *store.Message, required []string) bool {
	if len(required) == 0 {
		return true
	}
	if msg.Metadata == "" {
		return false
	}
	var meta struct {
		Tags []string `json:"tags"`
	}
	if err := json.Unmarshal([]byte(msg.Metadata), &meta); err != nil {
		return false
	}
	have := toSet(meta.Tags)
	for _, tag := range required {
		if !have[tag] {
			return false
		}
	}
	return true
}

func cosineSim(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(na) * math.Sqrt(nb)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}

// neighborsAround returns up to rangeBefore/rangeAfter neighbors of seed in
// its thread, ordered chronologically around it.
func (e *Engine) neighborsAround(seed *store.Message, rangeBefore, rangeAfter int) ([]*store.Message, error) {
	all, err := e.store.ListThreadMessages(seed.ThreadID, 0, math.MaxInt32)
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt != all[j].CreatedAt {
			return all[i].CreatedAt < all[j].CreatedAt
		}
		return all[i].ID < all[j].ID
	})

	idx := -1
	for i, m := range all {
		if m.ID == seed.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return []*store.Message{seed}, nil
	}

	start := idx - rangeBefore
	if start < 0 {
		start = 0
	}
	end := idx + rangeAfter
	if end > len(all)-1 {
		end = len(all) - 1
	}
	return all[start : end+1], nil
}

// MessagesAround returns msg and up to before/after of its chronological
// thread neighbors, used wherever a caller already has a message id and
// wants surrounding context rather than a fresh similarity search.
func (e *Engine) MessagesAround(msg *store.Message, before, after int) ([]*store.Message, error) {
	return e.neighborsAround(msg, before, after)
}

// SemanticRecall implements §4.5's semantic_recall.
func (e *Engine) SemanticRecall(ctx context.Context, q Query) ([]*store.Message, error) {
	scored, err := e.loadScored(ctx, q)
	if err != nil {
		return nil, err
	}
	topK := q.TopK
	if topK > len(scored) {
		topK = len(scored)
	}
	if topK < 0 {
		topK = 0
	}
	picked := scored[:topK]

	seen := make(map[string]bool)
	var out []*store.Message
	for _, sc := range picked {
		bundle, err := e.neighborsAround(sc.msg, q.RangeBefore, q.RangeAfter)
		if err != nil {
			return nil, err
		}
		for _, m := range bundle {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SemanticRecallGroups implements §4.5's semantic_recall_groups.
func (e *Engine) SemanticRecallGroups(ctx context.Context, q Query) ([]Group, error) {
	scored, err := e.loadScored(ctx, q)
	if err != nil {
		return nil, err
	}
	topK := q.TopK
	if topK > len(scored) {
		topK = len(scored)
	}
	if topK < 0 {
		topK = 0
	}
	picked := scored[:topK]

	groups := make([]Group, 0, len(picked))
	for _, sc := range picked {
		bundle, err := e.neighborsAround(sc.msg, q.RangeBefore, q.RangeAfter)
		if err != nil {
			return nil, err
		}
		groups = append(groups, Group{Seed: sc.msg, Bundle: bundle, Score: sc.score})
	}
	return groups, nil
}
