// Package message implements the Message API (§4.4): append, list, update,
// and delete messages and threads, keeping message_embeddings in sync.
// Grounded on the teacher's ChatService (pkg/chat/service.go), but embedding
// happens synchronously inline with the write rather than via a
// fire-and-forget goroutine, since the design requires the write and its
// embedding side effect to be observable together.
package message

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/saiverse/memoryweave/internal/chunker"
	"github.com/saiverse/memoryweave/internal/store"
	"github.com/saiverse/memoryweave/pkg/llm"
	"github.com/saiverse/memoryweave/pkg/weaveerr"
)

// PersonaThreadSuffix denotes a persona's private thread (§4.4).
const PersonaThreadSuffix = "__persona__"

// Service implements the Message API against one persona's store.
type Service struct {
	store     store.Storer
	embedder  llm.Embedder
	minChars  int
	maxChars  int
	log       zerolog.Logger
}

func NewService(s store.Storer, embedder llm.Embedder, minChars, maxChars int, log zerolog.Logger) *Service {
	return &Service{
		store:    s,
		embedder: embedder,
		minChars: minChars,
		maxChars: maxChars,
		log:      log.With().Str("component", "message").Logger(),
	}
}

// metaEmbeddingDisabled reports whether metadata JSON explicitly disables
// embedding via {"embed": false}.
func metaEmbeddingDisabled(metadata string) bool {
	if metadata == "" {
		return false
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(metadata), &m); err != nil {
		return false
	}
	v, ok := m["embed"]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && !b
}

// AppendMessage writes a message row, creating its thread if needed, and —
// unless embedding is disabled in metadata — chunks and embeds the content.
func (s *Service) AppendMessage(ctx context.Context, threadID, role, content, resourceID string, createdAt int64, metadata string) (string, error) {
	if threadID == "" {
		return "", weaveerr.Invalid("thread_id is required")
	}
	switch role {
	case "user", "assistant", "system", "model":
	default:
		return "", weaveerr.Invalid("unrecognized role %q", role)
	}

	if createdAt == 0 {
		createdAt = time.Now().Unix()
	}

	if _, err := s.store.GetThread(threadID); weaveerr.Of(err, weaveerr.KindNotFound) {
		personaID := threadID
		if idx := strings.Index(threadID, ":"); idx >= 0 {
			personaID = threadID[:idx]
		}
		if err := s.store.UpsertThread(&store.Thread{
			ID:         threadID,
			ResourceID: firstNonEmpty(resourceID, personaID),
			CreatedAt:  createdAt,
			UpdatedAt:  createdAt,
		}); err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	}

	id := uuid.NewString()
	msg := &store.Message{
		ID:         id,
		ThreadID:   threadID,
		Role:       role,
		Content:    content,
		ResourceID: resourceID,
		CreatedAt:  createdAt,
		Metadata:   metadata,
	}
	if err := s.store.AppendMessage(msg); err != nil {
		return "", err
	}

	if content != "" && !metaEmbeddingDisabled(metadata) {
		if err := s.embedAndStore(ctx, id, content); err != nil {
			// Failure model (§4.4): the message row is retained; embedding
			// is best-effort and retried on the next re-embed run.
			s.log.Warn().Err(err).Str("message_id", id).Msg("embedding failed, message retained without embeddings")
		}
	}

	return id, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func (s *Service) embedAndStore(ctx context.Context, messageID, content string) error {
	chunks := chunker.Chunk(content, s.minChars, s.maxChars)
	texts := make([]string, len(chunks))
	copy(texts, chunks)

	vectors, err := s.embedder.Embed(ctx, texts, false)
	if err != nil {
		return err
	}
	if len(vectors) != len(texts) {
		return weaveerr.LLMFailure(weaveerr.LLMCodeUnknown, nil, "embedder returned %d vectors for %d chunks", len(vectors), len(texts))
	}

	rows := make([]store.EmbeddingChunk, len(texts))
	for i, t := range texts {
		rows[i] = store.EmbeddingChunk{MessageID: messageID, ChunkIndex: i, Content: t, Vector: vectors[i]}
	}
	return s.store.ReplaceMessageEmbeddings(messageID, rows)
}

// ListThreadMessages returns a 0-indexed page, ordered ascending by
// created_at, ties broken by id (§4.4).
func (s *Service) ListThreadMessages(threadID string, page, pageSize int) ([]*store.Message, error) {
	if pageSize <= 0 {
		pageSize = 50
	}
	if page < 0 {
		page = 0
	}
	return s.store.ListThreadMessages(threadID, page*pageSize, pageSize)
}

func (s *Service) CountThreadMessages(threadID string) (int, error) {
	return s.store.CountThreadMessages(threadID)
}

func (s *Service) GetMessage(id string) (*store.Message, error) {
	return s.store.GetMessage(id)
}

// UpdateMessageContent atomically clears embeddings, updates content, and
// re-embeds (empty content leaves the row with zero chunks).
func (s *Service) UpdateMessageContent(ctx context.Context, id, newContent string) error {
	existing, err := s.store.GetMessage(id)
	if err != nil {
		return err
	}
	if err := s.store.UpdateMessageContent(id, newContent, existing.Metadata); err != nil {
		return err
	}
	if newContent == "" || metaEmbeddingDisabled(existing.Metadata) {
		return nil
	}
	if err := s.embedAndStore(ctx, id, newContent); err != nil {
		s.log.Warn().Err(err).Str("message_id", id).Msg("re-embedding failed after content update")
	}
	return nil
}

func (s *Service) DeleteMessage(id string) error {
	return s.store.DeleteMessage(id)
}

// DeleteThread cascades: messages (and their embeddings) are removed first,
// then the thread row.
func (s *Service) DeleteThread(threadID string) error {
	if err := s.store.DeleteThreadMessages(threadID); err != nil {
		return err
	}
	return s.store.DeleteThread(threadID)
}

// ReplaceMessageEmbeddings is the internal hook used by the re-embed job.
func (s *Service) ReplaceMessageEmbeddings(ctx context.Context, id string, vectors [][]float32, chunkTexts []string) error {
	if len(vectors) != len(chunkTexts) {
		return weaveerr.Invalid("vectors/chunkTexts length mismatch: %d vs %d", len(vectors), len(chunkTexts))
	}
	rows := make([]store.EmbeddingChunk, len(chunkTexts))
	for i, t := range chunkTexts {
		rows[i] = store.EmbeddingChunk{MessageID: id, ChunkIndex: i, Content: t, Vector: vectors[i]}
	}
	return s.store.ReplaceMessageEmbeddings(id, rows)
}
