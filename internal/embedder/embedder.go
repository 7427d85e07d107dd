// Package embedder wraps the opaque llm.Embedder capability with the
// model-caching and query/passage prefixing behavior described in the
// design's Embedder wrapper component (§4.2), grounded on the e5-style
// prefixing in the original recall.py Embedder class.
package embedder

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/saiverse/memoryweave/pkg/llm"
)

// Key identifies one cached model instance.
type Key struct {
	ModelName string
	LocalPath string
	Dim       int
	GPU       bool
}

// Wrapper caches a backend llm.Embedder and applies the "query: "/"passage: "
// prefix convention used by e5-family models; other model names pass text
// through unprefixed.
type Wrapper struct {
	mu      sync.Mutex
	key     Key
	backend llm.Embedder
	log     zerolog.Logger
	dim     int
}

// NewWrapper wraps an already-constructed backend. In production the
// backend is an *llm.OpenAIEmbedder; in tests it's an *llm.FakeEmbedder.
// The wrapper itself never instantiates a model — that's the caller's
// dependency-injection responsibility, matching §9's "avoid ambient
// module-level singletons".
func NewWrapper(key Key, backend llm.Embedder, log zerolog.Logger) *Wrapper {
	return &Wrapper{
		key:     key,
		backend: backend,
		log:     log.With().Str("component", "embedder").Logger(),
		dim:     backend.Dim(),
	}
}

// Embed applies the model's prefix convention, then delegates to the
// backend. On a backend initialization error the caller is expected to have
// already performed any GPU->CPU fallback before construction; Embed itself
// does not retry.
func (w *Wrapper) Embed(ctx context.Context, texts []string, isQuery bool) ([][]float32, error) {
	prefixed := texts
	if strings.Contains(strings.ToLower(w.key.ModelName), "e5") {
		prefix := "passage: "
		if isQuery {
			prefix = "query: "
		}
		prefixed = make([]string, len(texts))
		for i, t := range texts {
			prefixed[i] = prefix + t
		}
	}

	vectors, err := w.backend.Embed(ctx, prefixed, isQuery)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	if w.dim == 0 && len(vectors) > 0 {
		w.dim = len(vectors[0])
	}
	w.mu.Unlock()

	return vectors, nil
}

// Dim returns the stable output dimension, 0 if no call has succeeded yet
// and the backend did not advertise one upfront.
func (w *Wrapper) Dim() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dim
}

var _ llm.Embedder = (*Wrapper)(nil)
