package llm

import (
	"context"
	"encoding/json"
	"hash/fnv"

	"github.com/saiverse/memoryweave/pkg/weaveerr"
)

// FakeClient is an in-process Client used by tests (§9: "All tests use
// in-process fakes satisfying these traits."). Responses is consumed in
// order; when exhausted, DefaultResponse is returned. Setting Err makes
// every call fail.
type FakeClient struct {
	Responses       []string
	DefaultResponse string
	Err             error
	Calls           []FakeCall
}

// FakeCall records one Generate invocation for assertions.
type FakeCall struct {
	Messages []ChatMessage
	Schema   json.RawMessage
}

func (f *FakeClient) Generate(_ context.Context, messages []ChatMessage, schema json.RawMessage) (string, error) {
	f.Calls = append(f.Calls, FakeCall{Messages: messages, Schema: schema})
	if f.Err != nil {
		return "", f.Err
	}
	if len(f.Responses) > 0 {
		r := f.Responses[0]
		f.Responses = f.Responses[1:]
		if r == "" {
			return "", weaveerr.LLMFailure(weaveerr.LLMCodeEmpty, nil, "empty fake response")
		}
		return r, nil
	}
	return f.DefaultResponse, nil
}

// FakeEmbedder is an in-process Embedder producing deterministic,
// content-derived vectors of a fixed dimension so tests can assert on
// similarity ordering without a real model.
type FakeEmbedder struct {
	Dimension int
}

func NewFakeEmbedder(dim int) *FakeEmbedder {
	if dim <= 0 {
		dim = 8
	}
	return &FakeEmbedder{Dimension: dim}
}

func (f *FakeEmbedder) Embed(_ context.Context, texts []string, _ bool) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = deterministicVector(t, f.Dimension)
	}
	return out, nil
}

func (f *FakeEmbedder) Dim() int { return f.Dimension }

// deterministicVector hashes each word of s (split on space, tab, newline,
// comma and period) into a bucket so that
// texts sharing words score a higher cosine similarity than unrelated ones,
// without depending on a real embedding model.
func deterministicVector(s string, dim int) []float32 {
	vec := make([]float32, dim)
	word := make([]byte, 0, 16)
	flush := func() {
		if len(word) == 0 {
			return
		}
		h := fnv.New32a()
		h.Write(word)
		bucket := int(h.Sum32()) % dim
		if bucket < 0 {
			bucket += dim
		}
		vec[bucket] += 1
		word = word[:0]
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == ' ' || c == '\n' || c == '\t' || c == ',' || c == '.' {
			flush()
			continue
		}
		word = append(word, c)
	}
	flush()
	return vec
}
