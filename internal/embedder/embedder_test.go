package embedder

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/saiverse/memoryweave/pkg/llm"
)

type recordingEmbedder struct {
	got []string
}

func (r *recordingEmbedder) Embed(_ context.Context, texts []string, _ bool) ([][]float32, error) {
	r.got = append(r.got, texts...)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 2, 3}
	}
	return out, nil
}

func (r *recordingEmbedder) Dim() int { return 3 }

func TestE5PrefixApplied(t *testing.T) {
	backend := &recordingEmbedder{}
	w := NewWrapper(Key{ModelName: "intfloat/multilingual-e5-small"}, backend, zerolog.Nop())

	if _, err := w.Embed(context.Background(), []string{"hello"}, true); err != nil {
		t.Fatalf("embed: %v", err)
	}
	if backend.got[0] != "query: hello" {
		t.Fatalf("expected query prefix, got %q", backend.got[0])
	}

	if _, err := w.Embed(context.Background(), []string{"world"}, false); err != nil {
		t.Fatalf("embed: %v", err)
	}
	if backend.got[1] != "passage: world" {
		t.Fatalf("expected passage prefix, got %q", backend.got[1])
	}
}

func TestNonE5ModelUnprefixed(t *testing.T) {
	backend := &recordingEmbedder{}
	w := NewWrapper(Key{ModelName: "bge-small"}, backend, zerolog.Nop())

	if _, err := w.Embed(context.Background(), []string{"hello"}, true); err != nil {
		t.Fatalf("embed: %v", err)
	}
	if backend.got[0] != "hello" {
		t.Fatalf("expected no prefix, got %q", backend.got[0])
	}
}

func TestFakeEmbedderDimStable(t *testing.T) {
	fake := llm.NewFakeEmbedder(16)
	w := NewWrapper(Key{ModelName: "fake"}, fake, zerolog.Nop())
	if w.Dim() != 16 {
		t.Fatalf("expected dim 16, got %d", w.Dim())
	}
}
