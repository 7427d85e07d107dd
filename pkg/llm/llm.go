// Package llm defines the two narrow LLM/embedding capabilities consumed by
// the rest of the engine (§9: "LLM/Embedder as capabilities") plus concrete
// adapters backed by an OpenAI-compatible API.
package llm

import (
	"context"
	"encoding/json"
)

// ChatMessage is one turn in a generate() call.
type ChatMessage struct {
	Role    string
	Content string
}

// Client is the opaque LLM capability. The engine treats retries and usage
// metering as the client's own concern; callers only see the final text or
// a *weaveerr.Error with KindLLMFailure.
type Client interface {
	Generate(ctx context.Context, messages []ChatMessage, responseSchema json.RawMessage) (string, error)
}

// Embedder is the opaque embedding-model capability. Dim is stable for the
// process lifetime once the first Embed call succeeds.
type Embedder interface {
	Embed(ctx context.Context, texts []string, isQuery bool) ([][]float32, error)
	Dim() int
}

// Usage is one LLM call's token accounting, recorded through an optional
// UsageRecorder rather than built into Client itself (§ supplemented
// features: usage metering hook).
type Usage struct {
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// UsageRecorder receives one Usage per successful OpenAIClient completion; a
// nil UsageRecorder is valid and simply means usage is not recorded. The
// Chronicle and Memopedia generators accept one but do not call it.
type UsageRecorder interface {
	Record(ctx context.Context, u Usage)
}
