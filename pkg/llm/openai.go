package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
	"github.com/rs/zerolog"

	"github.com/saiverse/memoryweave/pkg/weaveerr"
)

// OpenAIClient adapts go-openai's chat-completions endpoint to Client. It
// works against any OpenAI-compatible endpoint (OpenAI itself, OpenRouter,
// a local vLLM server) by pointing BaseURL at the target.
type OpenAIClient struct {
	cli    *openai.Client
	model  string
	log    zerolog.Logger
	record UsageRecorder
}

// NewOpenAIClient builds a client. baseURL may be empty to use the default
// OpenAI API; apiKey and model are required.
func NewOpenAIClient(apiKey, baseURL, model string, log zerolog.Logger, record UsageRecorder) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{
		cli:    openai.NewClientWithConfig(cfg),
		model:  model,
		log:    log.With().Str("component", "llm").Logger(),
		record: record,
	}
}

func (c *OpenAIClient) Generate(ctx context.Context, messages []ChatMessage, responseSchema json.RawMessage) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toOpenAIMessages(messages),
	}
	if len(responseSchema) > 0 {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.cli.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", c.classifyError(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", weaveerr.LLMFailure(weaveerr.LLMCodeEmpty, nil, "model returned an empty response")
	}

	if c.record != nil {
		c.record.Record(ctx, Usage{
			Model:            c.model,
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		})
	}

	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			return weaveerr.LLMFailure(weaveerr.LLMCodeRateLimited, err, "rate limited by model provider")
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return weaveerr.LLMFailure(weaveerr.LLMCodeTimeout, err, "model provider timed out")
		}
		if code, ok := apiErr.Code.(string); ok && code == "content_filter" {
			return weaveerr.LLMFailure(weaveerr.LLMCodeSafety, err, "response blocked by safety filter")
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return weaveerr.LLMFailure(weaveerr.LLMCodeTimeout, err, "model call timed out")
	}
	c.log.Warn().Err(err).Msg("unclassified LLM error")
	return weaveerr.LLMFailure(weaveerr.LLMCodeUnknown, err, "model call failed")
}

func toOpenAIMessages(messages []ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

// OpenAIEmbedder adapts go-openai's embeddings endpoint to Embedder. It
// performs no query/passage prefixing itself; that's the Embedder wrapper's
// job (internal/embedder), which wraps this as its backend.
type OpenAIEmbedder struct {
	cli   *openai.Client
	model openai.EmbeddingModel
	dim   int
}

func NewOpenAIEmbedder(apiKey, baseURL string, model openai.EmbeddingModel, dim int) *OpenAIEmbedder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIEmbedder{
		cli:   openai.NewClientWithConfig(cfg),
		model: model,
		dim:   dim,
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string, isQuery bool) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.cli.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: e.model,
	})
	if err != nil {
		return nil, weaveerr.LLMFailure(weaveerr.LLMCodeUnknown, err, "embedding call failed")
	}
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

func (e *OpenAIEmbedder) Dim() int { return e.dim }
