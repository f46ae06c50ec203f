package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"
)

// OpenRouter defaults
const (
	DefaultOpenRouterBaseURL        = "https://openrouter.ai/api/v1"
	DefaultOpenRouterModel          = "qwen/qwen-plus"
	DefaultOpenRouterEmbeddingModel = "openai/text-embedding-3-small"
)

// OpenRouterConfig configures an OpenRouter client
type OpenRouterConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	EmbeddingModel    string
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerSecond float64
}

// OpenRouter talks to OpenRouter's OpenAI-compatible API
type OpenRouter struct {
	client         openai.Client
	model          string
	embeddingModel string
	limiter        *rate.Limiter
}

// NewOpenRouter creates a client. Retries are delegated to the SDK.
func NewOpenRouter(cfg OpenRouterConfig) *OpenRouter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenRouterBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenRouterModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultOpenRouterEmbeddingModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(cfg.MaxRetries),
	)

	return &OpenRouter{
		client:         client,
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		limiter:        newLimiter(cfg.RequestsPerSecond),
	}
}

// Model returns the chat model name
func (o *OpenRouter) Model() string { return o.model }

// EmbeddingModel returns the embedding model name
func (o *OpenRouter) EmbeddingModel() string { return o.embeddingModel }

// Embed returns one vector per text, in input order
func (o *OpenRouter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := wait(ctx, o.limiter); err != nil {
		return nil, err
	}

	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model: openai.EmbeddingModel(o.embeddingModel),
	})
	if err != nil {
		return nil, wrapSDKError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: %d embeddings for %d texts", ErrMalformedResponse, len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	vectors := make([][]float32, len(data))
	for i, d := range data {
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at index %d", ErrMalformedResponse, d.Index)
		}
		vectors[i] = toFloat32(d.Embedding)
	}
	return vectors, nil
}

// ChatJSON sends prompt with a strict JSON-schema response format and decodes the reply into out
func (o *OpenRouter) ChatJSON(ctx context.Context, prompt, schemaName string, schema map[string]interface{}, out interface{}) error {
	if err := wait(ctx, o.limiter); err != nil {
		return err
	}

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   schemaName,
					Schema: schema,
					Strict: openai.Bool(true),
				},
			},
		},
		Temperature: openai.Float(0.2),
		MaxTokens:   openai.Int(1024),
	})
	if err != nil {
		return wrapSDKError(err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}

	content := stripCodeFence(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no resources of its own
func (o *OpenRouter) Close() error {
	return nil
}

func wrapSDKError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &StatusError{StatusCode: apiErr.StatusCode, Body: apiErr.Message}
	}
	return err
}

// stripCodeFence removes a ```json fence some models wrap around structured output
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
