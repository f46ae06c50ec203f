// Package llm holds the wire clients for the two LLM providers: GigaChat over
// plain HTTP with a short-lived bearer token, and OpenRouter through the
// OpenAI-compatible SDK.
package llm

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// GigaChat defaults
const (
	DefaultGigaChatEmbeddingModel = "Embeddings"
	DefaultGigaChatChatModel      = "GigaChat"
	DefaultTimeout                = 30 * time.Second
)

// ErrMalformedResponse is returned when a provider answer cannot be used
var ErrMalformedResponse = errors.New("malformed provider response")

// TokenSource supplies bearer tokens, refreshing them as needed
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// invalidator is implemented by token sources that can drop a rejected token
type invalidator interface {
	Invalidate()
}

// GigaChatConfig configures a GigaChat client
type GigaChatConfig struct {
	BaseURL           string
	EmbeddingModel    string
	ChatModel         string
	Timeout           time.Duration
	InsecureTLS       bool
	RequestsPerSecond float64
	Retry             RetryConfig
}

// GigaChat is a client for the GigaChat REST API
type GigaChat struct {
	baseURL        string
	embeddingModel string
	chatModel      string
	tokens         TokenSource
	httpClient     *http.Client
	limiter        *rate.Limiter
	retry          RetryConfig
}

// NewGigaChat creates a client authenticated by tokens
func NewGigaChat(cfg GigaChatConfig, tokens TokenSource) *GigaChat {
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultGigaChatEmbeddingModel
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultGigaChatChatModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	return &GigaChat{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		embeddingModel: cfg.EmbeddingModel,
		chatModel:      cfg.ChatModel,
		tokens:         tokens,
		httpClient:     &http.Client{Timeout: cfg.Timeout, Transport: transport},
		limiter:        newLimiter(cfg.RequestsPerSecond),
		retry:          cfg.Retry,
	}
}

// EmbeddingModel returns the configured embedding model name
func (g *GigaChat) EmbeddingModel() string { return g.embeddingModel }

// ChatModel returns the configured chat model name
func (g *GigaChat) ChatModel() string { return g.chatModel }

// Embed returns one vector per text, in input order
func (g *GigaChat) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return retryWithBackoff(ctx, g.retry, func() ([][]float32, error) {
		return g.embedOnce(ctx, texts)
	})
}

func (g *GigaChat) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := map[string]interface{}{
		"model": g.embeddingModel,
		"input": texts,
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := g.post(ctx, "/embeddings", reqBody, &apiResp); err != nil {
		return nil, err
	}

	if len(apiResp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: %d embeddings for %d texts", ErrMalformedResponse, len(apiResp.Data), len(texts))
	}
	sort.SliceStable(apiResp.Data, func(i, j int) bool {
		return apiResp.Data[i].Index < apiResp.Data[j].Index
	})

	vectors := make([][]float32, len(apiResp.Data))
	for i, d := range apiResp.Data {
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at index %d", ErrMalformedResponse, d.Index)
		}
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// Chat sends a single user message and returns the assistant's reply
func (g *GigaChat) Chat(ctx context.Context, prompt string) (string, error) {
	return retryWithBackoff(ctx, g.retry, func() (string, error) {
		reqBody := map[string]interface{}{
			"model": g.chatModel,
			"messages": []map[string]string{
				{"role": "user", "content": prompt},
			},
			"temperature": 0.3,
		}

		var apiResp struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}
		if err := g.post(ctx, "/chat/completions", reqBody, &apiResp); err != nil {
			return "", err
		}
		if len(apiResp.Choices) == 0 {
			return "", fmt.Errorf("%w: no choices", ErrMalformedResponse)
		}
		return strings.TrimSpace(apiResp.Choices[0].Message.Content), nil
	})
}

// Close releases idle connections
func (g *GigaChat) Close() error {
	g.httpClient.CloseIdleConnections()
	return nil
}

func (g *GigaChat) post(ctx context.Context, path string, reqBody, out interface{}) error {
	if err := wait(ctx, g.limiter); err != nil {
		return err
	}

	token, err := g.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("get access token: %w", err)
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if resp.StatusCode == http.StatusUnauthorized {
			if inv, ok := g.tokens.(invalidator); ok {
				inv.Invalidate()
			}
		}
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(bodyBytes))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrMalformedResponse, err)
	}
	return nil
}
