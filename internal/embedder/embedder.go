package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Common errors
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrProviderFailed    = errors.New("embedding provider failed")
	ErrEmptyText         = fmt.Errorf("%w: text cannot be empty", ErrInvalidInput)
	ErrBatchTooLarge     = fmt.Errorf("%w: batch size exceeds limit", ErrInvalidInput)
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
)

// Embedding represents a vector embedding with metadata
type Embedding struct {
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
	Hash      string // Content hash for caching
}

// EmbeddingRequest represents a request to generate embeddings
type EmbeddingRequest struct {
	Text string
}

// BatchEmbeddingRequest represents a batch request
type BatchEmbeddingRequest struct {
	Texts []string
}

// BatchEmbeddingResponse holds one embedding per requested text, in request order
type BatchEmbeddingResponse struct {
	Embeddings []*Embedding
	Provider   string
	Model      string
}

// Embedder interface defines methods for generating embeddings
type Embedder interface {
	// GenerateEmbedding generates a single embedding for the given text
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error)

	// GenerateBatch generates embeddings for multiple texts; all succeed or the call fails
	GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error)

	// Dimension returns the embedding dimension, 0 until known
	Dimension() int

	// Provider returns the provider name
	Provider() string

	// Model returns the model name
	Model() string

	// Close releases any resources held by the embedder
	Close() error
}

// DefaultCacheSize holds roughly one large CSV import worth of complaints
const DefaultCacheSize = 10000

// Cache remembers the vectors one provider returned, keyed by ComputeHash of
// the complaint text. Complaint sources repeat themselves (a CSV re-imported
// into a second project, the same comment pasted under several videos), so a
// text is sent to the provider once per process. Each provider owns its own
// Cache: vectors from different providers have different dimensions and are
// never interchangeable.
type Cache struct {
	entries *lru.Cache[string, *Embedding]
}

// NewCache creates a cache holding at most maxLen vectors
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = DefaultCacheSize
	}
	entries, err := lru.New[string, *Embedding](maxLen)
	if err != nil {
		entries, _ = lru.New[string, *Embedding](DefaultCacheSize)
	}
	return &Cache{entries: entries}
}

// Get returns a private copy; the pipeline hands vectors straight to storage
// and must not share backing arrays between complaints with equal text.
func (c *Cache) Get(hash string) (*Embedding, bool) {
	emb, ok := c.entries.Get(hash)
	if !ok {
		return nil, false
	}
	out := *emb
	out.Vector = append([]float32(nil), emb.Vector...)
	return &out, true
}

func (c *Cache) Set(hash string, emb *Embedding) {
	c.entries.Add(hash, emb)
}

func (c *Cache) Size() int {
	return c.entries.Len()
}

// Clear drops every vector, e.g. after the provider's model changes
func (c *Cache) Clear() {
	c.entries.Purge()
}

// ComputeHash is the cache key of a complaint text. Surrounding whitespace,
// common in spreadsheet cells and comment bodies, does not change the key.
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(h[:])
}

// ValidateRequest rejects blank text. Nothing is sent to a provider for invalid input.
func ValidateRequest(req EmbeddingRequest) error {
	if strings.TrimSpace(req.Text) == "" {
		return ErrEmptyText
	}
	return nil
}

// ValidateBatchRequest checks a whole pipeline chunk before any provider call.
// The index of the first blank complaint is reported so the pipeline can log
// which row of an import was rejected.
func ValidateBatchRequest(req BatchEmbeddingRequest) error {
	switch {
	case len(req.Texts) == 0:
		return fmt.Errorf("%w: no complaints in batch", ErrInvalidInput)
	case len(req.Texts) > MaxBatchSize:
		return fmt.Errorf("%w: %d complaints, max %d", ErrBatchTooLarge, len(req.Texts), MaxBatchSize)
	}
	for i, text := range req.Texts {
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("%w (index %d)", ErrEmptyText, i)
		}
	}
	return nil
}
