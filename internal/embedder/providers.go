package embedder

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Provider configuration
const (
	ProviderPrimary   = "gigachat"
	ProviderSecondary = "openrouter"

	// Dimensions reported before the first response is seen
	PrimaryDimension   = 1024
	SecondaryDimension = 1536

	// Batch limits
	DefaultBatchSize = 50
	MaxBatchSize     = 100
)

// VectorClient is the wire-level embedding call of an LLM provider
type VectorClient interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Close() error
}

// RemoteProvider implements Embedder over a VectorClient
type RemoteProvider struct {
	name      string
	model     string
	client    VectorClient
	cache     *Cache
	dimension atomic.Int64
}

// NewPrimaryProvider wraps the GigaChat client
func NewPrimaryProvider(client VectorClient, model string, cache *Cache) *RemoteProvider {
	return newRemoteProvider(ProviderPrimary, model, PrimaryDimension, client, cache)
}

// NewSecondaryProvider wraps the OpenRouter client
func NewSecondaryProvider(client VectorClient, model string, cache *Cache) *RemoteProvider {
	return newRemoteProvider(ProviderSecondary, model, SecondaryDimension, client, cache)
}

func newRemoteProvider(name, model string, dim int, client VectorClient, cache *Cache) *RemoteProvider {
	p := &RemoteProvider{name: name, model: model, client: client, cache: cache}
	p.dimension.Store(int64(dim))
	return p
}

func (p *RemoteProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", ErrProviderFailed)
	}
	return resp.Embeddings[0], nil
}

// GenerateBatch embeds texts, sending only those missing from the cache
func (p *RemoteProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	var missing []string
	var missingIdx []int
	for i, text := range req.Texts {
		hash := ComputeHash(text)
		if p.cache != nil {
			if emb, ok := p.cache.Get(hash); ok {
				embeddings[i] = emb
				continue
			}
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) > 0 {
		vectors, err := p.client.Embed(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrProviderFailed, p.name, err)
		}
		if len(vectors) != len(missing) {
			return nil, fmt.Errorf("%w: %s returned %d vectors for %d texts",
				ErrProviderFailed, p.name, len(vectors), len(missing))
		}

		for j, vector := range vectors {
			emb := &Embedding{
				Vector:    vector,
				Dimension: len(vector),
				Provider:  p.name,
				Model:     p.model,
				Hash:      ComputeHash(missing[j]),
			}
			embeddings[missingIdx[j]] = emb
			if p.cache != nil {
				p.cache.Set(emb.Hash, emb)
			}
		}
		p.dimension.Store(int64(len(vectors[0])))
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   p.name,
		Model:      p.model,
	}, nil
}

func (p *RemoteProvider) Dimension() int {
	return int(p.dimension.Load())
}

func (p *RemoteProvider) Provider() string {
	return p.name
}

func (p *RemoteProvider) Model() string {
	return p.model
}

func (p *RemoteProvider) Close() error {
	return p.client.Close()
}
