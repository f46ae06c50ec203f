package embedder

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Fallback tries the primary embedder and, when it fails remotely, the secondary.
// Invalid input is never retried on the secondary.
type Fallback struct {
	primary   Embedder
	secondary Embedder
	logger    *zap.Logger
}

// NewFallback composes two embedders
func NewFallback(primary, secondary Embedder, logger *zap.Logger) *Fallback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fallback{primary: primary, secondary: secondary, logger: logger}
}

func (f *Fallback) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	emb, err := f.primary.GenerateEmbedding(ctx, req)
	if !f.shouldFallBack(ctx, err) {
		return emb, err
	}
	f.logger.Warn("primary embedding provider failed, using secondary",
		zap.String("primary", f.primary.Provider()), zap.Error(err))
	return f.secondary.GenerateEmbedding(ctx, req)
}

func (f *Fallback) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}
	resp, err := f.primary.GenerateBatch(ctx, req)
	if !f.shouldFallBack(ctx, err) {
		return resp, err
	}
	f.logger.Warn("primary embedding provider failed, using secondary",
		zap.String("primary", f.primary.Provider()),
		zap.Int("batch_size", len(req.Texts)),
		zap.Error(err))
	return f.secondary.GenerateBatch(ctx, req)
}

func (f *Fallback) shouldFallBack(ctx context.Context, err error) bool {
	return err != nil && ctx.Err() == nil && errors.Is(err, ErrProviderFailed)
}

func (f *Fallback) Dimension() int {
	return f.primary.Dimension()
}

func (f *Fallback) Provider() string {
	return f.primary.Provider()
}

func (f *Fallback) Model() string {
	return f.primary.Model()
}

func (f *Fallback) Close() error {
	return errors.Join(f.primary.Close(), f.secondary.Close())
}
