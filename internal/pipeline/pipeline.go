// Package pipeline embeds complaints in batches without losing any of them to a
// partial provider failure.
//
// A failed batch is split in half and each half retried, down to single items;
// a single item that still fails is skipped and counted. The input is first cut
// into chunks that run concurrently, and results come back in input order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/complaintlens/internal/embedder"
	"github.com/dshills/complaintlens/internal/storage"
)

// ErrInvalidInput is returned when complaints and texts do not line up
var ErrInvalidInput = errors.New("invalid pipeline input")

// Embedded pairs a complaint with its new vector
type Embedded struct {
	Complaint *storage.Complaint
	Vector    []float32
	Provider  string
}

// Stats contains the final counts of a run
type Stats struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int // already embedded, no provider call made
	Persisted int
	Duration  time.Duration
}

// Config contains configuration for the pipeline
type Config struct {
	Workers      int // Concurrent chunks (default: runtime.NumCPU())
	MinBatchSize int // Size at or below which items are embedded one by one (default: 1)
	ChunkSize    int // Top-level chunk size (default: ChunkSizeFor(len(input)))
}

// Pipeline coordinates embedding: chunk -> batch/split -> store
type Pipeline struct {
	embedder embedder.Embedder
	storage  storage.Storage
	logger   *zap.Logger
	config   Config
}

// New creates a new Pipeline. store may be nil when only Process is used.
func New(emb embedder.Embedder, store storage.Storage, logger *zap.Logger, config *Config) *Pipeline {
	cfg := Config{}
	if config != nil {
		cfg = *config
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.MinBatchSize <= 0 {
		cfg.MinBatchSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{embedder: emb, storage: store, logger: logger, config: cfg}
}

// ChunkSizeFor picks the top-level chunk size from the number of items
func ChunkSizeFor(n int) int {
	switch {
	case n <= 50:
		return 10
	case n <= 200:
		return 25
	case n <= 500:
		return 50
	default:
		return 100
	}
}

type item struct {
	complaint *storage.Complaint
	text      string
}

// batchResult is what one batch attempt yields: embedded items in input order
// plus the number of items that could not be embedded.
type batchResult struct {
	embedded []Embedded
	failed   int
	failure  error // last provider error seen, for logging
}

func (r *batchResult) append(other batchResult) {
	r.embedded = append(r.embedded, other.embedded...)
	r.failed += other.failed
	if other.failure != nil {
		r.failure = other.failure
	}
}

// Process embeds texts[i] for complaints[i]. Every item is attempted; the returned
// slice holds the successes in input order. A provider outage yields zero successes
// and no error; only mismatched input or a cancelled context is an error.
func (p *Pipeline) Process(ctx context.Context, complaints []*storage.Complaint, texts []string) ([]Embedded, Stats, error) {
	start := time.Now()
	stats := Stats{Total: len(texts)}
	if len(complaints) != len(texts) {
		return nil, stats, fmt.Errorf("%w: %d complaints, %d texts", ErrInvalidInput, len(complaints), len(texts))
	}
	if len(texts) == 0 {
		return nil, stats, nil
	}

	blank := 0
	items := make([]item, 0, len(texts))
	for i, text := range texts {
		// Blank text can never embed; count it without a provider call
		if strings.TrimSpace(text) == "" {
			blank++
			continue
		}
		items = append(items, item{complaint: complaints[i], text: text})
	}

	chunkSize := p.config.ChunkSize
	if chunkSize <= 0 {
		chunkSize = ChunkSizeFor(len(items))
	}

	var chunks [][]item
	for i := 0; i < len(items); i += chunkSize {
		chunks = append(chunks, items[i:min(i+chunkSize, len(items))])
	}

	results := make([]batchResult, len(chunks))
	var done atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Workers)
	for i, chunk := range chunks {
		g.Go(func() error {
			results[i] = p.embedBatch(gctx, chunk)
			p.logger.Debug("chunk embedded",
				zap.Int("chunk", i),
				zap.Int("embedded", len(results[i].embedded)),
				zap.Int("failed", results[i].failed),
				zap.Int32("chunks_done", done.Add(1)),
				zap.Int("chunks_total", len(chunks)))
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stats, err
	}

	var all batchResult
	for _, r := range results {
		all.append(r)
	}

	stats.Succeeded = len(all.embedded)
	stats.Failed = all.failed + blank
	stats.Duration = time.Since(start)
	if all.failed > 0 {
		p.logger.Warn("some complaints could not be embedded",
			zap.Int("failed", all.failed), zap.Int("blank", blank),
			zap.Int("succeeded", stats.Succeeded), zap.Error(all.failure))
	}
	return all.embedded, stats, nil
}

// embedBatch embeds items as one batch, halving on failure.
// At or below the minimum batch size each item is tried on its own.
func (p *Pipeline) embedBatch(ctx context.Context, items []item) batchResult {
	if len(items) == 0 || ctx.Err() != nil {
		return batchResult{failed: len(items)}
	}

	if len(items) <= p.config.MinBatchSize {
		return p.embedEach(ctx, items)
	}

	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.text
	}

	resp, err := p.embedder.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
	if err == nil && len(resp.Embeddings) == len(items) {
		out := batchResult{embedded: make([]Embedded, len(items))}
		for i, emb := range resp.Embeddings {
			out.embedded[i] = Embedded{Complaint: items[i].complaint, Vector: emb.Vector, Provider: emb.Provider}
		}
		return out
	}
	if err == nil {
		err = fmt.Errorf("%w: %d embeddings for %d texts", embedder.ErrProviderFailed, len(resp.Embeddings), len(items))
	}

	p.logger.Debug("batch failed, splitting", zap.Int("size", len(items)), zap.Error(err))
	mid := len(items) / 2
	result := p.embedBatch(ctx, items[:mid])
	result.append(p.embedBatch(ctx, items[mid:]))
	if result.failure == nil && result.failed > 0 {
		result.failure = err
	}
	return result
}

func (p *Pipeline) embedEach(ctx context.Context, items []item) batchResult {
	var out batchResult
	for _, it := range items {
		emb, err := p.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: it.text})
		if err != nil {
			out.failed++
			out.failure = err
			p.logger.Debug("complaint skipped", zap.Int64("complaint_id", it.complaint.ID), zap.Error(err))
			continue
		}
		out.embedded = append(out.embedded, Embedded{Complaint: it.complaint, Vector: emb.Vector, Provider: emb.Provider})
	}
	return out
}

// EmbedComplaints embeds and persists complaints that have no embedding yet.
// Complaints already embedded are skipped without contacting a provider.
func (p *Pipeline) EmbedComplaints(ctx context.Context, complaints []*storage.Complaint) (*Stats, error) {
	if p.storage == nil {
		return nil, errors.New("pipeline has no storage")
	}

	var pending []*storage.Complaint
	for _, c := range complaints {
		if !c.HasEmbedding() {
			pending = append(pending, c)
		}
	}

	texts := make([]string, len(pending))
	for i, c := range pending {
		texts[i] = c.Text
	}

	embedded, stats, err := p.Process(ctx, pending, texts)
	if err != nil {
		return nil, err
	}
	stats.Total = len(complaints)
	stats.Skipped = len(complaints) - len(pending)

	updated := make([]*storage.Complaint, len(embedded))
	for i, e := range embedded {
		e.Complaint.Embedding = e.Vector
		e.Complaint.EmbeddingProvider = e.Provider
		updated[i] = e.Complaint
	}

	n, err := p.storage.UpdateEmbeddings(ctx, updated)
	if err != nil {
		return nil, fmt.Errorf("failed to store embeddings: %w", err)
	}
	stats.Persisted = n

	p.logger.Info("embedding run finished",
		zap.Int("total", stats.Total),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("failed", stats.Failed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("persisted", stats.Persisted),
		zap.Duration("duration", stats.Duration))
	return &stats, nil
}

// EmbedPending embeds every complaint of a project that still lacks an embedding
func (p *Pipeline) EmbedPending(ctx context.Context, projectID int64) (*Stats, error) {
	if p.storage == nil {
		return nil, errors.New("pipeline has no storage")
	}
	pending, err := p.storage.ListPendingComplaints(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending complaints: %w", err)
	}
	return p.EmbedComplaints(ctx, pending)
}
