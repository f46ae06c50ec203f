package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/danaugrs/go-tsne/tsne"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/dshills/complaintlens/internal/storage"
)

// t-SNE defaults
const (
	DefaultPerplexity      = 10
	DefaultLearningRate    = 100
	DefaultTSNEIterations  = 1000
	DefaultCoordBatchSize  = 1000
	minProjectionSamples   = 4
	StatusTooFewComplaints = "too_few_complaints"
)

// Reducer maps rows to 2-D points
type Reducer interface {
	Reduce(rows [][]float64, perplexity float64) ([][2]float64, error)
}

// TSNE reduces with t-distributed stochastic neighbour embedding
type TSNE struct {
	LearningRate float64
	Iterations   int
}

// Reduce implements Reducer
func (r TSNE) Reduce(rows [][]float64, perplexity float64) ([][2]float64, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	lr, iters := r.LearningRate, r.Iterations
	if lr <= 0 {
		lr = DefaultLearningRate
	}
	if iters <= 0 {
		iters = DefaultTSNEIterations
	}

	dim := len(rows[0])
	data := make([]float64, 0, len(rows)*dim)
	for _, row := range rows {
		data = append(data, row...)
	}
	x := mat.NewDense(len(rows), dim, data)

	y := tsne.NewTSNE(2, perplexity, lr, iters, false).EmbedData(x, nil)
	if r, c := y.Dims(); r != len(rows) || c != 2 {
		return nil, fmt.Errorf("t-SNE returned a %dx%d embedding for %d rows", r, c, len(rows))
	}
	out := make([][2]float64, len(rows))
	for i := range out {
		out[i] = [2]float64{y.At(i, 0), y.At(i, 1)}
	}
	return out, nil
}

// clampPerplexity keeps perplexity well below the sample count
func clampPerplexity(p float64, n int) float64 {
	if p <= 0 {
		p = DefaultPerplexity
	}
	limit := float64(n-1) / 3
	if p > limit {
		p = limit
	}
	return max(p, 1)
}

// ProjectionResult reports the outcome of a projection run
type ProjectionResult struct {
	RunID      string        `json:"run_id"`
	ProjectID  int64         `json:"project_id"`
	Status     string        `json:"status"`
	Projected  int           `json:"projected"`
	Excluded   int           `json:"excluded"`
	Perplexity float64       `json:"perplexity"`
	Duration   time.Duration `json:"duration"`
}

// Projector writes 2-D coordinates for the embedded complaints of a project
type Projector struct {
	store     storage.Storage
	reducer   Reducer
	locks     *ProjectLock
	batchSize int
	logger    *zap.Logger
}

// NewProjector creates a projector. locks may be shared with an Orchestrator so that
// clustering and projection of one project never overlap.
func NewProjector(store storage.Storage, reducer Reducer, locks *ProjectLock, logger *zap.Logger) *Projector {
	if reducer == nil {
		reducer = TSNE{}
	}
	if locks == nil {
		locks = NewProjectLock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Projector{store: store, reducer: reducer, locks: locks, batchSize: DefaultCoordBatchSize, logger: logger}
}

// Project computes and stores coordinates
func (p *Projector) Project(ctx context.Context, projectID int64, perplexity float64) (*ProjectionResult, error) {
	start := time.Now()
	if _, err := p.store.GetProject(ctx, projectID); err != nil {
		return nil, fmt.Errorf("failed to load project %d: %w", projectID, err)
	}
	if !p.locks.TryAcquire(projectID) {
		return nil, ErrRunInProgress
	}
	defer p.locks.Release(projectID)

	result := &ProjectionResult{RunID: uuid.NewString(), ProjectID: projectID}
	defer func() { result.Duration = time.Since(start) }()

	complaints, err := p.store.ListEmbeddedComplaints(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to collect embeddings: %w", err)
	}
	kept, excluded, _ := splitByDimension(complaints)
	result.Excluded = len(excluded)
	if len(kept) < minProjectionSamples {
		p.logger.Warn("too few embedded complaints to project",
			zap.Int64("project_id", projectID),
			zap.Int("complaints", len(kept)))
		result.Status = StatusTooFewComplaints
		return result, nil
	}

	result.Perplexity = clampPerplexity(perplexity, len(kept))
	points, err := p.reducer.Reduce(toMatrix(kept, false), result.Perplexity)
	if err != nil {
		return nil, fmt.Errorf("projection failed: %w", err)
	}
	if len(points) != len(kept) {
		return nil, fmt.Errorf("projection returned %d points for %d complaints", len(points), len(kept))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	coords := make([]storage.Coordinate, len(kept))
	for i, c := range kept {
		coords[i] = storage.Coordinate{ComplaintID: c.ID, X: points[i][0], Y: points[i][1]}
	}
	for s := 0; s < len(coords); s += p.batchSize {
		e := min(s+p.batchSize, len(coords))
		if err := p.store.UpdateCoordinates(ctx, projectID, coords[s:e]); err != nil {
			return nil, fmt.Errorf("failed to store coordinates: %w", err)
		}
	}

	result.Projected = len(coords)
	result.Status = StatusDone
	p.logger.Info("projection complete",
		zap.Int64("project_id", projectID),
		zap.Int("projected", result.Projected),
		zap.Float64("perplexity", result.Perplexity))
	return result, nil
}
