package cluster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/complaintlens/internal/storage"
	"github.com/dshills/complaintlens/internal/summary"
)

// DefaultAssignBatchSize is the number of complaints reassigned per bulk update
const DefaultAssignBatchSize = 500

var (
	// ErrRunInProgress is returned when the project already has an active run
	ErrRunInProgress = errors.New("a clustering run is already in progress for this project")
	// ErrDataInconsistency marks a stored size that disagrees with the live member count.
	// It is logged and repaired, never returned.
	ErrDataInconsistency = errors.New("cluster size does not match member count")
	// ErrInvalidInput is returned for malformed requests
	ErrInvalidInput = errors.New("invalid input")
)

// Phase is the state of a clustering run
type Phase int

const (
	PhaseCollecting Phase = iota
	PhaseClustering
	PhaseAssigning
	PhaseSummaries
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseCollecting:
		return "collecting_embeddings"
	case PhaseClustering:
		return "clustering"
	case PhaseAssigning:
		return "assigning_labels"
	case PhaseSummaries:
		return "generating_summaries"
	default:
		return "done"
	}
}

// Run outcomes
const (
	StatusDone     = "done"
	StatusNoData   = "no_data"
	StatusAllNoise = "all_noise"
)

// Summarizer names and describes one cluster
type Summarizer interface {
	Generate(ctx context.Context, clusterID int64) (summary.Result, error)
}

// ClusterInfo describes one cluster produced by a run
type ClusterInfo struct {
	ID       int64  `json:"id"`
	Label    int    `json:"label"`
	Name     string `json:"name"`
	Summary  string `json:"summary"`
	Size     int    `json:"size"`
	Provider string `json:"provider_used"`
}

// Result reports the outcome of a clustering run
type Result struct {
	RunID     string        `json:"run_id"`
	ProjectID int64         `json:"project_id"`
	Status    string        `json:"status"`
	Algorithm string        `json:"algorithm"`
	Clusters  []ClusterInfo `json:"clusters"`
	Assigned  int           `json:"assigned"`
	Noise     int           `json:"noise"`
	Excluded  int           `json:"excluded"`
	Removed   int           `json:"removed_stale_clusters"`
	Duration  time.Duration `json:"duration"`
}

// Config contains configuration for the orchestrator
type Config struct {
	AssignBatchSize int
	VerifySizes     bool
	// NewBackend overrides backend construction, mainly for tests
	NewBackend func(Params) (Backend, error)
}

// DefaultConfig returns default orchestrator configuration
func DefaultConfig() *Config {
	return &Config{AssignBatchSize: DefaultAssignBatchSize, VerifySizes: true, NewBackend: NewBackend}
}

// Orchestrator turns the embedded complaints of a project into named clusters
type Orchestrator struct {
	store      storage.Storage
	summarizer Summarizer
	config     *Config
	locks      *ProjectLock
	logger     *zap.Logger
}

// New creates an orchestrator. summarizer may be nil, in which case clusters keep
// their placeholder names.
func New(store storage.Storage, summarizer Summarizer, logger *zap.Logger, config *Config) *Orchestrator {
	if config == nil {
		config = DefaultConfig()
	}
	if config.AssignBatchSize <= 0 {
		config.AssignBatchSize = DefaultAssignBatchSize
	}
	if config.NewBackend == nil {
		config.NewBackend = NewBackend
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:      store,
		summarizer: summarizer,
		config:     config,
		locks:      NewProjectLock(),
		logger:     logger,
	}
}

// Locks exposes the per-project run lock so projection runs share it
func (o *Orchestrator) Locks() *ProjectLock {
	return o.locks
}

// placeholderName and placeholderSummary are what a cluster is called until its
// summary has been generated
func placeholderName(label int) string { return fmt.Sprintf("Cluster_%d", label) }

func placeholderSummary(label int) string { return fmt.Sprintf("Auto-generated cluster %d", label) }

// Run clusters the embedded complaints of a project
func (o *Orchestrator) Run(ctx context.Context, projectID int64, params Params) (*Result, error) {
	start := time.Now()
	backend, err := o.config.NewBackend(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if _, err := o.store.GetProject(ctx, projectID); err != nil {
		return nil, fmt.Errorf("failed to load project %d: %w", projectID, err)
	}
	if !o.locks.TryAcquire(projectID) {
		return nil, ErrRunInProgress
	}
	defer o.locks.Release(projectID)

	result := &Result{RunID: uuid.NewString(), ProjectID: projectID, Algorithm: backend.Name()}
	logger := o.logger.With(zap.String("run_id", result.RunID), zap.Int64("project_id", projectID))
	defer func() { result.Duration = time.Since(start) }()

	// Collecting embeddings
	logger.Debug("phase", zap.Stringer("phase", PhaseCollecting))
	complaints, err := o.store.ListEmbeddedComplaints(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to collect embeddings: %w", err)
	}
	if len(complaints) == 0 {
		logger.Info("no embedded complaints to cluster")
		result.Status = StatusNoData
		return result, nil
	}
	kept, excluded, dim := splitByDimension(complaints)
	result.Excluded = len(excluded)
	if len(excluded) > 0 {
		logger.Warn("excluding complaints with mismatched embedding dimension",
			zap.Int("dimension", dim),
			zap.Int("excluded", len(excluded)))
	}

	// Clustering
	logger.Debug("phase", zap.Stringer("phase", PhaseClustering))
	// Rows are unit length for every metric so eps keeps one meaning across providers
	rows := toMatrix(kept, true)
	labels, err := backend.Cluster(rows)
	if err != nil {
		return nil, fmt.Errorf("clustering failed: %w", err)
	}
	if len(labels) != len(rows) {
		return nil, fmt.Errorf("clustering returned %d labels for %d rows", len(labels), len(rows))
	}

	tally := make(map[int]int)
	var order []int
	for _, l := range labels {
		if l == Noise {
			result.Noise++
			continue
		}
		if tally[l] == 0 {
			order = append(order, l)
		}
		tally[l]++
	}
	if len(tally) == 0 {
		logger.Info("all complaints classified as noise", zap.Int("complaints", len(labels)))
		result.Status = StatusAllNoise
		return result, nil
	}

	// Assigning labels
	logger.Debug("phase", zap.Stringer("phase", PhaseAssigning))
	infos, removed, err := o.assign(ctx, logger, projectID, kept, excluded, labels, order, tally)
	if err != nil {
		return nil, err
	}
	result.Removed = removed
	for _, n := range tally {
		result.Assigned += n
	}

	// Generating summaries
	logger.Debug("phase", zap.Stringer("phase", PhaseSummaries))
	for i := range infos {
		o.summarize(ctx, logger, &infos[i])
	}

	result.Clusters = infos
	result.Status = StatusDone
	logger.Info("clustering run complete",
		zap.Int("clusters", len(infos)),
		zap.Int("assigned", result.Assigned),
		zap.Int("noise", result.Noise),
		zap.Int("excluded", result.Excluded))
	return result, nil
}

// assign writes cluster rows and membership in one transaction
func (o *Orchestrator) assign(
	ctx context.Context,
	logger *zap.Logger,
	projectID int64,
	kept, excluded []*storage.Complaint,
	labels, order []int,
	tally map[int]int,
) (infos []ClusterInfo, removed int, err error) {
	tx, err := o.store.BeginTx(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	byLabel := make(map[int]*storage.Cluster, len(order))
	touched := make(map[int64]bool, len(order))
	for _, label := range order {
		c, _, err := tx.GetOrCreateCluster(ctx, projectID, placeholderName(label), placeholderSummary(label))
		if err != nil {
			return nil, 0, fmt.Errorf("failed to create cluster for label %d: %w", label, err)
		}
		byLabel[label] = c
		touched[c.ID] = true
	}

	assignments := make([]storage.ClusterAssignment, 0, len(kept)+len(excluded))
	for i, c := range kept {
		a := storage.ClusterAssignment{ComplaintID: c.ID}
		if labels[i] != Noise {
			id := byLabel[labels[i]].ID
			a.ClusterID = &id
		}
		assignments = append(assignments, a)
	}
	for _, c := range excluded {
		assignments = append(assignments, storage.ClusterAssignment{ComplaintID: c.ID})
	}
	for start := 0; start < len(assignments); start += o.config.AssignBatchSize {
		end := min(start+o.config.AssignBatchSize, len(assignments))
		if err := tx.UpdateClusterRefs(ctx, projectID, assignments[start:end]); err != nil {
			return nil, 0, fmt.Errorf("failed to assign complaints %d-%d: %w", start, end, err)
		}
	}

	for _, label := range order {
		c := byLabel[label]
		c.Size = tally[label]
		if o.config.VerifySizes {
			live, err := tx.CountClusterMembers(ctx, c.ID)
			if err != nil {
				return nil, 0, fmt.Errorf("failed to count members of cluster %d: %w", c.ID, err)
			}
			if live != c.Size {
				logger.Warn("repairing cluster size",
					zap.Error(ErrDataInconsistency),
					zap.Int64("cluster_id", c.ID),
					zap.Int("tally", c.Size),
					zap.Int("live", live))
				c.Size = live
			}
		}
		if err := tx.UpdateCluster(ctx, c); err != nil {
			return nil, 0, fmt.Errorf("failed to update cluster %d: %w", c.ID, err)
		}
		infos = append(infos, ClusterInfo{
			ID:       c.ID,
			Label:    label,
			Name:     c.Name,
			Summary:  c.Summary,
			Size:     c.Size,
			Provider: c.ProviderUsed,
		})
	}

	// Clusters from earlier runs that lost all their members
	existing, err := tx.ListClusters(ctx, projectID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list clusters: %w", err)
	}
	for _, c := range existing {
		if touched[c.ID] {
			continue
		}
		n, err := tx.CountClusterMembers(ctx, c.ID)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to count members of cluster %d: %w", c.ID, err)
		}
		if n > 0 {
			if n != c.Size {
				c.Size = n
				if err := tx.UpdateCluster(ctx, c); err != nil {
					return nil, 0, fmt.Errorf("failed to update cluster %d: %w", c.ID, err)
				}
			}
			continue
		}
		if err := tx.DeleteCluster(ctx, c.ID); err != nil {
			return nil, 0, fmt.Errorf("failed to delete stale cluster %d: %w", c.ID, err)
		}
		removed++
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("failed to commit assignment: %w", err)
	}
	return infos, removed, nil
}

// summarize replaces the placeholder of one cluster with a generated name and summary.
// Failures leave the placeholder in place.
func (o *Orchestrator) summarize(ctx context.Context, logger *zap.Logger, info *ClusterInfo) {
	if o.summarizer == nil {
		return
	}
	res, err := o.summarizer.Generate(ctx, info.ID)
	if err != nil {
		logger.Error("summary generation failed", zap.Int64("cluster_id", info.ID), zap.Error(err))
		return
	}
	if res.Status != summary.StatusGenerated {
		logger.Warn("keeping placeholder name",
			zap.Int64("cluster_id", info.ID),
			zap.Stringer("status", res.Status))
		return
	}
	c, err := o.applySummary(ctx, info.ID, res)
	if err != nil {
		logger.Error("failed to store summary", zap.Int64("cluster_id", info.ID), zap.Error(err))
		return
	}
	info.Name, info.Summary, info.Provider = c.Name, c.Summary, c.ProviderUsed
}

// applySummary stores a generated result, suffixing the name when another
// cluster of the project already uses it
func (o *Orchestrator) applySummary(ctx context.Context, clusterID int64, res summary.Result) (*storage.Cluster, error) {
	c, err := o.store.GetCluster(ctx, clusterID)
	if err != nil {
		return nil, err
	}
	siblings, err := o.store.ListClusters(ctx, c.ProjectID)
	if err != nil {
		return nil, err
	}
	taken := make(map[string]bool, len(siblings))
	for _, s := range siblings {
		if s.ID != c.ID {
			taken[s.Name] = true
		}
	}
	c.Name = uniqueName(res.Name, taken)
	c.Summary = res.Summary
	c.ProviderUsed = res.Provider
	if err := o.store.UpdateCluster(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func uniqueName(name string, taken map[string]bool) string {
	if !taken[name] {
		return name
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s (%d)", name, i)
		if !taken[candidate] {
			return candidate
		}
	}
}
