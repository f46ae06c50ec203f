package cluster

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/complaintlens/internal/storage"
	"github.com/dshills/complaintlens/internal/summary"
)

// Group creates a cluster from hand-picked complaints of one project and moves them
// into it. When name is empty the generated summary names the cluster.
func (o *Orchestrator) Group(ctx context.Context, projectID int64, complaintIDs []int64, name string) (*storage.Cluster, error) {
	if len(complaintIDs) == 0 {
		return nil, fmt.Errorf("%w: no complaint ids", ErrInvalidInput)
	}
	if _, err := o.store.GetProject(ctx, projectID); err != nil {
		return nil, fmt.Errorf("failed to load project %d: %w", projectID, err)
	}
	if !o.locks.TryAcquire(projectID) {
		return nil, ErrRunInProgress
	}
	defer o.locks.Release(projectID)

	members, err := o.store.GetComplaintsByIDs(ctx, projectID, complaintIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load complaints: %w", err)
	}

	name = strings.TrimSpace(name)
	named := name != ""
	if !named {
		existing, err := o.store.ListClusters(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("failed to list clusters: %w", err)
		}
		taken := make(map[string]bool, len(existing))
		for _, c := range existing {
			taken[c.Name] = true
		}
		name = uniqueName("Manual group", taken)
	}

	c, err := o.writeGroup(ctx, projectID, members, name)
	if err != nil {
		return nil, err
	}

	if o.summarizer != nil {
		res, err := o.summarizer.Generate(ctx, c.ID)
		switch {
		case err != nil:
			o.logger.Error("summary generation failed", zap.Int64("cluster_id", c.ID), zap.Error(err))
		case res.Status == summary.StatusGenerated:
			if named {
				res.Name = c.Name
			}
			if updated, err := o.applySummary(ctx, c.ID, res); err == nil {
				c = updated
			} else {
				o.logger.Error("failed to store summary", zap.Int64("cluster_id", c.ID), zap.Error(err))
			}
		}
	}
	return c, nil
}

func (o *Orchestrator) writeGroup(ctx context.Context, projectID int64, members []*storage.Complaint, name string) (c *storage.Cluster, err error) {
	tx, err := o.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	c, created, err := tx.GetOrCreateCluster(ctx, projectID, name, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create cluster: %w", err)
	}
	if !created {
		return nil, fmt.Errorf("%w: cluster %q already exists", ErrInvalidInput, name)
	}

	assignments := make([]storage.ClusterAssignment, len(members))
	for i, m := range members {
		assignments[i] = storage.ClusterAssignment{ComplaintID: m.ID, ClusterID: &c.ID}
	}
	if err := tx.UpdateClusterRefs(ctx, projectID, assignments); err != nil {
		return nil, fmt.Errorf("failed to assign complaints: %w", err)
	}

	// Former clusters of the members shrink
	affected := make(map[int64]bool)
	for _, m := range members {
		if m.ClusterID != nil {
			affected[*m.ClusterID] = true
		}
	}
	affected[c.ID] = true
	for id := range affected {
		if err := o.resize(ctx, tx, id); err != nil {
			return nil, err
		}
	}
	if c, err = tx.GetCluster(ctx, c.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit group: %w", err)
	}
	return c, nil
}

func (o *Orchestrator) resize(ctx context.Context, s storage.Storage, clusterID int64) error {
	c, err := s.GetCluster(ctx, clusterID)
	if err != nil {
		return fmt.Errorf("failed to load cluster %d: %w", clusterID, err)
	}
	n, err := s.CountClusterMembers(ctx, clusterID)
	if err != nil {
		return fmt.Errorf("failed to count members of cluster %d: %w", clusterID, err)
	}
	if c.Size == n {
		return nil
	}
	c.Size = n
	return s.UpdateCluster(ctx, c)
}

// Regenerate asks the summarizer again for one cluster
func (o *Orchestrator) Regenerate(ctx context.Context, clusterID int64) (*storage.Cluster, summary.Result, error) {
	if o.summarizer == nil {
		return nil, summary.Result{}, fmt.Errorf("no summary provider configured")
	}
	c, err := o.store.GetCluster(ctx, clusterID)
	if err != nil {
		return nil, summary.Result{}, fmt.Errorf("failed to load cluster %d: %w", clusterID, err)
	}
	res, err := o.summarizer.Generate(ctx, clusterID)
	if err != nil {
		return nil, summary.Result{}, err
	}
	if res.Status != summary.StatusGenerated {
		return c, res, nil
	}
	c, err = o.applySummary(ctx, clusterID, res)
	if err != nil {
		return nil, res, fmt.Errorf("failed to store summary: %w", err)
	}
	return c, res, nil
}

// Delete removes a cluster. Its complaints stay and are detached.
func (o *Orchestrator) Delete(ctx context.Context, clusterID int64) error {
	if err := o.store.DeleteCluster(ctx, clusterID); err != nil {
		return fmt.Errorf("failed to delete cluster %d: %w", clusterID, err)
	}
	o.logger.Info("cluster deleted", zap.Int64("cluster_id", clusterID))
	return nil
}
