package storage

import (
	"context"
	"time"
)

// Storage defines the persistence boundary for projects, complaints and clusters
type Storage interface {
	// Project operations
	CreateProject(ctx context.Context, project *Project) error
	GetProject(ctx context.Context, projectID int64) (*Project, error)
	ListProjects(ctx context.Context) ([]*Project, error)

	// Complaint operations
	CreateComplaint(ctx context.Context, complaint *Complaint) error
	BulkCreateComplaints(ctx context.Context, complaints []*Complaint) error
	GetComplaint(ctx context.Context, complaintID int64) (*Complaint, error)
	GetComplaintsByIDs(ctx context.Context, projectID int64, ids []int64) ([]*Complaint, error)
	ListComplaints(ctx context.Context, projectID int64) ([]*Complaint, error)
	ListEmbeddedComplaints(ctx context.Context, projectID int64) ([]*Complaint, error)
	ListPendingComplaints(ctx context.Context, projectID int64) ([]*Complaint, error)
	ListComplaintsByCluster(ctx context.Context, clusterID int64) ([]*Complaint, error)
	UpdateEmbeddings(ctx context.Context, complaints []*Complaint) (int, error)
	UpdateClusterRefs(ctx context.Context, projectID int64, assignments []ClusterAssignment) error
	UpdateCoordinates(ctx context.Context, projectID int64, coords []Coordinate) error

	// Cluster operations
	CreateCluster(ctx context.Context, cluster *Cluster) error
	GetOrCreateCluster(ctx context.Context, projectID int64, name, summary string) (*Cluster, bool, error)
	GetCluster(ctx context.Context, clusterID int64) (*Cluster, error)
	ListClusters(ctx context.Context, projectID int64) ([]*Cluster, error)
	UpdateCluster(ctx context.Context, cluster *Cluster) error
	CountClusterMembers(ctx context.Context, clusterID int64) (int, error)
	DeleteCluster(ctx context.Context, clusterID int64) error

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// Project is the partitioning key for complaints and clusters
type Project struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// Complaint is a single free-text complaint.
// Embedding is nil until the embedding pipeline has populated it.
type Complaint struct {
	ID                int64
	ProjectID         int64
	Name              string
	Email             string
	Text              string
	Embedding         []float32
	EmbeddingProvider string
	X                 float64
	Y                 float64
	ClusterID         *int64 // Nullable
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasEmbedding reports whether the complaint carries a populated vector
func (c *Complaint) HasEmbedding() bool {
	return len(c.Embedding) > 0
}

// Cluster is a named group of semantically similar complaints
type Cluster struct {
	ID           int64
	ProjectID    int64
	Name         string
	Summary      string
	Size         int
	ProviderUsed string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ClusterAssignment moves a complaint into a cluster. A nil ClusterID detaches it.
type ClusterAssignment struct {
	ComplaintID int64
	ClusterID   *int64
}

// Coordinate is a 2-D projection point for a complaint
type Coordinate struct {
	ComplaintID int64
	X           float64
	Y           float64
}
