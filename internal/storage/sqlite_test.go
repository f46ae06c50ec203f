package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	// Use in-memory database for testing
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func createProject(t *testing.T, s Storage) *Project {
	t.Helper()
	p := &Project{Name: "test"}
	require.NoError(t, s.CreateProject(context.Background(), p))
	return p
}

func TestCreateAndGetProject(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	project := &Project{Name: "support inbox"}
	require.NoError(t, storage.CreateProject(ctx, project))
	assert.Greater(t, project.ID, int64(0))

	got, err := storage.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, "support inbox", got.Name)

	_, err = storage.GetProject(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := storage.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestBulkCreateComplaints(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	project := createProject(t, storage)

	complaints := []*Complaint{
		{ProjectID: project.ID, Name: "a", Email: "a@example.com", Text: "slow delivery"},
		{ProjectID: project.ID, Name: "b", Email: "b@example.com", Text: "rude staff",
			Embedding: []float32{0.1, 0.2, 0.3}, EmbeddingProvider: "gigachat"},
	}
	require.NoError(t, storage.BulkCreateComplaints(ctx, complaints))
	assert.Less(t, complaints[0].ID, complaints[1].ID)

	got, err := storage.GetComplaint(ctx, complaints[1].ID)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, got.Embedding)
	assert.Equal(t, "gigachat", got.EmbeddingProvider)
	assert.Nil(t, got.ClusterID)

	embedded, err := storage.ListEmbeddedComplaints(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, embedded, 1)
	assert.Equal(t, complaints[1].ID, embedded[0].ID)

	pending, err := storage.ListPendingComplaints(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, complaints[0].ID, pending[0].ID)

	err = storage.CreateComplaint(ctx, &Complaint{Text: "orphan"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateEmbeddings_OnlyFillsMissing(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	project := createProject(t, storage)

	existing := &Complaint{ProjectID: project.ID, Text: "x", Embedding: []float32{1, 1}, EmbeddingProvider: "old"}
	fresh := &Complaint{ProjectID: project.ID, Text: "y"}
	require.NoError(t, storage.BulkCreateComplaints(ctx, []*Complaint{existing, fresh}))

	existing.Embedding = []float32{9, 9}
	existing.EmbeddingProvider = "new"
	fresh.Embedding = []float32{2, 2}
	fresh.EmbeddingProvider = "new"

	n, err := storage.UpdateEmbeddings(ctx, []*Complaint{existing, fresh})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := storage.GetComplaint(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1}, got.Embedding)
	assert.Equal(t, "old", got.EmbeddingProvider)

	got, err = storage.GetComplaint(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 2}, got.Embedding)
}

func TestGetOrCreateCluster(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	project := createProject(t, storage)

	c1, created, err := storage.GetOrCreateCluster(ctx, project.ID, "Cluster_0", "Auto-generated cluster 0")
	require.NoError(t, err)
	assert.True(t, created)

	c2, created, err := storage.GetOrCreateCluster(ctx, project.ID, "Cluster_0", "ignored")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, c1.ID, c2.ID)
	assert.Equal(t, "Auto-generated cluster 0", c2.Summary)

	other := createProject(t, storage)
	c3, created, err := storage.GetOrCreateCluster(ctx, other.ID, "Cluster_0", "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, c1.ID, c3.ID)
}

func TestUpdateClusterRefs(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	project := createProject(t, storage)

	complaints := []*Complaint{
		{ProjectID: project.ID, Text: "a"},
		{ProjectID: project.ID, Text: "b"},
		{ProjectID: project.ID, Text: "c"},
	}
	require.NoError(t, storage.BulkCreateComplaints(ctx, complaints))
	cluster, _, err := storage.GetOrCreateCluster(ctx, project.ID, "Cluster_1", "")
	require.NoError(t, err)

	err = storage.UpdateClusterRefs(ctx, project.ID, []ClusterAssignment{
		{ComplaintID: complaints[0].ID, ClusterID: &cluster.ID},
		{ComplaintID: complaints[1].ID, ClusterID: &cluster.ID},
		{ComplaintID: complaints[2].ID, ClusterID: nil},
	})
	require.NoError(t, err)

	n, err := storage.CountClusterMembers(ctx, cluster.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	members, err := storage.ListComplaintsByCluster(ctx, cluster.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestUpdateClusterRefs_RejectsCrossProject(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	p1 := createProject(t, storage)
	p2 := createProject(t, storage)

	c := &Complaint{ProjectID: p1.ID, Text: "a"}
	require.NoError(t, storage.CreateComplaint(ctx, c))
	foreign, _, err := storage.GetOrCreateCluster(ctx, p2.ID, "Cluster_0", "")
	require.NoError(t, err)

	err = storage.UpdateClusterRefs(ctx, p1.ID, []ClusterAssignment{{ComplaintID: c.ID, ClusterID: &foreign.ID}})
	assert.ErrorIs(t, err, ErrCrossProject)

	err = storage.UpdateClusterRefs(ctx, p2.ID, []ClusterAssignment{{ComplaintID: c.ID, ClusterID: &foreign.ID}})
	assert.ErrorIs(t, err, ErrCrossProject)

	_, err = storage.GetComplaintsByIDs(ctx, p2.ID, []int64{c.ID})
	assert.ErrorIs(t, err, ErrCrossProject)
}

func TestDeleteCluster_DetachesMembers(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	project := createProject(t, storage)

	cluster, _, err := storage.GetOrCreateCluster(ctx, project.ID, "Cluster_0", "")
	require.NoError(t, err)
	c := &Complaint{ProjectID: project.ID, Text: "a", ClusterID: &cluster.ID}
	require.NoError(t, storage.CreateComplaint(ctx, c))

	require.NoError(t, storage.DeleteCluster(ctx, cluster.ID))

	got, err := storage.GetComplaint(ctx, c.ID)
	require.NoError(t, err, "complaint must survive cluster deletion")
	assert.Nil(t, got.ClusterID)

	assert.ErrorIs(t, storage.DeleteCluster(ctx, cluster.ID), ErrNotFound)
}

func TestUpdateCoordinates(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	project := createProject(t, storage)

	a := &Complaint{ProjectID: project.ID, Text: "a"}
	b := &Complaint{ProjectID: project.ID, Text: "b"}
	require.NoError(t, storage.BulkCreateComplaints(ctx, []*Complaint{a, b}))

	require.NoError(t, storage.UpdateCoordinates(ctx, project.ID, []Coordinate{
		{ComplaintID: a.ID, X: 1.5, Y: -2},
		{ComplaintID: b.ID, X: 3, Y: 4.25},
	}))

	got, err := storage.GetComplaint(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 3.0, got.X)
	assert.Equal(t, 4.25, got.Y)
}

func TestTransaction(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	project := createProject(t, storage)

	t.Run("rollback discards writes", func(t *testing.T) {
		tx, err := storage.BeginTx(ctx)
		require.NoError(t, err)
		_, _, err = tx.GetOrCreateCluster(ctx, project.ID, "Cluster_tx", "")
		require.NoError(t, err)
		require.NoError(t, tx.Rollback())

		clusters, err := storage.ListClusters(ctx, project.ID)
		require.NoError(t, err)
		assert.Empty(t, clusters)
	})

	t.Run("commit keeps writes", func(t *testing.T) {
		tx, err := storage.BeginTx(ctx)
		require.NoError(t, err)
		cluster, _, err := tx.GetOrCreateCluster(ctx, project.ID, "Cluster_tx", "")
		require.NoError(t, err)
		cluster.Size = 3
		cluster.ProviderUsed = "gigachat"
		require.NoError(t, tx.UpdateCluster(ctx, cluster))
		require.NoError(t, tx.Commit())

		got, err := storage.GetCluster(ctx, cluster.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, got.Size)
		assert.Equal(t, "gigachat", got.ProviderUsed)
	})

	t.Run("nested transaction rejected", func(t *testing.T) {
		tx, err := storage.BeginTx(ctx)
		require.NoError(t, err)
		defer func() { _ = tx.Rollback() }()
		_, err = tx.BeginTx(ctx)
		assert.ErrorIs(t, err, ErrNestedTx)
	})
}

func TestVectorRoundTrip(t *testing.T) {
	v := []float32{0, -1.5, 3.25, 1e-7}
	assert.Equal(t, v, deserializeVector(serializeVector(v)))
	assert.Nil(t, serializeVector(nil))
	assert.Nil(t, deserializeVector([]byte{1, 2, 3}))
}
