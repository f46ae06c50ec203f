package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/complaintlens/internal/cluster"
	"github.com/dshills/complaintlens/internal/embedder"
	"github.com/dshills/complaintlens/internal/ingest"
	"github.com/dshills/complaintlens/internal/pipeline"
	"github.com/dshills/complaintlens/internal/storage"
	"github.com/dshills/complaintlens/internal/tasks"
)

type fakeEmbedder struct{}

func (fakeEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	return &embedder.Embedding{Vector: []float32{float32(len(req.Text)), 1}, Provider: "fake"}, nil
}

func (f fakeEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	out := make([]*embedder.Embedding, len(req.Texts))
	for i, t := range req.Texts {
		out[i], _ = f.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: t})
	}
	return &embedder.BatchEmbeddingResponse{Embeddings: out, Provider: "fake"}, nil
}

func (fakeEmbedder) Dimension() int   { return 2 }
func (fakeEmbedder) Provider() string { return "fake" }
func (fakeEmbedder) Model() string    { return "fake-v1" }
func (fakeEmbedder) Close() error     { return nil }

// halfBackend puts the first half of the rows in one cluster and the rest in another
type halfBackend struct{}

func (halfBackend) Name() string { return "half" }

func (halfBackend) Cluster(rows [][]float64) ([]int, error) {
	labels := make([]int, len(rows))
	for i := len(rows) / 2; i < len(rows); i++ {
		labels[i] = 1
	}
	return labels, nil
}

func newTestServer(t *testing.T) (*Server, storage.Storage) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	runner, err := tasks.New(nil, tasks.Config{})
	require.NoError(t, err)
	t.Cleanup(runner.Close)

	emb := fakeEmbedder{}
	pipe := pipeline.New(emb, store, nil, nil)
	orch := cluster.New(store, nil, nil, &cluster.Config{
		AssignBatchSize: 100,
		VerifySizes:     true,
		NewBackend:      func(cluster.Params) (cluster.Backend, error) { return halfBackend{}, nil },
	})

	s, err := NewServer(Deps{
		Storage:         store,
		Ingest:          ingest.New(store, emb, pipe, nil, ingest.Config{}),
		Pipeline:        pipe,
		Orchestrator:    orch,
		Projector:       cluster.NewProjector(store, nil, orch.Locks(), nil),
		Tasks:           runner,
		ClusterDefaults: cluster.DefaultParams(),
	})
	require.NoError(t, err)
	return s, store
}

type handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

func call(t *testing.T, h handler, args map[string]interface{}) (map[string]interface{}, error) {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	res, err := h(context.Background(), req)
	if err != nil {
		return nil, err
	}
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out, nil
}

func mustCall(t *testing.T, h handler, args map[string]interface{}) map[string]interface{} {
	t.Helper()
	out, err := call(t, h, args)
	require.NoError(t, err)
	return out
}

func assertCode(t *testing.T, err error, code int) {
	t.Helper()
	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr), "expected MCPError, got %v", err)
	assert.Equal(t, code, mcpErr.Code)
}

func TestNewServer_RequiresDeps(t *testing.T) {
	_, err := NewServer(Deps{})
	assert.Error(t, err)
}

func TestWorkflow(t *testing.T) {
	s, store := newTestServer(t)

	project := mustCall(t, s.handleCreateProject, map[string]interface{}{"name": "support"})
	projectID := project["id"].(float64)

	var ids []interface{}
	for i := 0; i < 6; i++ {
		c := mustCall(t, s.handleSubmitComplaint, map[string]interface{}{
			"project_id": projectID,
			"text":       fmt.Sprintf("complaint number %d", i),
		})
		assert.Equal(t, true, c["embedded"])
		ids = append(ids, c["id"])
	}

	run := mustCall(t, s.handleClusterProject, map[string]interface{}{"project_id": projectID, "async": false})
	assert.Equal(t, cluster.StatusDone, run["status"])
	assert.Len(t, run["clusters"], 2)

	list := mustCall(t, s.handleListClusters, map[string]interface{}{"project_id": projectID})
	clusters := list["clusters"].([]interface{})
	require.Len(t, clusters, 2)
	first := clusters[0].(map[string]interface{})
	assert.Equal(t, float64(3), first["size"])

	detail := mustCall(t, s.handleGetCluster, map[string]interface{}{"cluster_id": first["id"]})
	assert.Len(t, detail["members"], 3)

	group := mustCall(t, s.handleGroupComplaints, map[string]interface{}{
		"project_id":    projectID,
		"complaint_ids": []interface{}{ids[0], ids[5]},
		"name":          "Mixed",
	})
	assert.Equal(t, "Mixed", group["name"])
	assert.Equal(t, float64(2), group["size"])

	deleted := mustCall(t, s.handleDeleteCluster, map[string]interface{}{"cluster_id": group["id"]})
	assert.Equal(t, true, deleted["deleted"])

	c, err := store.GetComplaint(context.Background(), int64(ids[0].(float64)))
	require.NoError(t, err)
	assert.Nil(t, c.ClusterID)

	_, err = call(t, s.handleDeleteCluster, map[string]interface{}{"cluster_id": group["id"]})
	assertCode(t, err, ErrorCodeNotFound)
}

func TestListProjectsAndComplaints(t *testing.T) {
	s, store := newTestServer(t)
	project := mustCall(t, s.handleCreateProject, map[string]interface{}{"name": "billing"})
	mustCall(t, s.handleCreateProject, map[string]interface{}{"name": "delivery"})

	projects := mustCall(t, s.handleListProjects, map[string]interface{}{})["projects"].([]interface{})
	require.Len(t, projects, 2)
	assert.Equal(t, "billing", projects[0].(map[string]interface{})["name"])

	var ids []interface{}
	for _, text := range []string{"charged twice", "refund never came"} {
		c := mustCall(t, s.handleSubmitComplaint, map[string]interface{}{"project_id": project["id"], "text": text})
		ids = append(ids, c["id"])
	}
	pending := &storage.Complaint{ProjectID: int64(project["id"].(float64)), Text: "no embedding yet", X: 12, Y: 30}
	require.NoError(t, store.CreateComplaint(context.Background(), pending))

	group := mustCall(t, s.handleGroupComplaints, map[string]interface{}{
		"project_id":    project["id"],
		"complaint_ids": []interface{}{ids[0]},
		"name":          "Double charge",
	})

	list := mustCall(t, s.handleListComplaints, map[string]interface{}{"project_id": project["id"]})
	complaints := list["complaints"].([]interface{})
	require.Len(t, complaints, 3)

	grouped := complaints[0].(map[string]interface{})
	assert.Equal(t, "charged twice", grouped["text"])
	assert.Equal(t, group["id"], grouped["cluster_id"])
	assert.Equal(t, true, grouped["embedded"])

	unclustered := complaints[1].(map[string]interface{})
	assert.Nil(t, unclustered["cluster_id"])

	last := complaints[2].(map[string]interface{})
	assert.Equal(t, false, last["embedded"])
	assert.Nil(t, last["cluster_id"])
	assert.Equal(t, float64(12), last["x"])
	assert.Equal(t, float64(30), last["y"])

	_, err := call(t, s.handleListComplaints, map[string]interface{}{"project_id": 9999})
	assertCode(t, err, ErrorCodeNotFound)
	_, err = call(t, s.handleListComplaints, map[string]interface{}{})
	assertCode(t, err, ErrorCodeInvalidParams)
}

func TestAsyncRunAndTaskStatus(t *testing.T) {
	s, _ := newTestServer(t)
	project := mustCall(t, s.handleCreateProject, map[string]interface{}{"name": "async"})

	dir := t.TempDir()
	path := filepath.Join(dir, "complaints.csv")
	require.NoError(t, os.WriteFile(path, []byte("email,Id,Text\na@x,1,late\nb@x,2,broken\n"), 0o600))

	queued := mustCall(t, s.handleImportCSV, map[string]interface{}{"project_id": project["id"], "path": path})
	assert.Equal(t, string(tasks.StatusPending), queued["status"])
	runID := queued["run_id"].(string)

	var status map[string]interface{}
	require.Eventually(t, func() bool {
		status = mustCall(t, s.handleGetTaskStatus, map[string]interface{}{"run_id": runID})
		return status["status"] == string(tasks.StatusSuccess)
	}, 2*time.Second, 10*time.Millisecond)
	result := status["result"].(map[string]interface{})
	assert.Equal(t, float64(2), result["created"])
	assert.Equal(t, float64(2), result["embedded"])

	_, err := call(t, s.handleGetTaskStatus, map[string]interface{}{"run_id": "nope"})
	assertCode(t, err, ErrorCodeNotFound)
}

func TestErrorCodes(t *testing.T) {
	s, store := newTestServer(t)
	project := mustCall(t, s.handleCreateProject, map[string]interface{}{"name": "errors"})
	other := mustCall(t, s.handleCreateProject, map[string]interface{}{"name": "other"})

	_, err := call(t, s.handleSubmitComplaint, map[string]interface{}{"project_id": project["id"], "text": "   "})
	assertCode(t, err, ErrorCodeEmptyText)

	_, err = call(t, s.handleSubmitComplaint, map[string]interface{}{"text": "x"})
	assertCode(t, err, ErrorCodeInvalidParams)

	_, err = call(t, s.handleCreateProject, map[string]interface{}{})
	assertCode(t, err, ErrorCodeInvalidParams)

	_, err = call(t, s.handleListClusters, map[string]interface{}{"project_id": 9999})
	assertCode(t, err, ErrorCodeNotFound)

	_, err = call(t, s.handleClusterProject, map[string]interface{}{"project_id": project["id"], "algorithm": "spectral"})
	assertCode(t, err, ErrorCodeInvalidParams)

	_, err = call(t, s.handleImportCSV, map[string]interface{}{"project_id": project["id"], "path": "relative.csv"})
	assertCode(t, err, ErrorCodeInvalidParams)

	_, err = call(t, s.handleProjectCoordinates, map[string]interface{}{"project_id": project["id"], "perplexity": -1})
	assertCode(t, err, ErrorCodeInvalidParams)

	c := &storage.Complaint{ProjectID: int64(project["id"].(float64)), Text: "mine"}
	require.NoError(t, store.CreateComplaint(context.Background(), c))
	_, err = call(t, s.handleGroupComplaints, map[string]interface{}{
		"project_id":    other["id"],
		"complaint_ids": []interface{}{float64(c.ID)},
	})
	assertCode(t, err, ErrorCodeInvalidParams)

	_, err = call(t, s.handleGroupComplaints, map[string]interface{}{
		"project_id":    project["id"],
		"complaint_ids": []interface{}{"one"},
	})
	assertCode(t, err, ErrorCodeInvalidParams)

	_, err = call(t, s.handleRegenerateSummary, map[string]interface{}{"cluster_id": 12345})
	assertCode(t, err, ErrorCodeInternalError)

	var req mcp.CallToolRequest
	_, err = s.handleGetCluster(context.Background(), req)
	assertCode(t, err, ErrorCodeInvalidParams)
}
