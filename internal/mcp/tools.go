package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/complaintlens/internal/cluster"
	"github.com/dshills/complaintlens/internal/ingest"
	"github.com/dshills/complaintlens/internal/storage"
	"github.com/dshills/complaintlens/internal/tasks"
)

// handleCreateProject handles the create_project tool invocation
func (s *Server) handleCreateProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(getStringDefault(args, "name", ""))
	if name == "" {
		return nil, missingParam("name")
	}

	project := &storage.Project{Name: name}
	if err := s.deps.Storage.CreateProject(ctx, project); err != nil {
		return nil, toMCPError("failed to create project", err)
	}
	return textResult(map[string]interface{}{"id": project.ID, "name": project.Name}), nil
}

// handleListProjects handles the list_projects tool invocation
func (s *Server) handleListProjects(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projects, err := s.deps.Storage.ListProjects(ctx)
	if err != nil {
		return nil, toMCPError("failed to list projects", err)
	}
	out := make([]map[string]interface{}, len(projects))
	for i, p := range projects {
		out[i] = map[string]interface{}{
			"id":         p.ID,
			"name":       p.Name,
			"created_at": p.CreatedAt,
		}
	}
	return textResult(map[string]interface{}{"projects": out}), nil
}

// handleListComplaints handles the list_complaints tool invocation
func (s *Server) handleListComplaints(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	projectID, err := requireID(args, "project_id")
	if err != nil {
		return nil, err
	}
	if _, err := s.deps.Storage.GetProject(ctx, projectID); err != nil {
		return nil, toMCPError("project not found", err)
	}

	complaints, err := s.deps.Storage.ListComplaints(ctx, projectID)
	if err != nil {
		return nil, toMCPError("failed to list complaints", err)
	}
	out := make([]map[string]interface{}, len(complaints))
	for i, c := range complaints {
		entry := complaintJSON(c)
		entry["cluster_id"] = c.ClusterID
		entry["embedded"] = len(c.Embedding) > 0
		out[i] = entry
	}
	return textResult(map[string]interface{}{"project_id": projectID, "complaints": out}), nil
}

// handleSubmitComplaint handles the submit_complaint tool invocation
func (s *Server) handleSubmitComplaint(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	projectID, err := requireID(args, "project_id")
	if err != nil {
		return nil, err
	}

	c, err := s.deps.Ingest.Submit(ctx, projectID, ingest.Submission{
		Name:  getStringDefault(args, "name", ""),
		Email: getStringDefault(args, "email", ""),
		Text:  getStringDefault(args, "text", ""),
	})
	if err != nil {
		return nil, toMCPError("failed to submit complaint", err)
	}
	return textResult(map[string]interface{}{
		"id":                 c.ID,
		"project_id":         c.ProjectID,
		"name":               c.Name,
		"email":              c.Email,
		"embedded":           c.HasEmbedding(),
		"embedding_provider": c.EmbeddingProvider,
		"x":                  c.X,
		"y":                  c.Y,
	}), nil
}

// handleImportCSV handles the import_csv tool invocation
func (s *Server) handleImportCSV(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	projectID, err := requireID(args, "project_id")
	if err != nil {
		return nil, err
	}
	path := getStringDefault(args, "path", "")
	if path == "" {
		return nil, missingParam("path")
	}
	if !filepath.IsAbs(path) {
		return nil, newMCPError(ErrorCodeInvalidParams, "path must be absolute", map[string]interface{}{
			"param": "path",
			"value": path,
		})
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return nil, newMCPError(ErrorCodeInvalidParams, "path is not a readable file", map[string]interface{}{
			"param": "path",
			"value": path,
		})
	}

	return s.dispatch(ctx, "import_csv", getBoolDefault(args, "async", true), func(ctx context.Context) (interface{}, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer func() { _ = f.Close() }()
		return s.deps.Ingest.ImportCSV(ctx, projectID, f)
	})
}

// handleImportComments handles the import_comments tool invocation
func (s *Server) handleImportComments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	projectID, err := requireID(args, "project_id")
	if err != nil {
		return nil, err
	}
	videoURL := getStringDefault(args, "video_url", "")
	if videoURL == "" {
		return nil, missingParam("video_url")
	}
	limit := getIntDefault(args, "limit", 0)
	if limit < 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must not be negative", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	return s.dispatch(ctx, "import_comments", getBoolDefault(args, "async", true), func(ctx context.Context) (interface{}, error) {
		return s.deps.Ingest.ImportComments(ctx, projectID, videoURL, limit)
	})
}

// handleEmbedPending handles the embed_pending tool invocation
func (s *Server) handleEmbedPending(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	projectID, err := requireID(args, "project_id")
	if err != nil {
		return nil, err
	}
	if _, err := s.deps.Storage.GetProject(ctx, projectID); err != nil {
		return nil, toMCPError("project not found", err)
	}

	return s.dispatch(ctx, "embed_pending", getBoolDefault(args, "async", false), func(ctx context.Context) (interface{}, error) {
		return s.deps.Pipeline.EmbedPending(ctx, projectID)
	})
}

// handleClusterProject handles the cluster_project tool invocation
func (s *Server) handleClusterProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	projectID, err := requireID(args, "project_id")
	if err != nil {
		return nil, err
	}

	d := s.deps.ClusterDefaults
	params := cluster.Params{
		Algorithm:    getStringDefault(args, "algorithm", d.Algorithm),
		Eps:          getFloatDefault(args, "eps", d.Eps),
		MinSamples:   getIntDefault(args, "min_samples", d.MinSamples),
		NClusters:    getIntDefault(args, "n_clusters", d.NClusters),
		AutoClusters: getBoolDefault(args, "auto_clusters", d.AutoClusters),
		Metric:       getStringDefault(args, "metric", d.Metric),
	}
	if _, err := cluster.NewBackend(params); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid clustering parameters", map[string]interface{}{
			"reason": err.Error(),
		})
	}
	if _, err := s.deps.Storage.GetProject(ctx, projectID); err != nil {
		return nil, toMCPError("project not found", err)
	}

	return s.dispatch(ctx, "cluster_project", getBoolDefault(args, "async", true), func(ctx context.Context) (interface{}, error) {
		return s.deps.Orchestrator.Run(ctx, projectID, params)
	})
}

// handleProjectCoordinates handles the project_coordinates tool invocation
func (s *Server) handleProjectCoordinates(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	projectID, err := requireID(args, "project_id")
	if err != nil {
		return nil, err
	}
	perplexity := getFloatDefault(args, "perplexity", s.deps.DefaultPerplexity)
	if perplexity <= 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "perplexity must be positive", map[string]interface{}{
			"param": "perplexity",
			"value": perplexity,
		})
	}
	if _, err := s.deps.Storage.GetProject(ctx, projectID); err != nil {
		return nil, toMCPError("project not found", err)
	}

	return s.dispatch(ctx, "project_coordinates", getBoolDefault(args, "async", true), func(ctx context.Context) (interface{}, error) {
		return s.deps.Projector.Project(ctx, projectID, perplexity)
	})
}

// handleGetTaskStatus handles the get_task_status tool invocation
func (s *Server) handleGetTaskStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	runID := getStringDefault(args, "run_id", "")
	if runID == "" {
		return nil, missingParam("run_id")
	}

	info, ok := s.deps.Tasks.Get(runID)
	if !ok {
		return nil, newMCPError(ErrorCodeNotFound, "unknown run_id", map[string]interface{}{
			"run_id": runID,
		})
	}
	response := map[string]interface{}{
		"run_id": info.ID,
		"kind":   info.Kind,
		"status": info.Status,
		"result": info.Result,
		"error":  info.Error,
	}
	return textResult(response), nil
}

// handleListClusters handles the list_clusters tool invocation
func (s *Server) handleListClusters(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	projectID, err := requireID(args, "project_id")
	if err != nil {
		return nil, err
	}
	if _, err := s.deps.Storage.GetProject(ctx, projectID); err != nil {
		return nil, toMCPError("project not found", err)
	}

	clusters, err := s.deps.Storage.ListClusters(ctx, projectID)
	if err != nil {
		return nil, toMCPError("failed to list clusters", err)
	}
	out := make([]map[string]interface{}, len(clusters))
	for i, c := range clusters {
		out[i] = clusterJSON(c)
	}
	return textResult(map[string]interface{}{"project_id": projectID, "clusters": out}), nil
}

// handleGetCluster handles the get_cluster tool invocation
func (s *Server) handleGetCluster(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	clusterID, err := requireID(args, "cluster_id")
	if err != nil {
		return nil, err
	}

	c, err := s.deps.Storage.GetCluster(ctx, clusterID)
	if err != nil {
		return nil, toMCPError("cluster not found", err)
	}
	response := clusterJSON(c)

	if getBoolDefault(args, "include_members", true) {
		members, err := s.deps.Storage.ListComplaintsByCluster(ctx, clusterID)
		if err != nil {
			return nil, toMCPError("failed to list members", err)
		}
		list := make([]map[string]interface{}, len(members))
		for i, m := range members {
			list[i] = complaintJSON(m)
		}
		response["members"] = list
	}
	return textResult(response), nil
}

// handleRegenerateSummary handles the regenerate_summary tool invocation
func (s *Server) handleRegenerateSummary(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	clusterID, err := requireID(args, "cluster_id")
	if err != nil {
		return nil, err
	}

	c, res, err := s.deps.Orchestrator.Regenerate(ctx, clusterID)
	if err != nil {
		return nil, toMCPError("failed to regenerate summary", err)
	}
	response := clusterJSON(c)
	response["status"] = res.Status.String()
	return textResult(response), nil
}

// handleGroupComplaints handles the group_complaints tool invocation
func (s *Server) handleGroupComplaints(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	projectID, err := requireID(args, "project_id")
	if err != nil {
		return nil, err
	}
	ids, err := getIDList(args, "complaint_ids")
	if err != nil {
		return nil, err
	}

	c, err := s.deps.Orchestrator.Group(ctx, projectID, ids, getStringDefault(args, "name", ""))
	if err != nil {
		return nil, toMCPError("failed to group complaints", err)
	}
	return textResult(clusterJSON(c)), nil
}

// handleDeleteCluster handles the delete_cluster tool invocation
func (s *Server) handleDeleteCluster(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	clusterID, err := requireID(args, "cluster_id")
	if err != nil {
		return nil, err
	}

	if err := s.deps.Orchestrator.Delete(ctx, clusterID); err != nil {
		return nil, toMCPError("failed to delete cluster", err)
	}
	return textResult(map[string]interface{}{"deleted": true, "cluster_id": clusterID}), nil
}

// dispatch runs fn on the task runner when async, inline otherwise
func (s *Server) dispatch(ctx context.Context, kind string, async bool, fn tasks.Func) (*mcp.CallToolResult, error) {
	if !async {
		result, err := fn(ctx)
		if err != nil {
			return nil, toMCPError(kind+" failed", err)
		}
		return textResult(result), nil
	}

	runID, err := s.deps.Tasks.Submit(kind, fn)
	if err != nil {
		return nil, toMCPError("failed to schedule "+kind, err)
	}
	return textResult(map[string]interface{}{
		"run_id": runID,
		"status": tasks.StatusPending,
	}), nil
}

// Helper functions

func clusterJSON(c *storage.Cluster) map[string]interface{} {
	return map[string]interface{}{
		"id":            c.ID,
		"project_id":    c.ProjectID,
		"name":          c.Name,
		"summary":       c.Summary,
		"size":          c.Size,
		"provider_used": c.ProviderUsed,
	}
}

func complaintJSON(c *storage.Complaint) map[string]interface{} {
	return map[string]interface{}{
		"id":    c.ID,
		"name":  c.Name,
		"email": c.Email,
		"text":  c.Text,
		"x":     c.X,
		"y":     c.Y,
	}
}

func arguments(request mcp.CallToolRequest) (map[string]interface{}, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	return args, nil
}

// textResult formats data as indented JSON text
func textResult(data interface{}) *mcp.CallToolResult {
	return mcp.NewToolResultText(formatJSON(data))
}

// formatJSON formats a value as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// requireID extracts a positive integer id
func requireID(args map[string]interface{}, key string) (int64, error) {
	if _, ok := args[key]; !ok {
		return 0, missingParam(key)
	}
	id := int64(getIntDefault(args, key, 0))
	if id <= 0 {
		return 0, newMCPError(ErrorCodeInvalidParams, key+" must be a positive integer", map[string]interface{}{
			"param": key,
			"value": args[key],
		})
	}
	return id, nil
}

// getIDList extracts a non-empty array of positive integer ids
func getIDList(args map[string]interface{}, key string) ([]int64, error) {
	raw, ok := args[key].([]interface{})
	if !ok || len(raw) == 0 {
		return nil, missingParam(key)
	}
	ids := make([]int64, 0, len(raw))
	for _, v := range raw {
		f, ok := v.(float64)
		if !ok || f <= 0 || f != float64(int64(f)) {
			return nil, newMCPError(ErrorCodeInvalidParams, key+" must contain positive integers", map[string]interface{}{
				"param": key,
				"value": v,
			})
		}
		ids = append(ids, int64(f))
	}
	return ids, nil
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getFloatDefault extracts a number parameter with a default value
func getFloatDefault(args map[string]interface{}, key string, defaultValue float64) float64 {
	switch val := args[key].(type) {
	case float64:
		return val
	case int:
		return float64(val)
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
