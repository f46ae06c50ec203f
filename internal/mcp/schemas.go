package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func integerProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "integer", "description": description}
}

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

func asyncProp(def bool) map[string]interface{} {
	return map[string]interface{}{
		"type":        "boolean",
		"description": "If true, run in the background and return a run_id for get_task_status",
		"default":     def,
	}
}

// createProjectTool returns the tool definition for create_project
func createProjectTool() mcp.Tool {
	return mcp.Tool{
		Name:        "create_project",
		Description: "Create a project that complaints and clusters belong to",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"name": stringProp("Project name"),
			},
			Required: []string{"name"},
		},
	}
}

// listProjectsTool returns the tool definition for list_projects
func listProjectsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_projects",
		Description: "List all projects",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// listComplaintsTool returns the tool definition for list_complaints
func listComplaintsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_complaints",
		Description: "List the complaints of a project with their 2-D coordinates and cluster, including noise and unclustered complaints",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project_id": integerProp("Project id"),
			},
			Required: []string{"project_id"},
		},
	}
}

// submitComplaintTool returns the tool definition for submit_complaint
func submitComplaintTool() mcp.Tool {
	return mcp.Tool{
		Name:        "submit_complaint",
		Description: "Store a single complaint and embed it immediately",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project_id": integerProp("Project the complaint belongs to"),
				"text":       stringProp("Complaint text (must not be empty)"),
				"name":       stringProp("Author name (default: Unnamed Complaint)"),
				"email":      stringProp("Author email (default: No Email)"),
			},
			Required: []string{"project_id", "text"},
		},
	}
}

// importCSVTool returns the tool definition for import_csv
func importCSVTool() mcp.Tool {
	return mcp.Tool{
		Name:        "import_csv",
		Description: "Import complaints from a CSV file with email, Id and Text columns",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project_id": integerProp("Target project"),
				"path":       stringProp("Absolute path to the CSV file"),
				"async":      asyncProp(true),
			},
			Required: []string{"project_id", "path"},
		},
	}
}

// importCommentsTool returns the tool definition for import_comments
func importCommentsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "import_comments",
		Description: "Import the comments and replies of a YouTube video as complaints",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project_id": integerProp("Target project"),
				"video_url":  stringProp("Video URL (watch, shorts, embed, /v/ or youtu.be)"),
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of comments to import (0 = all)",
					"default":     0,
					"minimum":     0,
				},
				"async": asyncProp(true),
			},
			Required: []string{"project_id", "video_url"},
		},
	}
}

// embedPendingTool returns the tool definition for embed_pending
func embedPendingTool() mcp.Tool {
	return mcp.Tool{
		Name:        "embed_pending",
		Description: "Embed every complaint of a project that has no embedding yet",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project_id": integerProp("Project to embed"),
				"async":      asyncProp(false),
			},
			Required: []string{"project_id"},
		},
	}
}

// clusterProjectTool returns the tool definition for cluster_project
func clusterProjectTool() mcp.Tool {
	return mcp.Tool{
		Name:        "cluster_project",
		Description: "Cluster the embedded complaints of a project and name each cluster",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project_id": integerProp("Project to cluster"),
				"algorithm": map[string]interface{}{
					"type":        "string",
					"description": "Clustering algorithm",
					"enum":        []string{"dbscan", "kmeans"},
					"default":     "dbscan",
				},
				"n_clusters": integerProp("Number of clusters for kmeans"),
				"auto_clusters": map[string]interface{}{
					"type":        "boolean",
					"description": "Let kmeans choose the number of clusters",
					"default":     false,
				},
				"eps": map[string]interface{}{
					"type":        "number",
					"description": "DBSCAN neighbourhood radius",
					"default":     0.5,
				},
				"min_samples": map[string]interface{}{
					"type":        "integer",
					"description": "DBSCAN minimum neighbourhood size",
					"default":     5,
				},
				"metric": map[string]interface{}{
					"type":        "string",
					"description": "Distance metric",
					"enum":        []string{"cosine", "euclidean"},
					"default":     "cosine",
				},
				"async": asyncProp(true),
			},
			Required: []string{"project_id"},
		},
	}
}

// projectCoordinatesTool returns the tool definition for project_coordinates
func projectCoordinatesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "project_coordinates",
		Description: "Compute 2-D t-SNE coordinates for the embedded complaints of a project",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project_id": integerProp("Project to project"),
				"perplexity": map[string]interface{}{
					"type":        "number",
					"description": "t-SNE perplexity, clamped below the number of complaints",
					"default":     10,
				},
				"async": asyncProp(true),
			},
			Required: []string{"project_id"},
		},
	}
}

// getTaskStatusTool returns the tool definition for get_task_status
func getTaskStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_task_status",
		Description: "Query the status of a background run",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"run_id": stringProp("Run id returned by an async tool"),
			},
			Required: []string{"run_id"},
		},
	}
}

// listClustersTool returns the tool definition for list_clusters
func listClustersTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_clusters",
		Description: "List the clusters of a project",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project_id": integerProp("Project id"),
			},
			Required: []string{"project_id"},
		},
	}
}

// getClusterTool returns the tool definition for get_cluster
func getClusterTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_cluster",
		Description: "Show a cluster with its member complaints",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"cluster_id": integerProp("Cluster id"),
				"include_members": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, include member complaints",
					"default":     true,
				},
			},
			Required: []string{"cluster_id"},
		},
	}
}

// regenerateSummaryTool returns the tool definition for regenerate_summary
func regenerateSummaryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "regenerate_summary",
		Description: "Generate a new name and summary for a cluster",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"cluster_id": integerProp("Cluster id"),
			},
			Required: []string{"cluster_id"},
		},
	}
}

// groupComplaintsTool returns the tool definition for group_complaints
func groupComplaintsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "group_complaints",
		Description: "Create a cluster from selected complaints of one project",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project_id": integerProp("Project id"),
				"complaint_ids": map[string]interface{}{
					"type":        "array",
					"description": "Complaints to move into the new cluster",
					"items":       map[string]interface{}{"type": "integer"},
					"minItems":    1,
				},
				"name": stringProp("Cluster name (generated when omitted)"),
			},
			Required: []string{"project_id", "complaint_ids"},
		},
	}
}

// deleteClusterTool returns the tool definition for delete_cluster
func deleteClusterTool() mcp.Tool {
	return mcp.Tool{
		Name:        "delete_cluster",
		Description: "Delete a cluster; its complaints are kept and detached",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"cluster_id": integerProp("Cluster id"),
			},
			Required: []string{"cluster_id"},
		},
	}
}
