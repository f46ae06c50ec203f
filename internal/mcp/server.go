package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dshills/complaintlens/internal/cluster"
	"github.com/dshills/complaintlens/internal/ingest"
	"github.com/dshills/complaintlens/internal/pipeline"
	"github.com/dshills/complaintlens/internal/storage"
	"github.com/dshills/complaintlens/internal/tasks"
)

const (
	// ServerName is the MCP server name
	ServerName = "complaintlens"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Deps are the application components the tools call into
type Deps struct {
	Storage      storage.Storage
	Ingest       *ingest.Service
	Pipeline     *pipeline.Pipeline
	Orchestrator *cluster.Orchestrator
	Projector    *cluster.Projector
	Tasks        *tasks.Runner
	// Defaults for cluster_project and project_coordinates arguments
	ClusterDefaults   cluster.Params
	DefaultPerplexity float64
	Logger            *zap.Logger
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp  *server.MCPServer
	deps Deps
}

// NewServer creates a new MCP server instance
func NewServer(deps Deps) (*Server, error) {
	if deps.Storage == nil || deps.Tasks == nil || deps.Ingest == nil ||
		deps.Pipeline == nil || deps.Orchestrator == nil || deps.Projector == nil {
		return nil, errors.New("mcp server needs storage, task runner, ingest, pipeline, orchestrator and projector")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.DefaultPerplexity <= 0 {
		deps.DefaultPerplexity = cluster.DefaultPerplexity
	}

	s := &Server{
		mcp:  server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false)),
		deps: deps,
	}
	s.registerTools()
	return s, nil
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	s.deps.Logger.Info("serving MCP on stdio", zap.String("version", ServerVersion))
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	// Projects and complaints
	s.mcp.AddTool(createProjectTool(), s.handleCreateProject)
	s.mcp.AddTool(listProjectsTool(), s.handleListProjects)
	s.mcp.AddTool(listComplaintsTool(), s.handleListComplaints)
	s.mcp.AddTool(submitComplaintTool(), s.handleSubmitComplaint)
	s.mcp.AddTool(importCSVTool(), s.handleImportCSV)
	s.mcp.AddTool(importCommentsTool(), s.handleImportComments)
	s.mcp.AddTool(embedPendingTool(), s.handleEmbedPending)

	// Runs
	s.mcp.AddTool(clusterProjectTool(), s.handleClusterProject)
	s.mcp.AddTool(projectCoordinatesTool(), s.handleProjectCoordinates)
	s.mcp.AddTool(getTaskStatusTool(), s.handleGetTaskStatus)

	// Clusters
	s.mcp.AddTool(listClustersTool(), s.handleListClusters)
	s.mcp.AddTool(getClusterTool(), s.handleGetCluster)
	s.mcp.AddTool(regenerateSummaryTool(), s.handleRegenerateSummary)
	s.mcp.AddTool(groupComplaintsTool(), s.handleGroupComplaints)
	s.mcp.AddTool(deleteClusterTool(), s.handleDeleteCluster)
}
