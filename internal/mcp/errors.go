package mcp

import (
	"errors"
	"fmt"

	"github.com/dshills/complaintlens/internal/cluster"
	"github.com/dshills/complaintlens/internal/config"
	"github.com/dshills/complaintlens/internal/embedder"
	"github.com/dshills/complaintlens/internal/ingest"
	"github.com/dshills/complaintlens/internal/storage"
	"github.com/dshills/complaintlens/internal/youtube"
)

// MCP error codes
const (
	ErrorCodeInvalidParams = -32602 // Invalid method parameters
	ErrorCodeInternalError = -32603 // Internal JSON-RPC error
	ErrorCodeNotFound      = -32001 // Project, cluster, complaint or run does not exist
	ErrorCodeRunInProgress = -32002 // Another run is active for the project
	ErrorCodeEmptyText     = -32004 // Complaint text is empty
)

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// toMCPError maps a domain error onto a protocol error code
func toMCPError(message string, err error) error {
	data := map[string]interface{}{"error": err.Error()}
	switch {
	case errors.Is(err, embedder.ErrEmptyText):
		return newMCPError(ErrorCodeEmptyText, "complaint text cannot be empty", data)
	case errors.Is(err, storage.ErrNotFound):
		return newMCPError(ErrorCodeNotFound, message, data)
	case errors.Is(err, cluster.ErrRunInProgress):
		return newMCPError(ErrorCodeRunInProgress, message, data)
	case errors.Is(err, embedder.ErrInvalidInput),
		errors.Is(err, storage.ErrCrossProject),
		errors.Is(err, cluster.ErrInvalidInput),
		errors.Is(err, ingest.ErrInvalidCSV),
		errors.Is(err, youtube.ErrInvalidURL):
		return newMCPError(ErrorCodeInvalidParams, message, data)
	case errors.Is(err, config.ErrNotConfigured), errors.Is(err, ingest.ErrNoCommentSource):
		return newMCPError(ErrorCodeInternalError, message+": not configured", data)
	default:
		return newMCPError(ErrorCodeInternalError, message, data)
	}
}

func missingParam(name string) error {
	return newMCPError(ErrorCodeInvalidParams, name+" parameter is required", map[string]interface{}{
		"param":  name,
		"reason": "missing or empty",
	})
}
