package mcp

import (
	"context"
	"errors"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/fusionrag/internal/indexer"
	"github.com/dshills/fusionrag/internal/logging"
	"github.com/dshills/fusionrag/internal/retrieval"
	"github.com/dshills/fusionrag/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "fusionrag"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp       *server.MCPServer
	storage   storage.Storage
	indexer   *indexer.Indexer
	retrieval *retrieval.Service
	log       *logging.Logger
}

// NewServer creates a new MCP server instance. The caller owns store and
// closes it after Serve returns.
func NewServer(store storage.Storage, idx *indexer.Indexer, svc *retrieval.Service, log *logging.Logger) (*Server, error) {
	switch {
	case store == nil:
		return nil, errors.New("mcp: storage is required")
	case idx == nil:
		return nil, errors.New("mcp: indexer is required")
	case svc == nil:
		return nil, errors.New("mcp: retrieval service is required")
	}
	if log == nil {
		log = logging.NewNop()
	}

	s := &Server{
		mcp:       server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false)),
		storage:   store,
		indexer:   idx,
		retrieval: svc,
		log:       log.With("component", "mcp"),
	}
	s.registerTools()
	return s, nil
}

// Serve runs the MCP protocol on stdio until ctx is cancelled or stdin closes
func (s *Server) Serve(ctx context.Context) error {
	s.log.Info("mcp server listening on stdio", "name", ServerName, "version", ServerVersion)
	return server.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(retrieveContextTool(), s.handleRetrieveContext)
	s.mcp.AddTool(ingestDocumentTool(), s.handleIngestDocument)
	s.mcp.AddTool(ingestRecordTool(), s.handleIngestRecord)
	s.mcp.AddTool(grantConsentTool(), s.handleGrantConsent)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
