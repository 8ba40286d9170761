package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/fusionrag/internal/indexer"
	"github.com/dshills/fusionrag/internal/retrieval"
	"github.com/dshills/fusionrag/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams       = -32602 // Invalid method parameters
	ErrorCodeInternalError       = -32603 // Internal JSON-RPC error
	ErrorCodeConsentRequired     = -32001 // User has not consented to processing
	ErrorCodeIngestInProgress    = -32002 // Another ingest is already running for the tenant
	ErrorCodePrivacyViolation    = -32003 // Retrieved context contained denied fields
	ErrorCodeEmptyQuery          = -32004 // Query parameter is empty
	ErrorCodeProviderUnavailable = -32005 // LLM provider rejected the request permanently
	ErrorCodeCancelled           = -32006 // Request was cancelled
)

// maxReportedErrors caps the per-item errors included in ingest responses
const maxReportedErrors = 5

// handleRetrieveContext handles the retrieve_context tool invocation
func (s *Server) handleRetrieveContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	tenantID, userID, err := requireScope(args)
	if err != nil {
		return nil, err
	}
	query := strings.TrimSpace(getStringDefault(args, "query", ""))
	if query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	budget := getIntDefault(args, "token_budget", 0)
	if budget < 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "token_budget must not be negative", map[string]interface{}{
			"param": "token_budget",
			"value": budget,
		})
	}

	defaults := s.retrieval.DefaultOptions()
	opts := retrieval.Options{
		UseSemantic:     getBoolDefault(args, "use_semantic", defaults.UseSemantic),
		UseWebSearch:    getBoolDefault(args, "use_web_search", false),
		PersonaOverride: getStringDefault(args, "persona", ""),
		TokenBudget:     budget,
	}
	q := types.Query{
		Text:      query,
		TenantID:  tenantID,
		UserID:    userID,
		SessionID: getStringDefault(args, "session_id", ""),
	}

	resp, err := s.retrieval.Retrieve(ctx, q, opts)
	if err != nil {
		return nil, retrievalError(err)
	}
	return mcp.NewToolResultText(formatJSON(resp)), nil
}

// handleIngestDocument handles the ingest_document tool invocation
func (s *Server) handleIngestDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	tenantID, err := requireString(args, "tenant_id")
	if err != nil {
		return nil, err
	}
	uri, err := requireString(args, "source_uri")
	if err != nil {
		return nil, err
	}
	content, err := requireString(args, "content")
	if err != nil {
		return nil, err
	}

	doc := indexer.DocumentInput{
		OwnerID:   getStringDefault(args, "owner_id", ""),
		Title:     getStringDefault(args, "title", ""),
		SourceURI: uri,
		Content:   content,
	}
	stats, err := s.indexer.IndexDocuments(ctx, tenantID, []indexer.DocumentInput{doc}, nil)
	if err != nil {
		return nil, ingestError(err)
	}

	response := map[string]interface{}{
		"indexed":        stats.DocumentsIndexed > 0,
		"skipped":        stats.DocumentsSkipped > 0,
		"chunks_created": stats.ChunksCreated,
		"embeddings":     stats.EmbeddingsCreated,
		"duration_ms":    stats.Duration.Milliseconds(),
	}
	addErrors(response, stats.ErrorMessages)
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleIngestRecord handles the ingest_record tool invocation
func (s *Server) handleIngestRecord(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	tenantID, err := requireString(args, "tenant_id")
	if err != nil {
		return nil, err
	}
	title, err := requireString(args, "title")
	if err != nil {
		return nil, err
	}

	rec := types.Record{
		OwnerID:        getStringDefault(args, "owner_id", ""),
		ProtocolNumber: getStringDefault(args, "protocol_number", ""),
		RecordType:     getStringDefault(args, "record_type", ""),
		Title:          title,
		Body:           getStringDefault(args, "body", ""),
		Year:           getIntDefault(args, "year", 0),
		Certified:      getBoolDefault(args, "certified", false),
		Anchored:       getBoolDefault(args, "anchored", false),
	}
	stats, err := s.indexer.IndexRecords(ctx, tenantID, []types.Record{rec}, nil)
	if err != nil {
		return nil, ingestError(err)
	}

	response := map[string]interface{}{
		"indexed":     stats.RecordsIndexed > 0,
		"embeddings":  stats.EmbeddingsCreated,
		"duration_ms": stats.Duration.Milliseconds(),
	}
	addErrors(response, stats.ErrorMessages)
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGrantConsent handles the grant_consent tool invocation
func (s *Server) handleGrantConsent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	tenantID, userID, err := requireScope(args)
	if err != nil {
		return nil, err
	}
	scope := types.Scope{TenantID: tenantID, UserID: userID}

	revoke := getBoolDefault(args, "revoke", false)
	if revoke {
		err = s.storage.RevokeConsent(ctx, scope)
	} else {
		err = s.storage.GrantConsent(ctx, scope)
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to update consent", map[string]interface{}{
			"error": err.Error(),
		})
	}

	has, err := s.storage.HasConsent(ctx, scope)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to read consent", map[string]interface{}{
			"error": err.Error(),
		})
	}
	s.log.Info("consent updated", "tenant_id", tenantID, "user_id", userID, "consent", has)

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"tenant_id": tenantID,
		"consent":   has,
	})), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	tenantID, err := requireString(args, "tenant_id")
	if err != nil {
		return nil, err
	}

	status, err := s.storage.GetStatus(ctx, tenantID)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"tenant_id": status.TenantID,
		"statistics": map[string]interface{}{
			"records":         status.Records,
			"documents":       status.Documents,
			"chunks":          status.Chunks,
			"embeddings":      status.Embeddings,
			"chat_turns":      status.ChatTurns,
			"consented_users": status.ConsentedUsers,
			"size_mb":         fmt.Sprintf("%.2f", status.SizeMB),
		},
		"health": map[string]interface{}{
			"database_accessible":  status.Health.DatabaseAccessible,
			"embeddings_available": status.Health.EmbeddingsAvailable,
			"fts_indexes_built":    status.Health.FTSIndexesBuilt,
			"build_mode":           status.BuildMode,
		},
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// retrievalError maps a Retrieve failure to a stable code. The message is the
// end-user text; details never include retrieved content.
func retrievalError(err error) error {
	msg := types.UserMessage(err)
	var pv *types.PrivacyViolationError
	switch {
	case errors.Is(err, types.ErrConsentRequired):
		return newMCPError(ErrorCodeConsentRequired, msg, nil)
	case errors.As(err, &pv):
		return newMCPError(ErrorCodePrivacyViolation, msg, map[string]interface{}{
			"denied_fields": pv.Fields,
		})
	case errors.Is(err, types.ErrInvalidQuery), errors.Is(err, types.ErrScopeRequired):
		return newMCPError(ErrorCodeInvalidParams, msg, map[string]interface{}{
			"reason": err.Error(),
		})
	case errors.Is(err, types.ErrFatalProvider):
		return newMCPError(ErrorCodeProviderUnavailable, msg, nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newMCPError(ErrorCodeCancelled, msg, nil)
	default:
		return newMCPError(ErrorCodeInternalError, msg, map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func ingestError(err error) error {
	switch {
	case errors.Is(err, indexer.ErrIngestInProgress):
		return newMCPError(ErrorCodeIngestInProgress, "an ingest is already running for this tenant", nil)
	case errors.Is(err, types.ErrScopeRequired):
		return newMCPError(ErrorCodeInvalidParams, "tenant_id parameter is required", map[string]interface{}{
			"param": "tenant_id",
		})
	default:
		return newMCPError(ErrorCodeInternalError, "ingest failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func addErrors(response map[string]interface{}, msgs []string) {
	if len(msgs) == 0 {
		return
	}
	if len(msgs) > maxReportedErrors {
		response["errors"] = msgs[:maxReportedErrors]
		response["error_count"] = len(msgs)
		return
	}
	response["errors"] = msgs
}

// requireString extracts a mandatory non-blank string parameter
func requireString(args map[string]interface{}, key string) (string, error) {
	val, ok := args[key].(string)
	if !ok || strings.TrimSpace(val) == "" {
		return "", newMCPError(ErrorCodeInvalidParams, key+" parameter is required", map[string]interface{}{
			"param":  key,
			"reason": "missing or empty",
		})
	}
	return val, nil
}

func requireScope(args map[string]interface{}) (tenantID, userID string, err error) {
	if tenantID, err = requireString(args, "tenant_id"); err != nil {
		return "", "", err
	}
	if userID, err = requireString(args, "user_id"); err != nil {
		return "", "", err
	}
	return tenantID, userID, nil
}

// formatJSON formats a value as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
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

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
