package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/fusionrag/internal/config"
	"github.com/dshills/fusionrag/internal/delivery"
	"github.com/dshills/fusionrag/internal/embedder"
	"github.com/dshills/fusionrag/internal/fusion"
	"github.com/dshills/fusionrag/internal/indexer"
	"github.com/dshills/fusionrag/internal/keyword"
	"github.com/dshills/fusionrag/internal/llm"
	"github.com/dshills/fusionrag/internal/persona"
	"github.com/dshills/fusionrag/internal/retrieval"
	"github.com/dshills/fusionrag/internal/sanitize"
	"github.com/dshills/fusionrag/internal/storage"
	"github.com/dshills/fusionrag/pkg/types"
)

// newTestServer wires a server over an in-memory store. complete answers
// every LLM call.
func newTestServer(t *testing.T, complete llm.ProviderFunc) *Server {
	t.Helper()
	cfg := config.Default()

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	emb, err := embedder.NewLocalProvider(nil)
	require.NoError(t, err)

	gate, err := sanitize.NewGate(cfg.Sanitize.Allow, cfg.Sanitize.Deny, nil, nil)
	require.NoError(t, err)
	personas, err := persona.NewSelector(cfg.Personas, persona.DefaultOptions())
	require.NoError(t, err)
	scheduler, err := delivery.NewScheduler(complete, delivery.PolicyFromConfig(cfg.Delivery), nil,
		delivery.WithSleep(func(context.Context, time.Duration) error { return nil }))
	require.NoError(t, err)

	svc, err := retrieval.New(retrieval.Dependencies{
		Store:     store,
		Embedder:  emb,
		Keyword:   keyword.New(store, nil),
		Personas:  personas,
		Fusion:    fusion.NewEngine(personas, nil),
		Gate:      gate,
		Scheduler: scheduler,
	}, retrieval.SettingsFromConfig(cfg))
	require.NoError(t, err)

	s, err := NewServer(store, indexer.New(store, emb, nil, nil), svc, nil)
	require.NoError(t, err)
	return s
}

func answer(text string) llm.ProviderFunc {
	return func(context.Context, string, string) (llm.Completion, error) {
		return llm.Completion{Text: text}, nil
	}
}

func call(name string, args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultJSON(t *testing.T, res *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func requireMCPError(t *testing.T, err error, code int) *MCPError {
	t.Helper()
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, code, mcpErr.Code)
	return mcpErr
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(nil, nil, nil, nil)
	assert.Error(t, err)

	s := newTestServer(t, answer("ok"))
	assert.NotNil(t, s.mcp, "MCP server should be initialized")
	assert.NotNil(t, s.storage, "Storage should be initialized")
	assert.NotNil(t, s.indexer, "Indexer should be initialized")
	assert.NotNil(t, s.retrieval, "Retrieval should be initialized")
}

func TestToolSchemas(t *testing.T) {
	tools := []mcp.Tool{
		retrieveContextTool(),
		ingestDocumentTool(),
		ingestRecordTool(),
		grantConsentTool(),
		getStatusTool(),
	}
	names := make(map[string]bool)
	for _, tool := range tools {
		t.Run(tool.Name, func(t *testing.T) {
			assert.False(t, names[tool.Name], "duplicate tool name")
			names[tool.Name] = true
			assert.NotEmpty(t, tool.Description)
			assert.Equal(t, "object", tool.InputSchema.Type)
			for _, req := range tool.InputSchema.Required {
				assert.Contains(t, tool.InputSchema.Properties, req)
			}
		})
	}
}

func TestRetrieveContext_EndToEnd(t *testing.T) {
	s := newTestServer(t, answer("La delibera 12/2024 approva il bilancio [1]."))
	ctx := context.Background()

	res, err := s.handleIngestRecord(ctx, call("ingest_record", map[string]interface{}{
		"tenant_id":       "comune-a",
		"protocol_number": "12/2024",
		"record_type":     "delibera",
		"title":           "Approvazione bilancio di previsione",
		"year":            float64(2024),
		"certified":       true,
	}))
	require.NoError(t, err)
	assert.Equal(t, true, resultJSON(t, res)["indexed"])

	retrieve := call("retrieve_context", map[string]interface{}{
		"tenant_id":  "comune-a",
		"user_id":    "u-1",
		"session_id": "s-1",
		"query":      "protocollo 12/2024",
	})

	// No consent yet
	_, err = s.handleRetrieveContext(ctx, retrieve)
	mcpErr := requireMCPError(t, err, ErrorCodeConsentRequired)
	assert.Equal(t, types.MsgConsentRequired, mcpErr.Message)

	res, err = s.handleGrantConsent(ctx, call("grant_consent", map[string]interface{}{
		"tenant_id": "comune-a",
		"user_id":   "u-1",
	}))
	require.NoError(t, err)
	assert.Equal(t, true, resultJSON(t, res)["consent"])

	res, err = s.handleRetrieveContext(ctx, retrieve)
	require.NoError(t, err)
	out := resultJSON(t, res)
	assert.Equal(t, "La delibera 12/2024 approva il bilancio [1].", out["text"])
	assert.Equal(t, false, out["degraded"])
	sources, ok := out["sources"].([]interface{})
	require.True(t, ok)
	require.Len(t, sources, 1)
	assert.Equal(t, "record", sources[0].(map[string]interface{})["source_type"])

	status, err := s.handleGetStatus(ctx, call("get_status", map[string]interface{}{"tenant_id": "comune-a"}))
	require.NoError(t, err)
	stats := resultJSON(t, status)["statistics"].(map[string]interface{})
	assert.Equal(t, float64(1), stats["records"])
	assert.Equal(t, float64(2), stats["chat_turns"])
	assert.Equal(t, float64(1), stats["consented_users"])

	// Revoking blocks the next request
	_, err = s.handleGrantConsent(ctx, call("grant_consent", map[string]interface{}{
		"tenant_id": "comune-a",
		"user_id":   "u-1",
		"revoke":    true,
	}))
	require.NoError(t, err)
	_, err = s.handleRetrieveContext(ctx, retrieve)
	requireMCPError(t, err, ErrorCodeConsentRequired)
}

func TestRetrieveContext_InvalidParams(t *testing.T) {
	s := newTestServer(t, answer("ok"))
	ctx := context.Background()

	tests := []struct {
		name string
		args interface{}
		code int
	}{
		{"arguments not an object", "nope", ErrorCodeInvalidParams},
		{"missing tenant", map[string]interface{}{"user_id": "u", "query": "q"}, ErrorCodeInvalidParams},
		{"missing user", map[string]interface{}{"tenant_id": "t", "query": "q"}, ErrorCodeInvalidParams},
		{"blank query", map[string]interface{}{"tenant_id": "t", "user_id": "u", "query": "   "}, ErrorCodeEmptyQuery},
		{"negative budget", map[string]interface{}{"tenant_id": "t", "user_id": "u", "query": "q", "token_budget": float64(-1)}, ErrorCodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := mcp.CallToolRequest{}
			req.Params.Arguments = tt.args
			_, err := s.handleRetrieveContext(ctx, req)
			requireMCPError(t, err, tt.code)
		})
	}
}

func TestRetrieveContext_ErrorMapping(t *testing.T) {
	privacy := &types.PrivacyViolationError{Fields: []string{"email"}, CitationID: "record:1"}
	tests := []struct {
		name string
		err  error
		code int
		msg  string
	}{
		{"consent", types.ErrConsentRequired, ErrorCodeConsentRequired, types.MsgConsentRequired},
		{"privacy", privacy, ErrorCodePrivacyViolation, types.MsgPrivacy},
		{"invalid query", types.ErrInvalidQuery, ErrorCodeInvalidParams, types.MsgInvalidQuery},
		{"fatal provider", llm.NewFatalError("insufficient_quota", errors.New("402")), ErrorCodeProviderUnavailable, types.MsgMisconfigured},
		{"cancelled", context.Canceled, ErrorCodeCancelled, types.MsgCancelled},
		{"unexpected", errors.New("disk full"), ErrorCodeInternalError, types.MsgGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mcpErr := requireMCPError(t, retrievalError(tt.err), tt.code)
			assert.Equal(t, tt.msg, mcpErr.Message)
		})
	}

	data := requireMCPError(t, retrievalError(privacy), ErrorCodePrivacyViolation).Data.(map[string]interface{})
	assert.Equal(t, []string{"email"}, data["denied_fields"])
}

func TestRetrieveContext_FatalProvider(t *testing.T) {
	s := newTestServer(t, func(context.Context, string, string) (llm.Completion, error) {
		return llm.Completion{}, llm.NewFatalError("invalid_api_key", errors.New("401"))
	})
	ctx := context.Background()
	require.NoError(t, s.storage.GrantConsent(ctx, types.Scope{TenantID: "t", UserID: "u"}))

	_, err := s.handleRetrieveContext(ctx, call("retrieve_context", map[string]interface{}{
		"tenant_id": "t",
		"user_id":   "u",
		"query":     "regolamento",
	}))
	requireMCPError(t, err, ErrorCodeProviderUnavailable)
}

func TestIngestDocument(t *testing.T) {
	s := newTestServer(t, answer("ok"))
	ctx := context.Background()
	args := map[string]interface{}{
		"tenant_id":  "comune-a",
		"title":      "Regolamento edilizio",
		"source_uri": "file:///atti/regolamento.txt",
		"content":    "Art. 1 Oggetto.\n\nArt. 2 Altezze degli edifici.",
	}

	res, err := s.handleIngestDocument(ctx, call("ingest_document", args))
	require.NoError(t, err)
	out := resultJSON(t, res)
	assert.Equal(t, true, out["indexed"])
	assert.Greater(t, out["chunks_created"], float64(0))

	res, err = s.handleIngestDocument(ctx, call("ingest_document", args))
	require.NoError(t, err)
	out = resultJSON(t, res)
	assert.Equal(t, false, out["indexed"])
	assert.Equal(t, true, out["skipped"], "unchanged documents are skipped")

	_, err = s.handleIngestDocument(ctx, call("ingest_document", map[string]interface{}{
		"tenant_id": "comune-a",
		"content":   "x",
	}))
	requireMCPError(t, err, ErrorCodeInvalidParams)
}

func TestIngestRecord_Invalid(t *testing.T) {
	s := newTestServer(t, answer("ok"))

	_, err := s.handleIngestRecord(context.Background(), call("ingest_record", map[string]interface{}{
		"tenant_id": "comune-a",
		"title":     "",
	}))
	requireMCPError(t, err, ErrorCodeInvalidParams)
}

func TestIngestError(t *testing.T) {
	requireMCPError(t, ingestError(indexer.ErrIngestInProgress), ErrorCodeIngestInProgress)
	requireMCPError(t, ingestError(types.ErrScopeRequired), ErrorCodeInvalidParams)
	requireMCPError(t, ingestError(errors.New("boom")), ErrorCodeInternalError)
}

func TestAddErrors(t *testing.T) {
	resp := map[string]interface{}{}
	addErrors(resp, nil)
	assert.NotContains(t, resp, "errors")

	msgs := []string{"a", "b", "c", "d", "e", "f", "g"}
	addErrors(resp, msgs)
	assert.Len(t, resp["errors"], maxReportedErrors)
	assert.Equal(t, 7, resp["error_count"])
}
