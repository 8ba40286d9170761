package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
	}
}

// retrieveContextTool returns the tool definition for retrieve_context
func retrieveContextTool() mcp.Tool {
	return mcp.Tool{
		Name:        "retrieve_context",
		Description: "Answer a question from the tenant's documents, public records, conversation history and optionally the web",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"tenant_id":  stringProp("Tenant (organisation) the request runs in"),
				"user_id":    stringProp("User asking the question; consent is checked for this user"),
				"session_id": stringProp("Conversation session; enables conversation memory"),
				"query":      stringProp("Natural-language question"),
				"persona":    stringProp("Force a configured expertise persona (e.g. legal, archivist) instead of classifying the query"),
				"use_semantic": map[string]interface{}{
					"type":        "boolean",
					"description": "Rank by embedding similarity before falling back to keyword search",
					"default":     true,
				},
				"use_web_search": map[string]interface{}{
					"type":        "boolean",
					"description": "Also search the web; the query is redacted before it leaves the service",
					"default":     false,
				},
				"token_budget": map[string]interface{}{
					"type":        "integer",
					"description": "Lower the context token budget for this call (0 uses the configured budget)",
					"minimum":     0,
				},
			},
			Required: []string{"tenant_id", "user_id", "query"},
		},
	}
}

// ingestDocumentTool returns the tool definition for ingest_document
func ingestDocumentTool() mcp.Tool {
	return mcp.Tool{
		Name:        "ingest_document",
		Description: "Chunk, embed and store a text document for a tenant",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"tenant_id":  stringProp("Tenant that owns the document"),
				"owner_id":   stringProp("Restrict the document to one user; empty shares it with the tenant"),
				"title":      stringProp("Document title"),
				"source_uri": stringProp("Stable identifier of the document; re-ingesting replaces it"),
				"content":    stringProp("Plain-text content"),
			},
			Required: []string{"tenant_id", "source_uri", "content"},
		},
	}
}

// ingestRecordTool returns the tool definition for ingest_record
func ingestRecordTool() mcp.Tool {
	return mcp.Tool{
		Name:        "ingest_record",
		Description: "Store a public-record register entry for a tenant",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"tenant_id":       stringProp("Tenant that owns the record"),
				"owner_id":        stringProp("Restrict the record to one user; empty shares it with the tenant"),
				"protocol_number": stringProp("Protocol number such as 12/2024; an existing record with the same number is replaced"),
				"record_type":     stringProp("Record kind (delibera, determina, ...)"),
				"title":           stringProp("Record title"),
				"body":            stringProp("Optional record text"),
				"year": map[string]interface{}{
					"type":        "integer",
					"description": "Registration year",
				},
				"certified": map[string]interface{}{
					"type":        "boolean",
					"description": "Record carries a certification",
					"default":     false,
				},
				"anchored": map[string]interface{}{
					"type":        "boolean",
					"description": "Record is anchored to an external ledger",
					"default":     false,
				},
			},
			Required: []string{"tenant_id", "title"},
		},
	}
}

// grantConsentTool returns the tool definition for grant_consent
func grantConsentTool() mcp.Tool {
	return mcp.Tool{
		Name:        "grant_consent",
		Description: "Grant or revoke a user's consent to retrieval processing",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"tenant_id": stringProp("Tenant of the user"),
				"user_id":   stringProp("User giving or withdrawing consent"),
				"revoke": map[string]interface{}{
					"type":        "boolean",
					"description": "Withdraw consent instead of granting it",
					"default":     false,
				},
			},
			Required: []string{"tenant_id", "user_id"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report stored content and store health for a tenant",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"tenant_id": stringProp("Tenant to report on"),
			},
			Required: []string{"tenant_id"},
		},
	}
}
