// Package mcp implements the Model Context Protocol (MCP) server for fusionrag.
//
// The server exposes five tools to MCP clients:
//   - retrieve_context: answer a question from every configured source
//   - ingest_document: chunk, embed and store a text document
//   - ingest_record: store a public-record register entry
//   - grant_consent: grant or revoke a user's consent to processing
//   - get_status: report stored content and store health for a tenant
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// # Basic Usage
//
// The MCP server is started by the serve command:
//
//	fusionrag serve --config fusionrag.yaml
//
// It listens on stdin and writes responses to stdout. Logs go to stderr.
//
// # Tool: retrieve_context
//
//	Request:
//	{
//	  "name": "retrieve_context",
//	  "arguments": {
//	    "tenant_id": "comune-a",
//	    "user_id": "u-42",
//	    "session_id": "s-1",
//	    "query": "quali delibere sul bilancio 2024?",
//	    "use_web_search": false
//	  }
//	}
//
//	Response:
//	{
//	  "request_id": "6f1c...",
//	  "text": "La delibera 12/2024 approva il bilancio di previsione [1].",
//	  "sources": [
//	    {"id": "record:7", "marker": 1, "source_type": "record", "title": "Approvazione bilancio", "score": 0.9}
//	  ],
//	  "persona": {"persona_id": "archivist", "confidence": 0.82, "method": "auto"},
//	  "degraded": false,
//	  "attempts": [{"attempt_number": 1, "context_size": 3, "delay_before_ms": 0, "outcome": "success"}]
//	}
//
// When the LLM provider stays rate limited, the call still succeeds with
// "degraded": true, an overload message as text and no sources.
//
// # Tool: get_status
//
//	Response:
//	{
//	  "tenant_id": "comune-a",
//	  "statistics": {"records": 120, "documents": 8, "chunks": 64, "embeddings": 184},
//	  "health": {"database_accessible": true, "embeddings_available": true, "build_mode": "purego"}
//	}
//
// # Error Handling
//
// Handlers return *MCPError values. Messages are safe to show to end users;
// Data never contains retrieved content.
//
// Error codes:
//   - -32602: Invalid params (missing/invalid arguments)
//   - -32603: Internal error (database, unexpected failures)
//   - -32001: Consent required
//   - -32002: Ingest already in progress for the tenant
//   - -32003: Privacy violation, denied fields reached the context
//   - -32004: Empty query
//   - -32005: LLM provider misconfigured or out of quota
//   - -32006: Request cancelled
//
// # MCP Client Configuration
//
//	{
//	  "mcpServers": {
//	    "fusionrag": {
//	      "command": "/usr/local/bin/fusionrag",
//	      "args": ["serve"],
//	      "env": {
//	        "OPENAI_API_KEY": "your-api-key"
//	      }
//	    }
//	  }
//	}
package mcp
