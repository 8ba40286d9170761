// Package audit emits structured audit events without blocking the request path.
//
// Events are queued on a bounded buffer and written to one or more sinks by a
// background worker. When the buffer is full the event is dropped and counted;
// a sink failure is logged locally and never returned to the caller. Audit is
// best-effort observability, not a dependency of retrieval correctness.
//
//	em := audit.NewAsyncEmitter(256, log, audit.NewLogSink(log))
//	defer em.Close(ctx)
//	em.Emit(audit.EventSanitizeBatch, map[string]any{"records": 12})
//
// Each event carries a SHA-256 digest of its RFC 8785 (JCS) canonical JSON
// form so downstream compliance stores can verify events were not altered.
package audit
