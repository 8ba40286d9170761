// Package indexer ingests documents and public records into storage.
//
// Documents run through a chunk -> embed -> store pipeline:
//
//  1. Change Detection: the SHA-256 of the content and the title are compared
//     with the stored document; unchanged documents are skipped
//  2. Chunk: paragraph-bounded chunks of at most chunker.DefaultMaxTokens
//  3. Embed: chunk texts are embedded in batches, concurrently
//  4. Store: document, chunks and embeddings are replaced in one transaction
//
// Records are validated, embedded on their title and body, and stored in
// batches. Records sharing a protocol number replace each other.
//
// # Basic Usage
//
//	idx := indexer.New(store, emb, log, emitter)
//
//	stats, err := idx.IndexDocuments(ctx, "comune-a", []indexer.DocumentInput{{
//	    Title:     "Regolamento edilizio",
//	    SourceURI: "file:///atti/regolamento.txt",
//	    Content:   text,
//	}}, nil)
//
// # Concurrency
//
// Documents are processed by an errgroup limited to Config.Workers. Only one
// ingest may run per tenant at a time; a concurrent call returns
// ErrIngestInProgress immediately instead of waiting.
//
// # Error Handling
//
// A document that fails to chunk, embed or store is counted in
// Statistics.DocumentsFailed with its message in ErrorMessages; the rest of the
// run continues. Context cancellation aborts the whole run. Every completed
// run emits an audit.EventIngest event.
package indexer
