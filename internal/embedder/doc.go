// Package embedder generates vector embeddings for queries, document chunks
// and public records.
//
// Three providers implement the Embedder interface:
//
//   - jina: the Jina AI embeddings API over plain HTTP (1024 dimensions)
//   - openai: the OpenAI embeddings endpoint through go-openai (1536 dimensions)
//   - local: offline signed feature hashing over word tokens (384 dimensions)
//
// # Basic Usage
//
//	emb, err := embedder.New(cfg.Embedding)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer emb.Close()
//
//	q, err := emb.GenerateEmbedding(ctx, embedder.EmbeddingRequest{
//	    Text: "delibere sul bilancio 2024",
//	})
//
// # Provider Selection
//
// New uses cfg.Provider when it is set. Otherwise a configured API key
// selects jina and no key selects local, so a fresh install works offline.
//
// # Caching
//
// Providers share an optional LRU Cache keyed by provider, model and the
// SHA-256 of the text. Batches only send the texts that missed the cache.
// Cached vectors are copied on the way in and out.
//
// # Error Handling
//
// Remote calls are retried with exponential backoff on network errors, 429
// and 5xx answers. Other 4xx answers fail at once. Exhausted or permanent
// failures wrap ErrProviderFailed; the retrieval pipeline treats them as
// "semantic search unavailable" and falls back to keyword search.
package embedder
