package embedder

import (
	"fmt"
	"strings"

	"github.com/dshills/fusionrag/internal/config"
)

// New creates an embedder from configuration. An empty provider is resolved
// with DetectProvider.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	switch DetectProvider(cfg) {
	case ProviderJina:
		return NewJinaProvider(cfg.APIKey, cfg.Endpoint, cache)
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg.APIKey, cfg.Endpoint, cache)
	case ProviderLocal:
		return NewLocalProvider(cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// DetectProvider returns the provider New would build. Without an explicit
// provider, a configured API key selects jina and no key selects local.
func DetectProvider(cfg config.EmbeddingConfig) string {
	if p := strings.ToLower(strings.TrimSpace(cfg.Provider)); p != "" {
		return p
	}
	if cfg.APIKey != "" {
		return ProviderJina
	}
	return ProviderLocal
}
