package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// EnvConfigPath names the config file when --config is not given
	EnvConfigPath = "FUSIONRAG_CONFIG"
	// EnvPrefix prefixes every scalar override
	EnvPrefix = "FUSIONRAG_"
)

// Load builds a Config with layered precedence:
// 1. Defaults
// 2. YAML file (path argument, else $FUSIONRAG_CONFIG)
// 3. Environment variables
//
// getenv is injectable for tests; nil means os.Getenv.
func Load(path string, getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if path == "" {
		path = getenv(EnvConfigPath)
	}

	cfg := Default()
	if path != "" {
		loaded, err := LoadFromFile(expandHome(path))
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	if err := applyEnv(cfg, getenv); err != nil {
		return nil, err
	}
	cfg.Database.Path = expandHome(cfg.Database.Path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			*dst = v
		}
	}

	str(EnvPrefix+"DB_PATH", &cfg.Database.Path)
	str(EnvPrefix+"EMBEDDING_PROVIDER", &cfg.Embedding.Provider)
	str(EnvPrefix+"LLM_MODEL", &cfg.LLM.Model)
	str(EnvPrefix+"LLM_BASE_URL", &cfg.LLM.BaseURL)
	str(EnvPrefix+"WEBSEARCH_ENDPOINT", &cfg.WebSearch.Endpoint)
	str(EnvPrefix+"REDIS_ADDR", &cfg.WebSearch.RedisAddr)
	str(EnvPrefix+"NATS_URL", &cfg.Audit.NATSURL)
	str(EnvPrefix+"METRICS_ADDR", &cfg.Metrics.Addr)
	str(EnvPrefix+"LOG_MODE", &cfg.Log.Mode)
	str(EnvPrefix+"LOG_LEVEL", &cfg.Log.Level)
	str(EnvPrefix+"LOG_HASH_SALT", &cfg.Log.HashSalt)

	// Provider credentials keep their conventional names
	str("OPENAI_API_KEY", &cfg.LLM.APIKey)
	str("WEBSEARCH_API_KEY", &cfg.WebSearch.APIKey)
	str(EnvPrefix+"EMBEDDING_ENDPOINT", &cfg.Embedding.Endpoint)
	if cfg.Embedding.APIKey == "" {
		switch strings.ToLower(cfg.Embedding.Provider) {
		case "jina":
			str("JINA_API_KEY", &cfg.Embedding.APIKey)
		case "openai":
			str("OPENAI_API_KEY", &cfg.Embedding.APIKey)
		case "":
			// A Jina key alone is enough to opt into remote embeddings
			if getenv("JINA_API_KEY") != "" {
				cfg.Embedding.Provider = "jina"
				str("JINA_API_KEY", &cfg.Embedding.APIKey)
			}
		}
	}

	if v := getenv(EnvPrefix + "WEBSEARCH_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sWEBSEARCH_ENABLED: %w", EnvPrefix, err)
		}
		cfg.WebSearch.Enabled = b
	}
	if v := getenv(EnvPrefix + "LOG_REDACTION"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sLOG_REDACTION: %w", EnvPrefix, err)
		}
		cfg.Log.Redaction = b
	}
	if v := getenv(EnvPrefix + "TOKEN_BUDGET"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sTOKEN_BUDGET: %w", EnvPrefix, err)
		}
		cfg.LLM.TokenBudget = n
	}
	if v := getenv(EnvPrefix + "LLM_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sLLM_RPS: %w", EnvPrefix, err)
		}
		cfg.LLM.RequestsPerSecond = f
	}
	if v := getenv(EnvPrefix + "WEBSEARCH_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sWEBSEARCH_CACHE_TTL: %w", EnvPrefix, err)
		}
		cfg.WebSearch.CacheTTL = d
	}
	return nil
}

// expandHome replaces a leading ~ with the user's home directory
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
