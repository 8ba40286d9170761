// Package config loads and validates fusionrag configuration.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then environment variables. The resulting Config is copied into component
// constructors; nothing reads configuration from package-level state.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete fusionrag configuration
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Sanitize  SanitizeConfig  `yaml:"sanitize"`
	WebSearch WebSearchConfig `yaml:"websearch"`
	Personas  []PersonaConfig `yaml:"personas"`
	Audit     AuditConfig     `yaml:"audit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// DatabaseConfig configures the SQLite store
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// EmbeddingConfig selects the embedding provider
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"` // jina, openai, local; empty auto-detects
	APIKey    string `yaml:"api_key"`
	Endpoint  string `yaml:"endpoint"` // overrides the provider's API URL
	CacheSize int    `yaml:"cache_size"`
}

// LLMConfig configures the completion provider and its shared rate limiter
type LLMConfig struct {
	Model             string        `yaml:"model"`
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	Timeout           time.Duration `yaml:"timeout"`
	TokenBudget       int           `yaml:"token_budget"`    // provider context window
	ReservedTokens    int           `yaml:"reserved_tokens"` // system prompt + output
	MaxOutputTokens   int           `yaml:"max_output_tokens"`
	Temperature       float32       `yaml:"temperature"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

// ContextBudget is the token budget available to the fused context
func (c LLMConfig) ContextBudget() int {
	return c.TokenBudget - c.ReservedTokens
}

// DeliveryConfig configures the adaptive delivery scheduler
type DeliveryConfig struct {
	SoftCap    int           `yaml:"soft_cap"`
	MinLimit   int           `yaml:"min_limit"`
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	Step       time.Duration `yaml:"step"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

// RetrievalConfig configures ranking and fallback search
type RetrievalConfig struct {
	UseSemantic   bool    `yaml:"use_semantic"`
	MinSimilarity float64 `yaml:"min_similarity"`
	TopK          int     `yaml:"top_k"`
	RecentN       int     `yaml:"recent_n"`
	MemoryTurns   int     `yaml:"memory_turns"`
}

// SanitizeConfig holds the trust-boundary field lists
type SanitizeConfig struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// WebSearchConfig configures the external search provider and its cache
type WebSearchConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Endpoint   string        `yaml:"endpoint"`
	APIKey     string        `yaml:"api_key"`
	MaxResults int           `yaml:"max_results"`
	Timeout    time.Duration `yaml:"timeout"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
	CacheSize  int           `yaml:"cache_size"`
	RedisAddr  string        `yaml:"redis_addr"` // empty keeps the cache in process
}

// PersonaConfig defines one expertise persona
type PersonaConfig struct {
	ID          string             `yaml:"id"`
	Description string             `yaml:"description"`
	Keywords    []string           `yaml:"keywords"`
	Weights     map[string]float64 `yaml:"weights"` // source type -> weight
	Instruction string             `yaml:"instruction"`
}

// AuditConfig configures the audit emitter
type AuditConfig struct {
	BufferSize  int    `yaml:"buffer_size"`
	NATSURL     string `yaml:"nats_url"` // empty logs audit events locally only
	NATSSubject string `yaml:"nats_subject"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the endpoint
}

// LogConfig configures the logger
type LogConfig struct {
	Mode      string `yaml:"mode"`
	Level     string `yaml:"level"`
	Redaction bool   `yaml:"redaction"`
	HashSalt  string `yaml:"hash_salt"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "~/.fusionrag/fusionrag.db"},
		Embedding: EmbeddingConfig{
			CacheSize: 10000,
		},
		LLM: LLMConfig{
			Model:             "gpt-4o-mini",
			Timeout:           60 * time.Second,
			TokenBudget:       16000,
			ReservedTokens:    4000,
			MaxOutputTokens:   1500,
			Temperature:       0.2,
			RequestsPerSecond: 2,
			Burst:             2,
		},
		Delivery: DeliveryConfig{
			SoftCap:    20,
			MinLimit:   5,
			MaxRetries: 4,
			BaseDelay:  500 * time.Millisecond,
			Step:       750 * time.Millisecond,
			MaxDelay:   5 * time.Second,
		},
		Retrieval: RetrievalConfig{
			UseSemantic:   true,
			MinSimilarity: 0.3,
			TopK:          20,
			RecentN:       5,
			MemoryTurns:   6,
		},
		Sanitize: SanitizeConfig{
			Allow: []string{
				"title", "protocol_number", "record_type", "year", "certified", "anchored",
				"record_id", "document_id", "chunk_id", "position", "turn_id", "role",
				"url", "from_cache", "source", "published_at", "match_stage", "similarity",
			},
			Deny: []string{
				"user_id", "password", "password_hash", "api_key", "token", "tax_code",
				"fiscal_code", "iban", "email", "phone", "session_token",
			},
		},
		WebSearch: WebSearchConfig{
			Enabled:    false,
			MaxResults: 5,
			Timeout:    10 * time.Second,
			CacheTTL:   15 * time.Minute,
			CacheSize:  1000,
		},
		Personas: DefaultPersonas(),
		Audit: AuditConfig{
			BufferSize:  256,
			NATSSubject: "fusionrag.audit",
		},
		Log: LogConfig{
			Mode:      "dev",
			Level:     "info",
			Redaction: true,
		},
	}
}

// DefaultPersonas returns the built-in expertise domains
func DefaultPersonas() []PersonaConfig {
	return []PersonaConfig{
		{
			ID:          "legal",
			Description: "normative and regulatory analysis",
			Keywords:    []string{"legge", "law", "decreto", "decree", "regolamento", "regulation", "normativa", "articolo", "article", "contratto", "contract", "gdpr", "compliance", "sentenza"},
			Weights:     map[string]float64{"document": 1.0, "chat_history": 0.6, "record": 0.6, "web": 0.4},
			Instruction: "Prefer normative and document sources. Quote article numbers when available.",
		},
		{
			ID:          "archivist",
			Description: "protocol register and records management",
			Keywords:    []string{"protocollo", "protocol", "registro", "register", "delibera", "determina", "atto", "record", "certificato", "certified", "anchored", "archivio", "archive"},
			Weights:     map[string]float64{"document": 0.9, "chat_history": 0.7, "record": 1.0, "web": 0.3},
			Instruction: "Cite protocol numbers exactly as they appear in the records.",
		},
		{
			ID:          "technical",
			Description: "technical and operational questions",
			Keywords:    []string{"api", "server", "errore", "error", "configurazione", "configuration", "software", "sistema", "system", "database", "install", "bug"},
			Weights:     map[string]float64{"document": 1.0, "chat_history": 0.8, "record": 0.4, "web": 0.7},
			Instruction: "Give step-by-step answers and state assumptions.",
		},
		{
			ID:          "general",
			Description: "general purpose assistant",
			Keywords:    nil,
			Weights:     map[string]float64{"document": 1.0, "chat_history": 0.8, "record": 0.5, "web": 0.6},
			Instruction: "Answer concisely using the provided sources.",
		},
	}
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	var errs []error

	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.LLM.TokenBudget <= 0 {
		errs = append(errs, errors.New("llm.token_budget must be positive"))
	}
	if c.LLM.ContextBudget() <= 0 {
		errs = append(errs, errors.New("llm.reserved_tokens must be smaller than llm.token_budget"))
	}
	if c.LLM.RequestsPerSecond <= 0 {
		errs = append(errs, errors.New("llm.requests_per_second must be positive"))
	}
	if c.LLM.Burst < 1 {
		errs = append(errs, errors.New("llm.burst must be at least 1"))
	}

	d := c.Delivery
	if d.MinLimit < 1 {
		errs = append(errs, errors.New("delivery.min_limit must be at least 1"))
	}
	if d.SoftCap < d.MinLimit {
		errs = append(errs, errors.New("delivery.soft_cap must be >= delivery.min_limit"))
	}
	if d.MaxRetries < 0 {
		errs = append(errs, errors.New("delivery.max_retries must be non-negative"))
	}
	if d.BaseDelay < 0 || d.Step < 0 {
		errs = append(errs, errors.New("delivery delays must be non-negative"))
	}
	if d.MaxDelay < d.BaseDelay {
		errs = append(errs, errors.New("delivery.max_delay must be >= delivery.base_delay"))
	}

	r := c.Retrieval
	if r.MinSimilarity < 0 || r.MinSimilarity > 1 {
		errs = append(errs, errors.New("retrieval.min_similarity must be between 0 and 1"))
	}
	if r.TopK < 1 {
		errs = append(errs, errors.New("retrieval.top_k must be at least 1"))
	}
	if r.RecentN < 1 {
		errs = append(errs, errors.New("retrieval.recent_n must be at least 1"))
	}

	if len(c.Sanitize.Deny) == 0 {
		errs = append(errs, errors.New("sanitize.deny must not be empty"))
	}

	if c.WebSearch.Enabled && c.WebSearch.Endpoint == "" {
		errs = append(errs, errors.New("websearch.endpoint is required when web search is enabled"))
	}
	if c.WebSearch.CacheTTL <= 0 {
		errs = append(errs, errors.New("websearch.cache_ttl must be positive"))
	}

	if len(c.Personas) == 0 {
		errs = append(errs, errors.New("at least one persona is required"))
	}
	seen := make(map[string]bool, len(c.Personas))
	for _, p := range c.Personas {
		if p.ID == "" {
			errs = append(errs, errors.New("persona id is required"))
			continue
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Errorf("duplicate persona %q", p.ID))
		}
		seen[p.ID] = true
		for src, w := range p.Weights {
			if w < 0 {
				errs = append(errs, fmt.Errorf("persona %q: negative weight for %s", p.ID, src))
			}
		}
	}

	if c.Audit.BufferSize < 1 {
		errs = append(errs, errors.New("audit.buffer_size must be at least 1"))
	}

	return errors.Join(errs...)
}

// LoadFromFile reads a YAML config file and overlays it on the defaults
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
