package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dshills/fusionrag/internal/audit"
	"github.com/dshills/fusionrag/internal/config"
	"github.com/dshills/fusionrag/internal/delivery"
	"github.com/dshills/fusionrag/internal/embedder"
	"github.com/dshills/fusionrag/internal/fusion"
	"github.com/dshills/fusionrag/internal/indexer"
	"github.com/dshills/fusionrag/internal/keyword"
	"github.com/dshills/fusionrag/internal/llm"
	"github.com/dshills/fusionrag/internal/logging"
	"github.com/dshills/fusionrag/internal/metrics"
	"github.com/dshills/fusionrag/internal/persona"
	"github.com/dshills/fusionrag/internal/retrieval"
	"github.com/dshills/fusionrag/internal/sanitize"
	"github.com/dshills/fusionrag/internal/storage"
	"github.com/dshills/fusionrag/internal/websearch"
)

// app holds the wired components shared by every command
type app struct {
	cfg       *config.Config
	log       *logging.Logger
	store     *storage.SQLiteStorage
	embedder  embedder.Embedder
	indexer   *indexer.Indexer
	retrieval *retrieval.Service
	metrics   *metrics.Metrics
	audit     *audit.AsyncEmitter
}

// newApp opens the store and builds the pipeline from cfg. The LLM provider
// is optional at this point: without an API key ingestion and status still
// work and Retrieve reports the provider as misconfigured.
func newApp(ctx context.Context, cfg *config.Config, log *logging.Logger) (*app, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initialize storage: %w", err)
	}

	a := &app{cfg: cfg, log: log, store: store, metrics: metrics.New(true)}
	if err := a.wire(ctx); err != nil {
		_ = a.close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	sinks := []audit.Sink{audit.NewLogSink(a.log)}
	if cfg.Audit.NATSURL != "" {
		sink, err := audit.DialNATSSink(cfg.Audit.NATSURL, cfg.Audit.NATSSubject)
		if err != nil {
			return err
		}
		sinks = append(sinks, sink)
		a.log.Info("audit events published to NATS", "subject", cfg.Audit.NATSSubject)
	}
	a.audit = audit.NewAsyncEmitter(cfg.Audit.BufferSize, a.log, sinks...)

	emb, err := embedder.New(cfg.Embedding)
	if err != nil {
		return fmt.Errorf("initialize embedder: %w", err)
	}
	a.embedder = emb
	a.log.Info("embedder ready", "provider", emb.Provider(), "model", emb.Model())

	a.indexer = indexer.New(a.store, emb, a.log, a.audit).WithRecorder(a.metrics)

	gate, err := sanitize.NewGate(cfg.Sanitize.Allow, cfg.Sanitize.Deny, a.audit, a.log)
	if err != nil {
		return err
	}
	personas, err := persona.NewSelector(cfg.Personas, persona.DefaultOptions())
	if err != nil {
		return err
	}
	scheduler, err := delivery.NewScheduler(a.provider(), delivery.PolicyFromConfig(cfg.Delivery), a.log,
		delivery.WithEmitter(a.audit),
		delivery.WithRecorder(a.metrics))
	if err != nil {
		return err
	}

	web, err := a.webAugmenter(ctx, gate)
	if err != nil {
		return err
	}

	a.retrieval, err = retrieval.New(retrieval.Dependencies{
		Store:    a.store,
		Embedder: emb,
		Keyword: keyword.New(a.store, a.log, keyword.DefaultStages(keyword.Options{
			RecentN: cfg.Retrieval.RecentN,
			Limit:   cfg.Retrieval.TopK,
		})...),
		Personas:  personas,
		Web:       web,
		Fusion:    fusion.NewEngine(personas, a.log),
		Gate:      gate,
		Scheduler: scheduler,
		Audit:     a.audit,
		Recorder:  a.metrics,
		Log:       a.log,
	}, retrieval.SettingsFromConfig(cfg))
	return err
}

// provider builds the rate-limited LLM client
func (a *app) provider() llm.Provider {
	cfg := a.cfg.LLM
	p, err := llm.NewOpenAIProvider(llm.OpenAIConfig{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxOutputTokens,
		Temperature: cfg.Temperature,
		Timeout:     cfg.Timeout,
	})
	if err != nil {
		a.log.Warn("llm provider unavailable, queries will fail until it is configured", "error", err)
		return llm.ProviderFunc(func(context.Context, string, string) (llm.Completion, error) {
			return llm.Completion{}, err
		})
	}
	return llm.NewLimitedProvider(p, cfg.RequestsPerSecond, cfg.Burst)
}

// webAugmenter returns nil when web search is disabled
func (a *app) webAugmenter(ctx context.Context, gate *sanitize.Gate) (*websearch.Augmenter, error) {
	cfg := a.cfg.WebSearch
	if !cfg.Enabled {
		return nil, nil
	}
	provider, err := websearch.NewHTTPProvider(cfg.Endpoint, cfg.APIKey, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("initialize web search: %w", err)
	}

	var cache websearch.Cache = websearch.NewMemoryCache(cfg.CacheSize, cfg.CacheTTL)
	if cfg.RedisAddr != "" {
		rc, err := websearch.NewRedisCache(ctx, cfg.RedisAddr, cfg.CacheTTL)
		if err != nil {
			a.log.Warn("redis unavailable, using in-process web cache", "addr", cfg.RedisAddr, "error", err)
		} else {
			cache = rc
		}
	}
	return websearch.NewAugmenter(provider, gate, cache, a.log,
		websearch.WithEmitter(a.audit),
		websearch.WithRecorder(a.metrics),
		websearch.WithTimeout(cfg.Timeout)), nil
}

// serveMetrics exposes the Prometheus registry until ctx ends
func (a *app) serveMetrics(ctx context.Context) {
	addr := a.cfg.Metrics.Addr
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.log.Info("metrics endpoint listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics endpoint stopped", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

// close flushes audit events and releases the store
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.audit != nil {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		errs = append(errs, a.audit.Close(flushCtx))
	}
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}
