package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/fusionrag/internal/audit"
	"github.com/dshills/fusionrag/internal/config"
	"github.com/dshills/fusionrag/internal/delivery"
	"github.com/dshills/fusionrag/internal/embedder"
	"github.com/dshills/fusionrag/internal/fusion"
	"github.com/dshills/fusionrag/internal/keyword"
	"github.com/dshills/fusionrag/internal/logging"
	"github.com/dshills/fusionrag/internal/metrics"
	"github.com/dshills/fusionrag/internal/persona"
	"github.com/dshills/fusionrag/internal/ranker"
	"github.com/dshills/fusionrag/internal/sanitize"
	"github.com/dshills/fusionrag/internal/storage"
	"github.com/dshills/fusionrag/internal/websearch"
	"github.com/dshills/fusionrag/pkg/types"
)

// Store is the persistence Retrieve reads from and appends turns to
type Store interface {
	keyword.RecordSource
	EmbeddedPool(ctx context.Context, scope types.Scope, sources []types.SourceType) ([]storage.EmbeddedItem, error)
	RecentTurns(ctx context.Context, scope types.Scope, sessionID string, n int) ([]storage.ChatTurn, error)
	AppendTurn(ctx context.Context, turn *storage.ChatTurn) error
	HasConsent(ctx context.Context, scope types.Scope) (bool, error)
}

// Recorder observes finished retrievals; metrics implement it
type Recorder interface {
	RetrievalFinished(outcome string, d time.Duration, notices []string)
}

// Dependencies are the collaborators of a Service. Embedder, Web, Audit,
// Recorder and Log are optional.
type Dependencies struct {
	Store     Store
	Embedder  embedder.Embedder
	Keyword   *keyword.Cascade
	Personas  *persona.Selector
	Web       *websearch.Augmenter
	Fusion    *fusion.Engine
	Gate      *sanitize.Gate
	Scheduler *delivery.Scheduler
	Audit     audit.Emitter
	Recorder  Recorder
	Log       *logging.Logger
}

// Settings are the tunables copied from configuration
type Settings struct {
	Retrieval     config.RetrievalConfig
	TokenBudget   int // context budget after reserved tokens
	WebMaxResults int
}

// SettingsFromConfig extracts Settings from a loaded configuration
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Retrieval:     cfg.Retrieval,
		TokenBudget:   cfg.LLM.ContextBudget(),
		WebMaxResults: cfg.WebSearch.MaxResults,
	}
}

// Options are the per-call switches of Retrieve
type Options struct {
	UseSemantic     bool
	UseWebSearch    bool   // also enabled by Query.UseWebSearch
	PersonaOverride string // wins over Query.PersonaOverride
	TokenBudget     int    // 0 uses the configured budget; larger values are capped to it
}

// Service answers queries over every configured source
type Service struct {
	store     Store
	embedder  embedder.Embedder
	keyword   *keyword.Cascade
	personas  *persona.Selector
	web       *websearch.Augmenter
	fusion    *fusion.Engine
	gate      *sanitize.Gate
	scheduler *delivery.Scheduler
	audit     audit.Emitter
	recorder  Recorder
	log       *logging.Logger
	settings  Settings
	now       func() time.Time
}

// New creates a Service
func New(deps Dependencies, settings Settings) (*Service, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("retrieval: store is required")
	case deps.Keyword == nil:
		return nil, errors.New("retrieval: keyword cascade is required")
	case deps.Personas == nil:
		return nil, errors.New("retrieval: persona selector is required")
	case deps.Fusion == nil:
		return nil, errors.New("retrieval: fusion engine is required")
	case deps.Gate == nil:
		return nil, errors.New("retrieval: sanitization gate is required")
	case deps.Scheduler == nil:
		return nil, errors.New("retrieval: delivery scheduler is required")
	}
	if settings.TokenBudget <= 0 {
		return nil, errors.New("retrieval: token budget must be positive")
	}
	if deps.Audit == nil {
		deps.Audit = audit.Nop{}
	}
	if deps.Log == nil {
		deps.Log = logging.NewNop()
	}
	if settings.WebMaxResults <= 0 {
		settings.WebMaxResults = 5
	}

	return &Service{
		store:     deps.Store,
		embedder:  deps.Embedder,
		keyword:   deps.Keyword,
		personas:  deps.Personas,
		web:       deps.Web,
		fusion:    deps.Fusion,
		gate:      deps.Gate,
		scheduler: deps.Scheduler,
		audit:     deps.Audit,
		recorder:  deps.Recorder,
		log:       deps.Log.With("component", "retrieval"),
		settings:  settings,
		now:       time.Now,
	}, nil
}

// DefaultOptions returns the options implied by configuration
func (s *Service) DefaultOptions() Options {
	return Options{UseSemantic: s.settings.Retrieval.UseSemantic}
}

// notices collects degradation annotations from concurrent stages
type notices struct {
	mu   sync.Mutex
	list []string
}

func (n *notices) add(notice string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, existing := range n.list {
		if existing == notice {
			return
		}
	}
	n.list = append(n.list, notice)
}

func (n *notices) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.list...)
}

// Retrieve answers q. Consent, privacy and fatal provider errors are returned
// as errors; provider rate-limit exhaustion and lost sources are reported
// through RetrievalResponse.Degraded and Notices instead.
func (s *Service) Retrieve(ctx context.Context, q types.Query, opts Options) (resp *types.RetrievalResponse, err error) {
	start := s.now()
	requestID := uuid.NewString()
	notes := &notices{}

	defer func() {
		outcome := metrics.OutcomeOK
		switch {
		case err != nil:
			outcome = metrics.OutcomeError
		case resp.Degraded:
			outcome = metrics.OutcomeDegraded
		}
		if s.recorder != nil {
			s.recorder.RetrievalFinished(outcome, s.now().Sub(start), notes.all())
		}
	}()

	if err := q.Validate(); err != nil {
		return nil, err
	}
	scope := q.Scope()
	log := s.log.With("request_id", requestID, "tenant_id", q.TenantID, "user_id", q.UserID)

	if err := s.checkConsent(ctx, requestID, scope); err != nil {
		return nil, err
	}

	turns := s.loadMemory(ctx, q, notes, log)

	override := opts.PersonaOverride
	if override == "" {
		override = q.PersonaOverride
	}
	sel, err := s.personas.Select(q.Text, override, userHistory(turns))
	if err != nil {
		return nil, err
	}

	sets, err := s.gather(ctx, q, opts, sel, turns, notes, log)
	if err != nil {
		return nil, err
	}

	uc := s.fusion.Fuse(sets, sel, s.budget(opts))
	if uc.Len() == 0 {
		notes.add(types.NoticeNoEvidence)
	}

	sc, err := s.gate.SanitizeContext(ctx, requestID, uc)
	if err != nil {
		return nil, err
	}

	render := func(entries []types.Candidate) string { return s.fusion.Render(entries, sel) }
	res, err := s.scheduler.Deliver(ctx, requestID, q.Text, sc, render)
	if err != nil {
		log.Warn("delivery failed", "error", err, "attempts", len(res.Attempts))
		return nil, err
	}

	resp = &types.RetrievalResponse{
		RequestID: requestID,
		Persona:   sel,
		Attempts:  res.Attempts,
	}
	if res.Degraded() {
		notes.add(types.NoticeProviderExhausted)
		resp.Text = types.MsgOverloaded
		resp.Degraded = true
		resp.Sources = []types.Citation{}
	} else {
		resp.Text = res.Completion.Text
		resp.Usage = res.Completion.Usage
		resp.Sources = types.CitationsFor(res.Delivered.Entries())
		s.remember(ctx, q, res.Completion.Text, log)
	}
	resp.Notices = notes.all()

	s.audit.Emit(audit.EventRetrieval, map[string]any{
		"request_id":  requestID,
		"tenant_id":   q.TenantID,
		"persona":     sel.PersonaID(),
		"method":      string(sel.Method()),
		"fused":       uc.Len(),
		"delivered":   len(resp.Sources),
		"degraded":    resp.Degraded,
		"notices":     resp.Notices,
		"duration_ms": s.now().Sub(start).Milliseconds(),
	})
	log.Info("retrieval complete",
		"persona", sel.PersonaID(),
		"sources", len(resp.Sources),
		"degraded", resp.Degraded,
		"attempts", len(res.Attempts))
	return resp, nil
}

func (s *Service) checkConsent(ctx context.Context, requestID string, scope types.Scope) error {
	ok, err := s.store.HasConsent(ctx, scope)
	if err != nil {
		return fmt.Errorf("consent check: %w", err)
	}
	if ok {
		return nil
	}
	s.audit.Emit(audit.EventConsentDenied, map[string]any{
		"request_id": requestID,
		"tenant_id":  scope.TenantID,
	})
	return types.ErrConsentRequired
}

// budget resolves the token budget of one call
func (s *Service) budget(opts Options) int {
	if opts.TokenBudget > 0 && opts.TokenBudget < s.settings.TokenBudget {
		return opts.TokenBudget
	}
	return s.settings.TokenBudget
}

// loadMemory reads the recent turns of the session, newest first. Failures
// only cost the conversation context.
func (s *Service) loadMemory(ctx context.Context, q types.Query, notes *notices, log *logging.Logger) []storage.ChatTurn {
	n := s.settings.Retrieval.MemoryTurns
	if q.SessionID == "" || n <= 0 {
		return nil
	}
	turns, err := s.store.RecentTurns(ctx, q.Scope(), q.SessionID, n)
	if err != nil {
		log.Warn("conversation memory unavailable", "error", err)
		notes.add(types.NoticeMemoryUnavailable)
		return nil
	}
	return turns
}

// gather runs the internal search and the web search concurrently and
// returns every non-empty ranked set
func (s *Service) gather(ctx context.Context, q types.Query, opts Options, sel types.PersonaSelection,
	turns []storage.ChatTurn, notes *notices, log *logging.Logger) ([]types.RankedSet, error) {

	var internal, web types.RankedSet
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		set, err := s.searchInternal(gctx, q, opts.UseSemantic, notes, log)
		if err != nil {
			return err
		}
		internal = set
		return nil
	})

	if s.web != nil && (opts.UseWebSearch || q.UseWebSearch) {
		g.Go(func() error {
			set, err := s.web.Augment(gctx, q.Text, sel.PersonaID(), s.settings.WebMaxResults)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Warn("web augmentation skipped", "error", err)
				notes.add(types.NoticeWebSearchFailed)
				return nil
			}
			web = set
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sets := make([]types.RankedSet, 0, 3)
	for _, set := range []types.RankedSet{internal, memorySet(turns), web} {
		if !set.Empty() {
			sets = append(sets, set)
		}
	}
	return sets, nil
}

// searchInternal ranks stored documents and records by similarity and falls
// back to the keyword cascade when no vector is available or nothing passes
// the similarity threshold.
func (s *Service) searchInternal(ctx context.Context, q types.Query, useSemantic bool, notes *notices, log *logging.Logger) (types.RankedSet, error) {
	if useSemantic {
		set, err := s.semantic(ctx, q)
		switch {
		case err == nil && !set.Empty():
			return set, nil
		case err != nil:
			if ctx.Err() != nil {
				return types.RankedSet{}, ctx.Err()
			}
			log.Warn("semantic search unavailable, using keyword fallback", "error", err)
			notes.add(types.NoticeEmbeddingUnavailable)
		}
	}

	m, err := s.keyword.SearchWithStage(ctx, q.Text, q.Scope())
	if err != nil {
		return types.RankedSet{}, fmt.Errorf("keyword search: %w", err)
	}
	if !m.Set.Empty() {
		log.Debug("keyword fallback matched", "stage", m.Stage, "records", m.Set.Len())
	}
	return m.Set, nil
}

var errNoEmbedder = errors.New("no embedder configured")

func (s *Service) semantic(ctx context.Context, q types.Query) (types.RankedSet, error) {
	if s.embedder == nil {
		return types.RankedSet{}, errNoEmbedder
	}
	emb, err := s.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: q.Text})
	if err != nil {
		return types.RankedSet{}, err
	}

	pool, err := s.store.EmbeddedPool(ctx, q.Scope(), []types.SourceType{types.SourceDocument, types.SourceRecord})
	if err != nil {
		return types.RankedSet{}, fmt.Errorf("load embeddings: %w", err)
	}
	items := make([]ranker.Item, len(pool))
	for i, p := range pool {
		items[i] = ranker.Item{Spec: p.Spec, Vector: p.Vector}
	}
	r := s.settings.Retrieval
	return ranker.Rank(emb.Vector, items, r.MinSimilarity, r.TopK), nil
}

// remember appends the question and the answer to the session. User text is
// redacted first so later requests never replay private tokens.
func (s *Service) remember(ctx context.Context, q types.Query, answer string, log *logging.Logger) {
	if q.SessionID == "" {
		return
	}
	question, _ := s.gate.RedactQuery(q.Text)
	reply, _ := s.gate.RedactQuery(answer)
	for _, t := range []storage.ChatTurn{
		{Role: "user", Content: question},
		{Role: "assistant", Content: reply},
	} {
		if t.Content == "" {
			continue
		}
		t.TenantID, t.UserID, t.SessionID = q.TenantID, q.UserID, q.SessionID
		if err := s.store.AppendTurn(ctx, &t); err != nil {
			log.Warn("failed to store conversation turn", "role", t.Role, "error", err)
			return
		}
	}
}
