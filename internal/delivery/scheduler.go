package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/fusionrag/internal/audit"
	"github.com/dshills/fusionrag/internal/config"
	"github.com/dshills/fusionrag/internal/llm"
	"github.com/dshills/fusionrag/internal/logging"
	"github.com/dshills/fusionrag/internal/sanitize"
	"github.com/dshills/fusionrag/pkg/types"
)

// State is a scheduler state
type State string

const (
	StateInitial    State = "INITIAL"
	StateAttempting State = "ATTEMPTING"
	StateBackoff    State = "BACKOFF"
	StateSuccess    State = "SUCCESS"
	StateExhausted  State = "EXHAUSTED"
	StateFailed     State = "FAILED"
)

// Policy holds the retry and shrink parameters
type Policy struct {
	SoftCap    int
	MinLimit   int
	MaxRetries int
	BaseDelay  time.Duration
	Step       time.Duration
	MaxDelay   time.Duration
}

// PolicyFromConfig copies the delivery section of the configuration
func PolicyFromConfig(c config.DeliveryConfig) Policy {
	return Policy{
		SoftCap:    c.SoftCap,
		MinLimit:   c.MinLimit,
		MaxRetries: c.MaxRetries,
		BaseDelay:  c.BaseDelay,
		Step:       c.Step,
		MaxDelay:   c.MaxDelay,
	}
}

// Validate rejects policies that would break the shrink invariants
func (p Policy) Validate() error {
	switch {
	case p.MinLimit < 1:
		return errors.New("delivery: min limit must be at least 1")
	case p.SoftCap < p.MinLimit:
		return errors.New("delivery: soft cap must be >= min limit")
	case p.MaxRetries < 0:
		return errors.New("delivery: max retries must not be negative")
	case p.BaseDelay < 0 || p.Step < 0:
		return errors.New("delivery: delays must not be negative")
	case p.MaxDelay < p.BaseDelay:
		return errors.New("delivery: max delay must be >= base delay")
	}
	return nil
}

// Delay is the backoff after the given failed attempt (1-based)
func (p Policy) Delay(attempt int) time.Duration {
	d := p.BaseDelay + p.Step*time.Duration(attempt)
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// next returns the limit after a rate-limit rejection
func (p Policy) next(limit int) int {
	n := limit / 2
	if n < p.MinLimit {
		n = p.MinLimit
	}
	return n
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RenderFunc renders the prompt context for a prefix of the entries
type RenderFunc func(entries []types.Candidate) string

// Recorder observes attempts; metrics implement it
type Recorder interface {
	DeliveryAttempt(outcome types.AttemptOutcome, contextSize int)
	DeliveryFinished(state string, sleep time.Duration)
}

// Result is the outcome of one Deliver call
type Result struct {
	State       State
	Completion  llm.Completion
	Delivered   sanitize.Context // entries actually sent on the final attempt
	Attempts    []types.DeliveryAttempt
	Transitions []State
	Slept       time.Duration
}

// Degraded reports whether the caller got no model answer because the
// provider stayed rate-limited
func (r Result) Degraded() bool { return r.State == StateExhausted }

// Scheduler delivers sanitized context to a provider
type Scheduler struct {
	provider llm.Provider
	policy   Policy
	sleep    SleepFunc
	emitter  audit.Emitter
	recorder Recorder
	log      *logging.Logger
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithSleep replaces the backoff sleep, for tests
func WithSleep(fn SleepFunc) Option { return func(s *Scheduler) { s.sleep = fn } }

// WithEmitter sets the audit emitter
func WithEmitter(e audit.Emitter) Option { return func(s *Scheduler) { s.emitter = e } }

// WithRecorder sets the attempt recorder
func WithRecorder(r Recorder) Option { return func(s *Scheduler) { s.recorder = r } }

// NewScheduler creates a scheduler
func NewScheduler(provider llm.Provider, policy Policy, log *logging.Logger, opts ...Option) (*Scheduler, error) {
	if provider == nil {
		return nil, errors.New("delivery: provider is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.NewNop()
	}
	s := &Scheduler{
		provider: provider,
		policy:   policy,
		sleep:    sleepContext,
		emitter:  audit.Nop{},
		log:      log.With("component", "delivery"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Policy returns the scheduler policy
func (s *Scheduler) Policy() Policy { return s.policy }

// Deliver sends prompt with a shrinking prefix of sc until the provider
// answers, a fatal error occurs, the retry budget is spent, or ctx ends.
// Exhaustion returns a degraded Result and a nil error; fatal errors and
// cancellation return a non-nil error together with the attempt log so far.
func (s *Scheduler) Deliver(ctx context.Context, requestID, prompt string, sc sanitize.Context, render RenderFunc) (Result, error) {
	res := Result{State: StateInitial, Transitions: []State{StateInitial}}
	limit := sc.Len()
	if limit > s.policy.SoftCap {
		limit = s.policy.SoftCap
	}

	var delay time.Duration
	for attempt := 1; ; attempt++ {
		res.transition(StateAttempting)
		prefix := sc.Prefix(limit)
		if render != nil {
			prefix = prefix.WithSummary(render(prefix.Entries()))
		}

		comp, err := s.provider.Complete(ctx, prompt, prefix.SummaryText())
		outcome := classify(err)
		res.Attempts = append(res.Attempts, types.DeliveryAttempt{
			AttemptNumber: attempt,
			ContextSize:   limit,
			DelayBefore:   delay,
			Outcome:       outcome,
		})
		if s.recorder != nil {
			s.recorder.DeliveryAttempt(outcome, limit)
		}

		switch {
		case err == nil:
			res.Completion = comp
			res.Delivered = prefix
			res.transition(StateSuccess)
			return s.finish(requestID, res), nil

		case ctx.Err() != nil:
			res.transition(StateFailed)
			s.finish(requestID, res)
			return res, fmt.Errorf("delivery cancelled: %w", ctx.Err())

		case outcome == types.OutcomeFatalError:
			res.transition(StateFailed)
			s.finish(requestID, res)
			if !llm.IsFatal(err) {
				err = llm.NewFatalError("unclassified", err)
			}
			return res, err
		}

		// rate limited
		if limit <= s.policy.MinLimit || attempt > s.policy.MaxRetries {
			res.Delivered = prefix
			res.transition(StateExhausted)
			s.log.Warn("provider rate limit exhausted",
				"request_id", requestID,
				"attempts", attempt,
				"context_size", limit)
			return s.finish(requestID, res), nil
		}

		res.transition(StateBackoff)
		limit = s.policy.next(limit)
		delay = s.policy.Delay(attempt)
		s.log.Debug("rate limited, shrinking context",
			"request_id", requestID,
			"attempt", attempt,
			"next_size", limit,
			"delay_ms", delay.Milliseconds())

		if err := s.sleep(ctx, delay); err != nil {
			res.transition(StateFailed)
			s.finish(requestID, res)
			return res, fmt.Errorf("delivery cancelled: %w", err)
		}
		res.Slept += delay
	}
}

func classify(err error) types.AttemptOutcome {
	switch {
	case err == nil:
		return types.OutcomeSuccess
	case llm.IsRateLimit(err):
		return types.OutcomeRateLimited
	default:
		return types.OutcomeFatalError
	}
}

func (r *Result) transition(st State) {
	r.State = st
	r.Transitions = append(r.Transitions, st)
}

func (s *Scheduler) finish(requestID string, res Result) Result {
	if s.recorder != nil {
		s.recorder.DeliveryFinished(string(res.State), res.Slept)
	}
	sizes := make([]int, len(res.Attempts))
	for i, a := range res.Attempts {
		sizes[i] = a.ContextSize
	}
	s.emitter.Emit(audit.EventDelivery, map[string]any{
		"request_id":    requestID,
		"state":         string(res.State),
		"attempts":      len(res.Attempts),
		"context_sizes": sizes,
		"slept_ms":      res.Slept.Milliseconds(),
	})
	return res
}
