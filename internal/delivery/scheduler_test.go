package delivery

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/fusionrag/internal/audit"
	"github.com/dshills/fusionrag/internal/config"
	"github.com/dshills/fusionrag/internal/llm"
	"github.com/dshills/fusionrag/internal/sanitize"
	"github.com/dshills/fusionrag/pkg/types"
)

// scriptedProvider returns errors from script in order, then succeeds
type scriptedProvider struct {
	script   []error
	contexts []string
}

func (p *scriptedProvider) Complete(_ context.Context, _ string, contextText string) (llm.Completion, error) {
	p.contexts = append(p.contexts, contextText)
	i := len(p.contexts) - 1
	if i < len(p.script) && p.script[i] != nil {
		return llm.Completion{}, p.script[i]
	}
	return llm.Completion{Text: "answer"}, nil
}

func rateLimited() error { return llm.NewRateLimitError(errors.New("429")) }

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func testPolicy() Policy {
	return Policy{SoftCap: 20, MinLimit: 5, MaxRetries: 4, BaseDelay: 500 * time.Millisecond, Step: 750 * time.Millisecond, MaxDelay: 5 * time.Second}
}

func sanitizedContext(t *testing.T, n int) sanitize.Context {
	t.Helper()
	cfg := config.Default().Sanitize
	gate, err := sanitize.NewGate(cfg.Allow, cfg.Deny, nil, nil)
	require.NoError(t, err)

	entries := make([]types.Candidate, n)
	for i := range entries {
		entries[i] = types.MustCandidate(types.CandidateSpec{
			Payload:    types.DocumentPayload{DocumentID: int64(i), Title: fmt.Sprintf("doc %d", i)},
			Text:       fmt.Sprintf("entry %d", i),
			Relevance:  1 - float64(i)/float64(n+1),
			CitationID: fmt.Sprintf("doc:%d", i),
		})
	}
	sc, err := gate.SanitizeContext(context.Background(), "req", types.NewUnifiedContext(entries, ""))
	require.NoError(t, err)
	return sc
}

func countingRender(entries []types.Candidate) string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.CitationID()
	}
	return fmt.Sprintf("%d:%s", len(entries), strings.Join(ids, ","))
}

func sizes(attempts []types.DeliveryAttempt) []int {
	out := make([]int, len(attempts))
	for i, a := range attempts {
		out[i] = a.ContextSize
	}
	return out
}

// 20 -> 10 -> 5, still rate limited at the floor: degraded, no error.
func TestDeliver_ShrinksToFloorThenExhausts(t *testing.T) {
	prov := &scriptedProvider{script: []error{rateLimited(), rateLimited(), rateLimited()}}
	sl := &sleepRecorder{}
	rec := &audit.Recorder{}
	s, err := NewScheduler(prov, testPolicy(), nil, WithSleep(sl.sleep), WithEmitter(rec))
	require.NoError(t, err)

	res, err := s.Deliver(context.Background(), "req-c", "q", sanitizedContext(t, 30), countingRender)
	require.NoError(t, err)

	assert.Equal(t, StateExhausted, res.State)
	assert.True(t, res.Degraded())
	assert.Equal(t, []int{20, 10, 5}, sizes(res.Attempts))
	for _, a := range res.Attempts {
		assert.Equal(t, types.OutcomeRateLimited, a.Outcome)
	}
	assert.Equal(t, []time.Duration{1250 * time.Millisecond, 2000 * time.Millisecond}, sl.delays)
	assert.Equal(t, []time.Duration{0, 1250 * time.Millisecond, 2000 * time.Millisecond},
		[]time.Duration{res.Attempts[0].DelayBefore, res.Attempts[1].DelayBefore, res.Attempts[2].DelayBefore})
	assert.Equal(t, []State{StateInitial, StateAttempting, StateBackoff, StateAttempting, StateBackoff, StateAttempting, StateExhausted}, res.Transitions)
	assert.Equal(t, 3250*time.Millisecond, res.Slept)

	events := rec.OfType(audit.EventDelivery)
	require.Len(t, events, 1)
	assert.Equal(t, "EXHAUSTED", events[0].Fields["state"])
}

func TestDeliver_SuccessAfterShrink(t *testing.T) {
	prov := &scriptedProvider{script: []error{rateLimited()}}
	sl := &sleepRecorder{}
	s, err := NewScheduler(prov, testPolicy(), nil, WithSleep(sl.sleep))
	require.NoError(t, err)

	res, err := s.Deliver(context.Background(), "req", "q", sanitizedContext(t, 12), countingRender)
	require.NoError(t, err)

	assert.Equal(t, StateSuccess, res.State)
	assert.False(t, res.Degraded())
	assert.Equal(t, "answer", res.Completion.Text)
	assert.Equal(t, []int{12, 6}, sizes(res.Attempts))
	assert.Equal(t, 6, res.Delivered.Len())
	assert.Equal(t, "doc:0", res.Delivered.Entries()[0].CitationID())
	assert.Equal(t, "doc:5", res.Delivered.Entries()[5].CitationID())

	require.Len(t, prov.contexts, 2)
	assert.True(t, strings.HasPrefix(prov.contexts[1], "6:"), "context is re-rendered for the prefix")
	assert.Equal(t, prov.contexts[1], res.Delivered.SummaryText())
}

func TestDeliver_ProviderRetryAfterDoesNotSetTheDelay(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		if calls == 1 {
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"requests","code":"rate_limit_exceeded"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"c","object":"chat.completion","model":"m","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	prov, err := llm.NewOpenAIProvider(llm.OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1", Model: "m"})
	require.NoError(t, err)
	sl := &sleepRecorder{}
	s, err := NewScheduler(prov, testPolicy(), nil, WithSleep(sl.sleep))
	require.NoError(t, err)

	res, err := s.Deliver(context.Background(), "req", "q", sanitizedContext(t, 12), countingRender)
	require.NoError(t, err)

	assert.Equal(t, StateSuccess, res.State)
	assert.Equal(t, "ok", res.Completion.Text)
	assert.Equal(t, []time.Duration{1250 * time.Millisecond}, sl.delays)
}

func TestDeliver_SoftCapBoundsFirstAttempt(t *testing.T) {
	prov := &scriptedProvider{}
	s, err := NewScheduler(prov, testPolicy(), nil)
	require.NoError(t, err)

	res, err := s.Deliver(context.Background(), "req", "q", sanitizedContext(t, 50), countingRender)
	require.NoError(t, err)
	assert.Equal(t, []int{20}, sizes(res.Attempts))
	assert.Equal(t, 20, res.Delivered.Len())
}

func TestDeliver_FatalStopsImmediately(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"classified fatal", llm.NewFatalError("insufficient credits", errors.New("402"))},
		{"unclassified", errors.New("tls handshake failure")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prov := &scriptedProvider{script: []error{tt.err}}
			sl := &sleepRecorder{}
			s, err := NewScheduler(prov, testPolicy(), nil, WithSleep(sl.sleep))
			require.NoError(t, err)

			res, err := s.Deliver(context.Background(), "req", "q", sanitizedContext(t, 10), countingRender)
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrFatalProvider)
			assert.Equal(t, StateFailed, res.State)
			require.Len(t, res.Attempts, 1)
			assert.Equal(t, types.OutcomeFatalError, res.Attempts[0].Outcome)
			assert.Empty(t, sl.delays)
		})
	}
}

func TestDeliver_CancelDuringBackoff(t *testing.T) {
	prov := &scriptedProvider{script: []error{rateLimited(), rateLimited()}}
	ctx, cancel := context.WithCancel(context.Background())
	cancelOnSleep := func(ctx context.Context, _ time.Duration) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}
	s, err := NewScheduler(prov, testPolicy(), nil, WithSleep(cancelOnSleep))
	require.NoError(t, err)

	res, err := s.Deliver(ctx, "req", "q", sanitizedContext(t, 20), countingRender)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, res.State)
	assert.Len(t, res.Attempts, 1, "no attempt after cancellation")
}

func TestDeliver_RealSleepHonoursDeadline(t *testing.T) {
	prov := &scriptedProvider{script: []error{rateLimited(), rateLimited()}}
	p := testPolicy()
	p.BaseDelay, p.Step, p.MaxDelay = time.Second, time.Second, 10*time.Second
	s, err := NewScheduler(prov, p, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = s.Deliver(ctx, "req", "q", sanitizedContext(t, 20), nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDeliver_RetryCeiling(t *testing.T) {
	script := make([]error, 10)
	for i := range script {
		script[i] = rateLimited()
	}
	prov := &scriptedProvider{script: script}
	sl := &sleepRecorder{}
	p := Policy{SoftCap: 64, MinLimit: 1, MaxRetries: 2, BaseDelay: time.Second, Step: 3 * time.Second, MaxDelay: 5 * time.Second}
	s, err := NewScheduler(prov, p, nil, WithSleep(sl.sleep))
	require.NoError(t, err)

	res, err := s.Deliver(context.Background(), "req", "q", sanitizedContext(t, 64), nil)
	require.NoError(t, err)
	assert.Equal(t, StateExhausted, res.State)
	assert.Equal(t, []int{64, 32, 16}, sizes(res.Attempts))
	assert.Equal(t, []time.Duration{4 * time.Second, 5 * time.Second}, sl.delays, "delay is capped")
	assert.LessOrEqual(t, res.Slept, time.Duration(p.MaxRetries)*p.MaxDelay)
}

func TestDeliver_BelowFloorExhaustsOnFirstRejection(t *testing.T) {
	prov := &scriptedProvider{script: []error{rateLimited()}}
	s, err := NewScheduler(prov, testPolicy(), nil, WithSleep((&sleepRecorder{}).sleep))
	require.NoError(t, err)

	res, err := s.Deliver(context.Background(), "req", "q", sanitizedContext(t, 3), nil)
	require.NoError(t, err)
	assert.Equal(t, StateExhausted, res.State)
	assert.Equal(t, []int{3}, sizes(res.Attempts))
}

func TestDeliver_ContextSizesNeverIncrease(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for round := 0; round < 300; round++ {
		script := make([]error, 12)
		for i := range script {
			if rng.Intn(4) != 0 {
				script[i] = rateLimited()
			}
		}
		minLimit := 1 + rng.Intn(6)
		p := Policy{
			SoftCap:    minLimit + rng.Intn(30),
			MinLimit:   minLimit,
			MaxRetries: rng.Intn(8),
			BaseDelay:  time.Millisecond,
			Step:       time.Millisecond,
			MaxDelay:   5 * time.Millisecond,
		}
		s, err := NewScheduler(&scriptedProvider{script: script}, p, nil, WithSleep((&sleepRecorder{}).sleep))
		require.NoError(t, err)

		res, err := s.Deliver(context.Background(), "req", "q", sanitizedContext(t, rng.Intn(40)), nil)
		require.NoError(t, err)
		for i := 0; i+1 < len(res.Attempts); i++ {
			assert.GreaterOrEqual(t, res.Attempts[i].ContextSize, res.Attempts[i+1].ContextSize)
		}
		assert.LessOrEqual(t, len(res.Attempts), p.MaxRetries+1)
		assert.LessOrEqual(t, res.Slept, time.Duration(p.MaxRetries)*p.MaxDelay)
	}
}

func TestPolicy(t *testing.T) {
	p := PolicyFromConfig(config.Default().Delivery)
	require.NoError(t, p.Validate())
	assert.Equal(t, 1250*time.Millisecond, p.Delay(1))
	assert.Equal(t, 5*time.Second, p.Delay(100))
	assert.Equal(t, 10, p.next(20))
	assert.Equal(t, 5, p.next(9))

	bad := []Policy{
		{SoftCap: 5, MinLimit: 0, MaxDelay: time.Second},
		{SoftCap: 2, MinLimit: 5, MaxDelay: time.Second},
		{SoftCap: 5, MinLimit: 1, MaxRetries: -1},
		{SoftCap: 5, MinLimit: 1, BaseDelay: 2 * time.Second, MaxDelay: time.Second},
	}
	for _, b := range bad {
		assert.Error(t, b.Validate())
	}

	_, err := NewScheduler(nil, p, nil)
	assert.Error(t, err)
}
