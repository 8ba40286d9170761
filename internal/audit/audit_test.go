package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/fusionrag/internal/logging"
)

type memorySink struct {
	mu      sync.Mutex
	events  []Event
	block   chan struct{}
	failErr error
	closed  bool
}

func (m *memorySink) Write(_ context.Context, ev Event) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return m.failErr
}

func (m *memorySink) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *memorySink) snapshot() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

func TestDigest_IsStableAcrossFieldOrder(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	a := Event{ID: "e1", Type: EventSanitizeBatch, Timestamp: ts, Fields: map[string]any{"records": 3, "fields": []string{"title"}}}
	b := Event{ID: "e1", Type: EventSanitizeBatch, Timestamp: ts, Fields: map[string]any{"fields": []string{"title"}, "records": 3}}

	da, err := Digest(a)
	require.NoError(t, err)
	db, err := Digest(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)
	assert.Len(t, da, 64)

	b.Fields["records"] = 4
	dc, err := Digest(b)
	require.NoError(t, err)
	assert.NotEqual(t, da, dc)
}

func TestNewEvent_CopiesFields(t *testing.T) {
	fields := map[string]any{"k": "v"}
	ev, err := NewEvent("x", fields, time.Now())
	require.NoError(t, err)
	fields["k"] = "changed"
	assert.Equal(t, "v", ev.Fields["k"])
	assert.NotEmpty(t, ev.ID)
	assert.NotEmpty(t, ev.Digest)
}

func TestAsyncEmitter_DeliversToAllSinks(t *testing.T) {
	s1, s2 := &memorySink{}, &memorySink{}
	em := NewAsyncEmitter(16, logging.NewNop(), s1, s2)

	for i := 0; i < 5; i++ {
		em.Emit(EventRetrieval, map[string]any{"n": i})
	}
	require.NoError(t, em.Close(context.Background()))

	assert.Len(t, s1.snapshot(), 5)
	assert.Len(t, s2.snapshot(), 5)
	assert.True(t, s1.closed)
	assert.Equal(t, int64(5), em.Written())
	assert.Zero(t, em.Dropped())
}

func TestAsyncEmitter_FullBufferDropsWithoutBlocking(t *testing.T) {
	release := make(chan struct{})
	sink := &memorySink{block: release}
	em := NewAsyncEmitter(1, logging.NewNop(), sink)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			em.Emit(EventDelivery, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a full buffer")
	}
	assert.Positive(t, em.Dropped())

	close(release)
	require.NoError(t, em.Close(context.Background()))
}

func TestAsyncEmitter_SinkErrorIsNotPropagated(t *testing.T) {
	sink := &memorySink{failErr: errors.New("disk full")}
	em := NewAsyncEmitter(4, logging.NewNop(), sink)
	em.Emit(EventIngest, map[string]any{"documents": 1})
	require.NoError(t, em.Close(context.Background()))
	assert.Len(t, sink.snapshot(), 1)
}

func TestAsyncEmitter_EmitAfterCloseIsDropped(t *testing.T) {
	em := NewAsyncEmitter(4, logging.NewNop())
	require.NoError(t, em.Close(context.Background()))
	require.NoError(t, em.Close(context.Background()))

	assert.NotPanics(t, func() { em.Emit(EventRetrieval, nil) })
	assert.Equal(t, int64(1), em.Dropped())
}

type fakeConn struct {
	subjects []string
	payloads [][]byte
	drained  bool
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	f.subjects = append(f.subjects, subj)
	f.payloads = append(f.payloads, data)
	return nil
}

func (f *fakeConn) Drain() error {
	f.drained = true
	return nil
}

func TestNATSSink_PublishesPerEventType(t *testing.T) {
	conn := &fakeConn{}
	sink := newNATSSink(conn, "fusionrag.audit")

	ev, err := NewEvent(EventWebSearch, map[string]any{"from_cache": true}, time.Now())
	require.NoError(t, err)
	require.NoError(t, sink.Write(context.Background(), ev))
	require.NoError(t, sink.Close())

	require.Len(t, conn.subjects, 1)
	assert.Equal(t, "fusionrag.audit.websearch.query", conn.subjects[0])
	assert.True(t, conn.drained)

	var decoded Event
	require.NoError(t, json.Unmarshal(conn.payloads[0], &decoded))
	assert.Equal(t, ev.ID, decoded.ID)
	assert.Equal(t, ev.Digest, decoded.Digest)
}

func TestRecorder_OfType(t *testing.T) {
	r := &Recorder{}
	r.Emit(EventSanitizeBatch, nil)
	r.Emit(EventRetrieval, nil)
	r.Emit(EventSanitizeBatch, nil)

	assert.Len(t, r.Events(), 3)
	assert.Len(t, r.OfType(EventSanitizeBatch), 2)
}

func TestRecorder_EmitIsSynchronous(t *testing.T) {
	r := &Recorder{}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Emit(EventRetrieval, map[string]any{"n": 1})
		}()
	}
	wg.Wait()

	// no flush step: events are visible as soon as Emit returns
	events := r.OfType(EventRetrieval)
	require.Len(t, events, 20)
	assert.NotEmpty(t, events[0].Digest)
}
