package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/dshills/fusionrag/internal/logging"
)

// Event types
const (
	EventSanitizeBatch    = "sanitize.batch"
	EventPrivacyViolation = "sanitize.violation"
	EventConsentDenied    = "consent.denied"
	EventWebSearch        = "websearch.query"
	EventDelivery         = "delivery.complete"
	EventRetrieval        = "retrieval.complete"
	EventIngest           = "ingest.complete"
)

// Event is a single audit record
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Fields    map[string]any `json:"fields"`
	Digest    string         `json:"digest"`
}

// Emitter accepts audit events. Emit must never block or fail the caller.
type Emitter interface {
	Emit(eventType string, fields map[string]any)
}

// Sink persists events
type Sink interface {
	Write(ctx context.Context, ev Event) error
	Close() error
}

// NewEvent builds an event and computes its digest
func NewEvent(eventType string, fields map[string]any, now time.Time) (Event, error) {
	ev := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: now.UTC(),
		Fields:    copyFields(fields),
	}
	digest, err := Digest(ev)
	if err != nil {
		return ev, err
	}
	ev.Digest = digest
	return ev, nil
}

// Digest returns the sha256 hex digest of the canonical JSON form of ev,
// excluding the digest field itself.
func Digest(ev Event) (string, error) {
	raw, err := json.Marshal(struct {
		ID        string         `json:"id"`
		Type      string         `json:"type"`
		Timestamp time.Time      `json:"timestamp"`
		Fields    map[string]any `json:"fields"`
	}{ev.ID, ev.Type, ev.Timestamp, ev.Fields})
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize event: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// AsyncEmitter queues events and writes them to sinks from one goroutine
type AsyncEmitter struct {
	log   *logging.Logger
	sinks []Sink
	now   func() time.Time

	mu      sync.RWMutex
	closed  bool
	queue   chan Event
	done    chan struct{}
	dropped atomic.Int64
	written atomic.Int64
}

// NewAsyncEmitter starts an emitter with the given buffer size
func NewAsyncEmitter(bufferSize int, log *logging.Logger, sinks ...Sink) *AsyncEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if log == nil {
		log = logging.NewNop()
	}
	e := &AsyncEmitter{
		log:   log.With("component", "audit"),
		sinks: sinks,
		now:   time.Now,
		queue: make(chan Event, bufferSize),
		done:  make(chan struct{}),
	}
	go e.run()
	return e
}

// Emit queues an event. It returns immediately; a full buffer drops the event.
func (e *AsyncEmitter) Emit(eventType string, fields map[string]any) {
	ev, err := NewEvent(eventType, fields, e.now())
	if err != nil {
		e.log.Warn("audit event digest failed", "type", eventType, "error", err)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.dropped.Add(1)
		return
	}
	select {
	case e.queue <- ev:
	default:
		e.dropped.Add(1)
		e.log.Warn("audit buffer full, event dropped", "type", eventType)
	}
}

func (e *AsyncEmitter) run() {
	defer close(e.done)
	for ev := range e.queue {
		for _, s := range e.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.Write(ctx, ev); err != nil {
				e.log.Warn("audit sink write failed", "type", ev.Type, "event_id", ev.ID, "error", err)
			}
			cancel()
		}
		e.written.Add(1)
	}
}

// Close stops accepting events, drains the queue and closes every sink
func (e *AsyncEmitter) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	select {
	case <-e.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	for _, s := range e.sinks {
		if err := s.Close(); err != nil {
			e.log.Warn("audit sink close failed", "error", err)
		}
	}
	return nil
}

// Dropped returns how many events were discarded
func (e *AsyncEmitter) Dropped() int64 { return e.dropped.Load() }

// Written returns how many events were handed to the sinks
func (e *AsyncEmitter) Written() int64 { return e.written.Load() }

// Nop discards every event
type Nop struct{}

func (Nop) Emit(string, map[string]any) {}

// Recorder keeps events in memory. It is synchronous and meant for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Emitter
func (r *Recorder) Emit(eventType string, fields map[string]any) {
	ev, _ := NewEvent(eventType, fields, time.Now())
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns recorded events of one type
func (r *Recorder) OfType(eventType string) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}
