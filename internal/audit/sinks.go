package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/dshills/fusionrag/internal/logging"
)

// LogSink writes events to the structured logger
type LogSink struct {
	log *logging.Logger
}

// NewLogSink creates a sink backed by log
func NewLogSink(log *logging.Logger) *LogSink {
	return &LogSink{log: log.With("sink", "log")}
}

func (s *LogSink) Write(_ context.Context, ev Event) error {
	s.log.Info("audit", "event_id", ev.ID, "type", ev.Type, "digest", ev.Digest, "fields", ev.Fields)
	return nil
}

func (s *LogSink) Close() error { return nil }

// publisher is the subset of *nats.Conn used by NATSSink
type publisher interface {
	Publish(subj string, data []byte) error
	Drain() error
}

// NATSSink publishes events as JSON to a NATS subject for the external
// compliance collector. The event type is appended to the subject.
type NATSSink struct {
	conn    publisher
	subject string
}

// DialNATSSink connects to url and returns a sink publishing under subject
func DialNATSSink(url, subject string) (*NATSSink, error) {
	conn, err := nats.Connect(url, nats.Name("fusionrag-audit"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSSink{conn: conn, subject: subject}, nil
}

func newNATSSink(conn publisher, subject string) *NATSSink {
	return &NATSSink{conn: conn, subject: subject}
}

func (s *NATSSink) Write(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return s.conn.Publish(s.subject+"."+ev.Type, data)
}

// Close drains pending publishes and closes the connection
func (s *NATSSink) Close() error {
	return s.conn.Drain()
}
