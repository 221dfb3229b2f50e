// Package export forwards counted reps and completed workouts to message
// brokers. Sink failures are logged and counted, never fatal.
package export

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/meltforce/pushreps/internal/detect"
	"github.com/meltforce/pushreps/internal/events"
	"github.com/meltforce/pushreps/internal/metrics"
	"github.com/meltforce/pushreps/internal/session"
)

const publishTimeout = 5 * time.Second

// Message kinds.
const (
	KindRep     = "rep"
	KindSession = "session"
)

// Message is one record handed to every sink. Key is the session id, which
// keeps a session's records on one Kafka partition.
type Message struct {
	Kind    string
	Key     string
	Payload []byte
}

// Sink publishes messages to one broker.
type Sink interface {
	Name() string
	Publish(ctx context.Context, m Message) error
	Close() error
}

// RepRecord is the payload of a rep message.
type RepRecord struct {
	SessionID  string    `json:"session_id"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence"`
	Applied    bool      `json:"applied"`
	Count      int       `json:"count"`
}

// SessionRecord is the payload of a session message.
type SessionRecord struct {
	Event   string          `json:"event"`
	Session session.Session `json:"session"`
}

// Forwarder turns detection events and session changes into messages.
type Forwarder struct {
	sinks   []Sink
	metrics *metrics.Manager
	log     *slog.Logger
}

// NewForwarder returns a Forwarder publishing to sinks. m may be nil.
func NewForwarder(log *slog.Logger, m *metrics.Manager, sinks ...Sink) *Forwarder {
	return &Forwarder{sinks: sinks, metrics: m, log: log}
}

// Run forwards until ctx is done or both subscriptions are closed.
func (f *Forwarder) Run(ctx context.Context, detections *events.Subscription[detect.DetectionEvent], changes *events.Subscription[session.Change]) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		detections.Each(ctx, func(ev detect.DetectionEvent) { f.handleDetection(ctx, ev) })
	}()
	go func() {
		defer wg.Done()
		changes.Each(ctx, func(c session.Change) { f.handleChange(ctx, c) })
	}()
	wg.Wait()
}

func (f *Forwarder) handleDetection(ctx context.Context, ev detect.DetectionEvent) {
	if !ev.CountIncremented {
		return
	}
	f.send(ctx, KindRep, ev.SessionID, RepRecord{
		SessionID:  ev.SessionID,
		Timestamp:  ev.Timestamp,
		Confidence: ev.Confidence,
		Applied:    ev.Applied,
		Count:      ev.Count,
	})
}

func (f *Forwarder) handleChange(ctx context.Context, c session.Change) {
	if c.Type != session.ChangeEnded {
		return
	}
	f.send(ctx, KindSession, c.Session.ID, SessionRecord{Event: "completed", Session: c.Session})
}

func (f *Forwarder) send(ctx context.Context, kind, key string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		f.log.Error("encoding export message", "kind", kind, "error", err)
		return
	}
	m := Message{Kind: kind, Key: key, Payload: payload}

	for _, s := range f.sinks {
		pctx, cancel := context.WithTimeout(ctx, publishTimeout)
		err := s.Publish(pctx, m)
		cancel()

		result := "ok"
		if err != nil {
			result = "error"
			f.log.Warn("export failed", "sink", s.Name(), "kind", kind, "session_id", key, "error", err)
		}
		if f.metrics != nil {
			f.metrics.CounterExported.WithLabelValues(s.Name(), result).Inc()
		}
	}
}

// Close closes every sink.
func (f *Forwarder) Close() {
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			f.log.Warn("closing export sink", "sink", s.Name(), "error", err)
		}
	}
}
