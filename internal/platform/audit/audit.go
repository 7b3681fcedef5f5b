// Package audit records an immutable trail of committed state changes.
// Events are handed to a Dispatcher after commit and written to every sink
// asynchronously; a slow or failing sink never blocks the engine.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carehome/bedengine/internal/platform/metrics"
)

// Event is one committed change. Before and After are JSON snapshots taken
// when the event is built, so later mutation of the source records cannot
// alter it.
type Event struct {
	ID          uuid.UUID       `json:"id"`
	EntityType  string          `json:"entity_type"`
	EntityID    string          `json:"entity_id"`
	Action      string          `json:"action"`
	BeforeState json.RawMessage `json:"before_state,omitempty"`
	AfterState  json.RawMessage `json:"after_state,omitempty"`
	Actor       string          `json:"actor"`
	Timestamp   time.Time       `json:"timestamp"`
}

// NewEvent snapshots before and after. A nil state is omitted.
func NewEvent(entityType, entityID, action, actor string, before, after any, at time.Time) Event {
	return Event{
		ID:          uuid.New(),
		EntityType:  entityType,
		EntityID:    entityID,
		Action:      action,
		BeforeState: snapshot(before),
		AfterState:  snapshot(after),
		Actor:       actor,
		Timestamp:   at.UTC(),
	}
}

func snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return nil
	}
	return data
}

// Recorder accepts events without blocking.
type Recorder interface {
	Record(ev Event)
}

// Sink persists or forwards events.
type Sink interface {
	Name() string
	Write(ctx context.Context, ev Event) error
}

const (
	defaultQueueSize = 1024
	writeTimeout     = 5 * time.Second
)

type Dispatcher struct {
	sinks   []Sink
	queue   chan Event
	log     zerolog.Logger
	metrics *metrics.Metrics
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(logger zerolog.Logger, sinks ...Sink) *Dispatcher {
	return newDispatcher(logger, defaultQueueSize, sinks...)
}

func newDispatcher(logger zerolog.Logger, size int, sinks ...Sink) *Dispatcher {
	d := &Dispatcher{
		sinks: sinks,
		queue: make(chan Event, size),
		log:   logger.With().Str("component", "audit").Logger(),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) SetMetrics(m *metrics.Metrics) {
	d.metrics = m
}

// Record enqueues ev. A full queue drops the event with an error log.
func (d *Dispatcher) Record(ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warn().Str("entity_id", ev.EntityID).Str("action", ev.Action).Msg("audit event after shutdown dropped")
		return
	}
	select {
	case d.queue <- ev:
	default:
		d.metrics.Dropped("audit")
		d.log.Error().
			Str("entity_type", ev.EntityType).
			Str("entity_id", ev.EntityID).
			Str("action", ev.Action).
			Msg("audit queue full, event dropped")
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.queue {
		for _, s := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			if err := s.Write(ctx, ev); err != nil {
				d.log.Warn().Err(err).
					Str("sink", s.Name()).
					Str("entity_id", ev.EntityID).
					Str("action", ev.Action).
					Msg("audit sink write failed")
			}
			cancel()
		}
	}
}

// Close drains queued events and stops the worker.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.done
}
