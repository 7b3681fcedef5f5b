// Package notification delivers structured notices (transfer requested,
// maintenance due/overdue, waitlist matched) to staff-facing channels.
// Delivery is asynchronous and never blocks the caller.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carehome/bedengine/internal/platform/metrics"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

type Kind string

const (
	KindTransferRequested  Kind = "transfer.requested"
	KindMaintenanceDue     Kind = "maintenance.due"
	KindMaintenanceOverdue Kind = "maintenance.overdue"
	KindWaitlistMatched    Kind = "waitlist.matched"
)

// Notice is one structured notification.
type Notice struct {
	ID         uuid.UUID  `json:"id"`
	Kind       Kind       `json:"kind"`
	Priority   Priority   `json:"priority"`
	BedID      string     `json:"bed_id,omitempty"`
	ResidentID string     `json:"resident_id,omitempty"`
	TransferID *uuid.UUID `json:"transfer_id,omitempty"`
	EntryID    *uuid.UUID `json:"entry_id,omitempty"`
	Message    string     `json:"message"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Notifier accepts notices without blocking.
type Notifier interface {
	Notify(n Notice)
}

// Sender delivers a notice over one channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, n Notice) error
}

// Delivery is a notice with its outcome, kept for GET /notifications.
type Delivery struct {
	Notice
	Status string   `json:"status"`
	Errors []string `json:"errors,omitempty"`
}

const (
	defaultQueueSize   = 512
	defaultHistorySize = 200
	sendTimeout        = 5 * time.Second
)

// Manager queues notices and fans them out to every sender on a single
// background worker.
type Manager struct {
	senders []Sender
	queue   chan Notice
	log     zerolog.Logger
	metrics *metrics.Metrics
	done    chan struct{}

	mu      sync.RWMutex
	closed  bool
	history []Delivery
	limit   int
}

func NewManager(logger zerolog.Logger, senders ...Sender) *Manager {
	return newManager(logger, defaultQueueSize, senders...)
}

func newManager(logger zerolog.Logger, queueSize int, senders ...Sender) *Manager {
	m := &Manager{
		senders: senders,
		queue:   make(chan Notice, queueSize),
		log:     logger.With().Str("component", "notification").Logger(),
		done:    make(chan struct{}),
		limit:   defaultHistorySize,
	}
	go m.run()
	return m
}

func (m *Manager) SetMetrics(mt *metrics.Metrics) {
	m.metrics = mt
}

// Notify stamps and enqueues n. When the queue is full the notice is dropped
// and logged.
func (m *Manager) Notify(n Notice) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		m.log.Warn().Str("kind", string(n.Kind)).Msg("notice after shutdown dropped")
		return
	}
	select {
	case m.queue <- n:
	default:
		m.metrics.Dropped("notice")
		m.log.Error().Str("kind", string(n.Kind)).Str("bed_id", n.BedID).Msg("notification queue full, notice dropped")
	}
}

func (m *Manager) run() {
	defer close(m.done)
	for n := range m.queue {
		m.deliver(n)
	}
}

func (m *Manager) deliver(n Notice) {
	d := Delivery{Notice: n, Status: "sent"}
	for _, s := range m.senders {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		err := s.Send(ctx, n)
		cancel()
		if err != nil {
			d.Status = "failed"
			d.Errors = append(d.Errors, s.Name()+": "+err.Error())
			m.log.Warn().Err(err).Str("sender", s.Name()).Str("kind", string(n.Kind)).Msg("notice delivery failed")
		}
	}

	m.mu.Lock()
	m.history = append(m.history, d)
	if over := len(m.history) - m.limit; over > 0 {
		m.history = append(m.history[:0:0], m.history[over:]...)
	}
	m.mu.Unlock()
}

// Recent returns up to limit deliveries, newest first.
func (m *Manager) Recent(limit int) []Delivery {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.history) {
		limit = len(m.history)
	}
	out := make([]Delivery, 0, limit)
	for i := len(m.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.history[i])
	}
	return out
}

// Close stops accepting notices and waits until queued ones are delivered.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()
	<-m.done
}
