package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/carehome/bedengine/internal/platform/websocket"
)

// LogSink writes one structured log line per event.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{log: logger.With().Str("component", "audit").Logger()}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(_ context.Context, ev Event) error {
	e := s.log.Info().
		Str("event_id", ev.ID.String()).
		Str("entity_type", ev.EntityType).
		Str("entity_id", ev.EntityID).
		Str("action", ev.Action).
		Str("actor", ev.Actor).
		Time("at", ev.Timestamp)
	if len(ev.BeforeState) > 0 {
		e = e.RawJSON("before", ev.BeforeState)
	}
	if len(ev.AfterState) > 0 {
		e = e.RawJSON("after", ev.AfterState)
	}
	e.Msg("audit")
	return nil
}

// PGSink appends events to the audit_event table.
type PGSink struct {
	pool *pgxpool.Pool
}

func NewPGSink(pool *pgxpool.Pool) *PGSink {
	return &PGSink{pool: pool}
}

func (s *PGSink) Name() string { return "postgres" }

func (s *PGSink) Write(ctx context.Context, ev Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_event (id, entity_type, entity_id, action, before_state, after_state, actor, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		ev.ID, ev.EntityType, ev.EntityID, ev.Action,
		nullableJSON(ev.BeforeState), nullableJSON(ev.AfterState), ev.Actor, ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit_event: %w", err)
	}
	return nil
}

func nullableJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes each event as JSON keyed by entity id, so all events
// for one bed land on the same partition in commit order.
type KafkaSink struct {
	writer messageWriter
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Write(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.EntityType + "/" + ev.EntityID),
		Value: data,
		Time:  ev.Timestamp,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(ev.Action)},
		},
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// BroadcastSink mirrors bed events to the live board and workflow events to
// the workflow topic.
type BroadcastSink struct {
	hub *websocket.Hub
}

func NewBroadcastSink(hub *websocket.Hub) *BroadcastSink {
	return &BroadcastSink{hub: hub}
}

func (s *BroadcastSink) Name() string { return "websocket" }

func (s *BroadcastSink) Write(_ context.Context, ev Event) error {
	if ev.EntityType != "bed" {
		return s.hub.PublishJSON(websocket.TopicWorkflow, ev.Action, ev.EntityType, ev.EntityID, ev)
	}
	if err := s.hub.PublishJSON(websocket.TopicBeds, ev.Action, ev.EntityType, ev.EntityID, ev); err != nil {
		return err
	}
	if facility := facilityOf(ev); facility != "" {
		return s.hub.PublishJSON(websocket.FacilityTopic(facility), ev.Action, ev.EntityType, ev.EntityID, ev)
	}
	return nil
}

func facilityOf(ev Event) string {
	state := ev.AfterState
	if len(state) == 0 {
		state = ev.BeforeState
	}
	var b struct {
		FacilityID string `json:"facility_id"`
	}
	if len(state) == 0 || json.Unmarshal(state, &b) != nil {
		return ""
	}
	return b.FacilityID
}
