package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/carehome/bedengine/internal/platform/websocket"
)

type memorySink struct {
	mu     sync.Mutex
	name   string
	events []Event
	err    error
}

func (m *memorySink) Name() string { return m.name }

func (m *memorySink) Write(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return m.err
}

func (m *memorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

type bedState struct {
	ID         string `json:"id"`
	FacilityID string `json:"facility_id"`
	Status     string `json:"status"`
}

func TestNewEvent_SnapshotsState(t *testing.T) {
	before := &bedState{ID: "B1", Status: "available"}
	after := &bedState{ID: "B1", Status: "occupied"}
	ev := NewEvent("bed", "B1", "bed.assign", "nurse-1", before, after, time.Now())

	after.Status = "cleaning"

	var got bedState
	if err := json.Unmarshal(ev.AfterState, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Status != "occupied" {
		t.Errorf("expected snapshot to keep occupied, got %s", got.Status)
	}
	if ev.ID.String() == "" || ev.Actor != "nurse-1" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestNewEvent_NilStates(t *testing.T) {
	var missing *bedState
	ev := NewEvent("bed", "B1", "bed.provision", "system", nil, missing, time.Now())
	if ev.BeforeState != nil || ev.AfterState != nil {
		t.Errorf("expected nil snapshots, got %s / %s", ev.BeforeState, ev.AfterState)
	}
}

func TestDispatcher_WritesToEverySink(t *testing.T) {
	a := &memorySink{name: "a"}
	b := &memorySink{name: "b", err: errors.New("down")}
	c := &memorySink{name: "c"}
	d := NewDispatcher(zerolog.Nop(), a, b, c)

	d.Record(NewEvent("bed", "B1", "bed.discharge", "nurse-1", nil, nil, time.Now()))
	d.Record(NewEvent("bed", "B2", "bed.assign", "nurse-1", nil, nil, time.Now()))
	d.Close()

	for _, s := range []*memorySink{a, b, c} {
		if got := len(s.Events()); got != 2 {
			t.Errorf("sink %s: expected 2 events, got %d", s.name, got)
		}
	}
	if a.Events()[0].EntityID != "B1" {
		t.Error("expected events in record order")
	}
}

func TestDispatcher_FullQueueDoesNotBlock(t *testing.T) {
	block := make(chan struct{})
	slow := &blockingSink{release: block}
	d := newDispatcher(zerolog.Nop(), 1, slow)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			d.Record(Event{EntityID: "B1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a full queue")
	}
	close(block)
	d.Close()
}

type blockingSink struct {
	release chan struct{}
}

func (b *blockingSink) Name() string { return "blocking" }

func (b *blockingSink) Write(context.Context, Event) error {
	<-b.release
	return nil
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(zerolog.New(&buf))

	ev := NewEvent("bed", "B3", "bed.discharge", "nurse-2",
		&bedState{ID: "B3", Status: "occupied"}, &bedState{ID: "B3", Status: "cleaning"}, time.Now())
	if err := sink.Write(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	if line["entity_id"] != "B3" || line["action"] != "bed.discharge" || line["actor"] != "nurse-2" {
		t.Errorf("unexpected log fields: %v", line)
	}
	after, ok := line["after"].(map[string]any)
	if !ok || after["status"] != "cleaning" {
		t.Errorf("expected embedded after state, got %v", line["after"])
	}
}

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaSink_Write(t *testing.T) {
	w := &fakeWriter{}
	sink := &KafkaSink{writer: w}

	ev := NewEvent("transfer_request", "5b0e", "transfer.execute", "nurse-1", nil, map[string]string{"status": "completed"}, time.Now())
	if err := sink.Write(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "transfer_request/5b0e" {
		t.Errorf("unexpected key %q", msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != "transfer.execute" {
		t.Errorf("expected action header, got %v", msg.Headers)
	}
	var decoded Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != ev.ID {
		t.Error("expected event id round trip")
	}

	if err := sink.Close(); err != nil || !w.closed {
		t.Error("expected writer closed")
	}
}

func TestNewKafkaSink_Config(t *testing.T) {
	sink := NewKafkaSink([]string{"kafka-1:9092", "kafka-2:9092"}, "bedengine.audit")
	w, ok := sink.writer.(*kafka.Writer)
	if !ok {
		t.Fatalf("expected *kafka.Writer, got %T", sink.writer)
	}
	if w.Topic != "bedengine.audit" {
		t.Errorf("expected topic bedengine.audit, got %s", w.Topic)
	}
	if !strings.Contains(w.Addr.String(), "kafka-1:9092") {
		t.Errorf("expected broker address, got %s", w.Addr.String())
	}
}

func TestBroadcastSink_RoutesByEntity(t *testing.T) {
	hub := websocket.NewHub(zerolog.Nop())
	board := &websocket.Client{ID: "board", Topics: []string{websocket.TopicBeds}, Send: make(chan []byte, 4)}
	north := &websocket.Client{ID: "north", Topics: []string{websocket.FacilityTopic("north")}, Send: make(chan []byte, 4)}
	flow := &websocket.Client{ID: "flow", Topics: []string{websocket.TopicWorkflow}, Send: make(chan []byte, 4)}
	hub.Register(board)
	hub.Register(north)
	hub.Register(flow)

	sink := NewBroadcastSink(hub)
	bedEv := NewEvent("bed", "B1", "bed.assign", "n", nil, &bedState{ID: "B1", FacilityID: "north", Status: "occupied"}, time.Now())
	if err := sink.Write(context.Background(), bedEv); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wlEv := NewEvent("waitlist_entry", "e1", "waitlist.place", "n", nil, nil, time.Now())
	if err := sink.Write(context.Background(), wlEv); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(board.Send) != 1 {
		t.Errorf("expected 1 bed event on board, got %d", len(board.Send))
	}
	if len(north.Send) != 1 {
		t.Errorf("expected 1 bed event on facility topic, got %d", len(north.Send))
	}
	if len(flow.Send) != 1 {
		t.Errorf("expected 1 workflow event, got %d", len(flow.Send))
	}
}
