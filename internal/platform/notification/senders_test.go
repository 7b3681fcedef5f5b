package notification

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carehome/bedengine/internal/platform/websocket"
)

func TestRedisStreamSender_Send(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	sender := NewRedisStreamSender(client, "bedengine:notices")
	transferID := uuid.New()
	n := Notice{
		ID:         uuid.New(),
		Kind:       KindTransferRequested,
		Priority:   PriorityHigh,
		BedID:      "B4",
		TransferID: &transferID,
		Message:    "transfer requested",
		CreatedAt:  time.Now().UTC(),
	}
	if err := sender.Send(context.Background(), n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msgs, err := client.XRange(context.Background(), "bedengine:notices", "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 stream entry, got %d", len(msgs))
	}
	if msgs[0].Values["kind"] != string(KindTransferRequested) {
		t.Errorf("expected kind field, got %v", msgs[0].Values["kind"])
	}

	var decoded Notice
	if err := json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &decoded); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if decoded.TransferID == nil || *decoded.TransferID != transferID {
		t.Errorf("expected transfer id %s, got %v", transferID, decoded.TransferID)
	}
}

func TestRedisStreamSender_ServerDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	err := NewRedisStreamSender(client, "s").Send(context.Background(), Notice{Kind: KindMaintenanceDue})
	if err == nil {
		t.Fatal("expected error when redis is unavailable")
	}
}

func TestHubSender_Send(t *testing.T) {
	hub := websocket.NewHub(zerolog.Nop())
	client := &websocket.Client{ID: "c", Topics: []string{websocket.TopicNotices}, Send: make(chan []byte, 4)}
	hub.Register(client)

	n := Notice{ID: uuid.New(), Kind: KindWaitlistMatched, BedID: "B1"}
	if err := NewHubSender(hub).Send(context.Background(), n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var ev websocket.Event
	if err := json.Unmarshal(<-client.Send, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Type != string(KindWaitlistMatched) || ev.EntityID != n.ID.String() {
		t.Errorf("unexpected event: %+v", ev)
	}
}
