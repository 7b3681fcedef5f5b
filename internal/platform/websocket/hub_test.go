package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newTestClient(id string, topics ...string) *Client {
	return &Client{ID: id, Topics: topics, Send: make(chan []byte, sendBuffer)}
}

func TestHub_RegisterClient(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	hub.Register(newTestClient("c1", TopicBeds))

	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.TopicCount(TopicBeds) != 1 {
		t.Fatalf("expected 1 client on beds, got %d", hub.TopicCount(TopicBeds))
	}
}

func TestHub_UnregisterClosesChannel(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newTestClient("c1", TopicBeds)
	hub.Register(client)
	hub.Unregister(client)

	if hub.ClientCount() != 0 || hub.TopicCount(TopicBeds) != 0 {
		t.Fatal("expected client removed from hub and topics")
	}
	if _, ok := <-client.Send; ok {
		t.Fatal("expected Send channel closed")
	}
	// second unregister is a no-op
	hub.Unregister(client)
}

func TestHub_BroadcastToTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	board := newTestClient("board", TopicBeds)
	other := newTestClient("other", TopicNotices)
	hub.Register(board)
	hub.Register(other)

	hub.Broadcast(TopicBeds, Event{Type: "bed.transition", Topic: TopicBeds, EntityType: "bed", EntityID: "B1"})

	select {
	case data := <-board.Send:
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if ev.EntityID != "B1" {
			t.Errorf("expected B1, got %s", ev.EntityID)
		}
	default:
		t.Fatal("expected board client to receive the event")
	}

	select {
	case <-other.Send:
		t.Fatal("notices subscriber must not receive bed events")
	default:
	}
}

func TestHub_BroadcastSkipsFullClient(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	slow := &Client{ID: "slow", Topics: []string{TopicBeds}, Send: make(chan []byte, 1)}
	hub.Register(slow)

	hub.Broadcast(TopicBeds, Event{Type: "a"})
	hub.Broadcast(TopicBeds, Event{Type: "b"})

	if len(slow.Send) != 1 {
		t.Fatalf("expected buffered event count 1, got %d", len(slow.Send))
	}
}

func TestHub_PublishJSON(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newTestClient("c1", FacilityTopic("north"))
	hub.Register(client)

	payload := map[string]string{"from": "available", "to": "occupied"}
	if err := hub.PublishJSON(FacilityTopic("north"), "bed.transition", "bed", "B7", payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var ev Event
	if err := json.Unmarshal(<-client.Send, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Topic != "beds/north" || ev.Type != "bed.transition" {
		t.Errorf("unexpected event envelope: %+v", ev)
	}
	var got map[string]string
	if err := json.Unmarshal(ev.Data, &got); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if got["to"] != "occupied" {
		t.Errorf("expected to=occupied, got %v", got)
	}
}

func TestHub_SubscribeUnsubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newTestClient("c1")
	hub.Register(client)

	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Topics: []string{TopicBeds, TopicNotices, TopicBeds}})
	if hub.TopicCount(TopicBeds) != 1 || hub.TopicCount(TopicNotices) != 1 {
		t.Fatal("expected subscriptions on both topics")
	}
	if len(client.Topics) != 2 {
		t.Fatalf("expected 2 topics without duplicates, got %v", client.Topics)
	}

	hub.ProcessMessage(client, ClientMessage{Action: "unsubscribe", Topics: []string{TopicBeds}})
	if hub.TopicCount(TopicBeds) != 0 {
		t.Fatal("expected beds subscription removed")
	}
	if len(client.Topics) != 1 || client.Topics[0] != TopicNotices {
		t.Fatalf("expected [notices], got %v", client.Topics)
	}
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newTestClient("c", TopicBeds)
			hub.Register(c)
			hub.Broadcast(TopicBeds, Event{Type: "x"})
			hub.Unregister(c)
		}()
	}
	wg.Wait()
	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	e := echo.New()
	NewHandler(NewHub(zerolog.Nop()), []string{"*"}).RegisterRoutes(e.Group(""))

	for _, r := range e.Routes() {
		if r.Path == "/ws/beds" && r.Method == http.MethodGet {
			return
		}
	}
	t.Fatal("expected GET /ws/beds route to be registered")
}

func TestHandler_RejectsPlainHTTP(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws/beds", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := NewHandler(NewHub(zerolog.Nop()), nil).HandleConnect(c)
	if err == nil && rec.Code == http.StatusSwitchingProtocols {
		t.Fatal("expected upgrade to fail for non-websocket request")
	}
}

func TestHandler_FullUpgrade(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	e := echo.New()
	NewHandler(hub, []string{"http://localhost:3000"}).RegisterRoutes(e.Group(""))

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/beds?topics=beds/north"
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.TopicCount("beds/north") == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.TopicCount("beds/north") != 1 {
		t.Fatal("expected client subscribed to beds/north from the query string")
	}

	if err := hub.PublishJSON("beds/north", "bed.transition", "bed", "B1", map[string]string{"to": "cleaning"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received Event
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if received.EntityID != "B1" {
		t.Fatalf("expected B1, got %s", received.EntityID)
	}
}

func TestHandler_RejectsForeignOrigin(t *testing.T) {
	e := echo.New()
	NewHandler(NewHub(zerolog.Nop()), []string{"http://localhost:3000"}).RegisterRoutes(e.Group(""))
	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/beds"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	if _, _, err := gorillawebsocket.DefaultDialer.Dial(wsURL, header); err == nil {
		t.Fatal("expected dial from a foreign origin to fail")
	}
}

func TestHub_SubscribeTwiceKeepsOneEntry(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newTestClient("c1", TopicBeds)
	hub.Register(client)

	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Topics: []string{TopicBeds, TopicWorkflow, TopicWorkflow}})
	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Topics: []string{TopicWorkflow}})

	if len(client.Topics) != 2 {
		t.Fatalf("expected [beds workflow], got %v", client.Topics)
	}
	hub.ProcessMessage(client, ClientMessage{Action: "unsubscribe", Topics: []string{TopicWorkflow}})
	if hub.TopicCount(TopicWorkflow) != 0 {
		t.Error("expected workflow subscription removed")
	}
	if len(client.Topics) != 1 || client.Topics[0] != TopicBeds {
		t.Errorf("expected [beds], got %v", client.Topics)
	}
}
