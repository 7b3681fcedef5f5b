package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/carehome/bedengine/internal/platform/websocket"
)

// RedisStreamSender appends each notice to a Redis stream for downstream
// consumers (pager gateway, nurse-station displays).
type RedisStreamSender struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisStreamSender(client *redis.Client, stream string) *RedisStreamSender {
	return &RedisStreamSender{client: client, stream: stream, maxLen: 10000}
}

func (s *RedisStreamSender) Name() string { return "redis" }

func (s *RedisStreamSender) Send(ctx context.Context, n Notice) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"kind":     string(n.Kind),
			"priority": string(n.Priority),
			"bed_id":   n.BedID,
			"data":     string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

// HubSender pushes notices to websocket subscribers of the notices topic.
type HubSender struct {
	hub *websocket.Hub
}

func NewHubSender(hub *websocket.Hub) *HubSender {
	return &HubSender{hub: hub}
}

func (s *HubSender) Name() string { return "websocket" }

func (s *HubSender) Send(_ context.Context, n Notice) error {
	return s.hub.PublishJSON(websocket.TopicNotices, string(n.Kind), "notice", n.ID.String(), n)
}
