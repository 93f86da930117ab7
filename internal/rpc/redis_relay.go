package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	roomChannelPrefix = "rcc:room:"
	publishTimeout    = 5 * time.Second
)

// RedisRelay mirrors room-scoped notifications onto Redis pub/sub so a
// second process (e.g. another signaling instance) can observe events like
// room-closed without sharing memory with the
// signaling process, the same horizontal-scaling pattern used for fanning
// out websocket broadcasts across multiple server instances, repurposed
// here for cross-process event-bus fan-out instead of client broadcast.
type RedisRelay struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisRelay(client *redis.Client, log *zap.Logger) *RedisRelay {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisRelay{client: client, log: log}
}

type relayedEvent struct {
	Kind     EventKind       `json:"kind"`
	WorkerID uint64          `json:"worker_id"`
	TargetID uint64          `json:"target_id"`
	Data     json.RawMessage `json:"data"`
}

// Publish sends n to the room's Redis channel. roomCID identifies the room
// so subscribers don't need the in-process numeric id.
func (r *RedisRelay) Publish(roomCID string, n Notification) {
	body, err := json.Marshal(relayedEvent{Kind: n.Kind, WorkerID: n.WorkerID, TargetID: n.TargetID, Data: n.Data})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := r.client.Publish(ctx, roomChannelPrefix+roomCID, body).Err(); err != nil {
		r.log.Warn("redis relay publish failed", zap.Error(err), zap.String("room_cid", roomCID))
	}
}

// Subscribe listens for relayed events on a room's channel until ctx is
// cancelled. Returned events are already decoded.
func (r *RedisRelay) Subscribe(ctx context.Context, roomCID string, handler func(Notification)) error {
	channel := roomChannelPrefix + roomCID
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev relayedEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				handler(Notification{Kind: ev.Kind, WorkerID: ev.WorkerID, TargetID: ev.TargetID, Data: ev.Data})
			}
		}
	}()
	return nil
}
