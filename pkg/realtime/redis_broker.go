package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type pubSubClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// RedisBroker bridges a local Hub over a Redis Pub/Sub channel so that
// every API instance sees events published by the others. Events are
// deduplicated by id, which also swallows the echo of local publishes.
type RedisBroker struct {
	hub     *Hub
	client  pubSubClient
	channel string
	logger  *zap.Logger
	seen    *seenSet
}

// NewRedisBroker constructs a broker. A nil client keeps delivery in-process.
func NewRedisBroker(hub *Hub, client pubSubClient, channel string, logger *zap.Logger) *RedisBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBroker{
		hub:     hub,
		client:  client,
		channel: channel,
		logger:  logger,
		seen:    newSeenSet(1024),
	}
}

// Publish delivers evt locally and forwards it to Redis.
func (b *RedisBroker) Publish(ctx context.Context, evt Event) error {
	if !b.seen.add(evt.ID) {
		return nil
	}
	b.hub.Publish(evt)
	if b.client == nil {
		return nil
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Run consumes the Redis channel until ctx is cancelled.
func (b *RedisBroker) Run(ctx context.Context) error {
	if b.client == nil {
		<-ctx.Done()
		return nil
	}
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close() //nolint:errcheck

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.logger.Info("realtime broker subscribed", zap.String("channel", b.channel))

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			b.deliver(msg.Payload)
		}
	}
}

// Hub exposes the local hub for subscribers.
func (b *RedisBroker) Hub() *Hub {
	return b.hub
}

func (b *RedisBroker) deliver(payload string) {
	var evt Event
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		b.logger.Warn("discarding malformed realtime event", zap.Error(err))
		return
	}
	if evt.ID == "" || !b.seen.add(evt.ID) {
		return
	}
	b.hub.Publish(evt)
}

// seenSet remembers the last N ids in insertion order.
type seenSet struct {
	mu    sync.Mutex
	ids   map[string]struct{}
	ring  []string
	next  int
	limit int
}

func newSeenSet(limit int) *seenSet {
	return &seenSet{ids: make(map[string]struct{}, limit), ring: make([]string, limit), limit: limit}
}

// add returns false when id was already recorded.
func (s *seenSet) add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	if old := s.ring[s.next]; old != "" {
		delete(s.ids, old)
	}
	s.ring[s.next] = id
	s.ids[id] = struct{}{}
	s.next = (s.next + 1) % s.limit
	return true
}
