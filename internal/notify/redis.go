package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/redfoxsec/audit-core/internal/log"
	"github.com/redfoxsec/audit-core/pkg/types"
)

// channelPrefix namespaces the pub/sub channels this service uses.
const channelPrefix = "audit-core:"

// RedisBroker is a Broker backed by Redis pub/sub, for deployments where
// mutations and viewers live on different nodes. Filtering happens
// client-side; every event for a collection travels on one channel.
type RedisBroker struct {
	client *redis.Client
	logger types.Logger
}

// NewRedisBroker creates a new RedisBroker on the given client.
func NewRedisBroker(ctx context.Context, client *redis.Client) (*RedisBroker, error) {
	if client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("error pinging redis: %w", err)
	}
	return &RedisBroker{client: client, logger: log.NewLogger(ctx)}, nil
}

// Publish serializes the event and publishes it on the collection channel.
func (b *RedisBroker) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("error serializing event: %w", err)
	}
	if err := b.client.Publish(ctx, channelPrefix+ev.Collection, payload).Err(); err != nil {
		return fmt.Errorf("error publishing event: %w", err)
	}
	return nil
}

// Subscribe opens a pub/sub subscription on the filter's collection and
// applies the remaining filter fields client-side.
func (b *RedisBroker) Subscribe(ctx context.Context, filter Filter) (Subscription, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx cannot be nil")
	}
	if filter.Collection == "" {
		return nil, fmt.Errorf("filter collection cannot be empty")
	}

	pubsub := b.client.Subscribe(ctx, channelPrefix+filter.Collection)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close() //nolint:errcheck
		return nil, fmt.Errorf("error subscribing to %s: %w", filter.Collection, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		events: make(chan Event, subscriberBuffer),
	}
	go sub.pump(filter, b.logger)
	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	events chan Event
	once   sync.Once
}

// pump decodes messages until the pub/sub channel closes, then closes the
// event channel so consumers observe the end of the feed.
func (s *redisSubscription) pump(filter Filter, logger types.Logger) {
	defer close(s.events)
	for msg := range s.pubsub.Channel() {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			logger.Warn("dropping undecodable notification", zap.Error(err))
			continue
		}
		if !filter.Matches(&ev) {
			continue
		}
		select {
		case s.events <- ev:
		default:
			logger.Warn("dropping notification for slow subscriber",
				zap.String("collection", ev.Collection))
		}
	}
}

func (s *redisSubscription) Events() <-chan Event {
	return s.events
}

// Close cancels the subscription. Idempotent.
func (s *redisSubscription) Close() {
	s.once.Do(func() {
		_ = s.pubsub.Close() //nolint:errcheck
	})
}
