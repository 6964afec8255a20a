// Package notify provides the change-notification feed that keeps viewers
// current without polling. Events carry full record snapshots, mirroring
// the record store's row-change payloads; consumers must diff, not assume
// deltas.
package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/redfoxsec/audit-core/internal/data/model"
)

// Collections that emit change events.
const (
	CollectionTargets = "targets"
	CollectionAudits  = "audits"
)

// Actions carried by change events.
const (
	ActionInsert = "insert"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Event is one change notification. Exactly one of Target or Audit is set,
// matching Collection.
type Event struct {
	Collection string        `json:"collection"`
	Action     string        `json:"action"`
	OwnerID    string        `json:"owner_id,omitempty"`
	TargetID   string        `json:"target_id,omitempty"`
	Target     *model.Target `json:"target,omitempty"`
	Audit      *model.Audit  `json:"audit,omitempty"`
}

// Filter scopes a subscription. Zero-valued fields match everything.
type Filter struct {
	Collection string
	TargetID   string
	OwnerID    string
}

// Matches reports whether the event passes the filter.
func (f Filter) Matches(ev *Event) bool {
	if f.Collection != "" && f.Collection != ev.Collection {
		return false
	}
	if f.TargetID != "" && f.TargetID != ev.TargetID {
		return false
	}
	if f.OwnerID != "" && f.OwnerID != ev.OwnerID {
		return false
	}
	return true
}

// Subscription is a cancellable handle yielding a sequence of events.
// Events closes when the subscription ends, whether by Close or by a
// transport failure; accumulated consumer state stays intact either way.
type Subscription interface {
	Events() <-chan Event
	Close()
}

// Broker is the change-notification transport.
type Broker interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context, filter Filter) (Subscription, error)
}

// subscriberBuffer bounds the per-subscriber queue. A slow consumer drops
// the oldest pending event rather than blocking publishers.
const subscriberBuffer = 64

// MemoryBroker is an in-process Broker for single-node deployments and
// tests.
type MemoryBroker struct {
	mu   sync.Mutex
	subs map[*memorySubscription]Filter
}

// NewMemoryBroker creates a new MemoryBroker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[*memorySubscription]Filter)}
}

// Publish delivers the event to every matching subscriber.
func (b *MemoryBroker) Publish(_ context.Context, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub, filter := range b.subs {
		if !filter.Matches(&ev) {
			continue
		}
		select {
		case sub.events <- ev:
		default:
			// Drop the oldest pending event to make room.
			select {
			case <-sub.events:
			default:
			}
			select {
			case sub.events <- ev:
			default:
			}
		}
	}
	return nil
}

// Subscribe registers a new filtered subscription.
func (b *MemoryBroker) Subscribe(ctx context.Context, filter Filter) (Subscription, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx cannot be nil")
	}
	sub := &memorySubscription{
		broker: b,
		events: make(chan Event, subscriberBuffer),
	}
	b.mu.Lock()
	b.subs[sub] = filter
	b.mu.Unlock()
	return sub, nil
}

type memorySubscription struct {
	broker *MemoryBroker
	events chan Event
	once   sync.Once
}

func (s *memorySubscription) Events() <-chan Event {
	return s.events
}

// Close cancels the subscription. Idempotent; pending events are discarded.
func (s *memorySubscription) Close() {
	s.once.Do(func() {
		s.broker.mu.Lock()
		delete(s.broker.subs, s)
		s.broker.mu.Unlock()
		close(s.events)
	})
}
