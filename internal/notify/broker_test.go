package notify

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/redfoxsec/audit-core/internal/data/model"
)

func TestFilterMatches(t *testing.T) {
	ev := &Event{Collection: CollectionAudits, Action: ActionUpdate, OwnerID: "u1", TargetID: "t1"}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{name: "zero filter matches everything", filter: Filter{}, want: true},
		{name: "collection match", filter: Filter{Collection: CollectionAudits}, want: true},
		{name: "collection mismatch", filter: Filter{Collection: CollectionTargets}, want: false},
		{name: "target match", filter: Filter{TargetID: "t1"}, want: true},
		{name: "target mismatch", filter: Filter{TargetID: "t2"}, want: false},
		{name: "owner mismatch", filter: Filter{OwnerID: "u2"}, want: false},
		{name: "all fields match", filter: Filter{Collection: CollectionAudits, TargetID: "t1", OwnerID: "u1"}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(ev); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func receive(t *testing.T, sub Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestMemoryBrokerDeliversToMatchingSubscribers(t *testing.T) {
	broker := NewMemoryBroker()
	ctx := context.Background()

	audits, err := broker.Subscribe(ctx, Filter{Collection: CollectionAudits, TargetID: "t1"})
	require.NoError(t, err)
	defer audits.Close()
	targets, err := broker.Subscribe(ctx, Filter{Collection: CollectionTargets})
	require.NoError(t, err)
	defer targets.Close()

	err = broker.Publish(ctx, Event{
		Collection: CollectionAudits,
		Action:     ActionUpdate,
		TargetID:   "t1",
		Audit:      &model.Audit{ID: "a1", TargetID: "t1"},
	})
	require.NoError(t, err)
	err = broker.Publish(ctx, Event{
		Collection: CollectionTargets,
		Action:     ActionInsert,
		OwnerID:    "u1",
		Target:     &model.Target{ID: "t2", OwnerID: "u1"},
	})
	require.NoError(t, err)

	got := receive(t, audits)
	require.Equal(t, ActionUpdate, got.Action)
	require.Equal(t, "a1", got.Audit.ID)
	select {
	case ev := <-audits.Events():
		t.Fatalf("audit subscriber received foreign event %+v", ev)
	default:
	}

	got = receive(t, targets)
	require.Equal(t, ActionInsert, got.Action)
	require.Equal(t, "t2", got.Target.ID)
}

func TestMemoryBrokerDropsOldestWhenSlow(t *testing.T) {
	broker := NewMemoryBroker()
	ctx := context.Background()

	sub, err := broker.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer sub.Close()

	// Overfill the buffer without reading.
	for i := 0; i < subscriberBuffer+5; i++ {
		err := broker.Publish(ctx, Event{Collection: CollectionTargets, TargetID: fmt.Sprintf("t%d", i)})
		require.NoError(t, err)
	}

	first := receive(t, sub)
	require.NotEqual(t, "t0", first.TargetID, "oldest events are dropped, newest kept")

	// Publishing never blocked: the loop above completed, and the newest
	// event is still in the queue.
	last := first
drain:
	for {
		select {
		case ev := <-sub.Events():
			last = ev
		default:
			break drain
		}
	}
	require.Equal(t, fmt.Sprintf("t%d", subscriberBuffer+4), last.TargetID)
}

func TestMemorySubscriptionCloseIsIdempotent(t *testing.T) {
	broker := NewMemoryBroker()
	sub, err := broker.Subscribe(context.Background(), Filter{})
	require.NoError(t, err)

	sub.Close()
	sub.Close()

	_, ok := <-sub.Events()
	require.False(t, ok, "events channel must be closed")

	// Publishing after close must not panic or deliver.
	err = broker.Publish(context.Background(), Event{Collection: CollectionAudits})
	require.NoError(t, err)
}
