// Package telemetry follows the live log stream of one in-flight audit.
// The engine replaces the audit record's log_stream wholesale on every
// update and notifications may be replayed, so the aggregator diffs each
// snapshot against the lines it has already emitted.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redfoxsec/audit-core/internal/data/model"
	"github.com/redfoxsec/audit-core/internal/notify"
)

// timeFormat matches the wall-clock prefix on synthetic stream markers.
const timeFormat = "15:04:05"

// Aggregator accumulates the log stream for exactly one target over one
// viewing session. Reopening a viewer builds a fresh Aggregator; no state
// crosses sessions.
type Aggregator struct {
	targetID   string
	targetName string

	mu       sync.Mutex
	seen     map[string]struct{}
	finished bool

	sub  notify.Subscription
	out  chan string
	done chan struct{}
	once sync.Once
	now  func() time.Time
}

// Open starts a viewing session for the target: it emits the synthetic
// initialization marker, subscribes to audit notifications scoped to the
// target, and streams deduplicated lines on Lines until completion or
// Close.
func Open(ctx context.Context, broker notify.Broker, target *model.Target) (*Aggregator, error) {
	if broker == nil {
		return nil, fmt.Errorf("broker cannot be nil")
	}
	if target == nil {
		return nil, fmt.Errorf("target cannot be nil")
	}

	sub, err := broker.Subscribe(ctx, notify.Filter{
		Collection: notify.CollectionAudits,
		TargetID:   target.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("error subscribing to audit feed: %w", err)
	}

	a := &Aggregator{
		targetID:   target.ID,
		targetName: target.Name,
		seen:       make(map[string]struct{}),
		sub:        sub,
		out:        make(chan string, 256),
		done:       make(chan struct{}),
		now:        time.Now,
	}
	a.emit(a.initMarker())
	go a.follow()
	return a, nil
}

// NewSession builds an aggregator without a subscription, for callers that
// drive Ingest themselves.
func NewSession(target *model.Target) *Aggregator {
	return &Aggregator{
		targetID:   target.ID,
		targetName: target.Name,
		seen:       make(map[string]struct{}),
		out:        make(chan string, 256),
		done:       make(chan struct{}),
		now:        time.Now,
	}
}

// Lines yields the visible stream: the init marker, each new log line in
// arrival order, and the end marker. The channel closes when the session
// ends.
func (a *Aggregator) Lines() <-chan string {
	return a.out
}

// Ingest folds one audit snapshot into the session. It returns the lines
// newly visible from this snapshot and whether this snapshot completed the
// stream. Snapshots after completion are ignored.
func (a *Aggregator) Ingest(audit *model.Audit) ([]string, bool) {
	if audit == nil || audit.TargetID != a.targetID {
		return nil, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finished {
		return nil, false
	}

	var fresh []string
	for _, line := range audit.Details.LogStream {
		if _, ok := a.seen[line]; ok {
			continue
		}
		a.seen[line] = struct{}{}
		fresh = append(fresh, line)
	}

	completed := audit.Completed()
	if completed {
		a.finished = true
		fresh = append(fresh, a.endMarker())
	}
	return fresh, completed
}

// Finished reports whether completion has been detected this session.
func (a *Aggregator) Finished() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finished
}

// Close ends the session: the subscription is cancelled unconditionally
// and no further notifications are processed. Idempotent.
func (a *Aggregator) Close() {
	a.once.Do(func() {
		close(a.done)
		if a.sub != nil {
			a.sub.Close()
		} else {
			close(a.out)
		}
	})
}

// follow consumes the subscription until completion or cancellation. The
// out channel closes when the feed ends, whichever side ended it.
func (a *Aggregator) follow() {
	defer close(a.out)
	for ev := range a.sub.Events() {
		lines, completed := a.Ingest(ev.Audit)
		for _, line := range lines {
			a.emit(line)
		}
		if completed {
			a.Close()
			return
		}
	}
}

// emit forwards a line to the viewer. A slow viewer stalls the fold
// rather than losing lines; Close unblocks a stalled emit.
func (a *Aggregator) emit(line string) {
	select {
	case a.out <- line:
	case <-a.done:
	}
}

func (a *Aggregator) initMarker() string {
	return fmt.Sprintf("[%s] Initializing stream for %s...", a.now().Format(timeFormat), a.targetName)
}

func (a *Aggregator) endMarker() string {
	return fmt.Sprintf("[%s] --- STREAM END --- Assessment complete.", a.now().Format(timeFormat))
}
