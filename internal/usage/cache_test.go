package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/redfoxsec/audit-core/pkg/types"
)

type stubCounter struct {
	snapshot types.UsageSnapshot
	err      error
	calls    int
	since    time.Time
}

func (s *stubCounter) UsageCounts(_ context.Context, _ string, since time.Time) (types.UsageSnapshot, error) {
	s.calls++
	s.since = since
	return s.snapshot, s.err
}

func TestSnapshotLazilyRefreshes(t *testing.T) {
	counter := &stubCounter{snapshot: types.UsageSnapshot{DomainCount: 1, ScanCount: 2}}
	cache, err := NewCache(counter)
	require.NoError(t, err)

	got := cache.Snapshot(context.Background(), "u1")
	require.Equal(t, counter.snapshot, got)
	require.Equal(t, 1, counter.calls)

	// Second read is served from the cache.
	got = cache.Snapshot(context.Background(), "u1")
	require.Equal(t, counter.snapshot, got)
	require.Equal(t, 1, counter.calls)
}

func TestSnapshotCapsUnknownUsage(t *testing.T) {
	counter := &stubCounter{err: errors.New("database unavailable")}
	cache, err := NewCache(counter)
	require.NoError(t, err)

	got := cache.Snapshot(context.Background(), "u1")
	require.Equal(t, Capped(), got, "unknown usage must deny, not allow")
	require.Zero(t, got.ScanCredits)
}

func TestRefreshFailureKeepsLastKnown(t *testing.T) {
	counter := &stubCounter{snapshot: types.UsageSnapshot{DomainCount: 1}}
	cache, err := NewCache(counter)
	require.NoError(t, err)

	_, err = cache.Refresh(context.Background(), "u1")
	require.NoError(t, err)

	counter.err = errors.New("database unavailable")
	got, err := cache.Refresh(context.Background(), "u1")
	require.Error(t, err)
	require.Equal(t, types.UsageSnapshot{DomainCount: 1}, got, "stale beats capped when a value exists")

	// The cached value is also what later reads observe.
	require.Equal(t, types.UsageSnapshot{DomainCount: 1}, cache.Snapshot(context.Background(), "u1"))
}

func TestInvalidateRecomputes(t *testing.T) {
	counter := &stubCounter{snapshot: types.UsageSnapshot{ScanCount: 1}}
	cache, err := NewCache(counter)
	require.NoError(t, err)

	require.Equal(t, types.UsageSnapshot{ScanCount: 1}, cache.Snapshot(context.Background(), "u1"))

	counter.snapshot = types.UsageSnapshot{ScanCount: 2}
	cache.Invalidate(context.Background(), "u1")
	require.Equal(t, types.UsageSnapshot{ScanCount: 2}, cache.Snapshot(context.Background(), "u1"))
}

func TestRefreshUsesCalendarMonthPeriod(t *testing.T) {
	counter := &stubCounter{}
	cache, err := NewCache(counter)
	require.NoError(t, err)
	cache.now = func() time.Time {
		return time.Date(2026, time.March, 15, 13, 45, 0, 0, time.UTC)
	}

	_, err = cache.Refresh(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC), counter.since)
}
