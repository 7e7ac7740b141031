package usage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wpmcp/pkg/plans"
	"wpmcp/pkg/problems"
	"wpmcp/pkg/store"
)

type recordedEvent struct {
	tenantID, eventType string
	data                map[string]any
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeNotifier) Dispatch(_ context.Context, tenantID, eventType string, data map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{tenantID, eventType, data})
	return nil
}

func (f *fakeNotifier) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		out = append(out, e.eventType)
	}
	return out
}

type denyWindow struct{}

func (denyWindow) Allow(context.Context, string, int) (bool, error) { return false, nil }

func testCatalog(t *testing.T) *plans.Catalog {
	t.Helper()
	c, err := plans.Parse([]byte(`
plans:
  - {name: tiny, rank: 0, monthly_requests: 5, requests_per_minute: 100}
  - {name: hundred, rank: 1, monthly_requests: 100}
  - {name: unlimited, rank: 2, monthly_requests: -1}
  - {name: single, rank: 3, monthly_requests: 1}
`))
	require.NoError(t, err)
	return c
}

func newGate(t *testing.T, tier string, window RateWindow) (*Gate, *store.Memory, *fakeNotifier) {
	t.Helper()
	mem := store.NewMemory(nil)
	require.NoError(t, mem.CreateTenant(context.Background(), store.Tenant{ID: "t1", Email: "a@x", Tier: tier, Status: store.StatusActive}))
	n := &fakeNotifier{}
	g := NewGate(mem, testCatalog(t), window, n, nil)
	g.now = func() time.Time { return time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC) }
	return g, mem, n
}

func TestFirstCallCreatesPeriodCounter(t *testing.T) {
	g, mem, _ := newGate(t, "hundred", nil)
	d, err := g.CheckAndIncrement(context.Background(), "t1", "")
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.EqualValues(t, 1, d.Used)
	require.EqualValues(t, 99, d.Remaining)
	require.Equal(t, "2026-10", d.Period)
	require.NoError(t, d.Err())

	u, _ := mem.GetUsage(context.Background(), "t1", "2026-10")
	require.EqualValues(t, 1, u.Used)
}

func TestQuotaIsNonDebtable(t *testing.T) {
	ctx := context.Background()
	g, mem, _ := newGate(t, "tiny", nil)
	for i := 0; i < 5; i++ {
		d, err := g.CheckAndIncrement(ctx, "t1", "")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	for i := 0; i < 3; i++ {
		d, err := g.CheckAndIncrement(ctx, "t1", "")
		require.NoError(t, err)
		require.False(t, d.Allowed)
		require.Zero(t, d.Remaining)
		require.ErrorIs(t, d.Err(), problems.ErrQuotaExceeded)
	}
	u, _ := mem.GetUsage(ctx, "t1", "2026-10")
	require.EqualValues(t, 5, u.Used)
}

func TestConcurrentCallsAtLimitBoundary(t *testing.T) {
	ctx := context.Background()
	g, mem, _ := newGate(t, "hundred", nil)
	for i := 0; i < 99; i++ {
		_, _, err := mem.IncrementUsage(ctx, "t1", "2026-10", 100)
		require.NoError(t, err)
	}

	var allowed, denied int32
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := g.CheckAndIncrement(ctx, "t1", "")
			if err != nil {
				return
			}
			if d.Allowed {
				atomic.AddInt32(&allowed, 1)
			} else {
				atomic.AddInt32(&denied, 1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, allowed)
	require.EqualValues(t, 1, denied)
	u, _ := mem.GetUsage(ctx, "t1", "2026-10")
	require.EqualValues(t, 100, u.Used)
}

func TestRateWindowDoesNotTouchQuota(t *testing.T) {
	ctx := context.Background()
	g, mem, _ := newGate(t, "tiny", denyWindow{})
	d, err := g.CheckAndIncrement(ctx, "t1", "")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.ErrorIs(t, d.Err(), problems.ErrRateLimited)

	u, _ := mem.GetUsage(ctx, "t1", "2026-10")
	require.Zero(t, u.Used)
}

func TestThresholdEventsFireOnce(t *testing.T) {
	ctx := context.Background()
	g, _, n := newGate(t, "tiny", nil)
	for i := 0; i < 7; i++ {
		_, err := g.CheckAndIncrement(ctx, "t1", "")
		require.NoError(t, err)
	}
	require.Equal(t, []string{EventWarning, EventLimitReached}, n.types())
}

func TestWarningAndLimitCarryOwnPayloads(t *testing.T) {
	g, _, n := newGate(t, "single", nil)
	d, err := g.CheckAndIncrement(context.Background(), "t1", "")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	require.Equal(t, []string{EventWarning, EventLimitReached}, n.types())
	warn, limit := n.events[0].data, n.events[1].data
	require.EqualValues(t, warnPercent, warn["percent"])
	require.NotContains(t, limit, "percent")
	require.EqualValues(t, 1, limit["used"])
	require.EqualValues(t, 1, limit["limit"])
}

func TestChargesGivenPeriod(t *testing.T) {
	ctx := context.Background()
	g, mem, _ := newGate(t, "tiny", nil)
	d, err := g.CheckAndIncrement(ctx, "t1", "2026-09")
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, "2026-09", d.Period)
	require.NoError(t, g.RecordOutcome(ctx, "t1", "2026-09", true))

	old, _ := mem.GetUsage(ctx, "t1", "2026-09")
	require.EqualValues(t, 1, old.Used)
	require.EqualValues(t, 1, old.Successes)
	cur, _ := mem.GetUsage(ctx, "t1", "2026-10")
	require.Zero(t, cur.Used)
	require.Zero(t, cur.Successes)
}

func TestUnlimitedPlan(t *testing.T) {
	ctx := context.Background()
	g, _, n := newGate(t, "unlimited", nil)
	d, err := g.CheckAndIncrement(ctx, "t1", "")
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.EqualValues(t, -1, d.Remaining)
	require.Empty(t, n.types())
}

func TestPeriodRolloverAndReset(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newGate(t, "tiny", nil)
	for i := 0; i < 5; i++ {
		_, _ = g.CheckAndIncrement(ctx, "t1", "")
	}
	d, _ := g.CheckAndIncrement(ctx, "t1", "")
	require.False(t, d.Allowed)

	g.now = func() time.Time { return time.Date(2026, 11, 1, 0, 0, 1, 0, time.UTC) }
	d, _ = g.CheckAndIncrement(ctx, "t1", "")
	require.True(t, d.Allowed)
	require.Equal(t, "2026-11", d.Period)
	require.EqualValues(t, 1, d.Used)

	require.NoError(t, g.Reset(ctx, "t1"))
	s, err := g.Usage(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, "2026-11", s.Period)
	require.Zero(t, s.Used)
	require.EqualValues(t, 5, s.Remaining)
}

func TestRecordOutcomeIsIndependent(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newGate(t, "tiny", nil)
	require.NoError(t, g.RecordOutcome(ctx, "t1", "", true))
	require.NoError(t, g.RecordOutcome(ctx, "t1", "", false))
	s, err := g.Usage(ctx, "t1")
	require.NoError(t, err)
	require.Zero(t, s.Used)
	require.EqualValues(t, 1, s.Successes)
	require.EqualValues(t, 1, s.Errors)
}

func TestLocalWindow(t *testing.T) {
	w := NewLocalWindow()
	now := time.Unix(1_700_000_000, 0)
	w.now = func() time.Time { return now }
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, err := w.Allow(ctx, "t1", 3)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, _ := w.Allow(ctx, "t1", 3)
	require.False(t, ok)
	ok, _ = w.Allow(ctx, "t2", 3)
	require.True(t, ok, "windows are per tenant")

	now = now.Add(time.Minute)
	ok, _ = w.Allow(ctx, "t1", 3)
	require.True(t, ok)

	ok, _ = w.Allow(ctx, "t1", 0)
	require.True(t, ok)
}
