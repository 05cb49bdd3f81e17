package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fentz26/callqueue/internal/cache"
	"github.com/fentz26/callqueue/internal/metrics"
	"github.com/fentz26/callqueue/internal/models"
	"github.com/fentz26/callqueue/internal/realtime"
	"github.com/fentz26/callqueue/internal/store/memstore"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingRefresher tracks how many refreshes overlap.
type countingRefresher struct {
	delay time.Duration
	fail  atomic.Bool

	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	modes       []cache.Mode
}

func (r *countingRefresher) Refresh(ctx context.Context, mode cache.Mode) error {
	r.mu.Lock()
	r.inFlight++
	if r.inFlight > r.maxInFlight {
		r.maxInFlight = r.inFlight
	}
	r.modes = append(r.modes, mode)
	r.mu.Unlock()

	time.Sleep(r.delay)

	r.mu.Lock()
	r.inFlight--
	r.mu.Unlock()
	if r.fail.Load() {
		return errors.New("store down")
	}
	return nil
}

func (r *countingRefresher) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.modes)
}

func (r *countingRefresher) Max() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxInFlight
}

func TestScheduler_RefreshesNeverOverlap(t *testing.T) {
	target := &countingRefresher{delay: 2 * time.Millisecond}
	s := New(target, "alice")
	s.Start()
	defer s.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Refresh(context.Background(), cache.ModeSilent, SourcePoll))
		}()
		s.Request(cache.ModeForeground, SourceHint)
	}
	wg.Wait()

	assert.Equal(t, 1, target.Max())
	assert.GreaterOrEqual(t, target.Count(), 10)
	assert.False(t, s.LastRefresh().IsZero())
}

func TestScheduler_ReloadRunsForeground(t *testing.T) {
	target := &countingRefresher{}
	s := New(target, "alice")
	s.Start()
	defer s.Stop()

	s.Reload(cache.ModeForeground)
	require.Eventually(t, func() bool { return target.Count() == 1 }, time.Second, 5*time.Millisecond)
	target.mu.Lock()
	assert.Equal(t, cache.ModeForeground, target.modes[0])
	target.mu.Unlock()
}

func TestScheduler_RefreshReturnsError(t *testing.T) {
	target := &countingRefresher{}
	target.fail.Store(true)
	m := metrics.New()
	s := New(target, "alice", WithMetrics(m))
	s.Start()
	defer s.Stop()

	err := s.Refresh(context.Background(), cache.ModeSilent, SourcePoll)
	require.Error(t, err)
	assert.True(t, s.LastRefresh().IsZero())
	assert.Equal(t, 1, testutil.CollectAndCount(m.Registry(), "callqueue_refreshes_total"))
}

func TestScheduler_VisibilityRateLimitedWhileStoreDown(t *testing.T) {
	target := &countingRefresher{}
	target.fail.Store(true)
	s := New(target, "alice",
		WithConfig(Config{VisibilityThreshold: time.Millisecond, VisibilityMinInterval: 5 * time.Second}),
		WithVisibilitySupport(true))
	s.Start()
	defer s.Stop()

	roundTrip := func() bool {
		s.Visibility().SetVisible(false)
		time.Sleep(5 * time.Millisecond)
		return s.Visibility().SetVisible(true)
	}

	assert.True(t, roundTrip())
	require.Eventually(t, func() bool { return target.Count() == 1 }, time.Second, 5*time.Millisecond)

	time.Sleep(25 * time.Millisecond)
	assert.False(t, roundTrip())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, target.Count())
	assert.True(t, s.LastRefresh().IsZero())
}

func TestScheduler_DialogGateBlocksTimerSources(t *testing.T) {
	target := &countingRefresher{}
	var open atomic.Bool
	open.Store(true)
	s := New(target, "alice", WithDialogGate(open.Load))
	s.Start()
	defer s.Stop()

	s.gated(cache.ModeSilent, SourceActivity)
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, target.Count())

	open.Store(false)
	s.gated(cache.ModeSilent, SourceActivity)
	require.Eventually(t, func() bool { return target.Count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_HintWhileDialogOpenNeverRefreshes(t *testing.T) {
	target := &countingRefresher{}
	s := New(target, "alice",
		WithConfig(Config{HintSettle: 5 * time.Millisecond}),
		WithDialogGate(func() bool { return true }))
	s.Start()
	defer s.Stop()

	s.Hints().Handle(realtime.NewEvent(realtime.TypeTransfer, "T1", "bob"))
	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, target.Count())
}

func TestScheduler_StopRejectsLaterRefreshes(t *testing.T) {
	s := New(&countingRefresher{}, "alice")
	s.Start()
	s.Stop()

	err := s.Refresh(context.Background(), cache.ModeSilent, SourceManual)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, s.Poller().State().Enabled)
}

func TestScheduler_DrivesCache(t *testing.T) {
	st := memstore.New()
	_, err := st.Create(context.Background(), models.Record{ID: "T1", ContactName: "Ada"})
	require.NoError(t, err)

	c := cache.New(st, "alice")
	s := New(c, "alice")
	s.Start()
	defer s.Stop()

	require.NoError(t, s.Refresh(context.Background(), cache.ModeForeground, SourceManual))
	_, ok := c.Get("T1")
	assert.True(t, ok)
}
