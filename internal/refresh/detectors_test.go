package refresh

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fentz26/callqueue/internal/cache"
	"github.com/fentz26/callqueue/internal/models"
	"github.com/fentz26/callqueue/internal/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestActivity_FiresOnceAfterInactivity(t *testing.T) {
	var fired int32
	a := NewActivityDetector(150*time.Millisecond, 10*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	})
	defer a.Disable()

	for i := 0; i < 10; i++ {
		a.Touch()
		time.Sleep(10 * time.Millisecond)
	}
	assert.Zero(t, atomic.LoadInt32(&fired), "no refresh while input keeps arriving")

	require.Eventually(t, func() bool { return atomic.LoadInt32(&fired) == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&fired))
}

func TestActivity_DisableCancelsTimers(t *testing.T) {
	var fired int32
	a := NewActivityDetector(30*time.Millisecond, 5*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	})

	a.Touch()
	time.Sleep(10 * time.Millisecond)
	a.Disable()
	a.Touch()

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&fired))
}

func TestActivity_InvalidThresholdUsesDefault(t *testing.T) {
	a := NewActivityDetector(0, -1, func() {})
	assert.Equal(t, 5*time.Minute, a.Threshold())
	assert.Equal(t, 50*time.Millisecond, a.debounce)
}

func TestActivity_Active(t *testing.T) {
	clock := newFakeClock()
	a := NewActivityDetector(time.Minute, time.Millisecond, func() {})
	a.now = clock.Now
	defer a.Disable()

	assert.False(t, a.Active(), "no input yet")
	a.Touch()
	assert.True(t, a.Active())
	clock.Advance(2 * time.Minute)
	assert.False(t, a.Active())
}

func TestVisibility_Gating(t *testing.T) {
	clock := newFakeClock()
	var refreshes []time.Time
	v := NewVisibilityDetector(time.Second, 5*time.Second, true,
		func() { refreshes = append(refreshes, clock.Now()) },
		func() time.Time {
			if len(refreshes) == 0 {
				return time.Time{}
			}
			return refreshes[len(refreshes)-1]
		}, nil)
	v.now = clock.Now

	roundTrip := func(hidden time.Duration) bool {
		v.SetVisible(false)
		clock.Advance(hidden)
		return v.SetVisible(true)
	}

	assert.False(t, roundTrip(500*time.Millisecond), "short blur")
	clock.Advance(500 * time.Millisecond)

	assert.True(t, roundTrip(1200*time.Millisecond))
	assert.Equal(t, 1200*time.Millisecond, v.State().HiddenDuration)
	clock.Advance(800 * time.Millisecond)

	assert.False(t, roundTrip(1500*time.Millisecond), "within min interval of the last refresh")
	clock.Advance(3500 * time.Millisecond)

	assert.True(t, roundTrip(1500*time.Millisecond))
	assert.Len(t, refreshes, 2)
}

func TestVisibility_OwnFireRateLimits(t *testing.T) {
	clock := newFakeClock()
	var fired int
	// no refresh clock: a failing store never reports a successful refresh
	v := NewVisibilityDetector(time.Second, 5*time.Second, true, func() { fired++ }, nil, nil)
	v.now = clock.Now

	roundTrip := func(hidden time.Duration) bool {
		v.SetVisible(false)
		clock.Advance(hidden)
		return v.SetVisible(true)
	}

	assert.True(t, roundTrip(2*time.Second))
	assert.False(t, roundTrip(2*time.Second), "second round-trip inside the window")
	clock.Advance(time.Second)
	assert.True(t, roundTrip(2*time.Second))
	assert.Equal(t, 2, fired)
}

func TestVisibility_FreshDataSuppresses(t *testing.T) {
	clock := newFakeClock()
	var fired int
	dataAt := clock.Now()
	v := NewVisibilityDetector(time.Second, 5*time.Second, true, func() { fired++ }, nil,
		func() time.Time { return dataAt })
	v.now = clock.Now

	v.SetVisible(false)
	clock.Advance(2 * time.Second)
	assert.False(t, v.SetVisible(true))
	assert.Zero(t, fired)
}

func TestVisibility_UnsupportedIsNoop(t *testing.T) {
	var fired int
	v := NewVisibilityDetector(time.Nanosecond, time.Nanosecond, false, func() { fired++ }, nil, nil)
	v.SetVisible(false)
	time.Sleep(time.Millisecond)
	assert.False(t, v.SetVisible(true))
	assert.Zero(t, fired)
	assert.False(t, v.State().Hidden)
}

type modeRecorder struct {
	mu    sync.Mutex
	modes []cache.Mode
}

func (r *modeRecorder) request(m cache.Mode) {
	r.mu.Lock()
	r.modes = append(r.modes, m)
	r.mu.Unlock()
}

func (r *modeRecorder) Modes() []cache.Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]cache.Mode(nil), r.modes...)
}

func TestHints_Decide(t *testing.T) {
	assigned := models.Task{ID: "T1", AssignedTo: "carol"}
	free := models.Task{ID: "T1"}

	tests := []struct {
		name    string
		payload realtime.Payload
		focused *models.Task
		want    cache.Mode
		ignored bool
	}{
		{"transfer to me", realtime.Payload{Type: realtime.TypeTransfer, ToUser: "Alice", Actor: "bob"}, &assigned, cache.ModeForeground, false},
		{"transfer elsewhere", realtime.Payload{Type: realtime.TypeTransfer, ToUser: "carol", Actor: "bob"}, nil, cache.ModeSilent, false},
		{"transfer to nobody", realtime.Payload{Type: realtime.TypeTransfer, Actor: "bob"}, &assigned, cache.ModeForeground, false},
		{"unassign", realtime.Payload{Type: realtime.TypeUnassign, FromUser: "bob", Actor: "bob"}, &assigned, cache.ModeForeground, false},
		{"update, nothing focused", realtime.Payload{Type: realtime.TypeUpdate, Actor: "bob"}, nil, cache.ModeForeground, false},
		{"update, focused free", realtime.Payload{Type: realtime.TypeUpdate, Actor: "bob"}, &free, cache.ModeForeground, false},
		{"update, focused assigned", realtime.Payload{Type: realtime.TypeUpdate, Actor: "bob"}, &assigned, cache.ModeSilent, false},
		{"own event", realtime.Payload{Type: realtime.TypeUpdate, Actor: " ALICE "}, nil, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			focus := func() (models.Task, bool) {
				if tt.focused == nil {
					return models.Task{}, false
				}
				return *tt.focused, true
			}
			h := NewHintHandler("alice", time.Millisecond, func(cache.Mode) {}, nil, focus, nil)

			mode, ok := h.decide(realtime.Event{Event: realtime.EventTaskChanged, Payload: tt.payload})
			if tt.ignored {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.want, mode)
		})
	}
}

func TestHints_SettleThenRefresh(t *testing.T) {
	rec := &modeRecorder{}
	h := NewHintHandler("alice", 40*time.Millisecond, rec.request, nil, nil, nil)
	defer h.Disable()

	h.Handle(realtime.NewEvent(realtime.TypeUnassign, "T1", "bob"))
	assert.Empty(t, rec.Modes(), "nothing before the settle delay")

	require.Eventually(t, func() bool { return len(rec.Modes()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, cache.ModeForeground, rec.Modes()[0])
}

func TestHints_DialogOpenDiscards(t *testing.T) {
	rec := &modeRecorder{}
	h := NewHintHandler("alice", 5*time.Millisecond, rec.request, func() bool { return true }, nil, nil)
	defer h.Disable()

	for _, typ := range []string{realtime.TypeTransfer, realtime.TypeUnassign, realtime.TypeUpdate} {
		h.Handle(realtime.NewEvent(typ, "T1", "bob"))
	}
	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, rec.Modes())
}

func TestHints_DisableDropsPending(t *testing.T) {
	rec := &modeRecorder{}
	h := NewHintHandler("alice", 30*time.Millisecond, rec.request, nil, nil, nil)

	h.Handle(realtime.NewEvent(realtime.TypeUpdate, "T1", "bob"))
	h.Disable()
	h.Handle(realtime.NewEvent(realtime.TypeUpdate, "T2", "bob"))

	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, rec.Modes())
}
