package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fentz26/callqueue/internal/models"
	"github.com/fentz26/callqueue/internal/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore fails List while failing is set and can block List on a gate.
type flakyStore struct {
	*memstore.Store
	failing atomic.Bool
	gate    chan struct{}
}

func (f *flakyStore) List(ctx context.Context, filter models.Filter) ([]models.Record, error) {
	if f.gate != nil {
		<-f.gate
	}
	if f.failing.Load() {
		return nil, errors.New("store unavailable")
	}
	return f.Store.List(ctx, filter)
}

func seed(t *testing.T, s *memstore.Store, recs ...models.Record) {
	t.Helper()
	for _, r := range recs {
		_, err := s.Create(context.Background(), r)
		require.NoError(t, err)
	}
}

func TestRefresh_LoadsOpenTasks(t *testing.T) {
	ms := memstore.New()
	seed(t, ms,
		models.Record{ID: "a", Status: "pending"},
		models.Record{ID: "b", Status: "pending", Assignee: "bob"},
		models.Record{ID: "c", Status: "in_progress", Assignee: "alice"},
	)
	c := New(ms, "alice")

	require.NoError(t, c.Refresh(context.Background(), ModeForeground))

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("b")
	assert.False(t, ok)
	assert.False(t, c.LastRefresh().IsZero())
	assert.False(t, c.Loading())
}

func TestRefresh_ForegroundErrorKeepsTasks(t *testing.T) {
	fs := &flakyStore{Store: memstore.New()}
	seed(t, fs.Store, models.Record{ID: "a"})
	c := New(fs, "alice")
	require.NoError(t, c.Refresh(context.Background(), ModeForeground))

	fs.failing.Store(true)
	err := c.Refresh(context.Background(), ModeForeground)

	require.Error(t, err)
	assert.Equal(t, err, c.LastError())
	assert.Equal(t, 1, c.Len(), "previous tasks stay visible")
	assert.False(t, c.Loading())
}

func TestRefresh_SilentNeverTogglesLoading(t *testing.T) {
	fs := &flakyStore{Store: memstore.New(), gate: make(chan struct{})}
	c := New(fs, "alice")

	var sawLoading atomic.Bool
	c.OnChange(func() {
		if c.Loading() {
			sawLoading.Store(true)
		}
	})

	done := make(chan error, 1)
	go func() { done <- c.Refresh(context.Background(), ModeSilent) }()
	time.Sleep(10 * time.Millisecond)
	assert.False(t, c.Loading())
	close(fs.gate)
	require.NoError(t, <-done)
	assert.False(t, sawLoading.Load())

	fs.failing.Store(true)
	assert.Error(t, c.Refresh(context.Background(), ModeSilent))
	assert.NoError(t, c.LastError(), "silent errors are not surfaced")
}

func TestRefresh_ForegroundSetsLoadingWhileInFlight(t *testing.T) {
	fs := &flakyStore{Store: memstore.New(), gate: make(chan struct{})}
	c := New(fs, "alice")

	done := make(chan error, 1)
	go func() { done <- c.Refresh(context.Background(), ModeForeground) }()

	require.Eventually(t, c.Loading, time.Second, 5*time.Millisecond)
	close(fs.gate)
	require.NoError(t, <-done)
	assert.False(t, c.Loading())
}

func TestRefresh_DoesNotUndoLocalWritesMadeDuringFetch(t *testing.T) {
	fs := &flakyStore{Store: memstore.New()}
	seed(t, fs.Store, models.Record{ID: "a"}, models.Record{ID: "b"})
	c := New(fs, "alice")
	require.NoError(t, c.Refresh(context.Background(), ModeForeground))

	fs.gate = make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- c.Refresh(context.Background(), ModeSilent) }()
	time.Sleep(10 * time.Millisecond)

	c.Remove("a")
	c.Patch("b", models.Update{Notes: models.StringPtr("local")})
	close(fs.gate)
	require.NoError(t, <-done)

	_, ok := c.Get("a")
	assert.False(t, ok, "removed task must not reappear from a stale read")
	b, ok := c.Get("b")
	require.True(t, ok)
	assert.Equal(t, "local", b.Notes)

	// a later refresh sees the store again
	fs.gate = nil
	require.NoError(t, c.Refresh(context.Background(), ModeSilent))
	_, ok = c.Get("a")
	assert.True(t, ok)
}

func TestPinnedEntrySurvivesRefresh(t *testing.T) {
	ms := memstore.New()
	seed(t, ms, models.Record{ID: "a"})
	c := New(ms, "alice")
	require.NoError(t, c.Refresh(context.Background(), ModeForeground))

	c.Pin("a")
	c.Patch("a", models.Update{Assignee: models.StringPtr("alice")})
	require.NoError(t, c.Refresh(context.Background(), ModeSilent))
	require.NoError(t, c.Refresh(context.Background(), ModeSilent))

	a, _ := c.Get("a")
	assert.Equal(t, "alice", a.AssignedTo)

	c.Unpin("a")
	require.NoError(t, c.Refresh(context.Background(), ModeSilent))
	a, _ = c.Get("a")
	assert.Empty(t, a.AssignedTo)
}

func TestVerificationOverlay(t *testing.T) {
	ms := memstore.New()
	seed(t, ms, models.Record{ID: "a"})
	c := New(ms, "alice")
	require.NoError(t, c.Refresh(context.Background(), ModeForeground))

	c.SetVerification("a", models.VerificationFailed)
	require.NoError(t, c.Refresh(context.Background(), ModeSilent))

	a, _ := c.Get("a")
	assert.Equal(t, models.VerificationFailed, a.VerificationState)
	assert.Equal(t, models.VerificationFailed, c.Verification("a"))

	c.SetVerification("a", models.VerificationNone)
	a, _ = c.Get("a")
	assert.Equal(t, models.VerificationNone, a.VerificationState)
}

func TestTasksOrdering(t *testing.T) {
	c := New(memstore.New(), "alice")
	soon := time.Now().Add(time.Hour)
	later := time.Now().Add(2 * time.Hour)

	c.Put(models.Task{ID: "medium-undated", Priority: models.PriorityMedium})
	c.Put(models.Task{ID: "high-later", Priority: models.PriorityHigh, DueDate: &later})
	c.Put(models.Task{ID: "high-soon", Priority: models.PriorityHigh, DueDate: &soon})
	c.Put(models.Task{ID: "boosted", Priority: models.PriorityBoosted})

	var ids []string
	for _, task := range c.Tasks() {
		ids = append(ids, task.ID)
	}
	assert.Equal(t, []string{"boosted", "high-soon", "high-later", "medium-undated"}, ids)
}

func TestOnChangeFiresOnMutation(t *testing.T) {
	c := New(memstore.New(), "alice")
	var n atomic.Int32
	c.OnChange(func() { n.Add(1) })

	c.Put(models.Task{ID: "a"})
	c.Remove("a")

	assert.Equal(t, int32(2), n.Load())
}

func TestLastDataChange(t *testing.T) {
	c := New(memstore.New(), "alice")
	assert.True(t, c.LastDataChange().IsZero())

	older := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	c.Put(models.Task{ID: "a", UpdatedAt: older})
	c.Put(models.Task{ID: "b", UpdatedAt: newer})
	assert.Equal(t, newer, c.LastDataChange())

	c.Remove("b")
	assert.Equal(t, older, c.LastDataChange())
}
