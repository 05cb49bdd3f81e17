// Package cache holds the operator's local view of the task list.
//
// Refreshes replace the list wholesale. Entries touched locally after a
// refresh started (optimistic patches, removals) and entries pinned by an
// in-flight claim survive that refresh, so a stale read cannot undo a write
// this session already made.
package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fentz26/callqueue/internal/logging"
	"github.com/fentz26/callqueue/internal/models"
	"github.com/fentz26/callqueue/internal/store"
)

// Mode selects how a refresh presents itself.
type Mode int

const (
	// ModeForeground toggles Loading and surfaces errors.
	ModeForeground Mode = iota
	// ModeSilent never toggles Loading and only logs errors.
	ModeSilent
)

func (m Mode) String() string {
	if m == ModeSilent {
		return "silent"
	}
	return "foreground"
}

// Cache is safe for concurrent use.
type Cache struct {
	store  store.RecordStore
	filter models.Filter
	logger *logging.Logger
	now    func() time.Time

	mu           sync.RWMutex
	tasks        map[string]models.Task
	verification map[string]models.VerificationState
	pinned       map[string]int
	touched      map[string]uint64
	version      uint64
	loading      bool
	lastErr      error
	lastRefresh  time.Time
	onChange     func()
}

// Option configures a Cache.
type Option func(*Cache)

func WithLogger(l *logging.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithFilter overrides the default open-tasks view.
func WithFilter(f models.Filter) Option {
	return func(c *Cache) { c.filter = f }
}

// New creates an empty cache showing operator's open tasks.
func New(st store.RecordStore, operator string, opts ...Option) *Cache {
	c := &Cache{
		store:        st,
		filter:       models.OpenFilter(operator),
		logger:       logging.NopLogger(),
		now:          time.Now,
		tasks:        make(map[string]models.Task),
		verification: make(map[string]models.VerificationState),
		pinned:       make(map[string]int),
		touched:      make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("cache")
	return c
}

// OnChange registers a callback fired after every mutation. It is called
// without the lock held.
func (c *Cache) OnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

func (c *Cache) notify() {
	c.mu.RLock()
	fn := c.onChange
	c.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// Refresh reloads the list from the store. On error the previous tasks are
// kept. The error is always returned so pollers can back off; only
// foreground refreshes record it in LastError.
func (c *Cache) Refresh(ctx context.Context, mode Mode) error {
	c.mu.Lock()
	startVersion := c.version
	if mode == ModeForeground {
		c.loading = true
	}
	c.mu.Unlock()
	if mode == ModeForeground {
		c.notify()
	}

	records, err := c.store.List(ctx, c.filter)

	c.mu.Lock()
	if mode == ModeForeground {
		c.loading = false
	}
	if err != nil {
		if mode == ModeForeground {
			c.lastErr = err
		}
		c.mu.Unlock()
		c.logger.Warn("refresh failed", "mode", mode.String(), "error", err)
		if mode == ModeForeground {
			c.notify()
		}
		return err
	}

	next := make(map[string]models.Task, len(records))
	for _, r := range records {
		next[r.ID] = models.TaskFromRecord(r)
	}
	for id, v := range c.touched {
		if v <= startVersion {
			delete(c.touched, id)
			continue
		}
		c.keepLocal(next, id)
	}
	for id := range c.pinned {
		c.keepLocal(next, id)
	}
	for id, state := range c.verification {
		if t, ok := next[id]; ok {
			t.VerificationState = state
			next[id] = t
		}
	}

	c.tasks = next
	c.lastErr = nil
	c.lastRefresh = c.now()
	c.mu.Unlock()

	c.notify()
	return nil
}

// keepLocal carries the local state of id (present or absent) into next.
// Caller holds c.mu.
func (c *Cache) keepLocal(next map[string]models.Task, id string) {
	if t, ok := c.tasks[id]; ok {
		next[id] = t
	} else {
		delete(next, id)
	}
}

// Get returns a copy of the cached task.
func (c *Cache) Get(id string) (models.Task, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tasks[id]
	if !ok {
		return models.Task{}, false
	}
	return t.Clone(), true
}

// Put replaces one entry atomically.
func (c *Cache) Put(t models.Task) {
	c.mu.Lock()
	if state, ok := c.verification[t.ID]; ok {
		t.VerificationState = state
	} else {
		t.VerificationState = models.VerificationNone
	}
	c.tasks[t.ID] = t.Clone()
	c.markTouched(t.ID)
	c.mu.Unlock()
	c.notify()
}

// Patch applies upd to the cached entry, if present.
func (c *Cache) Patch(id string, upd models.Update) (models.Task, bool) {
	c.mu.Lock()
	t, ok := c.tasks[id]
	if !ok {
		c.mu.Unlock()
		return models.Task{}, false
	}
	t = upd.ApplyToTask(t, c.now())
	c.tasks[id] = t
	c.markTouched(id)
	c.mu.Unlock()
	c.notify()
	return t.Clone(), true
}

// Remove drops an entry.
func (c *Cache) Remove(id string) {
	c.mu.Lock()
	delete(c.tasks, id)
	delete(c.verification, id)
	c.markTouched(id)
	c.mu.Unlock()
	c.notify()
}

func (c *Cache) markTouched(id string) {
	c.version++
	c.touched[id] = c.version
}

// Pin keeps the local entry for id across refreshes until Unpin. Pins nest.
func (c *Cache) Pin(id string) {
	c.mu.Lock()
	c.pinned[id]++
	c.mu.Unlock()
}

func (c *Cache) Unpin(id string) {
	c.mu.Lock()
	if c.pinned[id] <= 1 {
		delete(c.pinned, id)
	} else {
		c.pinned[id]--
	}
	c.mu.Unlock()
}

// SetVerification sets the session-local claim state for id. VerificationNone
// clears it.
func (c *Cache) SetVerification(id string, state models.VerificationState) {
	c.mu.Lock()
	if state == models.VerificationNone {
		delete(c.verification, id)
	} else {
		c.verification[id] = state
	}
	if t, ok := c.tasks[id]; ok {
		t.VerificationState = state
		c.tasks[id] = t
	}
	c.mu.Unlock()
	c.notify()
}

// Verification returns the session-local claim state for id.
func (c *Cache) Verification(id string) models.VerificationState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.verification[id]; ok {
		return s
	}
	return models.VerificationNone
}

// Tasks returns the cached tasks: boosted first, then by priority, then by
// due date (undated last), then oldest first.
func (c *Cache) Tasks() []models.Task {
	c.mu.RLock()
	out := make([]models.Task, 0, len(c.tasks))
	for _, t := range c.tasks {
		out = append(out, t.Clone())
	}
	c.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
			return ra > rb
		}
		switch {
		case a.DueDate != nil && b.DueDate != nil && !a.DueDate.Equal(*b.DueDate):
			return a.DueDate.Before(*b.DueDate)
		case a.DueDate != nil && b.DueDate == nil:
			return true
		case a.DueDate == nil && b.DueDate != nil:
			return false
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}

// Len reports the number of cached tasks.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tasks)
}

func (c *Cache) Loading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loading
}

// LastError is the error of the last foreground refresh, cleared by any
// successful refresh.
func (c *Cache) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// LastRefresh is when the list was last loaded successfully.
func (c *Cache) LastRefresh() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRefresh
}

// LastDataChange is the newest UpdatedAt among the cached tasks, or zero when
// the cache is empty.
func (c *Cache) LastDataChange() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var newest time.Time
	for _, t := range c.tasks {
		if t.UpdatedAt.After(newest) {
			newest = t.UpdatedAt
		}
	}
	return newest
}
