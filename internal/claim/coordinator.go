// Package claim turns operator actions into optimistic local updates,
// store writes and, for claims, a verification re-read.
//
// The store has no locks. Two sessions can both pass the initial check and
// both write; the store keeps the later write. The re-read after
// PropagationDelay is what tells the losing session to roll back. The window
// between the check and the write is narrowed, never closed.
package claim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fentz26/callqueue/internal/cache"
	"github.com/fentz26/callqueue/internal/logging"
	"github.com/fentz26/callqueue/internal/metrics"
	"github.com/fentz26/callqueue/internal/models"
	"github.com/fentz26/callqueue/internal/namematch"
	"github.com/fentz26/callqueue/internal/realtime"
	"github.com/fentz26/callqueue/internal/store"
	"github.com/google/uuid"
)

// Result is the outcome of a claim.
type Result int

const (
	ClaimOK Result = iota
	// ClaimConflict: another operator holds the task. Not retried.
	ClaimConflict
	// ClaimFailed: our write was not observed on re-read, or a call failed.
	ClaimFailed
	// ClaimInFlight: a claim for the same task is already verifying.
	ClaimInFlight
)

func (r Result) String() string {
	switch r {
	case ClaimOK:
		return "ok"
	case ClaimConflict:
		return "conflict"
	case ClaimFailed:
		return "failed"
	case ClaimInFlight:
		return "in_flight"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Config tunes the coordinator.
type Config struct {
	// PropagationDelay is the wait between our write and the verifying re-read.
	PropagationDelay time.Duration
	// FailedClearAfter is how long a failed claim stays flagged.
	FailedClearAfter time.Duration
	// RetryOffset schedules the follow-up after an unreachable call.
	RetryOffset time.Duration
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		PropagationDelay: 1500 * time.Millisecond,
		FailedClearAfter: 10 * time.Second,
		RetryOffset:      2 * time.Hour,
	}
}

// Reloader asks for a cache refresh. The refresh scheduler implements it.
type Reloader interface {
	Reload(mode cache.Mode)
}

// Auditor records decisions. *audit.Writer implements it.
type Auditor interface {
	Record(ctx context.Context, action, operator, taskID string, inputs any, outcome, details string) (models.Decision, error)
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	store    store.RecordStore
	cache    *cache.Cache
	operator string
	cfg      Config

	logger    *logging.Logger
	reloader  Reloader
	publisher realtime.Publisher
	auditor   Auditor
	metrics   *metrics.Metrics
	now       func() time.Time

	// boostMu serializes boosts from snapshot to promotion.
	boostMu sync.Mutex

	mu           sync.Mutex
	inFlight     map[string]bool
	failedTimers map[string]*time.Timer
	closed       bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithConfig(cfg Config) Option {
	return func(c *Coordinator) { c.cfg = cfg }
}

func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

func WithReloader(r Reloader) Option {
	return func(c *Coordinator) { c.reloader = r }
}

func WithPublisher(p realtime.Publisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

func WithAuditor(a Auditor) Option {
	return func(c *Coordinator) { c.auditor = a }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a coordinator acting as operator.
func New(st store.RecordStore, ch *cache.Cache, operator string, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:        st,
		cache:        ch,
		operator:     operator,
		cfg:          DefaultConfig(),
		logger:       logging.NopLogger(),
		publisher:    realtime.Nop{},
		now:          time.Now,
		inFlight:     make(map[string]bool),
		failedTimers: make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("claim").WithOperator(operator)
	return c
}

// Operator returns the name written as assignee.
func (c *Coordinator) Operator() string {
	return c.operator
}

// SetReloader wires the reloader after construction, for callers that build
// the scheduler from the coordinator's cache.
func (c *Coordinator) SetReloader(r Reloader) {
	c.mu.Lock()
	c.reloader = r
	c.mu.Unlock()
}

// Close stops pending failed-flag timers.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, t := range c.failedTimers {
		t.Stop()
		delete(c.failedTimers, id)
	}
}

func (c *Coordinator) isSelf(name string) bool {
	return name != "" && namematch.Equal(name, c.operator)
}

func (c *Coordinator) reload(mode cache.Mode) {
	c.mu.Lock()
	r := c.reloader
	c.mu.Unlock()
	if r != nil {
		r.Reload(mode)
	}
}

// Lookup returns the task from the cache, falling back to the store.
func (c *Coordinator) Lookup(ctx context.Context, id string) (models.Task, error) {
	if t, ok := c.cache.Get(id); ok {
		return t, nil
	}
	rec, err := c.store.GetByID(ctx, id)
	if err != nil {
		return models.Task{}, fmt.Errorf("get task %s: %w", id, err)
	}
	if rec == nil {
		return models.Task{}, ErrTaskNotFound
	}
	return models.TaskFromRecord(*rec), nil
}

// Claim makes this operator the sole assignee of the task, or reports why
// not. A second Claim for a task that is still verifying returns
// ClaimInFlight without touching the store.
func (c *Coordinator) Claim(ctx context.Context, id string) (Result, error) {
	c.mu.Lock()
	if c.inFlight[id] || c.cache.Verification(id) == models.VerificationVerifying {
		c.mu.Unlock()
		return ClaimInFlight, nil
	}

	original, cached := c.cache.Get(id)
	if cached && original.AssignedTo != "" {
		c.mu.Unlock()
		if c.isSelf(original.AssignedTo) {
			return ClaimFailed, ErrAlreadyAssigned
		}
		c.logger.Info("claim rejected locally", "task_id", id, "assignee", original.AssignedTo)
		c.finishClaim(ctx, id, ClaimConflict, "held by "+original.AssignedTo)
		c.reload(cache.ModeForeground)
		return ClaimConflict, nil
	}

	c.inFlight[id] = true
	if t, ok := c.failedTimers[id]; ok {
		t.Stop()
		delete(c.failedTimers, id)
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inFlight, id)
		c.mu.Unlock()
	}()

	c.cache.Pin(id)
	defer c.cache.Unpin(id)
	c.cache.SetVerification(id, models.VerificationVerifying)
	if cached {
		c.cache.Patch(id, models.Update{Assignee: models.StringPtr(c.operator)})
	}

	revert := func() {
		if cached {
			c.cache.Put(original)
		}
	}

	rec, err := c.store.GetByID(ctx, id)
	if err != nil {
		revert()
		c.cache.SetVerification(id, models.VerificationNone)
		c.finishClaim(ctx, id, ClaimFailed, err.Error())
		return ClaimFailed, fmt.Errorf("fetch task %s: %w", id, err)
	}
	if rec == nil {
		c.cache.Remove(id)
		c.finishClaim(ctx, id, ClaimFailed, "not found")
		c.reload(cache.ModeForeground)
		return ClaimFailed, ErrTaskNotFound
	}
	if rec.Assignee != "" && !c.isSelf(rec.Assignee) {
		revert()
		c.cache.SetVerification(id, models.VerificationNone)
		c.logger.Info("claim lost before write", "task_id", id, "assignee", rec.Assignee)
		c.finishClaim(ctx, id, ClaimConflict, "held by "+rec.Assignee)
		c.reload(cache.ModeForeground)
		return ClaimConflict, nil
	}

	if err := c.store.Update(ctx, id, models.Update{Assignee: models.StringPtr(c.operator)}); err != nil {
		revert()
		c.cache.SetVerification(id, models.VerificationNone)
		c.finishClaim(ctx, id, ClaimFailed, err.Error())
		return ClaimFailed, fmt.Errorf("write assignee for %s: %w", id, err)
	}

	if err := sleep(ctx, c.cfg.PropagationDelay); err != nil {
		revert()
		c.cache.SetVerification(id, models.VerificationNone)
		c.finishClaim(context.WithoutCancel(ctx), id, ClaimFailed, "cancelled during verification")
		return ClaimFailed, err
	}

	verified, err := c.store.GetByID(ctx, id)
	if err != nil || verified == nil || !c.isSelf(verified.Assignee) {
		revert()
		c.markFailed(id)
		detail := "not confirmed"
		if verified != nil {
			detail = "overwritten by " + verified.Assignee
		}
		c.logger.Warn("claim verification failed", "task_id", id, "detail", detail, "error", err)
		c.finishClaim(ctx, id, ClaimFailed, detail)
		if err != nil {
			return ClaimFailed, fmt.Errorf("verify task %s: %w", id, err)
		}
		return ClaimFailed, nil
	}

	entry := c.newEntry(models.ActionCreated, models.TaskStatus(verified.Status), models.TaskStatus(verified.Status),
		"claimed by "+c.operator)
	task := models.TaskFromRecord(*verified)
	task.History = append(task.History, entry)
	c.cache.SetVerification(id, models.VerificationNone)
	c.cache.Put(task)

	if err := c.store.Update(ctx, id, models.Update{AppendHistory: []models.HistoryEntry{entry}}); err != nil {
		c.logger.Warn("claim history not persisted", "task_id", id, "error", err)
	}

	c.logger.Info("task claimed", "task_id", id)
	c.publish(ctx, realtime.NewEvent(realtime.TypeUpdate, id, c.operator))
	c.finishClaim(ctx, id, ClaimOK, "")
	return ClaimOK, nil
}

// markFailed flags the task and clears the flag after FailedClearAfter.
func (c *Coordinator) markFailed(id string) {
	c.cache.SetVerification(id, models.VerificationFailed)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if t, ok := c.failedTimers[id]; ok {
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(c.cfg.FailedClearAfter, func() {
		c.mu.Lock()
		current := c.failedTimers[id] == timer
		if current {
			delete(c.failedTimers, id)
		}
		c.mu.Unlock()
		if current && c.cache.Verification(id) == models.VerificationFailed {
			c.cache.SetVerification(id, models.VerificationNone)
		}
	})
	c.failedTimers[id] = timer
}

func (c *Coordinator) finishClaim(ctx context.Context, id string, res Result, details string) {
	c.metrics.ClaimResult(res.String())
	c.audit(ctx, "task.claim", id, id, res.String(), details)
}

func (c *Coordinator) newEntry(action models.HistoryAction, prev, next models.TaskStatus, details string) models.HistoryEntry {
	return models.HistoryEntry{
		ID:             uuid.New().String(),
		Timestamp:      c.now().UTC(),
		Action:         action,
		PreviousStatus: prev,
		NewStatus:      next,
		CanUndo:        false,
		Details:        details,
		Actor:          c.operator,
	}
}

func (c *Coordinator) publish(ctx context.Context, ev realtime.Event) {
	if err := c.publisher.Publish(ctx, ev); err != nil {
		c.logger.Debug("event not published", "type", ev.Payload.Type, "error", err)
	}
}

func (c *Coordinator) audit(ctx context.Context, action, taskID string, inputs any, outcome, details string) {
	if c.auditor == nil {
		return
	}
	if _, err := c.auditor.Record(ctx, action, c.operator, taskID, inputs, outcome, details); err != nil {
		c.logger.Warn("audit write failed", "action", action, "task_id", taskID, "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
