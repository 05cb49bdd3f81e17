package claim

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fentz26/callqueue/internal/models"
	"github.com/fentz26/callqueue/internal/realtime"
	"golang.org/x/sync/errgroup"
)

// BoostVariant picks what a boost does to the target's status.
type BoostVariant int

const (
	// BoostPhone starts work on the task: status becomes in_progress.
	BoostPhone BoostVariant = iota
	// BoostUrgent leaves the status as it is.
	BoostUrgent
)

func (v BoostVariant) String() string {
	if v == BoostUrgent {
		return "urgent"
	}
	return "phone"
}

// clearBoost sets the priority to high when the task is boosted.
func clearBoost(t models.Task, upd *models.Update) {
	if t.Priority == models.PriorityBoosted {
		upd.Priority = models.PriorityPtr(t.Priority.Cleared())
	}
}

// apply writes upd to the store and, once accepted, patches or removes the
// cached task. Nothing local changes when the write fails.
func (c *Coordinator) apply(ctx context.Context, op string, task models.Task, upd models.Update, remove bool, ev realtime.Event, details string) (models.Task, error) {
	err := c.store.Update(ctx, task.ID, upd)
	c.metrics.Operation(op, err)
	if err != nil {
		c.logger.Warn("store write failed", "op", op, "task_id", task.ID, "error", err)
		c.audit(ctx, "task."+op, task.ID, upd, "error", err.Error())
		return task, fmt.Errorf("%s task %s: %w", op, task.ID, err)
	}

	updated := upd.ApplyToTask(task, c.now())
	switch {
	case remove:
		c.cache.Remove(task.ID)
	default:
		if patched, ok := c.cache.Patch(task.ID, upd); ok {
			updated = patched
		} else {
			c.cache.Put(updated)
		}
	}

	c.logger.Info("task updated", "op", op, "task_id", task.ID)
	c.publish(ctx, ev)
	c.audit(ctx, "task."+op, task.ID, upd, "ok", details)
	return updated, nil
}

// RecordCallOutcome logs a call attempt. A reachable contact moves the task
// to in_progress; an unreachable one keeps it pending with a follow-up due
// RetryOffset from now.
func (c *Coordinator) RecordCallOutcome(ctx context.Context, task models.Task, reachable bool) (models.Task, error) {
	var upd models.Update
	if reachable {
		upd = models.Update{
			Status: models.StatusPtr(models.TaskStatusInProgress),
			AppendHistory: []models.HistoryEntry{
				c.newEntry(models.ActionReachable, task.Status, models.TaskStatusInProgress, ""),
			},
		}
	} else {
		due := c.now().Add(c.cfg.RetryOffset).UTC()
		upd = models.Update{
			Status:  models.StatusPtr(models.TaskStatusPending),
			DueDate: &due,
			AppendHistory: []models.HistoryEntry{
				c.newEntry(models.ActionNotReachable, task.Status, models.TaskStatusPending,
					"retry at "+due.Format(time.RFC3339)),
			},
		}
		clearBoost(task, &upd)
	}
	return c.apply(ctx, "call_outcome", task, upd, false,
		realtime.NewEvent(realtime.TypeUpdate, task.ID, c.operator), fmt.Sprintf("reachable=%t", reachable))
}

// Complete closes the task with summary as its outcome and drops it locally.
func (c *Coordinator) Complete(ctx context.Context, task models.Task, summary string) (models.Task, error) {
	summary = strings.TrimSpace(summary)
	upd := models.Update{
		Status:  models.StatusPtr(models.TaskStatusCompleted),
		Outcome: models.StringPtr(summary),
		AppendHistory: []models.HistoryEntry{
			c.newEntry(models.ActionCompleted, task.Status, models.TaskStatusCompleted, summary),
		},
	}
	clearBoost(task, &upd)
	return c.apply(ctx, "complete", task, upd, true,
		realtime.NewEvent(realtime.TypeUpdate, task.ID, c.operator), summary)
}

// Abandon cancels the task and drops it locally.
func (c *Coordinator) Abandon(ctx context.Context, task models.Task, reason string) (models.Task, error) {
	reason = strings.TrimSpace(reason)
	upd := models.Update{
		Status: models.StatusPtr(models.TaskStatusCancelled),
		AppendHistory: []models.HistoryEntry{
			c.newEntry(models.ActionCancelled, task.Status, models.TaskStatusCancelled, reason),
		},
	}
	clearBoost(task, &upd)
	return c.apply(ctx, "abandon", task, upd, true,
		realtime.NewEvent(realtime.TypeUpdate, task.ID, c.operator), reason)
}

// Transfer hands the task to toUser. It stays visible only when toUser is
// this operator.
func (c *Coordinator) Transfer(ctx context.Context, task models.Task, toUser, reason string) (models.Task, error) {
	toUser = strings.TrimSpace(toUser)
	if toUser == "" {
		return task, ErrInvalidTransfer
	}

	from := task.AssignedTo
	if from == "" {
		from = c.operator
	}
	note := fmt.Sprintf("transferred from %s to %s", from, toUser)
	if r := strings.TrimSpace(reason); r != "" {
		note += ": " + r
	}

	upd := models.Update{
		Assignee: models.StringPtr(toUser),
		Status:   models.StatusPtr(models.TaskStatusPending),
		AppendHistory: []models.HistoryEntry{
			c.newEntry(models.ActionCreated, task.Status, models.TaskStatusPending, note),
		},
	}
	clearBoost(task, &upd)

	ev := realtime.NewEvent(realtime.TypeTransfer, task.ID, c.operator)
	ev.Payload.ToUser = toUser
	ev.Payload.FromUser = from
	return c.apply(ctx, "transfer", task, upd, !c.isSelf(toUser), ev, note)
}

// Unassign releases the task back to the shared queue. It stays visible.
func (c *Coordinator) Unassign(ctx context.Context, task models.Task) (models.Task, error) {
	upd := models.Update{
		Assignee: models.StringPtr(""),
		Status:   models.StatusPtr(models.TaskStatusPending),
	}
	clearBoost(task, &upd)

	ev := realtime.NewEvent(realtime.TypeUnassign, task.ID, c.operator)
	ev.Payload.FromUser = task.AssignedTo
	return c.apply(ctx, "unassign", task, upd, false, ev, "")
}

// Postpone moves the due date to until, which must be in the future. The
// date is checked before any store call.
func (c *Coordinator) Postpone(ctx context.Context, task models.Task, until time.Time, note string) (models.Task, error) {
	if until.IsZero() || !until.After(c.now()) {
		return task, ErrInvalidPostpone
	}
	until = until.UTC()
	details := "until " + until.Format(time.RFC3339)
	if n := strings.TrimSpace(note); n != "" {
		details += ": " + n
	}

	upd := models.Update{
		Status:  models.StatusPtr(models.TaskStatusPending),
		DueDate: &until,
		AppendHistory: []models.HistoryEntry{
			c.newEntry(models.ActionPostponed, task.Status, models.TaskStatusPending, details),
		},
	}
	clearBoost(task, &upd)
	return c.apply(ctx, "postpone", task, upd, false,
		realtime.NewEvent(realtime.TypeUpdate, task.ID, c.operator), details)
}

// demotion returns the update that takes other out of the way of a boost,
// or false when it needs none.
func demotion(other models.Task) (models.Update, bool) {
	switch {
	case other.Status == models.TaskStatusInProgress:
		upd := models.Update{Status: models.StatusPtr(models.TaskStatusPending)}
		if other.Priority == models.PriorityUrgent || other.Priority == models.PriorityBoosted {
			upd.Priority = models.PriorityPtr(models.PriorityHigh)
		}
		return upd, true
	case other.Priority == models.PriorityBoosted:
		return models.Update{Priority: models.PriorityPtr(models.PriorityHigh)}, true
	}
	return models.Update{}, false
}

// Boost makes task the single boosted task, due now and assigned to this
// operator. Every other cached task that is in_progress or boosted is
// demoted first; all demotions finish before the promotion is written, so
// no two tasks report in_progress at once. Concurrent boosts run one after
// the other, each seeing the previous promotion in the cache.
func (c *Coordinator) Boost(ctx context.Context, task models.Task, variant BoostVariant) (models.Task, error) {
	c.boostMu.Lock()
	defer c.boostMu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, other := range c.cache.Tasks() {
		if other.ID == task.ID {
			continue
		}
		upd, ok := demotion(other)
		if !ok {
			continue
		}
		other := other
		g.Go(func() error {
			_, err := c.apply(gctx, "demote", other, upd, false,
				realtime.NewEvent(realtime.TypeUpdate, other.ID, c.operator), "boost of "+task.ID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return task, fmt.Errorf("boost %s: %w", task.ID, err)
	}

	now := c.now().UTC()
	upd := models.Update{
		Priority: models.PriorityPtr(models.PriorityBoosted),
		DueDate:  &now,
		Assignee: models.StringPtr(c.operator),
	}
	if variant == BoostPhone {
		upd.Status = models.StatusPtr(models.TaskStatusInProgress)
		upd.AppendHistory = []models.HistoryEntry{
			c.newEntry(models.ActionStarted, task.Status, models.TaskStatusInProgress, "boosted"),
		}
	}
	return c.apply(ctx, "boost", task, upd, false,
		realtime.NewEvent(realtime.TypeUpdate, task.ID, c.operator), variant.String())
}
