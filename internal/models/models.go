// Package models defines the core domain types for callqueue.
package models

import (
	"sort"
	"time"
)

// TaskStatus represents the current state of a callback task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the status ends the task's life in the queue.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusCancelled
}

// Priority ranks tasks for the operator. Boosted is transient and is always
// downgraded to high by terminating or reassigning operations.
type Priority string

const (
	PriorityLow     Priority = "low"
	PriorityMedium  Priority = "medium"
	PriorityHigh    Priority = "high"
	PriorityUrgent  Priority = "urgent"
	PriorityBoosted Priority = "boosted"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent, PriorityBoosted:
		return true
	}
	return false
}

// Rank orders priorities; higher is more important.
func (p Priority) Rank() int {
	switch p {
	case PriorityBoosted:
		return 4
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// Cleared returns the priority with boosted downgraded to high.
func (p Priority) Cleared() Priority {
	if p == PriorityBoosted {
		return PriorityHigh
	}
	return p
}

// VerificationState is session-local claim progress for a task.
type VerificationState string

const (
	VerificationNone      VerificationState = "none"
	VerificationVerifying VerificationState = "verifying"
	VerificationFailed    VerificationState = "failed"
)

// HistoryAction names an entry in a task's audit history.
type HistoryAction string

const (
	ActionCreated      HistoryAction = "created"
	ActionStarted      HistoryAction = "started"
	ActionCompleted    HistoryAction = "completed"
	ActionPostponed    HistoryAction = "postponed"
	ActionCancelled    HistoryAction = "cancelled"
	ActionReachable    HistoryAction = "reachable"
	ActionNotReachable HistoryAction = "not_reachable"
)

// HistoryDisplayWindow is how far back history is shown to operators.
// Older entries stay in storage.
const HistoryDisplayWindow = 48 * time.Hour

// HistoryEntry is one append-only audit line on a task.
type HistoryEntry struct {
	ID             string        `json:"id" yaml:"id"`
	Timestamp      time.Time     `json:"timestamp" yaml:"timestamp"`
	Action         HistoryAction `json:"action" yaml:"action"`
	PreviousStatus TaskStatus    `json:"previous_status" yaml:"previous_status"`
	NewStatus      TaskStatus    `json:"new_status" yaml:"new_status"`
	CanUndo        bool          `json:"can_undo" yaml:"can_undo"`
	Details        string        `json:"details,omitempty" yaml:"details,omitempty"`
	Actor          string        `json:"actor,omitempty" yaml:"actor,omitempty"`
}

// Task is the UI-facing callback task, mapped from a Record.
type Task struct {
	ID                string            `json:"id"`
	ContactName       string            `json:"contact_name"`
	Phone             string            `json:"phone,omitempty"`
	Notes             string            `json:"notes,omitempty"`
	Outcome           string            `json:"outcome,omitempty"`
	Status            TaskStatus        `json:"status"`
	Priority          Priority          `json:"priority"`
	AssignedTo        string            `json:"assigned_to,omitempty"`
	DueDate           *time.Time        `json:"due_date,omitempty"`
	History           []HistoryEntry    `json:"history,omitempty"`
	VerificationState VerificationState `json:"verification_state"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Unassigned reports whether no operator holds the task.
func (t Task) Unassigned() bool {
	return t.AssignedTo == ""
}

// Clone returns a deep copy so callers can patch without sharing slices.
func (t Task) Clone() Task {
	c := t
	if t.DueDate != nil {
		d := *t.DueDate
		c.DueDate = &d
	}
	if t.History != nil {
		c.History = make([]HistoryEntry, len(t.History))
		copy(c.History, t.History)
	}
	return c
}

// RecentHistory returns the entries inside the display window, newest first.
func (t Task) RecentHistory(now time.Time) []HistoryEntry {
	cutoff := now.Add(-HistoryDisplayWindow)
	var out []HistoryEntry
	for _, h := range t.History {
		if h.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, h)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// Record is the raw row held by the record store.
type Record struct {
	ID          string         `json:"id" yaml:"id"`
	ContactName string         `json:"contact_name" yaml:"contact_name"`
	Phone       string         `json:"phone,omitempty" yaml:"phone,omitempty"`
	Notes       string         `json:"notes,omitempty" yaml:"notes,omitempty"`
	Outcome     string         `json:"outcome,omitempty" yaml:"outcome,omitempty"`
	Status      string         `json:"status" yaml:"status"`
	Priority    string         `json:"priority" yaml:"priority"`
	Assignee    string         `json:"assignee,omitempty" yaml:"assignee,omitempty"`
	DueDate     *time.Time     `json:"due_date,omitempty" yaml:"due_date,omitempty"`
	History     []HistoryEntry `json:"history,omitempty" yaml:"history,omitempty"`
	CreatedAt   time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" yaml:"updated_at"`
}

// Filter narrows a List call.
type Filter struct {
	// Statuses limits results to these statuses; empty means all.
	Statuses []TaskStatus `json:"statuses,omitempty"`
	// Assignee limits results to records held by this operator.
	Assignee string `json:"assignee,omitempty"`
	// IncludeUnassigned also returns unassigned records when Assignee is set.
	IncludeUnassigned bool `json:"include_unassigned,omitempty"`
}

// Matches reports whether r passes the filter.
func (f Filter) Matches(r Record) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if string(s) == r.Status {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Assignee != "" {
		if r.Assignee == f.Assignee {
			return true
		}
		return f.IncludeUnassigned && r.Assignee == ""
	}
	return true
}

// OpenFilter is the operator's working view: open tasks that are theirs or free.
func OpenFilter(operator string) Filter {
	return Filter{
		Statuses:          []TaskStatus{TaskStatusPending, TaskStatusInProgress},
		Assignee:          operator,
		IncludeUnassigned: true,
	}
}

// Decision is an audit record of an operator action and its outcome.
type Decision struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	TaskID     string    `json:"task_id,omitempty"`
	Operator   string    `json:"operator,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
