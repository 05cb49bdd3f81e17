package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskFromRecord_NormalizesUnknownEnums(t *testing.T) {
	task := TaskFromRecord(Record{ID: "r1", Status: "weird", Priority: ""})

	assert.Equal(t, TaskStatusPending, task.Status)
	assert.Equal(t, PriorityMedium, task.Priority)
	assert.Equal(t, VerificationNone, task.VerificationState)
}

func TestUpdate_ApplyToRecordAppendsHistory(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := Record{
		ID:       "r1",
		Status:   "pending",
		Priority: "boosted",
		History:  []HistoryEntry{{ID: "h1", Action: ActionCreated}},
	}

	upd := Update{
		Status:        StatusPtr(TaskStatusCompleted),
		Priority:      PriorityPtr(PriorityBoosted.Cleared()),
		AppendHistory: []HistoryEntry{{ID: "h2", Action: ActionCompleted}},
	}
	got := upd.ApplyToRecord(rec, now)

	assert.Equal(t, "completed", got.Status)
	assert.Equal(t, "high", got.Priority)
	require.Len(t, got.History, 2)
	assert.Equal(t, "h2", got.History[1].ID)
	assert.Equal(t, now, got.UpdatedAt)
	assert.Len(t, rec.History, 1, "source record must not be mutated")
}

func TestUpdate_ClearDueDate(t *testing.T) {
	due := time.Now()
	task := Task{ID: "t", DueDate: &due}

	got := Update{ClearDueDate: true}.ApplyToTask(task, time.Now())

	assert.Nil(t, got.DueDate)
	assert.NotNil(t, task.DueDate)
}

func TestRecentHistory_PrunesOldEntries(t *testing.T) {
	now := time.Now()
	task := Task{History: []HistoryEntry{
		{ID: "old", Timestamp: now.Add(-49 * time.Hour)},
		{ID: "a", Timestamp: now.Add(-2 * time.Hour)},
		{ID: "b", Timestamp: now.Add(-1 * time.Hour)},
	}}

	recent := task.RecentHistory(now)

	require.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].ID)
	assert.Equal(t, "a", recent[1].ID)
	assert.Len(t, task.History, 3)
}

func TestFilter_Matches(t *testing.T) {
	f := OpenFilter("alice")

	assert.True(t, f.Matches(Record{Status: "pending"}))
	assert.True(t, f.Matches(Record{Status: "in_progress", Assignee: "alice"}))
	assert.False(t, f.Matches(Record{Status: "pending", Assignee: "bob"}))
	assert.False(t, f.Matches(Record{Status: "completed", Assignee: "alice"}))
	assert.True(t, Filter{}.Matches(Record{Status: "cancelled", Assignee: "bob"}))
}

func TestPriority_Cleared(t *testing.T) {
	assert.Equal(t, PriorityHigh, PriorityBoosted.Cleared())
	assert.Equal(t, PriorityUrgent, PriorityUrgent.Cleared())
	assert.Greater(t, PriorityBoosted.Rank(), PriorityUrgent.Rank())
}
