package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/fentz26/callqueue/internal/models"
	"github.com/fentz26/callqueue/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_CreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	s := New()

	rec, err := s.Create(ctx, models.Record{ContactName: "Grace"})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "pending", rec.Status)

	require.NoError(t, s.Update(ctx, rec.ID, models.Update{
		Assignee:      models.StringPtr("alice"),
		AppendHistory: []models.HistoryEntry{{ID: "h1", Action: models.ActionCreated}},
	}))

	got, err := s.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.Assignee)
	assert.Len(t, got.History, 1)

	missing, err := s.GetByID(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.ErrorIs(t, s.Update(ctx, "missing", models.Update{}), store.ErrNotFound)
}

func TestStore_ReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	rec, err := s.Create(ctx, models.Record{ID: "r1", History: []models.HistoryEntry{{ID: "h1"}}})
	require.NoError(t, err)

	got, _ := s.GetByID(ctx, rec.ID)
	got.History[0].ID = "mutated"

	again, _ := s.GetByID(ctx, rec.ID)
	assert.Equal(t, "h1", again.History[0].ID)
}

func TestStore_ListFilters(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, _ = s.Create(ctx, models.Record{ID: "free", Status: "pending"})
	_, _ = s.Create(ctx, models.Record{ID: "theirs", Status: "pending", Assignee: "bob"})
	_, _ = s.Create(ctx, models.Record{ID: "done", Status: "completed"})

	got, err := s.List(ctx, models.OpenFilter("alice"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "free", got[0].ID)
	assert.Equal(t, 3, s.Len())
}

func TestStore_WriteDelayOrdersRacingWrites(t *testing.T) {
	ctx := context.Background()
	s := New(WithWriteDelay(func(id string, upd models.Update) time.Duration {
		if upd.Assignee != nil && *upd.Assignee == "alice" {
			return 30 * time.Millisecond
		}
		return 0
	}))
	_, _ = s.Create(ctx, models.Record{ID: "r1"})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Update(ctx, "r1", models.Update{Assignee: models.StringPtr("alice")})
	}()
	require.NoError(t, s.Update(ctx, "r1", models.Update{Assignee: models.StringPtr("bob")}))
	<-done

	got, _ := s.GetByID(ctx, "r1")
	assert.Equal(t, "alice", got.Assignee, "the later write wins")
}

func TestStore_LatencyHonoursContext(t *testing.T) {
	s := New(WithLatency(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := s.List(ctx, models.Filter{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
