package redisstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fentz26/callqueue/internal/models"
	"github.com/fentz26/callqueue/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	s, err := New(mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	return s, mr
}

func TestStore_CreateAndGet(t *testing.T) {
	s, mr := setupTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	rec, err := s.Create(ctx, models.Record{ContactName: "Linus", Phone: "555-0199"})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)

	got, err := s.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Linus", got.ContactName)
	assert.Equal(t, "medium", got.Priority)
	assert.True(t, mr.Exists("callqueue:record:"+rec.ID))
}

func TestStore_GetMissing(t *testing.T) {
	s, mr := setupTestStore(t)
	defer mr.Close()

	got, err := s.GetByID(context.Background(), "nope")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_UpdateAppliesPartialFields(t *testing.T) {
	s, mr := setupTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	rec, err := s.Create(ctx, models.Record{ContactName: "Barbara", Notes: "keep me"})
	require.NoError(t, err)

	due := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	err = s.Update(ctx, rec.ID, models.Update{
		Assignee:      models.StringPtr("alice"),
		DueDate:       &due,
		AppendHistory: []models.HistoryEntry{{ID: "h1", Action: models.ActionPostponed}},
	})
	require.NoError(t, err)

	got, err := s.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Assignee)
	assert.Equal(t, "keep me", got.Notes)
	require.NotNil(t, got.DueDate)
	assert.True(t, due.Equal(*got.DueDate))
	require.Len(t, got.History, 1)
}

func TestStore_UpdateMissing(t *testing.T) {
	s, mr := setupTestStore(t)
	defer mr.Close()

	err := s.Update(context.Background(), "nope", models.Update{Assignee: models.StringPtr("a")})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_ConcurrentDifferentFieldsBothSurvive(t *testing.T) {
	s, mr := setupTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	rec, err := s.Create(ctx, models.Record{ContactName: "Race"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, s.Update(ctx, rec.ID, models.Update{Assignee: models.StringPtr("alice")}))
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, s.Update(ctx, rec.ID, models.Update{Notes: models.StringPtr("called twice")}))
	}()
	wg.Wait()

	got, err := s.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Assignee)
	assert.Equal(t, "called twice", got.Notes)
}

func TestStore_ListFilters(t *testing.T) {
	s, mr := setupTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	_, err := s.Create(ctx, models.Record{ID: "a", Status: "pending"})
	require.NoError(t, err)
	_, err = s.Create(ctx, models.Record{ID: "b", Status: "in_progress", Assignee: "alice"})
	require.NoError(t, err)
	_, err = s.Create(ctx, models.Record{ID: "c", Status: "pending", Assignee: "bob"})
	require.NoError(t, err)

	got, err := s.List(ctx, models.OpenFilter("alice"))
	require.NoError(t, err)

	ids := make([]string, 0, len(got))
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	all, err := s.List(ctx, models.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStore_ListEmpty(t *testing.T) {
	s, mr := setupTestStore(t)
	defer mr.Close()

	got, err := s.List(context.Background(), models.Filter{})
	require.NoError(t, err)
	assert.Empty(t, got)
}
