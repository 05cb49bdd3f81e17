// Package memstore is an in-memory RecordStore with last-writer-wins
// semantics and optional injected latency. It backs the console's demo mode
// and the claim race tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fentz26/callqueue/internal/models"
	"github.com/fentz26/callqueue/internal/store"
	"github.com/google/uuid"
)

// Store holds records in a map guarded by a mutex.
type Store struct {
	mu      sync.RWMutex
	records map[string]models.Record

	latency    time.Duration
	writeDelay func(id string, upd models.Update) time.Duration
	now        func() time.Time
}

var (
	_ store.RecordStore = (*Store)(nil)
	_ store.Creator     = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithLatency delays every call by d before it touches the map.
func WithLatency(d time.Duration) Option {
	return func(s *Store) { s.latency = d }
}

// WithWriteDelay lets a test delay individual writes, to force a chosen
// ordering of racing updates.
func WithWriteDelay(fn func(id string, upd models.Update) time.Duration) Option {
	return func(s *Store) { s.writeDelay = fn }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		records: make(map[string]models.Record),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) wait(ctx context.Context, d time.Duration) error {
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

// Create inserts a record, filling defaults like the SQLite backend.
func (s *Store) Create(ctx context.Context, rec models.Record) (*models.Record, error) {
	if err := s.wait(ctx, s.latency); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Status == "" {
		rec.Status = string(models.TaskStatusPending)
	}
	if rec.Priority == "" {
		rec.Priority = string(models.PriorityMedium)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	s.mu.Lock()
	s.records[rec.ID] = copyRecord(rec)
	s.mu.Unlock()
	return &rec, nil
}

// List returns matching records, oldest first.
func (s *Store) List(ctx context.Context, filter models.Filter) ([]models.Record, error) {
	if err := s.wait(ctx, s.latency); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]models.Record, 0, len(s.records))
	for _, r := range s.records {
		if filter.Matches(r) {
			out = append(out, copyRecord(r))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// GetByID returns the record or nil when absent.
func (s *Store) GetByID(ctx context.Context, id string) (*models.Record, error) {
	if err := s.wait(ctx, s.latency); err != nil {
		return nil, err
	}
	s.mu.RLock()
	r, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	r = copyRecord(r)
	return &r, nil
}

// Update applies a partial write after any configured delay.
func (s *Store) Update(ctx context.Context, id string, upd models.Update) error {
	delay := s.latency
	if s.writeDelay != nil {
		delay += s.writeDelay(id, upd)
	}
	if err := s.wait(ctx, delay); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return store.ErrNotFound
	}
	s.records[id] = upd.ApplyToRecord(r, s.now().UTC())
	return nil
}

// Len reports how many records are held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func copyRecord(r models.Record) models.Record {
	if r.DueDate != nil {
		d := *r.DueDate
		r.DueDate = &d
	}
	if r.History != nil {
		h := make([]models.HistoryEntry, len(r.History))
		copy(h, r.History)
		r.History = h
	}
	return r
}
