// Package redisstore keeps records as JSON blobs in Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fentz26/callqueue/internal/models"
	"github.com/fentz26/callqueue/internal/store"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "callqueue:"
	maxTxRetries  = 8
)

// Store is a Redis-backed RecordStore. Each record lives under
// <prefix>record:<id>; the id set <prefix>records indexes them.
type Store struct {
	client *redis.Client
	prefix string
}

var (
	_ store.RecordStore = (*Store)(nil)
	_ store.Creator     = (*Store)(nil)
)

// New connects to Redis and verifies the connection.
func New(addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewWithClient(client), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client, prefix: defaultPrefix}
}

// Client exposes the underlying connection so the realtime channel can share it.
func (s *Store) Client() *redis.Client {
	return s.client
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) recordKey(id string) string {
	return s.prefix + "record:" + id
}

func (s *Store) indexKey() string {
	return s.prefix + "records"
}

// Create stores a new record.
func (s *Store) Create(ctx context.Context, rec models.Record) (*models.Record, error) {
	now := time.Now().UTC()
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

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.recordKey(rec.ID), data, 0)
	pipe.SAdd(ctx, s.indexKey(), rec.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("create record: %w", err)
	}
	return &rec, nil
}

// GetByID returns the record, or nil when absent.
func (s *Store) GetByID(ctx context.Context, id string) (*models.Record, error) {
	data, err := s.client.Get(ctx, s.recordKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get record: %w", err)
	}

	var rec models.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &rec, nil
}

// List returns matching records, oldest first.
func (s *Store) List(ctx context.Context, filter models.Filter) ([]models.Record, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	if len(ids) == 0 {
		return []models.Record{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.recordKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("fetch records: %w", err)
	}

	records := make([]models.Record, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}
		var rec models.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		if filter.Matches(rec) {
			records = append(records, rec)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

// Update applies a partial write under WATCH so concurrent writers to
// different fields both survive; the same field resolves last-writer-wins.
func (s *Store) Update(ctx context.Context, id string, upd models.Update) error {
	key := s.recordKey(id)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return store.ErrNotFound
			}
			return err
		}
		var rec models.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("unmarshal record: %w", err)
		}

		rec = upd.ApplyToRecord(rec, time.Now().UTC())
		out, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err != nil {
			return fmt.Errorf("update record: %w", err)
		}
		return nil
	}
	return fmt.Errorf("update record %s: too much contention", id)
}
