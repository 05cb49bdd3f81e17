package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/fentz26/callqueue/internal/audit"
	"github.com/fentz26/callqueue/internal/config"
	"github.com/fentz26/callqueue/internal/logging"
	"github.com/fentz26/callqueue/internal/models"
	"github.com/fentz26/callqueue/internal/namematch"
	"github.com/fentz26/callqueue/internal/realtime"
	"github.com/fentz26/callqueue/internal/store"
	"github.com/fentz26/callqueue/internal/store/httpstore"
	"github.com/fentz26/callqueue/internal/store/memstore"
	"github.com/fentz26/callqueue/internal/store/redisstore"
)

// backend is an open record store plus whatever it needs closed.
type backend struct {
	store   store.RecordStore
	redis   *redis.Client
	closers []func() error
}

func openBackend(c *config.Config, operator string) (*backend, error) {
	b := &backend{}
	switch c.Store.Backend {
	case "sqlite":
		s, err := store.New(c.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		b.store = s
		b.closers = append(b.closers, s.Close)
	case "redis":
		s, err := redisstore.New(c.Store.RedisAddr, c.Store.RedisPassword, c.Store.RedisDB)
		if err != nil {
			return nil, err
		}
		b.store = s
		b.redis = s.Client()
		b.closers = append(b.closers, s.Close)
	case "http":
		b.store = httpstore.NewClient(c.Store.APIURL, operator)
	case "memory":
		b.store = memstore.New(memstore.WithLatency(c.Store.MemoryLatency))
	default:
		return nil, fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	return b, nil
}

func (b *backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

func (b *backend) creator() (store.Creator, error) {
	cr, ok := b.store.(store.Creator)
	if !ok {
		return nil, errors.New("store backend cannot create records")
	}
	return cr, nil
}

// auditSink prefers the store itself; other backends keep decisions in a
// local sqlite file next to the config.
func (b *backend) auditSink() (audit.Sink, error) {
	if sink, ok := b.store.(audit.Sink); ok {
		return sink, nil
	}
	s, err := store.New(filepath.Join(config.ConfigDir(), "audit.db"))
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	b.closers = append(b.closers, s.Close)
	return s, nil
}

// realtimeFor returns where this session publishes and where it listens.
// With the sse transport the record server publishes after each write, so
// the session itself stays quiet.
func (b *backend) realtimeFor(c *config.Config, logger *logging.Logger) (realtime.Publisher, realtime.Subscriber) {
	switch c.RealtimeTransport() {
	case "redis":
		client := b.redis
		if client == nil {
			client = redis.NewClient(&redis.Options{
				Addr:     c.Store.RedisAddr,
				Password: c.Store.RedisPassword,
				DB:       c.Store.RedisDB,
			})
			b.closers = append(b.closers, client.Close)
		}
		ch := realtime.NewRedisChannel(client, c.Realtime.Topic, logger)
		return ch, ch
	case "sse":
		url := strings.TrimRight(c.Store.APIURL, "/") + "/events"
		return realtime.Nop{}, realtime.NewSSEClient(url, logger)
	default:
		return realtime.Nop{}, nil
	}
}

// knownOperators merges configured colleagues with everyone currently
// holding a record.
func knownOperators(ctx context.Context, st store.RecordStore, configured []string) []string {
	names := append([]string(nil), configured...)
	recs, err := st.List(ctx, models.Filter{})
	if err == nil {
		for _, r := range recs {
			names = append(names, r.Assignee)
		}
	}
	return namematch.Distinct(names)
}
