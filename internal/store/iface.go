package store

import (
	"context"
	"errors"

	"github.com/fentz26/callqueue/internal/models"
)

// ErrNotFound is returned by Update when the record does not exist.
var ErrNotFound = errors.New("record not found")

// RecordStore is the external system of record for tasks. It offers no
// transactions and no optimistic-lock tokens: concurrent Updates to the same
// field resolve as last-writer-wins, and callers must re-read to confirm.
type RecordStore interface {
	// List returns the records matching the filter.
	List(ctx context.Context, filter models.Filter) ([]models.Record, error)
	// GetByID returns the record, or nil with no error when it does not exist.
	GetByID(ctx context.Context, id string) (*models.Record, error)
	// Update applies a partial write. Returns ErrNotFound for unknown ids.
	Update(ctx context.Context, id string, upd models.Update) error
}

// Creator is implemented by backends that can insert new records.
type Creator interface {
	Create(ctx context.Context, rec models.Record) (*models.Record, error)
}
