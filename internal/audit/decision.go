// Package audit records operator decisions (claims, outcomes, transfers) with
// a hash of their inputs.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/fentz26/callqueue/internal/models"
	"github.com/google/uuid"
)

// Sink persists decisions. *store.Store implements it.
type Sink interface {
	WriteDecision(ctx context.Context, d models.Decision) error
}

// Writer builds and persists decision records.
type Writer struct {
	sink Sink
	now  func() time.Time
}

// NewWriter creates a writer over sink.
func NewWriter(sink Sink) *Writer {
	return &Writer{sink: sink, now: time.Now}
}

// Record writes a decision for a state-mutating action.
func (w *Writer) Record(ctx context.Context, action, operator, taskID string, inputs any, outcome, details string) (models.Decision, error) {
	d := models.Decision{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: hashInputs(inputs),
		Outcome:    outcome,
		TaskID:     taskID,
		Operator:   operator,
		Details:    details,
		Timestamp:  w.now().UTC(),
	}
	return d, w.sink.WriteDecision(ctx, d)
}

// hashInputs makes equal inputs produce equal hashes.
func hashInputs(inputs any) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Memory keeps decisions in a slice. Used when no database is configured.
type Memory struct {
	mu        sync.Mutex
	decisions []models.Decision
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) WriteDecision(_ context.Context, d models.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, d)
	return nil
}

// Decisions returns a copy of everything written so far.
func (m *Memory) Decisions() []models.Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Decision, len(m.decisions))
	copy(out, m.decisions)
	return out
}
