package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/fentz26/callqueue/internal/cache"
	"github.com/fentz26/callqueue/internal/logging"
	"github.com/fentz26/callqueue/internal/models"
	"github.com/fentz26/callqueue/internal/namematch"
	"github.com/fentz26/callqueue/internal/realtime"
)

// HintHandler turns realtime events into refresh requests after a settle
// delay. Events are hints only; the refresh re-reads the store.
type HintHandler struct {
	operator   string
	settle     time.Duration
	request    func(cache.Mode)
	dialogOpen func() bool
	focused    func() (models.Task, bool)
	logger     *logging.Logger

	mu       sync.Mutex
	pending  map[*time.Timer]struct{}
	disabled bool
}

// NewHintHandler builds a handler for operator. dialogOpen and focused may
// be nil.
func NewHintHandler(operator string, settle time.Duration, request func(cache.Mode), dialogOpen func() bool, focused func() (models.Task, bool), logger *logging.Logger) *HintHandler {
	if settle <= 0 {
		settle = DefaultConfig().HintSettle
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &HintHandler{
		operator:   operator,
		settle:     settle,
		request:    request,
		dialogOpen: dialogOpen,
		focused:    focused,
		logger:     logger.WithComponent("hints"),
		pending:    make(map[*time.Timer]struct{}),
	}
}

// Handle schedules ev for dispatch after the settle delay.
func (h *HintHandler) Handle(ev realtime.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disabled {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(h.settle, func() {
		h.mu.Lock()
		_, live := h.pending[t]
		delete(h.pending, t)
		disabled := h.disabled
		h.mu.Unlock()
		if live && !disabled {
			h.dispatch(ev)
		}
	})
	h.pending[t] = struct{}{}
}

// Run feeds events from sub into Handle until ctx is done or the stream
// closes.
func (h *HintHandler) Run(ctx context.Context, sub realtime.Subscriber) error {
	events, err := sub.Subscribe(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			h.Handle(ev)
		}
	}
}

func (h *HintHandler) dispatch(ev realtime.Event) {
	if h.dialogOpen != nil && h.dialogOpen() {
		h.logger.Debug("hint discarded, dialog open", "type", ev.Payload.Type, "task_id", ev.Payload.TaskID)
		return
	}
	mode, ok := h.decide(ev)
	if !ok {
		return
	}
	h.logger.Debug("hint", "type", ev.Payload.Type, "task_id", ev.Payload.TaskID, "mode", mode.String())
	h.request(mode)
}

// decide maps an event to a refresh mode. Events this operator caused are
// already reflected locally and are ignored.
func (h *HintHandler) decide(ev realtime.Event) (cache.Mode, bool) {
	p := ev.Payload
	if p.Actor != "" && namematch.Equal(p.Actor, h.operator) {
		return 0, false
	}
	switch p.Type {
	case realtime.TypeTransfer:
		if namematch.Equal(p.ToUser, h.operator) {
			return cache.ModeForeground, true
		}
		if p.ToUser == "" {
			return cache.ModeForeground, true
		}
		return cache.ModeSilent, true
	case realtime.TypeUnassign:
		return cache.ModeForeground, true
	default:
		if h.focused == nil {
			return cache.ModeForeground, true
		}
		task, ok := h.focused()
		if !ok || task.Unassigned() {
			return cache.ModeForeground, true
		}
		return cache.ModeSilent, true
	}
}

// Disable drops every pending hint.
func (h *HintHandler) Disable() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disabled = true
	for t := range h.pending {
		t.Stop()
		delete(h.pending, t)
	}
}
