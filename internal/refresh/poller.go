package refresh

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/fentz26/callqueue/internal/metrics"
)

// PollingState is a snapshot of the poller.
type PollingState struct {
	Enabled    bool
	ErrorCount int
	Interval   time.Duration
	LastPoll   time.Time
	LastError  error
}

// Poller runs fn on a single timer that is re-armed after every run, so a
// new back-off applies from the very next cycle.
type Poller struct {
	cfg        Config
	fn         func(ctx context.Context) error
	active     func() bool
	dialogOpen func() bool
	metrics    *metrics.Metrics
	now        func() time.Time

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	timer      *time.Timer
	generation uint64
	enabled    bool
	errorCount int
	interval   time.Duration
	lastPoll   time.Time
	lastErr    error
}

// NewPoller builds a stopped poller. active and dialogOpen may be nil.
func NewPoller(cfg Config, fn func(ctx context.Context) error, active, dialogOpen func() bool, m *metrics.Metrics) *Poller {
	return &Poller{
		cfg:        cfg.withDefaults(),
		fn:         fn,
		active:     active,
		dialogOpen: dialogOpen,
		metrics:    m,
		now:        time.Now,
	}
}

// Start arms the first poll. Calling Start on a running poller is a no-op.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enabled {
		return
	}
	p.enabled = true
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.arm()
}

// Stop clears the pending timer. A poll already running finishes but does
// not re-arm.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.enabled {
		return
	}
	p.enabled = false
	p.generation++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.cancel != nil {
		p.cancel()
	}
}

// State returns a snapshot.
func (p *Poller) State() PollingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PollingState{
		Enabled:    p.enabled,
		ErrorCount: p.errorCount,
		Interval:   p.interval,
		LastPoll:   p.lastPoll,
		LastError:  p.lastErr,
	}
}

// nextInterval is base × multiplier^errorCount clamped to
// [MinInterval, MaxInterval]. Caller holds p.mu.
func (p *Poller) nextInterval() time.Duration {
	base := p.cfg.IdleInterval
	if p.active == nil || p.active() {
		base = p.cfg.ActiveInterval
	}
	d := float64(base) * math.Pow(p.cfg.BackoffMultiplier, float64(p.errorCount))
	if d > float64(p.cfg.MaxInterval) {
		return p.cfg.MaxInterval
	}
	if out := time.Duration(d); out > p.cfg.MinInterval {
		return out
	}
	return p.cfg.MinInterval
}

// arm replaces the timer. Caller holds p.mu.
func (p *Poller) arm() {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.generation++
	gen := p.generation
	p.interval = p.nextInterval()
	p.timer = time.AfterFunc(p.interval, func() { p.poll(gen) })
	p.metrics.PollState(p.interval, p.errorCount)
}

func (p *Poller) poll(gen uint64) {
	p.mu.Lock()
	if !p.enabled || gen != p.generation {
		p.mu.Unlock()
		return
	}
	ctx := p.ctx
	p.mu.Unlock()

	if p.dialogOpen != nil && p.dialogOpen() {
		p.mu.Lock()
		if p.enabled && gen == p.generation {
			p.arm()
		}
		p.mu.Unlock()
		return
	}

	err := p.fn(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.enabled || gen != p.generation {
		return
	}
	p.lastPoll = p.now()
	p.lastErr = err
	if err != nil {
		p.errorCount++
	} else {
		p.errorCount = 0
	}
	p.arm()
}
