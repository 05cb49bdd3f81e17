package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/fentz26/callqueue/internal/cache"
	"github.com/fentz26/callqueue/internal/logging"
	"github.com/fentz26/callqueue/internal/metrics"
	"github.com/fentz26/callqueue/internal/models"
)

// Refresher is the cache refresh entry point. *cache.Cache implements it.
type Refresher interface {
	Refresh(ctx context.Context, mode cache.Mode) error
}

type request struct {
	mode   cache.Mode
	source Source
	reply  chan error
}

// Scheduler owns the refresh executor and the four detectors feeding it.
type Scheduler struct {
	target     Refresher
	cfg        Config
	operator   string
	logger     *logging.Logger
	metrics    *metrics.Metrics
	dialogOpen func() bool
	focused    func() (models.Task, bool)
	lastData   func() time.Time
	focusable  bool

	activity   *ActivityDetector
	visibility *VisibilityDetector
	poller     *Poller
	hints      *HintHandler

	requests chan request

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	lastRefresh time.Time
	started     bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithConfig(cfg Config) Option {
	return func(s *Scheduler) { s.cfg = cfg }
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithDialogGate sets the function read before every timer fire and hint.
func WithDialogGate(open func() bool) Option {
	return func(s *Scheduler) { s.dialogOpen = open }
}

// WithFocus supplies the task the operator is looking at, for hint routing.
func WithFocus(fn func() (models.Task, bool)) Option {
	return func(s *Scheduler) { s.focused = fn }
}

// WithLastDataUpdate supplies the time the data last changed.
func WithLastDataUpdate(fn func() time.Time) Option {
	return func(s *Scheduler) { s.lastData = fn }
}

// WithVisibilitySupport enables the visibility detector. Terminals that do
// not report focus leave it off.
func WithVisibilitySupport(ok bool) Option {
	return func(s *Scheduler) { s.focusable = ok }
}

// New builds a stopped scheduler refreshing target on behalf of operator.
func New(target Refresher, operator string, opts ...Option) *Scheduler {
	s := &Scheduler{
		target:   target,
		operator: operator,
		cfg:      DefaultConfig(),
		logger:   logging.NopLogger(),
		requests: make(chan request, 8),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cfg = s.cfg.withDefaults()
	s.logger = s.logger.WithComponent("refresh")
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.activity = NewActivityDetector(s.cfg.InactivityThreshold, s.cfg.ActivityDebounce, func() {
		s.gated(cache.ModeSilent, SourceActivity)
	})
	s.visibility = NewVisibilityDetector(s.cfg.VisibilityThreshold, s.cfg.VisibilityMinInterval, s.focusable,
		func() { s.gated(cache.ModeSilent, SourceVisibility) }, s.LastRefresh, s.lastData)
	s.poller = NewPoller(s.cfg, func(ctx context.Context) error {
		return s.Refresh(ctx, cache.ModeSilent, SourcePoll)
	}, s.activity.Active, s.dialogOpen, s.metrics)
	s.hints = NewHintHandler(operator, s.cfg.HintSettle, func(mode cache.Mode) {
		s.Request(mode, SourceHint)
	}, s.dialogOpen, s.focused, s.logger)
	return s
}

// Start runs the executor and arms the detectors.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop()
	s.activity.Touch()
	s.poller.Start()
	s.logger.Debug("scheduler started")
}

// Stop cancels every timer, waits for the executor and drops queued
// requests. A refresh already running is allowed to finish.
func (s *Scheduler) Stop() {
	s.activity.Disable()
	s.visibility.Disable()
	s.poller.Stop()
	s.hints.Disable()
	s.cancel()
	s.wg.Wait()
	s.logger.Debug("scheduler stopped")
}

// Reload queues a manual refresh.
func (s *Scheduler) Reload(mode cache.Mode) {
	s.Request(mode, SourceManual)
}

// Request queues a refresh without waiting. When the queue is full the
// request is dropped; a queued refresh replaces the cache just the same.
func (s *Scheduler) Request(mode cache.Mode, source Source) {
	select {
	case <-s.ctx.Done():
	case s.requests <- request{mode: mode, source: source}:
	default:
		s.logger.Debug("refresh request dropped", "source", string(source))
	}
}

// Refresh queues a refresh and waits for its result.
func (s *Scheduler) Refresh(ctx context.Context, mode cache.Mode, source Source) error {
	req := request{mode: mode, source: source, reply: make(chan error, 1)}
	select {
	case s.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// gated queues a timer-driven refresh unless a dialog is open.
func (s *Scheduler) gated(mode cache.Mode, source Source) {
	if s.dialogOpen != nil && s.dialogOpen() {
		s.logger.Debug("refresh skipped, dialog open", "source", string(source))
		return
	}
	s.Request(mode, source)
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case req := <-s.requests:
			err := s.run(req)
			if req.reply != nil {
				req.reply <- err
			}
		}
	}
}

func (s *Scheduler) run(req request) error {
	start := time.Now()
	err := s.target.Refresh(s.ctx, req.mode)
	took := time.Since(start)
	s.metrics.Refresh(string(req.source), req.mode.String(), took, err)
	if err != nil {
		s.logger.Debug("refresh failed", "source", string(req.source), "mode", req.mode.String(), "error", err)
		return err
	}
	s.mu.Lock()
	s.lastRefresh = time.Now()
	s.mu.Unlock()
	return nil
}

// LastRefresh returns when the last successful refresh from any source
// finished.
func (s *Scheduler) LastRefresh() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRefresh
}

// Activity returns the inactivity detector; the console calls Touch on it.
func (s *Scheduler) Activity() *ActivityDetector { return s.activity }

// Visibility returns the focus detector.
func (s *Scheduler) Visibility() *VisibilityDetector { return s.visibility }

// Poller returns the back-off poller.
func (s *Scheduler) Poller() *Poller { return s.poller }

// Hints returns the push hint handler.
func (s *Scheduler) Hints() *HintHandler { return s.hints }
