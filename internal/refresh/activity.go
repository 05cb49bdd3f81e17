package refresh

import (
	"sync"
	"time"
)

// ActivityDetector fires once the operator has been idle for the
// threshold. Bursts of input inside the debounce window reset the idle
// timer only once.
type ActivityDetector struct {
	threshold time.Duration
	debounce  time.Duration
	fire      func()
	now       func() time.Time

	mu         sync.Mutex
	lastInput  time.Time
	debouncing *time.Timer
	idle       *time.Timer
	generation uint64
	disabled   bool
}

// NewActivityDetector returns a detector calling fire after threshold of
// inactivity. Non-positive durations fall back to the defaults.
func NewActivityDetector(threshold, debounce time.Duration, fire func()) *ActivityDetector {
	d := DefaultConfig()
	if threshold <= 0 {
		threshold = d.InactivityThreshold
	}
	if debounce <= 0 {
		debounce = d.ActivityDebounce
	}
	return &ActivityDetector{
		threshold: threshold,
		debounce:  debounce,
		fire:      fire,
		now:       time.Now,
	}
}

// Threshold returns the effective inactivity threshold.
func (a *ActivityDetector) Threshold() time.Duration {
	return a.threshold
}

// Touch records one input event.
func (a *ActivityDetector) Touch() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.disabled {
		return
	}
	a.lastInput = a.now()
	if a.debouncing != nil {
		return
	}
	a.debouncing = time.AfterFunc(a.debounce, a.rearm)
}

func (a *ActivityDetector) rearm() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.debouncing = nil
	if a.disabled {
		return
	}
	if a.idle != nil {
		a.idle.Stop()
	}
	a.generation++
	gen := a.generation
	a.idle = time.AfterFunc(a.threshold, func() { a.expire(gen) })
}

func (a *ActivityDetector) expire(gen uint64) {
	a.mu.Lock()
	if a.disabled || gen != a.generation {
		a.mu.Unlock()
		return
	}
	a.idle = nil
	a.mu.Unlock()
	a.fire()
}

// Active reports whether the last input is more recent than the threshold.
func (a *ActivityDetector) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.lastInput.IsZero() && a.now().Sub(a.lastInput) < a.threshold
}

// LastInput returns the time of the last Touch.
func (a *ActivityDetector) LastInput() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastInput
}

// Disable stops both timers. Later touches are ignored.
func (a *ActivityDetector) Disable() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.disabled = true
	a.generation++
	if a.debouncing != nil {
		a.debouncing.Stop()
		a.debouncing = nil
	}
	if a.idle != nil {
		a.idle.Stop()
		a.idle = nil
	}
}
