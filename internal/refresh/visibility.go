package refresh

import (
	"sync"
	"time"
)

// VisibilityState is a snapshot of the detector.
type VisibilityState struct {
	Supported      bool
	Hidden         bool
	HiddenSince    time.Time
	HiddenDuration time.Duration
}

// VisibilityDetector refreshes when the console regains focus after being
// hidden long enough. A detector built with supported=false ignores every
// transition.
type VisibilityDetector struct {
	threshold   time.Duration
	minInterval time.Duration
	supported   bool
	fire        func()
	lastRefresh func() time.Time
	lastData    func() time.Time
	now         func() time.Time

	mu             sync.Mutex
	hidden         bool
	hiddenSince    time.Time
	hiddenDuration time.Duration
	lastFire       time.Time
	disabled       bool
}

// NewVisibilityDetector builds a detector. lastRefresh reports the last
// refresh from any source; lastData, when non-nil, reports when the data
// itself last changed.
func NewVisibilityDetector(threshold, minInterval time.Duration, supported bool, fire func(), lastRefresh, lastData func() time.Time) *VisibilityDetector {
	d := DefaultConfig()
	if threshold <= 0 {
		threshold = d.VisibilityThreshold
	}
	if minInterval <= 0 {
		minInterval = d.VisibilityMinInterval
	}
	return &VisibilityDetector{
		threshold:   threshold,
		minInterval: minInterval,
		supported:   supported,
		fire:        fire,
		lastRefresh: lastRefresh,
		lastData:    lastData,
		now:         time.Now,
	}
}

// SetVisible records a transition and reports whether it fired a refresh.
func (v *VisibilityDetector) SetVisible(visible bool) bool {
	if !v.supported {
		return false
	}

	v.mu.Lock()
	if v.disabled {
		v.mu.Unlock()
		return false
	}
	now := v.now()
	if !visible {
		if !v.hidden {
			v.hidden = true
			v.hiddenSince = now
		}
		v.mu.Unlock()
		return false
	}
	if !v.hidden {
		v.mu.Unlock()
		return false
	}
	v.hidden = false
	v.hiddenDuration = now.Sub(v.hiddenSince)
	ok := v.hiddenDuration >= v.threshold && v.stale(now)
	if ok {
		v.lastFire = now
	}
	v.mu.Unlock()

	if ok {
		v.fire()
	}
	return ok
}

// stale reports whether the last fire, the last refresh and the last data
// update are all at least minInterval old. The own fire counts even when
// the refresh it requested failed or is still running.
func (v *VisibilityDetector) stale(now time.Time) bool {
	last := v.lastFire
	if v.lastRefresh != nil {
		if r := v.lastRefresh(); r.After(last) {
			last = r
		}
	}
	if !last.IsZero() && now.Sub(last) < v.minInterval {
		return false
	}
	if v.lastData != nil {
		if last := v.lastData(); !last.IsZero() && now.Sub(last) < v.minInterval {
			return false
		}
	}
	return true
}

// State returns a snapshot.
func (v *VisibilityDetector) State() VisibilityState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return VisibilityState{
		Supported:      v.supported,
		Hidden:         v.hidden,
		HiddenSince:    v.hiddenSince,
		HiddenDuration: v.hiddenDuration,
	}
}

// Disable makes later transitions no-ops.
func (v *VisibilityDetector) Disable() {
	v.mu.Lock()
	v.disabled = true
	v.mu.Unlock()
}
