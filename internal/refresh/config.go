// Package refresh decides when the local task cache reloads. Four sources
// (inactivity, visibility, polling and push hints) feed one executor so two
// refreshes never run at once.
package refresh

import "time"

// Config holds every scheduler timing.
type Config struct {
	// ActiveInterval is the poll period while the operator is active.
	ActiveInterval time.Duration `mapstructure:"active_interval"`
	// IdleInterval is the poll period once the operator has gone idle.
	IdleInterval time.Duration `mapstructure:"idle_interval"`
	// MinInterval and MaxInterval clamp every poll delay, back-off included.
	MinInterval time.Duration `mapstructure:"min_interval"`
	MaxInterval time.Duration `mapstructure:"max_interval"`
	// BackoffMultiplier scales the poll delay per consecutive failure.
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`

	InactivityThreshold time.Duration `mapstructure:"inactivity_threshold"`
	ActivityDebounce    time.Duration `mapstructure:"activity_debounce"`

	// VisibilityThreshold is the shortest hidden period worth a refresh.
	VisibilityThreshold time.Duration `mapstructure:"visibility_threshold"`
	// VisibilityMinInterval is the minimum age of the last refresh, and of
	// the last data update, before a visibility refresh runs.
	VisibilityMinInterval time.Duration `mapstructure:"visibility_min_interval"`

	// HintSettle is the wait after a push hint before acting on it.
	HintSettle time.Duration `mapstructure:"hint_settle"`
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		ActiveInterval:        30 * time.Second,
		IdleInterval:          2 * time.Minute,
		MinInterval:           5 * time.Second,
		MaxInterval:           10 * time.Minute,
		BackoffMultiplier:     2,
		InactivityThreshold:   5 * time.Minute,
		ActivityDebounce:      50 * time.Millisecond,
		VisibilityThreshold:   time.Second,
		VisibilityMinInterval: 30 * time.Second,
		HintSettle:            500 * time.Millisecond,
	}
}

// withDefaults replaces non-positive values with the stock ones.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	fill := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&c.ActiveInterval, d.ActiveInterval)
	fill(&c.IdleInterval, d.IdleInterval)
	fill(&c.MinInterval, d.MinInterval)
	fill(&c.MaxInterval, d.MaxInterval)
	fill(&c.InactivityThreshold, d.InactivityThreshold)
	fill(&c.ActivityDebounce, d.ActivityDebounce)
	fill(&c.VisibilityThreshold, d.VisibilityThreshold)
	fill(&c.VisibilityMinInterval, d.VisibilityMinInterval)
	fill(&c.HintSettle, d.HintSettle)
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
	if c.MaxInterval < c.MinInterval {
		c.MaxInterval = c.MinInterval
	}
	return c
}

// Source names what asked for a refresh.
type Source string

const (
	SourceManual     Source = "manual"
	SourceActivity   Source = "activity"
	SourceVisibility Source = "visibility"
	SourcePoll       Source = "poll"
	SourceHint       Source = "hint"
)
