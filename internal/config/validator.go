package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/fentz26/callqueue/internal/logging"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "refresh.min_interval")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidBackends returns the supported store backends
func ValidBackends() []string {
	return []string{"sqlite", "redis", "http", "memory"}
}

// ValidTransports returns the supported realtime transports; empty means auto
func ValidTransports() []string {
	return []string{"", "none", "sse", "redis"}
}

// ValidLogFormats returns the supported log formats
func ValidLogFormats() []string {
	return []string{"json", "text"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	errors = append(errors, c.validateStore()...)
	errors = append(errors, c.validateRealtime()...)
	errors = append(errors, c.validateClaim()...)
	errors = append(errors, c.validateRefresh()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateServer()...)
	return errors
}

func (c *Config) validateStore() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidBackends(), c.Store.Backend) {
		errors = append(errors, ValidationError{
			Field:   "store.backend",
			Value:   c.Store.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidBackends(), ", ")),
		})
	}

	switch c.Store.Backend {
	case "sqlite":
		if strings.TrimSpace(c.Store.Path) == "" {
			errors = append(errors, ValidationError{Field: "store.path", Value: c.Store.Path, Message: "required for the sqlite backend"})
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			errors = append(errors, ValidationError{Field: "store.redis_addr", Value: c.Store.RedisAddr, Message: "required for the redis backend"})
		}
		if c.Store.RedisDB < 0 {
			errors = append(errors, ValidationError{Field: "store.redis_db", Value: c.Store.RedisDB, Message: "must be non-negative"})
		}
	case "http":
		u, err := url.Parse(c.Store.APIURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errors = append(errors, ValidationError{Field: "store.api_url", Value: c.Store.APIURL, Message: "must be an http(s) URL"})
		}
	}

	if c.Store.MemoryLatency < 0 {
		errors = append(errors, ValidationError{Field: "store.memory_latency", Value: c.Store.MemoryLatency, Message: "must be non-negative"})
	}
	return errors
}

func (c *Config) validateRealtime() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidTransports(), c.Realtime.Transport) {
		errors = append(errors, ValidationError{
			Field:   "realtime.transport",
			Value:   c.Realtime.Transport,
			Message: "must be one of: none, sse, redis (or empty for automatic)",
		})
	}
	if c.RealtimeTransport() == "redis" && c.Realtime.Topic == "" {
		errors = append(errors, ValidationError{Field: "realtime.topic", Value: c.Realtime.Topic, Message: "required for redis transport"})
	}
	if c.Realtime.Transport == "sse" && c.Store.Backend != "http" {
		errors = append(errors, ValidationError{Field: "realtime.transport", Value: c.Realtime.Transport, Message: "sse needs the http store backend"})
	}
	return errors
}

func (c *Config) validateClaim() []ValidationError {
	return positive(map[string]time.Duration{
		"claim.propagation_delay":  c.Claim.PropagationDelay,
		"claim.failed_clear_after": c.Claim.FailedClearAfter,
		"claim.retry_offset":       c.Claim.RetryOffset,
	})
}

func (c *Config) validateRefresh() []ValidationError {
	r := c.Refresh
	errors := positive(map[string]time.Duration{
		"refresh.active_interval":         r.ActiveInterval,
		"refresh.idle_interval":           r.IdleInterval,
		"refresh.min_interval":            r.MinInterval,
		"refresh.max_interval":            r.MaxInterval,
		"refresh.inactivity_threshold":    r.InactivityThreshold,
		"refresh.activity_debounce":       r.ActivityDebounce,
		"refresh.visibility_threshold":    r.VisibilityThreshold,
		"refresh.visibility_min_interval": r.VisibilityMinInterval,
		"refresh.hint_settle":             r.HintSettle,
	})

	if r.MinInterval > 0 && r.MaxInterval > 0 && r.MaxInterval < r.MinInterval {
		errors = append(errors, ValidationError{
			Field:   "refresh.max_interval",
			Value:   r.MaxInterval,
			Message: fmt.Sprintf("must be at least refresh.min_interval (%s)", r.MinInterval),
		})
	}
	if r.BackoffMultiplier < 1 {
		errors = append(errors, ValidationError{
			Field:   "refresh.backoff_multiplier",
			Value:   r.BackoffMultiplier,
			Message: "must be at least 1",
		})
	}
	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(logging.ValidLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(logging.ValidLevels(), ", ")),
		})
	}
	if c.Logging.Format != "" && !slices.Contains(ValidLogFormats(), c.Logging.Format) {
		errors = append(errors, ValidationError{
			Field:   "logging.format",
			Value:   c.Logging.Format,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogFormats(), ", ")),
		})
	}
	return errors
}

func (c *Config) validateServer() []ValidationError {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return []ValidationError{{Field: "server.addr", Value: c.Server.Addr, Message: "must not be empty"}}
	}
	return nil
}

// positive reports every non-positive duration, sorted by field.
func positive(fields map[string]time.Duration) []ValidationError {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var errors []ValidationError
	for _, k := range keys {
		if fields[k] <= 0 {
			errors = append(errors, ValidationError{Field: k, Value: fields[k], Message: "must be positive"})
		}
	}
	return errors
}
