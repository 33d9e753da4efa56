package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a single validation failure.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Validate checks c for invalid values and returns every failure found,
// rather than stopping at the first one.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	if c.MaxAgents < 1 {
		errs = append(errs, ValidationError{"max_agents", c.MaxAgents, "must be at least 1"})
	}
	if c.HeartbeatInterval < 100 {
		errs = append(errs, ValidationError{"heartbeat_interval_ms", c.HeartbeatInterval, "must be at least 100ms"})
	}
	if c.HeartbeatTimeout <= c.HeartbeatInterval {
		errs = append(errs, ValidationError{"heartbeat_timeout_ms", c.HeartbeatTimeout, "must exceed heartbeat_interval_ms"})
	}
	if c.LockTimeout < 1000 {
		errs = append(errs, ValidationError{"lock_timeout_ms", c.LockTimeout, "must be at least 1000ms"})
	}
	if c.TaskTimeout < c.HeartbeatTimeout {
		errs = append(errs, ValidationError{"task_timeout_ms", c.TaskTimeout, "must be at least heartbeat_timeout_ms"})
	}
	if strings.TrimSpace(c.BranchPrefix) == "" {
		errs = append(errs, ValidationError{"branch_prefix", c.BranchPrefix, "must not be empty"})
	}

	return errs
}
