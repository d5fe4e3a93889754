package engine

import "fmt"

// ConfigError reports a rejected configuration before any stepping happens.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// DivergenceError is fatal: a numeric quantity left the finite domain and
// the run cannot continue.
type DivergenceError struct {
	Tick    uint64
	Subject string
	Err     error
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("tick %d: divergence in %s: %v", e.Tick, e.Subject, e.Err)
}

func (e *DivergenceError) Unwrap() error { return e.Err }

// InvariantError reports a structural violation on one agent. The engine
// isolates the agent and keeps running; the error is carried in the tick
// log rather than returned.
type InvariantError struct {
	Tick    uint64
	AgentID string
	Reason  string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("tick %d: agent %s: %s", e.Tick, e.AgentID, e.Reason)
}
