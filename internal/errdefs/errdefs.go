// Package errdefs defines the error taxonomy shared by all compute
// packages. Callers match with errors.As to decide whether an error is
// worth retrying; nothing in this module retries on its own.
package errdefs

import (
	"fmt"
	"time"
)

// ValidationError reports a malformed or contradictory instance
// specification. It is always produced before any hypervisor call.
type ValidationError struct {
	Field  string // dotted field path, e.g. "cpu.topology"
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Reason
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

// Validation builds a ValidationError for the given field path.
func Validation(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// TranslationError reports a domain descriptor that cannot be emitted
// or parsed.
type TranslationError struct {
	Reason string
	Err    error
}

func (e *TranslationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("translation error: %s: %v", e.Reason, e.Err)
	}
	return "translation error: " + e.Reason
}

func (e *TranslationError) Unwrap() error { return e.Err }

// StateConflictError reports an operation whose precondition is not met
// by the instance's current lifecycle state.
type StateConflictError struct {
	Instance  string
	Operation string
	State     string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("cannot %s instance %q: state is %s", e.Operation, e.Instance, e.State)
}

// HypervisorError wraps an error returned by the connected hypervisor.
type HypervisorError struct {
	Instance  string
	Operation string
	Err       error
}

func (e *HypervisorError) Error() string {
	return fmt.Sprintf("cannot %s instance %q: %v", e.Operation, e.Instance, e.Err)
}

func (e *HypervisorError) Unwrap() error { return e.Err }

// AgentError reports a failed guest agent command.
type AgentError struct {
	Instance string
	Err      error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("guest agent error on instance %q: %v", e.Instance, e.Err)
}

func (e *AgentError) Unwrap() error { return e.Err }

// AgentUnavailableError reports a guest agent channel that is not
// connected or not responding to guest-ping.
type AgentUnavailableError struct {
	Instance string
}

func (e *AgentUnavailableError) Error() string {
	return fmt.Sprintf("guest agent is unavailable on instance %q", e.Instance)
}

// AgentTimeoutError reports a guest agent command that did not complete
// within the caller-supplied bound. The guest-side process may still be
// running; PID identifies it when known.
type AgentTimeoutError struct {
	Instance string
	Timeout  time.Duration
	PID      int64
}

func (e *AgentTimeoutError) Error() string {
	return fmt.Sprintf("guest agent timeout (%s) exceeded on instance %q", e.Timeout, e.Instance)
}

// ResourceConflictError reports a name or volume target collision.
type ResourceConflictError struct {
	Resource string // "instance", "volume"
	Name     string
	Reason   string
}

func (e *ResourceConflictError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Resource, e.Name, e.Reason)
}

// NotFoundError reports a missing instance or storage object.
type NotFoundError struct {
	Resource string
	Name     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Name)
}
