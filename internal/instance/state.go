package instance

import (
	"github.com/gechandesu/compute/internal/errdefs"
)

// State is the lifecycle state of an instance. It is always read fresh
// from the hypervisor, never cached.
type State string

const (
	StateAbsent     State = "absent"
	StateDefined    State = "defined"
	StateRunning    State = "running"
	StatePaused     State = "paused"
	StateInShutdown State = "in-shutdown"
	StateCrashed    State = "crashed"
)

// Domain state values from libvirt VIR_DOMAIN_* constants.
const (
	domainStateNostate     = 0
	domainStateRunning     = 1
	domainStateBlocked     = 2
	domainStatePaused      = 3
	domainStateShutdown    = 4
	domainStateShutoff     = 5
	domainStateCrashed     = 6
	domainStatePmsuspended = 7
)

// stateFromLibvirt maps a raw libvirt domain state onto the lifecycle
// model. A defined-but-off domain is "defined"; pmsuspended is treated
// as paused since the guest is not executing.
func stateFromLibvirt(state int32) State {
	switch state {
	case domainStateRunning, domainStateBlocked:
		return StateRunning
	case domainStatePaused, domainStatePmsuspended:
		return StatePaused
	case domainStateShutdown:
		return StateInShutdown
	case domainStateCrashed:
		return StateCrashed
	case domainStateNostate, domainStateShutoff:
		return StateDefined
	default:
		return StateDefined
	}
}

// requireState checks an operation precondition against the current
// state.
func requireState(name, operation string, current State, allowed ...State) error {
	for _, s := range allowed {
		if current == s {
			return nil
		}
	}
	return &errdefs.StateConflictError{
		Instance:  name,
		Operation: operation,
		State:     string(current),
	}
}
