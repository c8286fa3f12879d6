package instance

import (
	"log"
	"path"

	"github.com/digitalocean/go-libvirt"

	"github.com/gechandesu/compute/internal/errdefs"
)

// ShutdownMethod selects how hard an instance is stopped.
type ShutdownMethod string

const (
	// ShutdownSoft asks the guest agent to shut the guest down.
	ShutdownSoft ShutdownMethod = "soft"
	// ShutdownNormal sends an ACPI power-button event.
	ShutdownNormal ShutdownMethod = "normal"
	// ShutdownHard powers the instance off, giving QEMU a chance to
	// flush its caches first.
	ShutdownHard ShutdownMethod = "hard"
	// ShutdownUnsafe pulls the plug immediately. Data loss is on the
	// caller.
	ShutdownUnsafe ShutdownMethod = "unsafe"
)

// lookupForTransition resolves an instance for a power state
// transition. A missing instance reports a conflict on the absent
// state: absent is part of the lifecycle model, not a missing
// resource.
func (m *Manager) lookupForTransition(name, operation string) (libvirt.Domain, State, error) {
	dom, err := m.client.DomainLookupByName(name)
	if err != nil {
		return libvirt.Domain{}, StateAbsent, &errdefs.StateConflictError{
			Instance:  name,
			Operation: operation,
			State:     string(StateAbsent),
		}
	}
	state, err := m.state(name, dom)
	if err != nil {
		return libvirt.Domain{}, "", err
	}
	return dom, state, nil
}

// Start boots a defined instance. A stuck or crashed instance is
// cleaned up first.
func (m *Manager) Start(name string) error {
	dom, state, err := m.lookupForTransition(name, "start")
	if err != nil {
		return err
	}
	if err := requireState(name, "start", state, StateDefined, StateInShutdown, StateCrashed); err != nil {
		return err
	}
	if state == StateInShutdown || state == StateCrashed {
		log.Printf("Cleaning up instance '%s'...", name)
		if err := m.client.DomainDestroyFlags(dom, libvirt.DomainDestroyGraceful); err != nil {
			return &errdefs.HypervisorError{Instance: name, Operation: "clean up", Err: err}
		}
	}
	log.Printf("Starting instance '%s'...", name)
	if err := m.client.DomainCreate(dom); err != nil {
		return &errdefs.HypervisorError{Instance: name, Operation: "start", Err: err}
	}
	return nil
}

// Shutdown stops an instance using the given method. Soft and normal
// shutdowns only request termination; the instance may still be
// running when this returns.
func (m *Manager) Shutdown(name string, method ShutdownMethod) error {
	dom, state, err := m.lookupForTransition(name, "shutdown")
	if err != nil {
		return err
	}
	switch method {
	case ShutdownSoft, ShutdownNormal:
		if err := requireState(name, "shutdown", state, StateRunning, StatePaused); err != nil {
			return err
		}
		flags := libvirt.DomainShutdownDefault
		if method == ShutdownSoft {
			flags = libvirt.DomainShutdownGuestAgent
		}
		if err := m.client.DomainShutdownFlags(dom, flags); err != nil {
			return &errdefs.HypervisorError{Instance: name, Operation: "shutdown", Err: err}
		}
	case ShutdownHard, ShutdownUnsafe:
		allowed := []State{StateRunning, StatePaused, StateInShutdown, StateCrashed}
		if err := requireState(name, "shutdown", state, allowed...); err != nil {
			return err
		}
		flags := libvirt.DomainDestroyGraceful
		if method == ShutdownUnsafe {
			flags = libvirt.DomainDestroyDefault
		}
		if err := m.client.DomainDestroyFlags(dom, flags); err != nil {
			return &errdefs.HypervisorError{Instance: name, Operation: "shutdown", Err: err}
		}
	default:
		return &errdefs.ValidationError{Field: "method", Reason: "unknown shutdown method " + string(method)}
	}
	return nil
}

// Reboot requests an orderly in-guest reboot.
func (m *Manager) Reboot(name string) error {
	dom, state, err := m.lookupForTransition(name, "reboot")
	if err != nil {
		return err
	}
	if err := requireState(name, "reboot", state, StateRunning); err != nil {
		return err
	}
	if err := m.client.DomainReboot(dom, libvirt.DomainRebootDefault); err != nil {
		return &errdefs.HypervisorError{Instance: name, Operation: "reboot", Err: err}
	}
	return nil
}

// Reset pulls the virtual reset line without any guest notice.
func (m *Manager) Reset(name string) error {
	dom, state, err := m.lookupForTransition(name, "reset")
	if err != nil {
		return err
	}
	if err := requireState(name, "reset", state, StateRunning, StatePaused); err != nil {
		return err
	}
	if err := m.client.DomainReset(dom, 0); err != nil {
		return &errdefs.HypervisorError{Instance: name, Operation: "reset", Err: err}
	}
	return nil
}

// PowerReset power-cycles an instance: hard off, then start. Unlike
// Reset this tears the QEMU process down, so descriptor changes staged
// for next boot take effect.
func (m *Manager) PowerReset(name string) error {
	dom, state, err := m.lookupForTransition(name, "power reset")
	if err != nil {
		return err
	}
	if err := requireState(name, "power reset", state,
		StateDefined, StateRunning, StatePaused, StateInShutdown, StateCrashed); err != nil {
		return err
	}
	log.Printf("Power cycling instance '%s'...", name)
	// A powered-off instance has nothing to destroy.
	if state != StateDefined {
		if err := m.client.DomainDestroyFlags(dom, libvirt.DomainDestroyGraceful); err != nil {
			return &errdefs.HypervisorError{Instance: name, Operation: "power off", Err: err}
		}
	}
	if err := m.client.DomainCreate(dom); err != nil {
		return &errdefs.HypervisorError{Instance: name, Operation: "start", Err: err}
	}
	return nil
}

// Pause freezes instance execution.
func (m *Manager) Pause(name string) error {
	dom, state, err := m.lookupForTransition(name, "pause")
	if err != nil {
		return err
	}
	if err := requireState(name, "pause", state, StateRunning); err != nil {
		return err
	}
	if err := m.client.DomainSuspend(dom); err != nil {
		return &errdefs.HypervisorError{Instance: name, Operation: "pause", Err: err}
	}
	return nil
}

// Resume unfreezes a paused instance.
func (m *Manager) Resume(name string) error {
	dom, state, err := m.lookupForTransition(name, "resume")
	if err != nil {
		return err
	}
	if err := requireState(name, "resume", state, StatePaused); err != nil {
		return err
	}
	if err := m.client.DomainResume(dom); err != nil {
		return &errdefs.HypervisorError{Instance: name, Operation: "resume", Err: err}
	}
	return nil
}

// DeleteOptions adjust instance deletion.
type DeleteOptions struct {
	// SaveVolumes keeps the instance volumes on disk.
	SaveVolumes bool
}

// Delete removes an instance: a running instance is powered off, the
// domain is undefined and, unless saved, its file volumes are deleted.
// Volume cleanup is best effort.
func (m *Manager) Delete(name string, opts DeleteOptions) error {
	dom, err := m.lookup(name)
	if err != nil {
		return err
	}
	state, err := m.state(name, dom)
	if err != nil {
		return err
	}
	if state != StateDefined {
		log.Printf("Powering off instance '%s'...", name)
		if err := m.client.DomainDestroyFlags(dom, libvirt.DomainDestroyDefault); err != nil {
			return &errdefs.HypervisorError{Instance: name, Operation: "power off", Err: err}
		}
	}

	// Collect volume names before the descriptor disappears.
	var volumeNames []string
	if !opts.SaveVolumes {
		parsed, err := m.currentSpec(name, dom, true)
		if err != nil {
			return err
		}
		for _, v := range parsed.Spec.Volumes {
			if v.Source == "" {
				continue
			}
			volName := path.Base(v.Source)
			if m.volumes.VolumeExists(volName) {
				volumeNames = append(volumeNames, volName)
			}
		}
	}

	log.Printf("Undefining instance '%s'...", name)
	if err := m.client.DomainUndefineFlags(dom, libvirt.DomainUndefineNvram); err != nil {
		return &errdefs.HypervisorError{Instance: name, Operation: "undefine", Err: err}
	}

	for _, volName := range volumeNames {
		log.Printf("Deleting volume '%s'...", volName)
		if err := m.volumes.DeleteVolume(volName); err != nil {
			log.Printf("Warning: failed to delete volume %s: %v", volName, err)
		}
	}
	return nil
}
