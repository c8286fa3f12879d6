// Package instance implements the lifecycle, hotplug and guest agent
// operations on compute instances. Every operation re-reads the domain
// state from the hypervisor right before acting; preconditions that do
// not hold produce a StateConflictError.
package instance

import (
	"fmt"

	"github.com/digitalocean/go-libvirt"

	"github.com/gechandesu/compute/internal/domainxml"
	"github.com/gechandesu/compute/internal/errdefs"
	"github.com/gechandesu/compute/internal/spec"
	"github.com/gechandesu/compute/internal/storage"
)

// Manager executes instance operations against one hypervisor
// connection and its two storage pools.
type Manager struct {
	client  libvirtClient
	images  *storage.Pool
	volumes *storage.Pool
	caps    spec.HostCaps
}

// NewManager builds a Manager. The images pool holds source disk
// images, the volumes pool the instance volumes.
func NewManager(client libvirtClient, images, volumes *storage.Pool, caps spec.HostCaps) *Manager {
	return &Manager{
		client:  client,
		images:  images,
		volumes: volumes,
		caps:    caps,
	}
}

// Caps returns the host capabilities the manager was built with.
func (m *Manager) Caps() spec.HostCaps { return m.caps }

// Info is a point-in-time snapshot of one instance.
type Info struct {
	Name         string
	State        State
	VCPUs        uint
	MemoryMiB    uint64
	MaxMemoryMiB uint64
	Autostart    bool
}

// lookup resolves an instance by name.
func (m *Manager) lookup(name string) (libvirt.Domain, error) {
	dom, err := m.client.DomainLookupByName(name)
	if err != nil {
		return libvirt.Domain{}, &errdefs.NotFoundError{Resource: "instance", Name: name}
	}
	return dom, nil
}

// state reads the current lifecycle state of a domain.
func (m *Manager) state(name string, dom libvirt.Domain) (State, error) {
	state, _, err := m.client.DomainGetState(dom, 0)
	if err != nil {
		return "", &errdefs.HypervisorError{Instance: name, Operation: "get state", Err: err}
	}
	return stateFromLibvirt(state), nil
}

// State returns the lifecycle state of an instance. A missing instance
// reports StateAbsent without error.
func (m *Manager) State(name string) (State, error) {
	dom, err := m.client.DomainLookupByName(name)
	if err != nil {
		return StateAbsent, nil
	}
	return m.state(name, dom)
}

// Status returns a snapshot of one instance.
func (m *Manager) Status(name string) (*Info, error) {
	dom, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	return m.info(dom)
}

// List returns snapshots of all instances, defined and running.
func (m *Manager) List() ([]Info, error) {
	domains, _, err := m.client.ConnectListAllDomains(1, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	infos := make([]Info, 0, len(domains))
	for _, dom := range domains {
		info, err := m.info(dom)
		if err != nil {
			return nil, err
		}
		infos = append(infos, *info)
	}
	return infos, nil
}

func (m *Manager) info(dom libvirt.Domain) (*Info, error) {
	state, err := m.state(dom.Name, dom)
	if err != nil {
		return nil, err
	}
	// DomainGetInfo reports memory in KiB.
	_, maxMem, memory, nrVirtCPU, _, err := m.client.DomainGetInfo(dom)
	if err != nil {
		return nil, &errdefs.HypervisorError{Instance: dom.Name, Operation: "get info", Err: err}
	}
	autostart, err := m.client.DomainGetAutostart(dom)
	if err != nil {
		return nil, &errdefs.HypervisorError{Instance: dom.Name, Operation: "get autostart", Err: err}
	}
	return &Info{
		Name:         dom.Name,
		State:        state,
		VCPUs:        uint(nrVirtCPU),
		MemoryMiB:    memory / 1024,
		MaxMemoryMiB: maxMem / 1024,
		Autostart:    autostart != 0,
	}, nil
}

// SetAutostart marks an instance to start with the host.
func (m *Manager) SetAutostart(name string, autostart bool) error {
	dom, err := m.lookup(name)
	if err != nil {
		return err
	}
	var flag int32
	if autostart {
		flag = 1
	}
	if err := m.client.DomainSetAutostart(dom, flag); err != nil {
		return &errdefs.HypervisorError{Instance: name, Operation: "set autostart", Err: err}
	}
	return nil
}

// ListDisks returns the disk devices of an instance. With persistent
// set the next-boot set is reported instead of the live one.
func (m *Manager) ListDisks(name string, persistent bool) ([]spec.VolumeSpec, error) {
	dom, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	parsed, err := m.currentSpec(name, dom, persistent)
	if err != nil {
		return nil, err
	}
	return parsed.Spec.Volumes, nil
}

// currentSpec reads the descriptor of an instance back into the model.
// The persistent (next boot) descriptor is read when persistent is
// true, otherwise the live one.
func (m *Manager) currentSpec(name string, dom libvirt.Domain, persistent bool) (*domainxml.Parsed, error) {
	var flags libvirt.DomainXMLFlags
	if persistent {
		flags = libvirt.DomainXMLInactive
	}
	xml, err := m.client.DomainGetXMLDesc(dom, flags)
	if err != nil {
		return nil, &errdefs.HypervisorError{Instance: name, Operation: "read descriptor", Err: err}
	}
	return domainxml.ParseLenient(xml)
}
