// Package storage manages instance volumes inside pre-provisioned
// libvirt storage pools. Pools are never created here: provisioning
// them is a host setup concern, this package only verifies and uses
// them.
package storage

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/digitalocean/go-libvirt"
	"libvirt.org/go/libvirtxml"

	"github.com/gechandesu/compute/internal/errdefs"
)

// LibvirtClient is the narrow slice of the libvirt API this package
// needs. *libvirt.Libvirt satisfies it; tests substitute a mock.
type LibvirtClient interface {
	StoragePoolLookupByName(Name string) (libvirt.StoragePool, error)
	StoragePoolIsActive(Pool libvirt.StoragePool) (int32, error)
	StoragePoolGetAutostart(Pool libvirt.StoragePool) (int32, error)
	StoragePoolGetXMLDesc(Pool libvirt.StoragePool, Flags libvirt.StorageXMLFlags) (string, error)
	StoragePoolRefresh(Pool libvirt.StoragePool, Flags uint32) error
	StorageVolLookupByName(Pool libvirt.StoragePool, Name string) (libvirt.StorageVol, error)
	StorageVolCreateXML(Pool libvirt.StoragePool, XML string, Flags libvirt.StorageVolCreateFlags) (libvirt.StorageVol, error)
	StorageVolCreateXMLFrom(Pool libvirt.StoragePool, XML string, Clonevol libvirt.StorageVol, Flags libvirt.StorageVolCreateFlags) (libvirt.StorageVol, error)
	StorageVolDelete(Vol libvirt.StorageVol, Flags libvirt.StorageVolDeleteFlags) error
	StorageVolGetPath(Vol libvirt.StorageVol) (string, error)
	StorageVolGetInfo(Vol libvirt.StorageVol) (rType int8, rCapacity uint64, rAllocation uint64, err error)
	StorageVolResize(Vol libvirt.StorageVol, Capacity uint64, Flags libvirt.StorageVolResizeFlags) error
	StorageVolUpload(Vol libvirt.StorageVol, outStream io.Reader, Offset uint64, Length uint64, Flags libvirt.StorageVolUploadFlags) error
	StorageVolDownload(Vol libvirt.StorageVol, inStream io.Writer, Offset uint64, Length uint64, Flags libvirt.StorageVolDownloadFlags) error
}

var _ LibvirtClient = (*libvirt.Libvirt)(nil)

// Pool is a verified handle on one libvirt storage pool.
type Pool struct {
	client LibvirtClient
	name   string
	path   string
	ref    libvirt.StoragePool
}

// LookupPool resolves a pool by name and verifies it is usable: the
// pool must exist, be active and be marked autostart, so volumes stay
// reachable across host reboots.
func LookupPool(client LibvirtClient, name string) (*Pool, error) {
	ref, err := client.StoragePoolLookupByName(name)
	if err != nil {
		return nil, &errdefs.NotFoundError{Resource: "storage pool", Name: name}
	}
	active, err := client.StoragePoolIsActive(ref)
	if err != nil {
		return nil, fmt.Errorf("failed to check pool %q state: %w", name, err)
	}
	if active == 0 {
		return nil, fmt.Errorf("storage pool %q is not active", name)
	}
	autostart, err := client.StoragePoolGetAutostart(ref)
	if err != nil {
		return nil, fmt.Errorf("failed to check pool %q autostart: %w", name, err)
	}
	if autostart == 0 {
		return nil, fmt.Errorf("storage pool %q is not set to autostart", name)
	}
	xml, err := client.StoragePoolGetXMLDesc(ref, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to read pool %q definition: %w", name, err)
	}
	var def libvirtxml.StoragePool
	if err := def.Unmarshal(xml); err != nil {
		return nil, fmt.Errorf("failed to parse pool %q definition: %w", name, err)
	}
	var path string
	if def.Target != nil {
		path = def.Target.Path
	}
	return &Pool{client: client, name: name, path: path, ref: ref}, nil
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

// PlannedPath returns where a volume with the given name will live once
// created. Used to build descriptors before the volume exists.
func (p *Pool) PlannedPath(name string) string {
	return filepath.Join(p.path, name)
}

// Refresh re-scans the pool contents.
func (p *Pool) Refresh() error {
	if err := p.client.StoragePoolRefresh(p.ref, 0); err != nil {
		return fmt.Errorf("failed to refresh pool %q: %w", p.name, err)
	}
	return nil
}
