package instance

import (
	"fmt"
	"log"
	"path"

	"github.com/digitalocean/go-libvirt"

	"github.com/gechandesu/compute/internal/cloudinit"
	"github.com/gechandesu/compute/internal/domainxml"
	"github.com/gechandesu/compute/internal/errdefs"
	"github.com/gechandesu/compute/internal/spec"
	"github.com/gechandesu/compute/internal/units"
)

// SetVcpus changes the vCPU count. The persistent descriptor is always
// updated; on a running instance the change is applied live too when
// the configuration permits. The returned flag reports whether a power
// cycle is still needed for the full change to take effect.
func (m *Manager) SetVcpus(name string, vcpus uint) (pendingPowerCycle bool, err error) {
	if vcpus == 0 {
		return false, &errdefs.ValidationError{Field: "vcpus", Reason: "must be at least 1"}
	}
	dom, err := m.lookup(name)
	if err != nil {
		return false, err
	}
	parsed, err := m.currentSpec(name, dom, true)
	if err != nil {
		return false, err
	}
	if vcpus > parsed.Spec.MaxVCPUs {
		return false, &errdefs.ValidationError{
			Field:  "vcpus",
			Reason: fmt.Sprintf("%d exceeds the configured maximum of %d", vcpus, parsed.Spec.MaxVCPUs),
		}
	}
	state, err := m.state(name, dom)
	if err != nil {
		return false, err
	}

	if err := m.client.DomainSetVcpusFlags(dom, uint32(vcpus), uint32(libvirt.DomainVCPUConfig)); err != nil {
		return false, &errdefs.HypervisorError{Instance: name, Operation: "set vcpus", Err: err}
	}
	if state != StateRunning {
		return false, nil
	}

	// An explicit topology pins the live layout; the new count waits
	// for the next boot.
	if t := parsed.Spec.CPU.Topology; t != nil && vcpus != t.Product() {
		return true, nil
	}
	if err := m.client.DomainSetVcpusFlags(dom, uint32(vcpus), uint32(libvirt.DomainVCPULive)); err != nil {
		log.Printf("Warning: live vcpu change failed, staged for next boot: %v", err)
		return true, nil
	}
	// Ask the guest agent to online the plugged CPUs. Best effort: the
	// guest does this on its own eventually.
	if err := m.client.DomainSetVcpusFlags(dom, uint32(vcpus), uint32(libvirt.DomainVCPUGuest)); err != nil {
		log.Printf("Warning: guest-side vcpu onlining failed: %v", err)
	}
	return false, nil
}

// SetMemory changes the current memory allocation, in mebibytes. The
// persistent descriptor is always updated and a running instance is
// ballooned live.
func (m *Manager) SetMemory(name string, memoryMiB uint64) error {
	if memoryMiB == 0 {
		return &errdefs.ValidationError{Field: "memory", Reason: "must be positive"}
	}
	dom, err := m.lookup(name)
	if err != nil {
		return err
	}
	parsed, err := m.currentSpec(name, dom, true)
	if err != nil {
		return err
	}
	if memoryMiB > parsed.Spec.MaxMemory {
		return &errdefs.ValidationError{
			Field:  "memory",
			Reason: fmt.Sprintf("%d MiB exceeds the configured maximum of %d MiB", memoryMiB, parsed.Spec.MaxMemory),
		}
	}
	state, err := m.state(name, dom)
	if err != nil {
		return err
	}
	memoryKiB := units.MiBToKiB(memoryMiB)
	flags := libvirt.DomainMemConfig
	if state == StateRunning {
		flags |= libvirt.DomainMemLive
	}
	if err := m.client.DomainSetMemoryFlags(dom, memoryKiB, uint32(flags)); err != nil {
		return &errdefs.HypervisorError{Instance: name, Operation: "set memory", Err: err}
	}
	return nil
}

// SetMaxMemory raises the memory ceiling. Only possible while the
// instance is off.
func (m *Manager) SetMaxMemory(name string, memoryMiB uint64) error {
	dom, err := m.lookup(name)
	if err != nil {
		return err
	}
	state, err := m.state(name, dom)
	if err != nil {
		return err
	}
	if err := requireState(name, "set maximum memory", state, StateDefined); err != nil {
		return err
	}
	memoryKiB := units.MiBToKiB(memoryMiB)
	if err := m.client.DomainSetMemoryFlags(dom, memoryKiB, uint32(libvirt.DomainMemMaximum)); err != nil {
		return &errdefs.HypervisorError{Instance: name, Operation: "set maximum memory", Err: err}
	}
	return nil
}

// AttachVolume adds a volume to an instance. A volume with a capacity
// and no source is created first. On a running instance the device is
// attached live and persisted; otherwise only the persistent
// descriptor changes.
func (m *Manager) AttachVolume(name string, v spec.VolumeSpec) error {
	dom, err := m.lookup(name)
	if err != nil {
		return err
	}
	parsed, err := m.currentSpec(name, dom, true)
	if err != nil {
		return err
	}
	if v.Target == "" {
		prefix := "vd"
		if v.Device == spec.DeviceCdrom {
			prefix = "sd"
		}
		v.Target = spec.NextFreeTarget(parsed.Spec.Volumes, prefix)
	}
	for _, existing := range parsed.Spec.Volumes {
		if existing.Target == v.Target {
			return &errdefs.ResourceConflictError{
				Resource: "volume",
				Name:     v.Target,
				Reason:   "target is already attached",
			}
		}
	}
	if v.Source == "" && v.Capacity != nil {
		capacity, err := v.Capacity.Bytes()
		if err != nil {
			return &errdefs.ValidationError{Field: "capacity", Reason: err.Error()}
		}
		volName := fmt.Sprintf("%s-%s.qcow2", name, v.Target)
		log.Printf("Creating volume '%s'...", volName)
		source, err := m.volumes.CreateVolume(volName, capacity)
		if err != nil {
			return err
		}
		v.Source = source
	}
	xml, err := domainxml.DiskXML(v)
	if err != nil {
		return err
	}
	if err := m.client.DomainAttachDeviceFlags(dom, xml, uint32(m.modifyFlags(name, dom))); err != nil {
		return &errdefs.HypervisorError{Instance: name, Operation: "attach volume", Err: err}
	}
	return nil
}

// DetachVolume removes a volume from an instance. The backing volume is
// kept. Detaching the system volume is refused.
func (m *Manager) DetachVolume(name, target string) error {
	dom, err := m.lookup(name)
	if err != nil {
		return err
	}
	parsed, err := m.currentSpec(name, dom, true)
	if err != nil {
		return err
	}
	v, ok := findVolume(parsed.Spec.Volumes, target)
	if !ok {
		return &errdefs.NotFoundError{Resource: "volume", Name: target}
	}
	if v.IsSystem {
		return &errdefs.ResourceConflictError{
			Resource: "volume",
			Name:     target,
			Reason:   "the system volume cannot be detached",
		}
	}
	xml, err := domainxml.DiskXML(v)
	if err != nil {
		return err
	}
	if err := m.client.DomainDetachDeviceFlags(dom, xml, uint32(m.modifyFlags(name, dom))); err != nil {
		return &errdefs.HypervisorError{Instance: name, Operation: "detach volume", Err: err}
	}
	return nil
}

// SetCdrom changes the media in the instance's cdrom drive. An empty
// source ejects the media. Only the cdrom disk node is touched.
func (m *Manager) SetCdrom(name, source string) error {
	dom, err := m.lookup(name)
	if err != nil {
		return err
	}
	parsed, err := m.currentSpec(name, dom, true)
	if err != nil {
		return err
	}
	// The cloud-init datasource lives in its own cdrom drive and is
	// managed through SetCloudInit.
	isoName := cloudinit.VolumeName(name)
	var cdrom *spec.VolumeSpec
	for i := range parsed.Spec.Volumes {
		v := &parsed.Spec.Volumes[i]
		if v.Device != spec.DeviceCdrom || path.Base(v.Source) == isoName {
			continue
		}
		cdrom = v
		break
	}
	if cdrom == nil {
		return &errdefs.NotFoundError{Resource: "cdrom device", Name: name}
	}
	cdrom.Source = source
	xml, err := domainxml.DiskXML(*cdrom)
	if err != nil {
		return err
	}
	if err := m.client.DomainUpdateDeviceFlags(dom, xml, m.modifyFlags(name, dom)); err != nil {
		return &errdefs.HypervisorError{Instance: name, Operation: "change cdrom media", Err: err}
	}
	return nil
}

// SetCloudInit merges the given payloads over the deployed ones and
// rewrites the instance's NoCloud ISO. A running guest keeps the old
// data until it next reads the ISO, so the change is reported as
// pending a power cycle when the instance is up.
func (m *Manager) SetCloudInit(name string, patch *spec.CloudInitSpec) (pendingPowerCycle bool, err error) {
	dom, err := m.lookup(name)
	if err != nil {
		return false, err
	}
	isoName := cloudinit.VolumeName(name)
	base := &spec.CloudInitSpec{}
	if m.volumes.VolumeExists(isoName) {
		data, err := m.volumes.DownloadVolume(isoName)
		if err != nil {
			return false, err
		}
		base, err = cloudinit.ParseISO(data)
		if err != nil {
			return false, err
		}
	}
	merged := cloudinit.Merge(base, patch)
	if merged.IsZero() {
		return false, &errdefs.ValidationError{Field: "cloud_init", Reason: "no payloads given"}
	}
	if err := m.writeCloudInitISO(name, merged); err != nil {
		return false, err
	}
	if err := m.attachCloudInitDrive(name, dom, isoName); err != nil {
		return false, err
	}
	state, err := m.state(name, dom)
	if err != nil {
		return false, err
	}
	return state == StateRunning || state == StatePaused, nil
}

// attachCloudInitDrive adds a cdrom for the NoCloud ISO to the
// persistent descriptor when the instance was initialized without one.
// The drive appears on the next boot, together with the new data.
func (m *Manager) attachCloudInitDrive(name string, dom libvirt.Domain, isoName string) error {
	parsed, err := m.currentSpec(name, dom, true)
	if err != nil {
		return err
	}
	for _, v := range parsed.Spec.Volumes {
		if v.Device == spec.DeviceCdrom && path.Base(v.Source) == isoName {
			return nil
		}
	}
	xml, err := domainxml.DiskXML(spec.VolumeSpec{
		Type:       spec.VolumeFile,
		Device:     spec.DeviceCdrom,
		Bus:        "sata",
		Target:     spec.NextFreeTarget(parsed.Spec.Volumes, "sd"),
		Source:     m.volumes.PlannedPath(isoName),
		IsReadonly: true,
	})
	if err != nil {
		return err
	}
	if err := m.client.DomainAttachDeviceFlags(dom, xml, uint32(libvirt.DomainDeviceModifyConfig)); err != nil {
		return &errdefs.HypervisorError{Instance: name, Operation: "attach cloud-init drive", Err: err}
	}
	return nil
}

// ResizeVolume grows the volume behind a target. Refused while the
// instance runs: the guest would not see the new size anyway.
func (m *Manager) ResizeVolume(name, target string, capacity spec.Capacity) error {
	dom, err := m.lookup(name)
	if err != nil {
		return err
	}
	state, err := m.state(name, dom)
	if err != nil {
		return err
	}
	if err := requireState(name, "resize volume", state, StateDefined); err != nil {
		return err
	}
	parsed, err := m.currentSpec(name, dom, true)
	if err != nil {
		return err
	}
	v, ok := findVolume(parsed.Spec.Volumes, target)
	if !ok {
		return &errdefs.NotFoundError{Resource: "volume", Name: target}
	}
	bytes, err := capacity.Bytes()
	if err != nil {
		return &errdefs.ValidationError{Field: "capacity", Reason: err.Error()}
	}
	return m.volumes.ResizeVolume(path.Base(v.Source), bytes)
}

// modifyFlags picks the device-modify scope: always the persistent
// descriptor, plus the live domain when it runs.
func (m *Manager) modifyFlags(name string, dom libvirt.Domain) libvirt.DomainDeviceModifyFlags {
	flags := libvirt.DomainDeviceModifyConfig
	state, err := m.state(name, dom)
	if err == nil && (state == StateRunning || state == StatePaused) {
		flags |= libvirt.DomainDeviceModifyLive
	}
	return flags
}

func findVolume(volumes []spec.VolumeSpec, target string) (spec.VolumeSpec, bool) {
	for _, v := range volumes {
		if v.Target == target {
			return v, true
		}
	}
	return spec.VolumeSpec{}, false
}
