package domainxml

import (
	"libvirt.org/go/libvirtxml"

	"github.com/gechandesu/compute/internal/errdefs"
	"github.com/gechandesu/compute/internal/spec"
	"github.com/gechandesu/compute/internal/units"
)

// Build translates a spec into a libvirt domain descriptor. When base
// is non-nil the result starts from a deep copy of it and only
// model-owned nodes are replaced; otherwise a fresh KVM domain shell is
// emitted. Every volume must carry its source path: volumes are created
// (or planned) before translation.
func Build(s *spec.InstanceSpec, base *libvirtxml.Domain) (*libvirtxml.Domain, error) {
	d, err := cloneOrShell(base)
	if err != nil {
		return nil, err
	}

	d.Type = "kvm"
	d.Name = s.Name
	d.Title = s.Title
	d.Description = s.Description

	// <memory> is the hotplug ceiling, <currentMemory> the running
	// allocation. Values are emitted in KiB.
	d.Memory = &libvirtxml.DomainMemory{Value: uint(units.MiBToKiB(s.MaxMemory)), Unit: "KiB"}
	d.CurrentMemory = &libvirtxml.DomainCurrentMemory{Value: uint(units.MiBToKiB(s.Memory)), Unit: "KiB"}
	d.VCPU = &libvirtxml.DomainVCPU{
		Placement: "static",
		Current:   uint(s.VCPUs),
		Value:     uint(s.MaxVCPUs),
	}
	d.CPU = buildCPU(&s.CPU)

	os := &libvirtxml.DomainOS{
		Type: &libvirtxml.DomainOSType{Type: "hvm", Arch: s.Arch, Machine: s.Machine},
	}
	for _, dev := range s.Boot.Order {
		os.BootDevices = append(os.BootDevices, libvirtxml.DomainBootDevice{Dev: dev})
	}
	d.OS = os

	if d.Devices == nil {
		d.Devices = &libvirtxml.DomainDeviceList{}
	}
	d.Devices.Emulator = s.Emulator

	disks, err := mergeDisks(s, d.Devices.Disks)
	if err != nil {
		return nil, err
	}
	d.Devices.Disks = disks
	d.Devices.Interfaces = mergeInterfaces(s, d.Devices.Interfaces)

	if err := setMetadata(d, s); err != nil {
		return nil, err
	}
	return d, nil
}

// BuildXML is Build followed by marshaling.
func BuildXML(s *spec.InstanceSpec, base *libvirtxml.Domain) (string, error) {
	d, err := Build(s, base)
	if err != nil {
		return "", err
	}
	xml, err := d.Marshal()
	if err != nil {
		return "", &errdefs.TranslationError{Reason: "cannot marshal domain descriptor", Err: err}
	}
	return xml, nil
}

// cloneOrShell deep-copies base through a marshal round trip, or builds
// the fixed domain shell every new instance starts from.
func cloneOrShell(base *libvirtxml.Domain) (*libvirtxml.Domain, error) {
	if base == nil {
		return newShell(), nil
	}
	xml, err := base.Marshal()
	if err != nil {
		return nil, &errdefs.TranslationError{Reason: "cannot copy base descriptor", Err: err}
	}
	var d libvirtxml.Domain
	if err := d.Unmarshal(xml); err != nil {
		return nil, &errdefs.TranslationError{Reason: "cannot copy base descriptor", Err: err}
	}
	return &d, nil
}

func newShell() *libvirtxml.Domain {
	port := uint(0)
	return &libvirtxml.Domain{
		Type:       "kvm",
		OnPoweroff: "destroy",
		OnReboot:   "restart",
		OnCrash:    "restart",
		Features: &libvirtxml.DomainFeatureList{
			ACPI: &libvirtxml.DomainFeature{},
			APIC: &libvirtxml.DomainFeatureAPIC{},
		},
		PM: &libvirtxml.DomainPM{
			SuspendToMem:  &libvirtxml.DomainPMPolicy{Enabled: "no"},
			SuspendToDisk: &libvirtxml.DomainPMPolicy{Enabled: "no"},
		},
		Devices: &libvirtxml.DomainDeviceList{
			Graphics: []libvirtxml.DomainGraphic{
				{VNC: &libvirtxml.DomainGraphicVNC{Port: -1, AutoPort: "yes"}},
			},
			Inputs: []libvirtxml.DomainInput{
				{Type: "tablet", Bus: "usb"},
			},
			Channels: []libvirtxml.DomainChannel{
				{
					Source: &libvirtxml.DomainChardevSource{
						UNIX: &libvirtxml.DomainChardevSourceUNIX{Mode: "bind"},
					},
					Target: &libvirtxml.DomainChannelTarget{
						VirtIO: &libvirtxml.DomainChannelTargetVirtIO{Name: "org.qemu.guest_agent.0"},
					},
				},
			},
			Consoles: []libvirtxml.DomainConsole{
				{
					Source: &libvirtxml.DomainChardevSource{Pty: &libvirtxml.DomainChardevSourcePty{}},
					Target: &libvirtxml.DomainConsoleTarget{Type: "serial", Port: &port},
				},
			},
			Videos: []libvirtxml.DomainVideo{
				{Model: libvirtxml.DomainVideoModel{Type: "vga", VRam: 16384, Heads: 1, Primary: "yes"}},
			},
			MemBalloon: &libvirtxml.DomainMemBalloon{Model: "virtio"},
		},
	}
}

func buildCPU(c *spec.CPUSpec) *libvirtxml.DomainCPU {
	cpu := &libvirtxml.DomainCPU{Mode: string(c.EmulationMode)}
	if c.EmulationMode == spec.Custom {
		cpu.Match = "exact"
		cpu.Model = &libvirtxml.DomainCPUModel{Fallback: "forbid", Value: c.Model}
		cpu.Vendor = c.Vendor
	}
	if t := c.Topology; t != nil {
		cpu.Topology = &libvirtxml.DomainCPUTopology{
			Sockets: int(t.Sockets),
			Dies:    int(t.Dies),
			Cores:   int(t.Cores),
			Threads: int(t.Threads),
		}
	}
	if c.Features != nil {
		for _, f := range c.Features.Require {
			cpu.Features = append(cpu.Features, libvirtxml.DomainCPUFeature{Policy: "require", Name: f})
		}
		for _, f := range c.Features.Disable {
			cpu.Features = append(cpu.Features, libvirtxml.DomainCPUFeature{Policy: "disable", Name: f})
		}
	}
	return cpu
}

// mergeDisks rebuilds the disk nodes the model owns (keyed by target)
// and keeps base disks with unclaimed targets untouched.
func mergeDisks(s *spec.InstanceSpec, baseDisks []libvirtxml.DomainDisk) ([]libvirtxml.DomainDisk, error) {
	owned := make(map[string]bool, len(s.Volumes))
	disks := make([]libvirtxml.DomainDisk, 0, len(s.Volumes))
	for _, v := range s.Volumes {
		owned[v.Target] = true
		disk, err := BuildDisk(v)
		if err != nil {
			return nil, err
		}
		disks = append(disks, *disk)
	}
	for _, disk := range baseDisks {
		if disk.Target != nil && owned[disk.Target.Dev] {
			continue
		}
		disks = append(disks, disk)
	}
	return disks, nil
}

func mergeInterfaces(s *spec.InstanceSpec, baseIfaces []libvirtxml.DomainInterface) []libvirtxml.DomainInterface {
	owned := make(map[string]bool, len(s.Network.Interfaces))
	ifaces := make([]libvirtxml.DomainInterface, 0, len(s.Network.Interfaces))
	for _, i := range s.Network.Interfaces {
		owned[i.MAC] = true
		ifaces = append(ifaces, *BuildInterface(i))
	}
	for _, iface := range baseIfaces {
		if iface.MAC != nil && owned[iface.MAC.Address] {
			continue
		}
		ifaces = append(ifaces, iface)
	}
	return ifaces
}
