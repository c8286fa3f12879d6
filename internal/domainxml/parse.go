package domainxml

import (
	"fmt"
	"strings"

	"libvirt.org/go/libvirtxml"

	"github.com/gechandesu/compute/internal/errdefs"
	"github.com/gechandesu/compute/internal/spec"
	"github.com/gechandesu/compute/internal/units"
)

// Parsed is a descriptor read back into the model. Base retains the
// full original document so a later Build can re-emit nodes the model
// does not own.
type Parsed struct {
	Spec spec.InstanceSpec
	Base *libvirtxml.Domain
}

// Parse reads a domain descriptor strictly: any device or source form
// the model cannot express is a translation error.
func Parse(xmlDoc string) (*Parsed, error) {
	return parseDomain(xmlDoc, true)
}

// ParseLenient reads a domain descriptor, skipping devices the model
// cannot express. The skipped nodes stay in Base and survive a
// round trip untouched.
func ParseLenient(xmlDoc string) (*Parsed, error) {
	return parseDomain(xmlDoc, false)
}

func parseDomain(xmlDoc string, strict bool) (*Parsed, error) {
	var d libvirtxml.Domain
	if err := d.Unmarshal(xmlDoc); err != nil {
		return nil, &errdefs.TranslationError{Reason: "cannot parse domain descriptor", Err: err}
	}
	if strict && d.Type != "kvm" && d.Type != "qemu" {
		return nil, &errdefs.TranslationError{Reason: "unsupported domain type " + d.Type}
	}

	s := spec.InstanceSpec{
		Name:        d.Name,
		Title:       d.Title,
		Description: d.Description,
	}

	if d.Memory != nil {
		max, err := memoryToMiB(d.Memory.Value, d.Memory.Unit)
		if err != nil {
			return nil, err
		}
		s.MaxMemory = max
		s.Memory = max
	}
	if d.CurrentMemory != nil {
		cur, err := memoryToMiB(d.CurrentMemory.Value, d.CurrentMemory.Unit)
		if err != nil {
			return nil, err
		}
		s.Memory = cur
	}
	if d.VCPU != nil {
		s.MaxVCPUs = uint(d.VCPU.Value)
		s.VCPUs = s.MaxVCPUs
		if d.VCPU.Current != 0 {
			s.VCPUs = uint(d.VCPU.Current)
		}
	}

	cpu, err := parseCPU(d.CPU, strict)
	if err != nil {
		return nil, err
	}
	s.CPU = cpu

	if d.OS != nil {
		if d.OS.Type != nil {
			s.Arch = d.OS.Type.Arch
			s.Machine = d.OS.Type.Machine
		}
		for _, dev := range d.OS.BootDevices {
			s.Boot.Order = append(s.Boot.Order, dev.Dev)
		}
	}

	if d.Devices != nil {
		s.Emulator = d.Devices.Emulator
		volumes, err := parseDisks(d.Devices.Disks, strict)
		if err != nil {
			return nil, err
		}
		s.Volumes = volumes
		ifaces, err := parseInterfaces(d.Devices.Interfaces, strict)
		if err != nil {
			return nil, err
		}
		s.Network.Interfaces = ifaces
	}

	system, err := systemDiskTarget(&d)
	if err != nil {
		return nil, err
	}
	if system != "" {
		for i := range s.Volumes {
			if s.Volumes[i].Target == system {
				s.Volumes[i].IsSystem = true
			}
		}
	}

	return &Parsed{Spec: s, Base: &d}, nil
}

func parseCPU(cpu *libvirtxml.DomainCPU, strict bool) (spec.CPUSpec, error) {
	var c spec.CPUSpec
	if cpu == nil {
		return c, nil
	}
	switch mode := spec.EmulationMode(cpu.Mode); mode {
	case spec.HostPassthrough, spec.HostModel, spec.Custom, spec.Maximum:
		c.EmulationMode = mode
	case "":
		c.EmulationMode = spec.Custom
	default:
		if strict {
			return c, &errdefs.TranslationError{Reason: "unsupported cpu mode " + cpu.Mode}
		}
		c.EmulationMode = spec.HostPassthrough
	}
	if c.EmulationMode == spec.Custom {
		c.Vendor = cpu.Vendor
		if cpu.Model != nil {
			c.Model = cpu.Model.Value
		}
	}
	if t := cpu.Topology; t != nil {
		c.Topology = &spec.CPUTopology{
			Sockets: uint(t.Sockets),
			Dies:    uint(t.Dies),
			Cores:   uint(t.Cores),
			Threads: uint(t.Threads),
		}
		if c.Topology.Dies == 0 {
			c.Topology.Dies = 1
		}
	}
	var features spec.CPUFeatures
	for _, f := range cpu.Features {
		switch f.Policy {
		case "require", "force", "":
			features.Require = append(features.Require, f.Name)
		case "disable", "forbid":
			features.Disable = append(features.Disable, f.Name)
		default:
			if strict {
				return c, &errdefs.TranslationError{Reason: "unsupported cpu feature policy " + f.Policy}
			}
		}
	}
	if len(features.Require) > 0 || len(features.Disable) > 0 {
		c.Features = &features
	}
	return c, nil
}

func parseDisks(disks []libvirtxml.DomainDisk, strict bool) ([]spec.VolumeSpec, error) {
	var volumes []spec.VolumeSpec
	for _, disk := range disks {
		v, ok, err := diskToVolume(disk, strict)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		volumes = append(volumes, *v)
	}
	return volumes, nil
}

func parseInterfaces(ifaces []libvirtxml.DomainInterface, strict bool) ([]spec.NetworkInterfaceSpec, error) {
	var out []spec.NetworkInterfaceSpec
	for _, iface := range ifaces {
		if iface.Source == nil || iface.Source.Network == nil {
			if strict {
				return nil, &errdefs.TranslationError{Reason: "unsupported interface source; only network interfaces are modeled"}
			}
			continue
		}
		i := spec.NetworkInterfaceSpec{Source: iface.Source.Network.Network}
		if iface.MAC != nil {
			i.MAC = iface.MAC.Address
		}
		if iface.Model != nil {
			i.Model = iface.Model.Type
		}
		out = append(out, i)
	}
	return out, nil
}

// memoryToMiB converts a descriptor memory value to mebibytes. Libvirt
// defaults to KiB when no unit is given and accepts both binary and
// decimal unit names.
func memoryToMiB(value uint, unit string) (uint64, error) {
	bytes := uint64(value)
	switch strings.ToLower(unit) {
	case "", "k", "kib":
		bytes *= 1 << 10
	case "b", "bytes":
	case "m", "mib":
		bytes *= 1 << 20
	case "g", "gib":
		bytes *= 1 << 30
	case "t", "tib":
		bytes *= 1 << 40
	case "kb":
		bytes *= 1000
	case "mb":
		bytes *= 1000 * 1000
	case "gb":
		bytes *= 1000 * 1000 * 1000
	case "tb":
		bytes *= 1000 * 1000 * 1000 * 1000
	default:
		return 0, &errdefs.TranslationError{Reason: fmt.Sprintf("unknown memory unit %q", unit)}
	}
	return units.KiBToMiB(bytes >> 10), nil
}
