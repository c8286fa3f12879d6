package spec

import (
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
)

// HostCaps carries the hypervisor host facts used to fill spec
// defaults. It is probed once per operation by the hypervisor package.
type HostCaps struct {
	Arch      string
	Machine   string
	Emulator  string
	CPUs      uint   // host thread count
	MemoryMiB uint64 // host memory
}

// DefaultNetworkSource is the libvirt network an interface attaches to
// when the document names none.
const DefaultNetworkSource = "default"

// ApplyDefaults fills the optional fields of a partial spec in place.
// It runs before Validate and never overrides a set field.
func ApplyDefaults(s *InstanceSpec, caps HostCaps) {
	if s.Name == "" {
		s.Name = uuid.NewString()
	}
	if s.MaxVCPUs == 0 {
		s.MaxVCPUs = caps.CPUs
		if s.MaxVCPUs < s.VCPUs {
			s.MaxVCPUs = s.VCPUs
		}
	}
	if s.MaxMemory == 0 {
		s.MaxMemory = caps.MemoryMiB
		if s.MaxMemory < s.Memory {
			s.MaxMemory = s.Memory
		}
	}
	if s.CPU.EmulationMode == "" {
		s.CPU.EmulationMode = HostPassthrough
	}
	if s.CPU.Topology != nil && s.CPU.Topology.Dies == 0 {
		s.CPU.Topology.Dies = 1
	}
	if s.Arch == "" {
		s.Arch = caps.Arch
	}
	if s.Machine == "" {
		s.Machine = caps.Machine
	}
	if s.Emulator == "" {
		s.Emulator = caps.Emulator
	}
	if len(s.Boot.Order) == 0 {
		s.Boot.Order = []string{"cdrom", "hd"}
	}
	if len(s.Network.Interfaces) == 0 {
		s.Network.Interfaces = []NetworkInterfaceSpec{
			{Source: DefaultNetworkSource, MAC: RandomMAC()},
		}
	}
	for i := range s.Network.Interfaces {
		iface := &s.Network.Interfaces[i]
		if iface.Source == "" {
			iface.Source = DefaultNetworkSource
		}
		if iface.MAC == "" {
			iface.MAC = RandomMAC()
		}
		if iface.Model == "" {
			iface.Model = "virtio"
		}
	}
	defaultVolumes(s.Volumes)
}

func defaultVolumes(volumes []VolumeSpec) {
	taken := make(map[string]bool, len(volumes))
	for _, v := range volumes {
		if v.Target != "" {
			taken[v.Target] = true
		}
	}
	for i := range volumes {
		v := &volumes[i]
		if v.Type == "" {
			v.Type = VolumeFile
		}
		if v.Device == "" {
			v.Device = DeviceDisk
		}
		if v.Bus == "" {
			switch v.Device {
			case DeviceCdrom:
				v.Bus = "sata"
			default:
				v.Bus = "virtio"
			}
		}
		if v.Device == DeviceCdrom {
			v.IsReadonly = true
		}
		if v.Target == "" {
			prefix := "vd"
			if v.Device == DeviceCdrom {
				v.Target = nextTarget(taken, "sd")
			} else {
				v.Target = nextTarget(taken, prefix)
			}
			taken[v.Target] = true
		}
	}
}

// NextFreeTarget picks the first device name with the given prefix not
// claimed by any of the volumes.
func NextFreeTarget(volumes []VolumeSpec, prefix string) string {
	taken := make(map[string]bool, len(volumes))
	for _, v := range volumes {
		taken[v.Target] = true
	}
	return nextTarget(taken, prefix)
}

// nextTarget picks the first free device name with the given prefix:
// vda, vdb, ... vdz.
func nextTarget(taken map[string]bool, prefix string) string {
	for c := 'a'; c <= 'z'; c++ {
		name := prefix + string(c)
		if !taken[name] {
			return name
		}
	}
	// 26 disks on one bus prefix is beyond anything libvirt will accept
	// anyway; let validation report the collision.
	return prefix + "?"
}

// RandomMAC returns a random unicast MAC address with the Xen/QEMU
// reserved 00:16:3e prefix.
func RandomMAC() string {
	var b [3]byte
	_, _ = rand.Read(b[:])
	b[0] &= 0x7f
	return fmt.Sprintf("00:16:3e:%02x:%02x:%02x", b[0], b[1], b[2])
}
