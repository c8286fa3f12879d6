package hypervisor

import (
	"fmt"

	"github.com/digitalocean/go-libvirt"
	"libvirt.org/go/libvirtxml"

	"github.com/gechandesu/compute/internal/spec"
)

type capsClient interface {
	ConnectGetDomainCapabilities(Emulatorbin libvirt.OptString, Arch libvirt.OptString, Machine libvirt.OptString, Virttype libvirt.OptString, Flags libvirt.ConnectGetDomainCapabilitiesFlags) (string, error)
	NodeGetInfo() (rModel [32]int8, rMemory uint64, rCpus int32, rMhz int32, rNodes int32, rSockets int32, rCores int32, rThreads int32, err error)
}

var _ capsClient = (*libvirt.Libvirt)(nil)

// ProbeHostCaps asks the hypervisor for the KVM domain capabilities and
// the node hardware inventory. The result feeds spec defaulting:
// emulator, machine type, arch, CPU thread count and memory ceiling.
func ProbeHostCaps(client capsClient) (spec.HostCaps, error) {
	var caps spec.HostCaps

	xml, err := client.ConnectGetDomainCapabilities(nil, nil, nil, []string{"kvm"}, 0)
	if err != nil {
		return caps, fmt.Errorf("failed to query domain capabilities: %w", err)
	}
	var domCaps libvirtxml.DomainCaps
	if err := domCaps.Unmarshal(xml); err != nil {
		return caps, fmt.Errorf("failed to parse domain capabilities: %w", err)
	}
	caps.Arch = domCaps.Arch
	caps.Machine = domCaps.Machine
	caps.Emulator = domCaps.Path

	// NodeGetInfo reports memory in KiB.
	_, memoryKiB, cpus, _, _, _, _, _, err := client.NodeGetInfo()
	if err != nil {
		return caps, fmt.Errorf("failed to query node info: %w", err)
	}
	caps.CPUs = uint(cpus)
	caps.MemoryMiB = memoryKiB / 1024

	return caps, nil
}
