package instance

import (
	"github.com/digitalocean/go-libvirt"
)

// libvirtClient is the slice of the libvirt domain API the manager
// needs. *libvirt.Libvirt satisfies it; tests substitute a mock.
type libvirtClient interface {
	ConnectListAllDomains(NeedResults int32, Flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error)
	DomainLookupByName(Name string) (libvirt.Domain, error)
	DomainDefineXML(XML string) (libvirt.Domain, error)
	DomainGetXMLDesc(Dom libvirt.Domain, Flags libvirt.DomainXMLFlags) (string, error)
	DomainGetState(Dom libvirt.Domain, Flags uint32) (rState int32, rReason int32, err error)
	DomainGetInfo(Dom libvirt.Domain) (rState uint8, rMaxMem uint64, rMemory uint64, rNrVirtCPU uint16, rCPUTime uint64, err error)
	DomainGetAutostart(Dom libvirt.Domain) (int32, error)
	DomainSetAutostart(Dom libvirt.Domain, Autostart int32) error
	DomainCreate(Dom libvirt.Domain) error
	DomainShutdownFlags(Dom libvirt.Domain, Flags libvirt.DomainShutdownFlagValues) error
	DomainReboot(Dom libvirt.Domain, Flags libvirt.DomainRebootFlagValues) error
	DomainReset(Dom libvirt.Domain, Flags uint32) error
	DomainDestroyFlags(Dom libvirt.Domain, Flags libvirt.DomainDestroyFlagsValues) error
	DomainSuspend(Dom libvirt.Domain) error
	DomainResume(Dom libvirt.Domain) error
	DomainUndefineFlags(Dom libvirt.Domain, Flags libvirt.DomainUndefineFlagsValues) error
	DomainSetVcpusFlags(Dom libvirt.Domain, Nvcpus uint32, Flags uint32) error
	DomainSetMemoryFlags(Dom libvirt.Domain, Memory uint64, Flags uint32) error
	DomainAttachDeviceFlags(Dom libvirt.Domain, XML string, Flags uint32) error
	DomainDetachDeviceFlags(Dom libvirt.Domain, XML string, Flags uint32) error
	DomainUpdateDeviceFlags(Dom libvirt.Domain, XML string, Flags libvirt.DomainDeviceModifyFlags) error
	DomainSetUserPassword(Dom libvirt.Domain, User libvirt.OptString, Password libvirt.OptString, Flags libvirt.DomainSetUserPasswordFlags) error
	QEMUDomainAgentCommand(Dom libvirt.Domain, Cmd string, Timeout int32, Flags uint32) (libvirt.OptString, error)
}

var _ libvirtClient = (*libvirt.Libvirt)(nil)
