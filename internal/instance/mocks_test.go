package instance

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/digitalocean/go-libvirt"
	"libvirt.org/go/libvirtxml"
)

// mockCompute is a stateful in-memory hypervisor. It satisfies both the
// instance package's libvirtClient and storage.LibvirtClient, so tests
// drive the real storage.Pool logic through it.
type mockCompute struct {
	domains map[string]*mockDomain
	pools   map[string]*mockPool
	volumes map[string]map[string]*mockVolume

	// agentHandler scripts QEMUDomainAgentCommand replies.
	agentHandler func(cmd string) (string, error)
	// failLiveVcpus makes live vcpu changes fail.
	failLiveVcpus bool

	setVcpusCalls  []flagCall
	setMemoryCalls []flagCall
	attachedXML    []string
	detachedXML    []string
	updatedXML     []string
	shutdownFlags  []libvirt.DomainShutdownFlagValues
	destroyFlags   []libvirt.DomainDestroyFlagsValues
	passwords      map[string]string
}

type flagCall struct {
	value uint64
	flags uint32
}

type mockDomain struct {
	name      string
	xml       string
	state     int32
	autostart int32
	vcpus     uint16
	memKiB    uint64
	maxMemKiB uint64
}

type mockPool struct {
	name string
}

type mockVolume struct {
	name     string
	pool     string
	capacity uint64
	data     []byte
}

func newMockCompute() *mockCompute {
	m := &mockCompute{
		domains:   make(map[string]*mockDomain),
		pools:     make(map[string]*mockPool),
		volumes:   make(map[string]map[string]*mockVolume),
		passwords: make(map[string]string),
	}
	m.addPool("images")
	m.addPool("volumes")
	return m
}

func (m *mockCompute) addPool(name string) {
	m.pools[name] = &mockPool{name: name}
	m.volumes[name] = make(map[string]*mockVolume)
}

func (m *mockCompute) addVolume(pool, name string, capacity uint64, data []byte) {
	m.volumes[pool][name] = &mockVolume{name: name, pool: pool, capacity: capacity, data: data}
}

func (m *mockCompute) defineDomain(xml string, state int32) *mockDomain {
	var d libvirtxml.Domain
	if err := d.Unmarshal(xml); err != nil {
		panic("mock: bad domain xml: " + err.Error())
	}
	dom := &mockDomain{name: d.Name, xml: xml, state: state}
	if d.VCPU != nil {
		dom.vcpus = uint16(d.VCPU.Value)
		if d.VCPU.Current != 0 {
			dom.vcpus = uint16(d.VCPU.Current)
		}
	}
	if d.Memory != nil {
		dom.maxMemKiB = uint64(d.Memory.Value)
	}
	if d.CurrentMemory != nil {
		dom.memKiB = uint64(d.CurrentMemory.Value)
	} else {
		dom.memKiB = dom.maxMemKiB
	}
	m.domains[d.Name] = dom
	return dom
}

// --- domain API ---

func (m *mockCompute) ConnectListAllDomains(needResults int32, flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error) {
	var domains []libvirt.Domain
	for name := range m.domains {
		domains = append(domains, libvirt.Domain{Name: name})
	}
	return domains, uint32(len(domains)), nil
}

func (m *mockCompute) DomainLookupByName(name string) (libvirt.Domain, error) {
	if _, ok := m.domains[name]; !ok {
		return libvirt.Domain{}, fmt.Errorf("domain not found: %s", name)
	}
	return libvirt.Domain{Name: name}, nil
}

func (m *mockCompute) DomainDefineXML(xml string) (libvirt.Domain, error) {
	dom := m.defineDomain(xml, domainStateShutoff)
	return libvirt.Domain{Name: dom.name}, nil
}

func (m *mockCompute) DomainGetXMLDesc(dom libvirt.Domain, flags libvirt.DomainXMLFlags) (string, error) {
	d, ok := m.domains[dom.Name]
	if !ok {
		return "", fmt.Errorf("domain not found: %s", dom.Name)
	}
	return d.xml, nil
}

func (m *mockCompute) DomainGetState(dom libvirt.Domain, flags uint32) (int32, int32, error) {
	d, ok := m.domains[dom.Name]
	if !ok {
		return 0, 0, fmt.Errorf("domain not found: %s", dom.Name)
	}
	return d.state, 0, nil
}

func (m *mockCompute) DomainGetInfo(dom libvirt.Domain) (uint8, uint64, uint64, uint16, uint64, error) {
	d, ok := m.domains[dom.Name]
	if !ok {
		return 0, 0, 0, 0, 0, fmt.Errorf("domain not found: %s", dom.Name)
	}
	return uint8(d.state), d.maxMemKiB, d.memKiB, d.vcpus, 0, nil
}

func (m *mockCompute) DomainGetAutostart(dom libvirt.Domain) (int32, error) {
	d, ok := m.domains[dom.Name]
	if !ok {
		return 0, fmt.Errorf("domain not found: %s", dom.Name)
	}
	return d.autostart, nil
}

func (m *mockCompute) DomainSetAutostart(dom libvirt.Domain, autostart int32) error {
	d, ok := m.domains[dom.Name]
	if !ok {
		return fmt.Errorf("domain not found: %s", dom.Name)
	}
	d.autostart = autostart
	return nil
}

func (m *mockCompute) DomainCreate(dom libvirt.Domain) error {
	d, ok := m.domains[dom.Name]
	if !ok {
		return fmt.Errorf("domain not found: %s", dom.Name)
	}
	if d.state == domainStateRunning {
		return fmt.Errorf("domain is already running: %s", dom.Name)
	}
	d.state = domainStateRunning
	return nil
}

func (m *mockCompute) DomainShutdownFlags(dom libvirt.Domain, flags libvirt.DomainShutdownFlagValues) error {
	d, ok := m.domains[dom.Name]
	if !ok {
		return fmt.Errorf("domain not found: %s", dom.Name)
	}
	m.shutdownFlags = append(m.shutdownFlags, flags)
	d.state = domainStateShutoff
	return nil
}

func (m *mockCompute) DomainReboot(dom libvirt.Domain, flags libvirt.DomainRebootFlagValues) error {
	if _, ok := m.domains[dom.Name]; !ok {
		return fmt.Errorf("domain not found: %s", dom.Name)
	}
	return nil
}

func (m *mockCompute) DomainReset(dom libvirt.Domain, flags uint32) error {
	if _, ok := m.domains[dom.Name]; !ok {
		return fmt.Errorf("domain not found: %s", dom.Name)
	}
	return nil
}

func (m *mockCompute) DomainDestroyFlags(dom libvirt.Domain, flags libvirt.DomainDestroyFlagsValues) error {
	d, ok := m.domains[dom.Name]
	if !ok {
		return fmt.Errorf("domain not found: %s", dom.Name)
	}
	m.destroyFlags = append(m.destroyFlags, flags)
	d.state = domainStateShutoff
	return nil
}

func (m *mockCompute) DomainSuspend(dom libvirt.Domain) error {
	m.domains[dom.Name].state = domainStatePaused
	return nil
}

func (m *mockCompute) DomainResume(dom libvirt.Domain) error {
	m.domains[dom.Name].state = domainStateRunning
	return nil
}

func (m *mockCompute) DomainUndefineFlags(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error {
	if _, ok := m.domains[dom.Name]; !ok {
		return fmt.Errorf("domain not found: %s", dom.Name)
	}
	delete(m.domains, dom.Name)
	return nil
}

func (m *mockCompute) DomainSetVcpusFlags(dom libvirt.Domain, nvcpus uint32, flags uint32) error {
	d, ok := m.domains[dom.Name]
	if !ok {
		return fmt.Errorf("domain not found: %s", dom.Name)
	}
	if m.failLiveVcpus && flags&uint32(libvirt.DomainVCPULive) != 0 {
		return fmt.Errorf("live vcpu change not possible")
	}
	m.setVcpusCalls = append(m.setVcpusCalls, flagCall{value: uint64(nvcpus), flags: flags})
	if flags&uint32(libvirt.DomainVCPULive) != 0 {
		d.vcpus = uint16(nvcpus)
	}
	return nil
}

func (m *mockCompute) DomainSetMemoryFlags(dom libvirt.Domain, memory uint64, flags uint32) error {
	d, ok := m.domains[dom.Name]
	if !ok {
		return fmt.Errorf("domain not found: %s", dom.Name)
	}
	m.setMemoryCalls = append(m.setMemoryCalls, flagCall{value: memory, flags: flags})
	if flags&uint32(libvirt.DomainMemLive) != 0 {
		d.memKiB = memory
	}
	return nil
}

func (m *mockCompute) DomainAttachDeviceFlags(dom libvirt.Domain, xml string, flags uint32) error {
	if _, ok := m.domains[dom.Name]; !ok {
		return fmt.Errorf("domain not found: %s", dom.Name)
	}
	m.attachedXML = append(m.attachedXML, xml)
	return nil
}

func (m *mockCompute) DomainDetachDeviceFlags(dom libvirt.Domain, xml string, flags uint32) error {
	if _, ok := m.domains[dom.Name]; !ok {
		return fmt.Errorf("domain not found: %s", dom.Name)
	}
	m.detachedXML = append(m.detachedXML, xml)
	return nil
}

func (m *mockCompute) DomainUpdateDeviceFlags(dom libvirt.Domain, xml string, flags libvirt.DomainDeviceModifyFlags) error {
	if _, ok := m.domains[dom.Name]; !ok {
		return fmt.Errorf("domain not found: %s", dom.Name)
	}
	m.updatedXML = append(m.updatedXML, xml)
	return nil
}

func (m *mockCompute) DomainSetUserPassword(dom libvirt.Domain, user, password libvirt.OptString, flags libvirt.DomainSetUserPasswordFlags) error {
	if _, ok := m.domains[dom.Name]; !ok {
		return fmt.Errorf("domain not found: %s", dom.Name)
	}
	if len(user) > 0 && len(password) > 0 {
		m.passwords[user[0]] = password[0]
	}
	return nil
}

func (m *mockCompute) QEMUDomainAgentCommand(dom libvirt.Domain, cmd string, timeout int32, flags uint32) (libvirt.OptString, error) {
	if _, ok := m.domains[dom.Name]; !ok {
		return nil, fmt.Errorf("domain not found: %s", dom.Name)
	}
	if m.agentHandler == nil {
		return nil, fmt.Errorf("guest agent is not connected")
	}
	reply, err := m.agentHandler(cmd)
	if err != nil {
		return nil, err
	}
	return libvirt.OptString{reply}, nil
}

// --- storage API ---

func (m *mockCompute) StoragePoolLookupByName(name string) (libvirt.StoragePool, error) {
	if _, ok := m.pools[name]; !ok {
		return libvirt.StoragePool{}, fmt.Errorf("storage pool not found: %s", name)
	}
	return libvirt.StoragePool{Name: name}, nil
}

func (m *mockCompute) StoragePoolIsActive(pool libvirt.StoragePool) (int32, error) {
	return 1, nil
}

func (m *mockCompute) StoragePoolGetAutostart(pool libvirt.StoragePool) (int32, error) {
	return 1, nil
}

func (m *mockCompute) StoragePoolGetXMLDesc(pool libvirt.StoragePool, flags libvirt.StorageXMLFlags) (string, error) {
	return fmt.Sprintf(
		`<pool type="dir"><name>%s</name><target><path>/var/lib/libvirt/%s</path></target></pool>`,
		pool.Name, pool.Name), nil
}

func (m *mockCompute) StoragePoolRefresh(pool libvirt.StoragePool, flags uint32) error {
	return nil
}

func (m *mockCompute) StorageVolLookupByName(pool libvirt.StoragePool, name string) (libvirt.StorageVol, error) {
	if _, ok := m.volumes[pool.Name][name]; !ok {
		return libvirt.StorageVol{}, fmt.Errorf("volume not found: %s", name)
	}
	return libvirt.StorageVol{Pool: pool.Name, Name: name}, nil
}

func (m *mockCompute) StorageVolCreateXML(pool libvirt.StoragePool, xml string, flags libvirt.StorageVolCreateFlags) (libvirt.StorageVol, error) {
	name := extractTagValue(xml, "name")
	if _, exists := m.volumes[pool.Name][name]; exists {
		return libvirt.StorageVol{}, fmt.Errorf("volume already exists: %s", name)
	}
	capacity, _ := strconv.ParseUint(extractTagValue(xml, "capacity"), 10, 64)
	m.volumes[pool.Name][name] = &mockVolume{name: name, pool: pool.Name, capacity: capacity}
	return libvirt.StorageVol{Pool: pool.Name, Name: name}, nil
}

func (m *mockCompute) StorageVolCreateXMLFrom(pool libvirt.StoragePool, xml string, clonevol libvirt.StorageVol, flags libvirt.StorageVolCreateFlags) (libvirt.StorageVol, error) {
	src, ok := m.volumes[clonevol.Pool][clonevol.Name]
	if !ok {
		return libvirt.StorageVol{}, fmt.Errorf("volume not found: %s", clonevol.Name)
	}
	vol, err := m.StorageVolCreateXML(pool, xml, flags)
	if err != nil {
		return libvirt.StorageVol{}, err
	}
	dst := m.volumes[pool.Name][vol.Name]
	dst.data = append([]byte(nil), src.data...)
	dst.capacity = src.capacity
	return vol, nil
}

func (m *mockCompute) StorageVolDelete(vol libvirt.StorageVol, flags libvirt.StorageVolDeleteFlags) error {
	if _, ok := m.volumes[vol.Pool][vol.Name]; !ok {
		return fmt.Errorf("volume not found: %s", vol.Name)
	}
	delete(m.volumes[vol.Pool], vol.Name)
	return nil
}

func (m *mockCompute) StorageVolGetPath(vol libvirt.StorageVol) (string, error) {
	return "/var/lib/libvirt/" + vol.Pool + "/" + vol.Name, nil
}

func (m *mockCompute) StorageVolGetInfo(vol libvirt.StorageVol) (int8, uint64, uint64, error) {
	v, ok := m.volumes[vol.Pool][vol.Name]
	if !ok {
		return 0, 0, 0, fmt.Errorf("volume not found: %s", vol.Name)
	}
	return 0, v.capacity, uint64(len(v.data)), nil
}

func (m *mockCompute) StorageVolResize(vol libvirt.StorageVol, capacity uint64, flags libvirt.StorageVolResizeFlags) error {
	v, ok := m.volumes[vol.Pool][vol.Name]
	if !ok {
		return fmt.Errorf("volume not found: %s", vol.Name)
	}
	v.capacity = capacity
	return nil
}

func (m *mockCompute) StorageVolUpload(vol libvirt.StorageVol, outStream io.Reader, offset, length uint64, flags libvirt.StorageVolUploadFlags) error {
	v, ok := m.volumes[vol.Pool][vol.Name]
	if !ok {
		return fmt.Errorf("volume not found: %s", vol.Name)
	}
	data, err := io.ReadAll(outStream)
	if err != nil {
		return err
	}
	v.data = data
	return nil
}

func (m *mockCompute) StorageVolDownload(vol libvirt.StorageVol, inStream io.Writer, offset, length uint64, flags libvirt.StorageVolDownloadFlags) error {
	v, ok := m.volumes[vol.Pool][vol.Name]
	if !ok {
		return fmt.Errorf("volume not found: %s", vol.Name)
	}
	_, err := inStream.Write(v.data)
	return err
}

func extractTagValue(xml, tag string) string {
	start := strings.Index(xml, "<"+tag)
	if start == -1 {
		return ""
	}
	start = strings.Index(xml[start:], ">") + start + 1
	end := strings.Index(xml[start:], "</"+tag+">")
	if end == -1 {
		return ""
	}
	return strings.TrimSpace(xml[start : start+end])
}
