package storage

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/digitalocean/go-libvirt"
)

// mockLibvirtClient is a stateful in-memory stand-in for the libvirt
// storage API.
type mockLibvirtClient struct {
	pools   map[string]*mockPool
	volumes map[string]map[string]*mockVolume // pool name -> volume name -> volume
}

type mockPool struct {
	name      string
	active    bool
	autostart bool
}

type mockVolume struct {
	name     string
	pool     string
	capacity uint64
	data     []byte
}

func newMockLibvirtClient() *mockLibvirtClient {
	return &mockLibvirtClient{
		pools:   make(map[string]*mockPool),
		volumes: make(map[string]map[string]*mockVolume),
	}
}

func (m *mockLibvirtClient) addPool(name string, active, autostart bool) {
	m.pools[name] = &mockPool{name: name, active: active, autostart: autostart}
	m.volumes[name] = make(map[string]*mockVolume)
}

func (m *mockLibvirtClient) addVolume(pool, name string, capacity uint64, data []byte) {
	m.volumes[pool][name] = &mockVolume{name: name, pool: pool, capacity: capacity, data: data}
}

func (m *mockLibvirtClient) StoragePoolLookupByName(name string) (libvirt.StoragePool, error) {
	if _, ok := m.pools[name]; !ok {
		return libvirt.StoragePool{}, fmt.Errorf("storage pool not found: %s", name)
	}
	return libvirt.StoragePool{Name: name}, nil
}

func (m *mockLibvirtClient) StoragePoolIsActive(pool libvirt.StoragePool) (int32, error) {
	p, ok := m.pools[pool.Name]
	if !ok {
		return 0, fmt.Errorf("storage pool not found: %s", pool.Name)
	}
	if p.active {
		return 1, nil
	}
	return 0, nil
}

func (m *mockLibvirtClient) StoragePoolGetAutostart(pool libvirt.StoragePool) (int32, error) {
	p, ok := m.pools[pool.Name]
	if !ok {
		return 0, fmt.Errorf("storage pool not found: %s", pool.Name)
	}
	if p.autostart {
		return 1, nil
	}
	return 0, nil
}

func (m *mockLibvirtClient) StoragePoolGetXMLDesc(pool libvirt.StoragePool, flags libvirt.StorageXMLFlags) (string, error) {
	if _, ok := m.pools[pool.Name]; !ok {
		return "", fmt.Errorf("storage pool not found: %s", pool.Name)
	}
	return fmt.Sprintf(
		`<pool type="dir"><name>%s</name><target><path>/var/lib/libvirt/%s</path></target></pool>`,
		pool.Name, pool.Name), nil
}

func (m *mockLibvirtClient) StoragePoolRefresh(pool libvirt.StoragePool, flags uint32) error {
	if _, ok := m.pools[pool.Name]; !ok {
		return fmt.Errorf("storage pool not found: %s", pool.Name)
	}
	return nil
}

func (m *mockLibvirtClient) StorageVolLookupByName(pool libvirt.StoragePool, name string) (libvirt.StorageVol, error) {
	vol, ok := m.volumes[pool.Name][name]
	if !ok {
		return libvirt.StorageVol{}, fmt.Errorf("volume not found: %s", name)
	}
	return libvirt.StorageVol{Pool: pool.Name, Name: vol.name}, nil
}

func (m *mockLibvirtClient) StorageVolCreateXML(pool libvirt.StoragePool, xml string, flags libvirt.StorageVolCreateFlags) (libvirt.StorageVol, error) {
	vols, ok := m.volumes[pool.Name]
	if !ok {
		return libvirt.StorageVol{}, fmt.Errorf("storage pool not found: %s", pool.Name)
	}
	name := extractTagValue(xml, "name")
	if name == "" {
		return libvirt.StorageVol{}, fmt.Errorf("invalid volume XML: missing name")
	}
	if _, exists := vols[name]; exists {
		return libvirt.StorageVol{}, fmt.Errorf("volume already exists: %s", name)
	}
	capacity, _ := strconv.ParseUint(extractTagValue(xml, "capacity"), 10, 64)
	vols[name] = &mockVolume{name: name, pool: pool.Name, capacity: capacity}
	return libvirt.StorageVol{Pool: pool.Name, Name: name}, nil
}

func (m *mockLibvirtClient) StorageVolCreateXMLFrom(pool libvirt.StoragePool, xml string, clonevol libvirt.StorageVol, flags libvirt.StorageVolCreateFlags) (libvirt.StorageVol, error) {
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

func (m *mockLibvirtClient) StorageVolDelete(vol libvirt.StorageVol, flags libvirt.StorageVolDeleteFlags) error {
	if _, ok := m.volumes[vol.Pool][vol.Name]; !ok {
		return fmt.Errorf("volume not found: %s", vol.Name)
	}
	delete(m.volumes[vol.Pool], vol.Name)
	return nil
}

func (m *mockLibvirtClient) StorageVolGetPath(vol libvirt.StorageVol) (string, error) {
	if _, ok := m.volumes[vol.Pool][vol.Name]; !ok {
		return "", fmt.Errorf("volume not found: %s", vol.Name)
	}
	return "/var/lib/libvirt/" + vol.Pool + "/" + vol.Name, nil
}

func (m *mockLibvirtClient) StorageVolGetInfo(vol libvirt.StorageVol) (int8, uint64, uint64, error) {
	v, ok := m.volumes[vol.Pool][vol.Name]
	if !ok {
		return 0, 0, 0, fmt.Errorf("volume not found: %s", vol.Name)
	}
	return 0, v.capacity, uint64(len(v.data)), nil
}

func (m *mockLibvirtClient) StorageVolResize(vol libvirt.StorageVol, capacity uint64, flags libvirt.StorageVolResizeFlags) error {
	v, ok := m.volumes[vol.Pool][vol.Name]
	if !ok {
		return fmt.Errorf("volume not found: %s", vol.Name)
	}
	if capacity < v.capacity {
		return fmt.Errorf("cannot shrink volume %s", vol.Name)
	}
	v.capacity = capacity
	return nil
}

func (m *mockLibvirtClient) StorageVolDownload(vol libvirt.StorageVol, inStream io.Writer, offset, length uint64, flags libvirt.StorageVolDownloadFlags) error {
	v, ok := m.volumes[vol.Pool][vol.Name]
	if !ok {
		return fmt.Errorf("volume not found: %s", vol.Name)
	}
	_, err := inStream.Write(v.data)
	return err
}

func (m *mockLibvirtClient) StorageVolUpload(vol libvirt.StorageVol, outStream io.Reader, offset, length uint64, flags libvirt.StorageVolUploadFlags) error {
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

// extractTagValue pulls the text content of a simple XML tag.
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
