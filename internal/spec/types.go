// Package spec holds the typed instance specification: the declarative
// document an instance is defined from, with defaulting and validation.
// Everything here is pure; no hypervisor calls are made.
package spec

import (
	"encoding/base64"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gechandesu/compute/internal/units"
)

// EmulationMode is the CPU model exposure mode.
type EmulationMode string

const (
	HostPassthrough EmulationMode = "host-passthrough"
	HostModel       EmulationMode = "host-model"
	Custom          EmulationMode = "custom"
	Maximum         EmulationMode = "maximum"
)

// VolumeType is the backing storage kind of a volume.
type VolumeType string

const (
	VolumeFile  VolumeType = "file"
	VolumeBlock VolumeType = "block"
)

// DeviceType is the guest-visible device class of a volume.
type DeviceType string

const (
	DeviceDisk  DeviceType = "disk"
	DeviceCdrom DeviceType = "cdrom"
)

// InstanceSpec is the desired state of a compute instance. Partial
// documents are accepted; ApplyDefaults fills the rest before Validate
// runs.
type InstanceSpec struct {
	Name        string `yaml:"name,omitempty"`
	Title       string `yaml:"title,omitempty"`
	Description string `yaml:"description,omitempty"`

	// Sizing. Memory values are mebibytes.
	VCPUs     uint   `yaml:"vcpus"`
	MaxVCPUs  uint   `yaml:"max_vcpus,omitempty"`
	Memory    uint64 `yaml:"memory"`
	MaxMemory uint64 `yaml:"max_memory,omitempty"`

	CPU      CPUSpec     `yaml:"cpu,omitempty"`
	Machine  string      `yaml:"machine,omitempty"`
	Emulator string      `yaml:"emulator,omitempty"`
	Arch     string      `yaml:"arch,omitempty"`
	Boot     BootOptions `yaml:"boot,omitempty"`
	Network  NetworkSpec `yaml:"network,omitempty"`

	// Image is the source disk the system volume is cloned from.
	Image string `yaml:"image,omitempty"`

	Volumes   []VolumeSpec   `yaml:"volumes,omitempty"`
	CloudInit *CloudInitSpec `yaml:"cloud_init,omitempty"`
}

// CPUSpec describes CPU emulation for an instance. Vendor and Model are
// meaningful only in custom emulation mode.
type CPUSpec struct {
	EmulationMode EmulationMode `yaml:"emulation_mode,omitempty"`
	Vendor        string        `yaml:"vendor,omitempty"`
	Model         string        `yaml:"model,omitempty"`
	Features      *CPUFeatures  `yaml:"features,omitempty"`
	Topology      *CPUTopology  `yaml:"topology,omitempty"`
}

// CPUFeatures lists CPU feature policies. The two sets must be
// disjoint.
type CPUFeatures struct {
	Require []string `yaml:"require,omitempty"`
	Disable []string `yaml:"disable,omitempty"`
}

// CPUTopology fixes the guest CPU layout. When set, the product of its
// fields must equal max_vcpus, which also pins the vCPU count: hotplug
// beyond the topology needs a power cycle.
type CPUTopology struct {
	Sockets uint `yaml:"sockets"`
	Dies    uint `yaml:"dies,omitempty"`
	Cores   uint `yaml:"cores"`
	Threads uint `yaml:"threads"`
}

// Product returns sockets*dies*cores*threads.
func (t CPUTopology) Product() uint {
	return t.Sockets * t.Dies * t.Cores * t.Threads
}

// BootOptions holds the ordered boot device classes.
type BootOptions struct {
	Order []string `yaml:"order,omitempty"`
}

// NetworkSpec wraps the instance's network interfaces.
type NetworkSpec struct {
	Interfaces []NetworkInterfaceSpec `yaml:"interfaces,omitempty"`
}

// NetworkInterfaceSpec attaches one interface to a named libvirt
// network.
type NetworkInterfaceSpec struct {
	MAC    string `yaml:"mac,omitempty"`
	Source string `yaml:"source,omitempty"`
	Model  string `yaml:"model,omitempty"`
}

// Capacity is a data size with an explicit unit.
type Capacity struct {
	Value uint64         `yaml:"value"`
	Unit  units.DataUnit `yaml:"unit"`
}

// Bytes returns the capacity in bytes.
func (c Capacity) Bytes() (uint64, error) {
	return units.ToBytes(c.Value, c.Unit)
}

// VolumeSpec describes one instance volume. Exactly one of Source and
// Capacity must be set, except for the system volume which always has
// Capacity.
type VolumeSpec struct {
	Type       VolumeType `yaml:"type,omitempty"`
	Device     DeviceType `yaml:"device,omitempty"`
	Bus        string     `yaml:"bus,omitempty"`
	Target     string     `yaml:"target,omitempty"`
	Source     string     `yaml:"source,omitempty"`
	Capacity   *Capacity  `yaml:"capacity,omitempty"`
	IsReadonly bool       `yaml:"is_readonly,omitempty"`
	IsSystem   bool       `yaml:"is_system,omitempty"`
}

// CloudInitSpec carries the four independently optional cloud-init
// payloads.
type CloudInitSpec struct {
	UserData      Payload `yaml:"user_data,omitempty"`
	MetaData      Payload `yaml:"meta_data,omitempty"`
	VendorData    Payload `yaml:"vendor_data,omitempty"`
	NetworkConfig Payload `yaml:"network_config,omitempty"`
}

// IsZero reports whether no payload is present.
func (c *CloudInitSpec) IsZero() bool {
	return c == nil ||
		(c.UserData.IsZero() && c.MetaData.IsZero() &&
			c.VendorData.IsZero() && c.NetworkConfig.IsZero())
}

// Payload is one cloud-init datasource file. In a spec document it is
// either inline text, a "base64:"-prefixed encoded blob, or a nested
// document which is serialized to canonical YAML. The stored value is
// always the final text form.
type Payload struct {
	text   string
	nested bool
}

// Text returns the payload content in its final text form.
func (p Payload) Text() string { return p.text }

// IsZero reports whether the payload is absent.
func (p Payload) IsZero() bool { return p.text == "" }

// FromText builds a payload from already-normalized text.
func FromText(s string) Payload { return Payload{text: s} }

// UnmarshalYAML decodes the three accepted payload forms.
func (p *Payload) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		if enc, ok := strings.CutPrefix(s, "base64:"); ok {
			raw, err := base64.StdEncoding.DecodeString(enc)
			if err != nil {
				return fmt.Errorf("invalid base64 payload: %w", err)
			}
			p.text = string(raw)
			return nil
		}
		p.text = s
		return nil
	case yaml.MappingNode, yaml.SequenceNode:
		var doc any
		if err := node.Decode(&doc); err != nil {
			return err
		}
		if m, ok := doc.(map[string]any); ok {
			for key := range m {
				if strings.HasPrefix(key, "#") {
					return fmt.Errorf("nested document must not carry an inline %q shebang key", key)
				}
			}
		}
		out, err := yaml.Marshal(doc)
		if err != nil {
			return err
		}
		p.text = string(out)
		p.nested = true
		return nil
	default:
		return fmt.Errorf("payload must be a string or a nested document, got %v", node.Tag)
	}
}

// MarshalYAML re-emits the payload as its text form.
func (p Payload) MarshalYAML() (any, error) {
	return p.text, nil
}
