package domainxml

import (
	"strings"
	"testing"

	"github.com/gechandesu/compute/internal/spec"
)

const descriptorWithForeignDevices = `
<domain type="kvm">
  <name>vm2</name>
  <metadata>
    <instance xmlns="https://github.com/gechandesu/compute/instance">
      <system_disk>vda</system_disk>
    </instance>
    <other xmlns="urn:example:other"><keep/></other>
  </metadata>
  <memory unit="GiB">2</memory>
  <currentMemory unit="KiB">1048576</currentMemory>
  <vcpu placement="static" current="2">4</vcpu>
  <cpu mode="host-passthrough"/>
  <os>
    <type arch="x86_64" machine="pc-q35-8.2">hvm</type>
    <boot dev="hd"/>
  </os>
  <devices>
    <emulator>/usr/bin/qemu-system-x86_64</emulator>
    <disk type="file" device="disk">
      <driver name="qemu" type="qcow2"/>
      <source file="/volumes/vm2-vda.qcow2"/>
      <target dev="vda" bus="virtio"/>
    </disk>
    <disk type="volume" device="disk">
      <source pool="weird" volume="not-modeled"/>
      <target dev="vdx" bus="virtio"/>
    </disk>
    <interface type="network">
      <mac address="00:16:3e:01:02:03"/>
      <source network="default"/>
      <model type="virtio"/>
    </interface>
    <interface type="bridge">
      <source bridge="br0"/>
    </interface>
  </devices>
</domain>
`

func TestParseStrictRejectsForeignDevices(t *testing.T) {
	if _, err := Parse(descriptorWithForeignDevices); err == nil {
		t.Fatal("Parse() should reject a pool-backed disk")
	}
}

func TestParseLenient(t *testing.T) {
	parsed, err := ParseLenient(descriptorWithForeignDevices)
	if err != nil {
		t.Fatalf("ParseLenient() error: %v", err)
	}
	s := parsed.Spec
	if s.Name != "vm2" {
		t.Errorf("name = %q, want vm2", s.Name)
	}
	if s.MaxMemory != 2048 || s.Memory != 1024 {
		t.Errorf("memory = %d/%d MiB, want 1024/2048", s.Memory, s.MaxMemory)
	}
	if s.VCPUs != 2 || s.MaxVCPUs != 4 {
		t.Errorf("vcpus = %d/%d, want 2/4", s.VCPUs, s.MaxVCPUs)
	}
	if len(s.Volumes) != 1 {
		t.Fatalf("got %d modeled volumes, want 1: %+v", len(s.Volumes), s.Volumes)
	}
	if !s.Volumes[0].IsSystem {
		t.Error("vda should carry the system marker")
	}
	if len(s.Network.Interfaces) != 1 || s.Network.Interfaces[0].Source != "default" {
		t.Errorf("interfaces = %+v, want one network interface", s.Network.Interfaces)
	}
	// The skipped devices stay in the retained base document.
	if len(parsed.Base.Devices.Disks) != 2 {
		t.Errorf("base kept %d disks, want 2", len(parsed.Base.Devices.Disks))
	}
	if len(parsed.Base.Devices.Interfaces) != 2 {
		t.Errorf("base kept %d interfaces, want 2", len(parsed.Base.Devices.Interfaces))
	}
}

func TestParseRebuildKeepsForeignMetadata(t *testing.T) {
	parsed, err := ParseLenient(descriptorWithForeignDevices)
	if err != nil {
		t.Fatalf("ParseLenient() error: %v", err)
	}
	d, err := Build(&parsed.Spec, parsed.Base)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if d.Metadata == nil {
		t.Fatal("metadata dropped on rebuild")
	}
	xml := d.Metadata.XML
	for _, want := range []string{"urn:example:other", "system_disk"} {
		if !strings.Contains(xml, want) {
			t.Errorf("metadata missing %q:\n%s", want, xml)
		}
	}
}

func TestParseUnknownMemoryUnit(t *testing.T) {
	if _, err := memoryToMiB(1, "furlongs"); err == nil {
		t.Fatal("memoryToMiB() should reject an unknown unit")
	}
}

func TestMemoryToMiB(t *testing.T) {
	tests := []struct {
		value uint
		unit  string
		want  uint64
	}{
		{2097152, "", 2048},
		{2097152, "KiB", 2048},
		{1024, "MiB", 1024},
		{2, "GiB", 2048},
		{1073741824, "bytes", 1024},
		{1000, "MB", 953},
	}
	for _, tt := range tests {
		got, err := memoryToMiB(tt.value, tt.unit)
		if err != nil {
			t.Errorf("memoryToMiB(%d, %q) error: %v", tt.value, tt.unit, err)
			continue
		}
		if got != tt.want {
			t.Errorf("memoryToMiB(%d, %q) = %d, want %d", tt.value, tt.unit, got, tt.want)
		}
	}
}

func TestParseCustomCPU(t *testing.T) {
	s := testSpec()
	s.CPU = spec.CPUSpec{
		EmulationMode: spec.Custom,
		Vendor:        "Intel",
		Model:         "Snowridge",
	}
	xml, err := BuildXML(s, nil)
	if err != nil {
		t.Fatalf("BuildXML() error: %v", err)
	}
	parsed, err := Parse(xml)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	got := parsed.Spec.CPU
	if got.EmulationMode != spec.Custom || got.Vendor != "Intel" || got.Model != "Snowridge" {
		t.Errorf("cpu = %+v", got)
	}
}
