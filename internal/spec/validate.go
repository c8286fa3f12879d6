package spec

import (
	"fmt"
	"net"
	"regexp"

	"github.com/gechandesu/compute/internal/errdefs"
)

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

var bootDevices = map[string]bool{
	"hd":      true,
	"cdrom":   true,
	"network": true,
	"fd":      true,
}

// Validate checks a fully defaulted spec. It returns a
// *errdefs.ValidationError naming the offending field path, and makes
// no hypervisor calls.
func (s *InstanceSpec) Validate() error {
	if !namePattern.MatchString(s.Name) {
		return errdefs.Validation("name",
			"must contain only lowercase letters, numbers, hyphens and underscores, got %q", s.Name)
	}
	if s.VCPUs == 0 {
		return errdefs.Validation("vcpus", "must be greater than 0")
	}
	if s.MaxVCPUs < s.VCPUs {
		return errdefs.Validation("max_vcpus", "must not be less than vcpus (%d < %d)", s.MaxVCPUs, s.VCPUs)
	}
	if s.Memory == 0 {
		return errdefs.Validation("memory", "must be greater than 0")
	}
	if s.MaxMemory < s.Memory {
		return errdefs.Validation("max_memory", "must not be less than memory (%d < %d)", s.MaxMemory, s.Memory)
	}
	if err := s.CPU.validate(s.MaxVCPUs); err != nil {
		return err
	}
	for i, dev := range s.Boot.Order {
		if !bootDevices[dev] {
			return errdefs.Validation(fmt.Sprintf("boot.order[%d]", i), "unknown boot device class %q", dev)
		}
	}
	for i, iface := range s.Network.Interfaces {
		field := fmt.Sprintf("network.interfaces[%d]", i)
		if iface.Source == "" {
			return errdefs.Validation(field+".source", "is required")
		}
		if _, err := net.ParseMAC(iface.MAC); err != nil {
			return errdefs.Validation(field+".mac", "invalid MAC address %q", iface.MAC)
		}
	}
	return s.validateVolumes()
}

func (c *CPUSpec) validate(maxVCPUs uint) error {
	switch c.EmulationMode {
	case HostPassthrough, HostModel, Custom, Maximum:
	default:
		return errdefs.Validation("cpu.emulation_mode", "unknown mode %q", c.EmulationMode)
	}
	if c.EmulationMode == Custom {
		if c.Vendor == "" || c.Model == "" {
			return errdefs.Validation("cpu", "custom emulation mode requires vendor and model")
		}
	}
	if c.Features != nil {
		require := make(map[string]bool, len(c.Features.Require))
		for _, f := range c.Features.Require {
			require[f] = true
		}
		for _, f := range c.Features.Disable {
			if require[f] {
				return errdefs.Validation("cpu.features", "feature %q is both required and disabled", f)
			}
		}
	}
	if t := c.Topology; t != nil {
		if t.Sockets == 0 || t.Dies == 0 || t.Cores == 0 || t.Threads == 0 {
			return errdefs.Validation("cpu.topology", "sockets, dies, cores and threads must be greater than 0")
		}
		if t.Product() != maxVCPUs {
			return errdefs.Validation("cpu.topology",
				"sockets*dies*cores*threads must equal max_vcpus (%d != %d)", t.Product(), maxVCPUs)
		}
	}
	return nil
}

func (s *InstanceSpec) validateVolumes() error {
	targets := make(map[string]bool, len(s.Volumes))
	systems := 0
	for i, v := range s.Volumes {
		field := fmt.Sprintf("volumes[%d]", i)
		switch v.Type {
		case VolumeFile, VolumeBlock:
		default:
			return errdefs.Validation(field+".type", "unsupported volume type %q", v.Type)
		}
		switch v.Device {
		case DeviceDisk, DeviceCdrom:
		default:
			return errdefs.Validation(field+".device", "unsupported device %q", v.Device)
		}
		if v.Target == "" {
			return errdefs.Validation(field+".target", "is required")
		}
		if targets[v.Target] {
			return errdefs.Validation(field+".target", "duplicate target %q", v.Target)
		}
		targets[v.Target] = true
		if v.IsSystem {
			systems++
			if systems > 1 {
				return errdefs.Validation(field+".is_system", "at most one volume may be marked system")
			}
			if v.Capacity == nil {
				return errdefs.Validation(field+".capacity", "is required for the system volume")
			}
			if v.Source != "" {
				return errdefs.Validation(field+".source", "must not be set on the system volume")
			}
			if s.Image == "" {
				return errdefs.Validation("image", "is required when a system volume is defined")
			}
		} else {
			has := 0
			if v.Source != "" {
				has++
			}
			if v.Capacity != nil {
				has++
			}
			if v.Device == DeviceCdrom {
				// A cdrom may be attached with no media and gets one
				// later via setcdrom, but it never has a capacity.
				if v.Capacity != nil {
					return errdefs.Validation(field+".capacity", "must not be set on a cdrom volume")
				}
			} else if has != 1 {
				return errdefs.Validation(field, "exactly one of source and capacity must be set")
			}
		}
		if v.Capacity != nil {
			if _, err := v.Capacity.Bytes(); err != nil {
				return errdefs.Validation(field+".capacity.unit", "%v", err)
			}
			if v.Capacity.Value == 0 {
				return errdefs.Validation(field+".capacity.value", "must be greater than 0")
			}
		}
	}
	return nil
}
