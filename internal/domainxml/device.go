package domainxml

import (
	"libvirt.org/go/libvirtxml"

	"github.com/gechandesu/compute/internal/errdefs"
	"github.com/gechandesu/compute/internal/spec"
)

// BuildDisk translates one volume into a disk device node. The volume
// must carry its source path, except for a cdrom which may have no
// media inserted.
func BuildDisk(v spec.VolumeSpec) (*libvirtxml.DomainDisk, error) {
	if v.Source == "" && v.Device != spec.DeviceCdrom {
		return nil, &errdefs.TranslationError{
			Reason: "volume " + v.Target + " has no source path; volumes must be created before translation",
		}
	}
	driverType := "qcow2"
	if v.Device == spec.DeviceCdrom {
		driverType = "raw"
	}
	disk := &libvirtxml.DomainDisk{
		Device: string(v.Device),
		Driver: &libvirtxml.DomainDiskDriver{Name: "qemu", Type: driverType, Cache: "writethrough"},
		Target: &libvirtxml.DomainDiskTarget{Dev: v.Target, Bus: v.Bus},
	}
	if v.Source != "" {
		switch v.Type {
		case spec.VolumeBlock:
			disk.Source = &libvirtxml.DomainDiskSource{
				Block: &libvirtxml.DomainDiskSourceBlock{Dev: v.Source},
			}
		default:
			disk.Source = &libvirtxml.DomainDiskSource{
				File: &libvirtxml.DomainDiskSourceFile{File: v.Source},
			}
		}
	}
	if v.IsReadonly {
		disk.ReadOnly = &libvirtxml.DomainDiskReadOnly{}
	}
	return disk, nil
}

// DiskXML returns the standalone disk device document used for
// attach/detach/update calls.
func DiskXML(v spec.VolumeSpec) (string, error) {
	disk, err := BuildDisk(v)
	if err != nil {
		return "", err
	}
	xml, err := disk.Marshal()
	if err != nil {
		return "", &errdefs.TranslationError{Reason: "cannot marshal disk device", Err: err}
	}
	return xml, nil
}

// BuildInterface translates one interface spec into a domain interface
// node attached to a libvirt network.
func BuildInterface(i spec.NetworkInterfaceSpec) *libvirtxml.DomainInterface {
	iface := &libvirtxml.DomainInterface{
		MAC: &libvirtxml.DomainInterfaceMAC{Address: i.MAC},
		Source: &libvirtxml.DomainInterfaceSource{
			Network: &libvirtxml.DomainInterfaceSourceNetwork{Network: i.Source},
		},
	}
	if i.Model != "" {
		iface.Model = &libvirtxml.DomainInterfaceModel{Type: i.Model}
	}
	return iface
}

// InterfaceXML returns the standalone interface device document.
func InterfaceXML(i spec.NetworkInterfaceSpec) (string, error) {
	xml, err := BuildInterface(i).Marshal()
	if err != nil {
		return "", &errdefs.TranslationError{Reason: "cannot marshal interface device", Err: err}
	}
	return xml, nil
}

// ParseDisk decodes a disk device document, as returned inside a domain
// descriptor, back into a volume spec view.
func ParseDisk(xml string) (*spec.VolumeSpec, error) {
	var disk libvirtxml.DomainDisk
	if err := disk.Unmarshal(xml); err != nil {
		return nil, &errdefs.TranslationError{Reason: "cannot parse disk device", Err: err}
	}
	v, _, err := diskToVolume(disk, true)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// diskToVolume maps a disk node onto the volume model. The second
// result is false when the node uses a source form the model does not
// own; strict mode turns that into an error, lenient mode passes the
// node through opaquely.
func diskToVolume(disk libvirtxml.DomainDisk, strict bool) (*spec.VolumeSpec, bool, error) {
	v := &spec.VolumeSpec{}
	switch disk.Device {
	case "", "disk":
		v.Device = spec.DeviceDisk
	case "cdrom":
		v.Device = spec.DeviceCdrom
	default:
		if strict {
			return nil, false, &errdefs.TranslationError{Reason: "unsupported disk device " + disk.Device}
		}
		return nil, false, nil
	}
	if disk.Target != nil {
		v.Target = disk.Target.Dev
		v.Bus = disk.Target.Bus
	}
	v.IsReadonly = disk.ReadOnly != nil
	switch {
	case disk.Source == nil:
		if v.Device != spec.DeviceCdrom {
			if strict {
				return nil, false, &errdefs.TranslationError{Reason: "disk " + v.Target + " has no source"}
			}
			return nil, false, nil
		}
		v.Type = spec.VolumeFile
	case disk.Source.File != nil:
		v.Type = spec.VolumeFile
		v.Source = disk.Source.File.File
	case disk.Source.Block != nil:
		v.Type = spec.VolumeBlock
		v.Source = disk.Source.Block.Dev
	default:
		if strict {
			return nil, false, &errdefs.TranslationError{Reason: "unsupported source form on disk " + v.Target}
		}
		return nil, false, nil
	}
	return v, true, nil
}
