package storage

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/digitalocean/go-libvirt"
	"libvirt.org/go/libvirtxml"

	"github.com/gechandesu/compute/internal/errdefs"
)

// VolumeInfo is a live snapshot of one volume.
type VolumeInfo struct {
	Name       string
	Path       string
	Pool       string
	Capacity   uint64
	Allocation uint64
}

// IsEmpty reports whether nothing has been written to the volume yet.
// A freshly created qcow2 volume carries only its header, so a zero
// allocation marks it safe to reuse.
func (i VolumeInfo) IsEmpty() bool { return i.Allocation == 0 }

// CreateVolume creates an empty qcow2 volume and returns its path.
func (p *Pool) CreateVolume(name string, capacityBytes uint64) (string, error) {
	xml, err := volumeXML(name, "qcow2", capacityBytes)
	if err != nil {
		return "", err
	}
	vol, err := p.client.StorageVolCreateXML(p.ref, xml, 0)
	if err != nil {
		return "", fmt.Errorf("failed to create volume %q in pool %q: %w", name, p.name, err)
	}
	return p.volPath(vol)
}

// CreateRawVolume creates an empty raw volume, used for cloud-init
// ISO images, and returns its path.
func (p *Pool) CreateRawVolume(name string, capacityBytes uint64) (string, error) {
	xml, err := volumeXML(name, "raw", capacityBytes)
	if err != nil {
		return "", err
	}
	vol, err := p.client.StorageVolCreateXML(p.ref, xml, 0)
	if err != nil {
		return "", fmt.Errorf("failed to create volume %q in pool %q: %w", name, p.name, err)
	}
	return p.volPath(vol)
}

// CloneVolume copies a source volume from src into this pool under the
// given name, then grows the copy to capacityBytes when that exceeds
// the source size. This is how a system volume is born from an image.
func (p *Pool) CloneVolume(src *Pool, srcName, name string, capacityBytes uint64) (string, error) {
	srcVol, err := src.lookup(srcName)
	if err != nil {
		return "", err
	}
	_, srcCapacity, _, err := src.client.StorageVolGetInfo(srcVol)
	if err != nil {
		return "", fmt.Errorf("failed to inspect volume %q: %w", srcName, err)
	}
	if capacityBytes < srcCapacity {
		return "", &errdefs.ValidationError{
			Field:  "volumes",
			Reason: fmt.Sprintf("capacity %d is below the image size %d", capacityBytes, srcCapacity),
		}
	}
	xml, err := volumeXML(name, "qcow2", capacityBytes)
	if err != nil {
		return "", err
	}
	vol, err := p.client.StorageVolCreateXMLFrom(p.ref, xml, srcVol, 0)
	if err != nil {
		return "", fmt.Errorf("failed to clone volume %q from %q: %w", name, srcName, err)
	}
	if capacityBytes > srcCapacity {
		if err := p.client.StorageVolResize(vol, capacityBytes, 0); err != nil {
			return "", fmt.Errorf("failed to resize volume %q to %d bytes: %w", name, capacityBytes, err)
		}
	}
	return p.volPath(vol)
}

// ResizeVolume grows a volume to capacityBytes. Shrinking is refused
// by libvirt without an explicit flag and is not supported here.
func (p *Pool) ResizeVolume(name string, capacityBytes uint64) error {
	vol, err := p.lookup(name)
	if err != nil {
		return err
	}
	if err := p.client.StorageVolResize(vol, capacityBytes, 0); err != nil {
		return fmt.Errorf("failed to resize volume %q to %d bytes: %w", name, capacityBytes, err)
	}
	return nil
}

// UploadVolume overwrites the volume contents with data.
func (p *Pool) UploadVolume(name string, data []byte) error {
	vol, err := p.lookup(name)
	if err != nil {
		return err
	}
	reader := bytes.NewReader(data)
	if err := p.client.StorageVolUpload(vol, reader, 0, uint64(len(data)), 0); err != nil {
		return fmt.Errorf("failed to upload data to volume %q: %w", name, err)
	}
	return nil
}

// DownloadVolume reads the full volume contents back.
func (p *Pool) DownloadVolume(name string) ([]byte, error) {
	vol, err := p.lookup(name)
	if err != nil {
		return nil, err
	}
	_, capacity, _, err := p.client.StorageVolGetInfo(vol)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect volume %q: %w", name, err)
	}
	var buf bytes.Buffer
	if err := p.client.StorageVolDownload(vol, &buf, 0, capacity, 0); err != nil {
		return nil, fmt.Errorf("failed to download volume %q: %w", name, err)
	}
	return buf.Bytes(), nil
}

// DeleteVolume removes a volume and its backing file.
func (p *Pool) DeleteVolume(name string) error {
	vol, err := p.lookup(name)
	if err != nil {
		return err
	}
	if err := p.client.StorageVolDelete(vol, 0); err != nil {
		return fmt.Errorf("failed to delete volume %q: %w", name, err)
	}
	return nil
}

// VolumeExists reports whether a volume with the given name exists.
func (p *Pool) VolumeExists(name string) bool {
	_, err := p.client.StorageVolLookupByName(p.ref, name)
	return err == nil
}

// VolumePath returns the filesystem path of a volume.
func (p *Pool) VolumePath(name string) (string, error) {
	vol, err := p.lookup(name)
	if err != nil {
		return "", err
	}
	return p.volPath(vol)
}

// VolumeInfo returns a live snapshot of a volume.
func (p *Pool) VolumeInfo(name string) (*VolumeInfo, error) {
	vol, err := p.lookup(name)
	if err != nil {
		return nil, err
	}
	path, err := p.volPath(vol)
	if err != nil {
		return nil, err
	}
	_, capacity, allocation, err := p.client.StorageVolGetInfo(vol)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect volume %q: %w", name, err)
	}
	return &VolumeInfo{
		Name:       name,
		Path:       path,
		Pool:       p.name,
		Capacity:   capacity,
		Allocation: allocation,
	}, nil
}

func (p *Pool) lookup(name string) (libvirt.StorageVol, error) {
	vol, err := p.client.StorageVolLookupByName(p.ref, name)
	if err != nil {
		return libvirt.StorageVol{}, &errdefs.NotFoundError{Resource: "volume", Name: name}
	}
	return vol, nil
}

func (p *Pool) volPath(vol libvirt.StorageVol) (string, error) {
	path, err := p.client.StorageVolGetPath(vol)
	if err != nil {
		return "", fmt.Errorf("failed to get path of volume %q: %w", vol.Name, err)
	}
	return path, nil
}

func volumeXML(name, format string, capacityBytes uint64) (string, error) {
	vol := &libvirtxml.StorageVolume{
		Type: "file",
		Name: name,
		Capacity: &libvirtxml.StorageVolumeSize{
			Value: capacityBytes,
			Unit:  "B",
		},
		Target: &libvirtxml.StorageVolumeTarget{
			Format: &libvirtxml.StorageVolumeTargetFormat{Type: format},
		},
	}
	xmlBytes, err := vol.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to generate volume XML: %w", err)
	}
	xml := strings.TrimPrefix(string(xmlBytes), `<?xml version="1.0" encoding="UTF-8"?>`)
	return strings.TrimSpace(xml), nil
}
