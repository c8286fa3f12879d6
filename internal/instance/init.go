package instance

import (
	"fmt"
	"log"

	"github.com/gechandesu/compute/internal/cloudinit"
	"github.com/gechandesu/compute/internal/domainxml"
	"github.com/gechandesu/compute/internal/errdefs"
	"github.com/gechandesu/compute/internal/spec"
)

// InitOptions adjust instance initialization.
type InitOptions struct {
	// DryRun stops after validation and translation: nothing is
	// created, the descriptor that would be defined is returned.
	DryRun bool
	// Start boots the instance right after it is defined.
	Start bool
}

// volumePlan is one volume Init must materialize.
type volumePlan struct {
	name     string
	capacity uint64
	isSystem bool
}

// Init creates an instance from a loaded spec: plans and creates its
// volumes, builds the cloud-init ISO when payloads are present, defines
// the domain and optionally starts it. The built descriptor is
// returned.
//
// A failed Init leaves already-created volumes in place; a re-run
// recognizes them and skips the satisfied steps.
func (m *Manager) Init(s *spec.InstanceSpec, opts InitOptions) (string, error) {
	if _, err := m.client.DomainLookupByName(s.Name); err == nil {
		return "", &errdefs.ResourceConflictError{
			Resource: "instance",
			Name:     s.Name,
			Reason:   "already exists",
		}
	}

	plans, err := m.planVolumes(s)
	if err != nil {
		return "", err
	}

	hasCloudInit := !s.CloudInit.IsZero()
	if hasCloudInit {
		isoName := cloudinit.VolumeName(s.Name)
		s.Volumes = append(s.Volumes, spec.VolumeSpec{
			Type:       spec.VolumeFile,
			Device:     spec.DeviceCdrom,
			Bus:        "sata",
			Target:     spec.NextFreeTarget(s.Volumes, "sd"),
			Source:     m.volumes.PlannedPath(isoName),
			IsReadonly: true,
		})
	}

	xml, err := domainxml.BuildXML(s, nil)
	if err != nil {
		return "", err
	}
	if opts.DryRun {
		return xml, nil
	}

	for _, plan := range plans {
		if err := m.createVolume(s, plan); err != nil {
			return "", err
		}
	}

	if hasCloudInit {
		if err := m.writeCloudInitISO(s.Name, s.CloudInit); err != nil {
			return "", err
		}
	}

	log.Printf("Defining instance '%s'...", s.Name)
	dom, err := m.client.DomainDefineXML(xml)
	if err != nil {
		return "", &errdefs.HypervisorError{Instance: s.Name, Operation: "define", Err: err}
	}

	if opts.Start {
		log.Printf("Starting instance '%s'...", s.Name)
		if err := m.client.DomainCreate(dom); err != nil {
			return "", &errdefs.HypervisorError{Instance: s.Name, Operation: "start", Err: err}
		}
	}
	return xml, nil
}

// planVolumes assigns a volume name and path to every spec volume that
// does not reference existing storage yet. Volume names are
// deterministic, "<instance>-<target>.qcow2", so a re-run of a failed
// Init resolves to the same volumes.
func (m *Manager) planVolumes(s *spec.InstanceSpec) ([]volumePlan, error) {
	var plans []volumePlan
	for i := range s.Volumes {
		v := &s.Volumes[i]
		if v.Source != "" || v.Capacity == nil {
			continue
		}
		capacity, err := v.Capacity.Bytes()
		if err != nil {
			return nil, &errdefs.ValidationError{Field: "volumes", Reason: err.Error()}
		}
		if v.IsSystem && !m.images.VolumeExists(s.Image) {
			return nil, &errdefs.NotFoundError{Resource: "image", Name: s.Image}
		}
		name := fmt.Sprintf("%s-%s.qcow2", s.Name, v.Target)
		v.Source = m.volumes.PlannedPath(name)
		plans = append(plans, volumePlan{
			name:     name,
			capacity: capacity,
			isSystem: v.IsSystem,
		})
	}
	return plans, nil
}

func (m *Manager) createVolume(s *spec.InstanceSpec, plan volumePlan) error {
	if m.volumes.VolumeExists(plan.name) {
		info, err := m.volumes.VolumeInfo(plan.name)
		if err != nil {
			return err
		}
		// A leftover from an interrupted run: an empty volume is a
		// satisfied create, a populated one a satisfied clone.
		// Anything else could belong to someone.
		if plan.isSystem && !info.IsEmpty() {
			log.Printf("Volume '%s' already cloned, skipping...", plan.name)
			return nil
		}
		if !plan.isSystem && info.IsEmpty() {
			log.Printf("Volume '%s' already exists and is empty, reusing...", plan.name)
			return nil
		}
		return &errdefs.ResourceConflictError{
			Resource: "volume",
			Name:     plan.name,
			Reason:   "already exists with unexpected contents",
		}
	}
	if plan.isSystem {
		log.Printf("Cloning image '%s' into volume '%s'...", s.Image, plan.name)
		if _, err := m.volumes.CloneVolume(m.images, s.Image, plan.name, plan.capacity); err != nil {
			return err
		}
		return nil
	}
	log.Printf("Creating volume '%s'...", plan.name)
	_, err := m.volumes.CreateVolume(plan.name, plan.capacity)
	return err
}

// writeCloudInitISO builds the NoCloud ISO and replaces the instance's
// ISO volume with it.
func (m *Manager) writeCloudInitISO(name string, c *spec.CloudInitSpec) error {
	isoName := cloudinit.VolumeName(name)
	data, err := cloudinit.GenerateISO(name, c)
	if err != nil {
		return err
	}
	if m.volumes.VolumeExists(isoName) {
		if err := m.volumes.DeleteVolume(isoName); err != nil {
			return err
		}
	}
	log.Printf("Writing cloud-init ISO '%s'...", isoName)
	if _, err := m.volumes.CreateRawVolume(isoName, uint64(len(data))); err != nil {
		return err
	}
	return m.volumes.UploadVolume(isoName, data)
}
