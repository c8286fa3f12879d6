// Package cloudinit builds the NoCloud datasource ISO an instance
// reads its cloud-init payloads from.
package cloudinit

import (
	"bytes"
	"fmt"
	"io"

	"github.com/kdomanski/iso9660"
	"gopkg.in/yaml.v3"

	"github.com/gechandesu/compute/internal/spec"
)

// VolumeSuffix names the ISO volume of an instance: "<name>-cidata.iso".
const VolumeSuffix = "-cidata.iso"

// VolumeName returns the ISO volume name for an instance.
func VolumeName(instance string) string {
	return instance + VolumeSuffix
}

// GenerateISO builds the NoCloud ISO for an instance.
//
// user-data falls back to an empty cloud-config document and meta-data
// to a generated instance-id, so the datasource is always complete.
// vendor-data and network-config are written only when present. The
// volume label must be the uppercase "CIDATA" per the NoCloud
// datasource contract.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/datasources/nocloud.html
func GenerateISO(instance string, c *spec.CloudInitSpec) ([]byte, error) {
	if instance == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	userData := "#cloud-config\n"
	var vendorData, networkConfig string
	var metaData string
	if c != nil {
		if !c.UserData.IsZero() {
			userData = c.UserData.Text()
		}
		metaData = c.MetaData.Text()
		vendorData = c.VendorData.Text()
		networkConfig = c.NetworkConfig.Text()
	}
	if metaData == "" {
		generated, err := defaultMetaData(instance)
		if err != nil {
			return nil, err
		}
		metaData = generated
	}

	writer, err := iso9660.NewWriter()
	if err != nil {
		return nil, fmt.Errorf("failed to create ISO writer: %w", err)
	}
	defer func() {
		_ = writer.Cleanup()
	}()

	files := []struct {
		name    string
		content string
	}{
		{"user-data", userData},
		{"meta-data", metaData},
		{"vendor-data", vendorData},
		{"network-config", networkConfig},
	}
	for _, f := range files {
		if f.content == "" && (f.name == "vendor-data" || f.name == "network-config") {
			continue
		}
		if err := writer.AddFile(bytes.NewReader([]byte(f.content)), f.name); err != nil {
			return nil, fmt.Errorf("failed to add %s: %w", f.name, err)
		}
	}

	var buf bytes.Buffer
	if err := writer.WriteTo(&buf, "CIDATA"); err != nil {
		return nil, fmt.Errorf("failed to write ISO image: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseISO reads the payloads back out of a NoCloud ISO, so a partial
// update can merge new payloads over the ones already deployed.
func ParseISO(isoBytes []byte) (*spec.CloudInitSpec, error) {
	img, err := iso9660.OpenImage(bytes.NewReader(isoBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to open ISO image: %w", err)
	}
	rootDir, err := img.RootDir()
	if err != nil {
		return nil, fmt.Errorf("failed to read ISO root directory: %w", err)
	}
	children, err := rootDir.GetChildren()
	if err != nil {
		return nil, fmt.Errorf("failed to read ISO root directory: %w", err)
	}
	var c spec.CloudInitSpec
	for _, child := range children {
		content, err := io.ReadAll(child.Reader())
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", child.Name(), err)
		}
		switch child.Name() {
		case "user-data":
			c.UserData = spec.FromText(string(content))
		case "meta-data":
			c.MetaData = spec.FromText(string(content))
		case "vendor-data":
			c.VendorData = spec.FromText(string(content))
		case "network-config":
			c.NetworkConfig = spec.FromText(string(content))
		}
	}
	return &c, nil
}

// Merge overlays the payloads set in patch over base. Payloads absent
// from patch keep their base value.
func Merge(base, patch *spec.CloudInitSpec) *spec.CloudInitSpec {
	merged := &spec.CloudInitSpec{}
	if base != nil {
		*merged = *base
	}
	if patch == nil {
		return merged
	}
	if !patch.UserData.IsZero() {
		merged.UserData = patch.UserData
	}
	if !patch.MetaData.IsZero() {
		merged.MetaData = patch.MetaData
	}
	if !patch.VendorData.IsZero() {
		merged.VendorData = patch.VendorData
	}
	if !patch.NetworkConfig.IsZero() {
		merged.NetworkConfig = patch.NetworkConfig
	}
	return merged
}

func defaultMetaData(instance string) (string, error) {
	out, err := yaml.Marshal(map[string]string{
		"instance-id":    instance,
		"local-hostname": instance,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate meta-data: %w", err)
	}
	return string(out), nil
}
