package domainxml

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"libvirt.org/go/libvirtxml"

	"github.com/gechandesu/compute/internal/errdefs"
	"github.com/gechandesu/compute/internal/spec"
)

// metadataNS is the namespace of the descriptor metadata element that
// records which disk backs the operating system. Libvirt keeps
// <metadata> children, so the marker survives restarts and lets a
// descriptor read back from the hypervisor identify the system volume.
const metadataNS = "https://github.com/gechandesu/compute/instance"

type instanceMetadata struct {
	XMLName    xml.Name `xml:"https://github.com/gechandesu/compute/instance instance"`
	SystemDisk string   `xml:"system_disk,omitempty"`
}

// setMetadata rewrites the instance metadata element in place. Metadata
// stored by other tools under other namespaces is kept verbatim.
func setMetadata(d *libvirtxml.Domain, s *spec.InstanceSpec) error {
	var system string
	for _, v := range s.Volumes {
		if v.IsSystem {
			system = v.Target
			break
		}
	}
	var existing string
	if d.Metadata != nil {
		existing = d.Metadata.XML
	}
	kept, err := stripInstanceMetadata(existing)
	if err != nil {
		return &errdefs.TranslationError{Reason: "cannot parse descriptor metadata", Err: err}
	}
	if system == "" {
		if kept == "" {
			d.Metadata = nil
		} else {
			d.Metadata = &libvirtxml.DomainMetadata{XML: kept}
		}
		return nil
	}
	marker, err := xml.Marshal(instanceMetadata{SystemDisk: system})
	if err != nil {
		return &errdefs.TranslationError{Reason: "cannot marshal descriptor metadata", Err: err}
	}
	d.Metadata = &libvirtxml.DomainMetadata{XML: kept + string(marker)}
	return nil
}

// systemDiskTarget reads the system-volume marker back from the
// descriptor. An empty string means no marker is present.
func systemDiskTarget(d *libvirtxml.Domain) (string, error) {
	if d.Metadata == nil || d.Metadata.XML == "" {
		return "", nil
	}
	var wrapper struct {
		Instance *instanceMetadata `xml:"https://github.com/gechandesu/compute/instance instance"`
	}
	doc := fmt.Sprintf("<metadata>%s</metadata>", d.Metadata.XML)
	if err := xml.Unmarshal([]byte(doc), &wrapper); err != nil {
		return "", &errdefs.TranslationError{Reason: "cannot parse descriptor metadata", Err: err}
	}
	if wrapper.Instance == nil {
		return "", nil
	}
	return wrapper.Instance.SystemDisk, nil
}

// stripInstanceMetadata removes the instance element from a metadata
// inner document, returning every other top-level element as-is.
func stripInstanceMetadata(inner string) (string, error) {
	if inner == "" {
		return "", nil
	}
	dec := xml.NewDecoder(strings.NewReader(inner))
	var kept strings.Builder
	var depth int
	var elemStart int64
	var skip bool
	var prev int64
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				elemStart = prev
				skip = t.Name.Space == metadataNS && t.Name.Local == "instance"
			}
			depth++
		case xml.EndElement:
			depth--
			if depth == 0 && !skip {
				kept.WriteString(inner[elemStart:dec.InputOffset()])
			}
		}
		prev = dec.InputOffset()
	}
	return kept.String(), nil
}
