package spec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gechandesu/compute/internal/errdefs"
)

// Load parses an instance document, fills defaults from the host
// capabilities and validates the result. Unknown document keys are
// rejected.
func Load(data []byte, caps HostCaps) (*InstanceSpec, error) {
	var s InstanceSpec
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, &errdefs.ValidationError{Reason: fmt.Sprintf("cannot parse document: %v", err)}
	}
	ApplyDefaults(&s, caps)
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadFile reads and loads an instance document from path.
func LoadFile(path string, caps HostCaps) (*InstanceSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	return Load(data, caps)
}
