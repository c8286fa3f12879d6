// Package units converts between data size units used in instance
// specifications. Libvirt wants bytes or KiB depending on the call
// site; spec documents use human units.
package units

import (
	"fmt"
	"strings"
)

// DataUnit is a binary data size unit.
type DataUnit string

const (
	Bytes DataUnit = "bytes"
	KiB   DataUnit = "KiB"
	MiB   DataUnit = "MiB"
	GiB   DataUnit = "GiB"
	TiB   DataUnit = "TiB"
)

var pow = map[DataUnit]uint{
	Bytes: 0,
	KiB:   1,
	MiB:   2,
	GiB:   3,
	TiB:   4,
}

// Parse returns the DataUnit matching s. Matching is case-insensitive
// so "gib" and "GiB" are the same unit.
func Parse(s string) (DataUnit, error) {
	for u := range pow {
		if strings.EqualFold(string(u), s) {
			return u, nil
		}
	}
	return "", fmt.Errorf("invalid data unit %q, valid units are: bytes, KiB, MiB, GiB, TiB", s)
}

// ToBytes converts value in the given unit to bytes.
func ToBytes(value uint64, unit DataUnit) (uint64, error) {
	p, ok := pow[unit]
	if !ok {
		return 0, fmt.Errorf("invalid data unit %q, valid units are: bytes, KiB, MiB, GiB, TiB", unit)
	}
	for i := uint(0); i < p; i++ {
		value *= 1024
	}
	return value, nil
}

// MiBToBytes converts mebibytes to bytes.
func MiBToBytes(value uint64) uint64 {
	return value * 1024 * 1024
}

// MiBToKiB converts mebibytes to kibibytes.
func MiBToKiB(value uint64) uint64 {
	return value * 1024
}

// KiBToMiB converts kibibytes to mebibytes, rounding down.
func KiBToMiB(value uint64) uint64 {
	return value / 1024
}

// UnmarshalYAML accepts the unit as a plain string in any letter case.
func (u *DataUnit) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
