// Package registers holds the static register-descriptor catalogue and the
// live-data telemetry snapshot produced by the serial parser (pkg/uartlink)
// and consumed read-only by the rest of the gateway.
package registers

import (
	"math"

	"github.com/tinybms/bridge/errors"
)

// Access describes who may read/write a register over the wire.
type Access int

const (
	AccessRO Access = iota
	AccessWO
	AccessRW
)

func (a Access) String() string {
	switch a {
	case AccessRO:
		return "ro"
	case AccessWO:
		return "wo"
	case AccessRW:
		return "rw"
	default:
		return "unknown"
	}
}

// ValueClass is the semantic interpretation of a register's raw value.
type ValueClass int

const (
	ClassUnsigned ValueClass = iota
	ClassSigned
	ClassFloat
	ClassEnum
)

// WordType is the on-wire encoding of a register, which determines how many
// 16-bit words the parser consumes for it.
type WordType int

const (
	TypeU16 WordType = iota
	TypeI16
	TypeU32
	TypeF32
	TypeI8Pair
)

// WordCount returns how many 16-bit words this type occupies on the wire.
func (t WordType) WordCount() int {
	switch t {
	case TypeU16, TypeI16, TypeI8Pair:
		return 1
	case TypeU32, TypeF32:
		return 2
	default:
		return 1
	}
}

// EnumOption is one named value of an enum-class register.
type EnumOption struct {
	Value int64
	Label string
}

// Descriptor is the static metadata describing a single BMS register.
// Descriptors are immutable after the catalogue is loaded; only the raw
// value cache alongside them (see LiveData.RawRegisters) changes at
// runtime.
type Descriptor struct {
	Address    uint16
	Key        string
	Label      string
	Unit       string
	Group      string
	Type       WordType
	Access     Access
	Class      ValueClass
	Scale      float64
	Offset     float64
	Step       float64
	MinRaw     int64
	MaxRaw     int64
	Precision  int
	DefaultRaw int64
	Options    []EnumOption
}

// Validate checks the invariants spec.md §3 places on a descriptor:
// scale > 0 for numeric classes, enum options exhaustive and non-empty,
// min_raw <= default_raw <= max_raw.
func (d Descriptor) Validate() error {
	if d.Class != ClassEnum && d.Scale <= 0 {
		return errors.ErrInvalidDescriptor
	}
	if d.Class == ClassEnum && len(d.Options) == 0 {
		return errors.ErrInvalidDescriptor
	}
	if d.MinRaw > d.MaxRaw || d.DefaultRaw < d.MinRaw || d.DefaultRaw > d.MaxRaw {
		return errors.ErrInvalidDescriptor
	}
	return nil
}

// RawToUser converts a raw register value into engineering units.
func (d Descriptor) RawToUser(raw int64) float64 {
	if d.Type == TypeF32 {
		return float64(math.Float32frombits(uint32(raw)))*d.Scale + d.Offset
	}
	return float64(raw)*d.Scale + d.Offset
}

// Aligned snaps a user-facing value to the nearest step, matching the
// alignment UserToRaw performs before validating bounds. It is exposed
// separately so the round-trip law in spec.md §8
// (raw_to_user(user_to_raw(v)) == aligned(v)) can be tested directly.
func (d Descriptor) Aligned(user float64) float64 {
	if d.Step <= 0 {
		return user
	}
	steps := math.Round((user - d.Offset) / d.Step / d.Scale)
	return steps*d.Step*d.Scale + d.Offset
}

// UserToRaw converts a user-facing engineering value into a raw register
// value, enforcing enum membership, step alignment, and min/max bounds.
func (d Descriptor) UserToRaw(user float64) (int64, error) {
	if d.Class != ClassEnum && d.Scale <= 0 {
		return 0, errors.ErrInvalidDescriptor
	}
	if d.Type == TypeF32 {
		bits := math.Float32bits(float32((user - d.Offset) / d.Scale))
		return int64(bits), nil
	}
	raw := (user - d.Offset) / d.Scale
	if d.Step > 0 {
		raw = math.Round(raw/d.Step) * d.Step
	}
	r := int64(math.Round(raw))
	if r < d.MinRaw || r > d.MaxRaw {
		return 0, errors.ErrOutOfRange
	}
	if d.Class == ClassEnum {
		member := false
		for _, opt := range d.Options {
			if opt.Value == r {
				member = true
				break
			}
		}
		if !member {
			return 0, errors.ErrEnumNotMember
		}
	}
	return r, nil
}
