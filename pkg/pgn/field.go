// Package pgn implements the declarative CAN field-mapping and
// periodic-publication pipeline: PGN definitions as ordered field lists
// compiled into bit-exact 8-byte payloads, and a scheduler that
// transmits each channel on its own deadline.
//
// The split between a pure Compile (build bytes from field
// definitions and a Context) and a side-effecting Scheduler.tick
// (decide what's due and hand bytes to a canbus.Bus) follows the
// teacher library's TPDO design (pdo_common.go/pdo_tpdo.go): pdo.go
// builds the mapped payload, tpdo.process() decides timing and calls
// Send separately.
package pgn

import bmserrors "github.com/tinybms/bridge/errors"

// Encoding selects how a field's bytes are produced.
type Encoding int

const (
	EncodingUnsigned Encoding = iota
	EncodingSigned
	EncodingBits
	EncodingASCII
)

// Field is one declarative mapping from a named signal to a span of
// bytes (or bits) in an 8-byte CAN payload.
type Field struct {
	ByteOffset int // 0..7
	Encoding   Encoding

	ByteLength int // EncodingUnsigned/Signed/ASCII: 1-4 (1-8 for ASCII)
	BitOffset  int // EncodingBits: 0-7, within ByteOffset
	BitLength  int // EncodingBits: 1-8, BitOffset+BitLength <= 8

	BigEndian bool

	// Source names the entry this field pulls from the Context passed
	// to Compile: a numeric Signals key for Unsigned/Signed/Bits, or a
	// Strings key for ASCII. Empty Source with Constant set produces a
	// fixed value instead.
	Source   string
	Constant *float64

	Gain   float64 // ignored (1.0) for EncodingBits/ASCII
	Offset float64

	ClampMin *float64
	ClampMax *float64
	Round    bool
}

// Context supplies the live values Compile resolves Field.Source
// against. Numeric fields look up Signals; ASCII fields look up
// Strings. It deliberately has no dependency on the telemetry, CVL, or
// energy packages — the orchestrator is responsible for projecting
// their state into this flat shape once per cycle.
type Context struct {
	Signals map[string]float64
	Strings map[string]string
}

func (c Context) signal(name string) (float64, bool) {
	if c.Signals == nil {
		return 0, false
	}
	v, ok := c.Signals[name]
	return v, ok
}

func (c Context) str(name string) (string, bool) {
	if c.Strings == nil {
		return "", false
	}
	v, ok := c.Strings[name]
	return v, ok
}

// Validate checks the structural invariants spec.md places on a field
// list: no write exceeds byte 7, bit-fields stay within one byte, and
// no two fields alias unless both are disjoint bit-fields in the same
// byte.
func Validate(fields []Field) error {
	var occupied [8]uint8 // bitmask of claimed bits per byte

	for _, f := range fields {
		if f.ByteOffset < 0 || f.ByteOffset > 7 {
			return bmserrors.ErrFieldOutOfBounds
		}
		switch f.Encoding {
		case EncodingBits:
			if f.BitOffset < 0 || f.BitLength <= 0 || f.BitOffset+f.BitLength > 8 {
				return bmserrors.ErrFieldOutOfBounds
			}
			mask := uint8(((1 << f.BitLength) - 1) << f.BitOffset)
			if occupied[f.ByteOffset]&mask != 0 {
				return bmserrors.ErrAliasingFields
			}
			occupied[f.ByteOffset] |= mask
		default:
			if f.ByteLength <= 0 || f.ByteOffset+f.ByteLength > 8 {
				return bmserrors.ErrFieldOutOfBounds
			}
			for b := f.ByteOffset; b < f.ByteOffset+f.ByteLength; b++ {
				if occupied[b] != 0 {
					return bmserrors.ErrAliasingFields
				}
				occupied[b] = 0xFF
			}
		}
	}
	return nil
}
