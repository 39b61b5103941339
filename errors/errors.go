// Package errors declares the sentinel error kinds shared across the
// gateway (spec.md §7), the same way the teacher library's errors.go
// declares one flat set of sentinels for the whole CANopen stack.
package errors

import "errors"

var (
	ErrInvalidArg        = errors.New("invalid argument")
	ErrInvalidSize       = errors.New("buffer too small")
	ErrInvalidState      = errors.New("invalid state for requested operation")
	ErrTimeout           = errors.New("operation timed out")
	ErrInvalidCrc        = errors.New("frame CRC does not match")
	ErrInvalidHeader     = errors.New("frame header invalid")
	ErrInvalidLength     = errors.New("frame length invalid")
	ErrMissingRegister   = errors.New("expected register missing from frame")
	ErrUnexpectedOpcode  = errors.New("unexpected response opcode")
	ErrHardware          = errors.New("hardware reported an error")
	ErrNotFound          = errors.New("not found")
	ErrOutOfMemory       = errors.New("out of memory")
	ErrPersistence       = errors.New("persistence operation failed")
	ErrInvalidDescriptor = errors.New("invalid register descriptor")
	ErrOutOfRange        = errors.New("value out of range for register")
	ErrEnumNotMember     = errors.New("value is not a member of the register's enum")
	ErrAliasingFields    = errors.New("pgn field layout aliases another field")
	ErrFieldOutOfBounds  = errors.New("pgn field write exceeds frame bounds")
)

// RemoteNackError wraps the numeric NACK code returned by the BMS when a
// write_register request is rejected (spec.md §4.1, §7).
type RemoteNackError struct {
	Code byte
}

func (e *RemoteNackError) Error() string {
	return "remote device rejected the request (nack code " + byteHex(e.Code) + ")"
}

func byteHex(b byte) string {
	const hexDigits = "0123456789abcdef"
	return "0x" + string([]byte{hexDigits[b>>4], hexDigits[b&0xF]})
}
