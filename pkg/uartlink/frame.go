// Package uartlink implements the serial wire protocol between the
// gateway and the BMS: the dual-dialect frame builders/decoders, the
// resynchronising parser, the write-with-readback sequence, and the
// polling task that drives them over a real UART.
//
// It is grounded on the original firmware's uart_frame_builder.cpp /
// uart_response_parser.cpp (frame shape, CRC placement, per-register
// decode walk) reworked into the teacher library's framer/codec style
// (pkg/sdo's request/response builders, pkg/can's frame types).
package uartlink

import (
	"encoding/binary"

	bmserrors "github.com/tinybms/bridge/errors"
	"github.com/tinybms/bridge/internal/crc"
)

// Opcode identifies both the operation and, implicitly, the dialect of a
// frame: proprietary opcodes are little-endian, MODBUS-compat opcodes
// are big-endian (spec wire format).
type Opcode byte

const (
	OpReadSingle    Opcode = 0x07
	OpReadIndividual Opcode = 0x09
	OpWriteSingle   Opcode = 0x0D
	OpReadEvents    Opcode = 0x11
	OpAck           Opcode = 0x01
	OpNack          Opcode = 0x81

	OpModbusReadHolding   Opcode = 0x03
	OpModbusWriteMultiple Opcode = 0x10
)

// Dialect distinguishes the two coexisting byte orders.
type Dialect int

const (
	DialectProprietary Dialect = iota
	DialectModbus
)

// DialectOf returns the byte-order dialect implied by an opcode.
func DialectOf(op Opcode) Dialect {
	switch op {
	case OpModbusReadHolding, OpModbusWriteMultiple:
		return DialectModbus
	default:
		return DialectProprietary
	}
}

const (
	preamble       = 0xAA
	frameHeaderLen = 3 // preamble + opcode + payload length
	frameCrcLen    = 2
)

func byteOrder(d Dialect) binary.ByteOrder {
	if d == DialectModbus {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func buildHeaderAndCRC(buf []byte, op Opcode, payload []byte, bufCap int) ([]byte, error) {
	total := frameHeaderLen + len(payload) + frameCrcLen
	if bufCap < total {
		return nil, bmserrors.ErrInvalidSize
	}
	if len(payload) > 0xFF {
		return nil, bmserrors.ErrInvalidArg
	}
	out := buf[:0]
	out = append(out, preamble, byte(op), byte(len(payload)))
	out = append(out, payload...)
	out = crc.AppendCRC(out)
	return out, nil
}

// BuildPollAllRegisters builds the opcode-0x09 frame requesting the full
// catalogue in one round trip: the payload is every address in
// addresses, concatenated little-endian.
func BuildPollAllRegisters(addresses []uint16) ([]byte, error) {
	if len(addresses) == 0 {
		return nil, bmserrors.ErrInvalidArg
	}
	payload := make([]byte, len(addresses)*2)
	for i, addr := range addresses {
		binary.LittleEndian.PutUint16(payload[i*2:], addr)
	}
	buf := make([]byte, frameHeaderLen+len(payload)+frameCrcLen)
	return buildHeaderAndCRC(buf, OpReadIndividual, payload, len(buf))
}

// BuildReadSingle builds the opcode-0x07 single-register read request.
func BuildReadSingle(address uint16) ([]byte, error) {
	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, address)
	buf := make([]byte, frameHeaderLen+len(payload)+frameCrcLen)
	return buildHeaderAndCRC(buf, OpReadSingle, payload, len(buf))
}

// BuildWriteSingle builds the opcode-0x0D single-register write request.
func BuildWriteSingle(address uint16, value uint16) ([]byte, error) {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint16(payload[0:], address)
	binary.LittleEndian.PutUint16(payload[2:], value)
	buf := make([]byte, frameHeaderLen+len(payload)+frameCrcLen)
	return buildHeaderAndCRC(buf, OpWriteSingle, payload, len(buf))
}

// BuildReadEvents builds the opcode-0x11 event-log read request.
func BuildReadEvents() ([]byte, error) {
	buf := make([]byte, frameHeaderLen+frameCrcLen)
	return buildHeaderAndCRC(buf, OpReadEvents, nil, len(buf))
}

// BuildModbusReadHolding builds the opcode-0x03 MODBUS-compat read,
// count must be in [1,127] per the wire contract.
func BuildModbusReadHolding(address uint16, count uint16) ([]byte, error) {
	if count < 1 || count > 127 {
		return nil, bmserrors.ErrInvalidArg
	}
	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:], address)
	binary.BigEndian.PutUint16(payload[2:], count)
	buf := make([]byte, frameHeaderLen+len(payload)+frameCrcLen)
	return buildHeaderAndCRC(buf, OpModbusReadHolding, payload, len(buf))
}

// BuildModbusWriteMultiple builds the opcode-0x10 MODBUS-compat write,
// count must be in [1,100] per the wire contract.
func BuildModbusWriteMultiple(address uint16, values []uint16) ([]byte, error) {
	count := len(values)
	if count < 1 || count > 100 {
		return nil, bmserrors.ErrInvalidArg
	}
	byteLen := count * 2
	payload := make([]byte, 5+byteLen)
	binary.BigEndian.PutUint16(payload[0:], address)
	binary.BigEndian.PutUint16(payload[2:], uint16(count))
	payload[4] = byte(byteLen)
	for i, v := range values {
		binary.BigEndian.PutUint16(payload[5+i*2:], v)
	}
	buf := make([]byte, frameHeaderLen+len(payload)+frameCrcLen)
	return buildHeaderAndCRC(buf, OpModbusWriteMultiple, payload, len(buf))
}

// Header is the decoded fixed portion of any frame.
type Header struct {
	Opcode     Opcode
	PayloadLen int
}

// ParseHeader validates and extracts the header of a complete, CRC-
// checked frame already sitting in buf (buf must be exactly one frame:
// header + payload + crc, no trailing bytes).
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < frameHeaderLen+frameCrcLen {
		return Header{}, bmserrors.ErrInvalidLength
	}
	if buf[0] != preamble {
		return Header{}, bmserrors.ErrInvalidHeader
	}
	payloadLen := int(buf[2])
	expected := frameHeaderLen + payloadLen + frameCrcLen
	if len(buf) != expected {
		return Header{}, bmserrors.ErrInvalidLength
	}
	if !crc.Verify(buf) {
		return Header{}, bmserrors.ErrInvalidCrc
	}
	return Header{Opcode: Opcode(buf[1]), PayloadLen: payloadLen}, nil
}

// Payload returns the payload slice of an already header-validated
// frame (excludes preamble/opcode/length and trailing CRC bytes).
func Payload(buf []byte, h Header) []byte {
	return buf[frameHeaderLen : frameHeaderLen+h.PayloadLen]
}
