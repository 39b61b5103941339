package crc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeKnownVector(t *testing.T) {
	// Standard CRC-16/MODBUS check value for ASCII "123456789".
	assert.EqualValues(t, 0x4B37, Compute([]byte("123456789")))
}

func TestSingleMatchesBlock(t *testing.T) {
	data := []byte{0xAA, 0x09, 0x04, 0x24, 0x00, 0x26, 0x00}
	c := New()
	for _, b := range data {
		c.Single(b)
	}
	assert.EqualValues(t, Compute(data), uint16(c))
}

func TestVerifyRoundTrip(t *testing.T) {
	frame := []byte{0xAA, 0x09, 0x02, 0x24, 0x00}
	full := AppendCRC(frame)
	assert.True(t, Verify(full))
	full[0] ^= 0xFF
	assert.False(t, Verify(full))
}

func TestVerifyTooShort(t *testing.T) {
	assert.False(t, Verify([]byte{0x01}))
}
