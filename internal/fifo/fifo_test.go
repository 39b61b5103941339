package fifo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tinybms/bridge/internal/crc"
)

func TestWriteReadRoundTrip(t *testing.T) {
	f := New(8)
	n := f.Write([]byte{1, 2, 3}, nil)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, f.Occupied())

	out := make([]byte, 3)
	got := f.Read(out)
	assert.Equal(t, 3, got)
	assert.Equal(t, []byte{1, 2, 3}, out)
	assert.Equal(t, 0, f.Occupied())
}

func TestWriteStopsWhenFull(t *testing.T) {
	f := New(4)
	n := f.Write([]byte{1, 2, 3, 4, 5}, nil)
	assert.Equal(t, 3, n) // one slot always kept free
}

func TestWriteFoldsCRC(t *testing.T) {
	data := []byte{0xAA, 0x09, 0x02}
	f := New(16)
	sum := crc.New()
	f.Write(data, &sum)
	assert.EqualValues(t, crc.Compute(data), uint16(sum))
}

func TestPeekAndAdvance(t *testing.T) {
	f := New(8)
	f.Write([]byte{0x55, 0xAA, 0x09}, nil)

	b, ok := f.PeekByte(1)
	assert.True(t, ok)
	assert.Equal(t, byte(0xAA), b)

	_, ok = f.PeekByte(5)
	assert.False(t, ok)

	advanced := f.Advance(1)
	assert.Equal(t, 1, advanced)
	assert.Equal(t, 2, f.Occupied())
	b, _ = f.PeekByte(0)
	assert.Equal(t, byte(0xAA), b)
}

func TestAdvanceStopsAtEmpty(t *testing.T) {
	f := New(4)
	f.Write([]byte{1}, nil)
	assert.Equal(t, 1, f.Advance(5))
	assert.Equal(t, 0, f.Occupied())
}
