// Package fifo implements the circular byte buffer used by the serial
// framer to resynchronise on the frame preamble without losing bytes that
// arrive mid-scan.
package fifo

import "github.com/tinybms/bridge/internal/crc"

// Fifo is a circular byte buffer with an optional running CRC fed as bytes
// are written.
type Fifo struct {
	buffer   []byte
	writePos int
	readPos  int
}

// New returns an empty Fifo with the given capacity in bytes.
func New(size int) *Fifo {
	return &Fifo{buffer: make([]byte, size)}
}

// Reset empties the buffer.
func (f *Fifo) Reset() {
	f.readPos = 0
	f.writePos = 0
}

// Space returns the number of bytes that can still be written.
func (f *Fifo) Space() int {
	sizeLeft := f.readPos - f.writePos - 1
	if sizeLeft < 0 {
		sizeLeft += len(f.buffer)
	}
	return sizeLeft
}

// Occupied returns the number of unread bytes.
func (f *Fifo) Occupied() int {
	sizeOccupied := f.writePos - f.readPos
	if sizeOccupied < 0 {
		sizeOccupied += len(f.buffer)
	}
	return sizeOccupied
}

// Write appends buffer into the fifo, stopping if it becomes full. It
// returns the number of bytes actually written. When sum is non-nil, every
// written byte also folds into the running CRC.
func (f *Fifo) Write(buffer []byte, sum *crc.CRC16) int {
	written := 0
	for _, b := range buffer {
		next := f.writePos + 1
		if next == f.readPos || (next == len(f.buffer) && f.readPos == 0) {
			break
		}
		f.buffer[f.writePos] = b
		written++
		if sum != nil {
			sum.Single(b)
		}
		if next == len(f.buffer) {
			f.writePos = 0
		} else {
			f.writePos = next
		}
	}
	return written
}

// Read drains up to len(buffer) unread bytes into buffer and returns the
// count actually read.
func (f *Fifo) Read(buffer []byte) int {
	read := 0
	for i := range buffer {
		if f.readPos == f.writePos {
			break
		}
		buffer[i] = f.buffer[f.readPos]
		read++
		f.readPos++
		if f.readPos == len(f.buffer) {
			f.readPos = 0
		}
	}
	return read
}

// PeekByte returns the unread byte at the given offset from the current
// read position, and whether that offset is within the occupied range.
func (f *Fifo) PeekByte(offset int) (byte, bool) {
	if offset >= f.Occupied() {
		return 0, false
	}
	pos := f.readPos + offset
	if pos >= len(f.buffer) {
		pos -= len(f.buffer)
	}
	return f.buffer[pos], true
}

// Advance discards up to n unread bytes without copying them out; used to
// slide past a byte that failed to match the preamble while
// resynchronising. It returns the number of bytes actually discarded.
func (f *Fifo) Advance(n int) int {
	advanced := 0
	for ; n > 0 && f.readPos != f.writePos; n-- {
		f.readPos++
		if f.readPos == len(f.buffer) {
			f.readPos = 0
		}
		advanced++
	}
	return advanced
}
