package uartlink

import (
	"io"
	"time"

	"github.com/tarm/serial"
)

// Transport is the minimal surface the link needs from a serial port:
// enough to be satisfied by *serial.Port in production and by an
// in-memory fake in tests, the same separation the teacher library
// keeps between its Bus interface and socketcan.
type Transport interface {
	io.ReadWriteCloser
	Flush() error
}

// SerialTransport opens a real UART using github.com/tarm/serial at the
// fixed 115200 baud the BMS link runs at.
func SerialTransport(device string, readTimeout time.Duration) (Transport, error) {
	cfg := &serial.Config{
		Name:        device,
		Baud:        115200,
		ReadTimeout: readTimeout,
	}
	port, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, err
	}
	return port, nil
}
