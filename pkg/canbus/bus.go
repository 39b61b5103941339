// Package canbus defines the abstract CAN transport the gateway
// publishes PGN frames onto, plus a driver registry so new interface
// types can be added without touching the publisher.
//
// Grounded on the teacher library's pkg/can.Bus interface and its
// RegisterInterface/AvailableInterfaces plugin registry (pkg/can/bus.go,
// pkg/can/register.go).
package canbus

import "fmt"

// Frame is a classic 11-bit-identifier CAN frame, the shape every PGN
// in this gateway's catalogue uses.
type Frame struct {
	ID   uint32
	DLC  uint8
	Data [8]byte
}

// NewFrame returns a frame with Data zeroed and DLC set.
func NewFrame(id uint32, dlc uint8) Frame {
	return Frame{ID: id, DLC: dlc}
}

// FrameListener receives frames a Bus has subscribed to.
type FrameListener interface {
	Handle(frame Frame)
}

// FrameListenerFunc adapts a plain function to FrameListener.
type FrameListenerFunc func(frame Frame)

func (f FrameListenerFunc) Handle(frame Frame) { f(frame) }

// Bus is the abstract CAN transport. Concrete implementations live
// alongside it (socketcan.go backed by brutella/can, virtual.go as an
// in-memory test double).
type Bus interface {
	Connect() error
	Disconnect() error
	Send(frame Frame) error
	Subscribe(listener FrameListener) error
}

// NewInterfaceFunc constructs a Bus for a given channel name (e.g. an
// interface name like "can0", or an in-process virtual bus name).
type NewInterfaceFunc func(channel string) (Bus, error)

// AvailableInterfaces is the driver registry plugins add themselves to
// from an init() function, the same pattern the teacher library uses.
var AvailableInterfaces = make(map[string]NewInterfaceFunc)

// RegisterInterface registers a new CAN bus interface type under name.
func RegisterInterface(name string, fn NewInterfaceFunc) {
	AvailableInterfaces[name] = fn
}

// NewBus looks up and constructs a bus for the named interface type.
func NewBus(interfaceType string, channel string) (Bus, error) {
	fn, ok := AvailableInterfaces[interfaceType]
	if !ok {
		return nil, fmt.Errorf("canbus: unsupported interface type %q", interfaceType)
	}
	return fn(channel)
}
