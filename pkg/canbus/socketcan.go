package canbus

import (
	"sync"

	"github.com/brutella/can"
)

func init() {
	RegisterInterface("socketcan", newSocketCANBus)
}

// socketCANBus wraps github.com/brutella/can's Bus, which talks to the
// kernel's SocketCAN network layer, the real-hardware transport for
// publishing PGN frames to the inverter's CAN bus.
type socketCANBus struct {
	channel string
	inner   *can.Bus

	mu        sync.Mutex
	listeners []FrameListener
	running   bool
}

func newSocketCANBus(channel string) (Bus, error) {
	b, err := can.NewBusForInterfaceWithName(channel)
	if err != nil {
		return nil, err
	}
	return &socketCANBus{channel: channel, inner: b}, nil
}

func (s *socketCANBus) Connect() error {
	s.mu.Lock()
	s.inner.SubscribeFunc(s.dispatch)
	s.running = true
	s.mu.Unlock()
	go func() {
		_ = s.inner.ConnectAndPublish()
	}()
	return nil
}

func (s *socketCANBus) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	return s.inner.Disconnect()
}

func (s *socketCANBus) Send(frame Frame) error {
	out := can.Frame{
		ID:     frame.ID,
		Length: frame.DLC,
		Data:   frame.Data,
	}
	return s.inner.Publish(out)
}

func (s *socketCANBus) Subscribe(listener FrameListener) error {
	s.mu.Lock()
	s.listeners = append(s.listeners, listener)
	s.mu.Unlock()
	return nil
}

func (s *socketCANBus) dispatch(frame can.Frame) {
	f := Frame{ID: frame.ID, DLC: frame.Length, Data: frame.Data}
	s.mu.Lock()
	listeners := make([]FrameListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()
	for _, l := range listeners {
		l.Handle(f)
	}
}
