package canbus

import "sync"

func init() {
	RegisterInterface("virtual", newVirtualBus)
	RegisterInterface("virtualcan", newVirtualBus)
}

// virtualNetwork lets every virtual bus opened with the same channel
// name observe each other's sent frames in-process, without a real
// CAN controller or a TCP broker. It exists so tests can exercise the
// publisher against something other than a live socketcan device, the
// same role the teacher library's virtual.go TCP bus plays for its own
// test suite.
type virtualNetwork struct {
	mu    sync.Mutex
	buses map[string][]*VirtualBus
}

var networks = virtualNetwork{buses: make(map[string][]*VirtualBus)}

// VirtualBus is an in-memory Bus implementation: Send fans the frame
// out to every other VirtualBus on the same channel, and records it
// locally for assertions.
type VirtualBus struct {
	channel string

	mu        sync.Mutex
	listeners []FrameListener
	sent      []Frame
	connected bool
}

func newVirtualBus(channel string) (Bus, error) {
	return &VirtualBus{channel: channel}, nil
}

func (v *VirtualBus) Connect() error {
	networks.mu.Lock()
	networks.buses[v.channel] = append(networks.buses[v.channel], v)
	networks.mu.Unlock()
	v.mu.Lock()
	v.connected = true
	v.mu.Unlock()
	return nil
}

func (v *VirtualBus) Disconnect() error {
	networks.mu.Lock()
	peers := networks.buses[v.channel]
	for i, p := range peers {
		if p == v {
			networks.buses[v.channel] = append(peers[:i], peers[i+1:]...)
			break
		}
	}
	networks.mu.Unlock()
	v.mu.Lock()
	v.connected = false
	v.mu.Unlock()
	return nil
}

func (v *VirtualBus) Send(frame Frame) error {
	v.mu.Lock()
	v.sent = append(v.sent, frame)
	v.mu.Unlock()

	networks.mu.Lock()
	peers := append([]*VirtualBus(nil), networks.buses[v.channel]...)
	networks.mu.Unlock()

	for _, p := range peers {
		if p == v {
			continue
		}
		p.deliver(frame)
	}
	return nil
}

func (v *VirtualBus) Subscribe(listener FrameListener) error {
	v.mu.Lock()
	v.listeners = append(v.listeners, listener)
	v.mu.Unlock()
	return nil
}

func (v *VirtualBus) deliver(frame Frame) {
	v.mu.Lock()
	listeners := make([]FrameListener, len(v.listeners))
	copy(listeners, v.listeners)
	v.mu.Unlock()
	for _, l := range listeners {
		l.Handle(frame)
	}
}

// Sent returns every frame this bus has transmitted, for test
// assertions.
func (v *VirtualBus) Sent() []Frame {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Frame, len(v.sent))
	copy(out, v.sent)
	return out
}
