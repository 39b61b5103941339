// Package keepalive implements the VE.Can keepalive watchdog: a TX side
// that emits PGN 0x305 on an interval, and an RX side that tracks
// freshness of inbound 0x305 frames and raises/clears an edge-triggered
// alarm when the inverter stops (or resumes) acknowledging the bus.
//
// The active/unknown/timeout state shape is grounded on the teacher
// library's heartbeat consumer (heartbeat_consumer.go's
// HB_UNKNOWN/HB_ACTIVE/HB_TIMEOUT states, narrowed to the single-peer
// case spec.md §4.3 describes instead of a per-node monitor table.
package keepalive

import (
	"github.com/tinybms/bridge/pkg/canbus"
	"github.com/tinybms/bridge/pkg/eventbus"
)

// FrameID is the 11-bit CAN identifier the keepalive RX side watches
// for; it must match pgn.IDKeepalive.
const FrameID = 0x305

// DefaultIntervalMs is the TX cadence spec.md §4.3 names.
const DefaultIntervalMs = 1000

// DefaultTimeoutMs is the RX staleness bound spec.md §4.3 names.
const DefaultTimeoutMs = 10000

// Monitor tracks keepalive RX freshness and publishes edge-triggered
// StatusMessage/AlarmRaised events on state transitions. It is a
// process-scoped singleton mutated only by its owning task.
type Monitor struct {
	timeoutMs uint64
	lastRxMs  uint64
	ok        bool
	seenAny   bool
	bus       *eventbus.Bus
}

// NewMonitor returns a monitor with the given timeout, starting in the
// "unknown" (not yet ok) state.
func NewMonitor(timeoutMs uint64, bus *eventbus.Bus) *Monitor {
	if timeoutMs == 0 {
		timeoutMs = DefaultTimeoutMs
	}
	return &Monitor{timeoutMs: timeoutMs, bus: bus}
}

// OK reports whether the keepalive is currently considered fresh.
func (m *Monitor) OK() bool { return m.ok }

// OnFrameReceived refreshes last_rx_ms on receipt of a 0x305 frame and
// publishes a StatusMessage the first time this brings the monitor
// from lost back to ok (edge-triggered; sustained ok states publish
// nothing).
func (m *Monitor) OnFrameReceived(nowMs uint64) {
	m.lastRxMs = nowMs
	m.seenAny = true
	if !m.ok {
		m.ok = true
		if m.bus != nil {
			m.bus.Publish(eventbus.Event{ID: eventbus.EventKeepaliveRestored, Payload: eventbus.StatusMessage{
				Level: eventbus.SeverityInfo,
				Text:  "VE.Can keepalive OK",
			}})
		}
	}
}

// Listener returns a canbus.FrameListenerFunc that refreshes the
// monitor whenever a frame with ID FrameID arrives, using nowMs to
// timestamp the reception. Subscribe it on the CAN bus the keepalive
// PGN is expected to arrive on.
func (m *Monitor) Listener(nowMs func() uint64) canbus.FrameListenerFunc {
	return func(f canbus.Frame) {
		if f.ID != FrameID {
			return
		}
		m.OnFrameReceived(nowMs())
	}
}

// Tick re-evaluates freshness against nowMs and publishes an
// AlarmRaised the first time the keepalive is judged lost (edge-
// triggered). Call this once per control-loop iteration.
func (m *Monitor) Tick(nowMs uint64) {
	if !m.seenAny {
		return
	}
	lost := nowMs-m.lastRxMs > m.timeoutMs
	if lost && m.ok {
		m.ok = false
		if m.bus != nil {
			m.bus.Publish(eventbus.Event{ID: eventbus.EventKeepaliveLost, Payload: eventbus.AlarmRaised{
				Code:     eventbus.AlarmCanKeepAliveLost,
				Severity: eventbus.SeverityWarning,
			}})
		}
	}
}
