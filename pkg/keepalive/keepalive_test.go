package keepalive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinybms/bridge/pkg/eventbus"
)

// TestKeepaliveLostAndRestored implements spec scenario 5: a stale
// last_rx_ms beyond the timeout flips ok true->false with exactly one
// AlarmRaised, and a subsequent 0x305 frame flips it back with exactly
// one StatusMessage.
func TestKeepaliveLostAndRestored(t *testing.T) {
	bus := eventbus.New()
	sub := bus.Subscribe(eventbus.DefaultQueueLength)
	defer sub.Close()

	m := NewMonitor(10000, bus)
	m.OnFrameReceived(0)
	assert.True(t, m.OK())

	m.Tick(15000)
	assert.False(t, m.OK())

	m.Tick(16000) // sustained loss must not republish
	m.Tick(17000)

	m.OnFrameReceived(17500)
	assert.True(t, m.OK())

	var alarms, statuses int
	draining := true
	for draining {
		select {
		case ev := <-sub.Events:
			switch p := ev.Payload.(type) {
			case eventbus.AlarmRaised:
				require.Equal(t, eventbus.AlarmCanKeepAliveLost, p.Code)
				alarms++
			case eventbus.StatusMessage:
				require.Equal(t, eventbus.SeverityInfo, p.Level)
				statuses++
			}
		default:
			draining = false
		}
	}
	assert.Equal(t, 1, alarms)
	assert.Equal(t, 1, statuses)
}

func TestKeepaliveStartsUnknownAndPublishesNothingBeforeFirstFrame(t *testing.T) {
	bus := eventbus.New()
	sub := bus.Subscribe(eventbus.DefaultQueueLength)
	defer sub.Close()

	m := NewMonitor(0, bus)
	assert.False(t, m.OK())
	m.Tick(999999)
	assert.False(t, m.OK())

	select {
	case <-sub.Events:
		t.Fatal("expected no events before the monitor has ever seen a frame")
	default:
	}
}
