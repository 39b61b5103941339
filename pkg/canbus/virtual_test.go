package canbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVirtualBusDeliversToPeerOnSameChannel(t *testing.T) {
	a, err := NewBus("virtual", "test-channel-1")
	require.NoError(t, err)
	b, err := NewBus("virtual", "test-channel-1")
	require.NoError(t, err)

	require.NoError(t, a.Connect())
	require.NoError(t, b.Connect())
	defer a.Disconnect()
	defer b.Disconnect()

	received := make(chan Frame, 1)
	require.NoError(t, b.Subscribe(FrameListenerFunc(func(f Frame) {
		received <- f
	})))

	require.NoError(t, a.Send(NewFrame(0x351, 8)))

	select {
	case f := <-received:
		assert.EqualValues(t, 0x351, f.ID)
	case <-time.After(time.Second):
		t.Fatal("expected b to receive a's frame")
	}
}

func TestVirtualBusIsolatesChannels(t *testing.T) {
	a, err := NewBus("virtual", "channel-a")
	require.NoError(t, err)
	c, err := NewBus("virtual", "channel-c")
	require.NoError(t, err)
	require.NoError(t, a.Connect())
	require.NoError(t, c.Connect())
	defer a.Disconnect()
	defer c.Disconnect()

	received := false
	_ = c.Subscribe(FrameListenerFunc(func(f Frame) { received = true }))
	_ = a.Send(NewFrame(0x355, 8))
	time.Sleep(10 * time.Millisecond)
	assert.False(t, received)
}

func TestNewBusRejectsUnknownInterface(t *testing.T) {
	_, err := NewBus("nonexistent-driver", "chan")
	assert.Error(t, err)
}
