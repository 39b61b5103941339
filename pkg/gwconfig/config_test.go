package gwconfig

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bmserrors "github.com/tinybms/bridge/errors"
	"github.com/tinybms/bridge/pkg/eventbus"
	"github.com/tinybms/bridge/pkg/kvstore"
	"github.com/tinybms/bridge/pkg/registers"
)

func newTestManager(t *testing.T) (*Manager, *eventbus.Bus) {
	t.Helper()
	cat, err := registers.DefaultCatalogue()
	require.NoError(t, err)
	bus := eventbus.New()
	m := NewManager(Default(), cat, kvstore.NewMemory(), bus)
	return m, bus
}

type fakeWriter struct {
	readback uint16
	err      error
}

func (f *fakeWriter) WriteRegister(address uint16, raw uint16, timeout time.Duration) (uint16, error) {
	if f.err != nil {
		return raw, f.err
	}
	if f.readback != 0 {
		return f.readback, nil
	}
	return raw, nil
}

func TestSnapshotMasksSecretsOnlyInPublicDocument(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.SetWiFi(WiFiConfig{STAPassword: "hunter22", APPassword: "fallback1"}, ApplyOptions{}))

	full, err := m.Snapshot(true)
	require.NoError(t, err)
	var fullDoc snapshotDoc
	require.NoError(t, json.Unmarshal(full, &fullDoc))
	assert.Equal(t, "hunter22", fullDoc.WiFi.STAPassword)

	public, err := m.Snapshot(false)
	require.NoError(t, err)
	var publicDoc snapshotDoc
	require.NoError(t, json.Unmarshal(public, &publicDoc))
	assert.Equal(t, secretMask, publicDoc.WiFi.STAPassword)
	assert.Equal(t, secretMask, publicDoc.WiFi.APPassword)
}

func TestSetWiFiRejectsShortAPPassword(t *testing.T) {
	m, _ := newTestManager(t)
	err := m.SetWiFi(WiFiConfig{APPassword: "short"}, ApplyOptions{})
	assert.ErrorIs(t, err, bmserrors.ErrInvalidArg)
}

func TestEnsureAPSecretGeneratesOnlyWhenTooShort(t *testing.T) {
	m, _ := newTestManager(t)

	calls := 0
	rng := func(buf []byte) error {
		calls++
		for i := range buf {
			buf[i] = byte(i)
		}
		return nil
	}

	require.NoError(t, m.EnsureAPSecret(rng))
	cfg, err := m.Get()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(cfg.WiFi.APPassword), minAPPasswordLength)
	assert.Equal(t, 1, calls)

	require.NoError(t, m.EnsureAPSecret(rng))
	assert.Equal(t, 1, calls, "a password already at the minimum length must not be regenerated")
}

func TestApplyRegisterUpdateWritesCachesAndPublishes(t *testing.T) {
	m, bus := newTestManager(t)
	sub := bus.Subscribe(4)
	defer sub.Close()

	writer := &fakeWriter{readback: 3300}
	require.NoError(t, m.ApplyRegisterUpdate(writer, "min_cell_mv", 3300))

	ev := <-sub.Events
	require.Equal(t, eventbus.EventRegisterWriteResult, ev.ID)
	result, ok := ev.Payload.(RegisterUpdateResult)
	require.True(t, ok)
	assert.Equal(t, "min_cell_mv", result.Key)
	assert.EqualValues(t, 3300, result.Raw)
}

func TestApplyRegisterUpdateRejectsUnknownKey(t *testing.T) {
	m, _ := newTestManager(t)
	err := m.ApplyRegisterUpdate(&fakeWriter{}, "no_such_register", 1)
	assert.ErrorIs(t, err, bmserrors.ErrNotFound)
}

func TestSetVictronRejectsAlarmBelowWarnThreshold(t *testing.T) {
	m, _ := newTestManager(t)
	err := m.SetVictron(VictronConfig{CellImbalanceWarnMv: 100, CellImbalanceAlarmMv: 50}, ApplyOptions{})
	assert.ErrorIs(t, err, bmserrors.ErrInvalidArg)
}
