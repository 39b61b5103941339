package gwconfig

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinybms/bridge/pkg/registers"
)

func TestIncrementBootCounterPersistsAcrossInstances(t *testing.T) {
	m, _ := newTestManager(t)
	store := m.store

	first, err := m.IncrementBootCounter()
	require.NoError(t, err)
	assert.EqualValues(t, 1, first)

	second, err := m.IncrementBootCounter()
	require.NoError(t, err)
	assert.EqualValues(t, 2, second)

	cat, err := registers.DefaultCatalogue()
	require.NoError(t, err)
	reopened := NewManager(Default(), cat, store, nil)
	third, err := reopened.IncrementBootCounter()
	require.NoError(t, err)
	assert.EqualValues(t, 3, third)
}

func TestSnapshotTelemetryJSONSanitisesNonFiniteReadings(t *testing.T) {
	ld := registers.NewLiveData(1000)
	ld.PackVoltageV = math.NaN()
	ld.PackCurrentA = -12.3
	ld.SocPercent = 75.6
	ld.MinCellMv = 3198
	ld.MaxCellMv = 3241
	ld.DeriveImbalance()

	blob, err := SnapshotTelemetryJSON(ld)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(blob, &doc))
	assert.Equal(t, "tinybms_metrics", doc["type"])
	assert.EqualValues(t, 0, doc["pack_voltage_v"])
	assert.EqualValues(t, -12.3, doc["pack_current_a"])
	assert.EqualValues(t, 43, doc["cell_imbalance_mv"])
}
