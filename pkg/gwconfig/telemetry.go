package gwconfig

import (
	"encoding/json"
	"math"

	"github.com/tinybms/bridge/pkg/registers"
)

// bootCounterKey is the kvstore key the boot generation is persisted
// under, grounded on the original firmware's
// system_boot_counter_increment_and_get (main/storage/system_boot_counter.c):
// a single u32 incremented once per cold start and handed out to
// collaborators that want to tag events with a boot generation.
const bootCounterKey = "boot_count"

// IncrementBootCounter loads the persisted boot counter, increments it,
// persists the new value, and returns it. Persistence failures are
// returned to the caller to log; the in-memory counter still advances
// so a single unwritable boot doesn't wedge the value at zero forever.
func (m *Manager) IncrementBootCounter() (uint32, error) {
	var count uint32
	if m.store != nil {
		if blob, ok, err := m.store.Get(namespace, bootCounterKey); err == nil && ok && len(blob) == 4 {
			count = uint32(blob[0]) | uint32(blob[1])<<8 | uint32(blob[2])<<16 | uint32(blob[3])<<24
		}
	}
	count++
	if m.store != nil {
		blob := []byte{byte(count), byte(count >> 8), byte(count >> 16), byte(count >> 24)}
		if err := m.store.Set(namespace, bootCounterKey, blob); err != nil {
			return count, err
		}
		if err := m.store.Commit(); err != nil {
			return count, err
		}
	}
	return count, nil
}

// telemetrySnapshot is the JSON shape SnapshotTelemetryJSON renders,
// grounded on the original firmware's telemetry_json_build_metrics
// (main/serialization/telemetry_json.c): a flat, MQTT-publishable
// mirror of one live-data snapshot plus the alarm levels the PGN
// 0x35A computed functions derive, independent of any transport.
type telemetrySnapshot struct {
	Type             string  `json:"type"`
	TimestampMs      uint64  `json:"timestamp_ms"`
	PackVoltageV     float64 `json:"pack_voltage_v"`
	PackCurrentA     float64 `json:"pack_current_a"`
	SocPercent       float64 `json:"soc_percent"`
	SohPercent       float64 `json:"soh_percent"`
	MinCellMv        uint16  `json:"min_cell_mv"`
	MaxCellMv        uint16  `json:"max_cell_mv"`
	CellImbalanceMv  uint16  `json:"cell_imbalance_mv"`
	AvgTemperatureC  float64 `json:"avg_temperature_c"`
	AlarmBitmap      uint32  `json:"alarm_bitmap"`
	WarningBitmap    uint32  `json:"warning_bitmap"`
	OnlineStatus     uint16  `json:"online_status"`
}

// sanitizeFloat mirrors telemetry_json_sanitize_float: a non-finite
// reading (NaN/Inf from an unpopulated or corrupt register) is
// reported as 0 rather than propagated into the JSON document.
func sanitizeFloat(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// SnapshotTelemetryJSON renders one live-data snapshot as the flat
// telemetry JSON document the original firmware published to its MQTT
// broker. The broker connection itself is out of scope (spec.md §1
// Non-goals: "MQTT broker client"); this only produces the bytes a
// collaborator owning that transport would publish.
func SnapshotTelemetryJSON(live *registers.LiveData) ([]byte, error) {
	t := telemetrySnapshot{
		Type:            "tinybms_metrics",
		TimestampMs:     live.TimestampMs,
		PackVoltageV:    sanitizeFloat(live.PackVoltageV),
		PackCurrentA:    sanitizeFloat(live.PackCurrentA),
		SocPercent:      sanitizeFloat(live.SocPercent),
		SohPercent:      sanitizeFloat(live.SohPercent),
		MinCellMv:       live.MinCellMv,
		MaxCellMv:       live.MaxCellMv,
		CellImbalanceMv: live.CellImbalanceMv,
		AvgTemperatureC: sanitizeFloat(live.AverageTemperatureC),
		AlarmBitmap:     live.AlarmBitmap,
		WarningBitmap:   live.WarningBitmap,
		OnlineStatus:    live.OnlineStatus,
	}
	return json.Marshal(t)
}
