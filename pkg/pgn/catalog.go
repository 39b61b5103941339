package pgn

func f64(v float64) *float64 { return &v }

// Standard channel identifiers for the Victron-dialect battery
// protocol this gateway speaks to the inverter (spec.md §4.2).
const (
	IDChargeDischargeLimits uint32 = 0x351
	IDStateOfChargeHealth   uint32 = 0x355
	IDVoltageCurrentTemp    uint32 = 0x356
	IDAlarmsWarnings        uint32 = 0x35A
	IDManufacturer          uint32 = 0x35E
	IDBatteryInfo           uint32 = 0x35F
	IDBmsNamePart2          uint32 = 0x371
	IDEnergyCounters        uint32 = 0x378
	IDInstalledCapacity     uint32 = 0x379
	IDBatteryFamily         uint32 = 0x382
	IDKeepalive             uint32 = 0x305
)

// Channel binds a PGN identifier to the field list that fills it, the
// frame length, and the scheduling period the publisher uses.
type Channel struct {
	Name     string
	ID       uint32
	DLC      uint8
	Fields   []Field
	PeriodMs int // 0 = use the publisher's global default period
}

// StandardChannels returns the fixed channel catalogue spec.md §4.2
// defines. It is built fresh on every call so callers can freely
// mutate PeriodMs per instance without sharing state.
func StandardChannels() []Channel {
	return []Channel{
		{
			Name: "charge_discharge_limits",
			ID:   IDChargeDischargeLimits,
			DLC:  8,
			Fields: []Field{
				{ByteOffset: 0, Encoding: EncodingUnsigned, ByteLength: 2, Source: "cvl_v", Gain: 100, Round: true, ClampMin: f64(0), ClampMax: f64(65535.0 / 100)},
				{ByteOffset: 2, Encoding: EncodingUnsigned, ByteLength: 2, Source: "ccl_a", Gain: 10, Round: true, ClampMin: f64(0), ClampMax: f64(6553.5)},
				{ByteOffset: 4, Encoding: EncodingUnsigned, ByteLength: 2, Source: "dcl_a", Gain: 10, Round: true, ClampMin: f64(0), ClampMax: f64(6553.5)},
				{ByteOffset: 6, Encoding: EncodingUnsigned, ByteLength: 2, Constant: f64(0)},
			},
		},
		{
			Name: "soc_soh",
			ID:   IDStateOfChargeHealth,
			DLC:  8,
			Fields: []Field{
				{ByteOffset: 0, Encoding: EncodingUnsigned, ByteLength: 2, Source: "soc_pct", Gain: 10, Round: true},
				{ByteOffset: 2, Encoding: EncodingUnsigned, ByteLength: 2, Source: "soh_pct", Gain: 10, Round: true},
				{ByteOffset: 4, Encoding: EncodingUnsigned, ByteLength: 2, Constant: f64(0)},
				{ByteOffset: 6, Encoding: EncodingUnsigned, ByteLength: 2, Constant: f64(0)},
			},
		},
		{
			Name: "voltage_current_temp",
			ID:   IDVoltageCurrentTemp,
			DLC:  6,
			Fields: []Field{
				{ByteOffset: 0, Encoding: EncodingUnsigned, ByteLength: 2, Source: "pack_voltage_v", Gain: 100, Round: true},
				{ByteOffset: 2, Encoding: EncodingSigned, ByteLength: 2, Source: "pack_current_a", Gain: 10, Round: true},
				{ByteOffset: 4, Encoding: EncodingSigned, ByteLength: 2, Source: "avg_temp_c", Gain: 10, Round: true},
			},
		},
		{
			Name: "alarms_warnings",
			ID:   IDAlarmsWarnings,
			DLC:  8,
			Fields: []Field{
				{ByteOffset: 0, Encoding: EncodingBits, BitOffset: 0, BitLength: 2, Source: "alarm_uv"},
				{ByteOffset: 0, Encoding: EncodingBits, BitOffset: 2, BitLength: 2, Source: "alarm_ov"},
				{ByteOffset: 0, Encoding: EncodingBits, BitOffset: 4, BitLength: 2, Source: "alarm_ot"},
				{ByteOffset: 0, Encoding: EncodingBits, BitOffset: 6, BitLength: 2, Source: "alarm_ltc"},
				{ByteOffset: 1, Encoding: EncodingBits, BitOffset: 0, BitLength: 2, Source: "alarm_imbalance"},
				{ByteOffset: 1, Encoding: EncodingBits, BitOffset: 2, BitLength: 2, Source: "alarm_comms"},
				{ByteOffset: 1, Encoding: EncodingBits, BitOffset: 4, BitLength: 2, Source: "alarm_low_soc"},
				{ByteOffset: 1, Encoding: EncodingBits, BitOffset: 6, BitLength: 2, Source: "alarm_derate_high_soc"},
				{ByteOffset: 7, Encoding: EncodingBits, BitOffset: 0, BitLength: 2, Source: "alarm_summary"},
			},
		},
		{
			Name: "manufacturer",
			ID:   IDManufacturer,
			DLC:  8,
			Fields: []Field{
				{ByteOffset: 0, Encoding: EncodingASCII, ByteLength: 8, Source: "manufacturer"},
			},
		},
		{
			Name: "battery_info",
			ID:   IDBatteryInfo,
			DLC:  8,
			Fields: []Field{
				{ByteOffset: 0, Encoding: EncodingASCII, ByteLength: 8, Source: "battery_name_part1"},
			},
		},
		{
			Name: "bms_name_part2",
			ID:   IDBmsNamePart2,
			DLC:  8,
			Fields: []Field{
				{ByteOffset: 0, Encoding: EncodingASCII, ByteLength: 8, Source: "battery_name_part2"},
			},
		},
		{
			Name: "energy_counters",
			ID:   IDEnergyCounters,
			DLC:  8,
			Fields: []Field{
				{ByteOffset: 0, Encoding: EncodingUnsigned, ByteLength: 4, Source: "charged_wh", Gain: 100, Round: true},
				{ByteOffset: 4, Encoding: EncodingUnsigned, ByteLength: 4, Source: "discharged_wh", Gain: 100, Round: true},
			},
		},
		{
			Name: "installed_capacity",
			ID:   IDInstalledCapacity,
			DLC:  2,
			Fields: []Field{
				{ByteOffset: 0, Encoding: EncodingUnsigned, ByteLength: 2, Source: "capacity_ah", Round: true},
			},
		},
		{
			Name: "battery_family",
			ID:   IDBatteryFamily,
			DLC:  8,
			Fields: []Field{
				{ByteOffset: 0, Encoding: EncodingASCII, ByteLength: 8, Source: "battery_family"},
			},
		},
		{
			Name:     "keepalive",
			ID:       IDKeepalive,
			DLC:      1,
			PeriodMs: 1000,
			Fields: []Field{
				{ByteOffset: 0, Encoding: EncodingUnsigned, ByteLength: 1, Constant: f64(0)},
			},
		},
	}
}
