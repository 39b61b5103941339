package registers

// SeriesCellCount is the fixed pack topology this gateway supports (spec.md
// Non-goals restrict the core to 16-cell lithium packs; thresholds remain
// configurable but the cell array width does not).
const SeriesCellCount = 16

// RawRegister is the as-decoded value for one catalogue entry, kept
// alongside the typed LiveData fields so unknown/unmapped addresses are
// still reflected (spec.md §4.1).
type RawRegister struct {
	Address   uint16
	Type      WordType
	Raw       int64
	WordCount int
}

// LiveData is the immutable, timestamped telemetry snapshot produced by the
// serial parser once per poll cycle and shared read-only to every other
// component (spec.md §3).
type LiveData struct {
	TimestampMs uint64

	PackVoltageV float64
	PackCurrentA float64 // signed, charge-positive

	CellMv [SeriesCellCount]uint16
	MinCellMv       uint16
	MaxCellMv       uint16
	CellImbalanceMv uint16

	SocPercent float64 // 0.01% resolution
	SohPercent float64 // 0.01% resolution

	AverageTemperatureC  float64
	MosfetTemperatureC   float64
	MinPackTemperatureC  float64
	MaxPackTemperatureC  float64

	BalancingBitmap uint32
	AlarmBitmap     uint32
	WarningBitmap   uint32

	OnlineStatus uint16
	UptimeS      uint32
	CycleCount   uint16
	CapacityAh   float64

	OverVoltageCutoffMv  uint16
	UnderVoltageCutoffMv uint16
	OverTempCutoffC      float64
	LowTempChargeCutoffC float64
	OverCurrentChargeA   float64
	OverCurrentDischargeA float64

	BaseChargeCurrentLimitA    float64
	BaseDischargeCurrentLimitA float64

	FirmwareVersion string
	HardwareVersion string

	UartErrors int
	CanTxErrors int

	RawRegisters map[uint16]RawRegister
}

// NewLiveData returns an empty snapshot ready to be populated by the
// parser, with its raw register map pre-allocated.
func NewLiveData(timestampMs uint64) *LiveData {
	return &LiveData{
		TimestampMs:  timestampMs,
		RawRegisters: make(map[uint16]RawRegister),
	}
}

// DeriveImbalance recomputes CellImbalanceMv = max(max-min, 0), the
// derived field spec.md §4.1 requires after every decode.
func (l *LiveData) DeriveImbalance() {
	if l.MaxCellMv < l.MinCellMv {
		l.CellImbalanceMv = 0
		return
	}
	l.CellImbalanceMv = l.MaxCellMv - l.MinCellMv
}

// Valid reports whether the snapshot satisfies the invariants of spec.md
// §3: min_cell_mv <= max_cell_mv, soc/soh in [0, 100].
func (l *LiveData) Valid() bool {
	if l.MinCellMv > 0 && l.MaxCellMv > 0 && l.MinCellMv > l.MaxCellMv {
		return false
	}
	if l.SocPercent < 0 || l.SocPercent > 100 {
		return false
	}
	if l.SohPercent < 0 || l.SohPercent > 100 {
		return false
	}
	return true
}

// Clone returns a deep copy suitable for handing to a consumer that must
// not observe subsequent mutation (the "latest" slot keeps the original,
// the event bus payload gets a clone).
func (l *LiveData) Clone() *LiveData {
	c := *l
	c.RawRegisters = make(map[uint16]RawRegister, len(l.RawRegisters))
	for k, v := range l.RawRegisters {
		c.RawRegisters[k] = v
	}
	return &c
}
