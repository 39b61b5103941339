package uartlink

import (
	"encoding/binary"
	"strconv"

	bmserrors "github.com/tinybms/bridge/errors"
	"github.com/tinybms/bridge/pkg/registers"
)

// Diagnostics accumulates the per-kind frame counters spec.md names:
// every parse outcome increments exactly one of these (plus the shared
// FramesTotal counter).
type Diagnostics struct {
	FramesTotal            uint64
	FramesValid            uint64
	CrcErrors              uint64
	HeaderErrors           uint64
	LengthErrors           uint64
	TimeoutErrors          uint64
	MissingRegisterErrors  uint64
}

func (d *Diagnostics) recordError(err error) {
	switch err {
	case bmserrors.ErrInvalidCrc:
		d.CrcErrors++
	case bmserrors.ErrInvalidHeader:
		d.HeaderErrors++
	case bmserrors.ErrInvalidLength:
		d.LengthErrors++
	case bmserrors.ErrTimeout:
		d.TimeoutErrors++
	case bmserrors.ErrMissingRegister:
		d.MissingRegisterErrors++
	}
}

// Parser decodes opcode-0x09 poll responses into LiveData snapshots,
// walking the register catalogue in address order the same way the
// original firmware's decodeRegisters loop walks
// g_uart_bms_registers: one descriptor at a time, consuming 1-2 words,
// writing into the typed field AND the raw-register snapshot map.
type Parser struct {
	catalogue *registers.Catalogue
	diag      Diagnostics
}

// NewParser returns a parser bound to the given descriptor catalogue.
func NewParser(cat *registers.Catalogue) *Parser {
	return &Parser{catalogue: cat}
}

// Diagnostics returns a snapshot of the running counters.
func (p *Parser) Diagnostics() Diagnostics {
	return p.diag
}

// Parse validates and decodes one complete opcode-0x09 frame, updating
// the parser's diagnostic counters as it goes.
func (p *Parser) Parse(frame []byte, nowMs uint64) (*registers.LiveData, error) {
	p.diag.FramesTotal++

	h, err := ParseHeader(frame)
	if err != nil {
		p.diag.recordError(err)
		return nil, err
	}
	if h.Opcode != OpReadIndividual {
		p.diag.recordError(bmserrors.ErrInvalidHeader)
		return nil, bmserrors.ErrInvalidHeader
	}
	if h.PayloadLen%2 != 0 {
		p.diag.recordError(bmserrors.ErrInvalidLength)
		return nil, bmserrors.ErrInvalidLength
	}

	payload := Payload(frame, h)
	wordCount := len(payload) / 2
	words := make([]uint16, wordCount)
	for i := 0; i < wordCount; i++ {
		words[i] = binary.LittleEndian.Uint16(payload[i*2:])
	}

	ld := registers.NewLiveData(nowMs)

	wordIdx := 0
	for _, d := range p.catalogue.Ordered() {
		if wordIdx+d.Type.WordCount() > wordCount {
			p.diag.recordError(bmserrors.ErrMissingRegister)
			return nil, bmserrors.ErrMissingRegister
		}
		raw := decodeRaw(d.Type, words[wordIdx:])
		ld.RawRegisters[d.Address] = registers.RawRegister{
			Address:   d.Address,
			Type:      d.Type,
			Raw:       raw,
			WordCount: d.Type.WordCount(),
		}
		applyField(ld, d, raw)
		wordIdx += d.Type.WordCount()
	}

	ld.DeriveImbalance()
	p.diag.FramesValid++
	return ld, nil
}

func decodeRaw(t registers.WordType, words []uint16) int64 {
	switch t {
	case registers.TypeU16:
		return int64(words[0])
	case registers.TypeI16:
		return int64(int16(words[0]))
	case registers.TypeI8Pair:
		return int64(int16(words[0]))
	case registers.TypeU32:
		return int64(uint32(words[0]) | uint32(words[1])<<16)
	case registers.TypeF32:
		bits := uint32(words[0]) | uint32(words[1])<<16
		return int64(bits)
	default:
		return int64(words[0])
	}
}

// applyField copies a decoded raw value into the typed LiveData field
// its descriptor key names. Unrecognised keys still land in
// RawRegisters so new/unknown registers are never silently lost.
func applyField(ld *registers.LiveData, d registers.Descriptor, raw int64) {
	v := d.RawToUser(raw)
	if n, ok := cellIndex(d.Key); ok {
		ld.CellMv[n] = uint16(raw)
		return
	}
	switch d.Key {
	case "pack_voltage_v":
		ld.PackVoltageV = v
	case "pack_current_a":
		ld.PackCurrentA = v
	case "firmware_version":
		ld.FirmwareVersion = formatVersion(raw)
	case "hardware_version":
		ld.HardwareVersion = formatVersion(raw)
	case "min_cell_mv":
		ld.MinCellMv = uint16(raw)
	case "max_cell_mv":
		ld.MaxCellMv = uint16(raw)
	case "state_of_health_pct":
		ld.SohPercent = v
	case "state_of_charge_pct":
		ld.SocPercent = v
	case "state_of_charge_pct_highres":
		// kept only in RawRegisters/catalogue form; SocPercent uses the
		// coarse register as the canonical field (see DESIGN.md open
		// question decision).
	case "average_temperature_c":
		ld.AverageTemperatureC = v
	case "mosfet_temperature_c":
		ld.MosfetTemperatureC = v
	case "pack_min_max_temperature_c":
		lo, hi := splitI8Pair(raw)
		ld.MinPackTemperatureC = float64(lo)
		ld.MaxPackTemperatureC = float64(hi)
	case "balancing_bitmap":
		ld.BalancingBitmap = uint32(raw)
	case "alarm_bitmap":
		ld.AlarmBitmap = uint32(raw)
	case "warning_bitmap":
		ld.WarningBitmap = uint32(raw)
	case "online_status":
		ld.OnlineStatus = uint16(raw)
	case "uptime_s":
		ld.UptimeS = uint32(raw)
	case "cycle_count":
		ld.CycleCount = uint16(raw)
	case "capacity_ah":
		ld.CapacityAh = v
	case "overvoltage_cutoff_mv":
		ld.OverVoltageCutoffMv = uint16(raw)
	case "undervoltage_cutoff_mv":
		ld.UnderVoltageCutoffMv = uint16(raw)
	case "overtemp_cutoff_c":
		ld.OverTempCutoffC = v
	case "low_temp_charge_cutoff_c":
		ld.LowTempChargeCutoffC = v
	case "overcurrent_charge_a":
		ld.OverCurrentChargeA = v
	case "overcurrent_discharge_a":
		ld.OverCurrentDischargeA = v
	case "base_ccl_a":
		ld.BaseChargeCurrentLimitA = v
	case "base_dcl_a":
		ld.BaseDischargeCurrentLimitA = v
	}
}

// cellIndex recognises the cell_NN_mv descriptor key family and
// returns its zero-based index into LiveData.CellMv.
func cellIndex(key string) (int, bool) {
	if len(key) != len("cell_NN_mv") || key[:5] != "cell_" || key[7:] != "_mv" {
		return 0, false
	}
	tens, ok1 := digit(key[5])
	ones, ok2 := digit(key[6])
	if !ok1 || !ok2 {
		return 0, false
	}
	n := tens*10 + ones - 1
	if n < 0 || n >= registers.SeriesCellCount {
		return 0, false
	}
	return n, true
}

func digit(b byte) (int, bool) {
	if b < '0' || b > '9' {
		return 0, false
	}
	return int(b - '0'), true
}

// formatVersion renders a U16 register packing a major/minor version
// pair (high byte major, low byte minor) as "major.minor", the same
// BCD-ish split the original firmware's version registers use.
func formatVersion(raw int64) string {
	v := uint16(raw)
	return strconv.Itoa(int(v>>8)) + "." + strconv.Itoa(int(v&0xFF))
}

// splitI8Pair unpacks a single word carrying two signed 8-bit readings
// (low byte, high byte), as the original firmware's I8_PAIR registers
// do for min/max pack temperature.
func splitI8Pair(raw int64) (lo int8, hi int8) {
	word := uint16(int16(raw))
	return int8(word & 0xFF), int8(word >> 8)
}
