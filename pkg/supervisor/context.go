// Package supervisor is the task orchestration layer: it owns the
// serial-poll, can-publish, and cvl-compute tasks, the stats mutex they
// share, and the projection from live telemetry/CVL/energy state into
// the flat pgn.Context the field mapper compiles against.
//
// Grounded on the teacher library's network.go processing loop
// (Network.process ticking PDO/heartbeat/SYNC producers against a
// shared NMT/OD state under nmt.Mutex) generalised from CANopen's fixed
// set of producers to this gateway's three domain tasks.
package supervisor

import (
	"github.com/tinybms/bridge/pkg/cvl"
	"github.com/tinybms/bridge/pkg/gwconfig"
	"github.com/tinybms/bridge/pkg/pgn"
	"github.com/tinybms/bridge/pkg/registers"
)

// alarmNormal, alarmWarning and alarmAlarm are the three live states a
// 2-bit alarm field in PGN 0x35A carries (spec.md §4.2); the fourth
// encoding (3) is reserved and never emitted here.
const (
	alarmNormal  = 0
	alarmWarning = 1
	alarmAlarm   = 2
)

// BuildContext projects one live-data snapshot, the CVL controller's
// last computed outputs, the energy counters, and the keepalive/error
// state into the pgn.Context the channel catalogue compiles against.
// cfg supplies the CAN identity strings and the Victron alarm/warning
// thresholds; cfg.CVL.Enabled gates the cvl_dynamic/ccl_limit/dcl_limit
// fallback to BMS-reported values.
func BuildContext(ld *registers.LiveData, cvlOut cvl.Outputs, chargedWh, dischargedWh float64, keepaliveOK bool, uartErrors, canTxErrors int, cfg gwconfig.Config) pgn.Context {
	derating := cvlOut.CellProtectionActive || cvlOut.ImbalanceHoldActive || cvlOut.State == cvl.StateSustain

	cvlV := ld.PackVoltageV
	cclA := ld.BaseChargeCurrentLimitA
	dclA := ld.BaseDischargeCurrentLimitA
	if cfg.CVL.Enabled {
		cvlV = cvlOut.CvlV
		cclA = cvlOut.CclA
		dclA = cvlOut.DclA
	}

	alarmUV := alarmIf(ld.UnderVoltageCutoffMv != 0 && ld.MinCellMv != 0 && ld.MinCellMv <= ld.UnderVoltageCutoffMv)
	alarmOV := alarmIf(ld.OverVoltageCutoffMv != 0 && ld.MaxCellMv >= ld.OverVoltageCutoffMv)
	alarmOT := alarmIf(ld.OverTempCutoffC != 0 && ld.MaxPackTemperatureC >= ld.OverTempCutoffC)
	alarmLTC := alarmIf(ld.PackCurrentA > 0 && ld.LowTempChargeCutoffC != 0 && ld.MinPackTemperatureC <= ld.LowTempChargeCutoffC)
	alarmImbalance := cellImbalanceAlarm(ld.CellImbalanceMv, cfg.Victron)
	alarmComms := boolToBit(uartErrors > 0 || canTxErrors > 0 || !keepaliveOK)
	warnLowSoc := boolToBit(ld.SocPercent <= cfg.Victron.LowSocWarnPct || derating)
	warnDerateHighSoc := boolToBit(ld.SocPercent >= cfg.Victron.HighSocWarnPct || derating)

	summary := alarmNormal
	if alarmUV == alarmAlarm || alarmOV == alarmAlarm || alarmOT == alarmAlarm || alarmLTC == alarmAlarm ||
		alarmImbalance == alarmAlarm || alarmComms == alarmWarning {
		summary = alarmAlarm
	} else {
		summary = alarmWarning
	}

	return pgn.Context{
		Signals: map[string]float64{
			"cvl_v":                 cvlV,
			"ccl_a":                 cclA,
			"dcl_a":                 dclA,
			"soc_pct":               ld.SocPercent,
			"soh_pct":               ld.SohPercent,
			"pack_voltage_v":        ld.PackVoltageV,
			"pack_current_a":        ld.PackCurrentA,
			"avg_temp_c":            ld.AverageTemperatureC,
			"capacity_ah":           ld.CapacityAh,
			"charged_wh":            chargedWh,
			"discharged_wh":         dischargedWh,
			"alarm_uv":              float64(alarmUV),
			"alarm_ov":              float64(alarmOV),
			"alarm_ot":              float64(alarmOT),
			"alarm_ltc":             float64(alarmLTC),
			"alarm_imbalance":       float64(alarmImbalance),
			"alarm_comms":           float64(alarmComms),
			"alarm_low_soc":         float64(warnLowSoc),
			"alarm_derate_high_soc": float64(warnDerateHighSoc),
			"alarm_summary":         float64(summary),
		},
		Strings: map[string]string{
			"manufacturer":        cfg.CAN.Manufacturer,
			"battery_name_part1":  cfg.CAN.BatteryNamePart1,
			"battery_name_part2":  cfg.CAN.BatteryNamePart2,
			"battery_family":      cfg.CAN.BatteryFamily,
		},
	}
}

func cellImbalanceAlarm(imbalanceMv uint16, v gwconfig.VictronConfig) int {
	if v.CellImbalanceAlarmMv != 0 && imbalanceMv > v.CellImbalanceAlarmMv {
		return alarmAlarm
	}
	if v.CellImbalanceWarnMv != 0 && imbalanceMv > v.CellImbalanceWarnMv {
		return alarmWarning
	}
	return alarmNormal
}

func alarmIf(breached bool) int {
	if breached {
		return alarmAlarm
	}
	return alarmNormal
}

func boolToBit(v bool) int {
	if v {
		return 1
	}
	return 0
}
