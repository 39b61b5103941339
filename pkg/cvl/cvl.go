// Package cvl implements the Charge Voltage Limit controller: an
// explicit finite-state machine deriving CVL/CCL/DCL envelopes from
// live telemetry and configuration, with hysteresis, imbalance hold,
// a low-SoC sustain state, and cell-voltage protection.
//
// Grounded on the original firmware's computeCvlLimits (cvl_logic.cpp):
// the nested-conditional state selection from that function is kept as
// the shape of Compute's SoC ladder, but expressed as the explicit
// transition function (State, Inputs, Config) -> (State, Outputs) the
// REDESIGN FLAGS call for, and extended with the Sustain state and the
// cell-protection/imbalance-drop shaping steps spec.md §4.4 adds beyond
// the original algorithm.
package cvl

import "math"

// State is one point in the CVL controller's finite state machine.
type State int

const (
	StateBulk State = iota
	StateTransition
	StateFloatApproach
	StateFloat
	StateImbalanceHold
	StateSustain
)

func (s State) String() string {
	switch s {
	case StateBulk:
		return "bulk"
	case StateTransition:
		return "transition"
	case StateFloatApproach:
		return "float_approach"
	case StateFloat:
		return "float"
	case StateImbalanceHold:
		return "imbalance_hold"
	case StateSustain:
		return "sustain"
	default:
		return "unknown"
	}
}

// Inputs is the per-tick telemetry the controller reads.
type Inputs struct {
	SocPercent      float64
	CellImbalanceMv uint16
	MaxCellMv       uint16
	BaseCclA        float64
	BaseDclA        float64
	SeriesCellCount int
}

// Config is the static (until the next config mutation) tuning the
// controller reads every tick.
type Config struct {
	Enabled bool

	BulkTargetVoltageV    float64
	FloatApproachOffsetMv float64
	FloatOffsetMv         float64

	ImbalanceHoldThresholdMv    uint16
	ImbalanceReleaseThresholdMv uint16
	MinimumCclInFloatA          float64

	BulkSocThreshold       float64
	TransitionSocThreshold float64
	FloatSocThreshold      float64
	FloatExitSoc           float64

	SustainEntrySoc       float64
	SustainExitSoc        float64
	SustainVoltageV       float64
	SustainPerCellVoltage float64
	SustainCclA           float64
	SustainDclA           float64

	CellSafetyThresholdMv uint16
	CellSafetyReleaseMv   uint16
	CellMaxVoltageV       float64
	CellProtectionKp      float64
	MaxRecoveryStepV      float64

	ImbalanceDropPerMv float64
	ImbalanceDropMaxV  float64
}

// Outputs is everything the controller derives for one tick.
type Outputs struct {
	State                State
	CvlV                 float64
	CclA                 float64
	DclA                 float64
	ImbalanceHoldActive   bool
	CellProtectionActive  bool
}

// StateEntry tracks when the controller last changed state, so
// duration can be reported on the next transition.
type StateEntry struct {
	State       State
	EnteredAtMs uint64
}

// Controller is the process-scoped singleton holding CVL state across
// ticks (spec.md §3's "CVL runtime state"), mutated only by its owning
// task.
type Controller struct {
	previous             State
	lastCvlV             float64
	entry                StateEntry
	cellProtectionActive bool
}

// NewController returns a controller starting in Bulk.
func NewController() *Controller {
	return &Controller{previous: StateBulk}
}

// Previous reports the state the last Compute call left the
// controller in.
func (c *Controller) Previous() State { return c.previous }

func clampNonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// Compute runs one tick of the transition function and updates the
// controller's remembered previous state. nowMs is used only to stamp
// state-entry duration; it never drives a decision itself.
func (c *Controller) Compute(in Inputs, cfg Config, nowMs uint64) Outputs {
	out := c.compute(in, cfg)
	if out.State != c.previous {
		c.entry = StateEntry{State: out.State, EnteredAtMs: nowMs}
	}
	c.previous = out.State
	c.lastCvlV = out.CvlV
	return out
}

// StateDurationMs reports how long the controller has been in its
// current state as of nowMs.
func (c *Controller) StateDurationMs(nowMs uint64) uint64 {
	if nowMs < c.entry.EnteredAtMs {
		return 0
	}
	return nowMs - c.entry.EnteredAtMs
}

func (c *Controller) compute(in Inputs, cfg Config) Outputs {
	if !cfg.Enabled {
		return Outputs{
			State: StateBulk,
			CvlV:  clampNonNegative(cfg.BulkTargetVoltageV),
			CclA:  clampNonNegative(in.BaseCclA),
			DclA:  clampNonNegative(in.BaseDclA),
		}
	}

	bulkTarget := clampNonNegative(cfg.BulkTargetVoltageV)
	floatApproach := clampNonNegative(bulkTarget - cfg.FloatApproachOffsetMv/1000)
	floatVoltage := clampNonNegative(bulkTarget - cfg.FloatOffsetMv/1000)
	if floatVoltage > floatApproach {
		floatVoltage, floatApproach = floatApproach, floatVoltage
	}

	imbalanceHold := c.previous == StateImbalanceHold
	if imbalanceHold {
		if in.CellImbalanceMv <= cfg.ImbalanceReleaseThresholdMv {
			imbalanceHold = false
		}
	} else if in.CellImbalanceMv > cfg.ImbalanceHoldThresholdMv {
		imbalanceHold = true
	}

	var out Outputs
	if imbalanceHold {
		minCcl := clampNonNegative(cfg.MinimumCclInFloatA)
		ccl := clampNonNegative(in.BaseCclA)
		if minCcl > 0 {
			ccl = math.Min(ccl, minCcl)
		}
		out = Outputs{
			State:               StateImbalanceHold,
			CvlV:                floatApproach,
			CclA:                ccl,
			DclA:                clampNonNegative(in.BaseDclA),
			ImbalanceHoldActive: true,
		}
	} else if in.SocPercent <= cfg.SustainEntrySoc && c.previous != StateSustain ||
		(c.previous == StateSustain && in.SocPercent < cfg.SustainExitSoc) {
		sustainV := math.Max(cfg.SustainVoltageV, float64(in.SeriesCellCount)*cfg.SustainPerCellVoltage)
		out = Outputs{
			State: StateSustain,
			CvlV:  sustainV,
			CclA:  clampNonNegative(cfg.SustainCclA),
			DclA:  clampNonNegative(cfg.SustainDclA),
		}
	} else {
		state := socLadderState(c.previous, in.SocPercent, cfg)
		out = Outputs{State: state, DclA: clampNonNegative(in.BaseDclA)}
		switch state {
		case StateBulk, StateTransition:
			out.CvlV = bulkTarget
			out.CclA = clampNonNegative(in.BaseCclA)
		case StateFloatApproach:
			out.CvlV = floatApproach
			out.CclA = clampNonNegative(in.BaseCclA)
		case StateFloat:
			out.CvlV = floatVoltage
			minCcl := clampNonNegative(cfg.MinimumCclInFloatA)
			ccl := clampNonNegative(in.BaseCclA)
			if minCcl > 0 {
				ccl = math.Min(ccl, minCcl)
			}
			out.CclA = ccl
		default:
			out.CvlV = bulkTarget
			out.CclA = clampNonNegative(in.BaseCclA)
		}
	}

	out.CellProtectionActive, out.CvlV = c.applyCellProtection(in, cfg, out.CvlV)
	out.CvlV = applyImbalanceDrop(in, cfg, out.CvlV)
	if out.CvlV < 0 {
		out.CvlV = 0
	}
	return out
}

// socLadderState reproduces the original firmware's nested SoC-band
// selection (float exit hysteresis, then the descending threshold
// ladder, then the float-approach dead-band downgrade) as a pure
// function of previous state, SoC, and config.
func socLadderState(previous State, soc float64, cfg Config) State {
	if previous == StateFloat && soc >= cfg.FloatExitSoc {
		return StateFloat
	}

	state := StateBulk
	switch {
	case soc >= cfg.FloatSocThreshold:
		state = StateFloat
	case soc >= cfg.TransitionSocThreshold:
		state = StateFloatApproach
	case soc >= cfg.BulkSocThreshold:
		state = StateTransition
	}

	if state == StateFloatApproach && previous == StateFloatApproach && soc+0.25 < cfg.TransitionSocThreshold {
		state = StateTransition
	}
	return state
}

// applyCellProtection engages when the highest cell voltage crosses
// the safety threshold, clamping CVL down by a proportional step sized
// off the cell's excess above its configured per-cell max voltage (a
// distinct, lower baseline than the safety-enter threshold), bounded
// per tick, and releases only once the cell has recovered below the
// (lower) release threshold — spec.md §4.4 step 6, absent from the
// original firmware's lead-acid-derived algorithm. Engagement itself
// is hysteresis state remembered on the controller, the same way
// imbalance hold and Sustain are.
func (c *Controller) applyCellProtection(in Inputs, cfg Config, cvl float64) (bool, float64) {
	if cfg.CellSafetyThresholdMv == 0 {
		c.cellProtectionActive = false
		return false, cvl
	}

	if c.cellProtectionActive {
		if in.MaxCellMv <= cfg.CellSafetyReleaseMv {
			c.cellProtectionActive = false
		}
	} else if in.MaxCellMv >= cfg.CellSafetyThresholdMv {
		c.cellProtectionActive = true
	}

	if !c.cellProtectionActive {
		return false, cvl
	}

	over := float64(in.MaxCellMv)/1000.0 - cfg.CellMaxVoltageV
	if over < 0 {
		over = 0
	}
	drop := cfg.CellProtectionKp * over * float64(in.SeriesCellCount)
	target := cvl - drop
	if cfg.MaxRecoveryStepV > 0 {
		minAllowed := c.lastCvlV - cfg.MaxRecoveryStepV
		if target < minAllowed {
			target = minAllowed
		}
	}
	if target < 0 {
		target = 0
	}
	return true, target
}

// applyImbalanceDrop subtracts a bounded, imbalance-proportional
// amount from CVL — spec.md §4.4 step 7.
func applyImbalanceDrop(in Inputs, cfg Config, cvl float64) float64 {
	if cfg.ImbalanceDropPerMv <= 0 {
		return cvl
	}
	drop := cfg.ImbalanceDropPerMv * float64(in.CellImbalanceMv)
	if cfg.ImbalanceDropMaxV > 0 && drop > cfg.ImbalanceDropMaxV {
		drop = cfg.ImbalanceDropMaxV
	}
	return cvl - drop
}
