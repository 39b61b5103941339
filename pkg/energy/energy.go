// Package energy implements trapezoidal Wh integration of pack
// voltage/current samples, with persistence hooks delegated to a
// collaborator.
//
// Grounded in shape on pkg/time.TIME.process: a tiny stateful struct
// that accumulates against a remembered previous timestamp and leaves
// persistence to whatever owns it, the same division of labor as
// TIME.process advancing ms/days and SetInternalTime loading the
// initial value from an external source.
package energy

import (
	"math"

	bmserrors "github.com/tinybms/bridge/errors"
)

// Store is the persistence contract energy counters are saved through.
// Implementations live in pkg/kvstore.
type Store interface {
	Get(namespace, key string) ([]byte, bool, error)
	Set(namespace, key string, value []byte) error
}

const (
	namespace   = "energy"
	keyCharged  = "charged_wh"
	keyDischarg = "discharged_wh"

	millisPerHour = 3_600_000.0
	minVoltageV   = 0.1
)

// Counters is the integrator's runtime state: spec.md §3's "Energy
// counters" (charged_wh, discharged_wh, last_update_ms), monotonically
// non-decreasing.
type Counters struct {
	ChargedWh    float64
	DischargedWh float64

	haveLast  bool
	lastMs    uint64
	store     Store
}

// NewCounters returns a zeroed integrator. Call Restore to load a
// previously persisted state before use.
func NewCounters(store Store) *Counters {
	return &Counters{store: store}
}

// Sample integrates one voltage/current reading taken at nowMs. The
// first call after construction or Restore only records the timestamp
// (there is no previous sample to integrate against).
func (c *Counters) Sample(nowMs uint64, voltageV, currentA float64) {
	if !c.haveLast {
		c.haveLast = true
		c.lastMs = nowMs
		return
	}
	if nowMs <= c.lastMs {
		return
	}
	if math.IsNaN(voltageV) || math.IsInf(voltageV, 0) ||
		math.IsNaN(currentA) || math.IsInf(currentA, 0) || voltageV < minVoltageV {
		c.lastMs = nowMs
		return
	}

	dtH := float64(nowMs-c.lastMs) / millisPerHour
	c.lastMs = nowMs

	powerW := voltageV * currentA
	if powerW >= 0 {
		c.ChargedWh += powerW * dtH
	} else {
		c.DischargedWh += -powerW * dtH
	}
	if c.ChargedWh < 0 {
		c.ChargedWh = 0
	}
	if c.DischargedWh < 0 {
		c.DischargedWh = 0
	}
}

// Persist saves both counters through the store collaborator.
func (c *Counters) Persist() error {
	if c.store == nil {
		return bmserrors.ErrPersistence
	}
	if err := c.store.Set(namespace, keyCharged, encodeF64(c.ChargedWh)); err != nil {
		return err
	}
	if err := c.store.Set(namespace, keyDischarg, encodeF64(c.DischargedWh)); err != nil {
		return err
	}
	return nil
}

// Restore loads both counters from the store collaborator. A NotFound
// result for either key is treated as zero, matching
// restore_energy_state()'s documented fallback; any other error is
// returned to the caller to log.
func (c *Counters) Restore() error {
	if c.store == nil {
		return bmserrors.ErrNotFound
	}
	charged, err := c.restoreOne(keyCharged)
	if err != nil {
		return err
	}
	discharged, err := c.restoreOne(keyDischarg)
	if err != nil {
		return err
	}
	c.ChargedWh = charged
	c.DischargedWh = discharged
	return nil
}

func (c *Counters) restoreOne(key string) (float64, error) {
	raw, ok, err := c.store.Get(namespace, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	v, err := decodeF64(raw)
	if err != nil {
		return 0, bmserrors.ErrPersistence
	}
	return v, nil
}

func encodeF64(v float64) []byte {
	bits := math.Float64bits(v)
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(bits >> (8 * i))
	}
	return b
}

func decodeF64(b []byte) (float64, error) {
	if len(b) != 8 {
		return 0, bmserrors.ErrInvalidSize
	}
	var bits uint64
	for i := 0; i < 8; i++ {
		bits |= uint64(b[i]) << (8 * i)
	}
	return math.Float64frombits(bits), nil
}
