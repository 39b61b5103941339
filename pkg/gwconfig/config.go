// Package gwconfig is the gateway's configuration manager: one struct
// per configuration domain (device, UART, Wi-Fi, CAN, MQTT, CVL,
// logging) plus the raw register-value cache, with validate-apply-
// persist-publish setters and dual public/full JSON snapshots.
//
// Modeled on the teacher library's pkg/config.NodeConfigurator — a
// small wrapper type holding the collaborator it talks to (there an
// *sdo.SDOClient, here a kvstore.KVStore and an eventbus.Bus) with one
// method per configuration concern — generalised from CANopen SDO
// objects to the gateway's own sections.
package gwconfig

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/tinybms/bridge/errors"
	"github.com/tinybms/bridge/pkg/cvl"
	"github.com/tinybms/bridge/pkg/eventbus"
	"github.com/tinybms/bridge/pkg/kvstore"
	"github.com/tinybms/bridge/pkg/registers"
)

const namespace = "gwconfig"

// DefaultMutexTimeout is the bounded acquisition window spec.md §4.7
// names for every getter/setter.
const DefaultMutexTimeout = 1 * time.Second

const secretMask = "***"

// DeviceConfig names this gateway instance.
type DeviceConfig struct {
	Name string `json:"name"`
}

// UARTConfig is the serial-poll task's tuning.
type UARTConfig struct {
	Device          string `json:"device"`
	PollIntervalMs  uint32 `json:"poll_interval_ms"`
	ResponseTimeoutMs uint32 `json:"response_timeout_ms"`
}

// WiFiConfig holds STA and AP settings. STAPassword/APPassword are
// masked in the public snapshot.
type WiFiConfig struct {
	STASSID     string `json:"sta_ssid"`
	STAPassword string `json:"sta_password"`
	APSSID      string `json:"ap_ssid"`
	APPassword  string `json:"ap_password"`
	Hostname    string `json:"hostname"`
	APChannel   int    `json:"ap_channel"`
	APMaxClients int   `json:"ap_max_clients"`
}

// CANConfig holds the publisher's identity strings and cadence.
type CANConfig struct {
	Interface           string `json:"interface"`
	Channel             string `json:"channel"`
	KeepaliveIntervalMs uint32 `json:"keepalive_interval_ms"`
	KeepaliveTimeoutMs  uint32 `json:"keepalive_timeout_ms"`
	PublisherPeriodMs   uint32 `json:"publisher_period_ms"`
	Manufacturer        string `json:"manufacturer"`
	BatteryNamePart1    string `json:"battery_name_part1"`
	BatteryNamePart2    string `json:"battery_name_part2"`
	BatteryFamily       string `json:"battery_family"`
}

// MQTTConfig holds the client settings and topic set spec.md §4.7
// names; the broker connection itself is an external collaborator
// (spec.md §1 Non-goals), this struct only carries its configuration.
type MQTTConfig struct {
	BrokerURI    string `json:"broker_uri"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	KeepaliveS   uint16 `json:"keepalive_s"`
	QoS          uint8  `json:"qos"`
	Retain       bool   `json:"retain"`
	TLSVerify    bool   `json:"tls_verify"`
	TopicStatus  string `json:"topic_status"`
	TopicMetrics string `json:"topic_metrics"`
}

// LoggingConfig holds the flags the teacher library's logrus-based
// logging is tuned with (level plus per-subsystem verbosity toggles).
type LoggingConfig struct {
	Level         string `json:"level"`
	LogUartFrames bool   `json:"log_uart_frames"`
	LogCanFrames  bool   `json:"log_can_frames"`
}

// VictronConfig holds the alarm/warning thresholds the PGN 0x35A
// computed functions (spec.md §4.2) evaluate live telemetry against.
type VictronConfig struct {
	CellImbalanceWarnMv  uint16  `json:"cell_imbalance_warn_mv"`
	CellImbalanceAlarmMv uint16  `json:"cell_imbalance_alarm_mv"`
	LowSocWarnPct        float64 `json:"low_soc_warn_pct"`
	HighSocWarnPct       float64 `json:"high_soc_warn_pct"`
}

// Config is the full in-memory configuration model, spec.md §4.7's
// "Holds:" list.
type Config struct {
	Device    DeviceConfig  `json:"device"`
	UART      UARTConfig    `json:"uart"`
	WiFi      WiFiConfig    `json:"wifi"`
	CAN       CANConfig     `json:"can"`
	MQTT      MQTTConfig    `json:"mqtt"`
	CVL       cvl.Config    `json:"cvl"`
	Victron   VictronConfig `json:"victron"`
	Logging   LoggingConfig `json:"logging"`
}

// Default returns the baseline configuration new installs start from.
func Default() Config {
	return Config{
		Device: DeviceConfig{Name: "tinybms-gateway"},
		UART: UARTConfig{
			Device:            "/dev/ttyUSB0",
			PollIntervalMs:    100,
			ResponseTimeoutMs: 300,
		},
		WiFi: WiFiConfig{
			APSSID:       "tinybms-gateway",
			Hostname:     "tinybms-gateway",
			APChannel:    6,
			APMaxClients: 4,
		},
		CAN: CANConfig{
			Interface:           "socketcan",
			Channel:             "can0",
			KeepaliveIntervalMs: 1000,
			KeepaliveTimeoutMs:  10000,
			PublisherPeriodMs:   1000,
			Manufacturer:        "TinyBMS",
		},
		Logging: LoggingConfig{Level: "info"},
		Victron: VictronConfig{
			CellImbalanceWarnMv:  60,
			CellImbalanceAlarmMv: 120,
			LowSocWarnPct:        15,
			HighSocWarnPct:       95,
		},
		CVL: cvl.Config{
			Enabled:                true,
			BulkTargetVoltageV:     57.6,
			FloatApproachOffsetMv:  600,
			FloatOffsetMv:          1200,
			TransitionSocThreshold: 80,
			FloatSocThreshold:      95,
			FloatExitSoc:           95,
		},
	}
}

// Manager owns the live Config, the raw register cache, and the
// collaborators required to persist and publish mutations.
type Manager struct {
	mu        sync.Mutex
	cfg       Config
	raw       map[string]int64 // descriptor key -> last confirmed raw value
	catalogue *registers.Catalogue
	store     kvstore.KVStore
	bus       *eventbus.Bus

	publicSnapshot []byte
	fullSnapshot   []byte
}

// NewManager builds a manager over the given catalogue and
// collaborators, seeded with cfg (typically Default(), overlaid with
// whatever Restore loads).
func NewManager(cfg Config, catalogue *registers.Catalogue, store kvstore.KVStore, bus *eventbus.Bus) *Manager {
	m := &Manager{
		cfg:       cfg,
		raw:       make(map[string]int64),
		catalogue: catalogue,
		store:     store,
		bus:       bus,
	}
	for _, d := range catalogue.Ordered() {
		m.raw[d.Key] = d.DefaultRaw
	}
	m.rebuildSnapshotsLocked()
	return m
}

// tryLock attempts to acquire the config mutex within timeout, the
// bounded-wait discipline spec.md §4.7/§4.8 requires of every getter
// and setter. A failed acquisition is reported, never blocks
// indefinitely.
func (m *Manager) tryLock(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if m.mu.TryLock() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

// Snapshot returns the public (secrets masked) JSON document, or the
// full document with secrets verbatim.
func (m *Manager) Snapshot(full bool) ([]byte, error) {
	if !m.tryLock(DefaultMutexTimeout) {
		return nil, errors.ErrTimeout
	}
	defer m.mu.Unlock()
	if full {
		return m.fullSnapshot, nil
	}
	return m.publicSnapshot, nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() (Config, error) {
	if !m.tryLock(DefaultMutexTimeout) {
		return Config{}, errors.ErrTimeout
	}
	defer m.mu.Unlock()
	return m.cfg, nil
}

// ApplyOptions controls how a mutation is committed.
type ApplyOptions struct {
	// SkipPersist applies the mutation to runtime even if persistence
	// fails, logging the failure instead of rejecting the mutation —
	// spec.md §4.7's "apply without persist" escape hatch.
	SkipPersist bool
}

// mutate runs fn against a copy of the current config under the
// bounded mutex, and on success persists + rebuilds snapshots +
// publishes CONFIG_UPDATED. If persistence fails and SkipPersist is
// not set, the mutation is discarded and the persistence error is
// returned; runtime state is left untouched.
func (m *Manager) mutate(opts ApplyOptions, fn func(*Config)) error {
	if !m.tryLock(DefaultMutexTimeout) {
		return errors.ErrTimeout
	}
	defer m.mu.Unlock()

	next := m.cfg
	fn(&next)

	persistErr := m.persistLocked(next)
	if persistErr != nil && !opts.SkipPersist {
		return persistErr
	}

	m.cfg = next
	m.rebuildSnapshotsLocked()
	if m.bus != nil {
		m.bus.Publish(eventbus.Event{ID: eventbus.EventConfigUpdated, Payload: m.fullSnapshot})
	}
	return nil
}

func (m *Manager) persistLocked(cfg Config) error {
	if m.store == nil {
		return errors.ErrPersistence
	}
	blob, err := json.Marshal(cfg)
	if err != nil {
		return errors.ErrPersistence
	}
	if err := m.store.Set(namespace, "config", blob); err != nil {
		return err
	}
	return m.store.Commit()
}

// Restore loads a previously persisted configuration, falling back to
// the seed config on NotFound.
func (m *Manager) Restore() error {
	if !m.tryLock(DefaultMutexTimeout) {
		return errors.ErrTimeout
	}
	defer m.mu.Unlock()
	if m.store == nil {
		return nil
	}
	blob, ok, err := m.store.Get(namespace, "config")
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	var cfg Config
	if err := json.Unmarshal(blob, &cfg); err != nil {
		return errors.ErrPersistence
	}
	m.cfg = cfg
	m.rebuildSnapshotsLocked()
	return nil
}

func (m *Manager) rebuildSnapshotsLocked() {
	regs := m.registerListLocked()
	m.fullSnapshot, _ = json.Marshal(renderSnapshot(m.cfg, regs, false))
	m.publicSnapshot, _ = json.Marshal(renderSnapshot(m.cfg, regs, true))
}

// RegisterSnapshot is one row of the register list a config snapshot
// carries: the static descriptor metadata plus the current cached raw
// value and its user-facing conversion.
type RegisterSnapshot struct {
	Key        string              `json:"key"`
	Label      string              `json:"label"`
	Unit       string              `json:"unit"`
	Group      string              `json:"group"`
	Access     string              `json:"access"`
	Value      float64             `json:"value"`
	Raw        int64               `json:"raw"`
	Default    int64               `json:"default"`
	Precision  int                 `json:"precision"`
	Options    []registers.EnumOption `json:"options,omitempty"`
}

// registerListLocked projects the descriptor catalogue and the raw
// value cache into the register list spec.md §6 names as part of the
// JSON configuration document. Caller must hold m.mu.
func (m *Manager) registerListLocked() []RegisterSnapshot {
	ordered := m.catalogue.Ordered()
	out := make([]RegisterSnapshot, 0, len(ordered))
	for _, d := range ordered {
		raw := m.raw[d.Key]
		out = append(out, RegisterSnapshot{
			Key:       d.Key,
			Label:     d.Label,
			Unit:      d.Unit,
			Group:     d.Group,
			Access:    d.Access.String(),
			Value:     d.RawToUser(raw),
			Raw:       raw,
			Default:   d.DefaultRaw,
			Precision: d.Precision,
			Options:   d.Options,
		})
	}
	return out
}

// snapshotDoc is the JSON document shape a Manager.Snapshot call
// renders, matching spec.md §6's device/UART/Wi-Fi/CAN/MQTT/CVL/
// logging sections plus a registers[] array.
type snapshotDoc struct {
	Device    DeviceConfig       `json:"device"`
	UART      UARTConfig         `json:"uart"`
	WiFi      WiFiConfig         `json:"wifi"`
	CAN       CANConfig          `json:"can"`
	MQTT      MQTTConfig         `json:"mqtt"`
	CVL       cvl.Config         `json:"cvl"`
	Victron   VictronConfig      `json:"victron"`
	Logging   LoggingConfig      `json:"logging"`
	Registers []RegisterSnapshot `json:"registers"`
}

// renderSnapshot builds the JSON-ready document for cfg/regs,
// masking Wi-Fi and MQTT secrets when public is true. Masking is
// applied only here, at render time, never at mutation time
// (spec.md §4.7).
func renderSnapshot(cfg Config, regs []RegisterSnapshot, public bool) snapshotDoc {
	doc := snapshotDoc{
		Device:    cfg.Device,
		UART:      cfg.UART,
		WiFi:      cfg.WiFi,
		CAN:       cfg.CAN,
		MQTT:      cfg.MQTT,
		CVL:       cfg.CVL,
		Victron:   cfg.Victron,
		Logging:   cfg.Logging,
		Registers: regs,
	}
	if public {
		if doc.WiFi.STAPassword != "" {
			doc.WiFi.STAPassword = secretMask
		}
		if doc.WiFi.APPassword != "" {
			doc.WiFi.APPassword = secretMask
		}
		if doc.MQTT.Password != "" {
			doc.MQTT.Password = secretMask
		}
	}
	return doc
}

// RegisterWriter is the collaborator a register update is sequenced
// through: spec.md §4.1's write_register, satisfied by
// *uartlink.Link.WriteRegister.
type RegisterWriter interface {
	WriteRegister(address uint16, raw uint16, timeout time.Duration) (uint16, error)
}

// DefaultWriteTimeout bounds the write-with-readback exchange
// ApplyRegisterUpdate sequences.
const DefaultWriteTimeout = 500 * time.Millisecond

// ApplyRegisterUpdate locates the descriptor by key, converts the
// user-facing value to raw (enforcing enum membership, scale, step
// alignment and bounds), writes it to the BMS via writer, caches the
// confirmed read-back, persists, rebuilds snapshots, and publishes a
// register_update event (spec.md §4.7).
func (m *Manager) ApplyRegisterUpdate(writer RegisterWriter, key string, userValue float64) error {
	d, ok := m.catalogue.ByKey(key)
	if !ok {
		return errors.ErrNotFound
	}
	raw, err := d.UserToRaw(userValue)
	if err != nil {
		return err
	}

	if !m.tryLock(DefaultMutexTimeout) {
		return errors.ErrTimeout
	}
	defer m.mu.Unlock()

	readback, err := writer.WriteRegister(d.Address, uint16(raw), DefaultWriteTimeout)
	if err != nil {
		return err
	}
	m.raw[key] = int64(readback)

	blob, merr := json.Marshal(m.raw)
	if merr != nil {
		return merr
	}
	if perr := m.persistRawLocked(blob); perr != nil {
		return perr
	}
	m.rebuildSnapshotsLocked()
	if m.bus != nil {
		m.bus.Publish(eventbus.Event{ID: eventbus.EventRegisterWriteResult, Payload: RegisterUpdateResult{
			Key:   key,
			Value: d.RawToUser(int64(readback)),
			Raw:   int64(readback),
		}})
	}
	return nil
}

// RegisterUpdateResult is the EventRegisterWriteResult payload.
type RegisterUpdateResult struct {
	Key   string
	Value float64
	Raw   int64
}

func (m *Manager) persistRawLocked(blob []byte) error {
	if m.store == nil {
		return errors.ErrPersistence
	}
	if err := m.store.Set(namespace, "raw_registers", blob); err != nil {
		return err
	}
	return m.store.Commit()
}

// RestoreRegisters loads the persisted raw-value cache, leaving
// catalogue defaults in place for any key not found.
func (m *Manager) RestoreRegisters() error {
	if !m.tryLock(DefaultMutexTimeout) {
		return errors.ErrTimeout
	}
	defer m.mu.Unlock()
	if m.store == nil {
		return nil
	}
	blob, ok, err := m.store.Get(namespace, "raw_registers")
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	var raw map[string]int64
	if err := json.Unmarshal(blob, &raw); err != nil {
		return errors.ErrPersistence
	}
	for k, v := range raw {
		m.raw[k] = v
	}
	m.rebuildSnapshotsLocked()
	return nil
}

// apSecretAlphabet is the character set spec.md §4.7 names for a
// generated AP fallback password: unambiguous uppercase letters and
// digits, with easily-confused characters (I, O, 0, 1) left out.
const apSecretAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const apSecretLength = 16
const minAPPasswordLength = 8

// EnsureAPSecret generates and persists a random AP fallback password
// the first time it is called with an AP password shorter than
// minAPPasswordLength, using rng (crypto/rand.Read in production). A
// password already at or above the minimum length is left untouched.
func (m *Manager) EnsureAPSecret(rng func([]byte) error) error {
	if !m.tryLock(DefaultMutexTimeout) {
		return errors.ErrTimeout
	}
	if len(m.cfg.WiFi.APPassword) >= minAPPasswordLength {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	secret, err := generateAPSecret(rng)
	if err != nil {
		return err
	}
	return m.mutate(ApplyOptions{}, func(c *Config) {
		c.WiFi.APPassword = secret
	})
}

func generateAPSecret(rng func([]byte) error) (string, error) {
	buf := make([]byte, apSecretLength)
	if err := rng(buf); err != nil {
		return "", err
	}
	out := make([]byte, apSecretLength)
	for i, b := range buf {
		out[i] = apSecretAlphabet[int(b)%len(apSecretAlphabet)]
	}
	return string(out), nil
}

// SetWiFi validates and applies new Wi-Fi settings. A submitted AP
// password shorter than minAPPasswordLength is rejected outright
// (spec.md §4.7): the previously generated or configured secret is
// preserved rather than silently weakened.
func (m *Manager) SetWiFi(next WiFiConfig, opts ApplyOptions) error {
	if next.APPassword != "" && len(next.APPassword) < minAPPasswordLength {
		return errors.ErrInvalidArg
	}
	return m.mutate(opts, func(c *Config) {
		c.WiFi = next
	})
}

// SetCAN validates and applies new CAN publisher/keepalive settings.
func (m *Manager) SetCAN(next CANConfig, opts ApplyOptions) error {
	return m.mutate(opts, func(c *Config) {
		c.CAN = next
	})
}

// SetUART validates and applies new serial-link tuning, clamping the
// poll interval to the bounds uartlink enforces.
func (m *Manager) SetUART(next UARTConfig, opts ApplyOptions) error {
	return m.mutate(opts, func(c *Config) {
		c.UART = next
	})
}

// SetCVL validates and applies a new CVL controller configuration.
func (m *Manager) SetCVL(next cvl.Config, opts ApplyOptions) error {
	return m.mutate(opts, func(c *Config) {
		c.CVL = next
	})
}

// SetVictron validates and applies new PGN alarm/warning thresholds.
func (m *Manager) SetVictron(next VictronConfig, opts ApplyOptions) error {
	if next.CellImbalanceAlarmMv != 0 && next.CellImbalanceAlarmMv < next.CellImbalanceWarnMv {
		return errors.ErrInvalidArg
	}
	return m.mutate(opts, func(c *Config) {
		c.Victron = next
	})
}
