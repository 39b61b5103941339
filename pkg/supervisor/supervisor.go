package supervisor

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tinybms/bridge/pkg/canbus"
	"github.com/tinybms/bridge/pkg/cvl"
	"github.com/tinybms/bridge/pkg/energy"
	"github.com/tinybms/bridge/pkg/eventbus"
	"github.com/tinybms/bridge/pkg/gwconfig"
	"github.com/tinybms/bridge/pkg/keepalive"
	"github.com/tinybms/bridge/pkg/pgn"
	"github.com/tinybms/bridge/pkg/registers"
	"github.com/tinybms/bridge/pkg/uartlink"
)

// DefaultCvlIntervalMs is the CVL task's cadence, spec.md §4.4's
// cvl_update_interval_ms default.
const DefaultCvlIntervalMs = 20000

// DefaultCanPublishIntervalMs is the CAN task's wake cadence. Individual
// channels still keep their own deadlines inside pgn.Scheduler; this is
// only how often the orchestrator gives the scheduler a chance to check
// them (spec.md §4.8's "each runs a loop with its own cadence").
const DefaultCanPublishIntervalMs = 100

// MutexTimeout bounds stats/watchdog mutex acquisition, the 10-100ms
// window spec.md §4.8 requires; a failed acquisition skips the cycle
// rather than blocking.
const MutexTimeout = 50 * time.Millisecond

const energyPersistEvery = 30

// Watchdog is fed once per task wake by the supervisor, serialised
// through the watchdog-feed mutex spec.md §4.8 names. Implementations
// live outside this package (e.g. a hardware watchdog device, or a test
// double that records feed counts).
type Watchdog interface {
	Feed() error
}

// Stats is the aggregated diagnostics block spec.md §4.8's stats mutex
// guards, combining counters from every task.
type Stats struct {
	Uart         uartlink.Diagnostics
	Can          pgn.Stats
	KeepaliveOK  bool
	Cvl          cvl.Outputs
	ChargedWh    float64
	DischargedWh float64
}

// Supervisor wires the serial-poll, can-publish, and cvl-compute tasks
// together over their shared collaborators, and owns the stats mutex
// and watchdog-feed mutex spec.md §4.8 names.
type Supervisor struct {
	link         *uartlink.Link
	scheduler    *pgn.Scheduler
	cvlCtrl      *cvl.Controller
	energyCtr    *energy.Counters
	keepaliveMon *keepalive.Monitor
	cfgMgr       *gwconfig.Manager
	canBus       canbus.Bus
	bus          *eventbus.Bus
	watchdog     Watchdog
	log          *logrus.Entry

	canPublishInterval time.Duration
	cvlInterval        time.Duration

	statsMu sync.Mutex
	stats   Stats

	wdMu sync.Mutex

	energySamples uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Config bundles the collaborators and cadence overrides New needs.
type Config struct {
	Link         *uartlink.Link
	Scheduler    *pgn.Scheduler
	CVLController *cvl.Controller
	EnergyCounters *energy.Counters
	Keepalive    *keepalive.Monitor
	ConfigManager *gwconfig.Manager
	CANBus       canbus.Bus
	Bus          *eventbus.Bus
	Watchdog     Watchdog
	Log          *logrus.Entry

	CanPublishIntervalMs int
	CvlIntervalMs        int
}

// New builds a Supervisor ready to Start. Missing interval overrides
// fall back to the package defaults.
func New(cfg Config) *Supervisor {
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	canMs := cfg.CanPublishIntervalMs
	if canMs <= 0 {
		canMs = DefaultCanPublishIntervalMs
	}
	cvlMs := cfg.CvlIntervalMs
	if cvlMs <= 0 {
		cvlMs = DefaultCvlIntervalMs
	}
	return &Supervisor{
		link:               cfg.Link,
		scheduler:          cfg.Scheduler,
		cvlCtrl:            cfg.CVLController,
		energyCtr:          cfg.EnergyCounters,
		keepaliveMon:       cfg.Keepalive,
		cfgMgr:             cfg.ConfigManager,
		canBus:             cfg.CANBus,
		bus:                cfg.Bus,
		watchdog:           cfg.Watchdog,
		log:                log,
		canPublishInterval: time.Duration(canMs) * time.Millisecond,
		cvlInterval:        time.Duration(cvlMs) * time.Millisecond,
		stopCh:             make(chan struct{}),
	}
}

// Start launches the serial-poll, can-publish, cvl-compute, and
// energy-sample tasks, and subscribes the keepalive monitor to the CAN
// bus if one was supplied. It returns immediately; tasks run until
// Stop.
func (s *Supervisor) Start() {
	if s.canBus != nil && s.keepaliveMon != nil {
		nowMs := func() uint64 { return uint64(time.Now().UnixMilli()) }
		if err := s.canBus.Subscribe(s.keepaliveMon.Listener(nowMs)); err != nil {
			s.log.WithError(err).Warn("supervisor: subscribe keepalive listener")
		}
	}

	s.wg.Add(4)
	go s.runSerialPoll()
	go s.runCanPublish()
	go s.runCvlCompute()
	go s.runEnergySample()
}

// Stop signals every task to exit and waits for them to finish, the
// should_exit/join sequence spec.md §5 describes.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.link != nil {
		s.link.Stop()
	}
	s.wg.Wait()
}

func (s *Supervisor) runSerialPoll() {
	defer s.wg.Done()
	if s.link == nil {
		return
	}
	s.link.Run()
}

func (s *Supervisor) runCanPublish() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.canPublishInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.feedWatchdog()
			s.publishTick(now)
		}
	}
}

func (s *Supervisor) publishTick(now time.Time) {
	if s.scheduler == nil {
		return
	}
	ld := s.latest()
	if ld == nil {
		s.scheduler.Tick(now)
		return
	}
	cfg, err := s.cfgMgr.Get()
	if err != nil {
		s.log.WithError(err).Warn("supervisor: config snapshot timeout, re-using last prepared frames")
		s.scheduler.Tick(now)
		return
	}

	cvlOut := s.lastCvlOutputs()
	charged, discharged := s.energyTotals()
	ctx := BuildContext(ld, cvlOut, charged, discharged, s.keepaliveOK(), ld.UartErrors, ld.CanTxErrors, cfg)
	if err := s.scheduler.Prepare(ctx); err != nil {
		s.log.WithError(err).Warn("supervisor: prepare CAN frames")
	}
	s.scheduler.Tick(now)

	if s.keepaliveMon != nil {
		s.keepaliveMon.Tick(uint64(now.UnixMilli()))
	}
	s.updateStatsLocked()
}

func (s *Supervisor) runCvlCompute() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cvlInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.feedWatchdog()
			s.cvlTick()
		}
	}
}

func (s *Supervisor) cvlTick() {
	if s.cvlCtrl == nil {
		return
	}
	ld := s.latest()
	if ld == nil {
		return
	}
	cfg, err := s.cfgMgr.Get()
	if err != nil {
		s.log.WithError(err).Warn("supervisor: config snapshot timeout, skipping CVL cycle")
		return
	}

	in := cvl.Inputs{
		SocPercent:      ld.SocPercent,
		CellImbalanceMv: ld.CellImbalanceMv,
		MaxCellMv:       ld.MaxCellMv,
		BaseCclA:        ld.BaseChargeCurrentLimitA,
		BaseDclA:        ld.BaseDischargeCurrentLimitA,
		SeriesCellCount: registers.SeriesCellCount,
	}
	prev := s.cvlCtrl.Previous()
	out := s.cvlCtrl.Compute(in, cfg.CVL, uint64(time.Now().UnixMilli()))

	if out.State != prev && s.bus != nil {
		s.bus.Publish(eventbus.Event{ID: eventbus.EventCvlStateChanged, Payload: out})
	}

	s.statsMu.Lock()
	s.stats.Cvl = out
	s.statsMu.Unlock()
}

// runEnergySample subscribes to live-data updates and advances the
// energy integrator once per snapshot, persisting every
// energyPersistEvery samples rather than on every tick.
func (s *Supervisor) runEnergySample() {
	defer s.wg.Done()
	if s.bus == nil || s.energyCtr == nil {
		return
	}
	sub := s.bus.SubscribeNamed("energy", eventbus.DefaultQueueLength)
	defer sub.Close()
	for {
		select {
		case <-s.stopCh:
			return
		case ev := <-sub.Events:
			ld, ok := ev.Payload.(*registers.LiveData)
			if !ok {
				ev.Release()
				continue
			}
			s.energyCtr.Sample(ld.TimestampMs, ld.PackVoltageV, ld.PackCurrentA)
			s.energySamples++
			if s.energySamples%energyPersistEvery == 0 {
				if err := s.energyCtr.Persist(); err != nil {
					s.log.WithError(err).Warn("supervisor: persist energy counters")
				}
			}
			ev.Release()
		}
	}
}

func (s *Supervisor) latest() *registers.LiveData {
	if s.link == nil {
		return nil
	}
	return s.link.Latest()
}

func (s *Supervisor) keepaliveOK() bool {
	if s.keepaliveMon == nil {
		return true
	}
	return s.keepaliveMon.OK()
}

func (s *Supervisor) lastCvlOutputs() cvl.Outputs {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats.Cvl
}

func (s *Supervisor) energyTotals() (charged, discharged float64) {
	if s.energyCtr == nil {
		return 0, 0
	}
	return s.energyCtr.ChargedWh, s.energyCtr.DischargedWh
}

func (s *Supervisor) updateStatsLocked() {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	if s.link != nil {
		s.stats.Uart = s.link.Diagnostics()
	}
	if s.scheduler != nil {
		s.stats.Can = s.scheduler.Stats()
	}
	s.stats.KeepaliveOK = s.keepaliveOK()
	s.stats.ChargedWh, s.stats.DischargedWh = s.energyTotals()
}

// Stats returns a snapshot of the aggregated diagnostics block.
func (s *Supervisor) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

// feedWatchdog serialises a single Feed call through the watchdog-feed
// mutex, skipping the cycle (rather than blocking) if it cannot acquire
// it within MutexTimeout.
func (s *Supervisor) feedWatchdog() {
	if s.watchdog == nil {
		return
	}
	if !tryLockWithin(&s.wdMu, MutexTimeout) {
		s.log.Warn("supervisor: watchdog mutex timeout, skipping feed")
		return
	}
	defer s.wdMu.Unlock()
	if err := s.watchdog.Feed(); err != nil {
		s.log.WithError(err).Warn("supervisor: watchdog feed failed")
	}
}

// tryLockWithin polls mu.TryLock until it succeeds or timeout elapses,
// the same bounded-acquisition discipline gwconfig.Manager.tryLock
// applies to the config mutex, reused here for the watchdog-feed mutex.
func tryLockWithin(mu *sync.Mutex, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if mu.TryLock() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}
