// Command gateway runs the tinybms-to-Victron-CAN bridge: it polls a
// lithium BMS over a proprietary/MODBUS-compat serial link, derives a
// charge voltage limit envelope, integrates energy counters, and
// republishes everything as a Victron-dialect battery-CAN PGN set for
// an inverter ecosystem to consume.
package main

import (
	"crypto/rand"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tinybms/bridge/pkg/canbus"
	"github.com/tinybms/bridge/pkg/cvl"
	"github.com/tinybms/bridge/pkg/energy"
	"github.com/tinybms/bridge/pkg/eventbus"
	"github.com/tinybms/bridge/pkg/gwconfig"
	"github.com/tinybms/bridge/pkg/keepalive"
	"github.com/tinybms/bridge/pkg/kvstore"
	"github.com/tinybms/bridge/pkg/pgn"
	"github.com/tinybms/bridge/pkg/registers"
	"github.com/tinybms/bridge/pkg/supervisor"
	"github.com/tinybms/bridge/pkg/uartlink"
)

func main() {
	dataDir := flag.String("data-dir", "./gateway-data", "directory for the LevelDB persistence store")
	flag.Parse()

	log := logrus.NewEntry(logrus.StandardLogger())

	catalogue, err := registers.DefaultCatalogue()
	if err != nil {
		log.WithError(err).Fatal("gateway: load register catalogue")
	}

	store, err := kvstore.OpenLevelDB(*dataDir)
	if err != nil {
		log.WithError(err).Fatal("gateway: open persistence store")
	}
	defer store.Close()

	bus := eventbus.New()

	cfgMgr := gwconfig.NewManager(gwconfig.Default(), catalogue, store, bus)
	if err := cfgMgr.Restore(); err != nil {
		log.WithError(err).Warn("gateway: restore configuration, using defaults")
	}
	if err := cfgMgr.RestoreRegisters(); err != nil {
		log.WithError(err).Warn("gateway: restore register cache, using catalogue defaults")
	}
	if err := cfgMgr.EnsureAPSecret(cryptoRandFill); err != nil {
		log.WithError(err).Warn("gateway: generate AP fallback secret")
	}
	bootCount, err := cfgMgr.IncrementBootCounter()
	if err != nil {
		log.WithError(err).Warn("gateway: persist boot counter")
	}
	log.WithField("boot", bootCount).Info("gateway: starting")

	cfg, err := cfgMgr.Get()
	if err != nil {
		log.WithError(err).Fatal("gateway: read configuration")
	}
	applyLogLevel(cfg.Logging.Level, log)

	transport, err := uartlink.SerialTransport(cfg.UART.Device, uartlink.ResponseTimeoutMs*time.Millisecond)
	if err != nil {
		log.WithError(err).Fatal("gateway: open serial transport")
	}
	defer transport.Close()

	link := uartlink.NewLink(transport, catalogue, bus, log.WithField("task", "serial-poll"))
	link.SetPollInterval(int(cfg.UART.PollIntervalMs))

	canBus, err := canbus.NewBus(cfg.CAN.Interface, cfg.CAN.Channel)
	if err != nil {
		log.WithError(err).Fatal("gateway: construct CAN bus")
	}
	if err := canBus.Connect(); err != nil {
		log.WithError(err).Fatal("gateway: connect CAN bus")
	}
	defer canBus.Disconnect()

	scheduler := pgn.NewScheduler(
		pgn.StandardChannels(),
		canBus,
		bus,
		time.Duration(cfg.CAN.PublisherPeriodMs)*time.Millisecond,
		log.WithField("task", "can-publish"),
	)

	cvlCtrl := cvl.NewController()

	energyCtr := energy.NewCounters(store)
	if err := energyCtr.Restore(); err != nil {
		log.WithError(err).Warn("gateway: restore energy counters, starting from zero")
	}

	keepaliveMon := keepalive.NewMonitor(uint64(cfg.CAN.KeepaliveTimeoutMs), bus)

	sup := supervisor.New(supervisor.Config{
		Link:           link,
		Scheduler:      scheduler,
		CVLController:  cvlCtrl,
		EnergyCounters: energyCtr,
		Keepalive:      keepaliveMon,
		ConfigManager:  cfgMgr,
		CANBus:         canBus,
		Bus:            bus,
		Log:            log,
	})
	sup.Start()

	log.Info("gateway: running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info("gateway: shutting down")
	sup.Stop()
	_ = energyCtr.Persist()
}

func cryptoRandFill(buf []byte) error {
	_, err := rand.Read(buf)
	return err
}

func applyLogLevel(level string, log *logrus.Entry) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		log.WithError(err).Warn("gateway: unrecognised log level, keeping default")
		return
	}
	logrus.SetLevel(lvl)
}
