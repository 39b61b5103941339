package pgn

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tinybms/bridge/pkg/canbus"
	"github.com/tinybms/bridge/pkg/eventbus"
)

// Stats accumulates the transmission counters spec.md §4.2 names,
// refreshed from the CAN driver after every send attempt.
type Stats struct {
	TxSuccess    uint64
	TxErrors     uint64
	RxErrors     uint64
	BusOffEvents uint64
	RxDropped    uint64
}

// Scheduler owns the channel catalogue, the last compiled frame per
// channel ("prepared"), and each channel's next-send deadline. Compile
// is pure; Scheduler.transmit is the only side-effecting half, mirroring
// the teacher library's pdo.go/tpdo.go split.
type Scheduler struct {
	bus           canbus.Bus
	events        *eventbus.Bus
	log           *logrus.Entry
	defaultPeriod time.Duration

	mu        sync.Mutex
	channels  []Channel
	prepared  map[uint32][8]byte
	deadlines map[uint32]time.Time
	stats     Stats
}

// NewScheduler builds a scheduler over the given channel set.
func NewScheduler(channels []Channel, bus canbus.Bus, events *eventbus.Bus, defaultPeriod time.Duration, log *logrus.Entry) *Scheduler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Scheduler{
		bus:           bus,
		events:        events,
		log:           log,
		defaultPeriod: defaultPeriod,
		channels:      channels,
		prepared:      make(map[uint32][8]byte),
		deadlines:     make(map[uint32]time.Time),
	}
	now := time.Now()
	for _, c := range s.channels {
		s.deadlines[c.ID] = now
	}
	return s
}

func (s *Scheduler) period(c Channel) time.Duration {
	if c.PeriodMs > 0 {
		return time.Duration(c.PeriodMs) * time.Millisecond
	}
	return s.defaultPeriod
}

// Prepare recompiles every channel's payload from ctx and caches it as
// the "last valid prepared frame" periodic mode re-sends. It never
// transmits.
func (s *Scheduler) Prepare(ctx Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.channels {
		frame, err := Compile(c.Fields, ctx)
		if err != nil {
			s.log.WithError(err).WithField("channel", c.Name).Error("pgn: compile failed, keeping previous frame")
			continue
		}
		s.prepared[c.ID] = frame
	}
	return nil
}

// EmitImmediate recompiles every channel and transmits it right away,
// the publisher's immediate mode (emit on each new live-data snapshot).
func (s *Scheduler) EmitImmediate(ctx Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, c := range s.channels {
		frame, err := Compile(c.Fields, ctx)
		if err != nil {
			s.log.WithError(err).WithField("channel", c.Name).Error("pgn: compile failed")
			continue
		}
		s.prepared[c.ID] = frame
		s.transmitLocked(c, frame)
		s.deadlines[c.ID] = now.Add(s.period(c))
	}
}

// Tick transmits every channel whose deadline has elapsed, using its
// last prepared frame (periodic mode never recompiles mid-cycle — it
// re-sends whatever Prepare most recently cached).
func (s *Scheduler) Tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.channels {
		deadline, ok := s.deadlines[c.ID]
		if !ok || !now.Before(deadline) {
			frame, ok := s.prepared[c.ID]
			if ok {
				s.transmitLocked(c, frame)
			}
			s.deadlines[c.ID] = now.Add(s.period(c))
		}
	}
}

func (s *Scheduler) transmitLocked(c Channel, frame [8]byte) {
	f := canbus.NewFrame(c.ID, c.DLC)
	f.Data = frame
	if s.bus == nil {
		return
	}
	if err := s.bus.Send(f); err != nil {
		s.stats.TxErrors++
		if s.events != nil {
			s.events.Publish(eventbus.Event{ID: eventbus.EventFault, Payload: eventbus.AlarmRaised{
				Code:     eventbus.AlarmCanTxError,
				Severity: eventbus.SeverityWarning,
				Value:    int64(c.ID),
			}})
		}
		return
	}
	s.stats.TxSuccess++
}

// Stats returns a snapshot of the running transmission counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
