package uartlink

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	bmserrors "github.com/tinybms/bridge/errors"
	"github.com/tinybms/bridge/internal/fifo"
	"github.com/tinybms/bridge/pkg/eventbus"
	"github.com/tinybms/bridge/pkg/registers"
)

const (
	// MinPollIntervalMs and MaxPollIntervalMs bound the configurable poll
	// cadence (spec.md §4.1).
	MinPollIntervalMs = 50
	MaxPollIntervalMs = 2000

	defaultPollIntervalMs = 100

	// ResponseTimeoutMs bounds how long the link drains RX for a single
	// poll cycle's response before declaring a timeout.
	ResponseTimeoutMs = 300

	resyncBufferSize = 512
)

// PollAddresses returns the wire address list for a poll-all-registers
// request: one entry per word the catalogue will consume, so a 2-word
// (U32/F32) descriptor contributes its address twice (address,
// address+1), matching how the response payload lays out one raw word
// per list entry in catalogue order.
func PollAddresses(cat *registers.Catalogue) []uint16 {
	var addrs []uint16
	for _, d := range cat.Ordered() {
		n := d.Type.WordCount()
		for i := 0; i < n; i++ {
			addrs = append(addrs, d.Address+uint16(i))
		}
	}
	return addrs
}

// Link owns the serial transport and drives the poll loop, the
// write-with-readback command sequence, and resynchronisation, the way
// the original firmware's uart_bms task owns the UART driver handle and
// its command mutex.
type Link struct {
	transport Transport
	cat       *registers.Catalogue
	parser    *Parser
	bus       *eventbus.Bus
	log       *logrus.Entry

	resync *fifo.Fifo

	cmdMu     sync.Mutex // serializes write_register against the poll loop
	suspendMu sync.Mutex
	suspended bool

	intervalMu   sync.Mutex
	pollInterval time.Duration

	latestMu sync.RWMutex
	latest   *registers.LiveData

	pollAddresses []uint16

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewLink builds a Link bound to a transport, a register catalogue, and
// the bus it publishes LiveDataUpdated/Fault events on.
func NewLink(t Transport, cat *registers.Catalogue, bus *eventbus.Bus, log *logrus.Entry) *Link {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Link{
		transport:     t,
		cat:           cat,
		parser:        NewParser(cat),
		bus:           bus,
		log:           log,
		resync:        fifo.New(resyncBufferSize),
		pollInterval:  defaultPollIntervalMs * time.Millisecond,
		pollAddresses: PollAddresses(cat),
		stopCh:        make(chan struct{}),
	}
}

// SetPollInterval clamps and stores a new poll cadence. It takes effect
// on the next cycle boundary, never mid-cycle (spec.md §4.1).
func (l *Link) SetPollInterval(ms int) {
	if ms < MinPollIntervalMs {
		ms = MinPollIntervalMs
	}
	if ms > MaxPollIntervalMs {
		ms = MaxPollIntervalMs
	}
	l.intervalMu.Lock()
	l.pollInterval = time.Duration(ms) * time.Millisecond
	l.intervalMu.Unlock()
}

func (l *Link) interval() time.Duration {
	l.intervalMu.Lock()
	defer l.intervalMu.Unlock()
	return l.pollInterval
}

// Latest returns a clone of the most recently parsed snapshot, or nil
// before the first successful poll.
func (l *Link) Latest() *registers.LiveData {
	l.latestMu.RLock()
	defer l.latestMu.RUnlock()
	if l.latest == nil {
		return nil
	}
	return l.latest.Clone()
}

// Diagnostics exposes the parser's running frame counters.
func (l *Link) Diagnostics() Diagnostics {
	return l.parser.Diagnostics()
}

// Stop signals the poll loop to exit at the next deadline and is safe
// to call more than once.
func (l *Link) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Run drives the poll loop until Stop is called. Each cycle: build and
// transmit a poll-all-registers request, read and resynchronise a
// response frame within ResponseTimeoutMs, parse it, publish the
// resulting snapshot, and sleep until the next deadline so interval
// changes apply on the following cycle (spec.md §4.1's cooperative
// sleep_until semantics).
func (l *Link) Run() {
	deadline := time.Now()
	for {
		select {
		case <-l.stopCh:
			return
		default:
		}

		deadline = deadline.Add(l.interval())
		l.runCycle()

		sleep := time.Until(deadline)
		if sleep > 0 {
			select {
			case <-time.After(sleep):
			case <-l.stopCh:
				return
			}
		} else {
			deadline = time.Now()
		}
	}
}

func (l *Link) runCycle() {
	l.suspendMu.Lock()
	suspended := l.suspended
	l.suspendMu.Unlock()
	if suspended {
		return
	}

	req, err := BuildPollAllRegisters(l.pollAddresses)
	if err != nil {
		l.log.WithError(err).Error("uartlink: build poll request")
		return
	}
	if _, err := l.transport.Write(req); err != nil {
		l.log.WithError(err).Warn("uartlink: write poll request")
		return
	}

	frame, err := l.readFrame(ResponseTimeoutMs * time.Millisecond)
	if err != nil {
		l.log.WithError(err).Debug("uartlink: poll cycle failed")
		return
	}

	ld, err := l.parser.Parse(frame, uint64(time.Now().UnixMilli()))
	if err != nil {
		l.log.WithError(err).Debug("uartlink: parse poll response")
		return
	}

	l.latestMu.Lock()
	l.latest = ld
	l.latestMu.Unlock()

	if l.bus != nil {
		l.bus.Publish(eventbus.Event{ID: eventbus.EventLiveDataUpdated, Payload: ld.Clone()})
	}
}

// readFrame reads bytes off the transport into the resync buffer until
// a structurally valid frame is found at the current preamble
// candidate, or the timeout expires. Bytes that don't form a valid
// frame at the current position are discarded one at a time so the
// reader resynchronises on the next 0xAA preamble, per spec.md §4.1.
func (l *Link) readFrame(timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	chunk := make([]byte, 128)

	for {
		for {
			b, ok := l.resync.PeekByte(0)
			if !ok {
				break
			}
			if b != preamble {
				l.resync.Advance(1)
				continue
			}
			lenByte, ok := l.resync.PeekByte(2)
			if !ok {
				break
			}
			total := frameHeaderLen + int(lenByte) + frameCrcLen
			if l.resync.Occupied() < total {
				break
			}
			frame := make([]byte, total)
			// PeekByte-based extraction avoids destroying data on a CRC
			// miss so the scanner can still advance by one and retry.
			complete := true
			for i := 0; i < total; i++ {
				fb, ok := l.resync.PeekByte(i)
				if !ok {
					complete = false
					break
				}
				frame[i] = fb
			}
			if !complete {
				break
			}
			l.resync.Advance(total)
			if _, err := ParseHeader(frame); err != nil {
				l.log.WithError(err).Debug("uartlink: discarding invalid frame, resyncing")
				continue
			}
			return frame, nil
		}

		if time.Now().After(deadline) {
			return nil, bmserrors.ErrTimeout
		}

		n, err := l.transport.Read(chunk)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			l.resync.Write(chunk[:n], nil)
		}
	}
}

// WriteRegister sequences a full write-with-readback exchange: acquire
// the command mutex, suspend the poll loop, flush stale RX, send the
// write frame, wait for ACK/NACK, then issue a confirming read. On any
// failure the caller gets back the value it originally requested
// (spec.md §4.1).
func (l *Link) WriteRegister(address uint16, raw uint16, timeout time.Duration) (uint16, error) {
	l.cmdMu.Lock()
	defer l.cmdMu.Unlock()

	l.suspendMu.Lock()
	l.suspended = true
	l.suspendMu.Unlock()
	defer func() {
		l.suspendMu.Lock()
		l.suspended = false
		l.suspendMu.Unlock()
	}()

	_ = l.transport.Flush()
	l.resync.Reset()

	req, err := BuildWriteSingle(address, raw)
	if err != nil {
		return raw, err
	}
	if _, err := l.transport.Write(req); err != nil {
		return raw, err
	}

	ackFrame, err := l.readFrame(timeout)
	if err != nil {
		return raw, err
	}
	h, err := ParseHeader(ackFrame)
	if err != nil {
		return raw, err
	}
	switch h.Opcode {
	case OpAck:
	case OpNack:
		payload := Payload(ackFrame, h)
		code := byte(0)
		if len(payload) > 0 {
			code = payload[0]
		}
		return raw, &bmserrors.RemoteNackError{Code: code}
	default:
		return raw, bmserrors.ErrUnexpectedOpcode
	}

	readReq, err := BuildReadSingle(address)
	if err != nil {
		return raw, err
	}
	if _, err := l.transport.Write(readReq); err != nil {
		return raw, err
	}
	readFrame, err := l.readFrame(timeout)
	if err != nil {
		return raw, err
	}
	rh, err := ParseHeader(readFrame)
	if err != nil {
		return raw, err
	}
	rp := Payload(readFrame, rh)
	if len(rp) < 4 {
		return raw, bmserrors.ErrInvalidLength
	}
	readback := uint16(rp[2]) | uint16(rp[3])<<8
	return readback, nil
}
