// Package acquire implements the acquisition state machine that talks to the
// oscilloscope over its request-reply byte protocol.
//
// The device never frames its replies, so the machine is length driven: each
// state knows how many bytes it is waiting for.  The machine performs no I/O
// of its own and owns no goroutines or timers.  Byte chunks are fed in with
// Receive, timer expirations with Expire, and everything it wants done
// (writes, timers, events) goes out through an Effects.  This keeps the whole
// protocol testable with a scripted byte stream and a hand-cranked clock.
package acquire

import (
	"errors"
	"fmt"
	"time"

	"github.com/nasa-jpl/scopehost/codec"
	"github.com/nasa-jpl/scopehost/oscilloscope"
	"github.com/nasa-jpl/scopehost/trigger"
)

const (
	// StateTimeout bounds every non-idle state
	StateTimeout = 5 * time.Second

	// SetupGap separates the frames of the setup sequence
	SetupGap = 50 * time.Millisecond

	// SettleDelay is waited after the capture ack before requesting data
	SettleDelay = 100 * time.Millisecond

	// SetupSteps is the number of frames in the setup sequence
	SetupSteps = 7
)

// ErrAcquisitionInProgress is returned by Start when a capture is in flight
var ErrAcquisitionInProgress = errors.New("acquisition in progress")

// State is the state of the machine
type State int

const (
	// Idle waits for Start
	Idle State = iota
	// Configuring is sending the setup sequence
	Configuring
	// ArmPending waits out the settle delay after the capture ack
	ArmPending
	// AwaitCapture waits for the one byte capture ack
	AwaitCapture
	// AwaitCh1 waits for channel 1 data
	AwaitCh1
	// AwaitCh2 waits for channel 2 data
	AwaitCh2
	// Complete has a frame ready, it passes straight back to Idle
	Complete
	// Failed saw a port error, it passes straight back to Idle
	Failed
)

var stateNames = [...]string{"Idle", "Configuring", "ArmPending", "AwaitCapture", "AwaitCh1", "AwaitCh2", "Complete", "Failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Timer identifies one of the machine's timers
type Timer int

const (
	// StateTimer is the per-state timeout
	StateTimer Timer = iota
	// PaceTimer spaces the setup sequence
	PaceTimer
	// SettleTimer is the post-ack delay
	SettleTimer
)

func (t Timer) String() string {
	switch t {
	case StateTimer:
		return "state"
	case PaceTimer:
		return "pace"
	case SettleTimer:
		return "settle"
	}
	return fmt.Sprintf("Timer(%d)", int(t))
}

// TimeoutError is emitted when a state's expected bytes do not arrive in time
type TimeoutError struct {
	State State
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %v in state %s", StateTimeout, e.State)
}

// PortIOError wraps a write failure or disconnect
type PortIOError struct {
	Op    string
	State State
	Err   error
}

func (e *PortIOError) Error() string {
	return fmt.Sprintf("port %s failed in state %s: %v", e.Op, e.State, e.Err)
}

// Unwrap returns the underlying port error
func (e *PortIOError) Unwrap() error { return e.Err }

// Frame is one raw capture
type Frame struct {
	// Seq increases by one with each frame the machine emits
	Seq uint64

	// CH1 and CH2 are the raw ADC codes.  One is empty in single channel modes.
	CH1, CH2 []byte

	// Config is the snapshot taken at Start
	Config oscilloscope.Config
}

// EventKind classifies events
type EventKind int

const (
	// EventFrame carries a completed Frame
	EventFrame EventKind = iota
	// EventTimeout carries a *TimeoutError
	EventTimeout
	// EventPortError carries a *PortIOError
	EventPortError
)

// Event is emitted through Effects.Emit
type Event struct {
	Kind  EventKind
	Frame *Frame
	Err   error
}

// Effects is everything the machine asks of the outside world.
//
// Arm starts (or restarts) the named timer; when it fires the owner calls
// Expire with the same Timer.  Disarm cancels it.  A timer that fires after
// being disarmed must not be delivered.
type Effects interface {
	Write(b []byte) error
	Arm(t Timer, d time.Duration)
	Disarm(t Timer)
	Emit(ev Event)
}

// Machine is the acquisition state machine.  It is not safe for concurrent
// use; the owner serializes every call.
type Machine struct {
	fx    Effects
	state State

	// setup sequence and position within it
	setup []codec.Frame
	step  int

	cfg  oscilloscope.Config
	rx   []byte
	need int
	ch1  []byte
	seq  uint64
}

// New returns an idle machine
func New(fx Effects) *Machine {
	return &Machine{fx: fx, rx: make([]byte, 0, 2*codec.ReplySingle)}
}

// State returns the current state
func (m *Machine) State() State { return m.state }

// Step is the index of the last setup frame sent while Configuring
func (m *Machine) Step() int { return m.step }

// Busy is true while a capture is in flight
func (m *Machine) Busy() bool { return m.state != Idle }

// Pending is the number of bytes the current state still needs
func (m *Machine) Pending() int {
	switch m.state {
	case AwaitCapture, AwaitCh1, AwaitCh2:
		if d := m.need - len(m.rx); d > 0 {
			return d
		}
	}
	return 0
}

// SetupSequence returns the seven frames sent before a capture:
// offsets, trigger source, polarity, level, mode, sample rate
func SetupSequence(cfg oscilloscope.Config) []codec.Frame {
	code := trigger.DeviceCode(cfg.TrigLevel, float64(cfg.TriggerGain()))
	return []codec.Frame{
		codec.Offset(0, cfg.CH1Offset),
		codec.Offset(1, cfg.CH2Offset),
		codec.TrigSource(byte(cfg.TrigSource)),
		codec.TrigPolarity(byte(cfg.TrigPolarity)),
		codec.TrigLevel(code),
		codec.Mode(byte(cfg.Mode)),
		codec.SampleRate(byte(cfg.SampleRate)),
	}
}

// Start begins a capture under cfg.  cfg is copied; later changes by the
// caller do not affect the capture.
func (m *Machine) Start(cfg oscilloscope.Config) error {
	if m.state != Idle {
		return ErrAcquisitionInProgress
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.cfg = cfg
	m.setup = SetupSequence(cfg)
	m.step = 0
	m.rx = m.rx[:0]
	m.ch1 = nil
	m.enter(Configuring)
	if err := m.write("setup", m.setup[0].Bytes()); err != nil {
		return err
	}
	m.fx.Arm(PaceTimer, SetupGap)
	return nil
}

// Receive feeds bytes read from the port.  Bytes that arrive while the
// machine is not waiting for data are dropped.
func (m *Machine) Receive(b []byte) {
	switch m.state {
	case AwaitCapture, AwaitCh1, AwaitCh2:
		m.rx = append(m.rx, b...)
		m.advance()
	}
}

// Expire delivers a timer expiration.  Expirations that do not apply to the
// current state are ignored.
func (m *Machine) Expire(t Timer) {
	switch t {
	case StateTimer:
		switch m.state {
		case Idle, Complete:
			return
		}
		st := m.state
		m.reset()
		m.fx.Emit(Event{Kind: EventTimeout, Err: &TimeoutError{State: st}})
	case PaceTimer:
		if m.state != Configuring {
			return
		}
		m.step++
		if m.step < SetupSteps {
			if m.write("setup", m.setup[m.step].Bytes()) != nil {
				return
			}
			m.enter(Configuring)
			m.fx.Arm(PaceTimer, SetupGap)
			return
		}
		if m.write("capture", codec.Capture().Bytes()) != nil {
			return
		}
		m.need = codec.ReplyAck
		m.enter(AwaitCapture)
	case SettleTimer:
		if m.state != ArmPending {
			return
		}
		m.rx = m.rx[:0]
		var (
			sel  byte
			next State
		)
		switch m.cfg.Mode {
		case oscilloscope.CH1Only:
			sel, next = codec.ReadCH1, AwaitCh1
		case oscilloscope.CH2Only:
			sel, next = codec.ReadCH2, AwaitCh2
		default:
			sel, next = codec.ReadBoth, AwaitCh1
		}
		if m.write("read", codec.Read(sel).Bytes()) != nil {
			return
		}
		m.need = codec.ReadLength(sel)
		m.enter(next)
	}
}

// Abort sends the abort frame and forces the machine back to Idle,
// dropping anything buffered
func (m *Machine) Abort() error {
	st := m.state
	err := m.fx.Write(codec.Abort().Bytes())
	m.reset()
	if err != nil {
		return &PortIOError{Op: "abort", State: st, Err: err}
	}
	return nil
}

// Fail reports a port failure detected outside the machine, such as a
// read error or disconnect.  The machine returns to Idle.
func (m *Machine) Fail(err error) {
	m.fail("read", err)
}

func (m *Machine) enter(s State) {
	m.state = s
	m.fx.Arm(StateTimer, StateTimeout)
}

func (m *Machine) reset() {
	m.fx.Disarm(StateTimer)
	m.fx.Disarm(PaceTimer)
	m.fx.Disarm(SettleTimer)
	m.rx = m.rx[:0]
	m.ch1 = nil
	m.need = 0
	m.state = Idle
}

func (m *Machine) fail(op string, err error) *PortIOError {
	pe := &PortIOError{Op: op, State: m.state, Err: err}
	m.state = Failed
	m.reset()
	m.fx.Emit(Event{Kind: EventPortError, Err: pe})
	return pe
}

func (m *Machine) write(op string, b []byte) error {
	if err := m.fx.Write(b); err != nil {
		return m.fail(op, err)
	}
	return nil
}

func (m *Machine) take() []byte {
	out := make([]byte, m.need)
	copy(out, m.rx)
	m.rx = append(m.rx[:0], m.rx[m.need:]...)
	return out
}

func (m *Machine) advance() {
	for {
		switch m.state {
		case AwaitCapture:
			if len(m.rx) < m.need {
				return
			}
			// any ack value is accepted, only arrival matters
			m.rx = m.rx[:0]
			m.enter(ArmPending)
			m.fx.Arm(SettleTimer, SettleDelay)
			return
		case AwaitCh1:
			if len(m.rx) < m.need {
				return
			}
			m.ch1 = m.take()
			if !m.cfg.Mode.Dual() {
				m.complete(m.ch1, nil)
				return
			}
			if m.write("read", codec.Read(codec.ReadCH2Pair).Bytes()) != nil {
				return
			}
			m.need = codec.ReadLength(codec.ReadCH2Pair)
			m.enter(AwaitCh2)
		case AwaitCh2:
			if len(m.rx) < m.need {
				return
			}
			m.complete(m.ch1, m.take())
			return
		default:
			return
		}
	}
}

func (m *Machine) complete(ch1, ch2 []byte) {
	m.seq++
	f := &Frame{Seq: m.seq, CH1: ch1, CH2: ch2, Config: m.cfg}
	m.state = Complete
	m.reset()
	m.fx.Emit(Event{Kind: EventFrame, Frame: f})
}
