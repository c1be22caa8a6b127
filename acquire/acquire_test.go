package acquire

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/nasa-jpl/scopehost/codec"
	"github.com/nasa-jpl/scopehost/oscilloscope"
)

// fakeFx records writes and events and lets the test fire timers by hand
type fakeFx struct {
	writes   [][]byte
	armed    map[Timer]time.Duration
	events   []Event
	writeErr error
}

func newFake() *fakeFx {
	return &fakeFx{armed: make(map[Timer]time.Duration)}
}

func (f *fakeFx) Write(b []byte) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, append([]byte(nil), b...))
	return nil
}

func (f *fakeFx) Arm(t Timer, d time.Duration) { f.armed[t] = d }
func (f *fakeFx) Disarm(t Timer)               { delete(f.armed, t) }
func (f *fakeFx) Emit(ev Event)                { f.events = append(f.events, ev) }

func (f *fakeFx) fire(t *testing.T, m *Machine, tm Timer) {
	t.Helper()
	if _, ok := f.armed[tm]; !ok {
		t.Fatalf("fired %s timer which was not armed (state %s)", tm, m.State())
	}
	delete(f.armed, tm)
	m.Expire(tm)
}

func (f *fakeFx) last() []byte {
	return f.writes[len(f.writes)-1]
}

func sawtooth(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = 0x80 + byte(i*127/(n-1))
	}
	return out
}

func config(mode oscilloscope.Mode, rate int) oscilloscope.Config {
	c := oscilloscope.DefaultConfig()
	c.Mode = mode
	c.SampleRate = rate
	return c
}

// runToCapture starts the machine and cranks the pace timer through the setup sequence
func runToCapture(t *testing.T, m *Machine, f *fakeFx, cfg oscilloscope.Config) {
	t.Helper()
	if err := m.Start(cfg); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < SetupSteps; i++ {
		if f.armed[PaceTimer] != SetupGap {
			t.Fatalf("step %d: pace timer not armed for %v", i, SetupGap)
		}
		f.fire(t, m, PaceTimer)
	}
	if m.State() != AwaitCapture {
		t.Fatalf("expected AwaitCapture after setup, got %s", m.State())
	}
}

func TestSetupSequenceOrder(t *testing.T) {
	f := newFake()
	m := New(f)
	cfg := config(oscilloscope.BothChannels, 4)
	cfg.CH1Offset = -20
	cfg.TrigSource = oscilloscope.TrigCH1
	runToCapture(t, m, f, cfg)
	ops := make([]codec.Opcode, len(f.writes))
	for i, w := range f.writes {
		ops[i] = codec.Opcode(w[0])
	}
	expected := []codec.Opcode{
		codec.OpOffsetCH1, codec.OpOffsetCH2, codec.OpTrigSource, codec.OpTrigPolarity,
		codec.OpTrigLevel, codec.OpMode, codec.OpSampleRate, codec.OpCapture,
	}
	if diff := cmp.Diff(expected, ops); diff != "" {
		t.Errorf("setup order mismatch (-want +got):\n%s", diff)
	}
	if codec.OffsetValue(codec.Frame{f.writes[0][0], f.writes[0][1], f.writes[0][2]}) != -20 {
		t.Error("CH1 offset not carried in the first frame")
	}
	if f.writes[6][1] != 4 || f.writes[5][1] != 1 || f.writes[2][1] != 1 {
		t.Errorf("unexpected rate/mode/source bytes %v %v %v", f.writes[6], f.writes[5], f.writes[2])
	}
	if f.armed[StateTimer] != StateTimeout {
		t.Error("state timeout not armed in AwaitCapture")
	}
}

// S1
func TestDualCaptureHappyPath(t *testing.T) {
	f := newFake()
	m := New(f)
	runToCapture(t, m, f, config(oscilloscope.BothChannels, 4))

	m.Receive([]byte{0x06})
	if m.State() != ArmPending {
		t.Fatalf("expected ArmPending after ack, got %s", m.State())
	}
	if f.armed[SettleTimer] != SettleDelay {
		t.Fatal("settle delay not armed")
	}
	f.fire(t, m, SettleTimer)
	if diff := cmp.Diff([]byte{'D', 1, 0}, f.last()); diff != "" {
		t.Fatalf("expected D,1,0 (-want +got):\n%s", diff)
	}
	saw := sawtooth(200)
	m.Receive(saw)
	if diff := cmp.Diff([]byte{'D', 3, 0}, f.last()); diff != "" {
		t.Fatalf("expected D,3,0 (-want +got):\n%s", diff)
	}
	if m.State() != AwaitCh2 {
		t.Fatalf("expected AwaitCh2, got %s", m.State())
	}
	m.Receive(saw)

	if len(f.events) != 1 || f.events[0].Kind != EventFrame {
		t.Fatalf("expected one frame event, got %+v", f.events)
	}
	fr := f.events[0].Frame
	if len(fr.CH1) != 200 || len(fr.CH2) != 200 {
		t.Fatalf("expected 200/200 samples, got %d/%d", len(fr.CH1), len(fr.CH2))
	}
	if fr.CH1[0] != 0x80 || fr.CH1[199] != 0xFF {
		t.Errorf("expected ch1 0x80..0xFF, got 0x%02X..0x%02X", fr.CH1[0], fr.CH1[199])
	}
	if fr.Seq != 1 || fr.Config.SampleRate != 4 {
		t.Errorf("unexpected frame metadata seq=%d rate=%d", fr.Seq, fr.Config.SampleRate)
	}
	if len(f.armed) != 0 {
		t.Errorf("expected no pending timers, got %v", f.armed)
	}
	if m.State() != Idle {
		t.Errorf("expected Idle after completion, got %s", m.State())
	}
}

// S2
func TestTimeoutReturnsToIdle(t *testing.T) {
	f := newFake()
	m := New(f)
	cfg := config(oscilloscope.BothChannels, 4)
	runToCapture(t, m, f, cfg)
	f.fire(t, m, StateTimer)

	if len(f.events) != 1 || f.events[0].Kind != EventTimeout {
		t.Fatalf("expected a timeout event, got %+v", f.events)
	}
	var te *TimeoutError
	if !errors.As(f.events[0].Err, &te) || te.State != AwaitCapture {
		t.Errorf("expected TimeoutError{AwaitCapture}, got %v", f.events[0].Err)
	}
	if m.State() != Idle {
		t.Errorf("expected Idle after timeout, got %s", m.State())
	}
	if err := m.Start(cfg); err != nil {
		t.Errorf("expected a fresh start to succeed, got %v", err)
	}
}

// S3
func TestCH2OnlyUsesD4(t *testing.T) {
	f := newFake()
	m := New(f)
	runToCapture(t, m, f, config(oscilloscope.CH2Only, 8))
	m.Receive([]byte{'D'})
	f.fire(t, m, SettleTimer)
	if diff := cmp.Diff([]byte{'D', 4, 0}, f.last()); diff != "" {
		t.Fatalf("expected D,4,0 (-want +got):\n%s", diff)
	}
	if m.State() != AwaitCh2 {
		t.Fatalf("expected AwaitCh2, got %s", m.State())
	}
	m.Receive(make([]byte, 400))
	for _, w := range f.writes {
		if w[0] == 'D' && (w[1] == 1 || w[1] == 3) {
			t.Errorf("CH2-only capture sent %v", w)
		}
	}
	fr := f.events[0].Frame
	if len(fr.CH1) != 0 || len(fr.CH2) != 400 {
		t.Errorf("expected 0/400 samples, got %d/%d", len(fr.CH1), len(fr.CH2))
	}
}

func TestCH1OnlyUsesD2(t *testing.T) {
	f := newFake()
	m := New(f)
	runToCapture(t, m, f, config(oscilloscope.CH1Only, 2))
	m.Receive([]byte{0})
	f.fire(t, m, SettleTimer)
	if diff := cmp.Diff([]byte{'D', 2, 0}, f.last()); diff != "" {
		t.Fatalf("expected D,2,0 (-want +got):\n%s", diff)
	}
	m.Receive(make([]byte, 399))
	if len(f.events) != 0 {
		t.Fatal("frame emitted before all 400 bytes arrived")
	}
	m.Receive([]byte{7})
	fr := f.events[0].Frame
	if len(fr.CH1) != 400 || len(fr.CH2) != 0 || fr.CH1[399] != 7 {
		t.Errorf("unexpected frame %d/%d", len(fr.CH1), len(fr.CH2))
	}
}

func TestEveryModeAndRateYieldsOneFrame(t *testing.T) {
	for _, mode := range []oscilloscope.Mode{oscilloscope.BothChannels, oscilloscope.CH1Only, oscilloscope.CH2Only} {
		for rate := 1; rate <= len(oscilloscope.Rates); rate++ {
			f := newFake()
			m := New(f)
			runToCapture(t, m, f, config(mode, rate))
			m.Receive([]byte{0x06})
			f.fire(t, m, SettleTimer)
			// trickle the data in small chunks
			for m.State() == AwaitCh1 || m.State() == AwaitCh2 {
				m.Receive(make([]byte, 7))
			}
			if len(f.events) != 1 || f.events[0].Kind != EventFrame {
				t.Fatalf("mode %s rate %d: expected exactly one frame, got %+v", mode, rate, f.events)
			}
			fr := f.events[0].Frame
			n := mode.Length()
			switch mode {
			case oscilloscope.BothChannels:
				if len(fr.CH1) != n || len(fr.CH2) != n {
					t.Errorf("mode %s: got %d/%d", mode, len(fr.CH1), len(fr.CH2))
				}
			case oscilloscope.CH1Only:
				if len(fr.CH1) != n || len(fr.CH2) != 0 {
					t.Errorf("mode %s: got %d/%d", mode, len(fr.CH1), len(fr.CH2))
				}
			case oscilloscope.CH2Only:
				if len(fr.CH1) != 0 || len(fr.CH2) != n {
					t.Errorf("mode %s: got %d/%d", mode, len(fr.CH1), len(fr.CH2))
				}
			}
		}
	}
}

func TestSecondStartRejectedInEveryState(t *testing.T) {
	cfg := config(oscilloscope.BothChannels, 4)
	drive := map[State]func(t *testing.T, m *Machine, f *fakeFx){
		Configuring: func(t *testing.T, m *Machine, f *fakeFx) {
			if err := m.Start(cfg); err != nil {
				t.Fatal(err)
			}
		},
		AwaitCapture: func(t *testing.T, m *Machine, f *fakeFx) {
			runToCapture(t, m, f, cfg)
		},
		ArmPending: func(t *testing.T, m *Machine, f *fakeFx) {
			runToCapture(t, m, f, cfg)
			m.Receive([]byte{1})
		},
		AwaitCh1: func(t *testing.T, m *Machine, f *fakeFx) {
			runToCapture(t, m, f, cfg)
			m.Receive([]byte{1})
			f.fire(t, m, SettleTimer)
		},
		AwaitCh2: func(t *testing.T, m *Machine, f *fakeFx) {
			runToCapture(t, m, f, cfg)
			m.Receive([]byte{1})
			f.fire(t, m, SettleTimer)
			m.Receive(make([]byte, 200))
		},
	}
	for st, fn := range drive {
		f := newFake()
		m := New(f)
		fn(t, m, f)
		if m.State() != st {
			t.Fatalf("driver for %s left machine in %s", st, m.State())
		}
		n := len(f.writes)
		if err := m.Start(cfg); err != ErrAcquisitionInProgress {
			t.Errorf("%s: expected ErrAcquisitionInProgress, got %v", st, err)
		}
		if len(f.writes) != n {
			t.Errorf("%s: rejected start wrote %d bytes", st, len(f.writes)-n)
		}
		if m.State() != st {
			t.Errorf("%s: rejected start changed state to %s", st, m.State())
		}
	}
}

func TestTimeoutInEveryWaitingState(t *testing.T) {
	cfg := config(oscilloscope.BothChannels, 4)
	f := newFake()
	m := New(f)
	if err := m.Start(cfg); err != nil {
		t.Fatal(err)
	}
	f.fire(t, m, StateTimer)
	var te *TimeoutError
	if !errors.As(f.events[0].Err, &te) || te.State != Configuring {
		t.Errorf("expected TimeoutError{Configuring}, got %v", f.events[0].Err)
	}
	if _, ok := f.armed[PaceTimer]; ok {
		t.Error("pace timer left armed after timeout")
	}

	f = newFake()
	m = New(f)
	runToCapture(t, m, f, cfg)
	m.Receive([]byte{1})
	f.fire(t, m, SettleTimer)
	m.Receive(make([]byte, 50))
	f.fire(t, m, StateTimer)
	if !errors.As(f.events[0].Err, &te) || te.State != AwaitCh1 {
		t.Errorf("expected TimeoutError{AwaitCh1}, got %v", f.events[0].Err)
	}
	if m.Pending() != 0 {
		t.Error("buffer not cleared after timeout")
	}
}

func TestBytesRearmStateTimer(t *testing.T) {
	f := newFake()
	m := New(f)
	runToCapture(t, m, f, config(oscilloscope.BothChannels, 4))
	m.Receive([]byte{1})
	f.fire(t, m, SettleTimer)
	delete(f.armed, StateTimer)
	m.Receive(make([]byte, 200))
	if f.armed[StateTimer] != StateTimeout {
		t.Error("transition to AwaitCh2 did not rearm the state timeout")
	}
}

func TestStaleTimersIgnored(t *testing.T) {
	f := newFake()
	m := New(f)
	m.Expire(StateTimer)
	m.Expire(PaceTimer)
	m.Expire(SettleTimer)
	if len(f.writes) != 0 || len(f.events) != 0 || m.State() != Idle {
		t.Error("timers fired in Idle must do nothing")
	}
}

func TestIdleDropsBytes(t *testing.T) {
	f := newFake()
	m := New(f)
	m.Receive([]byte{1, 2, 3})
	runToCapture(t, m, f, config(oscilloscope.BothChannels, 4))
	if m.Pending() != 1 {
		t.Errorf("expected to still need the ack, pending=%d", m.Pending())
	}
}

func TestAbort(t *testing.T) {
	f := newFake()
	m := New(f)
	runToCapture(t, m, f, config(oscilloscope.BothChannels, 4))
	m.Receive([]byte{1})
	f.fire(t, m, SettleTimer)
	m.Receive(make([]byte, 10))
	if err := m.Abort(); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{'A', 0, 0}, f.last()); diff != "" {
		t.Errorf("expected abort frame (-want +got):\n%s", diff)
	}
	if m.State() != Idle || len(f.armed) != 0 || m.Pending() != 0 {
		t.Errorf("abort left state=%s timers=%v", m.State(), f.armed)
	}
}

func TestWriteFailureSurfaces(t *testing.T) {
	f := newFake()
	m := New(f)
	boom := errors.New("unplugged")
	if err := m.Start(config(oscilloscope.BothChannels, 4)); err != nil {
		t.Fatal(err)
	}
	f.writeErr = boom
	f.fire(t, m, PaceTimer)
	if m.State() != Idle {
		t.Errorf("expected Idle after write failure, got %s", m.State())
	}
	if len(f.events) != 1 || f.events[0].Kind != EventPortError || !errors.Is(f.events[0].Err, boom) {
		t.Errorf("expected a port error event wrapping the cause, got %+v", f.events)
	}
	var pe *PortIOError
	if !errors.As(f.events[0].Err, &pe) || pe.State != Configuring {
		t.Errorf("expected PortIOError in Configuring, got %v", f.events[0].Err)
	}
}

func TestStartWriteFailure(t *testing.T) {
	f := newFake()
	f.writeErr = errors.New("gone")
	m := New(f)
	err := m.Start(config(oscilloscope.BothChannels, 4))
	var pe *PortIOError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PortIOError, got %v", err)
	}
	if m.State() != Idle {
		t.Errorf("expected Idle, got %s", m.State())
	}
}

func TestInvalidConfigRejected(t *testing.T) {
	f := newFake()
	m := New(f)
	cfg := config(oscilloscope.BothChannels, 99)
	if err := m.Start(cfg); !errors.Is(err, oscilloscope.ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter, got %v", err)
	}
	if len(f.writes) != 0 {
		t.Error("invalid config reached the device")
	}
}

func TestSequenceNumbersIncrease(t *testing.T) {
	f := newFake()
	m := New(f)
	for i := 1; i <= 3; i++ {
		runToCapture(t, m, f, config(oscilloscope.CH1Only, 4))
		m.Receive([]byte{1})
		f.fire(t, m, SettleTimer)
		m.Receive(make([]byte, 400))
		if got := f.events[len(f.events)-1].Frame.Seq; got != uint64(i) {
			t.Errorf("expected seq %d got %d", i, got)
		}
	}
}
