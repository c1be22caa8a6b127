// Package sweep measures a Bode response by stepping the DDS output through a
// logarithmic frequency grid and capturing the input (CH1) and output (CH2)
// of the device under test at each step.
//
// The Sweeper is a state machine driven by its owner's event loop: the owner
// performs the I/O it asks for through a Driver and feeds back timer
// expirations and capture results.  Cancellation is a flag checked each time
// the sweeper is re-entered.
package sweep

import (
	"errors"
	"fmt"
	"time"

	"github.com/nasa-jpl/scopehost/mathx"
	"github.com/nasa-jpl/scopehost/oscilloscope"
	"github.com/nasa-jpl/scopehost/util"
)

const (
	// MinFrequency and MaxFrequency bound the sweep endpoints
	MinFrequency = 10
	MaxFrequency = 20000

	// MinPoints and MaxPoints bound the grid size
	MinPoints = 10
	MaxPoints = 1000

	// MinDelay and MaxDelay bound the per-step delay
	MinDelay = 100 * time.Millisecond
	MaxDelay = 1000 * time.Millisecond

	// MinSettle is the shortest settle time after reprogramming the DDS
	MinSettle = 50 * time.Millisecond

	// SettleCycles is the number of output cycles waited before capturing
	SettleCycles = 3

	// Oversample is the minimum ratio of sample rate to frequency
	Oversample = 9

	// MaxRetries is how many times a timed out capture is retried before the
	// point is recorded empty
	MaxRetries = 2
)

// ErrAborted is returned with the partial result of a canceled sweep
var ErrAborted = errors.New("sweep aborted")

// ErrBusy is returned by Begin while a sweep is running
var ErrBusy = errors.New("sweep already running")

// Params describe a sweep
type Params struct {
	Start  float64       `json:"start"`
	End    float64       `json:"end"`
	Points int           `json:"points"`
	Delay  time.Duration `json:"delay"`
}

// Validate checks every field against its domain
func (p Params) Validate() error {
	if p.Start < MinFrequency || p.Start > MaxFrequency {
		return fmt.Errorf("%w: start %v Hz not in [%d,%d]", oscilloscope.ErrInvalidParameter, p.Start, MinFrequency, MaxFrequency)
	}
	if p.End < MinFrequency || p.End > MaxFrequency {
		return fmt.Errorf("%w: end %v Hz not in [%d,%d]", oscilloscope.ErrInvalidParameter, p.End, MinFrequency, MaxFrequency)
	}
	if p.Points < MinPoints || p.Points > MaxPoints {
		return fmt.Errorf("%w: %d points not in [%d,%d]", oscilloscope.ErrInvalidParameter, p.Points, MinPoints, MaxPoints)
	}
	if p.Delay < MinDelay || p.Delay > MaxDelay {
		return fmt.Errorf("%w: delay %v not in [%v,%v]", oscilloscope.ErrInvalidParameter, p.Delay, MinDelay, MaxDelay)
	}
	return nil
}

// Grid returns the log-spaced frequencies of the sweep
func (p Params) Grid() []float64 {
	return mathx.Log10Space(p.Start, p.End, p.Points)
}

// SampleRateFor returns the index of the slowest sample rate faster than
// Oversample*f, or the fastest rate if none is
func SampleRateFor(f float64) int {
	for i := len(oscilloscope.Rates) - 1; i >= 0; i-- {
		if oscilloscope.Rates[i].PerSecond > Oversample*f {
			return oscilloscope.Rates[i].Index
		}
	}
	return oscilloscope.Rates[0].Index
}

// SettleTime is max(MinSettle, SettleCycles/f)
func SettleTime(f float64) time.Duration {
	return util.MaxDuration(MinSettle, util.SecsToDuration(SettleCycles/f))
}

// Driver performs the sweeper's side effects
type Driver interface {
	// Program starts sending the DDS program for a sine at f.  The owner
	// calls Programmed once the program is sent or has failed.
	Program(f float64) error

	// Capture starts one dual channel acquisition at a sample rate index
	Capture(rate int) error

	// Arm starts the sweep's single shot timer; Disarm cancels it
	Arm(d time.Duration)
	Disarm()

	// Progress reports that point k of n (1-based) at f was captured
	Progress(k, n int, f float64)

	// Done delivers the result.  err is ErrAborted for a canceled sweep.
	Done(r Result, err error)
}

// Step is the sweeper's state
type Step int

const (
	// Idle has no sweep
	Idle Step = iota
	// Programming waits for the DDS program to go out
	Programming
	// Settling waits for the DDS output to settle
	Settling
	// Capturing waits for the capture
	Capturing
	// Delaying waits out the per-step delay
	Delaying
)

func (s Step) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Programming:
		return "Programming"
	case Settling:
		return "Settling"
	case Capturing:
		return "Capturing"
	case Delaying:
		return "Delaying"
	}
	return fmt.Sprintf("Step(%d)", int(s))
}

// Sweeper runs one sweep at a time.  It is not safe for concurrent use.
type Sweeper struct {
	d       Driver
	step    Step
	params  Params
	freqs   []float64
	points  []Point
	k       int
	retries int
	cancel  bool
}

// NewSweeper returns an idle sweeper
func NewSweeper(d Driver) *Sweeper {
	return &Sweeper{d: d}
}

// Step returns the current state
func (s *Sweeper) Step() Step { return s.step }

// Active is true while a sweep is running
func (s *Sweeper) Active() bool { return s.step != Idle }

// Index is the index of the frequency being measured
func (s *Sweeper) Index() int { return s.k }

// Frequencies returns the grid of the current or last sweep
func (s *Sweeper) Frequencies() []float64 { return s.freqs }

// Begin starts a sweep
func (s *Sweeper) Begin(p Params) error {
	if s.Active() {
		return ErrBusy
	}
	if err := p.Validate(); err != nil {
		return err
	}
	s.params = p
	s.freqs = p.Grid()
	s.points = make([]Point, 0, len(s.freqs))
	s.k = 0
	s.retries = 0
	s.cancel = false
	s.program()
	return nil
}

// Cancel requests the sweep stop.  A capture or DDS program in flight
// completes first; otherwise the partial result is delivered immediately.
func (s *Sweeper) Cancel() {
	if !s.Active() {
		return
	}
	s.cancel = true
	if s.step != Capturing && s.step != Programming {
		s.d.Disarm()
		s.finish(nil)
	}
}

// Expire delivers the sweep timer
func (s *Sweeper) Expire() {
	switch s.step {
	case Settling:
		if s.cancel {
			s.finish(nil)
			return
		}
		s.step = Capturing
		// a driver may report the failure through CaptureFailed before
		// returning it, which moves the sweeper on
		err := s.d.Capture(SampleRateFor(s.freqs[s.k]))
		if err != nil && s.step == Capturing {
			s.finish(err)
		}
	case Delaying:
		s.program()
	}
}

// Captured delivers the waveform taken at the current step
func (s *Sweeper) Captured(w oscilloscope.Waveform) {
	if s.step != Capturing {
		return
	}
	f := s.freqs[s.k]
	s.points = append(s.points, Point{Frequency: f, DT: w.DT, Input: w.CH1, Output: w.CH2})
	s.k++
	s.retries = 0
	s.d.Progress(s.k, len(s.freqs), f)
	if s.cancel || s.k == len(s.freqs) {
		s.finish(nil)
		return
	}
	s.step = Delaying
	s.d.Arm(s.params.Delay)
}

// CaptureFailed reports that the capture at the current step timed out.
// The capture is retried after another settle period; once the retries are
// spent the point is recorded without data and so marked invalid.
func (s *Sweeper) CaptureFailed(err error) {
	if s.step != Capturing {
		return
	}
	if s.cancel {
		s.finish(nil)
		return
	}
	if s.retries < MaxRetries {
		s.retries++
		s.step = Settling
		s.d.Arm(SettleTime(s.freqs[s.k]))
		return
	}
	s.Captured(oscilloscope.Waveform{})
}

// Programmed reports that the DDS program for the current step went out.
// A non-nil err ends the sweep.
func (s *Sweeper) Programmed(err error) {
	if s.step != Programming {
		return
	}
	if err != nil {
		s.finish(err)
		return
	}
	if s.cancel {
		s.finish(nil)
		return
	}
	s.step = Settling
	s.d.Arm(SettleTime(s.freqs[s.k]))
}

func (s *Sweeper) program() {
	if s.cancel {
		s.finish(nil)
		return
	}
	s.step = Programming
	err := s.d.Program(s.freqs[s.k])
	if err != nil && s.step == Programming {
		s.finish(err)
	}
}

func (s *Sweeper) finish(err error) {
	s.step = Idle
	r := Analyze(s.points)
	r.Aborted = s.cancel
	if err == nil && s.cancel {
		err = ErrAborted
	}
	s.points = nil
	s.d.Done(r, err)
}
