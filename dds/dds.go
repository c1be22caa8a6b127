// Package dds plans direct digital synthesis output for the instrument.
//
// The device walks Samples entries of an uploaded table, stepping once per
// timer reload.  The timer is clocked at ClockHz, so the output frequency is
//
//	f' = ClockHz / period / samples
//
// Below LowFrequency a full cycle is stretched over all MaxSamples entries.
// Above it a 16-bit phase accumulator stepping by a power of two picks the
// entries from the 256-entry master, and the timer period is corrected for
// the power-of-two quantization of the step.
package dds

import (
	"fmt"
	"math"
	"time"

	"github.com/nasa-jpl/scopehost/codec"
	"github.com/nasa-jpl/scopehost/oscilloscope"
)

const (
	// ClockHz is the DDS timer source clock
	ClockHz = 32_000_000

	// BaseDivider is the nominal timer period
	BaseDivider = 32

	// EventClockHz is the accumulator update rate at the nominal divider
	EventClockHz = ClockHz / BaseDivider

	// MaxSamples is the device's table memory
	MaxSamples = codec.MaxUpload

	// MaxPeriod is the largest timer reload value
	MaxPeriod = 65535

	// MinFrequency and MaxFrequency bound the requested output
	MinFrequency = 1
	MaxFrequency = 50_000

	// LowFrequency is where the planner switches to the phase accumulator
	LowFrequency = 1000

	// FrameGap separates the frames of a DDS program
	FrameGap = 20 * time.Millisecond

	accumBits = 16
	accumSize = 1 << accumBits
)

// Ceil2 returns the smallest power of two >= x, and never zero
func Ceil2(x float64) int {
	if x <= 1 {
		return 1
	}
	return 1 << uint(math.Ceil(math.Log2(x)))
}

// Plan is a DDS program
type Plan struct {
	// Frequency is the requested frequency in Hz
	Frequency float64 `json:"frequency"`

	// PhaseStep is the accumulator increment, zero on the low frequency path
	PhaseStep int `json:"phaseStep"`

	// TimerPeriod is the device timer reload value
	TimerPeriod int `json:"timerPeriod"`

	// SampleCount is the number of table entries walked per cycle
	SampleCount int `json:"sampleCount"`

	// Table holds SampleCount waveform bytes
	Table []byte `json:"table"`
}

// Realized is the frequency the device will actually produce
func (p Plan) Realized() float64 {
	if p.TimerPeriod == 0 || p.SampleCount == 0 {
		return 0
	}
	return ClockHz / float64(p.TimerPeriod) / float64(p.SampleCount)
}

// RelativeError is |Realized - Frequency| / Frequency
func (p Plan) RelativeError() float64 {
	return math.Abs(p.Realized()-p.Frequency) / p.Frequency
}

func clampPeriod(x float64) int {
	if x < 1 {
		return 1
	}
	if x > MaxPeriod {
		return MaxPeriod
	}
	return int(x)
}

// NewPlan computes the program for frequency f from a 256-entry master table
func NewPlan(f float64, master []byte) (Plan, error) {
	if math.IsNaN(f) || f < MinFrequency || f > MaxFrequency {
		return Plan{}, fmt.Errorf("%w: DDS frequency %v not in [%d,%d] Hz", oscilloscope.ErrInvalidParameter, f, MinFrequency, MaxFrequency)
	}
	if len(master) != TableSize {
		return Plan{}, fmt.Errorf("%w: master table has %d entries, need %d", oscilloscope.ErrInvalidParameter, len(master), TableSize)
	}
	if f < LowFrequency {
		return lowPlan(f, master), nil
	}
	return accumPlan(f, master), nil
}

// lowPlan stretches one cycle across the whole table memory
func lowPlan(f float64, master []byte) Plan {
	tbl := make([]byte, MaxSamples)
	for i := range tbl {
		tbl[i] = master[int(math.Round(float64(i)*(TableSize-1)/(MaxSamples-1)))]
	}
	period := math.Round(EventClockHz * BaseDivider / (f * MaxSamples))
	return Plan{
		Frequency:   f,
		TimerPeriod: clampPeriod(period),
		SampleCount: MaxSamples,
		Table:       tbl,
	}
}

// accumPlan walks the phase accumulator for one full cycle, or until the
// table memory is full
func accumPlan(f float64, master []byte) Plan {
	step := Ceil2(f * accumSize / EventClockHz)
	tbl := make([]byte, 0, MaxSamples)
	phase := 0
	for phase < accumSize && len(tbl) < MaxSamples {
		tbl = append(tbl, master[(phase>>8)&0xFF])
		phase += step
	}
	n := len(tbl)
	if n > 1 && tbl[n-1] == 0 {
		tbl[n-1] = tbl[n-2]
	}

	fout := float64(step) * EventClockHz / accumSize
	// half rounds to even, 62.5 at 1 kHz gives 62
	div := math.RoundToEven(BaseDivider * fout / f)
	return Plan{
		Frequency:   f,
		PhaseStep:   step,
		TimerPeriod: clampPeriod(div),
		SampleCount: n,
		Table:       tbl,
	}
}

// Frames returns the program in transmit order: period, sample count,
// table upload, start.  Each must be followed by FrameGap.
func (p Plan) Frames() ([][]byte, error) {
	up, err := codec.Upload(p.Table)
	if err != nil {
		return nil, err
	}
	return [][]byte{
		codec.DDSPeriod(uint16(p.TimerPeriod)).Bytes(),
		codec.DDSSamples(uint16(p.SampleCount)).Bytes(),
		up,
		codec.DDSStart().Bytes(),
	}, nil
}
