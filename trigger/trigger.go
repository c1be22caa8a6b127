// Package trigger decides on the host whether a calibrated capture should be
// released, mirroring the edge trigger the device applies in hardware.
package trigger

import (
	"errors"
	"fmt"

	"github.com/nasa-jpl/scopehost/mathx"
	"github.com/nasa-jpl/scopehost/oscilloscope"
	"github.com/nasa-jpl/scopehost/util"
)

// AutoThreshold is the peak-to-peak swing, in volts, that counts as a signal
// in auto mode
const AutoThreshold = 0.1

// ErrOutOfRange is matched by *OutOfRangeError with errors.Is
var ErrOutOfRange = errors.New("trigger level outside captured signal")

// OutOfRangeError reports a trigger level the signal never reaches.
// The controller falls back to auto trigger when it sees one.
type OutOfRangeError struct {
	Level, Min, Max float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("trigger level %.2f V outside signal range [%.2f, %.2f] V", e.Level, e.Min, e.Max)
}

// Is makes errors.Is(err, ErrOutOfRange) true
func (e *OutOfRangeError) Is(target error) bool { return target == ErrOutOfRange }

// LevelVolts converts a raw 12-bit trigger level to volts at the trigger
// channel's gain, rounded to 10 mV
func LevelVolts(raw int, gain float64) float64 {
	v := (float64(raw)*10.0/2048.0 - 10.0) / gain
	return mathx.Round(v, 0.01)
}

// DeviceCode is the DAC code that puts the hardware comparator at the level
// the user asked for, compensating for the trigger channel's gain
func DeviceCode(raw int, gain float64) uint16 {
	if gain == 0 {
		gain = 1
	}
	code := 2048 + int((float64(raw-2048)/gain)/(4.0/3.0))
	return uint16(util.ClampInt(code, 0, oscilloscope.TrigLevelMax))
}

// Crossing returns the first i for which (v[i-1], v[i]) crosses level in the
// direction of pol, or -1
func Crossing(v []float64, level float64, pol oscilloscope.Polarity) int {
	for i := 1; i < len(v); i++ {
		if pol == oscilloscope.Falling {
			if v[i-1] > level && level >= v[i] {
				return i
			}
		} else if v[i-1] < level && level <= v[i] {
			return i
		}
	}
	return -1
}

// Result is the outcome of Evaluate
type Result struct {
	// Triggered is true if the frame should be released
	Triggered bool

	// Index is the sample the edge was found at, or -1
	Index int

	// Level is the trigger level in volts, zero in auto and external modes
	Level float64
}

// Evaluate applies the trigger in wav.Config to wav.
//
// Auto releases the frame when CH1 (or CH2 if CH1 was not captured) swings
// more than AutoThreshold.  External is gated by the device, so every frame
// is released.  CH1 and CH2 look for the first edge through the level; an
// uncaptured source channel never triggers, and a level outside the signal
// returns an *OutOfRangeError.
func Evaluate(wav oscilloscope.Waveform) (Result, error) {
	cfg := wav.Config
	res := Result{Index: -1}
	switch cfg.TrigSource {
	case oscilloscope.TrigAuto:
		v := wav.CH1
		if len(v) == 0 {
			v = wav.CH2
		}
		res.Triggered = mathx.PeakToPeak(v) > AutoThreshold
		return res, nil
	case oscilloscope.TrigExternal:
		res.Triggered = true
		return res, nil
	}

	v := wav.CH1
	if cfg.TrigSource == oscilloscope.TrigCH2 {
		v = wav.CH2
	}
	if len(v) == 0 {
		return res, nil
	}
	res.Level = LevelVolts(cfg.TrigLevel, float64(cfg.TriggerGain()))
	min, max := mathx.MinMax(v)
	if res.Level < min || res.Level > max {
		return res, &OutOfRangeError{Level: res.Level, Min: min, Max: max}
	}
	res.Index = Crossing(v, res.Level, cfg.TrigPolarity)
	res.Triggered = res.Index >= 0
	return res, nil
}
