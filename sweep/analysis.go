package sweep

import (
	"math"

	"github.com/nasa-jpl/scopehost/mathx"
)

const (
	// SettleSamples is the number of leading samples discarded before analysis
	SettleSamples = 20

	// MinAmplitude is the amplitude at or below which a point is invalid
	MinAmplitude = 1e-9

	// SmoothPasses is how many times the moving average is applied
	SmoothPasses = 3
)

// Point is the raw data gathered at one frequency
type Point struct {
	Frequency float64   `json:"frequency"`
	DT        float64   `json:"dt"`
	Input     []float64 `json:"input"`
	Output    []float64 `json:"output"`
}

// Result is the Bode response.  All slices have the same length.
type Result struct {
	Frequencies []float64 `json:"frequencies"`
	Magnitudes  []float64 `json:"magnitudes"`
	Phases      []float64 `json:"phases"`
	Invalid     []bool    `json:"invalid"`

	// Aborted is true when the sweep was canceled before the last point
	Aborted bool `json:"aborted"`
}

// Len is the number of points in the result
func (r Result) Len() int { return len(r.Frequencies) }

func trim(v []float64) []float64 {
	if len(v) <= SettleSamples {
		return nil
	}
	return v[SettleSamples:]
}

// Amplitude is half the distance between the mean local maximum and the mean
// local minimum of v.  A side with no extrema contributes zero.
func Amplitude(v []float64) float64 {
	var maxs, mins []float64
	for i := 1; i < len(v)-1; i++ {
		if v[i] > v[i-1] && v[i] > v[i+1] {
			maxs = append(maxs, v[i])
		}
		if v[i] < v[i-1] && v[i] < v[i+1] {
			mins = append(mins, v[i])
		}
	}
	return (mathx.Mean(maxs) - mathx.Mean(mins)) / 2
}

// RisingCrossings returns the fractional sample positions where v crosses
// zero going up (v[i-1] < 0 <= v[i]), interpolated linearly between samples
func RisingCrossings(v []float64) []float64 {
	var out []float64
	for i := 1; i < len(v); i++ {
		if v[i-1] < 0 && v[i] >= 0 {
			frac := -v[i-1] / (v[i] - v[i-1])
			out = append(out, float64(i-1)+frac)
		}
	}
	return out
}

// Phase is the phase of out relative to in in degrees, from the first rising
// zero crossing of each and the mean period of in.  A lagging output is
// negative.  Zero is returned when either signal has no crossing or the
// input period cannot be measured.
func Phase(in, out []float64, dt float64) float64 {
	cin := RisingCrossings(in)
	cout := RisingCrossings(out)
	if len(cin) < 2 || len(cout) == 0 || dt <= 0 {
		return 0
	}
	period := (cin[len(cin)-1] - cin[0]) / float64(len(cin)-1) * dt
	if period <= 0 {
		return 0
	}
	deg := (cin[0] - cout[0]) * dt / period * 360
	return mathx.WrapDegrees(deg)
}

// Smooth applies a length-3 centered moving average.  The endpoints are kept.
func Smooth(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	for i := 1; i < len(x)-1; i++ {
		out[i] = (x[i-1] + x[i] + x[i+1]) / 3
	}
	return out
}

// SmoothN applies Smooth n times
func SmoothN(x []float64, n int) []float64 {
	for i := 0; i < n; i++ {
		x = Smooth(x)
	}
	return x
}

// Analyze computes magnitude, phase, and validity for every point, then
// smooths the magnitude and phase curves
func Analyze(points []Point) Result {
	n := len(points)
	r := Result{
		Frequencies: make([]float64, n),
		Magnitudes:  make([]float64, n),
		Phases:      make([]float64, n),
		Invalid:     make([]bool, n),
	}
	for k, p := range points {
		r.Frequencies[k] = p.Frequency
		in, out := trim(p.Input), trim(p.Output)
		ain, aout := Amplitude(in), Amplitude(out)
		if ain <= MinAmplitude || aout <= MinAmplitude {
			r.Invalid[k] = true
			continue
		}
		r.Magnitudes[k] = 20 * math.Log10(aout/ain)
		r.Phases[k] = Phase(in, out, p.DT)
	}
	r.Magnitudes = SmoothN(r.Magnitudes, SmoothPasses)
	r.Phases = SmoothN(r.Phases, SmoothPasses)
	return r
}
