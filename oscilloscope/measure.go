package oscilloscope

import (
	"math"

	"github.com/nasa-jpl/scopehost/mathx"
)

// Measurements are the scalar readouts of one channel
type Measurements struct {
	Max       float64 `json:"max"`
	Min       float64 `json:"min"`
	PkPk      float64 `json:"pkpk"`
	Mean      float64 `json:"mean"`
	Amplitude float64 `json:"amplitude"`

	// Frequency and Period are zero when fewer than two mean crossings exist
	Frequency float64 `json:"frequency"`
	Period    float64 `json:"period"`
}

// Measure computes the readouts of v sampled every dt seconds
func Measure(v []float64, dt float64) Measurements {
	var m Measurements
	if len(v) == 0 {
		return m
	}
	m.Min, m.Max = mathx.MinMax(v)
	m.PkPk = m.Max - m.Min
	m.Amplitude = m.PkPk / 2
	m.Mean = mathx.Mean(v)

	// crossings of the mean in either direction are half a period apart
	first, last, n := -1, -1, 0
	for i := 1; i < len(v); i++ {
		up := v[i-1] < m.Mean && v[i] >= m.Mean
		down := v[i-1] > m.Mean && v[i] <= m.Mean
		if up || down {
			if first < 0 {
				first = i
			}
			last = i
			n++
		}
	}
	if n >= 2 && dt > 0 {
		half := float64(last-first) * dt / float64(n-1)
		m.Period = 2 * half
		m.Frequency = 1 / m.Period
	}
	return m
}

// Measure returns the readouts of both channels
func (wav Waveform) Measure() [2]Measurements {
	return [2]Measurements{Measure(wav.CH1, wav.DT), Measure(wav.CH2, wav.DT)}
}

// DFT computes the one sided magnitude spectrum |X_k|/n for k < n/2 by
// direct summation, and the frequency of each bin
func DFT(v []float64, dt float64) (freq, mag []float64) {
	n := len(v)
	if n == 0 || dt <= 0 {
		return nil, nil
	}
	half := n / 2
	freq = make([]float64, half)
	mag = make([]float64, half)
	for k := 0; k < half; k++ {
		var re, im float64
		for t, x := range v {
			ang := -2 * math.Pi * float64(k) * float64(t) / float64(n)
			re += x * math.Cos(ang)
			im += x * math.Sin(ang)
		}
		mag[k] = math.Hypot(re, im) / float64(n)
		freq[k] = float64(k) / (float64(n) * dt)
	}
	return freq, mag
}

// DB converts linear magnitudes to decibels, flooring at 1e-12
func DB(mag []float64) []float64 {
	out := make([]float64, len(mag))
	for i, m := range mag {
		out[i] = 20 * math.Log10(math.Max(m, 1e-12))
	}
	return out
}

// Spectrum is the dB magnitude spectrum of a waveform
type Spectrum struct {
	Freq []float64 `json:"freq"`
	CH1  []float64 `json:"ch1"`
	CH2  []float64 `json:"ch2"`
}

// Spectrum computes the spectrum of both channels.  The frequency axis
// comes from whichever channel is longer.
func (wav Waveform) Spectrum() Spectrum {
	var s Spectrum
	f1, m1 := DFT(wav.CH1, wav.DT)
	f2, m2 := DFT(wav.CH2, wav.DT)
	s.Freq = f1
	if len(f2) > len(f1) {
		s.Freq = f2
	}
	if m1 != nil {
		s.CH1 = DB(m1)
	}
	if m2 != nil {
		s.CH2 = DB(m2)
	}
	return s
}
