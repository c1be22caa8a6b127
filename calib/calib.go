// Package calib converts raw ADC bytes into volts.
//
// The conversion is a contract of the instrument's analog front end:
//
//	v = ((adc*10/128 - 10 + OC) * scale / gain) + OC + baseline + offset/100/2 - correction
//
// with scale = 5/4.8, baseline = 4.0 and correction = 3.78 for the stock board.
// Those three numbers and the offset correction OC are device specific and
// can be loaded from a YAML file.
package calib

import (
	"os"

	"github.com/go-yaml/yaml"
)

// Constants are the per-device calibration terms
type Constants struct {
	// Scale is the analog path gain correction
	Scale float64 `yaml:"scale" json:"scale"`

	// Baseline is the fixed baseline offset in volts
	Baseline float64 `yaml:"baseline" json:"baseline"`

	// Correction is subtracted last so a mid-scale code reads near zero
	Correction float64 `yaml:"correction" json:"correction"`

	// OffsetCorrection is OC, applied only when CorrectOffset is true
	OffsetCorrection float64 `yaml:"offsetCorrection" json:"offsetCorrection"`

	// CorrectOffset enables OffsetCorrection
	CorrectOffset bool `yaml:"correctOffset" json:"correctOffset"`
}

// Default returns the constants of the stock board
func Default() Constants {
	return Constants{
		Scale:      5.0 / 4.8,
		Baseline:   4.00,
		Correction: 3.78,
	}
}

// LoadYaml reads constants from a YAML file.  Keys absent from the file keep
// their default values.
func LoadYaml(path string) (Constants, error) {
	c := Default()
	f, err := os.Open(path)
	if err != nil {
		return c, err
	}
	defer f.Close()
	err = yaml.NewDecoder(f).Decode(&c)
	return c, err
}

// oc returns the offset correction term in effect
func (c Constants) oc() float64 {
	if c.CorrectOffset {
		return c.OffsetCorrection
	}
	return 0
}

// Volts converts one ADC code to volts for a channel at gain with a user
// offset in hundredths of a volt
func (c Constants) Volts(adc byte, gain int, offset int) float64 {
	oc := c.oc()
	ui := (float64(offset) / 100.0) / 2.0
	v := (((float64(adc) * 10.0 / 128.0) - 10.0 + oc) * c.Scale / float64(gain)) + oc + c.Baseline + ui
	v -= c.Correction
	return v
}

// Convert applies Volts to every byte of raw
func (c Constants) Convert(raw []byte, gain int, offset int) []float64 {
	if len(raw) == 0 {
		return nil
	}
	out := make([]float64, len(raw))
	for i, b := range raw {
		out[i] = c.Volts(b, gain, offset)
	}
	return out
}
