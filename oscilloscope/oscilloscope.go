// Package oscilloscope provides type definitions for the two channel USB
// oscilloscope: its configuration record, sample rate table, calibrated
// waveforms, and their export formats.
package oscilloscope

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidParameter is generated when a setting is outside its domain.
// It never reaches the device.
var ErrInvalidParameter = errors.New("invalid parameter")

const (
	// OffsetMin is the smallest channel offset, in hundredths of a volt
	OffsetMin = -1694
	// OffsetMax is the largest channel offset, in hundredths of a volt
	OffsetMax = 1695
	// TrigLevelMax is the largest trigger DAC code
	TrigLevelMax = 4095
	// TrigLevelCenter is the DAC code for zero volts
	TrigLevelCenter = 2048
)

// Gains are the programmable gain amplifier multipliers, in step order
var Gains = [...]int{1, 2, 4, 8, 16, 32}

// GainStep returns the amplifier step index for a gain multiplier
func GainStep(gain int) (byte, error) {
	for i, g := range Gains {
		if g == gain {
			return byte(i), nil
		}
	}
	return 0, fmt.Errorf("%w: gain %d not in %v", ErrInvalidParameter, gain, Gains)
}

// FullScale returns the full scale range in volts (±) for a gain multiplier
func FullScale(gain int) float64 {
	return 20 / float64(gain)
}

// TriggerSource selects what arms the trigger
type TriggerSource int

const (
	// TrigAuto releases frames whenever a signal is present
	TrigAuto TriggerSource = iota
	// TrigCH1 triggers on channel 1
	TrigCH1
	// TrigCH2 triggers on channel 2
	TrigCH2
	// TrigExternal triggers on the external input, handled by the device
	TrigExternal
)

var trigSourceNames = [...]string{"auto", "ch1", "ch2", "external"}

func (t TriggerSource) String() string {
	if t < 0 || int(t) >= len(trigSourceNames) {
		return fmt.Sprintf("TriggerSource(%d)", int(t))
	}
	return trigSourceNames[t]
}

// ParseTriggerSource is the inverse of TriggerSource.String
func ParseTriggerSource(s string) (TriggerSource, error) {
	for i, n := range trigSourceNames {
		if strings.EqualFold(n, s) {
			return TriggerSource(i), nil
		}
	}
	return 0, fmt.Errorf("%w: trigger source %q", ErrInvalidParameter, s)
}

// MarshalText implements encoding.TextMarshaler
func (t TriggerSource) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler
func (t *TriggerSource) UnmarshalText(b []byte) error {
	v, err := ParseTriggerSource(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Polarity is the trigger edge direction
type Polarity int

const (
	// Rising edge
	Rising Polarity = iota
	// Falling edge
	Falling
)

func (p Polarity) String() string {
	switch p {
	case Rising:
		return "rising"
	case Falling:
		return "falling"
	default:
		return fmt.Sprintf("Polarity(%d)", int(p))
	}
}

// ParsePolarity is the inverse of Polarity.String
func ParsePolarity(s string) (Polarity, error) {
	switch strings.ToLower(s) {
	case "rising":
		return Rising, nil
	case "falling":
		return Falling, nil
	}
	return 0, fmt.Errorf("%w: polarity %q", ErrInvalidParameter, s)
}

// MarshalText implements encoding.TextMarshaler
func (p Polarity) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler
func (p *Polarity) UnmarshalText(b []byte) error {
	v, err := ParsePolarity(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Mode selects the frame layout.  The values are what the device expects.
type Mode int

const (
	// BothChannels captures 200 samples on each channel
	BothChannels Mode = 1
	// CH1Only captures 400 samples on channel 1
	CH1Only Mode = 2
	// CH2Only captures 400 samples on channel 2
	CH2Only Mode = 3
)

func (m Mode) String() string {
	switch m {
	case BothChannels:
		return "both"
	case CH1Only:
		return "ch1"
	case CH2Only:
		return "ch2"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode is the inverse of Mode.String
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "both", "dual":
		return BothChannels, nil
	case "ch1":
		return CH1Only, nil
	case "ch2":
		return CH2Only, nil
	}
	return 0, fmt.Errorf("%w: mode %q", ErrInvalidParameter, s)
}

// MarshalText implements encoding.TextMarshaler
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Dual is true when both channels are captured
func (m Mode) Dual() bool { return m == BothChannels }

// Length is the number of samples captured per active channel
func (m Mode) Length() int {
	if m.Dual() {
		return 200
	}
	return 400
}

// Rate is one entry of the sample rate table
type Rate struct {
	// Index is the device's sample rate index, 1..14
	Index int `json:"index"`

	// PerSecond is the sample rate in samples per second
	PerSecond float64 `json:"perSecond"`

	// Micros is the sample period in microseconds
	Micros float64 `json:"micros"`
}

// Rates is the device sample rate table, fastest first.  Rates[i] has Index i+1.
var Rates = [...]Rate{
	{1, 2e6, 0.5},
	{2, 1e6, 1},
	{3, 500e3, 2},
	{4, 200e3, 5},
	{5, 100e3, 10},
	{6, 50e3, 20},
	{7, 20e3, 50},
	{8, 10e3, 100},
	{9, 5e3, 200},
	{10, 2e3, 500},
	{11, 1e3, 1000},
	{12, 500, 2000},
	{13, 200, 5000},
	{14, 100, 10000},
}

// RateAt returns the table entry for a sample rate index
func RateAt(idx int) (Rate, error) {
	if idx < 1 || idx > len(Rates) {
		return Rate{}, fmt.Errorf("%w: sample rate index %d not in [1,%d]", ErrInvalidParameter, idx, len(Rates))
	}
	return Rates[idx-1], nil
}

// DT is the sample period in seconds
func (r Rate) DT() float64 { return r.Micros * 1e-6 }

// MaxFrequency is the Nyquist frequency of the rate
func (r Rate) MaxFrequency() float64 { return r.PerSecond / 2 }

// AxisHeading is the time axis label used when plotting at this rate
func (r Rate) AxisHeading() string {
	if r.Index > 10 {
		return "Time(mSec)"
	}
	return "Time(uSec)"
}

// Config is the device configuration record.  It is copied into every
// capture request so a capture never sees settings change underneath it.
type Config struct {
	CH1Gain      int           `json:"ch1Gain" yaml:"ch1Gain" koanf:"ch1Gain"`
	CH2Gain      int           `json:"ch2Gain" yaml:"ch2Gain" koanf:"ch2Gain"`
	CH1Offset    int           `json:"ch1Offset" yaml:"ch1Offset" koanf:"ch1Offset"`
	CH2Offset    int           `json:"ch2Offset" yaml:"ch2Offset" koanf:"ch2Offset"`
	TrigLevel    int           `json:"trigLevel" yaml:"trigLevel" koanf:"trigLevel"`
	TrigSource   TriggerSource `json:"trigSource" yaml:"trigSource" koanf:"trigSource"`
	TrigPolarity Polarity      `json:"trigPolarity" yaml:"trigPolarity" koanf:"trigPolarity"`
	SampleRate   int           `json:"sampleRate" yaml:"sampleRate" koanf:"sampleRate"`
	Mode         Mode          `json:"mode" yaml:"mode" koanf:"mode"`
}

// DefaultConfig is unity gain, no offset, auto trigger at 0 V, 200 kS/s, both channels
func DefaultConfig() Config {
	return Config{
		CH1Gain:      1,
		CH2Gain:      1,
		TrigLevel:    TrigLevelCenter,
		TrigSource:   TrigAuto,
		TrigPolarity: Rising,
		SampleRate:   4,
		Mode:         BothChannels,
	}
}

// Validate checks every field against its domain
func (c Config) Validate() error {
	if _, err := GainStep(c.CH1Gain); err != nil {
		return fmt.Errorf("ch1: %w", err)
	}
	if _, err := GainStep(c.CH2Gain); err != nil {
		return fmt.Errorf("ch2: %w", err)
	}
	if c.CH1Offset < OffsetMin || c.CH1Offset > OffsetMax {
		return fmt.Errorf("%w: ch1 offset %d not in [%d,%d]", ErrInvalidParameter, c.CH1Offset, OffsetMin, OffsetMax)
	}
	if c.CH2Offset < OffsetMin || c.CH2Offset > OffsetMax {
		return fmt.Errorf("%w: ch2 offset %d not in [%d,%d]", ErrInvalidParameter, c.CH2Offset, OffsetMin, OffsetMax)
	}
	if c.TrigLevel < 0 || c.TrigLevel > TrigLevelMax {
		return fmt.Errorf("%w: trigger level %d not in [0,%d]", ErrInvalidParameter, c.TrigLevel, TrigLevelMax)
	}
	if c.TrigSource < TrigAuto || c.TrigSource > TrigExternal {
		return fmt.Errorf("%w: trigger source %d", ErrInvalidParameter, c.TrigSource)
	}
	if c.TrigPolarity != Rising && c.TrigPolarity != Falling {
		return fmt.Errorf("%w: polarity %d", ErrInvalidParameter, c.TrigPolarity)
	}
	if _, err := RateAt(c.SampleRate); err != nil {
		return err
	}
	if c.Mode < BothChannels || c.Mode > CH2Only {
		return fmt.Errorf("%w: mode %d", ErrInvalidParameter, c.Mode)
	}
	return nil
}

// Rate returns the sample rate table entry of the config.
// It panics if SampleRate is out of range; call Validate first.
func (c Config) Rate() Rate {
	return Rates[c.SampleRate-1]
}

// TriggerGain is the gain of the channel that arms the trigger, or 1
func (c Config) TriggerGain() int {
	switch c.TrigSource {
	case TrigCH1:
		return c.CH1Gain
	case TrigCH2:
		return c.CH2Gain
	default:
		return 1
	}
}
