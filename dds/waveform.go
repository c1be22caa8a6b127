package dds

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/nasa-jpl/scopehost/oscilloscope"
	"github.com/nasa-jpl/scopehost/util"
)

// TableSize is the length of a master waveform
const TableSize = 256

// Waveform names a master table
type Waveform int

const (
	// Sine is centered on code 122 and spans 5..239
	Sine Waveform = iota
	// Square is 5 for the first half of the cycle and 250 for the second
	Square
	// Triangle rises 5..250 and falls back
	Triangle
	// RampUp rises 5..249
	RampUp
	// RampDown falls 254..5
	RampDown
	// Arbitrary is user supplied, see LoadCSV
	Arbitrary
)

var waveformNames = [...]string{"sine", "square", "triangle", "rampup", "rampdown", "arbitrary"}

func (w Waveform) String() string {
	if w < 0 || int(w) >= len(waveformNames) {
		return fmt.Sprintf("Waveform(%d)", int(w))
	}
	return waveformNames[w]
}

// ParseWaveform is the inverse of Waveform.String
func ParseWaveform(s string) (Waveform, error) {
	s = strings.ToLower(strings.ReplaceAll(s, "-", ""))
	for i, n := range waveformNames {
		if n == s {
			return Waveform(i), nil
		}
	}
	return 0, fmt.Errorf("%w: waveform %q", oscilloscope.ErrInvalidParameter, s)
}

// MarshalText implements encoding.TextMarshaler
func (w Waveform) MarshalText() ([]byte, error) { return []byte(w.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler
func (w *Waveform) UnmarshalText(b []byte) error {
	v, err := ParseWaveform(string(b))
	if err != nil {
		return err
	}
	*w = v
	return nil
}

var (
	// ErrNoBuiltin is returned by Master for Arbitrary
	ErrNoBuiltin = errors.New("arbitrary waveforms have no built in table")

	// ErrEmptyCSV is returned by LoadCSV when no rows are present
	ErrEmptyCSV = errors.New("waveform CSV has no rows")

	masters = buildMasters()
)

func buildMasters() map[Waveform][]byte {
	m := make(map[Waveform][]byte, 5)
	sine := make([]byte, TableSize)
	square := make([]byte, TableSize)
	tri := make([]byte, TableSize)
	up := make([]byte, TableSize)
	down := make([]byte, TableSize)
	half := TableSize / 2
	for i := 0; i < TableSize; i++ {
		sine[i] = byte(122 + int(117*math.Sin(2*math.Pi*float64(i)/TableSize)))
		if i < half {
			square[i] = 5
			tri[i] = byte(5 + math.Round(float64(i)*245/float64(half-1)))
		} else {
			square[i] = 250
			tri[i] = byte(5 + math.Round(float64(TableSize-1-i)*245/float64(half-1)))
		}
		up[i] = byte(5 + math.Round(float64(i)*244/(TableSize-1)))
		down[i] = byte(254 - math.Round(float64(i)*249/(TableSize-1)))
	}
	m[Sine] = sine
	m[Square] = square
	m[Triangle] = tri
	m[RampUp] = up
	m[RampDown] = down
	return m
}

// Master returns a copy of a built in master table
func Master(w Waveform) ([]byte, error) {
	if w == Arbitrary {
		return nil, ErrNoBuiltin
	}
	t, ok := masters[w]
	if !ok {
		return nil, fmt.Errorf("%w: waveform %d", oscilloscope.ErrInvalidParameter, int(w))
	}
	return append([]byte(nil), t...), nil
}

// LoadCSV builds a master table from the first column of up to 256 CSV rows.
// Values are clamped to 0..255 and a short file is padded with its last value.
func LoadCSV(r io.Reader) ([]byte, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'
	out := make([]byte, 0, TableSize)
	for len(out) < TableSize {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) == 0 || strings.TrimSpace(rec[0]) == "" {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", len(out)+1, err)
		}
		out = append(out, byte(util.Clamp(math.Round(v), 0, 255)))
	}
	if len(out) == 0 {
		return nil, ErrEmptyCSV
	}
	last := out[len(out)-1]
	for len(out) < TableSize {
		out = append(out, last)
	}
	return out, nil
}
