package oscilloscope

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestConfigValidateRejects(t *testing.T) {
	mutations := map[string]func(*Config){
		"gain":      func(c *Config) { c.CH1Gain = 3 },
		"offset":    func(c *Config) { c.CH2Offset = 1696 },
		"level":     func(c *Config) { c.TrigLevel = 4096 },
		"rate low":  func(c *Config) { c.SampleRate = 0 },
		"rate high": func(c *Config) { c.SampleRate = 15 },
		"mode":      func(c *Config) { c.Mode = 4 },
		"source":    func(c *Config) { c.TrigSource = 7 },
	}
	for name, mut := range mutations {
		c := DefaultConfig()
		mut(&c)
		if err := c.Validate(); !errors.Is(err, ErrInvalidParameter) {
			t.Errorf("%s: expected ErrInvalidParameter, got %v", name, err)
		}
	}
}

func TestRateTableBijective(t *testing.T) {
	for i, r := range Rates {
		if r.Index != i+1 {
			t.Errorf("entry %d has index %d", i, r.Index)
		}
		if math.Abs(r.PerSecond*r.Micros-1e6) > 1e-6 {
			t.Errorf("index %d: rate %v and period %v disagree", r.Index, r.PerSecond, r.Micros)
		}
	}
	r, _ := RateAt(11)
	if r.AxisHeading() != "Time(mSec)" {
		t.Errorf("expected mSec heading at index 11, got %s", r.AxisHeading())
	}
	r, _ = RateAt(10)
	if r.AxisHeading() != "Time(uSec)" || r.MaxFrequency() != 1000 {
		t.Errorf("unexpected index 10 entry %+v", r)
	}
}

func TestGainStep(t *testing.T) {
	s, err := GainStep(16)
	if err != nil || s != 4 {
		t.Errorf("expected step 4, got %d %v", s, err)
	}
	if FullScale(4) != 5 {
		t.Errorf("expected 5 V full scale at gain 4")
	}
}

func TestConfigJSONUsesNames(t *testing.T) {
	c := DefaultConfig()
	c.TrigSource = TrigCH2
	c.Mode = CH1Only
	b, err := json.Marshal(c)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(b, []byte(`"trigSource":"ch2"`)) || !bytes.Contains(b, []byte(`"mode":"ch1"`)) {
		t.Errorf("unexpected encoding %s", b)
	}
	var c2 Config
	if err = json.Unmarshal(b, &c2); err != nil {
		t.Fatal(err)
	}
	if c2 != c {
		t.Errorf("expected %+v got %+v", c, c2)
	}
}

func TestEncodeCSVLayout(t *testing.T) {
	wav := Waveform{DT: 5e-6, CH1: []float64{1, -0.5}, CH2: []float64{0.25, 2}}
	buf := &bytes.Buffer{}
	gen := time.Date(2024, 3, 1, 13, 4, 5, 0, time.UTC)
	if err := wav.EncodeCSV(buf, CSVOptions{Generated: gen}); err != nil {
		t.Fatal(err)
	}
	expected := strings.Join([]string{
		"# Oscilloscope Data Export",
		"# Generated: 2024-03-01 13:04:05",
		"# Data Points: 2",
		"# Time Unit: microseconds",
		"# Voltage Unit: Volts",
		"",
		"Time(us),CH1(V),CH2(V)",
		"0.000,1.000,0.250",
		"5.000,-0.500,2.000",
		"",
	}, "\n")
	if buf.String() != expected {
		t.Errorf("expected\n%s\ngot\n%s", expected, buf.String())
	}
}

func TestEncodeCSVSingleChannelAndSpectrum(t *testing.T) {
	wav := Waveform{DT: 1e-3, CH2: make([]float64, 8)}
	buf := &bytes.Buffer{}
	if err := wav.EncodeCSV(buf, CSVOptions{Spectrum: true}); err != nil {
		t.Fatal(err)
	}
	s := buf.String()
	if !strings.Contains(s, "\n0.000,,0.000\n") {
		t.Error("empty CH1 should produce an empty cell")
	}
	if !strings.Contains(s, "Frequency(Hz),CH1_FFT(dB),CH2_FFT(dB)\n0.0,,-240.00\n") {
		t.Errorf("spectrum section missing or malformed:\n%s", s)
	}
}

func sine(n int, dt, f, amp, phase float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*f*float64(i)*dt+phase)
	}
	return out
}

func TestMeasureSine(t *testing.T) {
	v := sine(400, 1e-5, 1000, 2, 0.3)
	m := Measure(v, 1e-5)
	if math.Abs(m.Frequency-1000) > 10 {
		t.Errorf("expected ~1000 Hz, got %v", m.Frequency)
	}
	if math.Abs(m.PkPk-4) > 0.01 || math.Abs(m.Amplitude-2) > 0.005 {
		t.Errorf("unexpected pk-pk %v amplitude %v", m.PkPk, m.Amplitude)
	}
	if math.Abs(m.Mean) > 0.05 {
		t.Errorf("expected mean near zero, got %v", m.Mean)
	}
}

func TestMeasureFlat(t *testing.T) {
	m := Measure([]float64{1, 1, 1}, 1)
	if m.Frequency != 0 || m.PkPk != 0 || m.Mean != 1 {
		t.Errorf("unexpected measurements of a flat line %+v", m)
	}
}

func TestDFTPeakBin(t *testing.T) {
	// 400 samples at 10 us, 5 kHz lands exactly on bin 20
	v := sine(400, 1e-5, 5000, 1, 0)
	freq, mag := DFT(v, 1e-5)
	if len(freq) != 200 {
		t.Fatalf("expected 200 bins, got %d", len(freq))
	}
	peak := 0
	for i := range mag {
		if mag[i] > mag[peak] {
			peak = i
		}
	}
	if peak != 20 || math.Abs(freq[peak]-5000) > 1e-6 {
		t.Errorf("expected peak at bin 20 (5 kHz), got %d (%v Hz)", peak, freq[peak])
	}
	if math.Abs(mag[peak]-0.5) > 1e-9 {
		t.Errorf("expected magnitude 0.5, got %v", mag[peak])
	}
}

func TestEncodeFITS(t *testing.T) {
	wav := Waveform{Seq: 3, DT: 1e-6, CH1: []float64{1, 2, 3}, Config: DefaultConfig()}
	buf := &bytes.Buffer{}
	if err := wav.EncodeFITS(buf); err != nil {
		t.Fatal(err)
	}
	b := buf.Bytes()
	if !bytes.HasPrefix(b, []byte("SIMPLE  =")) {
		t.Error("output does not begin with a FITS primary header")
	}
	if len(b)%2880 != 0 {
		t.Errorf("FITS output must be a whole number of 2880 byte blocks, got %d bytes", len(b))
	}
	if !bytes.Contains(b, []byte("RATEIDX")) {
		t.Error("expected RATEIDX card in header")
	}
}
