package calib

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/nasa-jpl/scopehost/acquire"
	"github.com/nasa-jpl/scopehost/oscilloscope"
)

func TestVoltsMidScale(t *testing.T) {
	v := Default().Volts(128, 1, 0)
	if math.Abs(v-0.22) > 1e-12 {
		t.Errorf("expected 0.22 V at code 128, got %v", v)
	}
}

func TestVoltsLinearInADC(t *testing.T) {
	c := Default()
	for _, g := range oscilloscope.Gains {
		step := 10.0 / 128.0 * c.Scale / float64(g)
		for adc := 0; adc < 255; adc++ {
			d := c.Volts(byte(adc+1), g, 37) - c.Volts(byte(adc), g, 37)
			if math.Abs(d-step) > 1e-9 {
				t.Fatalf("gain %d adc %d: step %v, expected %v", g, adc, d, step)
			}
		}
	}
}

func TestVoltsMonotonicInGain(t *testing.T) {
	c := Default()
	for adc := 0; adc < 256; adc++ {
		var up, down bool
		prev := c.Volts(byte(adc), oscilloscope.Gains[0], 0)
		for _, g := range oscilloscope.Gains[1:] {
			v := c.Volts(byte(adc), g, 0)
			if v > prev {
				up = true
			}
			if v < prev {
				down = true
			}
			prev = v
		}
		if up && down {
			t.Errorf("adc %d: volts not monotonic in gain", adc)
		}
	}
}

func TestVoltsUserOffsetIsHalved(t *testing.T) {
	c := Default()
	d := c.Volts(100, 2, 100) - c.Volts(100, 2, 0)
	if math.Abs(d-0.5) > 1e-12 {
		t.Errorf("expected 1.00 V of offset to shift by 0.5 V, got %v", d)
	}
}

func TestOffsetCorrection(t *testing.T) {
	c := Default()
	c.OffsetCorrection = 0.1
	base := c.Volts(128, 2, 0)
	c.CorrectOffset = true
	// OC appears inside the gain term and again outside it
	expected := base + 0.1*c.Scale/2 + 0.1
	if got := c.Volts(128, 2, 0); math.Abs(got-expected) > 1e-12 {
		t.Errorf("expected %v got %v", expected, got)
	}
}

func TestLoadYamlKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cal.yml")
	if err := os.WriteFile(path, []byte("baseline: 4.1\ncorrectOffset: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadYaml(path)
	if err != nil {
		t.Fatal(err)
	}
	expected := Default()
	expected.Baseline = 4.1
	expected.CorrectOffset = true
	if diff := cmp.Diff(expected, c); diff != "" {
		t.Errorf("constants mismatch (-want +got):\n%s", diff)
	}
}

func TestDecimate(t *testing.T) {
	out := Decimate([]float64{0, 2, 4, 6}, 8)
	expected := []float64{0, 1, 2, 3, 4, 5, 6, 6}
	if diff := cmp.Diff(expected, out); diff != "" {
		t.Errorf("decimation mismatch (-want +got):\n%s", diff)
	}
	if Decimate(nil, 4) != nil {
		t.Error("expected nil for empty input")
	}
}

func TestMovingAverageEdges(t *testing.T) {
	out := MovingAverage([]float64{1, 2, 3, 4, 5, 6}, 5)
	expected := []float64{2, 2.5, 3, 4, 4.5, 5}
	if diff := cmp.Diff(expected, out); diff != "" {
		t.Errorf("moving average mismatch (-want +got):\n%s", diff)
	}
}

func TestLowPassDropsLeadIn(t *testing.T) {
	in := make([]float64, 200)
	for i := range in {
		in[i] = 1.5
	}
	out := LowPass(in)
	if len(out) != 190 {
		t.Fatalf("expected 190 samples, got %d", len(out))
	}
	for i, v := range out {
		if math.Abs(v-1.5) > 1e-12 {
			t.Fatalf("sample %d: expected 1.5 got %v", i, v)
		}
	}
	if len(LowPass(make([]float64, 8))) != 8 {
		t.Error("short inputs keep their lead-in")
	}
}

func TestPipelineProcess(t *testing.T) {
	cfg := oscilloscope.DefaultConfig()
	cfg.Mode = oscilloscope.CH2Only
	cfg.CH2Gain = 4
	raw := make([]byte, 400)
	for i := range raw {
		raw[i] = 128
	}
	f := acquire.Frame{Seq: 9, CH2: raw, Config: cfg}
	wav := NewPipeline().Process(f)
	if len(wav.CH1) != 0 || len(wav.CH2) != 400 {
		t.Fatalf("expected 0/400 samples, got %d/%d", len(wav.CH1), len(wav.CH2))
	}
	if wav.Seq != 9 || math.Abs(wav.DT-5e-6) > 1e-15 || wav.TriggerIndex != -1 {
		t.Errorf("unexpected metadata %+v", wav)
	}
	if math.Abs(wav.CH2[0]-0.22) > 1e-12 {
		t.Errorf("expected 0.22 V, got %v", wav.CH2[0])
	}
}

func TestPipelineTopRateDecimates(t *testing.T) {
	cfg := oscilloscope.DefaultConfig()
	cfg.SampleRate = 1
	raw := make([]byte, 200)
	for i := range raw {
		raw[i] = byte(i)
	}
	p := NewPipeline()
	v := p.Channel(raw, 0, cfg)
	if len(v) != 200 {
		t.Fatalf("expected 200 samples, got %d", len(v))
	}
	c := p.Constants
	mid := (c.Volts(0, 1, 0) + c.Volts(1, 1, 0)) / 2
	if math.Abs(v[1]-mid) > 1e-12 || v[2] != c.Volts(1, 1, 0) {
		t.Errorf("decimation not applied at the top rate: %v %v", v[1], v[2])
	}
}
