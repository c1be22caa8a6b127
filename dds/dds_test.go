package dds

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/nasa-jpl/scopehost/oscilloscope"
)

func sine(t *testing.T) []byte {
	t.Helper()
	m, err := Master(Sine)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestCeil2(t *testing.T) {
	cases := map[float64]int{-3: 1, 0: 1, 0.5: 1, 1: 1, 1.01: 2, 2: 2, 3: 4, 65.536: 128, 128: 128, 3276.8: 4096}
	for in, want := range cases {
		if got := Ceil2(in); got != want {
			t.Errorf("Ceil2(%v): expected %d got %d", in, want, got)
		}
	}
	for x := 0.0; x < 5000; x += 0.37 {
		want := int(math.Pow(2, math.Ceil(math.Log2(math.Max(x, 1)))))
		if got := Ceil2(x); got != want || got == 0 {
			t.Fatalf("Ceil2(%v): expected %d got %d", x, want, got)
		}
	}
}

// S4
func TestPlan1kHz(t *testing.T) {
	p, err := NewPlan(1000, sine(t))
	if err != nil {
		t.Fatal(err)
	}
	if p.SampleCount != 512 || len(p.Table) != 512 {
		t.Errorf("expected 512 samples, got %d (table %d)", p.SampleCount, len(p.Table))
	}
	if p.TimerPeriod != 62 {
		t.Errorf("expected timer period 62, got %d", p.TimerPeriod)
	}
	if p.RelativeError() > 0.02 {
		t.Errorf("realized %v Hz is more than 2%% from 1 kHz", p.Realized())
	}
}

// S5
func TestPlan50kHz(t *testing.T) {
	p, err := NewPlan(50000, sine(t))
	if err != nil {
		t.Fatal(err)
	}
	if p.PhaseStep != 4096 {
		t.Errorf("expected phase step 4096, got %d", p.PhaseStep)
	}
	if p.SampleCount < 2 || p.SampleCount > 512 {
		t.Errorf("expected a non-trivial sample count, got %d", p.SampleCount)
	}
	if p.RelativeError() > 0.02 {
		t.Errorf("realized %v Hz is more than 2%% from 50 kHz", p.Realized())
	}
}

func TestPlanAllFrequencies(t *testing.T) {
	m := sine(t)
	for f := 1.0; f <= 50000; f = math.Ceil(f*1.013 + 0.5) {
		p, err := NewPlan(f, m)
		if err != nil {
			t.Fatalf("%v Hz: %v", f, err)
		}
		if p.TimerPeriod < 1 || p.TimerPeriod > MaxPeriod {
			t.Errorf("%v Hz: timer period %d out of range", f, p.TimerPeriod)
		}
		if p.SampleCount < 1 || p.SampleCount > MaxSamples || len(p.Table) != p.SampleCount {
			t.Errorf("%v Hz: sample count %d, table %d", f, p.SampleCount, len(p.Table))
		}
		if p.RelativeError() > 0.02 {
			t.Errorf("%v Hz: realized %v, error %.2f%%", f, p.Realized(), 100*p.RelativeError())
		}
	}
	for _, f := range []float64{1, 999.999, 1000, 49999, 50000} {
		p, _ := NewPlan(f, m)
		if p.RelativeError() > 0.02 {
			t.Errorf("%v Hz: realized %v", f, p.Realized())
		}
	}
}

func TestPlanRejectsOutOfRange(t *testing.T) {
	for _, f := range []float64{0, 0.5, 50001, math.NaN()} {
		if _, err := NewPlan(f, sine(t)); !errors.Is(err, oscilloscope.ErrInvalidParameter) {
			t.Errorf("%v Hz: expected ErrInvalidParameter, got %v", f, err)
		}
	}
	if _, err := NewPlan(1000, make([]byte, 10)); !errors.Is(err, oscilloscope.ErrInvalidParameter) {
		t.Errorf("short master: expected ErrInvalidParameter, got %v", err)
	}
}

func TestLowPathResamples(t *testing.T) {
	m := make([]byte, TableSize)
	for i := range m {
		m[i] = byte(i)
	}
	p, err := NewPlan(100, m)
	if err != nil {
		t.Fatal(err)
	}
	if p.Table[0] != 0 || p.Table[511] != 255 || p.Table[2] != 1 {
		t.Errorf("unexpected nearest neighbor resample %v %v %v", p.Table[0], p.Table[2], p.Table[511])
	}
	if p.TimerPeriod != 625 {
		t.Errorf("expected period 625 at 100 Hz, got %d", p.TimerPeriod)
	}
}

func TestTrailingZeroReplaced(t *testing.T) {
	m := make([]byte, TableSize)
	for i := range m {
		m[i] = 9
	}
	// at 50 kHz the last entry comes from master index 240
	m[240] = 0
	p, err := NewPlan(50000, m)
	if err != nil {
		t.Fatal(err)
	}
	if p.Table[len(p.Table)-1] != 9 {
		t.Errorf("expected trailing zero to be replaced by 9, got %d", p.Table[len(p.Table)-1])
	}
}

func TestFramesOrder(t *testing.T) {
	p := Plan{TimerPeriod: 0x0102, SampleCount: 3, Table: []byte{7, 8, 9}}
	fr, err := p.Frames()
	if err != nil {
		t.Fatal(err)
	}
	expected := [][]byte{
		{'p', 1, 2},
		{'N', 0, 3},
		{'r', 0, 0, 7, 8, 9},
		{'f', 0, 0},
	}
	if diff := cmp.Diff(expected, fr); diff != "" {
		t.Errorf("frame mismatch (-want +got):\n%s", diff)
	}
}

func TestMasterShapes(t *testing.T) {
	s := sine(t)
	if s[0] != 122 || s[64] != 239 || s[192] != 5 {
		t.Errorf("sine table landmarks wrong: %d %d %d", s[0], s[64], s[192])
	}
	sq, _ := Master(Square)
	if sq[0] != 5 || sq[127] != 5 || sq[128] != 250 || sq[255] != 250 {
		t.Error("square table wrong")
	}
	tri, _ := Master(Triangle)
	if tri[0] != 5 || tri[127] != 250 || tri[128] != 250 || tri[255] != 5 {
		t.Error("triangle table wrong")
	}
	up, _ := Master(RampUp)
	down, _ := Master(RampDown)
	if up[0] != 5 || up[255] != 249 || down[0] != 254 || down[255] != 5 {
		t.Error("ramp tables wrong")
	}
	for i := 1; i < TableSize; i++ {
		if up[i] < up[i-1] || down[i] > down[i-1] {
			t.Fatalf("ramps not monotonic at %d", i)
		}
	}
	if _, err := Master(Arbitrary); err != ErrNoBuiltin {
		t.Errorf("expected ErrNoBuiltin, got %v", err)
	}
	s[0] = 0
	if s2 := sine(t); s2[0] != 122 {
		t.Error("Master must return a copy")
	}
}

func TestLoadCSV(t *testing.T) {
	in := "# header comment\n10,ignored\n300\n-4\n\n127.6\n"
	tbl, err := LoadCSV(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(tbl) != TableSize {
		t.Fatalf("expected %d entries, got %d", TableSize, len(tbl))
	}
	if diff := cmp.Diff([]byte{10, 255, 0, 128, 128}, tbl[:5]); diff != "" {
		t.Errorf("unexpected values (-want +got):\n%s", diff)
	}
	if tbl[255] != 128 {
		t.Errorf("expected padding with the last value, got %d", tbl[255])
	}
	if _, err = LoadCSV(strings.NewReader("")); err != ErrEmptyCSV {
		t.Errorf("expected ErrEmptyCSV, got %v", err)
	}
	if _, err = LoadCSV(strings.NewReader("abc\n")); err == nil {
		t.Error("expected a parse error")
	}
}

func TestLoadCSVTruncatesAt256(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 300; i++ {
		sb.WriteString("1\n")
	}
	tbl, err := LoadCSV(strings.NewReader(sb.String()))
	if err != nil || len(tbl) != TableSize {
		t.Errorf("expected 256 entries, got %d %v", len(tbl), err)
	}
}

func TestParseWaveform(t *testing.T) {
	w, err := ParseWaveform("Ramp-Up")
	if err != nil || w != RampUp {
		t.Errorf("expected RampUp, got %v %v", w, err)
	}
	if _, err = ParseWaveform("sawtooth"); !errors.Is(err, oscilloscope.ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter, got %v", err)
	}
}
