package oscilloscope

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// TimestampLayout is the layout of the Generated header line in exports
const TimestampLayout = "2006-01-02 15:04:05"

// Waveform is a calibrated capture, in volts
type Waveform struct {
	// Seq is the sequence number of the capture it was derived from
	Seq uint64 `json:"seq"`

	// DT is the temporal sample spacing in seconds
	DT float64 `json:"dt"`

	// CH1 and CH2 hold the channel data.  One is empty in single channel modes.
	CH1 []float64 `json:"ch1"`
	CH2 []float64 `json:"ch2"`

	// TriggerIndex is the sample the trigger fired on, or -1
	TriggerIndex int `json:"triggerIndex"`

	// Config is the configuration the capture was taken under
	Config Config `json:"config"`
}

// Len is the number of samples in the longer channel
func (wav Waveform) Len() int {
	if len(wav.CH1) > len(wav.CH2) {
		return len(wav.CH1)
	}
	return len(wav.CH2)
}

// Channel returns CH1 for 0 and CH2 for anything else
func (wav Waveform) Channel(ch int) []float64 {
	if ch == 0 {
		return wav.CH1
	}
	return wav.CH2
}

// Times returns the time of each sample in microseconds
func (wav Waveform) Times() []float64 {
	n := wav.Len()
	out := make([]float64, n)
	us := wav.DT * 1e6
	for i := range out {
		out[i] = float64(i) * us
	}
	return out
}

// CSVOptions controls EncodeCSV
type CSVOptions struct {
	// Spectrum appends the FFT section
	Spectrum bool

	// Generated is the timestamp written to the header, now if zero
	Generated time.Time
}

func fmtCell(x []float64, i, prec int) string {
	if i >= len(x) {
		return ""
	}
	return strconv.FormatFloat(x[i], 'f', prec, 64)
}

// EncodeCSV writes the waveform in the oscilloscope export layout:
// a block of # header lines, a blank line, then Time(us),CH1(V),CH2(V)
// and optionally the spectrum section
func (wav *Waveform) EncodeCSV(w io.Writer, opts CSVOptions) error {
	gen := opts.Generated
	if gen.IsZero() {
		gen = time.Now()
	}
	n := wav.Len()
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "# Oscilloscope Data Export")
	fmt.Fprintf(bw, "# Generated: %s\n", gen.Format(TimestampLayout))
	fmt.Fprintf(bw, "# Data Points: %d\n", n)
	fmt.Fprintln(bw, "# Time Unit: microseconds")
	fmt.Fprintln(bw, "# Voltage Unit: Volts")
	fmt.Fprintln(bw)

	// the tables go through a csv.Writer sharing bw, flushed before any
	// further # lines
	cw := csv.NewWriter(bw)
	row := []string{"Time(us)", "CH1(V)", "CH2(V)"}
	if err := cw.Write(row); err != nil {
		return err
	}
	t := wav.Times()
	for i := 0; i < n; i++ {
		row[0], row[1], row[2] = fmtCell(t, i, 3), fmtCell(wav.CH1, i, 3), fmtCell(wav.CH2, i, 3)
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	if opts.Spectrum {
		s := wav.Spectrum()
		fmt.Fprintln(bw)
		fmt.Fprintln(bw, "# FFT Data")
		fmt.Fprintln(bw, "# Frequency Unit: Hz")
		fmt.Fprintln(bw, "# Magnitude Unit: dB")
		fmt.Fprintln(bw)
		row = []string{"Frequency(Hz)", "CH1_FFT(dB)", "CH2_FFT(dB)"}
		if err := cw.Write(row); err != nil {
			return err
		}
		for i := range s.Freq {
			row[0], row[1], row[2] = fmtCell(s.Freq, i, 1), fmtCell(s.CH1, i, 2), fmtCell(s.CH2, i, 2)
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return err
		}
	}
	return bw.Flush()
}
