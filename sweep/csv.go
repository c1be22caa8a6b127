package sweep

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"github.com/nasa-jpl/scopehost/oscilloscope"
)

// EncodeCSV writes the result in the Bode export layout.  gen is the
// timestamp written to the header, now if zero.
func (r Result) EncodeCSV(w io.Writer, gen time.Time) error {
	if gen.IsZero() {
		gen = time.Now()
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "# Bode Plot Data")
	fmt.Fprintf(bw, "# Generated: %s\n", gen.Format(oscilloscope.TimestampLayout))
	fmt.Fprintf(bw, "# Points: %d\n", r.Len())
	fmt.Fprintln(bw)
	fmt.Fprintln(bw, "Frequency(Hz),Magnitude(dB),Phase(degrees)")
	for i := range r.Frequencies {
		fmt.Fprintf(bw, "%.2f,%.3f,%.2f\n", r.Frequencies[i], r.Magnitudes[i], r.Phases[i])
	}
	return bw.Flush()
}
