// Package digio covers the instrument's four bit digital port and its
// digital frequency generator.
package digio

import (
	"fmt"
	"time"

	"github.com/nasa-jpl/scopehost/codec"
	"github.com/nasa-jpl/scopehost/oscilloscope"
	"github.com/nasa-jpl/scopehost/util"
)

const (
	// ClockHz is the generator's source clock
	ClockHz = 32_000_000

	// MinFrequency and MaxFrequency bound the generator output
	MinFrequency = 1
	MaxFrequency = ClockHz

	// MaxCount is the largest counter reload
	MaxCount = 65535

	// Bits is the width of the digital port
	Bits = 4

	// FrameGap separates the count and divider frames
	FrameGap = 30 * time.Millisecond

	// PulseWidth is how long PulseDigital holds a bit high
	PulseWidth = 200 * time.Millisecond
)

// Dividers is the prescaler ladder.  Dividers[i] is selected by index i.
var Dividers = [...]int{1, 2, 4, 8, 64, 256, 1024}

// Plan is a generator setting
type Plan struct {
	Frequency int    `json:"frequency"`
	Count     uint16 `json:"count"`
	Index     byte   `json:"index"`
}

// Divider is the prescaler selected by Index
func (p Plan) Divider() int { return Dividers[p.Index] }

// Realized is the frequency the generator will produce
func (p Plan) Realized() float64 {
	if p.Count == 0 {
		return 0
	}
	return float64(ClockHz) / float64(p.Divider()) / float64(p.Count)
}

// Frames returns the count and divider frames, to be sent FrameGap apart
func (p Plan) Frames() []codec.Frame {
	return []codec.Frame{codec.DigCount(p.Count), codec.DigDivider(p.Index)}
}

// PlanFrequency walks the prescaler ladder until the count fits in 16 bits.
// Division is integral at every step, as the firmware expects.
func PlanFrequency(fd int) (Plan, error) {
	if fd < MinFrequency || fd > MaxFrequency {
		return Plan{}, fmt.Errorf("%w: digital frequency %d not in [%d,%d] Hz", oscilloscope.ErrInvalidParameter, fd, MinFrequency, MaxFrequency)
	}
	count := ClockHz / fd
	idx := 0
	for count > MaxCount && idx < len(Dividers)-1 {
		count /= Dividers[idx+1] / Dividers[idx]
		idx++
	}
	return Plan{Frequency: fd, Count: uint16(count), Index: byte(idx)}, nil
}

// Inputs decodes the reply to a digital input read
func Inputs(b byte) [Bits]bool {
	var out [Bits]bool
	for i := range out {
		out[i] = util.GetBit(b, uint(i))
	}
	return out
}

// Mask packs four levels into an output mask
func Mask(levels [Bits]bool) byte {
	var b byte
	for i, l := range levels {
		b = util.SetBit(b, uint(i), l)
	}
	return b
}

// ValidBit checks a digital port bit number
func ValidBit(bit int) error {
	if bit < 0 || bit >= Bits {
		return fmt.Errorf("%w: digital bit %d not in [0,%d]", oscilloscope.ErrInvalidParameter, bit, Bits-1)
	}
	return nil
}
