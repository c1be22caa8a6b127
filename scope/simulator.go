package scope

import (
	"io"
	"math"
	"sync"

	"github.com/nasa-jpl/scopehost/codec"
	"github.com/nasa-jpl/scopehost/dds"
	"github.com/nasa-jpl/scopehost/oscilloscope"
)

// SimSignature is what the Simulator answers a signature read with
const SimSignature = "SIMSCOPE v1.0\r\n"

// Simulator plays the device side of the protocol.  CH1 sees the DDS output
// and CH2 sees it through a network of gain Gain and phase Phase degrees.
// With no DDS program CH1 sees a 1 kHz sine.
type Simulator struct {
	// Silent stops all replies, to provoke timeouts
	Silent bool

	// Amplitude of the CH1 sine in ADC codes
	Amplitude float64

	// Gain and Phase describe the network between CH1 and CH2
	Gain  float64
	Phase float64

	// Inputs is returned to a digital input read
	Inputs byte

	mu      sync.Mutex
	cond    *sync.Cond
	out     []byte
	in      []byte
	closed  bool
	frames  []codec.Frame
	rate    int
	period  int
	samples int
	upload  int
	table   []byte
}

// NewSimulator returns a simulator with a unit gain network
func NewSimulator() *Simulator {
	s := &Simulator{Amplitude: 100, Gain: 1, rate: 4}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Frames returns every command frame received so far
func (s *Simulator) Frames() []codec.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]codec.Frame(nil), s.frames...)
}

// Opcodes returns the opcode of every frame received so far
func (s *Simulator) Opcodes() []codec.Opcode {
	fs := s.Frames()
	out := make([]codec.Opcode, len(fs))
	for i, f := range fs {
		out[i] = f.Op()
	}
	return out
}

// SetSilent switches replies off or on
func (s *Simulator) SetSilent(silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Silent = silent
}

// Read blocks until reply bytes are available or the simulator is closed
func (s *Simulator) Read(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.out) == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return 0, io.EOF
	}
	n := copy(b, s.out)
	s.out = s.out[n:]
	return n, nil
}

// Write accepts command bytes, which may split frames anywhere
func (s *Simulator) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	s.in = append(s.in, b...)
	for {
		if s.upload > 0 {
			if len(s.in) < s.upload {
				break
			}
			s.table = append([]byte(nil), s.in[:s.upload]...)
			s.in = s.in[s.upload:]
			s.upload = 0
			continue
		}
		if len(s.in) < codec.FrameSize {
			break
		}
		var f codec.Frame
		copy(f[:], s.in)
		s.in = s.in[codec.FrameSize:]
		s.frames = append(s.frames, f)
		s.handle(f)
	}
	s.cond.Broadcast()
	return len(b), nil
}

// Close unblocks readers
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
	return nil
}

func (s *Simulator) reply(b ...byte) {
	if !s.Silent {
		s.out = append(s.out, b...)
	}
}

func (s *Simulator) handle(f codec.Frame) {
	switch f.Op() {
	case codec.OpSampleRate:
		s.rate = int(f[1])
	case codec.OpDDSPeriod:
		s.period = int(f.Word())
	case codec.OpDDSSamples:
		s.samples = int(f.Word())
	case codec.OpDDSUpload:
		s.upload = s.samples
	case codec.OpCapture:
		s.reply(0x06)
	case codec.OpRead:
		switch f[1] {
		case codec.ReadBoth, codec.ReadCH1:
			s.reply(s.wave(0, codec.ReadLength(f[1]))...)
		case codec.ReadCH2Pair, codec.ReadCH2:
			s.reply(s.wave(1, codec.ReadLength(f[1]))...)
		}
	case codec.OpDigitalIn:
		s.reply(s.Inputs & 0x0F)
	case codec.OpSignature:
		s.reply([]byte(SimSignature)...)
	}
}

// frequency is the DDS output the device would produce
func (s *Simulator) frequency() float64 {
	if s.period == 0 || s.samples == 0 {
		return 1000
	}
	return dds.ClockHz / float64(s.period) / float64(s.samples)
}

func (s *Simulator) wave(ch, n int) []byte {
	r, err := oscilloscope.RateAt(s.rate)
	if err != nil {
		r = oscilloscope.Rates[3]
	}
	amp, ph := s.Amplitude, 0.
	if ch == 1 {
		amp *= s.Gain
		ph = s.Phase * math.Pi / 180
	}
	w := 2 * math.Pi * s.frequency()
	dt := r.DT()
	if r.Index == 1 {
		// the top rate is sampled at half speed and interpolated by the host
		dt *= 2
	}
	out := make([]byte, n)
	for i := range out {
		v := 128 + amp*math.Sin(w*float64(i)*dt+ph)
		out[i] = byte(math.Max(0, math.Min(255, math.Round(v))))
	}
	return out
}

// Table returns the last DDS table uploaded
func (s *Simulator) Table() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.table...)
}
