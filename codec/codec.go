// Package codec encodes the three-byte command frames understood by the
// oscilloscope firmware and knows the length of every reply it can provoke.
//
// frames are [op] [a] [b].  Sixteen bit words are split MSB into a, LSB into b.
// The device replies are raw bytes with no boundary marker, so a reader must
// know how many bytes to wait for; the Reply* constants carry that knowledge.
package codec

import (
	"errors"
	"fmt"
)

// Opcode is the first byte of a command frame
type Opcode byte

const (
	// OpGain sets a channel gain; a = channel index, b = gain step
	OpGain Opcode = 'G'
	// OpOffsetCH1 sets the CH1 offset
	OpOffsetCH1 Opcode = 'O'
	// OpOffsetCH2 sets the CH2 offset
	OpOffsetCH2 Opcode = 'o'
	// OpTrigSource sets the trigger source
	OpTrigSource Opcode = 'T'
	// OpTrigPolarity sets the trigger polarity
	OpTrigPolarity Opcode = 'P'
	// OpTrigLevel sets the trigger level DAC code
	OpTrigLevel Opcode = 'L'
	// OpMode sets the acquisition mode
	OpMode Opcode = 'F'
	// OpSampleRate sets the sample rate index
	OpSampleRate Opcode = 'S'
	// OpCapture begins a capture; the device acks with one byte when full
	OpCapture Opcode = 'C'
	// OpRead requests captured data
	OpRead Opcode = 'D'
	// OpAbort aborts the acquisition in progress
	OpAbort Opcode = 'A'
	// OpDDSPeriod sets the DDS timer period
	OpDDSPeriod Opcode = 'p'
	// OpDDSSamples sets the number of DDS table entries walked per period
	OpDDSSamples Opcode = 'N'
	// OpDDSUpload prefixes a DDS table upload
	OpDDSUpload Opcode = 'r'
	// OpDDSStart starts the DDS
	OpDDSStart Opcode = 'f'
	// OpDigitalOut sets the digital output bits
	OpDigitalOut Opcode = 'h'
	// OpDigitalIn reads the digital inputs
	OpDigitalIn Opcode = 'i'
	// OpSignature reads the device signature
	OpSignature Opcode = 'e'
	// OpDigCount sets the digital frequency generator count
	OpDigCount Opcode = 'c'
	// OpDigDivider sets the digital frequency generator divider index
	OpDigDivider Opcode = 'd'
	// OpLED pulses the status LED
	OpLED Opcode = 't'
)

// read selectors, the a byte of a D frame
const (
	ReadBoth    byte = 1
	ReadCH1     byte = 2
	ReadCH2Pair byte = 3
	ReadCH2     byte = 4
)

// reply lengths
const (
	// ReplyAck is the length of the acknowledgment after C
	ReplyAck = 1
	// ReplyDual is the per-channel length in dual mode
	ReplyDual = 200
	// ReplySingle is the length of a single-channel read
	ReplySingle = 400
	// ReplyDigitalIn is the length of the reply to i
	ReplyDigitalIn = 1

	// FrameSize is the length of every command frame
	FrameSize = 3
	// MaxUpload is the largest DDS table the device accepts
	MaxUpload = 512
)

var (
	names = map[Opcode]string{
		OpGain:         "gain",
		OpOffsetCH1:    "offset-ch1",
		OpOffsetCH2:    "offset-ch2",
		OpTrigSource:   "trigger-source",
		OpTrigPolarity: "trigger-polarity",
		OpTrigLevel:    "trigger-level",
		OpMode:         "mode",
		OpSampleRate:   "sample-rate",
		OpCapture:      "capture",
		OpRead:         "read",
		OpAbort:        "abort",
		OpDDSPeriod:    "dds-period",
		OpDDSSamples:   "dds-samples",
		OpDDSUpload:    "dds-upload",
		OpDDSStart:     "dds-start",
		OpDigitalOut:   "digital-out",
		OpDigitalIn:    "digital-in",
		OpSignature:    "signature",
		OpDigCount:     "digital-count",
		OpDigDivider:   "digital-divider",
		OpLED:          "led",
	}

	// ErrShortFrame is generated when fewer than three bytes are decoded
	ErrShortFrame = errors.New("frame shorter than three bytes")

	// ErrUnknownOpcode is generated when the first byte of a frame is not a known opcode
	ErrUnknownOpcode = errors.New("unknown opcode")

	// ErrUploadTooLong is generated when a DDS table exceeds the device memory
	ErrUploadTooLong = errors.New("DDS table longer than device memory")
)

func (o Opcode) String() string {
	if s, ok := names[o]; ok {
		return s
	}
	return fmt.Sprintf("opcode(0x%02X)", byte(o))
}

// Known returns true if o is an opcode the firmware understands
func (o Opcode) Known() bool {
	_, ok := names[o]
	return ok
}

// Frame is a single command
type Frame [FrameSize]byte

// New builds a frame from its three bytes
func New(op Opcode, a, b byte) Frame {
	return Frame{byte(op), a, b}
}

// Word builds a frame carrying a 16-bit word, MSB first
func Word(op Opcode, v uint16) Frame {
	return Frame{byte(op), byte(v >> 8), byte(v)}
}

// Op returns the opcode of the frame
func (f Frame) Op() Opcode {
	return Opcode(f[0])
}

// Word returns the a and b bytes as a 16-bit word
func (f Frame) Word() uint16 {
	return uint16(f[1])<<8 | uint16(f[2])
}

// Bytes returns the frame as a slice, ready to write
func (f Frame) Bytes() []byte {
	return []byte{f[0], f[1], f[2]}
}

func (f Frame) String() string {
	return fmt.Sprintf("%s[%d %d]", f.Op(), f[1], f[2])
}

// Decode parses the first three bytes of b as a frame
func Decode(b []byte) (Frame, error) {
	var f Frame
	if len(b) < FrameSize {
		return f, ErrShortFrame
	}
	copy(f[:], b)
	if !f.Op().Known() {
		return f, fmt.Errorf("%w: 0x%02X", ErrUnknownOpcode, b[0])
	}
	return f, nil
}

// Gain sets the gain step of channel ch (0 or 1)
func Gain(ch, step byte) Frame { return New(OpGain, ch, step) }

// Offset sets the offset of channel ch (0 or 1) in hundredths of a volt.
// The value is sent as a two's complement 16-bit word.
func Offset(ch byte, hundredths int) Frame {
	op := OpOffsetCH1
	if ch == 1 {
		op = OpOffsetCH2
	}
	return Word(op, uint16(int16(hundredths)))
}

// OffsetValue recovers the signed offset from an O or o frame
func OffsetValue(f Frame) int {
	return int(int16(f.Word()))
}

// TrigSource sets the trigger source index
func TrigSource(src byte) Frame { return New(OpTrigSource, src, 0) }

// TrigPolarity sets the trigger polarity index
func TrigPolarity(pol byte) Frame { return New(OpTrigPolarity, pol, 0) }

// TrigLevel sets the 12-bit trigger DAC code.  The code is left justified,
// a holds the upper eight bits and the high nibble of b the lower four.
func TrigLevel(code uint16) Frame {
	code &= 0x0FFF
	return New(OpTrigLevel, byte(code>>4), byte(code&0xF)<<4)
}

// TrigLevelValue recovers the 12-bit code from an L frame
func TrigLevelValue(f Frame) uint16 {
	return uint16(f[1])<<4 | uint16(f[2]>>4)
}

// Mode sets the acquisition mode
func Mode(m byte) Frame { return New(OpMode, m, 0) }

// SampleRate sets the sample rate index
func SampleRate(idx byte) Frame { return New(OpSampleRate, idx, 0) }

// Capture begins a capture
func Capture() Frame { return New(OpCapture, 0, 0) }

// Read requests data with one of the Read* selectors
func Read(sel byte) Frame { return New(OpRead, sel, 0) }

// Abort aborts an acquisition
func Abort() Frame { return New(OpAbort, 0, 0) }

// DDSPeriod sets the DDS timer reload value
func DDSPeriod(p uint16) Frame { return Word(OpDDSPeriod, p) }

// DDSSamples sets the DDS sample count
func DDSSamples(n uint16) Frame { return Word(OpDDSSamples, n) }

// DDSStart starts the DDS
func DDSStart() Frame { return New(OpDDSStart, 0, 0) }

// Upload returns the r 0 0 prefix followed by the table
func Upload(table []byte) ([]byte, error) {
	if len(table) > MaxUpload {
		return nil, fmt.Errorf("%w: %d > %d", ErrUploadTooLong, len(table), MaxUpload)
	}
	out := make([]byte, FrameSize+len(table))
	out[0] = byte(OpDDSUpload)
	copy(out[FrameSize:], table)
	return out, nil
}

// DigitalOut sets the digital outputs to the low four bits of mask
func DigitalOut(mask byte) Frame { return New(OpDigitalOut, mask&0x0F, 0) }

// DigitalIn reads the digital inputs
func DigitalIn() Frame { return New(OpDigitalIn, 0, 0) }

// Signature reads the device signature
func Signature() Frame { return New(OpSignature, 0, 0) }

// DigCount sets the digital frequency generator count
func DigCount(count uint16) Frame { return Word(OpDigCount, count) }

// DigDivider sets the digital frequency generator divider index
func DigDivider(idx byte) Frame { return New(OpDigDivider, idx, 0) }

// LED pulses the status LED
func LED() Frame { return New(OpLED, 0, 0) }

// ReadLength returns the number of bytes the device sends in response to a
// read with selector sel, or zero for an unknown selector
func ReadLength(sel byte) int {
	switch sel {
	case ReadBoth, ReadCH2Pair:
		return ReplyDual
	case ReadCH1, ReadCH2:
		return ReplySingle
	default:
		return 0
	}
}
