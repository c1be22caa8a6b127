package calib

import (
	"github.com/nasa-jpl/scopehost/acquire"
	"github.com/nasa-jpl/scopehost/oscilloscope"
)

// Pipeline turns capture frames into calibrated waveforms
type Pipeline struct {
	Constants Constants

	// LowPass enables the width-5 filter and lead-in discard
	LowPass bool
}

// NewPipeline returns a pipeline with the stock constants and no filter
func NewPipeline() Pipeline {
	return Pipeline{Constants: Default()}
}

// Channel converts one channel captured under cfg.  ch is 0 or 1.
func (p Pipeline) Channel(raw []byte, ch int, cfg oscilloscope.Config) []float64 {
	gain, offset := cfg.CH1Gain, cfg.CH1Offset
	if ch == 1 {
		gain, offset = cfg.CH2Gain, cfg.CH2Offset
	}
	v := p.Constants.Convert(raw, gain, offset)
	if len(v) == 0 {
		return v
	}
	if cfg.SampleRate == 1 {
		v = Decimate(v, len(raw))
	}
	if p.LowPass {
		v = LowPass(v)
	}
	return v
}

// Process converts both channels of a frame
func (p Pipeline) Process(f acquire.Frame) oscilloscope.Waveform {
	return oscilloscope.Waveform{
		Seq:          f.Seq,
		DT:           f.Config.Rate().DT(),
		CH1:          p.Channel(f.CH1, 0, f.Config),
		CH2:          p.Channel(f.CH2, 1, f.Config),
		TriggerIndex: -1,
		Config:       f.Config,
	}
}
