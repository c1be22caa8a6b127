package scope

import (
	"errors"
	"io"
	"log"

	"github.com/nasa-jpl/scopehost/acquire"
	"github.com/nasa-jpl/scopehost/codec"
	"github.com/nasa-jpl/scopehost/oscilloscope"
	"github.com/nasa-jpl/scopehost/trigger"
)

// Config returns the device configuration used for the next capture
func (c *Controller) Config() oscilloscope.Config {
	var cfg oscilloscope.Config
	c.call(func() error { cfg = c.cfg; return nil })
	return cfg
}

// Configure replaces the device configuration.  A capture in flight keeps
// the configuration it was started with.
func (c *Controller) Configure(cfg oscilloscope.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return c.call(func() error {
		if cfg.CH1Gain != c.cfg.CH1Gain || cfg.CH2Gain != c.cfg.CH2Gain {
			c.gainsDirty = true
		}
		c.cfg = cfg
		return nil
	})
}

// Update applies fn to a copy of the configuration and stores the result
// if it is valid
func (c *Controller) Update(fn func(*oscilloscope.Config)) error {
	return c.call(func() error {
		cfg := c.cfg
		fn(&cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}
		if cfg.CH1Gain != c.cfg.CH1Gain || cfg.CH2Gain != c.cfg.CH2Gain {
			c.gainsDirty = true
		}
		c.cfg = cfg
		return nil
	})
}

// Run captures continuously until Stop
func (c *Controller) Run() error {
	return c.startRun(false)
}

// Single captures until one frame is released by the trigger
func (c *Controller) Single() error {
	return c.startRun(true)
}

func (c *Controller) startRun(single bool) error {
	return c.call(func() error {
		if c.conn == nil {
			return ErrNotConnected
		}
		if c.sweeper.Active() || c.running || c.mach.Busy() {
			return acquire.ErrAcquisitionInProgress
		}
		c.running, c.single = true, single
		return nil
	})
}

// Stop ends a run.  The capture in flight completes and is delivered.
func (c *Controller) Stop() error {
	return c.call(func() error {
		c.running = false
		return nil
	})
}

// Abort ends a run and the capture in flight immediately.  A sweep in
// progress is canceled.
func (c *Controller) Abort() error {
	return c.call(func() error {
		if c.conn == nil {
			return ErrNotConnected
		}
		c.running = false
		c.startTok++
		if c.sweeper.Active() {
			c.sweeper.Cancel()
		}
		err := c.mach.Abort()
		if c.sweeper.Active() {
			c.sweeper.CaptureFailed(err)
		}
		return err
	})
}

// Running is true between Run (or Single) and the end of the run
func (c *Controller) Running() bool {
	var r bool
	c.call(func() error { r = c.running; return nil })
	return r
}

// State returns the acquisition machine's state
func (c *Controller) State() acquire.State {
	var s acquire.State
	c.call(func() error { s = c.mach.State(); return nil })
	return s
}

// Last returns the last released waveform
func (c *Controller) Last() (oscilloscope.Waveform, [2]oscilloscope.Measurements, error) {
	var (
		w oscilloscope.Waveform
		m [2]oscilloscope.Measurements
	)
	err := c.call(func() error {
		if c.last == nil {
			return ErrNoFrame
		}
		w, m = *c.last, c.lastMeas
		return nil
	})
	return w, m, err
}

// ExportCSV writes the last released waveform as CSV
func (c *Controller) ExportCSV(w io.Writer, opts oscilloscope.CSVOptions) error {
	wav, _, err := c.Last()
	if err != nil {
		return err
	}
	return wav.EncodeCSV(w, opts)
}

// ExportFITS writes the last released waveform as a FITS image
func (c *Controller) ExportFITS(w io.Writer) error {
	wav, _, err := c.Last()
	if err != nil {
		return err
	}
	return wav.EncodeFITS(w)
}

// startCapture starts the machine under cfg.  Changed gains go out first,
// a setup gap apart, and the start waits behind any paced send already
// queued; a start queued that way reports its failure through
// captureFailed.
func (c *Controller) startCapture(cfg oscilloscope.Config) error {
	var frames [][]byte
	if c.gainsDirty {
		s1, err := oscilloscope.GainStep(cfg.CH1Gain)
		if err != nil {
			return err
		}
		s2, err := oscilloscope.GainStep(cfg.CH2Gain)
		if err != nil {
			return err
		}
		frames = [][]byte{codec.Gain(0, s1).Bytes(), codec.Gain(1, s2).Bytes()}
	}
	if len(frames) == 0 && len(c.sends) == 0 {
		return c.mach.Start(cfg)
	}
	c.gainsDirty = false
	tok := c.startTok
	c.queue(c.setupPacer, frames, func(err error) {
		if tok != c.startTok {
			return
		}
		if err == nil {
			err = c.mach.Start(cfg)
		}
		if err != nil {
			if len(frames) > 0 {
				c.gainsDirty = true
			}
			c.captureFailed(err)
		}
	})
	return nil
}

// captureFailed handles a capture that could not be started
func (c *Controller) captureFailed(err error) {
	if c.sweeper.Active() {
		c.sweeper.CaptureFailed(err)
		return
	}
	log.Printf("capture not started: %v\n", err)
	c.running = false
}

// machineEvent runs inside the machine's call stack; it must not call back
// into the machine
func (c *Controller) machineEvent(ev acquire.Event) {
	if c.sweeper.Active() {
		c.sweepEvent(ev)
		return
	}
	switch ev.Kind {
	case acquire.EventFrame:
		c.frame(ev.Frame)
	case acquire.EventTimeout:
		log.Println(ev.Err)
		c.running = false
		c.hub.publish(Event{Kind: EventTimeout, Err: ev.Err})
	case acquire.EventPortError:
		log.Println(ev.Err)
		c.running = false
		c.hub.publish(Event{Kind: EventPortError, Err: ev.Err})
	}
}

// frame calibrates a capture and releases it if the trigger says so.  A
// level outside the signal switches the trigger to auto.
func (c *Controller) frame(f *acquire.Frame) {
	wav := c.opts.Pipeline.Process(*f)
	res, err := trigger.Evaluate(wav)
	if errors.Is(err, trigger.ErrOutOfRange) {
		log.Printf("%v, switching to auto trigger\n", err)
		c.cfg.TrigSource = oscilloscope.TrigAuto
		c.hub.publish(Event{Kind: EventTriggerWarning, Err: err})
		wav.Config.TrigSource = oscilloscope.TrigAuto
		res, _ = trigger.Evaluate(wav)
	}
	if !res.Triggered {
		return
	}
	wav.TriggerIndex = res.Index
	meas := wav.Measure()
	c.last, c.lastMeas = &wav, meas
	if c.single {
		c.running = false
	}
	c.hub.publish(Event{Kind: EventFrame, Frame: f, Waveform: &wav, Measurements: &meas})
}
