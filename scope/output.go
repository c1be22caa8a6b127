package scope

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nasa-jpl/scopehost/acquire"
	"github.com/nasa-jpl/scopehost/codec"
	"github.com/nasa-jpl/scopehost/dds"
	"github.com/nasa-jpl/scopehost/digio"
	"github.com/nasa-jpl/scopehost/oscilloscope"
	"github.com/nasa-jpl/scopehost/sweep"
)

// SetArbitrary stores the master table used by the Arbitrary waveform
func (c *Controller) SetArbitrary(table []byte) error {
	if len(table) != dds.TableSize {
		return fmt.Errorf("%w: arbitrary table has %d entries, need %d", oscilloscope.ErrInvalidParameter, len(table), dds.TableSize)
	}
	tbl := append([]byte(nil), table...)
	return c.call(func() error {
		c.arbitrary = tbl
		return nil
	})
}

func (c *Controller) master(w dds.Waveform) ([]byte, error) {
	if w == dds.Arbitrary {
		if c.arbitrary == nil {
			return nil, dds.ErrNoBuiltin
		}
		return c.arbitrary, nil
	}
	return dds.Master(w)
}

// program plans a DDS program and queues it, frames FrameGap apart.  then
// runs once the program is out.
func (c *Controller) program(w dds.Waveform, f float64, then func(error)) (dds.Plan, error) {
	if c.conn == nil {
		return dds.Plan{}, ErrNotConnected
	}
	m, err := c.master(w)
	if err != nil {
		return dds.Plan{}, err
	}
	plan, err := dds.NewPlan(f, m)
	if err != nil {
		return plan, err
	}
	frames, err := plan.Frames()
	if err != nil {
		return plan, err
	}
	sent := plan
	c.queue(c.ddsPacer, frames, func(err error) {
		if err == nil {
			c.ddsPlan = &sent
		}
		then(err)
	})
	return plan, nil
}

// DDS programs the waveform generator to output w at f Hz and returns the
// plan that was sent.  It returns once the last frame is out.
func (c *Controller) DDS(w dds.Waveform, f float64) (dds.Plan, error) {
	var plan dds.Plan
	sent := make(chan error, 1)
	err := c.call(func() error {
		if c.sweeper.Active() {
			return acquire.ErrAcquisitionInProgress
		}
		var err error
		plan, err = c.program(w, f, func(err error) { sent <- err })
		return err
	})
	if err != nil {
		return plan, err
	}
	return plan, <-sent
}

// DDSPlan returns the last plan sent to the generator, if any
func (c *Controller) DDSPlan() (dds.Plan, bool) {
	var (
		p  dds.Plan
		ok bool
	)
	c.call(func() error {
		if c.ddsPlan != nil {
			p, ok = *c.ddsPlan, true
		}
		return nil
	})
	return p, ok
}

type sweepReply struct {
	r   sweep.Result
	err error
}

// Sweep runs a Bode sweep and blocks until it ends.  Canceling ctx cancels
// the sweep; the partial result is returned with sweep.ErrAborted.
func (c *Controller) Sweep(ctx context.Context, p sweep.Params) (sweep.Result, error) {
	ret := make(chan sweepReply, 1)
	err := c.call(func() error {
		if c.conn == nil {
			return ErrNotConnected
		}
		if c.sweeper.Active() || c.running || c.mach.Busy() || c.query != nil {
			return acquire.ErrAcquisitionInProgress
		}
		c.sweepRet = ret
		if err := c.sweeper.Begin(p); err != nil {
			c.sweepRet = nil
			return err
		}
		return nil
	})
	if err != nil {
		return sweep.Result{}, err
	}
	select {
	case r := <-ret:
		return r.r, r.err
	case <-ctx.Done():
		c.CancelSweep()
		r := <-ret
		return r.r, r.err
	}
}

// CancelSweep stops a sweep in progress.  The capture in flight, if any,
// completes first.
func (c *Controller) CancelSweep() error {
	return c.call(func() error {
		c.sweeper.Cancel()
		return nil
	})
}

// Sweeping is true while a sweep runs
func (c *Controller) Sweeping() bool {
	var s bool
	c.call(func() error { s = c.sweeper.Active(); return nil })
	return s
}

// LastSweep returns the result of the last sweep
func (c *Controller) LastSweep() (sweep.Result, bool) {
	var (
		r  sweep.Result
		ok bool
	)
	c.call(func() error {
		if c.lastSweep != nil {
			r, ok = *c.lastSweep, true
		}
		return nil
	})
	return r, ok
}

func (c *Controller) sweepEvent(ev acquire.Event) {
	switch ev.Kind {
	case acquire.EventFrame:
		c.sweeper.Captured(c.opts.Pipeline.Process(*ev.Frame))
	case acquire.EventTimeout:
		log.Printf("sweep point %d: %v\n", c.sweeper.Index(), ev.Err)
		c.hub.publish(Event{Kind: EventTimeout, Err: ev.Err})
		c.sweeper.CaptureFailed(ev.Err)
	case acquire.EventPortError:
		c.hub.publish(Event{Kind: EventPortError, Err: ev.Err})
		c.sweeper.CaptureFailed(ev.Err)
	}
}

// sweepDriver performs the sweeper's requests on the loop
type sweepDriver struct{ c *Controller }

func (d sweepDriver) Program(f float64) error {
	_, err := d.c.program(dds.Sine, f, d.c.sweeper.Programmed)
	return err
}

func (d sweepDriver) Capture(rate int) error {
	cfg := d.c.cfg
	cfg.Mode = oscilloscope.BothChannels
	cfg.SampleRate = rate
	cfg.TrigSource = oscilloscope.TrigAuto
	return d.c.startCapture(cfg)
}

func (d sweepDriver) Arm(dur time.Duration) { d.c.arm(slotSweep, dur) }
func (d sweepDriver) Disarm()               { d.c.disarm(slotSweep) }

func (d sweepDriver) Progress(k, n int, f float64) {
	log.Printf("sweep %d/%d at %.2f Hz\n", k, n, f)
	d.c.hub.publish(Event{Kind: EventSweepProgress, Progress: &Progress{Index: k, Total: n, Frequency: f}})
}

func (d sweepDriver) Done(r sweep.Result, err error) {
	d.c.lastSweep = &r
	ev := Event{Kind: EventSweepDone, Sweep: &r, Err: err}
	d.c.hub.publish(ev)
	if d.c.sweepRet != nil {
		d.c.sweepRet <- sweepReply{r: r, err: err}
		d.c.sweepRet = nil
	}
}

// DigitalOut sets the four digital outputs to the low bits of mask
func (c *Controller) DigitalOut(mask byte) error {
	return c.call(func() error {
		c.digOut = mask & 0x0F
		return c.write(codec.DigitalOut(c.digOut).Bytes())
	})
}

// PulseDigital raises an output bit for digio.PulseWidth
func (c *Controller) PulseDigital(bit int) error {
	if err := digio.ValidBit(bit); err != nil {
		return err
	}
	return c.call(func() error {
		if c.conn == nil {
			return ErrNotConnected
		}
		c.pulseMask |= 1 << uint(bit)
		c.digOut |= c.pulseMask
		if err := c.write(codec.DigitalOut(c.digOut).Bytes()); err != nil {
			return err
		}
		c.arm(slotPulse, digio.PulseWidth)
		return nil
	})
}

// DigitalFrequency starts the digital frequency generator at fd Hz.  It
// returns once both frames are out.
func (c *Controller) DigitalFrequency(fd int) (digio.Plan, error) {
	plan, err := digio.PlanFrequency(fd)
	if err != nil {
		return plan, err
	}
	frames := plan.Frames()
	sent := make(chan error, 1)
	err = c.call(func() error {
		if c.conn == nil {
			return ErrNotConnected
		}
		c.queue(c.digPacer, [][]byte{frames[0].Bytes(), frames[1].Bytes()}, func(err error) { sent <- err })
		return nil
	})
	if err != nil {
		return plan, err
	}
	return plan, <-sent
}

// BlinkLED pulses the status LED
func (c *Controller) BlinkLED() error {
	return c.call(func() error {
		return c.write(codec.LED().Bytes())
	})
}

// query is a command with a reply.  want is the reply length, or zero for
// a reply that ends with a quiet period.
type query struct {
	op     codec.Frame
	want   int
	buf    []byte
	issued bool
	reply  chan queryReply
}

type queryReply struct {
	b   []byte
	err error
}

// ask parks q until the port is free, then waits for its reply.  Queries are
// refused during a sweep, and while another query is pending.
func (c *Controller) ask(ctx context.Context, q *query) ([]byte, error) {
	q.reply = make(chan queryReply, 1)
	err := c.call(func() error {
		if c.conn == nil {
			return ErrNotConnected
		}
		if c.sweeper.Active() || c.query != nil {
			return acquire.ErrAcquisitionInProgress
		}
		c.query = q
		return nil
	})
	if err != nil {
		return nil, err
	}
	select {
	case r := <-q.reply:
		return r.b, r.err
	case <-ctx.Done():
		c.call(func() error {
			if c.query == q {
				c.endQuery(nil, ctx.Err())
			}
			return nil
		})
		return nil, ctx.Err()
	}
}

func (c *Controller) issueQuery() {
	q := c.query
	q.issued = true
	if err := c.write(q.op.Bytes()); err != nil {
		c.endQuery(nil, err)
		return
	}
	c.arm(slotQuery, acquire.StateTimeout)
}

func (c *Controller) feedQuery(b []byte) {
	q := c.query
	q.buf = append(q.buf, b...)
	if q.want > 0 {
		if len(q.buf) >= q.want {
			c.endQuery(q.buf[:q.want], nil)
		}
		return
	}
	c.arm(slotQuiet, c.opts.SignatureQuiet)
}

func (c *Controller) queryTimeout() {
	q := c.query
	if q == nil {
		return
	}
	if q.want == 0 && len(q.buf) > 0 {
		c.endQuery(q.buf, nil)
		return
	}
	c.endQuery(nil, ErrNoReply)
}

func (c *Controller) endQuery(b []byte, err error) {
	c.disarm(slotQuery)
	c.disarm(slotQuiet)
	c.query.reply <- queryReply{b: b, err: err}
	c.query = nil
}

// ReadDigital returns the levels of the four digital inputs
func (c *Controller) ReadDigital(ctx context.Context) ([digio.Bits]bool, error) {
	b, err := c.ask(ctx, &query{op: codec.DigitalIn(), want: codec.ReplyDigitalIn})
	if err != nil {
		return [digio.Bits]bool{}, err
	}
	return digio.Inputs(b[0]), nil
}

// Signature returns the identification string of the instrument
func (c *Controller) Signature(ctx context.Context) (string, error) {
	b, err := c.ask(ctx, &query{op: codec.Signature()})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
