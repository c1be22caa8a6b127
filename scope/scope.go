// Package scope is the public face of the oscilloscope host.
//
// A Controller owns one port and runs a single event loop goroutine.  The
// loop owns every piece of mutable state: the acquisition machine, the sweep
// orchestrator, the device configuration, and the timers.  Public methods
// hand closures to the loop and wait for them, so none of that state needs a
// lock.  Bytes read from the port, timer expirations, and commands are all
// serialized through the loop.
package scope

import (
	"errors"
	"io"
	"log"
	"time"

	"github.com/nasa-jpl/scopehost/acquire"
	"github.com/nasa-jpl/scopehost/calib"
	"github.com/nasa-jpl/scopehost/codec"
	"github.com/nasa-jpl/scopehost/comm"
	"github.com/nasa-jpl/scopehost/dds"
	"github.com/nasa-jpl/scopehost/digio"
	"github.com/nasa-jpl/scopehost/oscilloscope"
	"github.com/nasa-jpl/scopehost/sweep"
)

var (
	// ErrNotConnected is returned by commands issued without an open port
	ErrNotConnected = comm.ErrNotConnected

	// ErrClosed is returned once the controller has been shut down
	ErrClosed = errors.New("controller closed")

	// ErrNoFrame is returned by exports before any frame has been released
	ErrNoFrame = errors.New("no frame captured yet")

	// ErrNoReply is returned when a query gets no answer in time
	ErrNoReply = errors.New("no reply from instrument")
)

// Options configure a Controller
type Options struct {
	// Config is the initial device configuration
	Config oscilloscope.Config

	// Pipeline converts frames to volts
	Pipeline calib.Pipeline

	// SignatureQuiet is the quiet period that ends a signature reply
	SignatureQuiet time.Duration
}

// DefaultOptions has the stock configuration and calibration
func DefaultOptions() Options {
	return Options{
		Config:         oscilloscope.DefaultConfig(),
		Pipeline:       calib.NewPipeline(),
		SignatureQuiet: 100 * time.Millisecond,
	}
}

// slot names one of the loop's timers.  The first three are the
// acquisition machine's own.
type slot int

const (
	slotState  = slot(acquire.StateTimer)
	slotPace   = slot(acquire.PaceTimer)
	slotSettle = slot(acquire.SettleTimer)
)

const (
	slotSweep slot = iota + 3
	slotQuery
	slotQuiet
	slotPulse
	slotSend
	numSlots
)

type fire struct {
	s   slot
	gen uint64
}

type chunk struct {
	gen uint64
	b   []byte
	err error
}

// Controller drives one instrument.  It is safe for concurrent use.
type Controller struct {
	cmds  chan func()
	rx    chan chunk
	fires chan fire
	quit  chan struct{}
	done  chan struct{}
	hub   hub

	// everything below is owned by the loop

	opts    Options
	cfg     oscilloscope.Config
	conn    io.ReadWriteCloser
	portGen uint64
	mach    *acquire.Machine
	sweeper *sweep.Sweeper

	timers [numSlots]*time.Timer
	gens   [numSlots]uint64

	setupPacer *comm.Pacer
	ddsPacer   *comm.Pacer
	digPacer   *comm.Pacer

	// sends are paced frame runs waiting to go out; startTok voids a
	// capture start queued behind them
	sends    []*send
	pumping  bool
	startTok uint64

	gainsDirty bool
	running    bool
	single     bool

	last      *oscilloscope.Waveform
	lastMeas  [2]oscilloscope.Measurements
	lastSweep *sweep.Result
	arbitrary []byte
	ddsPlan   *dds.Plan

	query    *query
	sweepRet chan sweepReply

	digOut    byte
	pulseMask byte
}

// New starts a controller with no port
func New(opts Options) *Controller {
	if opts.SignatureQuiet == 0 {
		opts.SignatureQuiet = DefaultOptions().SignatureQuiet
	}
	c := &Controller{
		cmds:  make(chan func()),
		rx:    make(chan chunk),
		fires: make(chan fire),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		opts:  opts,
		cfg:   opts.Config,
	}
	c.mach = acquire.New(machineFx{c})
	c.sweeper = sweep.NewSweeper(sweepDriver{c})
	c.setupPacer = comm.NewPacer(acquire.SetupGap)
	c.ddsPacer = comm.NewPacer(dds.FrameGap)
	c.digPacer = comm.NewPacer(digio.FrameGap)
	go c.loop()
	return c
}

func (c *Controller) loop() {
	defer close(c.done)
	for {
		select {
		case fn := <-c.cmds:
			fn()
		case ch := <-c.rx:
			c.receive(ch)
		case f := <-c.fires:
			if f.gen != c.gens[f.s] {
				break
			}
			c.timers[f.s] = nil
			c.expire(f.s)
		case <-c.quit:
			c.shutdown()
			return
		}
		c.kick()
	}
}

// call runs fn on the loop and returns its error
func (c *Controller) call(fn func() error) error {
	errc := make(chan error, 1)
	select {
	case c.cmds <- func() { errc <- fn() }:
	case <-c.quit:
		return ErrClosed
	}
	return <-errc
}

// Subscribe returns a channel of events with the given buffer and a func
// that ends the subscription.  Events are dropped for a subscriber that
// falls buf behind.
func (c *Controller) Subscribe(buf int) (<-chan Event, func()) {
	return c.hub.subscribe(buf)
}

// Connect opens the instrument at addr, a serial device or a host:port TCP
// bridge.  An empty addr auto-detects the instrument by its USB IDs.
func (c *Controller) Connect(addr string) error {
	if addr == "" {
		var err error
		addr, err = comm.Detect()
		if err != nil {
			return err
		}
		log.Printf("found instrument at %s\n", addr)
	}
	conn, err := comm.Open(comm.Maker(addr), addr)
	if err != nil {
		return err
	}
	log.Printf("opened %s\n", addr)
	return c.ConnectPort(conn)
}

// ConnectPort uses an already open byte stream as the port.  Any previous
// port is closed.
func (c *Controller) ConnectPort(rwc io.ReadWriteCloser) error {
	err := c.call(func() error {
		c.detach(nil)
		c.conn = rwc
		c.portGen++
		c.gainsDirty = true
		go c.reader(c.portGen, rwc)
		return nil
	})
	if err != nil {
		rwc.Close()
	}
	return err
}

// Disconnect closes the port.  Anything in flight is abandoned.
func (c *Controller) Disconnect() error {
	return c.call(func() error {
		if c.conn == nil {
			return ErrNotConnected
		}
		return c.detach(nil)
	})
}

// Connected is true while a port is open
func (c *Controller) Connected() bool {
	var ok bool
	c.call(func() error { ok = c.conn != nil; return nil })
	return ok
}

// Close disconnects and stops the event loop.  The controller cannot be
// reused.
func (c *Controller) Close() error {
	select {
	case <-c.quit:
	default:
		close(c.quit)
	}
	<-c.done
	return nil
}

func (c *Controller) shutdown() {
	c.detach(ErrClosed)
	for s := range c.timers {
		c.disarm(slot(s))
	}
	c.hub.closeAll()
}

// detach drops the port, ending every activity.  cause is reported to a
// pending query or sweep.
func (c *Controller) detach(cause error) error {
	if cause == nil {
		cause = ErrNotConnected
	}
	c.running = false
	if c.mach.Busy() {
		c.mach.Abort()
	}
	if c.sweeper.Active() {
		c.sweeper.Cancel()
		if c.sweeper.Active() {
			c.sweeper.CaptureFailed(cause)
		}
	}
	if c.query != nil {
		c.endQuery(nil, cause)
	}
	c.disarm(slotPulse)
	c.pulseMask = 0
	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
		c.portGen++
	}
	c.dropSends(cause)
	return err
}

func (c *Controller) reader(gen uint64, r io.Reader) {
	buf := make([]byte, 1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			b := append([]byte(nil), buf[:n]...)
			select {
			case c.rx <- chunk{gen: gen, b: b}:
			case <-c.quit:
				return
			}
		}
		if err != nil {
			select {
			case c.rx <- chunk{gen: gen, err: err}:
			case <-c.quit:
			}
			return
		}
	}
}

func (c *Controller) receive(ch chunk) {
	if ch.gen != c.portGen {
		return
	}
	if ch.err != nil {
		log.Printf("port read failed: %v\n", ch.err)
		c.running = false
		c.mach.Fail(ch.err)
		c.detach(ch.err)
		return
	}
	switch {
	case c.mach.Busy():
		c.mach.Receive(ch.b)
	case c.query != nil && c.query.issued:
		c.feedQuery(ch.b)
	}
}

func (c *Controller) expire(s slot) {
	switch s {
	case slotState, slotPace, slotSettle:
		c.mach.Expire(acquire.Timer(s))
	case slotSweep:
		c.sweeper.Expire()
	case slotQuery:
		c.queryTimeout()
	case slotQuiet:
		if c.query != nil {
			c.endQuery(c.query.buf, nil)
		}
	case slotPulse:
		c.digOut &^= c.pulseMask
		c.pulseMask = 0
		c.write(codec.DigitalOut(c.digOut).Bytes())
	case slotSend:
		c.pump()
	}
}

// kick starts whatever should run next once the machine is idle and every
// paced send is out: a parked query first, then the next capture of a run
func (c *Controller) kick() {
	if c.conn == nil || c.mach.Busy() || c.sweeper.Active() || len(c.sends) > 0 {
		return
	}
	if c.query != nil {
		if !c.query.issued {
			c.issueQuery()
		}
		return
	}
	if c.running {
		if err := c.startCapture(c.cfg); err != nil {
			log.Printf("capture not started: %v\n", err)
			c.running = false
		}
	}
}

func (c *Controller) arm(s slot, d time.Duration) {
	c.disarm(s)
	g := c.gens[s]
	c.timers[s] = time.AfterFunc(d, func() {
		select {
		case c.fires <- fire{s: s, gen: g}:
		case <-c.quit:
		}
	})
}

// disarm stops a timer; bumping the generation also voids a fire already
// in flight
func (c *Controller) disarm(s slot) {
	c.gens[s]++
	if t := c.timers[s]; t != nil {
		t.Stop()
		c.timers[s] = nil
	}
}

func (c *Controller) write(b []byte) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	_, err := c.conn.Write(b)
	return err
}

// send is a run of frames written one pacer gap apart.  then runs once the
// gap after the last frame has passed, or with the first write error.
type send struct {
	p      *comm.Pacer
	frames [][]byte
	then   func(error)

	// reserved is true once the slot for the next write is claimed
	reserved bool
}

// queue appends a paced send behind any already waiting
func (c *Controller) queue(p *comm.Pacer, frames [][]byte, then func(error)) {
	c.sends = append(c.sends, &send{p: p, frames: frames, then: then})
	if len(c.sends) == 1 && !c.pumping {
		c.pump()
	}
}

// pump writes queued frames until a pacer slot is not yet open, then arms
// the send timer for it
func (c *Controller) pump() {
	c.pumping = true
	defer func() { c.pumping = false }()
	for len(c.sends) > 0 {
		s := c.sends[0]
		if !s.reserved {
			s.reserved = true
			if d := s.p.Reserve(); d > 0 {
				c.arm(slotSend, d)
				return
			}
		}
		s.reserved = false
		if len(s.frames) == 0 {
			c.popSend(nil)
			continue
		}
		err := c.write(s.frames[0])
		s.frames = s.frames[1:]
		if err != nil {
			c.popSend(err)
		}
	}
}

func (c *Controller) popSend(err error) {
	s := c.sends[0]
	c.sends = c.sends[1:]
	if s.then != nil {
		s.then(err)
	}
}

// dropSends fails every queued send with cause
func (c *Controller) dropSends(cause error) {
	c.disarm(slotSend)
	q := c.sends
	c.sends = nil
	for _, s := range q {
		if s.then != nil {
			s.then(cause)
		}
	}
}

// machineFx adapts the controller to the machine's Effects
type machineFx struct{ c *Controller }

func (fx machineFx) Write(b []byte) error                 { return fx.c.write(b) }
func (fx machineFx) Arm(t acquire.Timer, d time.Duration) { fx.c.arm(slot(t), d) }
func (fx machineFx) Disarm(t acquire.Timer)               { fx.c.disarm(slot(t)) }
func (fx machineFx) Emit(ev acquire.Event)                { fx.c.machineEvent(ev) }
