/*
Package comm provides the port abstraction used to reach the instrument.

The instrument enumerates as a USB CDC serial device.  A port is opened as a
plain io.ReadWriteCloser, either the serial line itself or a TCP bridge to
one, so that everything above this package sees only a byte stream:

	mk := comm.SerialMaker("/dev/ttyACM0")
	conn, err := comm.Open(mk, "/dev/ttyACM0")
	if err != nil {
		return err
	}
	defer conn.Close()

Reads from a serial port return after ReadTimeout with no data rather than
blocking forever, so a reader loop can notice the port being closed.
*/
package comm

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

const (
	// Baud is the line rate of the instrument
	Baud = 115200

	// ReadTimeout is how long a serial read waits for the first byte
	ReadTimeout = 100 * time.Millisecond

	// DialTimeout bounds a TCP bridge connect
	DialTimeout = 3 * time.Second
)

var (
	// ErrPortOpen is generated when the port cannot be claimed
	ErrPortOpen = errors.New("unable to open port")

	// ErrNotConnected is generated when I/O is attempted without an open port
	ErrNotConnected = errors.New("not connected to the instrument")
)

// CreationFunc is a function which returns a new "connection" to something
// a closure should be used to encapsulate the variables and functions needed
type CreationFunc func() (io.ReadWriteCloser, error)

// SerialConf yields a pointer to a serial config object for use with
// serial.OpenPort, 8N1 at Baud
func SerialConf(name string) *serial.Config {
	return &serial.Config{
		Name:        name,
		Baud:        Baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: ReadTimeout,
	}
}

// quietPort turns the EOF a timed out serial read reports into an empty read
type quietPort struct {
	*serial.Port
}

func (p quietPort) Read(b []byte) (int, error) {
	n, err := p.Port.Read(b)
	if n == 0 && err == io.EOF {
		return 0, nil
	}
	return n, err
}

// SerialMaker returns a CreationFunc that opens a serial device
func SerialMaker(name string) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		p, err := serial.OpenPort(SerialConf(name))
		if err != nil {
			return nil, err
		}
		return quietPort{p}, nil
	}
}

// TCPMaker returns a CreationFunc that dials a TCP to serial bridge
func TCPMaker(addr string) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return TCPSetup(addr, DialTimeout)
	}
}

// Maker picks SerialMaker or TCPMaker; addresses of the form host:port are
// treated as TCP bridges
func Maker(addr string) CreationFunc {
	if IsTCP(addr) {
		return TCPMaker(addr)
	}
	return SerialMaker(addr)
}

// IsTCP is true if addr looks like host:port rather than a device path
func IsTCP(addr string) bool {
	if strings.HasPrefix(addr, "/") || strings.HasPrefix(strings.ToUpper(addr), "COM") {
		return false
	}
	_, port, err := net.SplitHostPort(addr)
	return err == nil && port != ""
}

// DefaultBackOff is the retry policy used by Open
func DefaultBackOff() backoff.BackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock}
}

// permanent is true for errors a retry will not fix
func permanent(err error) bool {
	s := strings.ToLower(err.Error())
	for _, frag := range []string{"refused", "no such file", "permission denied", "not exist"} {
		if strings.Contains(s, frag) {
			return true
		}
	}
	return false
}

// Open calls mk with DefaultBackOff, see OpenWith
func Open(mk CreationFunc, addr string) (io.ReadWriteCloser, error) {
	return OpenWith(mk, addr, DefaultBackOff())
}

// OpenWith calls mk until it succeeds, fails permanently, or the policy b
// gives up.  A freshly enumerated CDC device is often busy for a moment,
// which is what the retries absorb.  Failures wrap ErrPortOpen.
func OpenWith(mk CreationFunc, addr string, b backoff.BackOff) (io.ReadWriteCloser, error) {
	var (
		conn  io.ReadWriteCloser
		fatal error
	)
	op := func() error {
		c, err := mk()
		if err != nil {
			if permanent(err) {
				fatal = err
				return nil
			}
			return err
		}
		conn = c
		return nil
	}
	err := backoff.Retry(op, b)
	if fatal != nil {
		err = fatal
	}
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrPortOpen, addr, err)
	}
	return conn, nil
}

// TCPSetup opens a new TCP connection with a timeout on connect.  No read or
// write deadline is set, the stream lives as long as the session.
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}
	return conn, nil
}
