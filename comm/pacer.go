package comm

import (
	"time"

	"golang.org/x/time/rate"
)

// Pacer keeps frames written to a port no closer together than a fixed gap.
// The firmware drops frames that arrive back to back.  A Pacer never blocks;
// the caller waits out the delay Reserve returns, usually on a timer.
type Pacer struct {
	lim *rate.Limiter
}

// NewPacer returns a Pacer whose first slot is open immediately
func NewPacer(gap time.Duration) *Pacer {
	return &Pacer{lim: rate.NewLimiter(rate.Every(gap), 1)}
}

// Reserve claims the next send slot and returns how long from now it opens
func (p *Pacer) Reserve() time.Duration {
	return p.lim.Reserve().Delay()
}
