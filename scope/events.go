package scope

import (
	"fmt"
	"sync"

	"github.com/nasa-jpl/scopehost/acquire"
	"github.com/nasa-jpl/scopehost/oscilloscope"
	"github.com/nasa-jpl/scopehost/sweep"
)

// EventKind classifies controller events
type EventKind int

const (
	// EventFrame carries a released waveform and its measurements
	EventFrame EventKind = iota
	// EventTimeout carries an *acquire.TimeoutError
	EventTimeout
	// EventPortError carries the port failure
	EventPortError
	// EventTriggerWarning reports the switch to auto trigger
	EventTriggerWarning
	// EventSweepProgress reports a captured sweep point
	EventSweepProgress
	// EventSweepDone carries the sweep result
	EventSweepDone
)

var kindNames = [...]string{"frame", "timeout", "portError", "triggerWarning", "sweepProgress", "sweepDone"}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
	return kindNames[k]
}

// MarshalText lets kinds appear by name in JSON
func (k EventKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Progress locates a sweep point
type Progress struct {
	Index     int     `json:"index"`
	Total     int     `json:"total"`
	Frequency float64 `json:"frequency"`
}

// Event is delivered to subscribers.  Only the fields relevant to Kind are set.
type Event struct {
	Kind         EventKind                     `json:"kind"`
	Frame        *acquire.Frame                `json:"-"`
	Waveform     *oscilloscope.Waveform        `json:"waveform,omitempty"`
	Measurements *[2]oscilloscope.Measurements `json:"measurements,omitempty"`
	Err          error                         `json:"-"`
	Message      string                        `json:"message,omitempty"`
	Progress     *Progress                     `json:"progress,omitempty"`
	Sweep        *sweep.Result                 `json:"sweep,omitempty"`
}

// hub fans events out to subscribers.  A subscriber whose buffer is full
// misses the event.
type hub struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

func (h *hub) subscribe(buf int) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		h.subs = make(map[int]chan Event)
	}
	id := h.next
	h.next++
	ch := make(chan Event, buf)
	h.subs[id] = ch
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

func (h *hub) publish(ev Event) {
	if ev.Err != nil && ev.Message == "" {
		ev.Message = ev.Err.Error()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
