// Package scope exposes the oscilloscope over HTTP.
//
// Every route replies JSON except the CSV and FITS exports.  Errors from
// the instrument are mapped by generichttp.StatusOf: 400 for a parameter
// out of range, 409 when an acquisition or sweep is in the way, 500
// otherwise.  /stream upgrades to a websocket that carries one JSON
// message per controller event.
package scope

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nasa-jpl/scopehost/dds"
	"github.com/nasa-jpl/scopehost/generichttp"
	"github.com/nasa-jpl/scopehost/oscilloscope"
	osc "github.com/nasa-jpl/scopehost/scope"
	"github.com/nasa-jpl/scopehost/sweep"
)

// StreamBuffer is the number of events a websocket client may fall behind
// before it misses some
const StreamBuffer = 16

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 65536,
}

// HTTPScope is an HTTPer over a controller
type HTTPScope struct {
	c *osc.Controller

	RouteTable generichttp.RouteTable
}

// NewHTTPScope builds the route table for c.  stream enables /stream.
func NewHTTPScope(c *osc.Controller, stream bool) HTTPScope {
	h := HTTPScope{c: c}
	rt := generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/config"}:  h.GetConfig,
		{Method: http.MethodPost, Path: "/config"}: h.SetConfig,

		{Method: http.MethodPost, Path: "/run"}:    generichttp.Do(c.Run),
		{Method: http.MethodPost, Path: "/single"}: generichttp.Do(c.Single),
		{Method: http.MethodPost, Path: "/stop"}:   generichttp.Do(c.Stop),
		{Method: http.MethodPost, Path: "/abort"}:  generichttp.Do(c.Abort),
		{Method: http.MethodGet, Path: "/state"}:   generichttp.GetString(h.state),
		{Method: http.MethodGet, Path: "/running"}: generichttp.GetBool(h.running),

		{Method: http.MethodGet, Path: "/frame"}:         h.GetFrame,
		{Method: http.MethodGet, Path: "/frame/csv"}:     h.GetFrameCSV,
		{Method: http.MethodGet, Path: "/frame/fits"}:    h.GetFrameFITS,
		{Method: http.MethodGet, Path: "/frame/measure"}: h.GetMeasurements,

		{Method: http.MethodGet, Path: "/dds"}:            h.GetDDS,
		{Method: http.MethodPost, Path: "/dds"}:           h.SetDDS,
		{Method: http.MethodPost, Path: "/dds/arbitrary"}: h.SetArbitrary,

		{Method: http.MethodPost, Path: "/sweep"}:     h.Sweep,
		{Method: http.MethodDelete, Path: "/sweep"}:   generichttp.Do(c.CancelSweep),
		{Method: http.MethodGet, Path: "/sweep"}:      h.GetSweep,
		{Method: http.MethodGet, Path: "/sweep/csv"}:  h.GetSweepCSV,
		{Method: http.MethodGet, Path: "/sweep/busy"}: generichttp.GetBool(h.sweeping),

		{Method: http.MethodGet, Path: "/digital/in"}:         h.GetDigital,
		{Method: http.MethodPost, Path: "/digital/out"}:       generichttp.SetInt(h.digitalOut),
		{Method: http.MethodPost, Path: "/digital/pulse"}:     generichttp.SetInt(c.PulseDigital),
		{Method: http.MethodPost, Path: "/digital/frequency"}: h.SetDigitalFrequency,

		{Method: http.MethodGet, Path: "/signature"}: h.GetSignature,
		{Method: http.MethodPost, Path: "/led"}:      generichttp.Do(c.BlinkLED),
	}
	if stream {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/stream"}] = h.Stream
	}
	h.RouteTable = rt
	return h
}

// RT makes HTTPScope conform to generichttp.HTTPer
func (h HTTPScope) RT() generichttp.RouteTable {
	return h.RouteTable
}

func (h HTTPScope) state() (string, error) {
	return h.c.State().String(), nil
}

func (h HTTPScope) running() (bool, error) {
	return h.c.Running(), nil
}

func (h HTTPScope) sweeping() (bool, error) {
	return h.c.Sweeping(), nil
}

func (h HTTPScope) digitalOut(mask int) error {
	if mask < 0 || mask > 0x0F {
		return fmt.Errorf("%w: output mask %d not in [0,15]", oscilloscope.ErrInvalidParameter, mask)
	}
	return h.c.DigitalOut(byte(mask))
}

// GetConfig replies with the device configuration
func (h HTTPScope) GetConfig(w http.ResponseWriter, r *http.Request) {
	generichttp.RespondJSON(w, h.c.Config())
}

// SetConfig replaces the device configuration.  Fields missing from the
// body keep their current values.
func (h HTTPScope) SetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.c.Config()
	err := json.NewDecoder(r.Body).Decode(&cfg)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err = h.c.Configure(cfg); err != nil {
		generichttp.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type frameReply struct {
	Waveform     oscilloscope.Waveform        `json:"waveform"`
	Measurements [2]oscilloscope.Measurements `json:"measurements"`
}

// GetFrame replies with the last released waveform and its measurements
func (h HTTPScope) GetFrame(w http.ResponseWriter, r *http.Request) {
	wav, meas, err := h.c.Last()
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	generichttp.RespondJSON(w, frameReply{Waveform: wav, Measurements: meas})
}

// GetMeasurements replies with the measurements of the last released waveform
func (h HTTPScope) GetMeasurements(w http.ResponseWriter, r *http.Request) {
	_, meas, err := h.c.Last()
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	generichttp.RespondJSON(w, meas)
}

// GetFrameCSV exports the last waveform as CSV.  ?fft=true appends the
// spectrum.
func (h HTTPScope) GetFrameCSV(w http.ResponseWriter, r *http.Request) {
	var opts oscilloscope.CSVOptions
	if s := r.URL.Query().Get("fft"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		opts.Spectrum = b
	}
	wav, _, err := h.c.Last()
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=\"scope.csv\"")
	if err := wav.EncodeCSV(w, opts); err != nil {
		log.Printf("csv export: %v\n", err)
	}
}

// GetFrameFITS exports the last waveform as a FITS image
func (h HTTPScope) GetFrameFITS(w http.ResponseWriter, r *http.Request) {
	wav, _, err := h.c.Last()
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/fits")
	w.Header().Set("Content-Disposition", "attachment; filename=\"scope.fits\"")
	if err := wav.EncodeFITS(w); err != nil {
		log.Printf("fits export: %v\n", err)
	}
}

type ddsRequest struct {
	Waveform  dds.Waveform `json:"waveform"`
	Frequency float64      `json:"frequency"`
}

// SetDDS programs the generator from {"waveform":"sine","frequency":1000}
// and replies with the plan sent
func (h HTTPScope) SetDDS(w http.ResponseWriter, r *http.Request) {
	req := ddsRequest{Waveform: dds.Sine}
	err := json.NewDecoder(r.Body).Decode(&req)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	plan, err := h.c.DDS(req.Waveform, req.Frequency)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	generichttp.RespondJSON(w, plan)
}

// GetDDS replies with the last plan sent to the generator
func (h HTTPScope) GetDDS(w http.ResponseWriter, r *http.Request) {
	plan, ok := h.c.DDSPlan()
	if !ok {
		http.Error(w, "generator not programmed", http.StatusNotFound)
		return
	}
	generichttp.RespondJSON(w, plan)
}

// SetArbitrary loads the arbitrary waveform from a CSV body
func (h HTTPScope) SetArbitrary(w http.ResponseWriter, r *http.Request) {
	tbl, err := dds.LoadCSV(r.Body)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err = h.c.SetArbitrary(tbl); err != nil {
		generichttp.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type sweepRequest struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Points  int     `json:"points"`
	DelayMs int     `json:"delayMs"`
}

// Sweep runs a Bode sweep and replies with the result.  A client that goes
// away cancels the sweep.
func (h HTTPScope) Sweep(w http.ResponseWriter, r *http.Request) {
	req := sweepRequest{Points: 50, DelayMs: 100}
	err := json.NewDecoder(r.Body).Decode(&req)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p := sweep.Params{
		Start:  req.Start,
		End:    req.End,
		Points: req.Points,
		Delay:  time.Duration(req.DelayMs) * time.Millisecond,
	}
	res, err := h.c.Sweep(r.Context(), p)
	if err != nil && res.Len() == 0 {
		generichttp.Error(w, err)
		return
	}
	generichttp.RespondJSON(w, res)
}

// GetSweep replies with the last sweep result
func (h HTTPScope) GetSweep(w http.ResponseWriter, r *http.Request) {
	res, ok := h.c.LastSweep()
	if !ok {
		http.Error(w, "no sweep result", http.StatusNotFound)
		return
	}
	generichttp.RespondJSON(w, res)
}

// GetSweepCSV exports the last sweep result as CSV
func (h HTTPScope) GetSweepCSV(w http.ResponseWriter, r *http.Request) {
	res, ok := h.c.LastSweep()
	if !ok {
		http.Error(w, "no sweep result", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=\"bode.csv\"")
	if err := res.EncodeCSV(w, time.Now()); err != nil {
		log.Printf("bode export: %v\n", err)
	}
}

// GetDigital replies with the four input levels as a JSON array
func (h HTTPScope) GetDigital(w http.ResponseWriter, r *http.Request) {
	in, err := h.c.ReadDigital(r.Context())
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	generichttp.RespondJSON(w, in)
}

// SetDigitalFrequency starts the digital generator from {"int": hz} and
// replies with the plan
func (h HTTPScope) SetDigitalFrequency(w http.ResponseWriter, r *http.Request) {
	i := generichttp.IntT{}
	err := json.NewDecoder(r.Body).Decode(&i)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	plan, err := h.c.DigitalFrequency(i.Int)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	generichttp.RespondJSON(w, plan)
}

// GetSignature replies with the instrument's identification as {"str": sig}
func (h HTTPScope) GetSignature(w http.ResponseWriter, r *http.Request) {
	generichttp.GetString(func() (string, error) {
		return h.c.Signature(r.Context())
	})(w, r)
}

// Stream upgrades to a websocket and writes every controller event to it
// as JSON until the client goes away
func (h HTTPScope) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade: %v\n", err)
		return
	}
	events, cancel := h.c.Subscribe(StreamBuffer)
	defer cancel()
	defer conn.Close()

	// the read side only notices the client closing
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "controller closed"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}
