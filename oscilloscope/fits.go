package oscilloscope

import (
	"io"

	"github.com/astrogo/fitsio"
)

// HeaderCards returns the FITS header metadata describing the capture
func (wav Waveform) HeaderCards() []fitsio.Card {
	c := wav.Config
	return []fitsio.Card{
		{Name: "SEQ", Value: int(wav.Seq), Comment: "capture sequence number"},
		{Name: "DT", Value: wav.DT, Comment: "sample period, seconds"},
		{Name: "RATEIDX", Value: c.SampleRate, Comment: "device sample rate index"},
		{Name: "GAIN1", Value: c.CH1Gain},
		{Name: "GAIN2", Value: c.CH2Gain},
		{Name: "OFFSET1", Value: c.CH1Offset, Comment: "hundredths of a volt"},
		{Name: "OFFSET2", Value: c.CH2Offset, Comment: "hundredths of a volt"},
		{Name: "TRIGSRC", Value: c.TrigSource.String()},
		{Name: "TRIGPOL", Value: c.TrigPolarity.String()},
		{Name: "TRIGLVL", Value: c.TrigLevel, Comment: "DAC code"},
		{Name: "MODE", Value: c.Mode.String()},
		{Name: "BUNIT", Value: "V"},
	}
}

// EncodeFITS streams the waveform to w as a float64 image with one row per
// channel.  An empty channel is written as zeros.
func (wav *Waveform) EncodeFITS(w io.Writer) error {
	n := wav.Len()
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(-64, []int{n, 2})
	defer im.Close()
	err = im.Header().Append(wav.HeaderCards()...)
	if err != nil {
		return err
	}
	buf := make([]float64, 2*n)
	copy(buf, wav.CH1)
	copy(buf[n:], wav.CH2)
	err = im.Write(buf)
	if err != nil {
		return err
	}
	return fits.Write(im)
}
