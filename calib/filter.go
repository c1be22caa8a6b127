package calib

// LeadIn is the number of samples discarded after the low-pass filter
const LeadIn = 10

// Decimate rebuilds the intended sample grid at the top sample rate.
// out[0] = in[0]; odd outputs average the two neighboring inputs and even
// outputs copy in[i/2].  Indices past the end of in repeat its last value.
func Decimate(in []float64, length int) []float64 {
	if len(in) == 0 || length <= 0 {
		return nil
	}
	last := len(in) - 1
	at := func(i int) float64 {
		if i > last {
			return in[last]
		}
		return in[i]
	}
	out := make([]float64, length)
	out[0] = in[0]
	for i := 1; i < length; i++ {
		h := i / 2
		if i%2 == 1 {
			if h+1 <= last {
				out[i] = (in[h] + in[h+1]) / 2
			} else {
				out[i] = at(h)
			}
		} else {
			out[i] = at(h)
		}
	}
	return out
}

// MovingAverage applies a centered rectangular kernel of the given width.
// Near the edges the window is truncated and the mean taken over the samples
// that exist.
func MovingAverage(in []float64, width int) []float64 {
	out := make([]float64, len(in))
	half := width / 2
	for i := range in {
		lo, hi := i-half, i+half
		if lo < 0 {
			lo = 0
		}
		if hi > len(in)-1 {
			hi = len(in) - 1
		}
		var sum float64
		for j := lo; j <= hi; j++ {
			sum += in[j]
		}
		out[i] = sum / float64(hi-lo+1)
	}
	return out
}

// LowPass applies the width-5 moving average and drops the filter lead-in
func LowPass(in []float64) []float64 {
	out := MovingAverage(in, 5)
	if len(out) > LeadIn {
		out = out[LeadIn:]
	}
	return out
}
