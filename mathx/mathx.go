// Package mathx holds small numeric helpers shared by the signal paths.
package mathx

import "math"

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for hundredth, and so on).
// Halves round away from zero.
func Round(x, unit float64) float64 {
	return math.Round(x/unit) * unit
}

// MinMax returns the extrema of x.  Both are zero for an empty slice.
func MinMax(x []float64) (min, max float64) {
	if len(x) == 0 {
		return 0, 0
	}
	min, max = x[0], x[0]
	for _, v := range x[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// Mean returns the arithmetic mean of x, or zero if x is empty
func Mean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += v
	}
	return sum / float64(len(x))
}

// PeakToPeak returns max(x) - min(x)
func PeakToPeak(x []float64) float64 {
	min, max := MinMax(x)
	return max - min
}

// Log10Space returns n points evenly spaced in log10 from start to end inclusive
func Log10Space(start, end float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	if n == 1 {
		out[0] = start
		return out
	}
	ls, le := math.Log10(start), math.Log10(end)
	step := (le - ls) / float64(n-1)
	for k := range out {
		out[k] = math.Pow(10, ls+float64(k)*step)
	}
	return out
}

// WrapDegrees wraps an angle into [-180, 180]
func WrapDegrees(d float64) float64 {
	for d > 180 {
		d -= 360
	}
	for d < -180 {
		d += 360
	}
	return d
}
