package grading

import "math"

// round rounds half away from zero to the given number of decimals.
func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	r := math.Round(v*p) / p
	if r == 0 {
		return 0 // drop negative zero
	}
	return r
}

func round1(v float64) float64 { return round(v, 1) }
func round2(v float64) float64 { return round(v, 2) }

// Round2 is the engine's score rounding, exported for callers that
// present derived amounts.
func Round2(v float64) float64 { return round2(v) }

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
