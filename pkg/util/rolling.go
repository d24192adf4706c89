package util

import "math"

// FloatRing is a fixed-capacity circular buffer of float64 samples.
// Pushing beyond capacity overwrites the oldest entry, so memory stays
// bounded regardless of how many samples pass through.
type FloatRing struct {
	buf  []float64
	head int
	size int
}

// NewFloatRing creates a ring buffer holding at most capacity samples.
func NewFloatRing(capacity int) *FloatRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &FloatRing{buf: make([]float64, capacity)}
}

// Push appends a sample, evicting the oldest when full.
func (r *FloatRing) Push(v float64) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// Len returns the number of samples currently stored.
func (r *FloatRing) Len() int {
	return r.size
}

// Values returns the stored samples in insertion order, oldest first.
func (r *FloatRing) Values() []float64 {
	out := make([]float64, r.size)
	start := r.head - r.size
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(start+i+len(r.buf))%len(r.buf)]
	}
	return out
}

// Last returns up to n of the most recent samples, oldest first.
func (r *FloatRing) Last(n int) []float64 {
	if n > r.size {
		n = r.size
	}
	out := make([]float64, n)
	start := r.head - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+i+len(r.buf))%len(r.buf)]
	}
	return out
}

// Mean returns the arithmetic mean of values, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Std returns the population standard deviation of values.
func Std(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := Mean(values)
	sumSq := 0.0
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)))
}

// Clamp bounds v to the [lo, hi] interval.
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Round1 rounds to one decimal place, matching the precision the
// engines report over the wire.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}
