package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFloatRing_WrapAround(t *testing.T) {
	r := NewFloatRing(3)
	assert.Equal(t, 0, r.Len())

	r.Push(1)
	r.Push(2)
	assert.Equal(t, []float64{1, 2}, r.Values())

	r.Push(3)
	r.Push(4) // evicts 1
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []float64{2, 3, 4}, r.Values())
	assert.Equal(t, []float64{3, 4}, r.Last(2))
	assert.Equal(t, []float64{2, 3, 4}, r.Last(10), "Last caps at stored size")
}

func TestStats(t *testing.T) {
	assert.Equal(t, 0.0, Mean(nil))
	assert.Equal(t, 2.0, Mean([]float64{1, 2, 3}))
	assert.Equal(t, 0.0, Std([]float64{5, 5, 5}))
	assert.InDelta(t, 2.0, Std([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 1e-9)

	assert.Equal(t, 5.0, Clamp(7, 0, 5))
	assert.Equal(t, 0.0, Clamp(-1, 0, 5))
	assert.Equal(t, 3.0, Clamp(3, 0, 5))

	assert.Equal(t, 1.5, Round1(1.46))
	assert.Equal(t, -2.3, Round1(-2.34))
}
