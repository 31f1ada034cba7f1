// Package plc conceals lost packets of a decoded audio stream.
package plc

type Concealer interface {
	// Conceal synthesizes gapLen samples between before and after.
	Conceal(before, after []float64, gapLen int) []float64
}

// Linear bridges the gap with a straight line between the adjacent samples.
type Linear struct{}

var _ Concealer = Linear{}

func (Linear) Conceal(before, after []float64, gapLen int) []float64 {
	result := make([]float64, gapLen)
	if len(before) == 0 || len(after) == 0 {
		return result
	}
	v0 := before[len(before)-1]
	v1 := after[0]
	for i := range result {
		t := float64(i+1) / float64(gapLen+1)
		result[i] = (1-t)*v0 + t*v1
	}
	return result
}
