package plc

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(freq, rate float64, from, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Sin(2 * math.Pi * freq * float64(from+i) / rate)
	}
	return out
}

func TestSpectral_NoClicks(t *testing.T) {
	const (
		freq = 440.0
		rate = 44100.0
		gap  = 441
	)
	before := sine(freq, rate, 0, 2048)
	after := sine(freq, rate, 2048+gap, 2048)

	concealed := Spectral{}.Conceal(before, after, gap)
	require.Len(t, concealed, gap)

	maxStep := 0.0
	for i := 1; i < len(before); i++ {
		maxStep = math.Max(maxStep, math.Abs(before[i]-before[i-1]))
	}

	assert.LessOrEqual(t, math.Abs(concealed[0]-before[len(before)-1]), maxStep*1.5)
	assert.LessOrEqual(t, math.Abs(after[0]-concealed[gap-1]), maxStep*1.5)
	for i := 1; i < gap; i++ {
		require.LessOrEqual(t, math.Abs(concealed[i]-concealed[i-1]), maxStep*3.0, "click at %d", i)
	}
}

func TestSpectral_ShortContext(t *testing.T) {
	concealed := Spectral{}.Conceal([]float64{1}, []float64{3}, 1)
	assert.Equal(t, []float64{2}, concealed)
	assert.Nil(t, Spectral{}.Conceal(nil, nil, 0))
}

func TestLinear(t *testing.T) {
	assert.Equal(t, []float64{1, 2, 3}, Linear{}.Conceal([]float64{0}, []float64{4}, 3))
	assert.Equal(t, []float64{0, 0}, Linear{}.Conceal(nil, []float64{4}, 2))
}
