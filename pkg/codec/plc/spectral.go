package plc

import (
	"math"

	"github.com/brettbuddin/fourier"
)

const (
	// maxAnalysisWindow caps the amount of samples taken from each side of the gap.
	maxAnalysisWindow = 1024

	// minContext is the minimal amount of samples on each side to analyze.
	minContext = 4

	// peakThreshold is how many times a spectral peak must exceed the
	// mean magnitude to be continued into the gap.
	peakThreshold = 2.5
)

// Spectral extends the tonal components found on both sides of the gap
// into it and cross-fades the two extensions.
//
// For each side a power-of-two window adjacent to the gap is transformed;
// only local spectral maxima above peakThreshold×mean are kept (stochastic
// components are not extrapolated). The kept sinusoids are synthesized
// forward from the left window and backward from the right one, blended
// with a smoothstep weight, and finally a linear trend is subtracted so
// the result meets the real samples at both edges without a click.
type Spectral struct{}

var _ Concealer = Spectral{}

func (Spectral) Conceal(before, after []float64, gapLen int) []float64 {
	if gapLen <= 0 {
		return nil
	}
	if len(before) < minContext || len(after) < minContext {
		return Linear{}.Conceal(before, after, gapLen)
	}

	n := floorPowerOfTwo(min(len(before), len(after), maxAnalysisWindow))
	left := before[len(before)-n:]
	right := after[:n]

	forward := extrapolate(left, gapLen, n)
	backward := extrapolate(right, gapLen, -gapLen)

	edgeL := forward[0] - left[n-1]
	edgeR := backward[gapLen-1] - right[0]

	result := make([]float64, gapLen)
	for i := range result {
		t := float64(i+1) / float64(gapLen+1)
		w := t * t * (3 - 2*t)
		result[i] = (1-w)*(forward[i]-edgeL) + w*(backward[i]-edgeR)
	}
	return result
}

type partial struct {
	bin       int
	amplitude float64
	phase     float64
}

// extrapolate synthesizes gapLen samples of the tonal part of window,
// starting at the position origin relative to the window start.
func extrapolate(window []float64, gapLen int, origin int) []float64 {
	n := len(window)
	spectrum := make([]complex128, n)
	for i, v := range window {
		spectrum[i] = complex(v, 0)
	}
	if err := fourier.Forward(spectrum); err != nil {
		return make([]float64, gapLen)
	}

	partials := sieve(spectrum)
	dc := real(spectrum[0]) / float64(n)

	out := make([]float64, gapLen)
	for i := range out {
		pos := float64(origin + i)
		v := dc
		for _, p := range partials {
			v += p.amplitude * math.Cos(2*math.Pi*float64(p.bin)*pos/float64(n)+p.phase)
		}
		out[i] = v
	}
	return out
}

func sieve(spectrum []complex128) []partial {
	n := len(spectrum)
	mags := make([]float64, n)
	var mean float64
	for i, c := range spectrum {
		mags[i] = math.Hypot(real(c), imag(c))
		mean += mags[i]
	}
	threshold := mean / float64(n) * peakThreshold

	var result []partial
	for i := 1; i < n/2; i++ {
		if mags[i] <= threshold || mags[i] <= mags[i-1] || mags[i] <= mags[i+1] {
			continue
		}
		result = append(result, partial{
			bin:       i,
			amplitude: 2 * mags[i] / float64(n),
			phase:     math.Atan2(imag(spectrum[i]), real(spectrum[i])),
		})
	}
	return result
}

func floorPowerOfTwo(n int) int {
	p := 1
	for p*2 <= n {
		p *= 2
	}
	return p
}
