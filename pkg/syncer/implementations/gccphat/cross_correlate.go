package gccphat

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// CrossCorrelate calculates the sample shift of 'fcomp' relative to 'fref' using GCC-PHAT.
// The fref and fcomp slices are expected to be the FFTs of the reference and comparison snippets.
// Both must have the same length N.
//
// Arguments:
// - sampleRate: Used to calculate frequency bin indices for band limiting.
// - minFreq: Minimum frequency to consider (Hz). Use 0 for no limit.
// - maxFreq: Maximum frequency to consider (Hz). Use 0 or >sampleRate/2 for no limit.
// - maxLag: Maximum absolute shift in samples to search. Use 0 for no limit.
//
// Returns (shift, confidence, error). A positive shift means 'comp' leads 'ref'.
func CrossCorrelate(
	fref, fcomp []complex128,
	sampleRate float64,
	minFreq, maxFreq float64,
	maxLag int,
) (float64, float64, error) {
	if sampleRate <= 0 {
		return 0, 0, fmt.Errorf("sampleRate must be positive: got %v", sampleRate)
	}
	if len(fref) != len(fcomp) {
		return 0, 0, fmt.Errorf("fref and fcomp must have same length: %d != %d", len(fref), len(fcomp))
	}
	n := len(fref)

	binMin := 0
	binMax := n / 2
	if minFreq > 0 {
		binMin = int(minFreq * float64(n) / sampleRate)
	}
	if maxFreq > 0 && maxFreq < sampleRate/2 {
		binMax = int(maxFreq * float64(n) / sampleRate)
	}

	// Only bins with energy above -60dB of the strongest one are whitened.
	maxMag := 0.0
	for i := 0; i < n; i++ {
		mag := cmplx.Abs(fcomp[i] * cmplx.Conj(fref[i]))
		if mag > maxMag {
			maxMag = mag
		}
	}
	threshold := maxMag * 0.001

	res := make([]complex128, n)
	activeBins := 0
	for i := 0; i < n; i++ {
		idx := i
		if i > n/2 {
			idx = n - i
		}
		if idx < binMin || idx > binMax {
			continue
		}

		prod := fcomp[i] * cmplx.Conj(fref[i])
		mag := cmplx.Abs(prod)
		if mag > threshold && mag > 1e-12 {
			res[i] = prod / complex(mag, 0)
			activeBins++
		}
	}

	if activeBins == 0 {
		return 0, 0, nil
	}

	timeDomain := fft.IFFT(res)

	// Lag i corresponds to comp(t) = ref(t-i) for i <= n/2 and to a
	// negative lag i-n otherwise.
	inRange := func(i int) bool {
		if maxLag <= 0 {
			return true
		}
		lag := i
		if lag > n/2 {
			lag -= n
		}
		return lag >= -maxLag && lag <= maxLag
	}

	maxVal := -1.0
	maxIdx := 0
	for i := range n {
		if !inRange(i) {
			continue
		}
		val := cmplx.Abs(timeDomain[i])
		if val > maxVal {
			maxVal = val
			maxIdx = i
		}
	}

	shift := float64(maxIdx)
	if shift > float64(n/2) {
		shift -= float64(n)
	}

	// sub-sample interpolation (parabolic)
	prev := timeDomain[(maxIdx-1+n)%n]
	next := timeDomain[(maxIdx+1)%n]
	y1 := cmplx.Abs(prev)
	y2 := maxVal
	y3 := cmplx.Abs(next)
	if denom := y1 - 2*y2 + y3; math.Abs(denom) > 1e-12 {
		delta := (y1 - y3) / (2 * denom)
		if math.Abs(delta) <= 0.5 {
			shift += delta
		}
	}

	// In a perfect match the peak equals activeBins/n: IFFT divides by
	// n and there are activeBins unit-magnitude bins.
	confidence := math.Min(maxVal*float64(n)/float64(activeBins), 1)

	// comp(t) = ref(t-shift): positive shift means comp lags ref,
	// while the result is positive when comp leads.
	return -shift, confidence, nil
}
