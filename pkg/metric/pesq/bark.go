package pesq

import (
	"math"
)

// hzToBark is Zwicker's critical band rate approximation.
func hzToBark(f float64) float64 {
	return 13*math.Atan(0.00076*f) + 3.5*math.Atan((f/7500)*(f/7500))
}

func barkToHz(z float64) float64 {
	lo, hi := 0.0, 24000.0
	for range 60 {
		mid := (lo + hi) / 2
		if hzToBark(mid) < z {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}

// thresholdDB is the absolute hearing threshold in dB SPL (Terhardt).
func thresholdDB(f float64) float64 {
	k := math.Max(f, 20) / 1000
	return 3.64*math.Pow(k, -0.8) - 6.5*math.Exp(-0.6*(k-3.3)*(k-3.3)) + 1e-3*math.Pow(k, 4)
}

type band struct {
	Lo, Hi    float64 // Hz
	Center    float64 // Hz
	Width     float64 // Bark
	Bins      []int
	Threshold float64 // power, the same units as the band powers
}

// bandLayout splits [lo, hi] Hz into count bands of equal width on the
// Bark scale and maps them onto FFT bins of width binHz.
func bandLayout(count int, lo, hi float64, binHz float64, numBins int) []band {
	zLo, zHi := hzToBark(lo), hzToBark(hi)
	width := (zHi - zLo) / float64(count)
	bands := make([]band, count)
	for idx := range bands {
		b := &bands[idx]
		b.Lo = barkToHz(zLo + float64(idx)*width)
		b.Hi = barkToHz(zLo + float64(idx+1)*width)
		b.Center = barkToHz(zLo + (float64(idx)+0.5)*width)
		b.Width = width
		for bin := 0; bin < numBins; bin++ {
			f := float64(bin) * binHz
			if f >= b.Lo && f < b.Hi {
				b.Bins = append(b.Bins, bin)
			}
		}
		if len(b.Bins) == 0 {
			b.Bins = []int{min(numBins-1, int(math.Round(b.Center/binHz)))}
		}
		b.Threshold = referencePower * math.Pow(10, (thresholdDB(b.Center)-referenceSPL)/10)
	}
	return bands
}
