// Package testsignal generates deterministic synthetic signals for tests.
package testsignal

import (
	"math"
	"math/rand"

	"github.com/xaionaro-go/qualityscore/pkg/audio"
)

// Speechlike returns a voiced, speech-like signal: a harmonic series with a
// gliding pitch, syllable-rate amplitude modulation and a faint broadband
// component. The peak is normalized to 0.5.
func Speechlike(rate audio.SampleRate, seconds float64, seed int64) audio.Signal {
	rng := rand.New(rand.NewSource(seed))
	n := int(seconds * float64(rate))
	out := make([]float64, n)
	maxFreq := math.Min(3800, 0.45*float64(rate))

	var phase float64
	for i := range out {
		t := float64(i) / float64(rate)
		f0 := 140 + 40*math.Sin(2*math.Pi*0.37*t) + 15*math.Sin(2*math.Pi*1.3*t)
		phase += 2 * math.Pi * f0 / float64(rate)
		var v float64
		for h := 1; float64(h)*f0 < maxFreq; h++ {
			v += math.Sin(float64(h)*phase) / float64(h)
		}
		env := 0.5 * (1 - math.Cos(2*math.Pi*3.1*t))
		out[i] = env*v + 0.01*rng.NormFloat64()
	}
	scale := 0.5 / audio.Peak(out)
	for i := range out {
		out[i] *= scale
	}
	return audio.Signal{SampleRate: rate, Samples: out}
}

// WhiteNoise returns n samples of Gaussian noise with the given RMS.
func WhiteNoise(rate audio.SampleRate, n int, rms float64, seed int64) audio.Signal {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = rms * rng.NormFloat64()
	}
	return audio.Signal{SampleRate: rate, Samples: out}
}

// NoiseRMSForSNR returns the noise RMS giving the SNR (dB) against sig.
func NoiseRMSForSNR(sig audio.Signal, snrDB float64) float64 {
	return sig.RMS() / math.Pow(10, snrDB/20)
}

// Add returns a+b, the length of the result is the length of a.
func Add(a, b audio.Signal) audio.Signal {
	out := a.Clone()
	for i := range out.Samples {
		if i < len(b.Samples) {
			out.Samples[i] += b.Samples[i]
		}
	}
	return out
}

// Delay shifts the signal right by d samples (left if negative), keeping the length.
func Delay(sig audio.Signal, d int) audio.Signal {
	out := audio.Signal{SampleRate: sig.SampleRate, Samples: make([]float64, len(sig.Samples))}
	for i := range out.Samples {
		src := i - d
		if src >= 0 && src < len(sig.Samples) {
			out.Samples[i] = sig.Samples[src]
		}
	}
	return out
}

// SNR returns 10·log10(Σclean² / Σ(noisy-clean)²) over the common length.
func SNR(clean, noisy audio.Signal) float64 {
	var sig, noise float64
	for i := 0; i < len(clean.Samples) && i < len(noisy.Samples); i++ {
		sig += clean.Samples[i] * clean.Samples[i]
		d := noisy.Samples[i] - clean.Samples[i]
		noise += d * d
	}
	return 10 * math.Log10(sig/noise)
}
