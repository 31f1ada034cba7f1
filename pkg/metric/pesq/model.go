package pesq

import (
	"context"
	"math"

	"github.com/xaionaro-go/qualityscore/pkg/audio/spectrum"
)

const (
	zwickerPower   = 0.23
	loudnessScale  = 0.5
	maskingFactor  = 0.25
	maxFrameDist   = 45.0
	levelBandLoHz  = 350.0
	levelBandHiHz  = 3250.0
	activeFrameRel = 1e-2
)

type model struct {
	mode  Mode
	stft  *spectrum.STFT
	bands []band
	binHz float64
}

type disturbance struct {
	Symmetric  float64
	Asymmetric float64
}

func newModel(mode Mode) (*model, error) {
	rate := float64(mode.SampleRate())
	frameSize := int(frameDuration * rate)
	stft, err := spectrum.New(frameSize, frameSize/2)
	if err != nil {
		return nil, err
	}
	binHz := rate / float64(frameSize)

	var bands []band
	switch mode {
	case ModeNarrowband:
		bands = bandLayout(42, 300, 3400, binHz, stft.Bins())
	default:
		bands = bandLayout(49, 100, 7000, binHz, stft.Bins())
	}
	return &model{
		mode:  mode,
		stft:  stft,
		bands: bands,
		binHz: binHz,
	}, nil
}

// powerSpectra returns per-frame bin powers normalized so that a band
// power reads as the mean power of the band-limited signal.
func (m *model) powerSpectra(x []float64) [][]float64 {
	var windowEnergy float64
	for _, w := range m.stft.Window {
		windowEnergy += w * w
	}
	scale := 2 / (float64(m.stft.FrameSize) * windowEnergy)

	frames := m.stft.Forward(x)
	out := make([][]float64, len(frames))
	for frameIdx, frame := range frames {
		p := make([]float64, len(frame))
		for bin, c := range frame {
			p[bin] = (real(c)*real(c) + imag(c)*imag(c)) * scale
		}
		out[frameIdx] = p
	}
	return out
}

// levelFactor returns the power gain that brings the mean power in the
// level band to referencePower.
func (m *model) levelFactor(spectra [][]float64) float64 {
	lo := int(math.Ceil(levelBandLoHz / m.binHz))
	hi := int(math.Floor(levelBandHiHz / m.binHz))
	var sum float64
	for _, p := range spectra {
		for bin := lo; bin <= hi && bin < len(p); bin++ {
			sum += p[bin]
		}
	}
	mean := sum / float64(len(spectra))
	if mean <= 0 {
		return 0
	}
	return referencePower / mean
}

func (m *model) bandPowers(spectra [][]float64, gain float64) [][]float64 {
	out := make([][]float64, len(spectra))
	for frameIdx, p := range spectra {
		bp := make([]float64, len(m.bands))
		for idx, b := range m.bands {
			var sum float64
			for _, bin := range b.Bins {
				sum += p[bin]
			}
			bp[idx] = sum * gain
		}
		out[frameIdx] = bp
	}
	return out
}

func (m *model) disturbance(ctx context.Context, ref, deg []float64) (disturbance, error) {
	if len(ref) < m.stft.FrameSize {
		return disturbance{}, insufficient("at least %d samples are required, got %d", m.stft.FrameSize, len(ref))
	}

	refSpectra := m.powerSpectra(ref)
	degSpectra := m.powerSpectra(deg)
	if len(refSpectra) < intervalFrames {
		return disturbance{}, insufficient("at least %d frames are required, got %d", intervalFrames, len(refSpectra))
	}

	refGain := m.levelFactor(refSpectra)
	if refGain == 0 {
		return disturbance{}, insufficient("the reference is silent")
	}
	degGain := m.levelFactor(degSpectra)
	if degGain == 0 {
		degGain = refGain
	}
	pr := m.bandPowers(refSpectra, refGain)
	pd := m.bandPowers(degSpectra, degGain)

	select {
	case <-ctx.Done():
		return disturbance{}, ctx.Err()
	default:
	}

	frameEnergy := make([]float64, len(pr))
	var meanEnergy float64
	for f := range pr {
		for _, v := range pr[f] {
			frameEnergy[f] += v
		}
		meanEnergy += frameEnergy[f]
	}
	meanEnergy /= float64(len(pr))
	active := func(f int) bool {
		return frameEnergy[f] > activeFrameRel*meanEnergy
	}

	m.compensateFrequencyResponse(pr, pd, active)
	m.compensateGain(pr, pd)

	sym := make([]float64, len(pr))
	asym := make([]float64, len(pr))
	for f := range pr {
		sym[f], asym[f] = m.frameDisturbance(pr[f], pd[f])
		weight := math.Pow((frameEnergy[f]+1e5)/referencePower, 0.04)
		sym[f] = math.Min(sym[f]*weight, maxFrameDist)
		asym[f] = math.Min(asym[f]*weight, maxFrameDist)
	}

	return disturbance{
		Symmetric:  aggregate(sym),
		Asymmetric: aggregate(asym),
	}, nil
}

// compensateFrequencyResponse filters the reference with the (limited)
// average transfer function of the system under test.
func (m *model) compensateFrequencyResponse(pr, pd [][]float64, active func(int) bool) {
	for b := range m.bands {
		var sr, sd float64
		var count int
		for f := range pr {
			if !active(f) {
				continue
			}
			sr += pr[f][b]
			sd += pd[f][b]
			count++
		}
		if count == 0 {
			continue
		}
		ratio := (sd/float64(count) + 1000) / (sr/float64(count) + 1000)
		ratio = math.Max(0.01, math.Min(100, ratio))
		for f := range pr {
			pr[f][b] *= ratio
		}
	}
}

// compensateGain removes short-term gain variations of the degraded signal.
func (m *model) compensateGain(pr, pd [][]float64) {
	smoothed := 0.0
	for f := range pr {
		var audibleRef, audibleDeg float64
		for b, band := range m.bands {
			if pr[f][b] > band.Threshold {
				audibleRef += pr[f][b]
			}
			if pd[f][b] > band.Threshold {
				audibleDeg += pd[f][b]
			}
		}
		ratio := (audibleDeg + 5e3) / (audibleRef + 5e3)
		ratio = math.Max(3e-4, math.Min(5, ratio))
		if f == 0 {
			smoothed = ratio
		} else {
			smoothed = 0.8*smoothed + 0.2*ratio
		}
		for b := range m.bands {
			pd[f][b] /= smoothed
		}
	}
}

func (m *model) loudness(p float64, threshold float64) float64 {
	if p <= threshold {
		return 0
	}
	return loudnessScale * math.Pow(threshold/0.5, zwickerPower) *
		(math.Pow(0.5+0.5*p/threshold, zwickerPower) - 1)
}

func (m *model) frameDisturbance(pr, pd []float64) (float64, float64) {
	var symSum, asymSum float64
	for b, band := range m.bands {
		lr := m.loudness(pr[b], band.Threshold)
		ld := m.loudness(pd[b], band.Threshold)
		d := ld - lr
		masked := math.Max(math.Abs(d)-maskingFactor*math.Min(lr, ld), 0)
		symSum += band.Width * masked * masked * masked

		h := math.Pow((pd[b]+50)/(pr[b]+50), 1.2)
		switch {
		case h < 3:
			h = 0
		case h > 12:
			h = 12
		}
		asymSum += band.Width * masked * h
	}
	return math.Cbrt(symSum), asymSum
}

// aggregate is the L2 norm over L6 norms of half-overlapping intervals
// of intervalFrames frames.
func aggregate(frames []float64) float64 {
	hop := intervalFrames / 2
	var (
		sum   float64
		count int
	)
	for start := 0; start == 0 || start+intervalFrames <= len(frames); start += hop {
		end := min(start+intervalFrames, len(frames))
		var p6 float64
		for _, v := range frames[start:end] {
			p6 += math.Pow(v, 6)
		}
		l6 := math.Pow(p6/float64(end-start), 1.0/6)
		sum += l6 * l6
		count++
	}
	return math.Sqrt(sum / float64(count))
}
