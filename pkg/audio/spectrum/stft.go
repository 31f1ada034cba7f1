// Package spectrum implements the short-time Fourier transform used by the
// denoiser and the spectral metrics.
package spectrum

import (
	"fmt"

	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/dsp/fourier"
)

// STFT is a Hann-windowed short-time Fourier transform with zero padding
// of half a frame on both sides. It is not safe for concurrent use.
type STFT struct {
	FrameSize int
	HopSize   int
	Window    []float64

	fft      *fourier.FFT
	invScale float64
	seq      []float64
}

func New(frameSize, hopSize int) (*STFT, error) {
	if frameSize < 2 || frameSize%2 != 0 {
		return nil, fmt.Errorf("frame size must be a positive even number: %d", frameSize)
	}
	if hopSize <= 0 || hopSize > frameSize {
		return nil, fmt.Errorf("hop size must be within (0, %d]: %d", frameSize, hopSize)
	}

	// periodic Hann
	w := window.Hann(frameSize + 1)[:frameSize]

	f := fourier.NewFFT(frameSize)
	impulse := make([]float64, frameSize)
	impulse[0] = 1
	back := f.Sequence(nil, f.Coefficients(nil, impulse))

	return &STFT{
		FrameSize: frameSize,
		HopSize:   hopSize,
		Window:    w,
		fft:       f,
		invScale:  1 / back[0],
		seq:       make([]float64, frameSize),
	}, nil
}

// Bins returns the amount of frequency bins in a frame.
func (s *STFT) Bins() int {
	return s.FrameSize/2 + 1
}

// BinFrequency returns the center frequency of the bin in Hz.
func (s *STFT) BinFrequency(bin int, sampleRate float64) float64 {
	return float64(bin) * sampleRate / float64(s.FrameSize)
}

// WindowSum is the sum of the window coefficients, useful to scale
// magnitudes to the amplitude of a sinusoid.
func (s *STFT) WindowSum() float64 {
	var sum float64
	for _, v := range s.Window {
		sum += v
	}
	return sum
}

// NumFrames returns the amount of frames Forward produces for n samples.
func (s *STFT) NumFrames(n int) int {
	padded := n + s.FrameSize
	return (padded-s.FrameSize+s.HopSize-1)/s.HopSize + 1
}

// Forward returns the one-sided spectra of all frames.
func (s *STFT) Forward(x []float64) [][]complex128 {
	numFrames := s.NumFrames(len(x))
	half := s.FrameSize / 2
	frames := make([][]complex128, numFrames)
	for frameIdx := range frames {
		start := frameIdx*s.HopSize - half
		for idx := range s.seq {
			pos := start + idx
			if pos < 0 || pos >= len(x) {
				s.seq[idx] = 0
				continue
			}
			s.seq[idx] = x[pos] * s.Window[idx]
		}
		frames[frameIdx] = s.fft.Coefficients(nil, s.seq)
	}
	return frames
}

// Inverse reconstructs n samples from frames produced by Forward
// (possibly modified) using weighted overlap-add.
func (s *STFT) Inverse(frames [][]complex128, n int) ([]float64, error) {
	half := s.FrameSize / 2
	total := (len(frames)-1)*s.HopSize + s.FrameSize
	out := make([]float64, total)
	norm := make([]float64, total)
	for frameIdx, coeffs := range frames {
		if len(coeffs) != s.Bins() {
			return nil, fmt.Errorf("frame %d has %d bins instead of %d", frameIdx, len(coeffs), s.Bins())
		}
		s.fft.Sequence(s.seq, coeffs)
		start := frameIdx * s.HopSize
		for idx, v := range s.seq {
			w := s.Window[idx]
			out[start+idx] += v * s.invScale * w
			norm[start+idx] += w * w
		}
	}

	result := make([]float64, n)
	for idx := range result {
		pos := idx + half
		if pos >= total {
			break
		}
		if norm[pos] > 1e-10 {
			result[idx] = out[pos] / norm[pos]
		}
	}
	return result, nil
}
