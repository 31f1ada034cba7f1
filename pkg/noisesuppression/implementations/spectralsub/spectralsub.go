// Package spectralsub implements noise suppression by Wiener-style
// spectral subtraction of a noise profile measured on an ambient capture.
package spectralsub

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/qualityscore/pkg/audio"
	"github.com/xaionaro-go/qualityscore/pkg/audio/spectrum"
	"github.com/xaionaro-go/qualityscore/pkg/config"
	"github.com/xaionaro-go/qualityscore/pkg/failure"
	"github.com/xaionaro-go/qualityscore/pkg/noisesuppression"
)

type Params struct {
	FrameSize int
	HopSize   int

	// OverSubtraction scales the noise estimate before subtraction.
	OverSubtraction float64
	// GainFloorDB is the minimal gain applied to any bin.
	GainFloorDB float64
	// SmoothingBins is the width of the moving average over the per-bin gains.
	SmoothingBins int
	// PeakLimit is the maximal absolute sample value of the output.
	PeakLimit float64
}

func ParamsFromConfig(cfg config.Denoise) Params {
	return Params{
		FrameSize:       cfg.FrameSize,
		HopSize:         cfg.HopSize,
		OverSubtraction: cfg.OverSubtraction,
		GainFloorDB:     cfg.GainFloorDB,
		SmoothingBins:   cfg.SmoothingBins,
		PeakLimit:       cfg.PeakLimit,
	}
}

type SpectralSubtraction struct {
	Params
}

var _ noisesuppression.NoiseSuppression = (*SpectralSubtraction)(nil)

func New(params Params) (*SpectralSubtraction, error) {
	if _, err := spectrum.New(params.FrameSize, params.HopSize); err != nil {
		return nil, err
	}
	if params.OverSubtraction <= 0 {
		return nil, fmt.Errorf("over-subtraction factor must be positive: %v", params.OverSubtraction)
	}
	if params.SmoothingBins < 1 || params.SmoothingBins%2 == 0 {
		return nil, fmt.Errorf("smoothing width must be a positive odd number: %d", params.SmoothingBins)
	}
	if params.PeakLimit <= 0 {
		return nil, fmt.Errorf("peak limit must be positive: %v", params.PeakLimit)
	}
	return &SpectralSubtraction{
		Params: params,
	}, nil
}

func (s *SpectralSubtraction) Close() error {
	return nil
}

// NoiseProfile is the mean power per frequency bin of the ambient noise.
type NoiseProfile struct {
	SampleRate audio.SampleRate
	Power      []float64
	Frames     int
}

func (s *SpectralSubtraction) EstimateNoise(ambient audio.Signal) (*NoiseProfile, error) {
	stft, err := spectrum.New(s.FrameSize, s.HopSize)
	if err != nil {
		return nil, err
	}
	frames := stft.Forward(ambient.Samples)
	power := make([]float64, stft.Bins())
	for _, frame := range frames {
		for bin, c := range frame {
			power[bin] += real(c)*real(c) + imag(c)*imag(c)
		}
	}
	for bin := range power {
		power[bin] /= float64(len(frames))
	}
	return &NoiseProfile{
		SampleRate: ambient.SampleRate,
		Power:      power,
		Frames:     len(frames),
	}, nil
}

func (s *SpectralSubtraction) Denoise(
	ctx context.Context,
	ambient audio.Buffer,
	degraded audio.Buffer,
) (_ audio.Buffer, _err error) {
	logger.Tracef(ctx, "Denoise")
	defer func() { logger.Tracef(ctx, "/Denoise: %v", _err) }()

	if ambient.IsEmpty() {
		logger.Debugf(ctx, "no ambient capture, nothing to subtract")
		return noisesuppression.Copy(degraded), nil
	}
	if ambient.SampleRate != degraded.SampleRate {
		return audio.Buffer{}, failure.New(failure.KindInternalProcessingError,
			"the ambient capture sample rate %d differs from the degraded one %d", ambient.SampleRate, degraded.SampleRate)
	}

	profile, err := s.EstimateNoise(ambient.Mono())
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("unable to estimate the noise: %w", err)
	}
	logger.Debugf(ctx, "noise profile estimated over %d frames", profile.Frames)

	out := make([][]float64, len(degraded.Channels))
	var (
		wg      sync.WaitGroup
		locker  sync.Mutex
		errs    []error
		channel = func(ch int) {
			cleaned, err := s.subtract(ctx, profile, degraded.Channels[ch])
			locker.Lock()
			defer locker.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("channel %d: %w", ch, err))
				return
			}
			out[ch] = cleaned
		}
	)
	for ch := range degraded.Channels {
		wg.Add(1)
		observability.Go(ctx, func() {
			defer wg.Done()
			channel(ch)
		})
	}
	wg.Wait()
	if len(errs) > 0 {
		return audio.Buffer{}, errs[0]
	}

	var peak float64
	for _, plane := range out {
		peak = math.Max(peak, audio.Peak(plane))
	}
	if peak > s.PeakLimit {
		scale := s.PeakLimit / peak
		logger.Debugf(ctx, "peak %.3f exceeds %.3f, scaling by %.3f", peak, s.PeakLimit, scale)
		for _, plane := range out {
			for idx := range plane {
				plane[idx] *= scale
			}
		}
	}
	return audio.NewBuffer(degraded.SampleRate, out...)
}

func (s *SpectralSubtraction) subtract(
	ctx context.Context,
	profile *NoiseProfile,
	samples []float64,
) ([]float64, error) {
	stft, err := spectrum.New(s.FrameSize, s.HopSize)
	if err != nil {
		return nil, err
	}
	gainFloor := math.Pow(10, s.GainFloorDB/20)
	frames := stft.Forward(samples)
	gains := make([]float64, stft.Bins())
	smoothed := make([]float64, stft.Bins())
	for frameIdx, frame := range frames {
		if frameIdx%256 == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}
		for bin, c := range frame {
			power := real(c)*real(c) + imag(c)*imag(c)
			gains[bin] = gain(power, s.OverSubtraction*profile.Power[bin], gainFloor)
		}
		movingAverage(smoothed, gains, s.SmoothingBins)
		for bin, c := range frame {
			frame[bin] = c * complex(smoothed[bin], 0)
		}
	}
	return stft.Inverse(frames, len(samples))
}

// gain is max(1 - noise/power, floor); the phase is left untouched by
// applying a real gain.
func gain(power, noise, floor float64) float64 {
	if noise <= 0 {
		return 1
	}
	if power <= 0 {
		return floor
	}
	return math.Max(1-noise/power, floor)
}

// movingAverage is a centered moving average; samples beyond the edges
// mirror the ones inside (d c b a | a b c d).
func movingAverage(dst, src []float64, width int) {
	half := width / 2
	n := len(src)
	for idx := range src {
		var sum float64
		for j := idx - half; j <= idx+half; j++ {
			sum += src[reflect(j, n)]
		}
		dst[idx] = sum / float64(width)
	}
}

func reflect(idx, n int) int {
	period := 2 * n
	idx %= period
	if idx < 0 {
		idx += period
	}
	if idx >= n {
		idx = period - 1 - idx
	}
	return idx
}
