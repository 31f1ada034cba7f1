// Package odg estimates an objective difference grade from the
// log-spectral distance between a reference and a degraded signal.
package odg

import (
	"context"
	"fmt"
	"math"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/qualityscore/pkg/audio"
	"github.com/xaionaro-go/qualityscore/pkg/audio/resampler"
	"github.com/xaionaro-go/qualityscore/pkg/audio/spectrum"
	"github.com/xaionaro-go/qualityscore/pkg/failure"
	"github.com/xaionaro-go/qualityscore/pkg/metric"
)

const (
	FrameSize = 2048
	HopSize   = 1024

	// Scale maps sqrt(LSD) to the grade.
	Scale = -1.5

	epsilon = 1e-10
)

var Range = metric.Range{Min: -4, Max: 0}

type Engine struct{}

var _ metric.Engine = (*Engine)(nil)

func New() *Engine {
	return &Engine{}
}

func (*Engine) Kind() metric.Kind {
	return metric.KindODG
}

func (e *Engine) Score(ctx context.Context, input metric.Input) (_ *metric.Result, _err error) {
	logger.Tracef(ctx, "odg.Score")
	defer func() { logger.Tracef(ctx, "/odg.Score: %v", _err) }()

	pair, ok := input.(metric.SignalPair)
	if !ok {
		return nil, metric.UnexpectedInput(e.Kind(), input)
	}

	lsd, err := LogSpectralDistance(ctx, pair.Reference, pair.Degraded)
	if err != nil {
		return nil, err
	}
	grade := Grade(lsd)
	logger.Debugf(ctx, "LSD %.6f, ODG %.3f", lsd, grade)
	return metric.NewResult(metric.KindODG, metric.Round(grade, 3), Range, map[string]float64{
		"lsd": metric.Round(lsd, 6),
	})
}

// Grade maps a log-spectral distance to [-4, 0].
func Grade(lsd float64) float64 {
	grade := Range.Clamp(Scale * math.Sqrt(lsd))
	if grade == 0 {
		// no negative zero in responses
		return 0
	}
	return grade
}

// LogSpectralDistance is the mean squared difference of the log10
// magnitude spectra over all bins and frames. The degraded signal is
// resampled to the reference rate and both are cut to the shorter one.
func LogSpectralDistance(ctx context.Context, reference, degraded audio.Signal) (float64, error) {
	if degraded.SampleRate != reference.SampleRate {
		var err error
		degraded, err = resampler.Resample(ctx, degraded, reference.SampleRate)
		if err != nil {
			return 0, fmt.Errorf("unable to resample the degraded signal: %w", err)
		}
	}
	n := min(len(reference.Samples), len(degraded.Samples))
	if n < FrameSize {
		return 0, failure.New(failure.KindInsufficientSignal,
			"at least %d samples are required for the spectral comparison, got %d", FrameSize, n)
	}

	stft, err := spectrum.New(FrameSize, HopSize)
	if err != nil {
		return 0, err
	}
	refFrames := stft.Forward(reference.Samples[:n])
	degFrames := stft.Forward(degraded.Samples[:n])
	scale := 1 / stft.WindowSum()

	var (
		sum   float64
		count int
	)
	for frameIdx := range refFrames {
		for bin := range refFrames[frameIdx] {
			r := magnitude(refFrames[frameIdx][bin]) * scale
			d := magnitude(degFrames[frameIdx][bin]) * scale
			diff := math.Log10(r+epsilon) - math.Log10(d+epsilon)
			sum += diff * diff
			count++
		}
	}
	return sum / float64(count), nil
}

func magnitude(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
