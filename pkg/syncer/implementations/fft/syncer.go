// Package fft implements a syncer based on the cross-correlation of the
// amplitude envelopes, refined on the waveform around the envelope peak.
//
// It is less sensitive than GCC-PHAT to a narrowband codec reshaping the
// spectrum, but it needs a signal with a varying envelope (e.g. speech).
package fft

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/brettbuddin/fourier"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/qualityscore/pkg/audio"
	"github.com/xaionaro-go/qualityscore/pkg/syncer"
)

const (
	// EnvelopeWindow is the width of the moving average over the rectified signal.
	EnvelopeWindow = 2 * time.Millisecond

	// RefineRadius is how far (in samples) from the envelope peak the
	// waveform correlation is searched.
	RefineRadius = 48
)

type Syncer struct {
	// MaxShift limits the searched lags, zero means no limit.
	MaxShift time.Duration
}

var _ syncer.Syncer = (*Syncer)(nil)

func NewSyncer(maxShift time.Duration) *Syncer {
	return &Syncer{
		MaxShift: maxShift,
	}
}

func (s *Syncer) Close() error {
	return nil
}

func (s *Syncer) CalculateShiftBetween(
	ctx context.Context,
	referenceTrack audio.Signal,
	comparisonTracks ...audio.Signal,
) (_ []syncer.ShiftResult, _err error) {
	logger.Tracef(ctx, "CalculateShiftBetween")
	defer func() { logger.Tracef(ctx, "/CalculateShiftBetween: %v", _err) }()

	if err := syncer.CheckSampleRates(referenceTrack, comparisonTracks...); err != nil {
		return nil, err
	}
	rate := float64(referenceTrack.SampleRate)
	maxLag := int(s.MaxShift.Seconds() * rate)
	win := max(1, int(EnvelopeWindow.Seconds()*rate))
	refEnv := envelope(referenceTrack.Samples, win)

	results := make([]syncer.ShiftResult, len(comparisonTracks))
	for i, comparisonTrack := range comparisonTracks {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if len(referenceTrack.Samples) == 0 || len(comparisonTrack.Samples) == 0 {
			return nil, fmt.Errorf("track %d: empty tracks cannot be synced", i)
		}

		coarse, err := correlationPeak(refEnv, envelope(comparisonTrack.Samples, win), maxLag)
		if err != nil {
			return nil, fmt.Errorf("unable to correlate the envelopes of track %d: %w", i, err)
		}
		lag, coef := refine(referenceTrack.Samples, comparisonTrack.Samples, coarse, RefineRadius, maxLag)
		logger.Debugf(ctx, "track %d: envelope lag %d, refined lag %d, correlation %.3f", i, coarse, lag, coef)

		// comp(t) = ref(t-lag): a positive lag means comp lags ref.
		results[i] = syncer.ShiftResult{
			Shift:      float64(-lag),
			Confidence: math.Max(0, math.Min(coef, 1)),
		}
	}
	return results, nil
}

// envelope returns the mean-removed moving average of |x|.
func envelope(x []float64, win int) []float64 {
	out := make([]float64, len(x))
	var acc, mean float64
	for idx, v := range x {
		acc += math.Abs(v)
		if idx >= win {
			acc -= math.Abs(x[idx-win])
		}
		out[idx] = acc / float64(win)
		mean += out[idx]
	}
	if len(out) > 0 {
		mean /= float64(len(out))
	}
	for idx := range out {
		out[idx] -= mean
	}
	return out
}

// correlationPeak returns the lag k maximizing Σ comp[t]·ref[t-k].
func correlationPeak(ref, comp []float64, maxLag int) (int, error) {
	n := syncer.NextPowerOfTwo(len(ref) + len(comp) - 1)
	fref := make([]complex128, n)
	fcomp := make([]complex128, n)
	for idx, v := range ref {
		fref[idx] = complex(v, 0)
	}
	for idx, v := range comp {
		fcomp[idx] = complex(v, 0)
	}
	if err := fourier.Forward(fref); err != nil {
		return 0, err
	}
	if err := fourier.Forward(fcomp); err != nil {
		return 0, err
	}
	for idx := range fcomp {
		c := fref[idx]
		fcomp[idx] *= complex(real(c), -imag(c))
	}
	if err := fourier.Inverse(fcomp); err != nil {
		return 0, err
	}

	bestLag, bestVal := 0, math.Inf(-1)
	for idx, c := range fcomp {
		lag := idx
		if lag > n/2 {
			lag -= n
		}
		if maxLag > 0 && (lag > maxLag || lag < -maxLag) {
			continue
		}
		if v := real(c); v > bestVal {
			bestLag, bestVal = lag, v
		}
	}
	return bestLag, nil
}

// refine searches lags within radius of center maximizing the normalized
// correlation of the waveforms over their overlap.
func refine(ref, comp []float64, center, radius, maxLag int) (int, float64) {
	bestLag, bestCoef := center, math.Inf(-1)
	for lag := center - radius; lag <= center+radius; lag++ {
		if maxLag > 0 && (lag > maxLag || lag < -maxLag) {
			continue
		}
		if coef := pearson(ref, comp, lag); coef > bestCoef {
			bestLag, bestCoef = lag, coef
		}
	}
	if math.IsInf(bestCoef, -1) {
		return center, 0
	}
	return bestLag, bestCoef
}

// pearson correlates comp[t] with ref[t-lag] over the overlapping part.
func pearson(ref, comp []float64, lag int) float64 {
	lo := max(0, lag)
	hi := min(len(comp), len(ref)+lag)
	if hi-lo < 2 {
		return 0
	}
	var sumXY, sumXX, sumYY float64
	for t := lo; t < hi; t++ {
		x := comp[t]
		y := ref[t-lag]
		sumXY += x * y
		sumXX += x * x
		sumYY += y * y
	}
	if sumXX == 0 || sumYY == 0 {
		return 0
	}
	return sumXY / math.Sqrt(sumXX*sumYY)
}
