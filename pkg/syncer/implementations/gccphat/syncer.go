// Package gccphat implements an audio synchronization algorithm using
// Generalized Cross-Correlation with Phase Transform (GCC-PHAT).
//
// The algorithm calculates the time delay between two signals by
// looking at their cross-correlation in the frequency domain. By
// normalizing the magnitude (the Phase Transform), it becomes
// robust against variations in volume and certain types of noise,
// focusing only on the phase information that indicates the delay.
package gccphat

import (
	"context"
	"fmt"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/mjibson/go-dsp/fft"
	"github.com/xaionaro-go/qualityscore/pkg/audio"
	"github.com/xaionaro-go/qualityscore/pkg/syncer"
)

type Syncer struct {
	MinFreq float64
	MaxFreq float64

	// MaxShift limits the searched lags, zero means no limit.
	MaxShift time.Duration
}

var _ syncer.Syncer = (*Syncer)(nil)

// NewSyncer initializes a new one-shot GCC-PHAT syncer.
func NewSyncer(
	minFreq, maxFreq float64,
	maxShift time.Duration,
) (*Syncer, error) {
	if minFreq < 0 || (maxFreq > 0 && maxFreq <= minFreq) {
		return nil, fmt.Errorf("invalid frequency band: [%v, %v]", minFreq, maxFreq)
	}
	if maxShift < 0 {
		return nil, fmt.Errorf("max shift must not be negative: %v", maxShift)
	}
	return &Syncer{
		MinFreq:  minFreq,
		MaxFreq:  maxFreq,
		MaxShift: maxShift,
	}, nil
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
	sampleRate := float64(referenceTrack.SampleRate)
	maxLag := int(s.MaxShift.Seconds() * sampleRate)

	results := make([]syncer.ShiftResult, len(comparisonTracks))
	for i, comparisonTrack := range comparisonTracks {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		// Determine the FFT size: the next power of two of (n1 + n2 - 1)
		// to avoid circular convolution artifacts.
		n1 := len(referenceTrack.Samples)
		n2 := len(comparisonTrack.Samples)
		if n1 == 0 || n2 == 0 {
			return nil, fmt.Errorf("track %d: empty tracks cannot be synced", i)
		}
		n := syncer.NextPowerOfTwo(n1 + n2 - 1)

		// Transform signals to the frequency domain (Forward FFT).
		ffref := fft.FFT(padded(referenceTrack.Samples, n))
		ffcomp := fft.FFT(padded(comparisonTrack.Samples, n))

		shift, confidence, err := CrossCorrelate(ffref, ffcomp, sampleRate, s.MinFreq, s.MaxFreq, maxLag)
		if err != nil {
			return nil, fmt.Errorf("failed to cross-correlate track %d: %w", i, err)
		}
		logger.Debugf(ctx, "track %d: shift %.2f samples, confidence %.3f", i, shift, confidence)
		results[i] = syncer.ShiftResult{
			Shift:      shift,
			Confidence: confidence,
		}
	}
	return results, nil
}

func padded(samples []float64, n int) []complex128 {
	out := make([]complex128, n)
	for idx, v := range samples {
		out[idx] = complex(v, 0)
	}
	return out
}
