package syncer

import (
	"context"
	"fmt"
	"io"

	"github.com/xaionaro-go/qualityscore/pkg/audio"
)

type ShiftResult struct {
	Shift      float64 // Delay relative to reference in samples (positive means comparison is ahead)
	Confidence float64 // Confidence score (0..1)
}

type Syncer interface {
	io.Closer

	// CalculateShiftBetween returns the amount of samples each
	// comparison track needs to be shifted by, to get it synced
	// with the reference track. It also returns a confidence
	// score (0..1) for each result.
	CalculateShiftBetween(
		ctx context.Context,
		referenceTrack audio.Signal,
		comparisonTracks ...audio.Signal,
	) ([]ShiftResult, error)
}

// CheckSampleRates returns an error if any comparison track is sampled
// differently than the reference.
func CheckSampleRates(reference audio.Signal, comparisons ...audio.Signal) error {
	if reference.SampleRate == 0 {
		return fmt.Errorf("sample rate is mandatory")
	}
	for idx, comp := range comparisons {
		if comp.SampleRate != reference.SampleRate {
			return fmt.Errorf("comparison track %d is sampled at %d Hz, while the reference is at %d Hz", idx, comp.SampleRate, reference.SampleRate)
		}
	}
	return nil
}

// NextPowerOfTwo returns the smallest power of two not less than n.
func NextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
