package vad

import (
	"context"
	"time"

	"github.com/xaionaro-go/qualityscore/pkg/audio"
)

type VAD interface {
	audio.AbstractAnalyzer

	// FindNextVoice scans samples (in the analyzer's encoding) and returns
	// the maximal voice confidence met and the position of the first chunk
	// with confidence above the threshold, once voice was found for at
	// least minDuration in total. The position is negative if not found.
	FindNextVoice(
		_ context.Context,
		samples []byte,
		confidenceThreshold float64,
		minDuration time.Duration,
	) (float64, time.Duration, error)

	// VoicedRatio returns the share of the frames of samples detected as
	// voice, within [0, 1].
	VoicedRatio(_ context.Context, samples []byte) (float64, error)
}
