// Package webrtcvad implements vad.VAD on top of the WebRTC voice
// activity detector.
package webrtcvad

import (
	"context"
	"fmt"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/josharian/fvad"
	"github.com/xaionaro-go/qualityscore/pkg/audio"
	"github.com/xaionaro-go/qualityscore/pkg/audio/pcm"
	"github.com/xaionaro-go/qualityscore/pkg/vad"
)

const FrameDuration = 30 * time.Millisecond

type VAD struct {
	SampleRate audio.SampleRate
	Mode       int
}

var _ vad.VAD = (*VAD)(nil)

// New returns a detector for mono S16LE audio. Supported sample rates are
// 8, 16, 32 and 48 kHz; mode is the aggressiveness within [0, 3].
func New(sampleRate audio.SampleRate, mode int) (*VAD, error) {
	switch sampleRate {
	case 8000, 16000, 32000, 48000:
	default:
		return nil, fmt.Errorf("unsupported sample rate: %d", sampleRate)
	}
	if mode < 0 || mode > 3 {
		return nil, fmt.Errorf("mode must be within [0, 3]: got %d", mode)
	}
	return &VAD{
		SampleRate: sampleRate,
		Mode:       mode,
	}, nil
}

func (v *VAD) Close() error {
	return nil
}

func (v *VAD) Encoding(
	ctx context.Context,
) (audio.Encoding, error) {
	return audio.EncodingPCM{
		PCMFormat:  audio.PCMFormatS16LE,
		SampleRate: v.SampleRate,
	}, nil
}

func (v *VAD) Channels(
	ctx context.Context,
) (audio.Channel, error) {
	return 1, nil
}

func (v *VAD) FindNextVoice(
	ctx context.Context,
	samples []byte,
	confidenceThreshold float64,
	minDuration time.Duration,
) (float64, time.Duration, error) {
	var maxConfidence float64
	var foundVoiceFor time.Duration
	firstVoiceDetection := time.Duration(-1)
	err := v.walk(ctx, samples, func(pos int, voiceConfidence float64) bool {
		if voiceConfidence > maxConfidence {
			maxConfidence = voiceConfidence
		}
		if voiceConfidence >= confidenceThreshold {
			foundVoiceFor += FrameDuration
			if firstVoiceDetection < 0 {
				firstVoiceDetection = FrameDuration * time.Duration(pos)
			}
		}
		return foundVoiceFor < minDuration
	})
	if err != nil {
		return maxConfidence, -1, err
	}
	logger.Tracef(ctx, "voice found for %v, first at %v", foundVoiceFor, firstVoiceDetection)
	if foundVoiceFor < minDuration || foundVoiceFor == 0 {
		return maxConfidence, -1, nil
	}
	return maxConfidence, firstVoiceDetection, nil
}

func (v *VAD) VoicedRatio(
	ctx context.Context,
	samples []byte,
) (float64, error) {
	var voiced, total int
	err := v.walk(ctx, samples, func(_ int, voiceConfidence float64) bool {
		total++
		if voiceConfidence >= 0.5 {
			voiced++
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	return float64(voiced) / float64(total), nil
}

// walk feeds every complete frame of samples to a fresh detector until fn
// returns false. A trailing incomplete frame is ignored.
func (v *VAD) walk(
	ctx context.Context,
	samples []byte,
	fn func(pos int, voiceConfidence float64) bool,
) error {
	if len(samples) == 0 {
		return nil
	}

	detector := fvad.NewDetector()
	if err := detector.SetMode(v.Mode); err != nil {
		return fmt.Errorf("unable to set the mode %d: %w", v.Mode, err)
	}
	if err := detector.SetSampleRate(int(v.SampleRate)); err != nil {
		return fmt.Errorf("unable to set the sample rate %d: %w", v.SampleRate, err)
	}

	encoding := audio.EncodingPCM{PCMFormat: audio.PCMFormatS16LE, SampleRate: v.SampleRate}
	chunkSize := int(encoding.BytesForDuration(FrameDuration))
	for pos := 0; len(samples) >= chunkSize; pos++ {
		if pos%100 == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		frame, err := pcm.Decode(audio.PCMFormatS16LE, samples[:chunkSize])
		if err != nil {
			return err
		}
		samples = samples[chunkSize:]

		isVoice, err := detector.Process(pcm.ToInt16(frame))
		if err != nil {
			return fmt.Errorf("unable to process frame %d: %w", pos, err)
		}
		voiceConfidence := 0.0
		if isVoice {
			voiceConfidence = 1
		}
		if !fn(pos, voiceConfidence) {
			return nil
		}
	}
	return nil
}
