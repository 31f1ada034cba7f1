package scoring

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/qualityscore/pkg/alignment"
	"github.com/xaionaro-go/qualityscore/pkg/assets"
	"github.com/xaionaro-go/qualityscore/pkg/audio"
	"github.com/xaionaro-go/qualityscore/pkg/audio/resampler"
	"github.com/xaionaro-go/qualityscore/pkg/audio/wavfile"
	"github.com/xaionaro-go/qualityscore/pkg/failure"
	"github.com/xaionaro-go/qualityscore/pkg/media"
	"github.com/xaionaro-go/qualityscore/pkg/metric"
	"github.com/xaionaro-go/qualityscore/pkg/noisesuppression"
)

type AudioDetails struct {
	RefSampleRate       int      `json:"ref_sample_rate"`
	DegSampleRate       int      `json:"deg_sample_rate"`
	RefDuration         float64  `json:"ref_duration"`
	DegDuration         float64  `json:"deg_duration"`
	Resampled           bool     `json:"resampled"`
	NoiseDuration       *float64 `json:"noise_duration,omitempty"`
	SpectralSubtraction bool     `json:"spectral_subtraction"`
	AnalysisDuration    float64  `json:"analysis_duration"`
	ReferenceVersion    string   `json:"reference_version"`

	Alignment *alignment.Offset `json:"alignment,omitempty"`
}

type AudioResponse struct {
	ODGScore           float64      `json:"odg_score"`
	LSD                float64      `json:"lsd"`
	Details            AudioDetails `json:"details"`
	SubtractedAudioB64 string       `json:"subtracted_audio_b64,omitempty"`
}

// ScoreAudio grades a recording of the reference audio. The room noise
// capture, if any, is subtracted from the recording before the comparison.
func (s *Scorer) ScoreAudio(
	ctx context.Context,
	degraded Upload,
	roomNoise *Upload,
	opts Options,
) (_ *AudioResponse, _err error) {
	logger.Tracef(ctx, "ScoreAudio")
	defer func() { logger.Tracef(ctx, "/ScoreAudio: %v", _err) }()

	var in inputs
	defer func() { in.report(ctx, "audio scoring failed", _err) }()

	if err := degraded.check("degraded audio"); err != nil {
		return nil, err
	}

	ref, err := assets.Require(s.Assets.ReferenceAudio, "audio")
	if err != nil {
		return nil, err
	}
	in = append(in, ref.String())
	ws, err := s.workspace(ctx)
	if err != nil {
		return nil, err
	}
	defer closeWorkspace(ctx, ws)

	degSample, err := s.Ingester.Ingest(ctx, ws, degraded.Filename, degraded.Data, media.KindAudio)
	if err != nil {
		return nil, err
	}
	in.add(degSample)

	var noise audio.Buffer
	if roomNoise != nil && len(roomNoise.Data) > 0 {
		noiseSample, err := s.Ingester.Ingest(ctx, ws, roomNoise.Filename, roomNoise.Data, media.KindAudio)
		if err != nil {
			return nil, err
		}
		in.add(noiseSample)
		noise = noiseSample.Audio
	}

	refSig := ref.Sample.Audio.Mono()
	rate := refSig.SampleRate
	degBuf := degSample.Audio
	resampled := degBuf.SampleRate != rate
	if resampled {
		if degBuf, err = resampler.ResampleBuffer(ctx, degBuf, rate); err != nil {
			return nil, fmt.Errorf("unable to resample the recording: %w", err)
		}
	}
	if !noise.IsEmpty() && noise.SampleRate != rate {
		if noise, err = resampler.ResampleBuffer(ctx, noise, rate); err != nil {
			return nil, fmt.Errorf("unable to resample the room noise: %w", err)
		}
	}

	denoised, err := s.Denoiser.Denoise(ctx, noise, degBuf)
	if err != nil {
		return nil, err
	}
	_, passthrough := s.Denoiser.(*noisesuppression.Dummy)
	subtracted := !noise.IsEmpty() && !passthrough
	degSig := denoised.Mono()

	aligned, offset, err := s.Aligner.Align(ctx, refSig, degSig)
	if err != nil {
		return nil, err
	}
	start, end := offset.Overlap(len(refSig.Samples), len(degSig.Samples))
	if end <= start {
		return nil, failure.New(failure.KindAlignmentFailed, "the recording does not overlap the reference")
	}
	analyzedRef, analyzedDeg := trim(refSig, start, end), trim(aligned, start, end)

	odgEngine, err := s.engine(s.Engines.ODG, "ODG")
	if err != nil {
		return nil, err
	}
	res, err := odgEngine.Score(ctx, metric.SignalPair{Reference: analyzedRef, Degraded: analyzedDeg})
	if err != nil {
		return nil, err
	}
	if subtracted {
		if res.Artifact, err = wavfile.EncodeBytes(denoised); err != nil {
			return nil, fmt.Errorf("unable to encode the subtracted audio: %w", err)
		}
	}

	resp := &AudioResponse{
		ODGScore: res.Score,
		LSD:      res.SubMetrics["lsd"],
		Details: AudioDetails{
			RefSampleRate:       int(rate),
			DegSampleRate:       int(degSample.Attributes.SampleRate),
			RefDuration:         seconds(refSig),
			DegDuration:         metric.Round(degSample.Attributes.Duration.Seconds(), 2),
			Resampled:           resampled,
			SpectralSubtraction: subtracted,
			AnalysisDuration:    seconds(analyzedRef),
			ReferenceVersion:    ref.Version,
		},
	}
	if opts.Diagnostics {
		resp.Details.Alignment = &offset
	}
	if !noise.IsEmpty() {
		resp.Details.NoiseDuration = ptr(metric.Round(noise.Duration().Seconds(), 2))
	}
	if len(res.Artifact) > 0 {
		resp.SubtractedAudioB64 = base64.StdEncoding.EncodeToString(res.Artifact)
	}
	return resp, nil
}
