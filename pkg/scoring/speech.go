package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/qualityscore/pkg/alignment"
	"github.com/xaionaro-go/qualityscore/pkg/assets"
	"github.com/xaionaro-go/qualityscore/pkg/audio"
	"github.com/xaionaro-go/qualityscore/pkg/audio/pcm"
	"github.com/xaionaro-go/qualityscore/pkg/audio/resampler"
	"github.com/xaionaro-go/qualityscore/pkg/codec"
	"github.com/xaionaro-go/qualityscore/pkg/failure"
	"github.com/xaionaro-go/qualityscore/pkg/ingest"
	"github.com/xaionaro-go/qualityscore/pkg/media"
	"github.com/xaionaro-go/qualityscore/pkg/metric"
	"github.com/xaionaro-go/qualityscore/pkg/workspace"
)

const voiceThreshold = 0.5

type SpeechDetails struct {
	RefSampleRate    int     `json:"ref_sample_rate"`
	DegSampleRate    int     `json:"deg_sample_rate"`
	RefDuration      float64 `json:"ref_duration"`
	DegDuration      float64 `json:"deg_duration"`
	Resampled        bool    `json:"resampled"`
	AnalysisDuration float64 `json:"analysis_duration"`
	ReferenceVersion string  `json:"reference_version"`

	Alignment   *alignment.Offset             `json:"alignment,omitempty"`
	SpeechOnset *float64                      `json:"speech_onset,omitempty"`
	VoicedRatio *float64                      `json:"voiced_ratio,omitempty"`
	SubMetrics  map[string]map[string]float64 `json:"sub_metrics,omitempty"`
}

type SpeechResponse struct {
	PESQWideband        *float64      `json:"pesq_wb"`
	PESQWidebandError   string        `json:"pesq_wb_error,omitempty"`
	PESQNarrowband      *float64      `json:"pesq_nb"`
	PESQNarrowbandError string        `json:"pesq_nb_error,omitempty"`
	Details             SpeechDetails `json:"details"`
}

// speechPair is a capture aligned to the reference speech.
type speechPair struct {
	Reference *assets.Asset
	Capture   *media.Sample
	RefSignal audio.Signal
	Aligned   audio.Signal
	Offset    alignment.Offset
	Onset     time.Duration
	Voiced    float64
	Resampled bool
}

func (s *Scorer) prepareSpeech(
	ctx context.Context,
	ws *workspace.Workspace,
	upload Upload,
	in *inputs,
) (_ *speechPair, _err error) {
	logger.Tracef(ctx, "prepareSpeech")
	defer func() { logger.Tracef(ctx, "/prepareSpeech: %v", _err) }()

	ref, err := assets.Require(s.Assets.ReferenceSpeech, "speech")
	if err != nil {
		return nil, err
	}
	*in = append(*in, ref.String())

	capture, err := s.Ingester.Ingest(ctx, ws, upload.Filename, upload.Data, media.KindAudio)
	if err != nil {
		return nil, err
	}
	in.add(capture)
	if err := ingest.RequireCoverage(capture, ref.Sample.Attributes.Duration, s.Config.Ingest.MinSpeechCoverage); err != nil {
		return nil, err
	}

	rate := audio.SampleRate(s.Config.Speech.SampleRate)
	refSig, err := resampler.Resample(ctx, ref.Sample.Audio.Mono(), rate)
	if err != nil {
		return nil, fmt.Errorf("unable to resample the reference: %w", err)
	}
	capSig, err := resampler.Resample(ctx, capture.Audio.Mono(), rate)
	if err != nil {
		return nil, fmt.Errorf("unable to resample the capture: %w", err)
	}

	onset, voiced, err := s.findSpeech(ctx, capSig)
	if err != nil {
		return nil, err
	}

	aligned, offset, err := s.Aligner.Align(ctx, refSig, capSig)
	if err != nil {
		return nil, err
	}
	start, end := offset.Overlap(len(refSig.Samples), len(capSig.Samples))
	if end <= start {
		return nil, failure.New(failure.KindAlignmentFailed, "the capture does not overlap the reference speech")
	}
	return &speechPair{
		Reference: ref,
		Capture:   capture,
		RefSignal: trim(refSig, start, end),
		Aligned:   trim(aligned, start, end),
		Offset:    offset,
		Onset:     onset,
		Voiced:    voiced,
		Resampled: capture.Attributes.SampleRate != rate,
	}, nil
}

// findSpeech returns the position of the first voiced frame and the share
// of the voiced frames.
func (s *Scorer) findSpeech(ctx context.Context, sig audio.Signal) (time.Duration, float64, error) {
	data, err := pcm.Encode(audio.PCMFormatS16LE, sig.Samples)
	if err != nil {
		return 0, 0, fmt.Errorf("unable to encode the capture for the VAD: %w", err)
	}
	_, onset, err := s.VAD.FindNextVoice(ctx, data, voiceThreshold, s.Config.Speech.MinVoice)
	if err != nil {
		return 0, 0, fmt.Errorf("voice activity detection failed: %w", err)
	}
	if onset < 0 {
		return 0, 0, failure.New(failure.KindInsufficientSignal, "no speech was detected in the recording")
	}
	voiced, err := s.VAD.VoicedRatio(ctx, data)
	if err != nil {
		return 0, 0, fmt.Errorf("voice activity detection failed: %w", err)
	}
	logger.Debugf(ctx, "speech starts at %v, %.0f%% voiced", onset, voiced*100)
	return onset, voiced, nil
}

func (p *speechPair) details(opts Options) SpeechDetails {
	d := SpeechDetails{
		RefSampleRate:    int(p.Reference.Sample.Attributes.SampleRate),
		DegSampleRate:    int(p.Capture.Attributes.SampleRate),
		RefDuration:      metric.Round(p.Reference.Sample.Attributes.Duration.Seconds(), 2),
		DegDuration:      metric.Round(p.Capture.Attributes.Duration.Seconds(), 2),
		Resampled:        p.Resampled,
		AnalysisDuration: seconds(p.RefSignal),
		ReferenceVersion: p.Reference.Version,
	}
	if opts.Diagnostics {
		offset := p.Offset
		d.Alignment = &offset
		d.SpeechOnset = ptr(p.Onset.Seconds())
		d.VoicedRatio = ptr(metric.Round(p.Voiced, 3))
		d.SubMetrics = map[string]map[string]float64{}
	}
	return d
}

// ScoreSpeech computes the wideband and the narrowband scores of a
// recording of the reference speech.
func (s *Scorer) ScoreSpeech(
	ctx context.Context,
	degraded Upload,
	opts Options,
) (_ *SpeechResponse, _err error) {
	logger.Tracef(ctx, "ScoreSpeech")
	defer func() { logger.Tracef(ctx, "/ScoreSpeech: %v", _err) }()

	var in inputs
	defer func() { in.report(ctx, "speech scoring failed", _err) }()

	if err := degraded.check("degraded audio"); err != nil {
		return nil, err
	}

	ws, err := s.workspace(ctx)
	if err != nil {
		return nil, err
	}
	defer closeWorkspace(ctx, ws)

	pair, err := s.prepareSpeech(ctx, ws, degraded, &in)
	if err != nil {
		return nil, err
	}
	resp := &SpeechResponse{Details: pair.details(opts)}
	signals := metric.SignalPair{Reference: pair.RefSignal, Degraded: pair.Aligned}

	var firstErr error
	for _, mode := range []struct {
		name   string
		engine metric.Engine
		score  **float64
		errMsg *string
	}{
		{"pesq_wb", s.Engines.PESQWideband, &resp.PESQWideband, &resp.PESQWidebandError},
		{"pesq_nb", s.Engines.PESQNarrowband, &resp.PESQNarrowband, &resp.PESQNarrowbandError},
	} {
		res, err := s.scoreWith(ctx, mode.engine, mode.name, signals)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			logger.Warnf(ctx, "%s is unavailable: %v", mode.name, err)
			*mode.errMsg = failure.PublicMessage(err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		*mode.score = ptr(res.Score)
		if resp.Details.SubMetrics != nil {
			resp.Details.SubMetrics[mode.name] = res.SubMetrics
		}
	}
	if resp.PESQWideband == nil && resp.PESQNarrowband == nil {
		return nil, firstErr
	}
	return resp, nil
}

func (s *Scorer) scoreWith(ctx context.Context, e metric.Engine, name string, input metric.Input) (*metric.Result, error) {
	e, err := s.engine(e, name)
	if err != nil {
		return nil, err
	}
	return e.Score(ctx, input)
}

type CallScore struct {
	PESQScore   float64 `json:"pesq_score"`
	Codec       string  `json:"codec,omitempty"`
	SampleRate  int     `json:"sample_rate,omitempty"`
	Bitrate     string  `json:"bitrate,omitempty"`
	Mode        string  `json:"mode,omitempty"`
	Description string  `json:"description"`

	Alignment  *alignment.Offset  `json:"alignment,omitempty"`
	SubMetrics map[string]float64 `json:"sub_metrics,omitempty"`
}

type CallDetails struct {
	ReferenceVersion string            `json:"reference_version"`
	Alignment        *alignment.Offset `json:"alignment,omitempty"`
	SpeechOnset      *float64          `json:"speech_onset,omitempty"`
	VoicedRatio      *float64          `json:"voiced_ratio,omitempty"`
}

type CallResponse struct {
	Type        string `json:"type"`
	Description string `json:"description"`

	DirectRecording       *CallScore `json:"direct_recording,omitempty"`
	VoIPWideband          *CallScore `json:"voip_wideband,omitempty"`
	TraditionalNarrowband *CallScore `json:"traditional_narrowband,omitempty"`

	// Unavailable maps the missing sub-scores to the reason.
	Unavailable map[string]string `json:"unavailable,omitempty"`

	ReferenceAudioB64  string `json:"reference_audio_b64,omitempty"`
	RecordedAudioB64   string `json:"recorded_audio_b64,omitempty"`
	WBDegradedAudioB64 string `json:"wb_degraded_audio_b64,omitempty"`
	NBDegradedAudioB64 string `json:"nb_degraded_audio_b64,omitempty"`

	Details *CallDetails `json:"details,omitempty"`

	firstErr error
}

func (r *CallResponse) unavailable(ctx context.Context, name string, err error) {
	logger.Warnf(ctx, "%s is unavailable: %v", name, err)
	if r.Unavailable == nil {
		r.Unavailable = map[string]string{}
	}
	r.Unavailable[name] = failure.PublicMessage(err)
	if r.firstErr == nil {
		r.firstErr = err
	}
}

const (
	CallTypeDevice = "webrtc_device_call"
	CallTypeCodec  = "webrtc_codec_call"
)

// DeviceCall scores a recording of the reference speech played through the
// device as is, and after each of the simulated call codecs.
func (s *Scorer) DeviceCall(
	ctx context.Context,
	recorded Upload,
	opts Options,
) (_ *CallResponse, _err error) {
	logger.Tracef(ctx, "DeviceCall")
	defer func() { logger.Tracef(ctx, "/DeviceCall: %v", _err) }()

	var in inputs
	defer func() { in.report(ctx, "device call failed", _err) }()

	if err := recorded.check("recorded audio"); err != nil {
		return nil, err
	}

	ws, err := s.workspace(ctx)
	if err != nil {
		return nil, err
	}
	defer closeWorkspace(ctx, ws)

	pair, err := s.prepareSpeech(ctx, ws, recorded, &in)
	if err != nil {
		return nil, err
	}

	resp := &CallResponse{
		Type:        CallTypeDevice,
		Description: "Phone recording processed through actual WebRTC codecs (Opus & G.711)",
	}
	if opts.Diagnostics {
		offset := pair.Offset
		resp.Details = &CallDetails{
			ReferenceVersion: pair.Reference.Version,
			Alignment:        &offset,
			SpeechOnset:      ptr(pair.Onset.Seconds()),
			VoicedRatio:      ptr(metric.Round(pair.Voiced, 3)),
		}
	}

	res, err := s.scoreWith(ctx, s.Engines.PESQWideband, "pesq_wb", metric.SignalPair{Reference: pair.RefSignal, Degraded: pair.Aligned})
	switch {
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case err != nil:
		resp.unavailable(ctx, "direct_recording", err)
	default:
		resp.DirectRecording = &CallScore{
			PESQScore:   res.Score,
			Description: "Phone speaker → mic only (no codec)",
		}
		if opts.Diagnostics {
			resp.DirectRecording.SubMetrics = res.SubMetrics
		}
	}

	if err := s.scoreCodecs(ctx, ws, pair.RefSignal, pair.Aligned, resp, opts, "Phone recording → %s → PESQ vs original"); err != nil {
		return nil, err
	}
	if resp.DirectRecording == nil && resp.VoIPWideband == nil && resp.TraditionalNarrowband == nil {
		return nil, fmt.Errorf("no speech score could be computed: %w", resp.firstErr)
	}

	if opts.IncludeAudio {
		if resp.ReferenceAudioB64, err = wavBase64(pair.RefSignal); err != nil {
			return nil, err
		}
		if resp.RecordedAudioB64, err = wavBase64(pair.Aligned); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// CodecCall plays the reference speech through both simulated call codecs.
func (s *Scorer) CodecCall(
	ctx context.Context,
	opts Options,
) (_ *CallResponse, _err error) {
	logger.Tracef(ctx, "CodecCall")
	defer func() { logger.Tracef(ctx, "/CodecCall: %v", _err) }()

	var in inputs
	defer func() { in.report(ctx, "codec call failed", _err) }()

	ref, err := assets.Require(s.Assets.ReferenceSpeech, "speech")
	if err != nil {
		return nil, err
	}
	in = append(in, ref.String())
	ws, err := s.workspace(ctx)
	if err != nil {
		return nil, err
	}
	defer closeWorkspace(ctx, ws)

	refSig, err := resampler.Resample(ctx, ref.Sample.Audio.Mono(), audio.SampleRate(s.Config.Speech.SampleRate))
	if err != nil {
		return nil, fmt.Errorf("unable to resample the reference: %w", err)
	}

	resp := &CallResponse{
		Type:        CallTypeCodec,
		Description: "Audio processed through actual WebRTC codecs (Opus & G.711)",
	}
	if opts.Diagnostics {
		resp.Details = &CallDetails{ReferenceVersion: ref.Version}
	}
	if err := s.scoreCodecs(ctx, ws, refSig, refSig, resp, opts, "WebRTC call: %s"); err != nil {
		return nil, err
	}
	if resp.VoIPWideband == nil && resp.TraditionalNarrowband == nil {
		return nil, fmt.Errorf("no speech score could be computed: %w", resp.firstErr)
	}
	if opts.IncludeAudio {
		if resp.ReferenceAudioB64, err = wavBase64(refSig); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// scoreCodecs runs capture through both codecs and scores each variant
// against ref. Failed variants are listed as unavailable.
func (s *Scorer) scoreCodecs(
	ctx context.Context,
	ws *workspace.Workspace,
	ref audio.Signal,
	capture audio.Signal,
	resp *CallResponse,
	opts Options,
	descriptionFormat string,
) error {
	variants := s.Codecs.Simulate(ctx, ws, capture)
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, v := range variants.All() {
		name, label, mode := "traditional_narrowband", "G.711 μ-law (PCMU)", "PSTN"
		if v.Band == codec.BandWideband {
			name, label, mode = "voip_wideband", "Opus (libopus)", "VoIP"
		}
		if v.Err != nil {
			resp.unavailable(ctx, name, v.Err)
			continue
		}
		// the codec round trip may shift the signal by a few milliseconds
		aligned, offset, err := s.Aligner.Align(ctx, ref, v.Signal)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			resp.unavailable(ctx, name, err)
			continue
		}
		res, err := s.scoreWith(ctx, s.Engines.PESQWideband, "pesq_wb", metric.SignalPair{Reference: ref, Degraded: aligned})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			resp.unavailable(ctx, name, err)
			continue
		}
		score := &CallScore{
			PESQScore:   res.Score,
			Codec:       label,
			SampleRate:  int(v.SampleRate),
			Bitrate:     fmt.Sprintf("%d kbps", v.Bitrate/1000),
			Mode:        mode,
			Description: fmt.Sprintf(descriptionFormat, label),
		}
		if opts.Diagnostics {
			score.Alignment = &offset
			score.SubMetrics = map[string]float64{}
			for key, value := range res.SubMetrics {
				score.SubMetrics[key] = value
			}
			if v.Transport.Sent > 0 {
				score.SubMetrics["packets_sent"] = float64(v.Transport.Sent)
				score.SubMetrics["packets_lost"] = float64(v.Transport.Lost)
			}
		}

		var artifact string
		if opts.IncludeAudio {
			if artifact, err = wavBase64(aligned); err != nil {
				return err
			}
		}
		if v.Band == codec.BandWideband {
			resp.VoIPWideband, resp.WBDegradedAudioB64 = score, artifact
		} else {
			resp.TraditionalNarrowband, resp.NBDegradedAudioB64 = score, artifact
		}
	}
	return nil
}
