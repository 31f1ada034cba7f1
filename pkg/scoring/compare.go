package scoring

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/qualityscore/pkg/assets"
	"github.com/xaionaro-go/qualityscore/pkg/audio"
	"github.com/xaionaro-go/qualityscore/pkg/audio/resampler"
	"github.com/xaionaro-go/qualityscore/pkg/metric"
)

const CallTypeBandComparison = "pesq_band_comparison"

// The simulated channels: coarse quantization plus white noise. The
// narrowband one also loses everything above 4 kHz.
const (
	wbQuantSteps = 256
	wbNoiseRMS   = 0.001
	nbQuantSteps = 128
	nbNoiseRMS   = 0.005
	nbSampleRate = 8000

	bandComparisonSeed = 1
)

// CompareBands contrasts a wideband VoIP-like channel with a narrowband
// telephone-like one, both simulated on the reference speech.
func (s *Scorer) CompareBands(
	ctx context.Context,
	opts Options,
) (_ *CallResponse, _err error) {
	logger.Tracef(ctx, "CompareBands")
	defer func() { logger.Tracef(ctx, "/CompareBands: %v", _err) }()

	var in inputs
	defer func() { in.report(ctx, "band comparison failed", _err) }()

	ref, err := assets.Require(s.Assets.ReferenceSpeech, "speech")
	if err != nil {
		return nil, err
	}
	in = append(in, ref.String())

	mono := ref.Sample.Audio.Mono()
	refSig, err := resampler.Resample(ctx, mono, audio.SampleRate(s.Config.Speech.SampleRate))
	if err != nil {
		return nil, fmt.Errorf("unable to resample the reference: %w", err)
	}
	narrowRef, err := resampler.Resample(ctx, mono, nbSampleRate)
	if err != nil {
		return nil, fmt.Errorf("unable to resample the reference to %d Hz: %w", nbSampleRate, err)
	}

	rng := rand.New(rand.NewSource(bandComparisonSeed))
	wb := degradeChannel(refSig, wbQuantSteps, wbNoiseRMS, rng)
	nb := degradeChannel(narrowRef, nbQuantSteps, nbNoiseRMS, rng)
	nbWide, err := resampler.Resample(ctx, nb, refSig.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("unable to resample the narrowband channel: %w", err)
	}

	resp := &CallResponse{
		Type:        CallTypeBandComparison,
		Description: "Comparison of narrowband (traditional call, 8 kHz) vs wideband (VoIP, 16 kHz) quality",
	}
	if opts.Diagnostics {
		resp.Details = &CallDetails{ReferenceVersion: ref.Version}
	}

	for _, ch := range []struct {
		name       string
		metricName string
		engine     metric.Engine
		degraded   audio.Signal
		sampleRate int
		mode       string
		label      string
		target     **CallScore
	}{
		{"voip_wideband", "pesq_wb", s.Engines.PESQWideband, wb, int(refSig.SampleRate), "VoIP", "Wideband VoIP (Opus/G.722-like)", &resp.VoIPWideband},
		{"traditional_narrowband", "pesq_nb", s.Engines.PESQNarrowband, nbWide, nbSampleRate, "PSTN", "Narrowband telephony (G.711-like)", &resp.TraditionalNarrowband},
	} {
		res, err := s.scoreWith(ctx, ch.engine, ch.metricName, metric.SignalPair{Reference: refSig, Degraded: ch.degraded})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			resp.unavailable(ctx, ch.name, err)
			continue
		}
		score := &CallScore{
			PESQScore:   res.Score,
			SampleRate:  ch.sampleRate,
			Mode:        ch.mode,
			Description: ch.label,
		}
		if opts.Diagnostics {
			score.SubMetrics = res.SubMetrics
		}
		*ch.target = score
	}
	if resp.VoIPWideband == nil && resp.TraditionalNarrowband == nil {
		return nil, fmt.Errorf("no speech score could be computed: %w", resp.firstErr)
	}

	if opts.IncludeAudio {
		for _, artifact := range []struct {
			sig audio.Signal
			dst *string
		}{
			{refSig, &resp.ReferenceAudioB64},
			{wb, &resp.WBDegradedAudioB64},
			{nb, &resp.NBDegradedAudioB64},
		} {
			if *artifact.dst, err = wavBase64(artifact.sig); err != nil {
				return nil, err
			}
		}
	}
	return resp, nil
}

func degradeChannel(sig audio.Signal, steps, noiseRMS float64, rng *rand.Rand) audio.Signal {
	out := sig.Clone()
	for idx, v := range out.Samples {
		v = math.Round(v*steps)/steps + noiseRMS*rng.NormFloat64()
		out.Samples[idx] = math.Max(-1, math.Min(1, v))
	}
	return out
}
