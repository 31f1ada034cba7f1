// Package scoring wires the stages into one sub-pipeline per media kind and
// assembles the responses.
package scoring

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/davecgh/go-spew/spew"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/hashicorp/go-multierror"
	"github.com/xaionaro-go/qualityscore/pkg/alignment"
	"github.com/xaionaro-go/qualityscore/pkg/assets"
	"github.com/xaionaro-go/qualityscore/pkg/audio"
	"github.com/xaionaro-go/qualityscore/pkg/audio/wavfile"
	"github.com/xaionaro-go/qualityscore/pkg/codec"
	"github.com/xaionaro-go/qualityscore/pkg/config"
	"github.com/xaionaro-go/qualityscore/pkg/failure"
	"github.com/xaionaro-go/qualityscore/pkg/ffmpeg"
	"github.com/xaionaro-go/qualityscore/pkg/ingest"
	"github.com/xaionaro-go/qualityscore/pkg/media"
	"github.com/xaionaro-go/qualityscore/pkg/metric"
	"github.com/xaionaro-go/qualityscore/pkg/metric/iqa"
	"github.com/xaionaro-go/qualityscore/pkg/metric/odg"
	"github.com/xaionaro-go/qualityscore/pkg/metric/pesq"
	"github.com/xaionaro-go/qualityscore/pkg/metric/vmaf"
	"github.com/xaionaro-go/qualityscore/pkg/noisesuppression"
	"github.com/xaionaro-go/qualityscore/pkg/noisesuppression/implementations/spectralsub"
	"github.com/xaionaro-go/qualityscore/pkg/vad"
	"github.com/xaionaro-go/qualityscore/pkg/vad/implementations/webrtcvad"
	"github.com/xaionaro-go/qualityscore/pkg/workspace"
)

// Upload is a received file.
type Upload struct {
	Filename string
	Data     []byte
}

// check rejects an empty upload before anything else is looked at.
func (u Upload) check(what string) error {
	if len(u.Data) == 0 {
		return failure.New(failure.KindEmptyPayload, "the %s is empty or missing", what)
	}
	return nil
}

type Options struct {
	// Diagnostics adds the alignment details and the sub-metrics.
	Diagnostics bool
	// IncludeAudio adds the base64 WAV artifacts to the speech responses.
	IncludeAudio bool
}

type Engines struct {
	VMAF           metric.Engine
	ODG            metric.Engine
	PESQWideband   metric.Engine
	PESQNarrowband metric.Engine
	BRISQUE        metric.Engine
	NIQE           metric.Engine
	PIQE           metric.Engine
}

type Scorer struct {
	Config       config.Config
	Assets       *assets.Pool
	Ingester     *ingest.Ingester
	Denoiser     noisesuppression.NoiseSuppression
	Aligner      *alignment.Aligner
	VideoAligner *alignment.VideoAligner
	Codecs       *codec.Simulator
	VAD          vad.VAD
	Engines      Engines
}

func New(
	ctx context.Context,
	cfg config.Config,
	pool *assets.Pool,
	runner *ffmpeg.Runner,
) (*Scorer, error) {
	if pool == nil {
		return nil, fmt.Errorf("the asset pool is not loaded")
	}
	speechRate := audio.SampleRate(cfg.Speech.SampleRate)

	var err error

	var denoiser noisesuppression.NoiseSuppression = noisesuppression.NewDummy()
	if cfg.Denoise.Method != "none" {
		if denoiser, err = spectralsub.New(spectralsub.ParamsFromConfig(cfg.Denoise)); err != nil {
			return nil, fmt.Errorf("unable to initialize the noise suppression: %w", err)
		}
	}
	aligner, err := alignment.New(cfg.Alignment)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize the aligner: %w", err)
	}
	detector, err := webrtcvad.New(speechRate, cfg.Speech.VADMode)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize the voice activity detector: %w", err)
	}
	pesqWB, err := pesq.New(pesq.ModeWideband)
	if err != nil {
		return nil, err
	}
	pesqNB, err := pesq.New(pesq.ModeNarrowband)
	if err != nil {
		return nil, err
	}

	engines := Engines{
		VMAF:           vmaf.New(cfg.Video, runner),
		ODG:            odg.New(),
		PESQWideband:   pesqWB,
		PESQNarrowband: pesqNB,
		PIQE:           iqa.NewPIQE(),
	}
	if pool.BRISQUE != nil && pool.BRISQUERanges != nil {
		if engines.BRISQUE, err = iqa.NewBRISQUE(pool.BRISQUE, pool.BRISQUERanges); err != nil {
			return nil, fmt.Errorf("unable to initialize BRISQUE: %w", err)
		}
	} else {
		logger.Warnf(ctx, "the BRISQUE model is not loaded, image scoring is unavailable")
	}
	if pool.NIQE != nil {
		if engines.NIQE, err = iqa.NewNIQE(pool.NIQE); err != nil {
			return nil, fmt.Errorf("unable to initialize NIQE: %w", err)
		}
	} else {
		logger.Warnf(ctx, "the NIQE model is not loaded, image scoring is unavailable")
	}

	return &Scorer{
		Config:       cfg,
		Assets:       pool,
		Ingester:     ingest.New(cfg.Ingest, runner),
		Denoiser:     denoiser,
		Aligner:      aligner,
		VideoAligner: alignment.NewVideoAligner(cfg.Video, runner),
		Codecs:       codec.NewSimulator(cfg.Codec, speechRate, runner),
		VAD:          detector,
		Engines:      engines,
	}, nil
}

func (s *Scorer) Close() error {
	var result *multierror.Error
	if err := s.Denoiser.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("unable to close the noise suppression: %w", err))
	}
	if err := s.Aligner.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("unable to close the aligner: %w", err))
	}
	if err := s.VAD.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("unable to close the VAD: %w", err))
	}
	return result.ErrorOrNil()
}

func (s *Scorer) workspace(ctx context.Context) (*workspace.Workspace, error) {
	ws, err := workspace.New(ctx, s.Config.TempDir)
	if err != nil {
		return nil, failure.Wrap(failure.KindInternalProcessingError, err, "unable to create a workspace")
	}
	return ws, nil
}

func closeWorkspace(ctx context.Context, ws *workspace.Workspace) {
	if err := ws.Close(); err != nil {
		logger.Errorf(ctx, "unable to clean up the workspace %s: %v", ws.Dir, err)
	}
}

// inputs collects what is dumped when a request ends with an internal error.
type inputs []any

func (in *inputs) add(sample *media.Sample) {
	*in = append(*in, sample.String(), sample.Attributes)
}

func (in inputs) report(ctx context.Context, op string, err error) {
	if err == nil {
		return
	}
	if failure.KindOf(err) != failure.KindInternalProcessingError {
		logger.Debugf(ctx, "%s: %v", op, err)
		return
	}
	logger.Errorf(ctx, "%s: %v\ninputs:\n%s", op, err, spew.Sdump([]any(in)...))
}

func (s *Scorer) engine(e metric.Engine, name string) (metric.Engine, error) {
	if e == nil {
		return nil, failure.New(failure.KindInternalProcessingError, "the %s engine is not available", name)
	}
	return e, nil
}

func wavBase64(sig audio.Signal) (string, error) {
	data, err := wavfile.EncodeBytes(sig.AsBuffer())
	if err != nil {
		return "", fmt.Errorf("unable to encode the WAV: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func seconds(sig audio.Signal) float64 {
	return metric.Round(sig.Duration().Seconds(), 2)
}

func trim(sig audio.Signal, start, end int) audio.Signal {
	return audio.Signal{
		SampleRate: sig.SampleRate,
		Samples:    sig.Samples[start:end],
	}
}

func ptr(v float64) *float64 {
	return &v
}
