// Package alignment brings a degraded capture to the time base of its reference.
package alignment

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/qualityscore/pkg/audio"
	"github.com/xaionaro-go/qualityscore/pkg/audio/resampler"
	"github.com/xaionaro-go/qualityscore/pkg/config"
	"github.com/xaionaro-go/qualityscore/pkg/failure"
	"github.com/xaionaro-go/qualityscore/pkg/syncer"
	"github.com/xaionaro-go/qualityscore/pkg/syncer/implementations/fft"
	"github.com/xaionaro-go/qualityscore/pkg/syncer/implementations/gccphat"
)

const (
	MethodGCCPHAT = "gccphat"
	MethodXCorr   = "xcorr"
)

// Offset is the estimated delay of the degraded signal. A positive value
// means the degraded signal lags the reference.
type Offset struct {
	Method     string        `json:"method"`
	Samples    int           `json:"samples"`
	Duration   time.Duration `json:"-"`
	Seconds    float64       `json:"seconds"`
	Confidence float64       `json:"confidence"`
}

type Aligner struct {
	Syncer        syncer.Syncer
	Method        string
	MinConfidence float64
	MaxOffset     time.Duration
}

func New(cfg config.Alignment) (*Aligner, error) {
	var (
		s   syncer.Syncer
		err error
	)
	switch cfg.Method {
	case MethodGCCPHAT, "":
		s, err = gccphat.NewSyncer(cfg.MinFreq, cfg.MaxFreq, cfg.MaxOffset)
		if err != nil {
			return nil, fmt.Errorf("unable to initialize the GCC-PHAT syncer: %w", err)
		}
	case MethodXCorr:
		s = fft.NewSyncer(cfg.MaxOffset)
	default:
		return nil, fmt.Errorf("unknown alignment method '%s'", cfg.Method)
	}
	method := cfg.Method
	if method == "" {
		method = MethodGCCPHAT
	}
	return &Aligner{
		Syncer:        s,
		Method:        method,
		MinConfidence: cfg.MinConfidence,
		MaxOffset:     cfg.MaxOffset,
	}, nil
}

func (a *Aligner) Close() error {
	return a.Syncer.Close()
}

// Align returns the degraded signal resampled to the reference rate and
// shifted so that its sample N corresponds to the sample N of the
// reference. The result has the length of the reference.
func (a *Aligner) Align(
	ctx context.Context,
	reference audio.Signal,
	degraded audio.Signal,
) (_ audio.Signal, _ Offset, _err error) {
	logger.Tracef(ctx, "Align")
	defer func() { logger.Tracef(ctx, "/Align: %v", _err) }()

	if reference.IsEmpty() || degraded.IsEmpty() {
		return audio.Signal{}, Offset{}, failure.New(failure.KindInsufficientSignal, "nothing to align: the reference or the degraded signal is empty")
	}
	if degraded.SampleRate != reference.SampleRate {
		var err error
		degraded, err = resampler.Resample(ctx, degraded, reference.SampleRate)
		if err != nil {
			return audio.Signal{}, Offset{}, fmt.Errorf("unable to resample the degraded signal: %w", err)
		}
	}
	if degraded.RMS() == 0 {
		return audio.Signal{}, Offset{}, failure.New(failure.KindAlignmentFailed, "the degraded signal is digital silence")
	}

	results, err := a.Syncer.CalculateShiftBetween(ctx, reference, degraded)
	if err != nil {
		return audio.Signal{}, Offset{}, fmt.Errorf("unable to estimate the delay: %w", err)
	}
	if len(results) != 1 {
		return audio.Signal{}, Offset{}, fmt.Errorf("expected 1 result from the syncer, got %d", len(results))
	}

	delay := -int(math.Round(results[0].Shift))
	offset := Offset{
		Method:     a.Method,
		Samples:    delay,
		Duration:   time.Duration(float64(delay) * float64(time.Second) / float64(reference.SampleRate)),
		Confidence: results[0].Confidence,
	}
	offset.Seconds = offset.Duration.Seconds()
	logger.Debugf(ctx, "alignment: %+v", offset)

	if offset.Confidence < a.MinConfidence {
		return audio.Signal{}, offset, failure.New(failure.KindAlignmentFailed,
			"unable to align the degraded signal to the reference: confidence %.3f is below %.3f", offset.Confidence, a.MinConfidence)
	}
	if a.MaxOffset > 0 && (offset.Duration > a.MaxOffset || offset.Duration < -a.MaxOffset) {
		return audio.Signal{}, offset, failure.New(failure.KindAlignmentFailed,
			"the estimated offset %v exceeds the allowed %v", offset.Duration, a.MaxOffset)
	}

	return Shift(degraded, delay, len(reference.Samples)), offset, nil
}

// Shift returns length samples with out[i] = sig[i+delay], zero outside
// of sig.
func Shift(sig audio.Signal, delay int, length int) audio.Signal {
	out := audio.Signal{
		SampleRate: sig.SampleRate,
		Samples:    make([]float64, length),
	}
	for idx := range out.Samples {
		src := idx + delay
		if src >= 0 && src < len(sig.Samples) {
			out.Samples[idx] = sig.Samples[src]
		}
	}
	return out
}

// Overlap returns the range [start, end) of the aligned output that is
// backed by degraded samples rather than padding.
func (o Offset) Overlap(referenceLen, degradedLen int) (start, end int) {
	start = max(0, -o.Samples)
	end = min(referenceLen, degradedLen-o.Samples)
	if end < start {
		end = start
	}
	return start, end
}
