// Package pesq implements a PESQ-class full-reference speech quality
// model: level and gain alignment, Bark band loudness, symmetric and
// asymmetric disturbance densities, L6/L2 time aggregation and the
// P.862.1 (narrowband) or P.862.2 (wideband) MOS-LQO mapping.
//
// The inputs are expected to be time aligned already.
package pesq

import (
	"context"
	"fmt"
	"math"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/qualityscore/pkg/audio"
	"github.com/xaionaro-go/qualityscore/pkg/audio/resampler"
	"github.com/xaionaro-go/qualityscore/pkg/failure"
	"github.com/xaionaro-go/qualityscore/pkg/metric"
)

type Mode int

const (
	ModeUndefined Mode = iota
	ModeNarrowband
	ModeWideband
)

func (m Mode) String() string {
	switch m {
	case ModeNarrowband:
		return "nb"
	case ModeWideband:
		return "wb"
	default:
		return fmt.Sprintf("unknown_mode_%d", int(m))
	}
}

// SampleRate is the rate the model operates at.
func (m Mode) SampleRate() audio.SampleRate {
	if m == ModeNarrowband {
		return 8000
	}
	return 16000
}

var Range = metric.Range{Min: 1.0, Max: 4.65}

const (
	// referencePower is the level both signals are aligned to; it is
	// considered to be referenceSPL dB SPL.
	referencePower = 1e7
	referenceSPL   = 79.0

	frameDuration  = 0.032
	intervalFrames = 20

	rawMax = 4.5
	rawMin = -0.5
)

type Engine struct {
	Mode Mode
}

var _ metric.Engine = (*Engine)(nil)

func New(mode Mode) (*Engine, error) {
	switch mode {
	case ModeNarrowband, ModeWideband:
	default:
		return nil, fmt.Errorf("unknown mode %v", mode)
	}
	return &Engine{Mode: mode}, nil
}

func (*Engine) Kind() metric.Kind {
	return metric.KindPESQ
}

func (e *Engine) Score(ctx context.Context, input metric.Input) (_ *metric.Result, _err error) {
	logger.Tracef(ctx, "pesq.Score(%s)", e.Mode)
	defer func() { logger.Tracef(ctx, "/pesq.Score(%s): %v", e.Mode, _err) }()

	pair, ok := input.(metric.SignalPair)
	if !ok {
		return nil, metric.UnexpectedInput(e.Kind(), input)
	}

	rate := e.Mode.SampleRate()
	ref, err := resampler.Resample(ctx, pair.Reference, rate)
	if err != nil {
		return nil, fmt.Errorf("unable to resample the reference: %w", err)
	}
	deg, err := resampler.Resample(ctx, pair.Degraded, rate)
	if err != nil {
		return nil, fmt.Errorf("unable to resample the degraded signal: %w", err)
	}
	n := min(len(ref.Samples), len(deg.Samples))
	ref.Samples, deg.Samples = ref.Samples[:n], deg.Samples[:n]

	m, err := newModel(e.Mode)
	if err != nil {
		return nil, err
	}
	dist, err := m.disturbance(ctx, ref.Samples, deg.Samples)
	if err != nil {
		return nil, err
	}

	raw := math.Max(rawMin, math.Min(rawMax, rawMax-0.1*dist.Symmetric-0.0309*dist.Asymmetric))
	mos := Range.Clamp(MOSLQO(e.Mode, raw))
	logger.Debugf(ctx, "pesq %s: D=%.3f A=%.3f raw=%.3f MOS-LQO=%.3f", e.Mode, dist.Symmetric, dist.Asymmetric, raw, mos)
	return metric.NewResult(metric.KindPESQ, metric.Round(mos, 3), Range, map[string]float64{
		"raw":                    metric.Round(raw, 3),
		"symmetric_disturbance":  metric.Round(dist.Symmetric, 3),
		"asymmetric_disturbance": metric.Round(dist.Asymmetric, 3),
	})
}

// MOSLQO maps a raw score to the listening quality scale.
func MOSLQO(mode Mode, raw float64) float64 {
	if mode == ModeNarrowband {
		return 0.999 + 4/(1+math.Exp(-1.4945*raw+4.6607))
	}
	return 0.999 + 4/(1+math.Exp(-1.3669*raw+3.8224))
}

// MaxScore is the score of a degraded signal identical to the reference.
func MaxScore(mode Mode) float64 {
	return metric.Round(MOSLQO(mode, rawMax), 3)
}

func insufficient(format string, args ...any) error {
	return failure.New(failure.KindInsufficientSignal, format, args...)
}
