// Package metric defines the capability shared by all the scoring engines.
package metric

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/xaionaro-go/qualityscore/pkg/alignment"
	"github.com/xaionaro-go/qualityscore/pkg/audio"
	"github.com/xaionaro-go/qualityscore/pkg/media"
)

type Kind string

const (
	KindVMAF    = Kind("vmaf")
	KindODG     = Kind("odg")
	KindPESQ    = Kind("pesq")
	KindBRISQUE = Kind("brisque")
	KindNIQE    = Kind("niqe")
	KindPIQE    = Kind("piqe")
)

func (k Kind) String() string {
	return string(k)
}

// Range is the closed interval of valid scores.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Clamp limits v to the range.
func (r Range) Clamp(v float64) float64 {
	return math.Max(r.Min, math.Min(r.Max, v))
}

// Result is the outcome of one engine invocation.
type Result struct {
	Kind       Kind               `json:"kind"`
	Score      float64            `json:"score"`
	Range      Range              `json:"range"`
	SubMetrics map[string]float64 `json:"sub_metrics,omitempty"`

	// Artifact is the WAV of the preprocessed degraded signal (e.g. after
	// noise subtraction), when it differs from the upload.
	Artifact []byte `json:"-"`
}

// NewResult validates the score against its range.
func NewResult(kind Kind, score float64, rng Range, subMetrics map[string]float64) (*Result, error) {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return nil, fmt.Errorf("%s produced a non-finite score: %v", kind, score)
	}
	if !rng.Contains(score) {
		return nil, fmt.Errorf("%s score %v is outside of [%v, %v]", kind, score, rng.Min, rng.Max)
	}
	for name, v := range subMetrics {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%s produced a non-finite sub-metric '%s': %v", kind, name, v)
		}
	}
	return &Result{
		Kind:       kind,
		Score:      score,
		Range:      rng,
		SubMetrics: subMetrics,
	}, nil
}

// Input is one of SignalPair, VideoPair or StillImage.
type Input interface {
	isInput()
}

// SignalPair is an aligned (reference, degraded) pair of the same rate.
type SignalPair struct {
	Reference audio.Signal
	Degraded  audio.Signal
}

type VideoPair struct {
	Reference *media.Sample
	Distorted *media.Sample
	Alignment *alignment.VideoAlignment
}

type StillImage struct {
	Image image.Image
}

func (SignalPair) isInput() {}
func (VideoPair) isInput()  {}
func (StillImage) isInput() {}

type Engine interface {
	Kind() Kind
	Score(ctx context.Context, input Input) (*Result, error)
}

// UnexpectedInput is returned when an engine is given a variant it does not consume.
func UnexpectedInput(kind Kind, input Input) error {
	return fmt.Errorf("%s engine does not accept %T", kind, input)
}

// Round rounds v to the given amount of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
