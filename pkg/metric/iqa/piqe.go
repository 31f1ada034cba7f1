package iqa

import (
	"context"
	"math"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/qualityscore/pkg/metric"
	"gonum.org/v1/gonum/stat"
)

const (
	piqeBlockSize         = 16
	piqeActivityThreshold = 0.1
	piqeSegmentSize       = 6
	piqeSegmentThreshold  = 0.1
	piqeCenter            = 8
	piqeStabilizer        = 1
)

var PIQERange = metric.Range{Min: 0, Max: 100}

// PIQE estimates block-wise perceptual distortion without a model.
type PIQE struct{}

var _ metric.Engine = (*PIQE)(nil)

func NewPIQE() *PIQE {
	return &PIQE{}
}

func (*PIQE) Kind() metric.Kind {
	return metric.KindPIQE
}

type piqeStats struct {
	Active     int
	Noticeable int
	Noisy      int
	Distortion float64
}

func (e *PIQE) Score(ctx context.Context, input metric.Input) (_ *metric.Result, _err error) {
	logger.Tracef(ctx, "piqe.Score")
	defer func() { logger.Tracef(ctx, "/piqe.Score: %v", _err) }()

	still, ok := input.(metric.StillImage)
	if !ok {
		return nil, metric.UnexpectedInput(e.Kind(), input)
	}
	if err := requireSize(still.Image, piqeBlockSize, piqeBlockSize); err != nil {
		return nil, err
	}

	mscn, _ := MSCN(Luminance(still.Image))
	var s piqeStats
	for by := 0; by+piqeBlockSize <= mscn.Height; by += piqeBlockSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for bx := 0; bx+piqeBlockSize <= mscn.Width; bx += piqeBlockSize {
			block := mscn.Sub(bx, by, piqeBlockSize, piqeBlockSize)
			blockVar := stat.Variance(block.Pix, nil)
			if blockVar <= piqeActivityThreshold {
				continue
			}
			s.Active++

			var d float64
			if hasNoticeableArtifact(block) {
				s.Noticeable++
				d = 1
			}
			if isNoisy(block) {
				s.Noisy++
				d = math.Max(d, math.Min(blockVar, 1))
			}
			s.Distortion += d
		}
	}

	score := 100 * (s.Distortion + piqeStabilizer) / (float64(s.Active) + piqeStabilizer)
	logger.Debugf(ctx, "PIQE %.3f: %+v", score, s)
	return metric.NewResult(metric.KindPIQE, metric.Round(PIQERange.Clamp(score), 2), PIQERange, map[string]float64{
		"active_blocks":     float64(s.Active),
		"noticeable_blocks": float64(s.Noticeable),
		"noisy_blocks":      float64(s.Noisy),
	})
}

// hasNoticeableArtifact reports whether any segment of the block borders
// is flat while the block itself is active.
func hasNoticeableArtifact(block *Plane) bool {
	n := block.Width
	edges := make([][]float64, 4)
	for i := 0; i < n; i++ {
		edges[0] = append(edges[0], block.At(i, 0))
		edges[1] = append(edges[1], block.At(i, n-1))
		edges[2] = append(edges[2], block.At(0, i))
		edges[3] = append(edges[3], block.At(n-1, i))
	}
	for _, edge := range edges {
		for start := 0; start+piqeSegmentSize <= len(edge); start++ {
			if stat.StdDev(edge[start:start+piqeSegmentSize], nil) < piqeSegmentThreshold {
				return true
			}
		}
	}
	return false
}

// isNoisy compares the activity of the block center with its surroundings.
func isNoisy(block *Plane) bool {
	n := block.Width
	lo, hi := (n-piqeCenter)/2, (n+piqeCenter)/2
	var center, surround []float64
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			v := block.At(x, y)
			if x >= lo && x < hi && y >= lo && y < hi {
				center = append(center, v)
			} else {
				surround = append(surround, v)
			}
		}
	}
	sc, ss := stat.StdDev(center, nil), stat.StdDev(surround, nil)
	denom := math.Max(sc, ss)
	if denom == 0 {
		return false
	}
	beta := math.Abs(sc-ss) / denom
	return stat.StdDev(block.Pix, nil) > 2*beta
}
