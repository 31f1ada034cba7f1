package scoring

import (
	"context"
	"sync"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/qualityscore/pkg/media"
	"github.com/xaionaro-go/qualityscore/pkg/metric"
)

type ImageResponse struct {
	BRISQUE float64 `json:"brisque"`
	NIQE    float64 `json:"niqe"`
	PIQE    float64 `json:"piqe"`

	Details map[string]map[string]float64 `json:"details,omitempty"`
}

// ScoreImage runs the three no-reference engines on an uploaded image.
func (s *Scorer) ScoreImage(
	ctx context.Context,
	upload Upload,
	opts Options,
) (_ *ImageResponse, _err error) {
	logger.Tracef(ctx, "ScoreImage")
	defer func() { logger.Tracef(ctx, "/ScoreImage: %v", _err) }()

	var in inputs
	defer func() { in.report(ctx, "image scoring failed", _err) }()

	if err := upload.check("image"); err != nil {
		return nil, err
	}

	ws, err := s.workspace(ctx)
	if err != nil {
		return nil, err
	}
	defer closeWorkspace(ctx, ws)

	sample, err := s.Ingester.Ingest(ctx, ws, upload.Filename, upload.Data, media.KindImage)
	if err != nil {
		return nil, err
	}
	in.add(sample)

	engines := []struct {
		name   string
		engine metric.Engine
	}{
		{"brisque", s.Engines.BRISQUE},
		{"niqe", s.Engines.NIQE},
		{"piqe", s.Engines.PIQE},
	}
	results := make([]*metric.Result, len(engines))
	errs := make([]error, len(engines))
	input := metric.StillImage{Image: sample.Image}

	var wg sync.WaitGroup
	for idx, e := range engines {
		wg.Add(1)
		observability.Go(ctx, func() {
			defer wg.Done()
			results[idx], errs[idx] = s.scoreWith(ctx, e.engine, e.name, input)
		})
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	resp := &ImageResponse{
		BRISQUE: metric.Round(results[0].Score, 2),
		NIQE:    metric.Round(results[1].Score, 2),
		PIQE:    metric.Round(results[2].Score, 2),
	}
	if opts.Diagnostics {
		resp.Details = map[string]map[string]float64{}
		for idx, e := range engines {
			resp.Details[e.name] = results[idx].SubMetrics
		}
	}
	return resp, nil
}
