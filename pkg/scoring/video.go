package scoring

import (
	"context"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/qualityscore/pkg/alignment"
	"github.com/xaionaro-go/qualityscore/pkg/assets"
	"github.com/xaionaro-go/qualityscore/pkg/media"
	"github.com/xaionaro-go/qualityscore/pkg/metric"
)

type VideoWindow struct {
	ReferenceStart float64 `json:"reference_start"`
	DistortedStart float64 `json:"distorted_start"`
	Window         float64 `json:"window"`
	FrameRate      float64 `json:"frame_rate"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Crop           string  `json:"crop,omitempty"`
	ExpectedFrames int     `json:"expected_frames"`
}

func newVideoWindow(va *alignment.VideoAlignment) *VideoWindow {
	w := &VideoWindow{
		ReferenceStart: metric.Round(va.ReferenceStart.Seconds(), 3),
		DistortedStart: metric.Round(va.DistortedStart.Seconds(), 3),
		Window:         metric.Round(va.Window.Seconds(), 3),
		FrameRate:      va.FrameRate,
		Width:          va.Width,
		Height:         va.Height,
		ExpectedFrames: va.ExpectedFrames,
	}
	if va.Crop != nil {
		w.Crop = va.Crop.String()
	}
	return w
}

type VideoDetails struct {
	ReferenceVersion string             `json:"reference_version"`
	Alignment        *VideoWindow       `json:"alignment"`
	SubMetrics       map[string]float64 `json:"sub_metrics"`
}

type VideoResponse struct {
	VMAFScore float64       `json:"vmaf_score"`
	Details   *VideoDetails `json:"details,omitempty"`
}

// ScoreVideo compares a recording of the reference video with the
// reference over the tail window of both.
func (s *Scorer) ScoreVideo(
	ctx context.Context,
	distorted Upload,
	opts Options,
) (_ *VideoResponse, _err error) {
	logger.Tracef(ctx, "ScoreVideo")
	defer func() { logger.Tracef(ctx, "/ScoreVideo: %v", _err) }()

	var in inputs
	defer func() { in.report(ctx, "video scoring failed", _err) }()

	if err := distorted.check("distorted video"); err != nil {
		return nil, err
	}

	ref, err := assets.Require(s.Assets.ReferenceVideo, "video")
	if err != nil {
		return nil, err
	}
	in.add(ref.Sample)
	ws, err := s.workspace(ctx)
	if err != nil {
		return nil, err
	}
	defer closeWorkspace(ctx, ws)

	sample, err := s.Ingester.Ingest(ctx, ws, distorted.Filename, distorted.Data, media.KindVideo)
	if err != nil {
		return nil, err
	}
	in.add(sample)

	va, err := s.VideoAligner.AlignVideo(ctx, ref.Sample, sample)
	if err != nil {
		return nil, err
	}
	in = append(in, va)

	res, err := s.scoreWith(ctx, s.Engines.VMAF, "VMAF", metric.VideoPair{
		Reference: ref.Sample,
		Distorted: sample,
		Alignment: va,
	})
	if err != nil {
		return nil, err
	}

	resp := &VideoResponse{VMAFScore: res.Score}
	if opts.Diagnostics {
		resp.Details = &VideoDetails{
			ReferenceVersion: ref.Version,
			Alignment:        newVideoWindow(va),
			SubMetrics:       res.SubMetrics,
		}
	}
	return resp, nil
}
