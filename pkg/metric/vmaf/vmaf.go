// Package vmaf scores a distorted video against its reference with the
// libvmaf filter of ffmpeg.
package vmaf

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/qualityscore/pkg/alignment"
	"github.com/xaionaro-go/qualityscore/pkg/config"
	"github.com/xaionaro-go/qualityscore/pkg/failure"
	"github.com/xaionaro-go/qualityscore/pkg/ffmpeg"
	"github.com/xaionaro-go/qualityscore/pkg/metric"
)

var Range = metric.Range{Min: 0, Max: 100}

type Engine struct {
	FFmpeg         *ffmpeg.Runner
	Model          string
	Threads        int
	FrameTolerance int
}

var _ metric.Engine = (*Engine)(nil)

func New(cfg config.Video, runner *ffmpeg.Runner) *Engine {
	return &Engine{
		FFmpeg:         runner,
		Model:          cfg.Model,
		Threads:        cfg.Threads,
		FrameTolerance: cfg.FrameTolerance,
	}
}

func (*Engine) Kind() metric.Kind {
	return metric.KindVMAF
}

func (e *Engine) Score(ctx context.Context, input metric.Input) (_ *metric.Result, _err error) {
	logger.Tracef(ctx, "vmaf.Score")
	defer func() { logger.Tracef(ctx, "/vmaf.Score: %v", _err) }()

	pair, ok := input.(metric.VideoPair)
	if !ok {
		return nil, metric.UnexpectedInput(e.Kind(), input)
	}
	if pair.Alignment == nil || pair.Reference == nil || pair.Distorted == nil {
		return nil, fmt.Errorf("incomplete video pair")
	}
	if pair.Alignment.ExpectedFrames <= 0 {
		return nil, failure.New(failure.KindInsufficientSignal, "the compared window contains no frames")
	}

	logPath := filepath.Join(filepath.Dir(pair.Distorted.Path), "vmaf.json")
	if _, err := e.FFmpeg.Run(ctx, e.Args(pair, logPath)...); err != nil {
		return nil, fmt.Errorf("libvmaf failed: %w", err)
	}
	data, err := os.ReadFile(logPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read the libvmaf log: %w", err)
	}
	log, err := ParseLog(data)
	if err != nil {
		return nil, err
	}

	frames := len(log.Frames)
	expected := pair.Alignment.ExpectedFrames
	if frames < expected-e.FrameTolerance || frames > expected+e.FrameTolerance {
		return nil, failure.New(failure.KindFrameCountMismatch,
			"compared %d frames, while the reference window has %d", frames, expected)
	}

	pooled := log.PooledMetrics.VMAF
	logger.Debugf(ctx, "VMAF over %d frames: %+v", frames, pooled)
	return metric.NewResult(metric.KindVMAF, metric.Round(Range.Clamp(pooled.Mean), 3), Range, map[string]float64{
		"min":           metric.Round(pooled.Min, 3),
		"max":           metric.Round(pooled.Max, 3),
		"harmonic_mean": metric.Round(pooled.HarmonicMean, 3),
		"frames":        float64(frames),
	})
}

// Args returns the ffmpeg arguments computing VMAF over the aligned windows.
func (e *Engine) Args(pair metric.VideoPair, logPath string) []string {
	a := pair.Alignment
	options := []string{
		"log_fmt=json",
		"log_path=" + logPath,
	}
	if e.Threads > 0 {
		options = append(options, "n_threads="+strconv.Itoa(e.Threads))
	}
	if e.Model != "" {
		options = append(options, "model=version="+e.Model)
	}
	graph := fmt.Sprintf("[1:v]%s[dist];[0:v]%s[ref];[dist][ref]libvmaf=%s",
		a.DistortedFilter(), a.ReferenceFilter(), strings.Join(options, ":"))

	return []string{
		"-nostdin",
		"-hide_banner",
		"-v", "error",
		"-ss", alignment.FormatSeconds(a.ReferenceStart),
		"-t", alignment.FormatSeconds(a.Window),
		"-i", pair.Reference.Path,
		"-ss", alignment.FormatSeconds(a.DistortedStart),
		"-t", alignment.FormatSeconds(a.Window),
		"-i", pair.Distorted.Path,
		"-lavfi", graph,
		"-f", "null",
		"-",
	}
}

type PooledMetric struct {
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	HarmonicMean float64 `json:"harmonic_mean"`
}

type Frame struct {
	FrameNum int                `json:"frameNum"`
	Metrics  map[string]float64 `json:"metrics"`
}

// Log is the JSON log written by libvmaf.
type Log struct {
	Version       string  `json:"version"`
	Frames        []Frame `json:"frames"`
	PooledMetrics struct {
		VMAF PooledMetric `json:"vmaf"`
	} `json:"pooled_metrics"`
}

func ParseLog(data []byte) (*Log, error) {
	var log Log
	if err := json.Unmarshal(data, &log); err != nil {
		return nil, fmt.Errorf("unable to parse the libvmaf log: %w", err)
	}
	if len(log.Frames) == 0 {
		return nil, failure.New(failure.KindInsufficientSignal, "libvmaf compared no frames")
	}
	return &log, nil
}
