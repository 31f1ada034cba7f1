package alignment

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/qualityscore/pkg/config"
	"github.com/xaionaro-go/qualityscore/pkg/failure"
	"github.com/xaionaro-go/qualityscore/pkg/ffmpeg"
	"github.com/xaionaro-go/qualityscore/pkg/media"
)

// Crop is a rectangle in the ffmpeg "crop" filter notation.
type Crop struct {
	Width  int
	Height int
	X      int
	Y      int
}

func (c Crop) String() string {
	return fmt.Sprintf("crop=%d:%d:%d:%d", c.Width, c.Height, c.X, c.Y)
}

// VideoAlignment describes how to cut and normalize both streams so that
// their frames correspond one to one.
type VideoAlignment struct {
	ReferenceStart time.Duration
	DistortedStart time.Duration
	Window         time.Duration
	FrameRate      float64
	Width          int
	Height         int
	Crop           *Crop
	ExpectedFrames int
}

// DistortedFilter returns the filter chain normalizing the distorted
// stream to the reference frame rate and resolution.
func (v *VideoAlignment) DistortedFilter() string {
	var chain []string
	if v.Crop != nil {
		chain = append(chain, v.Crop.String())
	}
	chain = append(chain,
		fmt.Sprintf("scale=%d:%d:flags=bicubic", v.Width, v.Height),
		v.fpsFilter(),
		"setpts=PTS-STARTPTS",
	)
	return strings.Join(chain, ",")
}

func (v *VideoAlignment) ReferenceFilter() string {
	return strings.Join([]string{v.fpsFilter(), "setpts=PTS-STARTPTS"}, ",")
}

func (v *VideoAlignment) fpsFilter() string {
	return "fps=" + strconv.FormatFloat(v.FrameRate, 'f', -1, 64)
}

type VideoAligner struct {
	Config config.Video
	FFmpeg *ffmpeg.Runner
}

func NewVideoAligner(cfg config.Video, runner *ffmpeg.Runner) *VideoAligner {
	return &VideoAligner{
		Config: cfg,
		FFmpeg: runner,
	}
}

// AlignVideo compares the last Window of both streams.
func (a *VideoAligner) AlignVideo(
	ctx context.Context,
	reference *media.Sample,
	distorted *media.Sample,
) (_ *VideoAlignment, _err error) {
	logger.Tracef(ctx, "AlignVideo")
	defer func() { logger.Tracef(ctx, "/AlignVideo: %v", _err) }()

	refAttrs := reference.Attributes
	if refAttrs.FrameRate <= 0 || refAttrs.Width <= 0 || refAttrs.Height <= 0 {
		return nil, fmt.Errorf("the reference video has no usable frame rate or resolution: %+v", refAttrs)
	}
	window := min(a.Config.Window, refAttrs.Duration, distorted.Attributes.Duration)
	if window <= 0 {
		return nil, failure.New(failure.KindInsufficientSignal, "the distorted video has no frames to compare")
	}

	result := &VideoAlignment{
		ReferenceStart: refAttrs.Duration - window,
		DistortedStart: distorted.Attributes.Duration - window,
		Window:         window,
		FrameRate:      refAttrs.FrameRate,
		Width:          refAttrs.Width,
		Height:         refAttrs.Height,
		ExpectedFrames: ExpectedFrames(window, refAttrs.FrameRate),
	}

	if a.Config.CropDetect && a.FFmpeg != nil {
		crop, err := a.detectCrop(ctx, distorted, result.DistortedStart, window)
		if err != nil {
			logger.Warnf(ctx, "unable to detect the letterbox of '%s': %v", distorted.Filename, err)
		}
		if crop != nil && (crop.Width != distorted.Attributes.Width || crop.Height != distorted.Attributes.Height) {
			result.Crop = crop
		}
	}
	logger.Debugf(ctx, "video alignment: %+v", result)
	return result, nil
}

// ExpectedFrames is the amount of frames of the given rate in the window.
func ExpectedFrames(window time.Duration, frameRate float64) int {
	return int(math.Round(window.Seconds() * frameRate))
}

func (a *VideoAligner) detectCrop(
	ctx context.Context,
	sample *media.Sample,
	start, window time.Duration,
) (*Crop, error) {
	stderr, err := a.FFmpeg.Run(ctx,
		"-nostdin",
		"-hide_banner",
		"-ss", FormatSeconds(start),
		"-t", FormatSeconds(window),
		"-i", sample.Path,
		"-vf", "cropdetect=24:2:0",
		"-an",
		"-f", "null",
		"-",
	)
	if err != nil {
		return nil, err
	}
	return ParseCropDetect(string(stderr))
}

var cropRegexp = regexp.MustCompile(`crop=(\d+):(\d+):(\d+):(\d+)`)

// ParseCropDetect returns the last crop suggested in the cropdetect log.
func ParseCropDetect(log string) (*Crop, error) {
	matches := cropRegexp.FindAllStringSubmatch(log, -1)
	if len(matches) == 0 {
		return nil, nil
	}
	last := matches[len(matches)-1]
	values := make([]int, 4)
	for idx := range values {
		v, err := strconv.Atoi(last[idx+1])
		if err != nil {
			return nil, fmt.Errorf("unable to parse '%s': %w", last[0], err)
		}
		values[idx] = v
	}
	if values[0] <= 0 || values[1] <= 0 {
		return nil, nil
	}
	return &Crop{Width: values[0], Height: values[1], X: values[2], Y: values[3]}, nil
}

// FormatSeconds renders a duration the way ffmpeg accepts it for -ss/-t.
func FormatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
