// Package ingest validates uploads and turns them into media samples.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/datacounter"
	"github.com/xaionaro-go/qualityscore/pkg/audio/wavfile"
	"github.com/xaionaro-go/qualityscore/pkg/config"
	"github.com/xaionaro-go/qualityscore/pkg/failure"
	"github.com/xaionaro-go/qualityscore/pkg/ffmpeg"
	"github.com/xaionaro-go/qualityscore/pkg/media"
	"github.com/xaionaro-go/qualityscore/pkg/workspace"
)

type Ingester struct {
	Limits config.Ingest
	FFmpeg *ffmpeg.Runner
}

func New(limits config.Ingest, runner *ffmpeg.Runner) *Ingester {
	return &Ingester{
		Limits: limits,
		FFmpeg: runner,
	}
}

// ReadUpload reads at most limit bytes; larger uploads are rejected.
func ReadUpload(ctx context.Context, r io.Reader, limit int64) ([]byte, error) {
	var buf bytes.Buffer
	wc := datacounter.NewWriterCounter(&buf)
	_, err := io.Copy(wc, io.LimitReader(r, limit+1))
	logger.Debugf(ctx, "received %d bytes", wc.Count())
	if err != nil {
		return nil, fmt.Errorf("unable to read the upload: %w", err)
	}
	if int64(wc.Count()) > limit {
		return nil, failure.New(failure.KindInvalidFormat, "the upload exceeds %d bytes", limit)
	}
	return buf.Bytes(), nil
}

// Ingest probes the upload, checks it is of the declared kind and within
// the limits, and decodes it when the kind is audio or image.
func (i *Ingester) Ingest(
	ctx context.Context,
	ws *workspace.Workspace,
	filename string,
	data []byte,
	declared media.Kind,
) (_ *media.Sample, _err error) {
	logger.Tracef(ctx, "Ingest(%s, %d bytes, %s)", filename, len(data), declared)
	defer func() { logger.Tracef(ctx, "/Ingest(%s): %v", filename, _err) }()

	if len(data) == 0 {
		return nil, failure.New(failure.KindEmptyPayload, "the uploaded %s is empty", declared)
	}

	path, err := ws.WriteFile(storedName(declared, filename), data)
	if err != nil {
		return nil, failure.Wrap(failure.KindInternalProcessingError, err, "unable to store the upload")
	}

	probed, err := i.probe(ctx, path, data)
	if err != nil {
		return nil, err
	}
	if probed.kind != declared {
		return nil, failure.New(failure.KindInvalidFormat, "expected %s, but the upload is %s (%s)", declared, probed.kind, probed.container)
	}

	sample := media.NewSample(declared, filename, data)
	sample.Path = path
	sample.Container = probed.container
	sample.Codec = probed.codec

	switch declared {
	case media.KindAudio:
		err = i.decodeAudio(ctx, sample, probed)
	case media.KindVideo:
		err = i.describeVideo(sample, probed)
	case media.KindImage:
		err = i.decodeImage(sample, data)
	default:
		err = failure.New(failure.KindInvalidFormat, "unsupported media kind %s", declared)
	}
	if err != nil {
		return nil, err
	}

	if err := i.checkLimits(sample); err != nil {
		return nil, err
	}
	logger.Debugf(ctx, "ingested %s", sample)
	return sample, nil
}

// RequireCoverage fails if the sample is shorter than ratio×reference.
func RequireCoverage(sample *media.Sample, reference time.Duration, ratio float64) error {
	need := time.Duration(float64(reference) * ratio)
	if sample.Attributes.Duration < need {
		return failure.New(failure.KindDurationOutOfRange,
			"the recording is %v long, but at least %v is required to cover the reference", sample.Attributes.Duration.Round(time.Millisecond), need.Round(time.Millisecond))
	}
	return nil
}

func (i *Ingester) checkLimits(sample *media.Sample) error {
	attrs := sample.Attributes
	switch sample.Kind {
	case media.KindAudio:
		return checkDuration(attrs.Duration, i.Limits.MinAudioDuration, i.Limits.MaxAudioDuration)
	case media.KindVideo:
		return checkDuration(attrs.Duration, i.Limits.MinVideoDuration, i.Limits.MaxVideoDuration)
	case media.KindImage:
		if attrs.Width < i.Limits.MinImageWidth || attrs.Height < i.Limits.MinImageHeight {
			return failure.New(failure.KindInsufficientSignal, "the image is %dx%d, at least %dx%d is required",
				attrs.Width, attrs.Height, i.Limits.MinImageWidth, i.Limits.MinImageHeight)
		}
		if attrs.Width*attrs.Height > i.Limits.MaxImagePixels {
			return failure.New(failure.KindInvalidFormat, "the image has %d pixels, at most %d are accepted",
				attrs.Width*attrs.Height, i.Limits.MaxImagePixels)
		}
	}
	return nil
}

func checkDuration(d, min, max time.Duration) error {
	if d < min {
		return failure.New(failure.KindDurationOutOfRange, "the duration %v is shorter than %v", d.Round(time.Millisecond), min)
	}
	if d > max {
		return failure.New(failure.KindDurationOutOfRange, "the duration %v is longer than %v", d.Round(time.Millisecond), max)
	}
	return nil
}

func storedName(kind media.Kind, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) > 8 || strings.ContainsAny(ext, `/\`) {
		ext = ""
	}
	return "upload-" + kind.String() + ext
}

func isNotWAVEncodable(err error) bool {
	return errors.Is(err, wavfile.ErrUnsupportedEncoding)
}
