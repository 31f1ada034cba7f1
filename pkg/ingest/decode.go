package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/jfreymuth/oggvorbis"
	"github.com/xaionaro-go/qualityscore/pkg/audio"
	"github.com/xaionaro-go/qualityscore/pkg/audio/planar"
	"github.com/xaionaro-go/qualityscore/pkg/audio/wavfile"
	"github.com/xaionaro-go/qualityscore/pkg/failure"
	"github.com/xaionaro-go/qualityscore/pkg/media"
)

func (i *Ingester) decodeAudio(ctx context.Context, sample *media.Sample, probed *probeResult) error {
	var (
		buf audio.Buffer
		err error
	)
	switch sample.Codec {
	case "pcm":
		buf, _, err = wavfile.Decode(bytes.NewReader(sample.Bytes()))
		if isNotWAVEncodable(err) {
			logger.Debugf(ctx, "falling back to ffmpeg: %v", err)
			buf, err = i.decodeWithFFmpeg(ctx, sample, probed)
		}
	case "vorbis":
		buf, err = decodeVorbis(bytes.NewReader(sample.Bytes()))
	default:
		buf, err = i.decodeWithFFmpeg(ctx, sample, probed)
	}
	if err != nil {
		var f *failure.Error
		if errors.As(err, &f) || ctx.Err() != nil {
			return err
		}
		return failure.Wrap(failure.KindInvalidFormat, err, "unable to decode the %s audio", sample.Container)
	}
	if buf.SampleRate == 0 || len(buf.Channels) == 0 {
		return failure.New(failure.KindInvalidFormat, "the audio has no channels")
	}

	sample.Audio = buf
	sample.Attributes = media.Attributes{
		Duration:   buf.Duration(),
		SampleRate: buf.SampleRate,
		Channels:   buf.NumChannels(),
	}
	return nil
}

func (i *Ingester) decodeWithFFmpeg(ctx context.Context, sample *media.Sample, probed *probeResult) (audio.Buffer, error) {
	if i.FFmpeg == nil {
		return audio.Buffer{}, failure.New(failure.KindInvalidFormat, "unsupported audio codec %s", sample.Codec)
	}
	p := probed.ffprobe
	if p == nil {
		var err error
		p, err = i.FFmpeg.Probe(ctx, sample.Path)
		if err != nil {
			return audio.Buffer{}, err
		}
	}
	stream := p.FirstStream("audio")
	if stream == nil {
		return audio.Buffer{}, failure.New(failure.KindInvalidFormat, "no audio stream found")
	}
	rate := stream.SampleRateHz()
	channels := stream.Channels
	if rate <= 0 || channels <= 0 {
		return audio.Buffer{}, failure.New(failure.KindInvalidFormat, "invalid audio stream parameters: %d Hz, %d channels", rate, channels)
	}
	return i.FFmpeg.DecodeAudio(ctx, sample.Path, audio.SampleRate(rate), audio.Channel(channels))
}

func decodeVorbis(r io.Reader) (audio.Buffer, error) {
	oggReader, err := oggvorbis.NewReader(r)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("unable to initialize a vorbis reader: %w", err)
	}
	channels := oggReader.Channels()
	if channels <= 0 {
		return audio.Buffer{}, fmt.Errorf("invalid channel count: %d", channels)
	}

	var interleaved []float64
	chunk := make([]float32, 4096*channels)
	for {
		n, err := oggReader.Read(chunk)
		for _, v := range chunk[:n] {
			interleaved = append(interleaved, float64(v))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return audio.Buffer{}, fmt.Errorf("unable to decode vorbis: %w", err)
		}
	}
	interleaved = interleaved[:len(interleaved)/channels*channels]
	return planar.Deinterleave(audio.SampleRate(oggReader.SampleRate()), audio.Channel(channels), interleaved)
}

func (i *Ingester) describeVideo(sample *media.Sample, probed *probeResult) error {
	if probed.ffprobe == nil {
		return failure.New(failure.KindInvalidFormat, "unable to inspect the video")
	}
	stream := probed.ffprobe.FirstStream("video")
	if stream == nil {
		return failure.New(failure.KindInvalidFormat, "no video stream found")
	}
	fps := stream.FrameRate()
	if fps <= 0 || stream.Width <= 0 || stream.Height <= 0 {
		return failure.New(failure.KindInvalidFormat, "invalid video stream parameters: %dx%d@%v", stream.Width, stream.Height, fps)
	}
	sample.Attributes = media.Attributes{
		Duration:    probed.ffprobe.Duration(stream),
		FrameRate:   fps,
		FrameCount:  stream.FrameCount(),
		Width:       stream.Width,
		Height:      stream.Height,
		PixelFormat: stream.PixelFormat,
	}
	return nil
}

func (i *Ingester) decodeImage(sample *media.Sample, data []byte) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return failure.Wrap(failure.KindInvalidFormat, err, "unable to decode the image header")
	}
	if cfg.Width*cfg.Height > i.Limits.MaxImagePixels {
		return failure.New(failure.KindInvalidFormat, "the image has %d pixels, at most %d are accepted", cfg.Width*cfg.Height, i.Limits.MaxImagePixels)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return failure.Wrap(failure.KindInvalidFormat, err, "unable to decode the image")
	}
	bounds := img.Bounds()
	sample.Image = img
	sample.Attributes = media.Attributes{
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		PixelFormat: pixelFormat(img),
	}
	return nil
}

func pixelFormat(img image.Image) string {
	switch img := img.(type) {
	case *image.YCbCr:
		return "ycbcr" + strings.TrimPrefix(img.SubsampleRatio.String(), "YCbCrSubsampleRatio")
	case *image.RGBA, *image.NRGBA:
		return "rgba"
	case *image.RGBA64, *image.NRGBA64:
		return "rgba64"
	case *image.Gray:
		return "gray"
	case *image.Gray16:
		return "gray16"
	case *image.Paletted:
		return "pal8"
	case *image.CMYK:
		return "cmyk"
	default:
		return fmt.Sprintf("%T", img)
	}
}
