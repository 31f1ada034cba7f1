package ingest

import (
	"bytes"
	"context"
	"image"
	"net/http"
	"strings"

	// image decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/qualityscore/pkg/audio/wavfile"
	"github.com/xaionaro-go/qualityscore/pkg/failure"
	"github.com/xaionaro-go/qualityscore/pkg/ffmpeg"
	"github.com/xaionaro-go/qualityscore/pkg/media"
)

type probeResult struct {
	kind      media.Kind
	container string
	codec     string
	ffprobe   *ffmpeg.ProbeResult
}

func (i *Ingester) probe(ctx context.Context, path string, data []byte) (*probeResult, error) {
	switch {
	case wavfile.IsWAV(data):
		return &probeResult{kind: media.KindAudio, container: "wav", codec: "pcm"}, nil
	case bytes.HasPrefix(data, []byte("OggS")):
		head := data[:min(len(data), 512)]
		if bytes.Contains(head, []byte("\x01vorbis")) && !bytes.Contains(head, []byte("\x80theora")) {
			return &probeResult{kind: media.KindAudio, container: "ogg", codec: "vorbis"}, nil
		}
		return i.probeWithFFprobe(ctx, path, "ogg")
	}

	if _, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		return &probeResult{kind: media.KindImage, container: format, codec: format}, nil
	}

	contentType := http.DetectContentType(data)
	logger.Debugf(ctx, "sniffed content type: %s", contentType)
	switch {
	case strings.HasPrefix(contentType, "image/"):
		// recognized by the sniffer, but not decodable
		return nil, failure.New(failure.KindInvalidFormat, "unsupported image format %s", contentType)
	case strings.HasPrefix(contentType, "text/"):
		return nil, failure.New(failure.KindInvalidFormat, "the upload is not a media file (%s)", contentType)
	}
	return i.probeWithFFprobe(ctx, path, contentType)
}

// probeWithFFprobe decides between audio and video by the streams present;
// containers like MP4 or WebM carry either.
func (i *Ingester) probeWithFFprobe(ctx context.Context, path string, container string) (*probeResult, error) {
	if i.FFmpeg == nil {
		return nil, failure.New(failure.KindInvalidFormat, "unsupported container %s", container)
	}
	p, err := i.FFmpeg.Probe(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		logger.Debugf(ctx, "ffprobe failed: %v", err)
		return nil, failure.New(failure.KindInvalidFormat, "unrecognized media format")
	}
	container = p.Format.FormatName
	if v := p.FirstStream("video"); v != nil && !isStillImageCodec(v.CodecName) {
		return &probeResult{kind: media.KindVideo, container: container, codec: v.CodecName, ffprobe: p}, nil
	}
	if a := p.FirstStream("audio"); a != nil {
		return &probeResult{kind: media.KindAudio, container: container, codec: a.CodecName, ffprobe: p}, nil
	}
	return nil, failure.New(failure.KindInvalidFormat, "no audio or video streams found in %s", container)
}

// isStillImageCodec matches cover art attached to audio files.
func isStillImageCodec(codec string) bool {
	switch codec {
	case "mjpeg", "png", "bmp", "gif", "webp":
		return true
	}
	return false
}
