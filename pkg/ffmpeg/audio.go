package ffmpeg

import (
	"context"
	"fmt"
	"strconv"

	"github.com/xaionaro-go/qualityscore/pkg/audio"
	"github.com/xaionaro-go/qualityscore/pkg/audio/pcm"
	"github.com/xaionaro-go/qualityscore/pkg/audio/planar"
)

// DecodeAudio decodes the first audio stream of the file to a planar
// buffer with the given sample rate and channel count.
func (r *Runner) DecodeAudio(
	ctx context.Context,
	path string,
	sampleRate audio.SampleRate,
	channels audio.Channel,
) (audio.Buffer, error) {
	raw, err := r.Pipe(ctx, nil,
		"-nostdin",
		"-v", "error",
		"-i", path,
		"-vn",
		"-ac", strconv.Itoa(int(channels)),
		"-ar", strconv.Itoa(int(sampleRate)),
		"-f", "f32le",
		"-acodec", "pcm_f32le",
		"pipe:1",
	)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("unable to decode '%s': %w", path, err)
	}
	return rawToBuffer(raw, sampleRate, channels)
}

// TranscodePCM passes a mono signal through an arbitrary ffmpeg
// encode/decode chain described by args (which must read f32le from
// pipe:0 and write f32le to pipe:1 at outRate).
func (r *Runner) TranscodePCM(
	ctx context.Context,
	sig audio.Signal,
	outRate audio.SampleRate,
	args ...string,
) (audio.Signal, error) {
	in, err := pcm.Encode(audio.PCMFormatFloat32LE, sig.Samples)
	if err != nil {
		return audio.Signal{}, err
	}
	raw, err := r.Pipe(ctx, in, args...)
	if err != nil {
		return audio.Signal{}, err
	}
	buf, err := rawToBuffer(raw, outRate, 1)
	if err != nil {
		return audio.Signal{}, err
	}
	return buf.Channel(0), nil
}

func rawToBuffer(raw []byte, sampleRate audio.SampleRate, channels audio.Channel) (audio.Buffer, error) {
	sampleSize := audio.PCMFormatFloat32LE.Size()
	frameSize := int(sampleSize) * int(channels)
	raw = raw[:len(raw)/frameSize*frameSize]

	planarized := make([]byte, len(raw))
	if err := planar.Planarize(channels, sampleSize, planarized, raw); err != nil {
		return audio.Buffer{}, fmt.Errorf("unable to planarize: %w", err)
	}
	frames := len(raw) / frameSize
	planes := make([][]float64, channels)
	for ch := range planes {
		chunk := planarized[ch*frames*int(sampleSize) : (ch+1)*frames*int(sampleSize)]
		samples, err := pcm.Decode(audio.PCMFormatFloat32LE, chunk)
		if err != nil {
			return audio.Buffer{}, err
		}
		planes[ch] = samples
	}
	return audio.NewBuffer(sampleRate, planes...)
}
