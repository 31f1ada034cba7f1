package codec

import (
	"context"
	"fmt"
	"strconv"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/qualityscore/pkg/audio"
	"github.com/xaionaro-go/qualityscore/pkg/audio/pcm"
	"github.com/xaionaro-go/qualityscore/pkg/workspace"
)

// SimulateOpus encodes the capture with libopus (wideband VoIP settings)
// and decodes it back at the output rate.
func (s *Simulator) SimulateOpus(
	ctx context.Context,
	ws *workspace.Workspace,
	capture audio.Signal,
) (_ audio.Signal, _err error) {
	logger.Tracef(ctx, "SimulateOpus")
	defer func() { logger.Tracef(ctx, "/SimulateOpus: %v", _err) }()

	if s.FFmpeg == nil {
		return audio.Signal{}, fmt.Errorf("ffmpeg is not configured")
	}
	in, err := pcm.Encode(audio.PCMFormatFloat32LE, capture.Samples)
	if err != nil {
		return audio.Signal{}, err
	}

	path := ws.Path("wideband.opus")
	_, err = s.FFmpeg.Pipe(ctx, in, s.OpusEncodeArgs(capture.SampleRate, path)...)
	if err != nil {
		return audio.Signal{}, fmt.Errorf("unable to encode with libopus: %w", err)
	}

	decoded, err := s.FFmpeg.DecodeAudio(ctx, path, s.OutputRate, 1)
	if err != nil {
		return audio.Signal{}, fmt.Errorf("unable to decode the opus stream: %w", err)
	}
	return decoded.Channel(0), nil
}

func (s *Simulator) OpusEncodeArgs(inputRate audio.SampleRate, output string) []string {
	return []string{
		"-nostdin",
		"-v", "error",
		"-y",
		"-f", "f32le",
		"-ar", strconv.Itoa(int(inputRate)),
		"-ac", "1",
		"-i", "pipe:0",
		"-ar", strconv.Itoa(s.Config.OpusSampleRate),
		"-ac", "1",
		"-c:a", "libopus",
		"-b:a", strconv.Itoa(s.Config.OpusBitrate),
		"-application", s.Config.OpusApplication,
		"-f", "ogg",
		output,
	}
}
