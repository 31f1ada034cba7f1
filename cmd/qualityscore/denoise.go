package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/spf13/cobra"
	"github.com/xaionaro-go/qualityscore/pkg/audio"
	"github.com/xaionaro-go/qualityscore/pkg/audio/resampler"
	"github.com/xaionaro-go/qualityscore/pkg/audio/wavfile"
	"github.com/xaionaro-go/qualityscore/pkg/noisesuppression/implementations/spectralsub"
)

var denoiseCmd = &cobra.Command{
	Use:   "denoise <room-noise.wav> <input.wav> <output.wav>",
	Short: "Subtract a room noise capture from a WAV file",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ambient, err := readWAV(args[0])
		if err != nil {
			return err
		}
		input, err := readWAV(args[1])
		if err != nil {
			return err
		}
		if ambient.SampleRate != input.SampleRate {
			logger.Debugf(ctx, "resampling the room noise from %d to %d Hz", ambient.SampleRate, input.SampleRate)
			if ambient, err = resampler.ResampleBuffer(ctx, ambient, input.SampleRate); err != nil {
				return fmt.Errorf("unable to resample the room noise: %w", err)
			}
		}

		denoiser, err := spectralsub.New(spectralsub.ParamsFromConfig(cfg.Denoise))
		if err != nil {
			return err
		}
		defer denoiser.Close()
		output, err := denoiser.Denoise(ctx, ambient, input)
		if err != nil {
			return err
		}

		f, err := os.Create(args[2])
		if err != nil {
			return fmt.Errorf("unable to create '%s': %w", args[2], err)
		}
		if err := wavfile.Encode(f, output); err != nil {
			f.Close()
			return fmt.Errorf("unable to write '%s': %w", args[2], err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("unable to close '%s': %w", args[2], err)
		}
		logger.Infof(ctx, "wrote %v of %d channel(s) at %d Hz to %s", output.Duration(), output.NumChannels(), output.SampleRate, args[2])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(denoiseCmd)
}

func readWAV(path string) (audio.Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("unable to read '%s': %w", path, err)
	}
	buf, _, err := wavfile.Decode(bytes.NewReader(data))
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("unable to decode '%s': %w", path, err)
	}
	return buf, nil
}
