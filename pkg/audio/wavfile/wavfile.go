// Package wavfile reads and writes RIFF/WAVE files.
package wavfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/xaionaro-go/qualityscore/pkg/audio"
	"github.com/xaionaro-go/qualityscore/pkg/audio/planar"
)

const (
	formatPCM        = 1
	formatExtensible = 0xFFFE
)

// ErrUnsupportedEncoding is returned for valid WAV files this package
// cannot decode natively (e.g. IEEE float or A-law payloads).
var ErrUnsupportedEncoding = errors.New("unsupported WAV encoding")

type Info struct {
	SampleRate audio.SampleRate
	Channels   audio.Channel
	BitDepth   int
	Frames     int
}

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE"))
}

// Decode reads the whole file into a planar buffer.
func Decode(r io.ReadSeeker) (audio.Buffer, Info, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return audio.Buffer{}, Info{}, fmt.Errorf("invalid WAV file")
	}
	if decoder.WavAudioFormat != formatPCM && decoder.WavAudioFormat != formatExtensible {
		return audio.Buffer{}, Info{}, fmt.Errorf("%w: audio format %d", ErrUnsupportedEncoding, decoder.WavAudioFormat)
	}
	bitDepth := int(decoder.BitDepth)
	switch bitDepth {
	case 8, 16, 24, 32:
	default:
		return audio.Buffer{}, Info{}, fmt.Errorf("%w: bit depth %d", ErrUnsupportedEncoding, bitDepth)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return audio.Buffer{}, Info{}, fmt.Errorf("could not read the PCM buffer: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 || buf.Format.SampleRate <= 0 {
		return audio.Buffer{}, Info{}, fmt.Errorf("invalid WAV format description")
	}

	interleaved := make([]float64, len(buf.Data))
	if bitDepth == 8 {
		for idx, v := range buf.Data {
			interleaved[idx] = (float64(v) - 128) / 128
		}
	} else {
		scale := 1 / math.Exp2(float64(bitDepth-1))
		for idx, v := range buf.Data {
			interleaved[idx] = float64(v) * scale
		}
	}

	channels := audio.Channel(buf.Format.NumChannels)
	interleaved = interleaved[:len(interleaved)/int(channels)*int(channels)]
	out, err := planar.Deinterleave(audio.SampleRate(buf.Format.SampleRate), channels, interleaved)
	if err != nil {
		return audio.Buffer{}, Info{}, err
	}
	return out, Info{
		SampleRate: out.SampleRate,
		Channels:   channels,
		BitDepth:   bitDepth,
		Frames:     out.Frames(),
	}, nil
}

// Encode writes the buffer as a 16-bit PCM WAV file.
func Encode(w io.WriteSeeker, buf audio.Buffer) error {
	if buf.SampleRate == 0 || len(buf.Channels) == 0 {
		return fmt.Errorf("cannot encode an empty buffer description")
	}
	interleaved := planar.Interleave(buf)
	data := make([]int, len(interleaved))
	for idx, v := range interleaved {
		s := math.Round(v * 32768)
		s = math.Max(math.MinInt16, math.Min(math.MaxInt16, s))
		data[idx] = int(s)
	}

	encoder := wav.NewEncoder(w, int(buf.SampleRate), 16, len(buf.Channels), formatPCM)
	err := encoder.Write(&goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: len(buf.Channels),
			SampleRate:  int(buf.SampleRate),
		},
		Data:           data,
		SourceBitDepth: 16,
	})
	if err != nil {
		return fmt.Errorf("unable to write the samples: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("unable to finalize the WAV file: %w", err)
	}
	return nil
}

// EncodeBytes is Encode into memory.
func EncodeBytes(buf audio.Buffer) ([]byte, error) {
	ws := &writeSeeker{}
	if err := Encode(ws, buf); err != nil {
		return nil, err
	}
	return ws.buf, nil
}
