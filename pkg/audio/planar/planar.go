// Package planar converts between interleaved and planar sample layouts.
package planar

import (
	"fmt"

	"github.com/xaionaro-go/qualityscore/pkg/audio"
)

// Planarize moves interleaved samples of sampleSize bytes from input into
// output so that every channel occupies a contiguous region.
func Planarize(channels audio.Channel, sampleSize uint, output, input []byte) error {
	shortestMessageSize, err := checkLayout(channels, sampleSize, output, input)
	if err != nil {
		return err
	}

	samplesPerChan := len(input) / shortestMessageSize
	for ch := 0; ch < int(channels); ch++ {
		inIdxOffset := int(sampleSize) * ch
		outIdxOffset := ch * samplesPerChan * int(sampleSize)
		for samplePos := 0; samplePos < samplesPerChan; samplePos++ {
			inIdx := inIdxOffset + samplePos*shortestMessageSize
			outIdx := outIdxOffset + samplePos*int(sampleSize)
			copy(output[outIdx:outIdx+int(sampleSize)], input[inIdx:inIdx+int(sampleSize)])
		}
	}
	return nil
}

// Unplanarize is the inverse of Planarize.
func Unplanarize(channels audio.Channel, sampleSize uint, output, input []byte) error {
	shortestMessageSize, err := checkLayout(channels, sampleSize, output, input)
	if err != nil {
		return err
	}

	samplesPerChan := len(input) / shortestMessageSize
	for ch := 0; ch < int(channels); ch++ {
		inIdxOffset := ch * samplesPerChan * int(sampleSize)
		outIdxOffset := int(sampleSize) * ch
		for samplePos := 0; samplePos < samplesPerChan; samplePos++ {
			inIdx := inIdxOffset + samplePos*int(sampleSize)
			outIdx := outIdxOffset + samplePos*shortestMessageSize
			copy(output[outIdx:outIdx+int(sampleSize)], input[inIdx:inIdx+int(sampleSize)])
		}
	}
	return nil
}

func checkLayout(channels audio.Channel, sampleSize uint, output, input []byte) (int, error) {
	if channels == 0 || sampleSize == 0 {
		return 0, fmt.Errorf("channels and sample size must be positive: %d, %d", channels, sampleSize)
	}
	shortestMessageSize := int(channels) * int(sampleSize)
	if len(input)%shortestMessageSize != 0 {
		return 0, fmt.Errorf("expected a message length that is a multiple of %d, but received %d", shortestMessageSize, len(input))
	}
	if len(input) != len(output) {
		return 0, fmt.Errorf("the lengths of input and output are not equal: %d != %d", len(input), len(output))
	}
	return shortestMessageSize, nil
}

// Deinterleave splits interleaved float samples into a Buffer.
func Deinterleave(sampleRate audio.SampleRate, channels audio.Channel, interleaved []float64) (audio.Buffer, error) {
	if channels == 0 {
		return audio.Buffer{}, fmt.Errorf("channels must be greater than 0")
	}
	if len(interleaved)%int(channels) != 0 {
		return audio.Buffer{}, fmt.Errorf("expected a sample count that is a multiple of %d, but received %d", channels, len(interleaved))
	}
	frames := len(interleaved) / int(channels)
	planes := make([][]float64, channels)
	for ch := range planes {
		plane := make([]float64, frames)
		for pos := range plane {
			plane[pos] = interleaved[pos*int(channels)+ch]
		}
		planes[ch] = plane
	}
	return audio.NewBuffer(sampleRate, planes...)
}

// Interleave merges the channels of a Buffer into a single slice.
func Interleave(buf audio.Buffer) []float64 {
	channels := len(buf.Channels)
	out := make([]float64, buf.Frames()*channels)
	for ch, plane := range buf.Channels {
		for pos, v := range plane {
			out[pos*channels+ch] = v
		}
	}
	return out
}
