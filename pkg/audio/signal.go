package audio

import (
	"fmt"
	"math"
	"time"
)

// Signal is a single-channel signal, samples are normalized to [-1, 1].
type Signal struct {
	SampleRate SampleRate
	Samples    []float64
}

func (s Signal) Duration() time.Duration {
	return samplesDuration(len(s.Samples), s.SampleRate)
}

func (s Signal) IsEmpty() bool {
	return len(s.Samples) == 0
}

// Clone returns a deep copy.
func (s Signal) Clone() Signal {
	return Signal{
		SampleRate: s.SampleRate,
		Samples:    append([]float64(nil), s.Samples...),
	}
}

func (s Signal) RMS() float64 {
	return RMS(s.Samples)
}

func (s Signal) Peak() float64 {
	return Peak(s.Samples)
}

// Buffer is a planar multi-channel signal. All channels have the same length.
type Buffer struct {
	SampleRate SampleRate
	Channels   [][]float64
}

func NewBuffer(sampleRate SampleRate, channels ...[]float64) (Buffer, error) {
	for idx := 1; idx < len(channels); idx++ {
		if len(channels[idx]) != len(channels[0]) {
			return Buffer{}, fmt.Errorf("channel %d has %d samples, while channel 0 has %d", idx, len(channels[idx]), len(channels[0]))
		}
	}
	return Buffer{
		SampleRate: sampleRate,
		Channels:   channels,
	}, nil
}

func (b Buffer) NumChannels() Channel {
	return Channel(len(b.Channels))
}

// Frames returns the amount of samples per channel.
func (b Buffer) Frames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

func (b Buffer) Duration() time.Duration {
	return samplesDuration(b.Frames(), b.SampleRate)
}

func (b Buffer) IsEmpty() bool {
	return b.Frames() == 0
}

func (b Buffer) Channel(idx int) Signal {
	return Signal{
		SampleRate: b.SampleRate,
		Samples:    b.Channels[idx],
	}
}

// Mono returns the average of all channels.
func (b Buffer) Mono() Signal {
	switch len(b.Channels) {
	case 0:
		return Signal{SampleRate: b.SampleRate}
	case 1:
		return b.Channel(0).Clone()
	}
	out := make([]float64, b.Frames())
	for _, ch := range b.Channels {
		for idx, v := range ch {
			out[idx] += v
		}
	}
	scale := 1 / float64(len(b.Channels))
	for idx := range out {
		out[idx] *= scale
	}
	return Signal{
		SampleRate: b.SampleRate,
		Samples:    out,
	}
}

func (s Signal) AsBuffer() Buffer {
	return Buffer{
		SampleRate: s.SampleRate,
		Channels:   [][]float64{s.Samples},
	}
}

func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func Peak(samples []float64) float64 {
	var peak float64
	for _, v := range samples {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	return peak
}

func samplesDuration(samples int, sampleRate SampleRate) time.Duration {
	if sampleRate == 0 {
		return 0
	}
	return time.Duration(int64(samples) * int64(time.Second) / int64(sampleRate))
}
