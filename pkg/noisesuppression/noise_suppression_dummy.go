package noisesuppression

import (
	"context"

	"github.com/xaionaro-go/qualityscore/pkg/audio"
)

type Dummy struct{}

var _ NoiseSuppression = (*Dummy)(nil)

func NewDummy() *Dummy {
	return &Dummy{}
}

func (*Dummy) Close() error {
	return nil
}

func (*Dummy) Denoise(_ context.Context, _ audio.Buffer, degraded audio.Buffer) (audio.Buffer, error) {
	return Copy(degraded), nil
}

// Copy returns a deep copy of the buffer.
func Copy(buf audio.Buffer) audio.Buffer {
	planes := make([][]float64, len(buf.Channels))
	for idx, plane := range buf.Channels {
		planes[idx] = append([]float64(nil), plane...)
	}
	return audio.Buffer{
		SampleRate: buf.SampleRate,
		Channels:   planes,
	}
}
