package wavfile

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/qualityscore/pkg/audio"
)

func TestRoundTrip(t *testing.T) {
	left := make([]float64, 4410)
	right := make([]float64, 4410)
	for i := range left {
		left[i] = 0.5 * math.Sin(2*math.Pi*440*float64(i)/44100)
		right[i] = -left[i] / 2
	}
	in, err := audio.NewBuffer(44100, left, right)
	require.NoError(t, err)

	data, err := EncodeBytes(in)
	require.NoError(t, err)
	assert.True(t, IsWAV(data))

	out, info, err := Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, Info{SampleRate: 44100, Channels: 2, BitDepth: 16, Frames: 4410}, info)
	require.Equal(t, in.Frames(), out.Frames())
	for ch := range in.Channels {
		for i := range in.Channels[ch] {
			require.InDelta(t, in.Channels[ch][i], out.Channels[ch][i], 1.0/32768)
		}
	}
}

func TestDecodeInvalid(t *testing.T) {
	_, _, err := Decode(bytes.NewReader([]byte("definitely not a wav file")))
	require.Error(t, err)
	assert.False(t, IsWAV([]byte("RIFF")))
}

func TestWriteSeeker(t *testing.T) {
	ws := &writeSeeker{}
	_, err := ws.Write([]byte("hello world"))
	require.NoError(t, err)
	_, err = ws.Seek(0, 0)
	require.NoError(t, err)
	_, err = ws.Write([]byte("HELLO"))
	require.NoError(t, err)
	assert.Equal(t, "HELLO world", string(ws.buf))
}
