package pcm

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/qualityscore/pkg/audio"
)

func TestDecode(t *testing.T) {
	t.Run("U8", func(t *testing.T) {
		out, err := Decode(audio.PCMFormatU8, []byte{0, 128, 255})
		require.NoError(t, err)
		assert.InDelta(t, -1.0, out[0], 0.01)
		assert.InDelta(t, 0.0, out[1], 0.01)
		assert.InDelta(t, 1.0, out[2], 0.01)
	})

	t.Run("S16LE", func(t *testing.T) {
		data := make([]byte, 4)
		binary.LittleEndian.PutUint16(data, uint16(16384))
		v := int16(-32768)
		binary.LittleEndian.PutUint16(data[2:], uint16(v))
		out, err := Decode(audio.PCMFormatS16LE, data)
		require.NoError(t, err)
		assert.Equal(t, []float64{0.5, -1}, out)
	})

	t.Run("S24BE negative", func(t *testing.T) {
		out, err := Decode(audio.PCMFormatS24BE, []byte{0xC0, 0x00, 0x00})
		require.NoError(t, err)
		assert.Equal(t, []float64{-0.5}, out)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := Decode(audio.PCMFormatS16LE, []byte{1, 2, 3})
		require.Error(t, err)
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := Decode(audio.PCMFormatUndefined, []byte{1})
		require.Error(t, err)
	})
}

func TestEncodeDecode(t *testing.T) {
	samples := []float64{0, 0.25, -0.25, 0.5, -0.75}
	for format := audio.PCMFormatU8; format < audio.EndOfPCMFormat; format++ {
		t.Run(format.String(), func(t *testing.T) {
			data, err := Encode(format, samples)
			require.NoError(t, err)
			require.Len(t, data, len(samples)*int(format.Size()))
			out, err := Decode(format, data)
			require.NoError(t, err)
			for idx := range samples {
				assert.InDelta(t, samples[idx], out[idx], 1.0/128)
			}
		})
	}
}

func TestEncodeClipping(t *testing.T) {
	data, err := Encode(audio.PCMFormatS16LE, []float64{1.5, -1.5, 1})
	require.NoError(t, err)
	assert.Equal(t, int16(32767), int16(binary.LittleEndian.Uint16(data[0:])))
	assert.Equal(t, int16(-32768), int16(binary.LittleEndian.Uint16(data[2:])))
	assert.Equal(t, int16(32767), int16(binary.LittleEndian.Uint16(data[4:])))
}

func TestInt16(t *testing.T) {
	in := []int16{0, 16384, -16384, 32767}
	assert.Equal(t, in, ToInt16(FromInt16(in)))
}
