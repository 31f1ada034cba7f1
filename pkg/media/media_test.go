package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	for in, expected := range map[string]Kind{
		"video":  KindVideo,
		"Audio ": KindAudio,
		"speech": KindAudio,
		"photo":  KindImage,
	} {
		k, err := ParseKind(in)
		require.NoError(t, err)
		assert.Equal(t, expected, k)
	}
	_, err := ParseKind("hologram")
	require.Error(t, err)
}

func TestSampleBytesAreCopied(t *testing.T) {
	data := []byte{1, 2, 3}
	s := NewSample(KindAudio, "a.wav", data)
	b := s.Bytes()
	b[0] = 42
	assert.Equal(t, []byte{1, 2, 3}, s.Bytes())
	assert.Equal(t, 3, s.Size)
}
