package noisesuppression

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/qualityscore/pkg/audio"
)

func TestDummy(t *testing.T) {
	in, err := audio.NewBuffer(16000, []float64{0.1, 0.2, 0.3}, []float64{-0.1, -0.2, -0.3})
	require.NoError(t, err)
	ambient, err := audio.NewBuffer(16000, []float64{0.5, 0.5})
	require.NoError(t, err)

	d := NewDummy()
	out, err := d.Denoise(context.Background(), ambient, in)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	out.Channels[0][0] = 1
	assert.Equal(t, 0.1, in.Channels[0][0])
	require.NoError(t, d.Close())
}
