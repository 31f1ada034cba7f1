package odg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/qualityscore/internal/testsignal"
	"github.com/xaionaro-go/qualityscore/pkg/audio"
	"github.com/xaionaro-go/qualityscore/pkg/failure"
	"github.com/xaionaro-go/qualityscore/pkg/metric"
)

func TestScore_Identical(t *testing.T) {
	ref := testsignal.Speechlike(16000, 2, 1)
	r, err := New().Score(context.Background(), metric.SignalPair{Reference: ref, Degraded: ref.Clone()})
	require.NoError(t, err)
	assert.Equal(t, 0.0, r.Score)
	assert.Equal(t, 0.0, r.SubMetrics["lsd"])
	assert.Equal(t, metric.KindODG, r.Kind)
}

func TestScore_Monotonic(t *testing.T) {
	ctx := context.Background()
	ref := testsignal.Speechlike(16000, 3, 2)

	var prev = 1.0
	for _, snr := range []float64{40, 20, 5} {
		noise := testsignal.WhiteNoise(16000, len(ref.Samples), testsignal.NoiseRMSForSNR(ref, snr), 3)
		r, err := New().Score(ctx, metric.SignalPair{Reference: ref, Degraded: testsignal.Add(ref, noise)})
		require.NoError(t, err)
		assert.Less(t, r.Score, prev, "SNR %v dB", snr)
		assert.GreaterOrEqual(t, r.Score, -4.0)
		prev = r.Score
	}
}

func TestScore_Resamples(t *testing.T) {
	ref := testsignal.Speechlike(16000, 2, 4)
	deg := testsignal.Speechlike(48000, 2, 4)
	r, err := New().Score(context.Background(), metric.SignalPair{Reference: ref, Degraded: deg})
	require.NoError(t, err)
	assert.Greater(t, r.Score, -2.0)
}

func TestScore_TooShort(t *testing.T) {
	ref := audio.Signal{SampleRate: 16000, Samples: make([]float64, 1000)}
	_, err := New().Score(context.Background(), metric.SignalPair{Reference: ref, Degraded: ref})
	require.ErrorIs(t, err, failure.InsufficientSignal)
}

func TestScore_WrongInput(t *testing.T) {
	_, err := New().Score(context.Background(), metric.StillImage{})
	require.Error(t, err)
}

func TestGrade(t *testing.T) {
	assert.Equal(t, 0.0, Grade(0))
	assert.InDelta(t, -1.5, Grade(1), 1e-12)
	assert.Equal(t, -4.0, Grade(100))
}
