package pesq

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/qualityscore/internal/testsignal"
	"github.com/xaionaro-go/qualityscore/pkg/audio"
	"github.com/xaionaro-go/qualityscore/pkg/failure"
	"github.com/xaionaro-go/qualityscore/pkg/metric"
)

func newEngine(t *testing.T, mode Mode) *Engine {
	e, err := New(mode)
	require.NoError(t, err)
	return e
}

func TestScore_Identical(t *testing.T) {
	ref := testsignal.Speechlike(16000, 3, 1)
	for _, mode := range []Mode{ModeNarrowband, ModeWideband} {
		t.Run(mode.String(), func(t *testing.T) {
			r, err := newEngine(t, mode).Score(context.Background(), metric.SignalPair{Reference: ref, Degraded: ref.Clone()})
			require.NoError(t, err)
			assert.Equal(t, MaxScore(mode), r.Score)
			assert.Equal(t, 0.0, r.SubMetrics["symmetric_disturbance"])
			assert.Equal(t, 4.5, r.SubMetrics["raw"])
		})
	}
}

func TestScore_LevelInvariant(t *testing.T) {
	ref := testsignal.Speechlike(16000, 3, 2)
	quieter := ref.Clone()
	for idx := range quieter.Samples {
		quieter.Samples[idx] *= 0.25
	}
	r, err := newEngine(t, ModeWideband).Score(context.Background(), metric.SignalPair{Reference: ref, Degraded: quieter})
	require.NoError(t, err)
	assert.InDelta(t, MaxScore(ModeWideband), r.Score, 0.01)
}

func TestScore_DegradesWithNoise(t *testing.T) {
	ctx := context.Background()
	ref := testsignal.Speechlike(16000, 4, 3)
	for _, mode := range []Mode{ModeNarrowband, ModeWideband} {
		prev := MaxScore(mode) + 0.001
		for _, snr := range []float64{40, 20, 0} {
			t.Run(fmt.Sprintf("%s/%v", mode, snr), func(t *testing.T) {
				noise := testsignal.WhiteNoise(16000, len(ref.Samples), testsignal.NoiseRMSForSNR(ref, snr), 4)
				r, err := newEngine(t, mode).Score(ctx, metric.SignalPair{Reference: ref, Degraded: testsignal.Add(ref, noise)})
				require.NoError(t, err)
				assert.Less(t, r.Score, prev)
				assert.True(t, Range.Contains(r.Score))
				prev = r.Score
			})
		}
	}
}

func TestScore_InsufficientSignal(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, ModeWideband)

	short := testsignal.Speechlike(16000, 0.1, 5)
	_, err := e.Score(ctx, metric.SignalPair{Reference: short, Degraded: short})
	require.ErrorIs(t, err, failure.InsufficientSignal)

	silent := audio.Signal{SampleRate: 16000, Samples: make([]float64, 32000)}
	_, err = e.Score(ctx, metric.SignalPair{Reference: silent, Degraded: testsignal.Speechlike(16000, 2, 6)})
	require.ErrorIs(t, err, failure.InsufficientSignal)
}

func TestMOSLQO(t *testing.T) {
	assert.InDelta(t, 4.549, MOSLQO(ModeNarrowband, 4.5), 0.001)
	assert.InDelta(t, 4.644, MOSLQO(ModeWideband, 4.5), 0.001)
	assert.Greater(t, MOSLQO(ModeNarrowband, -0.5), Range.Min)
	assert.Less(t, MOSLQO(ModeWideband, 4.5), Range.Max)
}

func TestBandLayout(t *testing.T) {
	m, err := newModel(ModeWideband)
	require.NoError(t, err)
	require.Len(t, m.bands, 49)
	assert.InDelta(t, 100, m.bands[0].Lo, 1)
	assert.InDelta(t, 7000, m.bands[48].Hi, 1)
	for idx, b := range m.bands {
		assert.NotEmpty(t, b.Bins, "band %d", idx)
		assert.Greater(t, b.Threshold, 0.0)
	}

	m, err = newModel(ModeNarrowband)
	require.NoError(t, err)
	require.Len(t, m.bands, 42)
}

func TestNew(t *testing.T) {
	_, err := New(ModeUndefined)
	require.Error(t, err)
}
