package resampler

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/qualityscore/internal/testsignal"
	"github.com/xaionaro-go/qualityscore/pkg/audio"
)

func sine(rate audio.SampleRate, freq float64, n int) audio.Signal {
	s := make([]float64, n)
	for i := range s {
		s[i] = 0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
	}
	return audio.Signal{SampleRate: rate, Samples: s}
}

func TestResample(t *testing.T) {
	ctx := context.Background()

	t.Run("identity", func(t *testing.T) {
		in := sine(16000, 440, 1600)
		out, err := Resample(ctx, in, 16000)
		require.NoError(t, err)
		assert.Equal(t, in.Samples, out.Samples)
		out.Samples[0] = 42
		assert.NotEqual(t, 42.0, in.Samples[0])
	})

	for _, tc := range []struct {
		in, out audio.SampleRate
		n       int
	}{
		{48000, 16000, 48000},
		{16000, 8000, 16001},
		{8000, 16000, 8000},
		{44100, 16000, 44100},
	} {
		t.Run("length", func(t *testing.T) {
			out, err := Resample(ctx, sine(tc.in, 440, tc.n), tc.out)
			require.NoError(t, err)
			assert.Equal(t, tc.out, out.SampleRate)
			assert.Equal(t, ExpectedLength(tc.n, tc.in, tc.out), len(out.Samples))
		})
	}

	t.Run("energy preserved", func(t *testing.T) {
		in := sine(48000, 440, 48000)
		out, err := Resample(ctx, in, 16000)
		require.NoError(t, err)
		assert.InDelta(t, in.RMS(), out.RMS(), 0.05)
	})

	t.Run("invalid rate", func(t *testing.T) {
		_, err := Resample(ctx, audio.Signal{Samples: []float64{1}}, 16000)
		require.Error(t, err)
	})
}

func peakIndex(s []float64) int {
	peak := 0
	for idx, v := range s {
		if math.Abs(v) > math.Abs(s[peak]) {
			peak = idx
		}
	}
	return peak
}

// bestLag returns the lag in [-maxLag, maxLag] maximizing the correlation
// of b[i+lag] with a[i].
func bestLag(a, b []float64, maxLag int) int {
	best, bestCorr := 0, math.Inf(-1)
	for lag := -maxLag; lag <= maxLag; lag++ {
		var corr float64
		for i := range a {
			if j := i + lag; j >= 0 && j < len(b) {
				corr += a[i] * b[j]
			}
		}
		if corr > bestCorr {
			best, bestCorr = lag, corr
		}
	}
	return best
}

func TestResample_Timing(t *testing.T) {
	ctx := context.Background()

	for _, tc := range []struct {
		in, out audio.SampleRate
	}{
		{48000, 16000},
		{16000, 8000},
		{8000, 16000},
		{44100, 16000},
	} {
		t.Run("impulse", func(t *testing.T) {
			// 0.3 s into a 1.5 s signal
			in := audio.Signal{SampleRate: tc.in, Samples: make([]float64, int(tc.in)*3/2)}
			pos := int(tc.in) * 3 / 10
			in.Samples[pos] = 1

			out, err := Resample(ctx, in, tc.out)
			require.NoError(t, err)
			want := int(math.Round(float64(pos) * float64(tc.out) / float64(tc.in)))
			assert.InDelta(t, want, peakIndex(out.Samples), 1, "%d -> %d", tc.in, tc.out)
		})
	}

	t.Run("narrowband round trip", func(t *testing.T) {
		in := testsignal.Speechlike(16000, 1, 1)
		narrow, err := Resample(ctx, in, 8000)
		require.NoError(t, err)
		back, err := Resample(ctx, narrow, 16000)
		require.NoError(t, err)
		require.Len(t, back.Samples, len(in.Samples))
		assert.InDelta(t, 0, bestLag(in.Samples, back.Samples, 500), 2)
	})

	t.Run("downsampling keeps the time base", func(t *testing.T) {
		in := testsignal.Speechlike(48000, 1, 2)
		out, err := Resample(ctx, in, 16000)
		require.NoError(t, err)
		native := testsignal.Speechlike(16000, 1, 2)
		assert.InDelta(t, 0, bestLag(native.Samples, out.Samples, 300), 2)
	})
}
