package alignment

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/qualityscore/internal/testsignal"
	"github.com/xaionaro-go/qualityscore/pkg/audio"
	"github.com/xaionaro-go/qualityscore/pkg/config"
	"github.com/xaionaro-go/qualityscore/pkg/failure"
)

func newAligner(t *testing.T, method string) *Aligner {
	cfg := config.Default().Alignment
	cfg.Method = method
	a, err := New(cfg)
	require.NoError(t, err)
	return a
}

func TestAlign_KnownDelay(t *testing.T) {
	ctx := context.Background()
	ref := testsignal.Speechlike(16000, 4, 1)
	noise := testsignal.WhiteNoise(16000, len(ref.Samples), testsignal.NoiseRMSForSNR(ref, 15), 2)

	for _, method := range []string{MethodGCCPHAT, MethodXCorr} {
		a := newAligner(t, method)
		for _, delay := range []int{0, 480, -160} {
			t.Run(fmt.Sprintf("%s/%d", method, delay), func(t *testing.T) {
				degraded := testsignal.Add(testsignal.Delay(ref, delay), noise)
				aligned, offset, err := a.Align(ctx, ref, degraded)
				require.NoError(t, err)
				assert.InDelta(t, delay, offset.Samples, 2)
				assert.Equal(t, method, offset.Method)
				assert.Len(t, aligned.Samples, len(ref.Samples))

				// samples shifted back into place correlate with the reference
				mid := len(ref.Samples) / 2
				var diff []float64
				for idx := mid; idx < mid+1600; idx++ {
					diff = append(diff, aligned.Samples[idx]-ref.Samples[idx])
				}
				assert.Less(t, audio.RMS(diff), 3*noise.RMS())
			})
		}
	}
}

func TestAlign_ResamplesDegraded(t *testing.T) {
	ctx := context.Background()
	a := newAligner(t, MethodGCCPHAT)
	ref := testsignal.Speechlike(16000, 3, 3)
	degraded := testsignal.Speechlike(48000, 3, 3)

	aligned, offset, err := a.Align(ctx, ref, degraded)
	require.NoError(t, err)
	assert.Equal(t, ref.SampleRate, aligned.SampleRate)
	assert.Len(t, aligned.Samples, len(ref.Samples))
	assert.InDelta(t, 0, offset.Samples, 40)
}

func TestAlign_Failures(t *testing.T) {
	ctx := context.Background()
	a := newAligner(t, MethodGCCPHAT)
	ref := testsignal.Speechlike(16000, 2, 4)

	t.Run("silence", func(t *testing.T) {
		_, _, err := a.Align(ctx, ref, audio.Signal{SampleRate: 16000, Samples: make([]float64, 32000)})
		require.ErrorIs(t, err, failure.AlignmentFailed)
	})

	t.Run("unrelated", func(t *testing.T) {
		noise := testsignal.WhiteNoise(16000, 32000, 0.1, 5)
		_, offset, err := a.Align(ctx, ref, noise)
		require.ErrorIs(t, err, failure.AlignmentFailed)
		assert.Less(t, offset.Confidence, 0.1)
	})

	t.Run("empty", func(t *testing.T) {
		_, _, err := a.Align(ctx, ref, audio.Signal{SampleRate: 16000})
		require.ErrorIs(t, err, failure.InsufficientSignal)
	})
}

func TestNew_UnknownMethod(t *testing.T) {
	cfg := config.Default().Alignment
	cfg.Method = "magic"
	_, err := New(cfg)
	require.Error(t, err)
}

func TestShift(t *testing.T) {
	sig := audio.Signal{SampleRate: 8000, Samples: []float64{1, 2, 3, 4}}
	assert.Equal(t, []float64{3, 4, 0, 0}, Shift(sig, 2, 4).Samples)
	assert.Equal(t, []float64{0, 1, 2}, Shift(sig, -1, 3).Samples)
	assert.Equal(t, []float64{1, 2, 3, 4, 0}, Shift(sig, 0, 5).Samples)
}

func TestOverlap(t *testing.T) {
	for _, tc := range []struct {
		delay, refLen, degLen int
		start, end            int
	}{
		{0, 100, 100, 0, 100},
		{10, 100, 100, 0, 90},
		{-10, 100, 100, 10, 100},
		{0, 100, 60, 0, 60},
		{200, 100, 100, 0, 0},
	} {
		start, end := Offset{Samples: tc.delay}.Overlap(tc.refLen, tc.degLen)
		assert.Equal(t, tc.start, start, "%+v", tc)
		assert.Equal(t, tc.end, end, "%+v", tc)
	}
}

func TestParseCropDetect(t *testing.T) {
	log := `[Parsed_cropdetect_0 @ 0x55] x1:0 x2:1919 y1:140 y2:939 w:1920 h:800 x:0 y:140 pts:1 t:0.04 crop=1920:800:0:140
[Parsed_cropdetect_0 @ 0x55] x1:0 x2:1919 y1:138 y2:941 w:1920 h:800 x:0 y:140 pts:2 t:0.08 crop=1920:800:0:142`
	crop, err := ParseCropDetect(log)
	require.NoError(t, err)
	require.NotNil(t, crop)
	assert.Equal(t, Crop{Width: 1920, Height: 800, X: 0, Y: 142}, *crop)
	assert.Equal(t, "crop=1920:800:0:142", crop.String())

	crop, err = ParseCropDetect("nothing detected")
	require.NoError(t, err)
	assert.Nil(t, crop)
}

func TestVideoAlignmentFilters(t *testing.T) {
	v := &VideoAlignment{
		FrameRate: 25,
		Width:     1280,
		Height:    720,
		Crop:      &Crop{Width: 1920, Height: 800, Y: 140},
	}
	assert.Equal(t, "crop=1920:800:0:140,scale=1280:720:flags=bicubic,fps=25,setpts=PTS-STARTPTS", v.DistortedFilter())
	assert.Equal(t, "fps=25,setpts=PTS-STARTPTS", v.ReferenceFilter())
	assert.Equal(t, 750, ExpectedFrames(30*time.Second, 25))
	assert.Equal(t, 899, ExpectedFrames(30*time.Second, 29.97))
	assert.Equal(t, "12.500", FormatSeconds(12500*time.Millisecond))
}
