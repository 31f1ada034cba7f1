package scoring

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/qualityscore/internal/testsignal"
	"github.com/xaionaro-go/qualityscore/pkg/assets"
	"github.com/xaionaro-go/qualityscore/pkg/audio"
	"github.com/xaionaro-go/qualityscore/pkg/audio/wavfile"
	"github.com/xaionaro-go/qualityscore/pkg/config"
	"github.com/xaionaro-go/qualityscore/pkg/failure"
	"github.com/xaionaro-go/qualityscore/pkg/ingest"
	"github.com/xaionaro-go/qualityscore/pkg/metric/odg"
	"github.com/xaionaro-go/qualityscore/pkg/metric/pesq"
	"github.com/xaionaro-go/qualityscore/pkg/noisesuppression"
)

func wavBytes(t *testing.T, sig audio.Signal) []byte {
	data, err := wavfile.EncodeBytes(sig.AsBuffer())
	require.NoError(t, err)
	return data
}

type fixture struct {
	Scorer *Scorer
	Audio  audio.Signal
	Speech audio.Signal
}

// newFixture builds a scorer without ffmpeg over synthetic reference assets.
func newFixture(t *testing.T) *fixture {
	ctx := context.Background()
	cfg := config.Default()
	cfg.TempDir = t.TempDir()
	cfg.Assets.Dir = t.TempDir()

	f := &fixture{
		Audio:  testsignal.Speechlike(16000, 4, 1),
		Speech: testsignal.Speechlike(16000, 4, 7),
	}
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Assets.Dir, cfg.Assets.ReferenceAudio), wavBytes(t, f.Audio), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Assets.Dir, cfg.Assets.ReferenceSpeech), wavBytes(t, f.Speech), 0o600))

	src, err := assets.NewSource(cfg.Assets)
	require.NoError(t, err)
	pool, err := assets.Load(ctx, cfg.Assets, src, ingest.New(cfg.Ingest, nil), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	require.NotNil(t, pool.ReferenceAudio)
	require.NotNil(t, pool.ReferenceSpeech)
	require.Nil(t, pool.ReferenceVideo)
	require.Nil(t, pool.NIQE)

	s, err := New(ctx, cfg, pool, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	f.Scorer = s
	return f
}

func TestScoreAudio_RoomNoise(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	noiseRMS := testsignal.NoiseRMSForSNR(f.Audio, 10)
	degraded := testsignal.Add(f.Audio, testsignal.WhiteNoise(16000, len(f.Audio.Samples), noiseRMS, 2))
	room := testsignal.WhiteNoise(16000, 32000, noiseRMS, 3)

	resp, err := f.Scorer.ScoreAudio(ctx,
		Upload{Filename: "recording.wav", Data: wavBytes(t, degraded)},
		&Upload{Filename: "room.wav", Data: wavBytes(t, room)},
		Options{Diagnostics: true},
	)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, resp.ODGScore, -4.0)
	assert.LessOrEqual(t, resp.ODGScore, -0.2)
	assert.True(t, odg.Range.Contains(resp.ODGScore))
	assert.True(t, resp.Details.SpectralSubtraction)
	require.NotNil(t, resp.Details.NoiseDuration)
	assert.Equal(t, 2.0, *resp.Details.NoiseDuration)
	assert.False(t, resp.Details.Resampled)
	require.NotNil(t, resp.Details.Alignment)
	assert.InDelta(t, 0, resp.Details.Alignment.Samples, 2)
	assert.Equal(t, 16000, resp.Details.RefSampleRate)
	assert.Equal(t, assets.Version(wavBytes(t, f.Audio)), resp.Details.ReferenceVersion)

	data, err := base64.StdEncoding.DecodeString(resp.SubtractedAudioB64)
	require.NoError(t, err)
	denoised, _, err := wavfile.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, len(degraded.Samples), denoised.Frames())

	before := testsignal.SNR(f.Audio, degraded)
	after := testsignal.SNR(f.Audio, denoised.Channel(0))
	assert.Greater(t, after, before+3, "before: %.2f dB, after: %.2f dB", before, after)
}

func TestScoreAudio_NoRoomNoise(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	resp, err := f.Scorer.ScoreAudio(ctx, Upload{Filename: "recording.wav", Data: wavBytes(t, f.Audio)}, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0.0, resp.ODGScore)
	assert.False(t, resp.Details.SpectralSubtraction)
	assert.Nil(t, resp.Details.NoiseDuration)
	assert.Nil(t, resp.Details.Alignment)
	assert.Empty(t, resp.SubtractedAudioB64)
	assert.Equal(t, 4.0, resp.Details.AnalysisDuration)
}

func TestScoreAudio_PassthroughDenoiser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.Scorer.Denoiser = noisesuppression.NewDummy()

	room := testsignal.WhiteNoise(16000, 16000, 0.01, 3)
	resp, err := f.Scorer.ScoreAudio(ctx,
		Upload{Filename: "recording.wav", Data: wavBytes(t, f.Audio)},
		&Upload{Filename: "room.wav", Data: wavBytes(t, room)},
		Options{},
	)
	require.NoError(t, err)
	assert.Equal(t, 0.0, resp.ODGScore)
	assert.False(t, resp.Details.SpectralSubtraction)
	require.NotNil(t, resp.Details.NoiseDuration)
	assert.Equal(t, 1.0, *resp.Details.NoiseDuration)
	assert.Empty(t, resp.SubtractedAudioB64)
}

func TestScoreSpeech(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	noise := testsignal.WhiteNoise(16000, len(f.Speech.Samples), testsignal.NoiseRMSForSNR(f.Speech, 20), 4)
	capture := testsignal.Add(testsignal.Delay(f.Speech, 800), noise)

	resp, err := f.Scorer.ScoreSpeech(ctx, Upload{Filename: "capture.wav", Data: wavBytes(t, capture)}, Options{Diagnostics: true})
	require.NoError(t, err)
	require.NotNil(t, resp.PESQWideband)
	require.NotNil(t, resp.PESQNarrowband)
	assert.True(t, pesq.Range.Contains(*resp.PESQWideband))
	assert.True(t, pesq.Range.Contains(*resp.PESQNarrowband))
	assert.Less(t, *resp.PESQWideband, pesq.MaxScore(pesq.ModeWideband))
	assert.Empty(t, resp.PESQWidebandError)
	require.NotNil(t, resp.Details.Alignment)
	assert.InDelta(t, 800, resp.Details.Alignment.Samples, 2)
	assert.Contains(t, resp.Details.SubMetrics, "pesq_wb")
	require.NotNil(t, resp.Details.VoicedRatio)
	assert.Greater(t, *resp.Details.VoicedRatio, 0.0)
	assert.LessOrEqual(t, *resp.Details.VoicedRatio, 1.0)
	assert.Less(t, resp.Details.AnalysisDuration, resp.Details.RefDuration)
}

func TestScoreSpeech_TooShort(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	short := audio.Signal{SampleRate: 16000, Samples: f.Speech.Samples[:16000]}
	_, err := f.Scorer.ScoreSpeech(ctx, Upload{Filename: "capture.wav", Data: wavBytes(t, short)}, Options{})
	require.ErrorIs(t, err, failure.DurationOutOfRange)
}

func TestDeviceCall_WithoutFFmpeg(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	resp, err := f.Scorer.DeviceCall(ctx, Upload{Filename: "capture.wav", Data: wavBytes(t, f.Speech)}, Options{IncludeAudio: true})
	require.NoError(t, err)
	assert.Equal(t, CallTypeDevice, resp.Type)

	require.NotNil(t, resp.DirectRecording)
	assert.InDelta(t, pesq.MaxScore(pesq.ModeWideband), resp.DirectRecording.PESQScore, 0.01)

	assert.Nil(t, resp.VoIPWideband)
	assert.Contains(t, resp.Unavailable, "voip_wideband")
	assert.Empty(t, resp.WBDegradedAudioB64)

	require.NotNil(t, resp.TraditionalNarrowband)
	assert.Equal(t, "G.711 μ-law (PCMU)", resp.TraditionalNarrowband.Codec)
	assert.Equal(t, "64 kbps", resp.TraditionalNarrowband.Bitrate)
	assert.Equal(t, "PSTN", resp.TraditionalNarrowband.Mode)
	assert.True(t, pesq.Range.Contains(resp.TraditionalNarrowband.PESQScore))
	assert.Less(t, resp.TraditionalNarrowband.PESQScore, resp.DirectRecording.PESQScore)
	assert.NotEmpty(t, resp.NBDegradedAudioB64)
	assert.NotEmpty(t, resp.ReferenceAudioB64)
	assert.NotEmpty(t, resp.RecordedAudioB64)
	assert.Nil(t, resp.Details)
}

func TestCodecCall_WithoutFFmpeg(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	resp, err := f.Scorer.CodecCall(ctx, Options{Diagnostics: true})
	require.NoError(t, err)
	assert.Equal(t, CallTypeCodec, resp.Type)
	assert.Nil(t, resp.DirectRecording)
	assert.Nil(t, resp.VoIPWideband)
	require.NotNil(t, resp.TraditionalNarrowband)
	assert.Equal(t, "WebRTC call: G.711 μ-law (PCMU)", resp.TraditionalNarrowband.Description)
	assert.NotEmpty(t, resp.TraditionalNarrowband.SubMetrics)
	require.NotNil(t, resp.Details)
	assert.Nil(t, resp.Details.Alignment)
	assert.Empty(t, resp.ReferenceAudioB64)

	nb := resp.TraditionalNarrowband
	require.NotNil(t, nb.Alignment)
	assert.InDelta(t, 0, nb.Alignment.Samples, 2)
	assert.Greater(t, nb.PESQScore, 4.0)
	assert.Equal(t, 0.0, nb.SubMetrics["packets_lost"])
	assert.Equal(t, 200.0, nb.SubMetrics["packets_sent"])
}

func TestCodecCall_PacketLoss(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	lossless, err := f.Scorer.CodecCall(ctx, Options{})
	require.NoError(t, err)
	require.NotNil(t, lossless.TraditionalNarrowband)

	f.Scorer.Codecs.Config.PacketLoss = 0.2
	lossy, err := f.Scorer.CodecCall(ctx, Options{Diagnostics: true})
	require.NoError(t, err)
	require.NotNil(t, lossy.TraditionalNarrowband)
	assert.Greater(t, lossy.TraditionalNarrowband.SubMetrics["packets_lost"], 0.0)
	assert.Less(t, lossy.TraditionalNarrowband.PESQScore, lossless.TraditionalNarrowband.PESQScore)
}

func TestCompareBands(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	resp, err := f.Scorer.CompareBands(ctx, Options{IncludeAudio: true})
	require.NoError(t, err)
	assert.Equal(t, CallTypeBandComparison, resp.Type)
	require.NotNil(t, resp.VoIPWideband)
	require.NotNil(t, resp.TraditionalNarrowband)
	assert.True(t, pesq.Range.Contains(resp.VoIPWideband.PESQScore))
	assert.True(t, pesq.Range.Contains(resp.TraditionalNarrowband.PESQScore))
	assert.Equal(t, 16000, resp.VoIPWideband.SampleRate)
	assert.Equal(t, 8000, resp.TraditionalNarrowband.SampleRate)
	assert.Empty(t, resp.Unavailable)

	data, err := base64.StdEncoding.DecodeString(resp.NBDegradedAudioB64)
	require.NoError(t, err)
	nb, _, err := wavfile.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, audio.SampleRate(8000), nb.SampleRate)
	assert.Equal(t, len(f.Speech.Samples)/2, nb.Frames())
	assert.NotEmpty(t, resp.WBDegradedAudioB64)
	assert.NotEmpty(t, resp.ReferenceAudioB64)

	again, err := f.Scorer.CompareBands(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, resp.VoIPWideband.PESQScore, again.VoIPWideband.PESQScore)
	assert.Empty(t, again.NBDegradedAudioB64)
}

func TestEmptyPayload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	empty := Upload{Filename: "empty.bin"}

	_, err := f.Scorer.ScoreAudio(ctx, empty, nil, Options{})
	assert.ErrorIs(t, err, failure.EmptyPayload)
	_, err = f.Scorer.ScoreSpeech(ctx, empty, Options{})
	assert.ErrorIs(t, err, failure.EmptyPayload)
	_, err = f.Scorer.DeviceCall(ctx, empty, Options{})
	assert.ErrorIs(t, err, failure.EmptyPayload)
	_, err = f.Scorer.ScoreImage(ctx, empty, Options{})
	assert.ErrorIs(t, err, failure.EmptyPayload)
	// checked before the missing reference video
	_, err = f.Scorer.ScoreVideo(ctx, empty, Options{})
	assert.ErrorIs(t, err, failure.EmptyPayload)
}

func TestMissingAssets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.Scorer.ScoreVideo(ctx, Upload{Filename: "clip.mp4", Data: []byte("data")}, Options{})
	assert.ErrorIs(t, err, failure.InternalProcessingError)

	rng := rand.New(rand.NewSource(1))
	img := image.NewGray(image.Rect(0, 0, 128, 128))
	for idx := range img.Pix {
		img.Pix[idx] = uint8(rng.Intn(256))
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	// PIQE needs no model, but the response needs all three scores
	_, err = f.Scorer.ScoreImage(ctx, Upload{Filename: "photo.png", Data: buf.Bytes()}, Options{})
	assert.ErrorIs(t, err, failure.InternalProcessingError)
	assert.Equal(t, "internal processing error", failure.PublicMessage(err))
}
