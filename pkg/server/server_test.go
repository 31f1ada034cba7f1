package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/qualityscore/internal/testsignal"
	"github.com/xaionaro-go/qualityscore/pkg/assets"
	"github.com/xaionaro-go/qualityscore/pkg/audio/wavfile"
	"github.com/xaionaro-go/qualityscore/pkg/config"
	"github.com/xaionaro-go/qualityscore/pkg/ingest"
	"github.com/xaionaro-go/qualityscore/pkg/scoring"
)

type testServer struct {
	*httptest.Server
	API          *Server
	ReferenceWAV []byte
}

func newTestServer(t *testing.T, modify func(*config.Config)) *testServer {
	ctx := context.Background()
	cfg := config.Default()
	cfg.TempDir = t.TempDir()
	cfg.Assets.Dir = t.TempDir()
	if modify != nil {
		modify(&cfg)
	}

	ref, err := wavfile.EncodeBytes(testsignal.Speechlike(16000, 3, 1).AsBuffer())
	require.NoError(t, err)
	for _, name := range []string{cfg.Assets.ReferenceAudio, cfg.Assets.ReferenceSpeech} {
		require.NoError(t, os.WriteFile(filepath.Join(cfg.Assets.Dir, name), ref, 0o600))
	}

	src, err := assets.NewSource(cfg.Assets)
	require.NoError(t, err)
	pool, err := assets.Load(ctx, cfg.Assets, src, ingest.New(cfg.Ingest, nil), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	scorer, err := scoring.New(ctx, cfg, pool, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = scorer.Close() })

	api := New(cfg, scorer)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, API: api, ReferenceWAV: ref}
}

type upload struct {
	field    string
	filename string
	data     []byte
}

func (s *testServer) post(t *testing.T, path string, uploads ...upload) (*http.Response, []byte) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("comment", "ignored"))
	for _, u := range uploads {
		fw, err := mw.CreateFormFile(u.field, u.filename)
		require.NoError(t, err)
		_, err = fw.Write(u.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	resp, err := s.Client().Post(s.URL+path, mw.FormDataContentType(), &body)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (s *testServer) get(t *testing.T, path string) (*http.Response, []byte) {
	resp, err := s.Client().Get(s.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decodeError(t *testing.T, data []byte) errorResponse {
	var e errorResponse
	require.NoError(t, json.Unmarshal(data, &e))
	return e
}

func TestRoot(t *testing.T) {
	s := newTestServer(t, nil)
	resp, data := s.get(t, "/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"message":"Server is Up!"}`, string(data))
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	resp, _ = s.get(t, "/nothing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = s.get(t, "/peaq/score")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestEmptyPayload(t *testing.T) {
	s := newTestServer(t, nil)
	for path, field := range map[string]string{
		"/vmaf/score":         fieldDistortedVideo,
		"/peaq/score":         fieldDegradedAudio,
		"/pesq/score":         fieldDegradedAudio,
		"/webrtc/device-call": fieldRecordedAudio,
		"/iqa/score":          fieldImage,
	} {
		t.Run(path, func(t *testing.T) {
			resp, data := s.post(t, path, upload{field: field, filename: "empty.bin"})
			require.Equal(t, http.StatusBadRequest, resp.StatusCode, string(data))
			assert.Equal(t, "EmptyPayload", decodeError(t, data).Kind)

			resp, data = s.post(t, path)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode, string(data))
			assert.Equal(t, "EmptyPayload", decodeError(t, data).Kind)
		})
	}
}

func TestInvalidFormat(t *testing.T) {
	s := newTestServer(t, nil)
	resp, data := s.post(t, "/peaq/score", upload{field: fieldDegradedAudio, filename: "notes.txt", data: []byte("just some text, not audio")})
	require.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode, string(data))
	assert.Equal(t, "InvalidFormat", decodeError(t, data).Kind)

	// audio where an image is expected
	resp, data = s.post(t, "/iqa/score", upload{field: fieldImage, filename: "a.wav", data: s.ReferenceWAV})
	require.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode, string(data))
}

func TestUploadLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.MaxUploadBytes = 1024
	})
	resp, data := s.post(t, "/peaq/score", upload{field: fieldDegradedAudio, filename: "a.wav", data: s.ReferenceWAV})
	require.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode, string(data))
	assert.Contains(t, decodeError(t, data).Detail, "1024")
}

func TestReferenceAssets(t *testing.T) {
	s := newTestServer(t, nil)
	for _, path := range []string{"/audio/peaq", "/audio/pesq"} {
		resp, data := s.get(t, path)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "audio/wav", resp.Header.Get("Content-Type"))
		assert.Equal(t, s.ReferenceWAV, data)
		assert.Equal(t, `"`+assets.Version(s.ReferenceWAV)+`"`, resp.Header.Get("ETag"))
	}
}

func TestPEAQScore(t *testing.T) {
	s := newTestServer(t, nil)
	resp, data := s.post(t, "/peaq/score?diagnostics=true", upload{field: fieldDegradedAudio, filename: "a.wav", data: s.ReferenceWAV})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var result scoring.AudioResponse
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, 0.0, result.ODGScore)
	require.NotNil(t, result.Details.Alignment)
	assert.Equal(t, 0, result.Details.Alignment.Samples)
	assert.NotContains(t, string(data), "subtracted_audio_b64")
}

func TestMissingReferenceVideo(t *testing.T) {
	s := newTestServer(t, nil)
	resp, data := s.post(t, "/vmaf/score", upload{field: fieldDistortedVideo, filename: "clip.mp4", data: []byte("not empty")})
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	e := decodeError(t, data)
	assert.Equal(t, "InternalProcessingError", e.Kind)
	assert.Equal(t, "internal processing error", e.Detail)
}

func TestCodecCall(t *testing.T) {
	s := newTestServer(t, nil)
	resp, data := s.get(t, "/webrtc/call?include_audio=1")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var result scoring.CallResponse
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, scoring.CallTypeCodec, result.Type)
	require.NotNil(t, result.TraditionalNarrowband)
	assert.Nil(t, result.VoIPWideband)
	assert.Contains(t, result.Unavailable, "voip_wideband")
	assert.NotEmpty(t, result.ReferenceAudioB64)
	assert.NotEmpty(t, result.NBDegradedAudioB64)
	assert.Nil(t, result.Details)
}

func TestCodecCall_AudioByDefault(t *testing.T) {
	s := newTestServer(t, nil)
	resp, data := s.get(t, "/webrtc/call")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var result scoring.CallResponse
	require.NoError(t, json.Unmarshal(data, &result))
	assert.NotEmpty(t, result.ReferenceAudioB64)

	resp, data = s.get(t, "/webrtc/call?include_audio=false")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.NotContains(t, string(data), "reference_audio_b64")
}

func TestDeviceCall_AudioByDefault(t *testing.T) {
	s := newTestServer(t, nil)
	resp, data := s.post(t, "/webrtc/device-call", upload{field: fieldRecordedAudio, filename: "capture.wav", data: s.ReferenceWAV})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var result scoring.CallResponse
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, scoring.CallTypeDevice, result.Type)
	assert.NotEmpty(t, result.ReferenceAudioB64)
	assert.NotEmpty(t, result.RecordedAudioB64)
}

func TestCompareBands(t *testing.T) {
	s := newTestServer(t, nil)
	resp, data := s.get(t, "/pesq/compare")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var result scoring.CallResponse
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, scoring.CallTypeBandComparison, result.Type)
	require.NotNil(t, result.VoIPWideband)
	require.NotNil(t, result.TraditionalNarrowband)
	assert.Equal(t, 8000, result.TraditionalNarrowband.SampleRate)
	assert.NotEmpty(t, result.NBDegradedAudioB64)

	resp, _ = s.post(t, "/pesq/compare")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServe(t *testing.T) {
	s := newTestServer(t, nil)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.API.Serve(ctx, listener) }()

	resp, err := http.Get("http://" + listener.Addr().String() + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("the server did not shut down")
	}
}

func TestQueryFlag(t *testing.T) {
	for query, want := range map[string]bool{
		"":                   false,
		"?diagnostics=true":  true,
		"?diagnostics=1":     true,
		"?diagnostics=false": false,
		"?diagnostics=maybe": false,
	} {
		r := httptest.NewRequest(http.MethodGet, "/"+query, nil)
		assert.Equal(t, want, options(r, false).Diagnostics, query)
	}

	for query, want := range map[string]bool{
		"":                     true,
		"?include_audio=false": false,
		"?include_audio=0":     false,
		"?include_audio=maybe": true,
	} {
		r := httptest.NewRequest(http.MethodGet, "/"+query, nil)
		assert.Equal(t, want, options(r, true).IncludeAudio, query)
	}
}
