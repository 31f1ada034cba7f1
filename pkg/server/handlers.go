package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/qualityscore/pkg/assets"
	"github.com/xaionaro-go/qualityscore/pkg/failure"
	"github.com/xaionaro-go/qualityscore/pkg/ingest"
	"github.com/xaionaro-go/qualityscore/pkg/scoring"
)

const (
	fieldDistortedVideo = "distorted_video"
	fieldDegradedAudio  = "degraded_audio"
	fieldRoomNoise      = "room_noise"
	fieldRecordedAudio  = "recorded_audio"
	fieldImage          = "image"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"message": "Server is Up!"})
}

func (s *Server) handleVMAF(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	form, err := s.readForm(ctx, r, fieldDistortedVideo)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	resp, err := s.Scorer.ScoreVideo(ctx, form.required(fieldDistortedVideo), options(r, false))
	s.respond(ctx, w, resp, err)
}

func (s *Server) handlePEAQ(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	form, err := s.readForm(ctx, r, fieldDegradedAudio, fieldRoomNoise)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	resp, err := s.Scorer.ScoreAudio(ctx, form.required(fieldDegradedAudio), form.optional(fieldRoomNoise), options(r, false))
	s.respond(ctx, w, resp, err)
}

func (s *Server) handlePESQ(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	form, err := s.readForm(ctx, r, fieldDegradedAudio)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	resp, err := s.Scorer.ScoreSpeech(ctx, form.required(fieldDegradedAudio), options(r, false))
	s.respond(ctx, w, resp, err)
}

func (s *Server) handleDeviceCall(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	form, err := s.readForm(ctx, r, fieldRecordedAudio)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	resp, err := s.Scorer.DeviceCall(ctx, form.required(fieldRecordedAudio), options(r, true))
	s.respond(ctx, w, resp, err)
}

func (s *Server) handleCodecCall(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp, err := s.Scorer.CodecCall(ctx, options(r, true))
	s.respond(ctx, w, resp, err)
}

func (s *Server) handleCompareBands(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp, err := s.Scorer.CompareBands(ctx, options(r, true))
	s.respond(ctx, w, resp, err)
}

func (s *Server) handleIQA(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	form, err := s.readForm(ctx, r, fieldImage)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	resp, err := s.Scorer.ScoreImage(ctx, form.required(fieldImage), options(r, false))
	s.respond(ctx, w, resp, err)
}

func (s *Server) handleReferenceAudio(w http.ResponseWriter, r *http.Request) {
	s.serveReference(w, r, s.Scorer.Assets.ReferenceAudio, "audio")
}

func (s *Server) handleReferenceSpeech(w http.ResponseWriter, r *http.Request) {
	s.serveReference(w, r, s.Scorer.Assets.ReferenceSpeech, "speech")
}

func (s *Server) serveReference(w http.ResponseWriter, r *http.Request, a *assets.Asset, what string) {
	ctx := r.Context()
	a, err := assets.Require(a, what)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.Name))
	w.Header().Set("ETag", `"`+a.Version+`"`)
	if _, err := w.Write(a.Sample.Bytes()); err != nil {
		logger.Debugf(ctx, "unable to send the reference %s: %v", a, err)
	}
}

// respond writes resp, or the error if err is not nil. A deadline hit
// while processing is reported as UpstreamTimeout.
func (s *Server) respond(ctx context.Context, w http.ResponseWriter, resp any, err error) {
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && failure.KindOf(err) == failure.KindInternalProcessingError {
			err = failure.Wrap(failure.KindUpstreamTimeout, err, "processing did not finish within %v", s.Config.RequestTimeout)
		}
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, resp)
}

type form map[string]scoring.Upload

// required returns the upload of the field; a missing field is an empty
// upload, which the pipelines reject with EmptyPayload.
func (f form) required(field string) scoring.Upload {
	return f[field]
}

func (f form) optional(field string) *scoring.Upload {
	u, ok := f[field]
	if !ok || len(u.Data) == 0 {
		return nil
	}
	return &u
}

// readForm reads the multipart file fields named by fields; other parts
// are skipped. The uploads together may not exceed MaxUploadBytes.
func (s *Server) readForm(ctx context.Context, r *http.Request, fields ...string) (_ form, _err error) {
	logger.Tracef(ctx, "readForm")
	defer func() { logger.Tracef(ctx, "/readForm: %v", _err) }()

	result := form{}
	reader, err := r.MultipartReader()
	if err != nil {
		logger.Debugf(ctx, "not a multipart request: %v", err)
		return result, nil
	}

	wanted := map[string]bool{}
	for _, field := range fields {
		wanted[field] = true
	}
	budget := s.Config.MaxUploadBytes
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return result, nil
		}
		if err != nil {
			return nil, failure.Wrap(failure.KindInvalidFormat, err, "malformed multipart body")
		}
		if !wanted[part.FormName()] {
			if _, err := io.Copy(io.Discard, part); err != nil {
				return nil, failure.Wrap(failure.KindInvalidFormat, err, "malformed multipart body")
			}
			continue
		}
		data, err := readPart(ctx, part, budget)
		if err != nil {
			return nil, err
		}
		budget -= int64(len(data))
		result[part.FormName()] = scoring.Upload{
			Filename: part.FileName(),
			Data:     data,
		}
	}
}

func readPart(ctx context.Context, part *multipart.Part, budget int64) ([]byte, error) {
	defer part.Close()
	data, err := ingest.ReadUpload(ctx, part, budget)
	if err != nil {
		var f *failure.Error
		if errors.As(err, &f) {
			return nil, err
		}
		return nil, failure.Wrap(failure.KindInvalidFormat, err, "unable to read the field '%s'", part.FormName())
	}
	return data, nil
}
