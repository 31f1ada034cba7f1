// Package server exposes the scoring pipelines over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/google/uuid"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/qualityscore/pkg/config"
	"github.com/xaionaro-go/qualityscore/pkg/failure"
	"github.com/xaionaro-go/qualityscore/pkg/scoring"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	Config config.Config
	Scorer *scoring.Scorer
	mux    *http.ServeMux
}

func New(cfg config.Config, scorer *scoring.Scorer) *Server {
	s := &Server{
		Config: cfg,
		Scorer: scorer,
		mux:    http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("POST /vmaf/score", s.handleVMAF)
	s.mux.HandleFunc("GET /audio/peaq", s.handleReferenceAudio)
	s.mux.HandleFunc("GET /audio/pesq", s.handleReferenceSpeech)
	s.mux.HandleFunc("POST /peaq/score", s.handlePEAQ)
	s.mux.HandleFunc("POST /pesq/score", s.handlePESQ)
	s.mux.HandleFunc("GET /pesq/compare", s.handleCompareBands)
	s.mux.HandleFunc("POST /webrtc/device-call", s.handleDeviceCall)
	s.mux.HandleFunc("GET /webrtc/call", s.handleCodecCall)
	s.mux.HandleFunc("POST /iqa/score", s.handleIQA)
}

// Handler returns the routes wrapped into the per-request context setup.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		reqCtx := belt.WithField(r.Context(), "request_id", requestID)
		reqCtx, cancel := context.WithTimeout(reqCtx, s.Config.RequestTimeout)
		defer cancel()

		w.Header().Set("X-Request-Id", requestID)
		sw := &statusWriter{ResponseWriter: w}
		startedAt := time.Now()
		logger.Debugf(reqCtx, "%s %s", r.Method, r.URL.Path)
		s.mux.ServeHTTP(sw, r.WithContext(reqCtx))
		logger.Infof(reqCtx, "%s %s: %d (%v)", r.Method, r.URL.Path, sw.Status(), time.Since(startedAt).Round(time.Millisecond))
	})
}

// Serve accepts connections on listener until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Serve(ctx context.Context, listener net.Listener) (_err error) {
	logger.Tracef(ctx, "Serve(%s)", listener.Addr())
	defer func() { logger.Tracef(ctx, "/Serve(%s): %v", listener.Addr(), _err) }()

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	observability.Go(ctx, func() {
		errCh <- srv.Serve(listener)
	})
	logger.Infof(ctx, "listening at %s", listener.Addr())

	select {
	case err := <-errCh:
		return fmt.Errorf("the HTTP server stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("unable to shut down the HTTP server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

type errorResponse struct {
	Detail string `json:"detail"`
	Kind   string `json:"kind"`
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf(ctx, "unable to write the response: %v", err)
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	kind := failure.KindOf(err)
	status := kind.HTTPStatus()
	if status >= http.StatusInternalServerError {
		logger.Errorf(ctx, "request failed: %v", err)
	} else {
		logger.Debugf(ctx, "request rejected: %v", err)
	}
	writeJSON(ctx, w, status, errorResponse{
		Detail: failure.PublicMessage(err),
		Kind:   kind.String(),
	})
}

// options reads the query flags; includeAudio is the default of
// include_audio for endpoints whose clients play the artifacts back.
func options(r *http.Request, includeAudio bool) scoring.Options {
	return scoring.Options{
		Diagnostics:  queryFlag(r, "diagnostics", false),
		IncludeAudio: queryFlag(r, "include_audio", includeAudio),
	}
}

func queryFlag(r *http.Request, name string, def bool) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	if err != nil {
		return def
	}
	return v
}
