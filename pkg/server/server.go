// Package server exposes the HTTP surface of the call server: the
// place-a-call endpoint, the carrier webhook, and the media-stream
// websocket that hands each connection to a call session.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PPASSD/ai-call-server/pkg/carrier"
	"github.com/PPASSD/ai-call-server/pkg/config"
	"github.com/PPASSD/ai-call-server/pkg/reply"
	"github.com/PPASSD/ai-call-server/pkg/session"
	"github.com/PPASSD/ai-call-server/pkg/voice/stt"
	"github.com/PPASSD/ai-call-server/pkg/voice/tts"
)

// CallPlacer places outbound calls; *carrier.Client satisfies it.
type CallPlacer interface {
	PlaceCall(ctx context.Context, params carrier.PlaceCallParams) (*carrier.Call, error)
}

// Options are the collaborators a Server needs.
type Options struct {
	Config    config.Config
	Calls     CallPlacer
	STT       stt.Provider
	TTS       tts.Provider
	Generator reply.Generator
	Logger    *slog.Logger
	Metrics   *session.Metrics
}

// Server routes HTTP traffic and owns the live-call bookkeeping shared
// across connections.
type Server struct {
	cfg     config.Config
	log     *slog.Logger
	calls   CallPlacer
	stt     stt.Provider
	tts     tts.Provider
	gen     reply.Generator
	metrics *session.Metrics

	pending  *session.PendingCalls
	tracker  *session.Tracker
	upgrader websocket.Upgrader

	http *http.Server
}

// New builds a Server and its HTTP listener.
func New(opts Options) (*Server, error) {
	if opts.Calls == nil {
		return nil, fmt.Errorf("call placer is required")
	}
	if opts.STT == nil || opts.TTS == nil || opts.Generator == nil {
		return nil, fmt.Errorf("stt, tts and generator are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:     opts.Config,
		log:     logger,
		calls:   opts.Calls,
		stt:     opts.STT,
		tts:     opts.TTS,
		gen:     opts.Generator,
		metrics: opts.Metrics,
		pending: session.NewPendingCalls(opts.Config.PendingCallTTL),
		tracker: session.NewTracker(),
		upgrader: websocket.Upgrader{
			// The carrier connects server-to-server without an Origin
			// the browser check would recognize.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	s.http = &http.Server{
		Addr:              opts.Config.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: opts.Config.ReadHeaderTimeout,
	}
	return s, nil
}

// Router builds the chi mux.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/v1/calls", s.handlePlaceCall)
	r.Post("/twiml", s.handleTwiML)
	r.Get("/media", s.handleMedia)
	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

// ListenAndServe runs the HTTP listener until Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info("listening", "addr", s.cfg.Addr)
	return s.http.ListenAndServe()
}

// Shutdown stops accepting connections, cancels every live call, and
// waits for their sessions to drain or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)

	if n := s.tracker.CancelAll(); n > 0 {
		s.log.Info("cancelling live calls", "count", n)
	}
	if !s.tracker.Wait(ctx) {
		s.log.Warn("shutdown grace period expired with live calls",
			"remaining", s.tracker.Count())
	}
	return err
}

// ActiveCalls reports the number of live call sessions.
func (s *Server) ActiveCalls() int {
	return s.tracker.Count()
}
