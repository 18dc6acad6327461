// Package server exposes consultations over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/randalmurphal/medconsult/pkg/consult"
	"github.com/randalmurphal/medconsult/pkg/consult/logging"
	"github.com/randalmurphal/medconsult/pkg/consult/metrics"
	"github.com/randalmurphal/medconsult/pkg/flowgraph"
)

// Defaults.
const (
	DefaultShutdownTimeout = 10 * time.Second
	DefaultMaxAudioBytes   = 25 << 20
)

// Engine is the consultation surface the server drives.
type Engine interface {
	Run(ctx context.Context, sessionID, userText string, skipToAdvice bool) iter.Seq2[flowgraph.Event[consult.Update], error]
	ResumeStream(ctx context.Context, sessionID, edited string) iter.Seq2[flowgraph.Event[consult.Update], error]
	GetQuestionCount(ctx context.Context, sessionID string) int
	PendingReview(ctx context.Context, sessionID string) (consult.ReviewRequest, bool, error)
	DeleteSession(ctx context.Context, sessionID string) error
	Welcome() string
}

// Transcriber turns audio into text. An empty result means nothing usable
// was heard.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) string
}

// Synthesizer turns text into audio. A nil result means no audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) []byte
}

// Server serves the consultation API.
type Server struct {
	engine          Engine
	router          *mux.Router
	logger          zerolog.Logger
	slog            *slog.Logger
	metrics         *metrics.Metrics
	gatherer        prometheus.Gatherer
	transcriber     Transcriber
	synthesizer     Synthesizer
	audioFormat     string
	maxAudioBytes   int64
	shutdownTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request and error logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics records HTTP metrics in m and serves gatherer on /metrics.
func WithMetrics(m *metrics.Metrics, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = gatherer
	}
}

// WithSpeech enables /transcribe and /synthesize. format is the encoding
// the synthesizer produces (mp3, wav, ...).
func WithSpeech(t Transcriber, sy Synthesizer, format string) Option {
	return func(s *Server) {
		s.transcriber = t
		s.synthesizer = sy
		s.audioFormat = format
	}
}

// WithMaxAudioBytes caps uploaded audio.
func WithMaxAudioBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxAudioBytes = n
		}
	}
}

// WithShutdownTimeout bounds graceful shutdown in ListenAndServe.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// New builds a server for engine.
func New(engine Engine, opts ...Option) *Server {
	s := &Server{
		engine:          engine,
		router:          mux.NewRouter(),
		logger:          zerolog.Nop(),
		maxAudioBytes:   DefaultMaxAudioBytes,
		shutdownTimeout: DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.slog = slog.New(logging.NewSlogHandler(s.logger))
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	sessions := r.PathPrefix("/sessions").Subrouter()
	sessions.HandleFunc("", s.handleCreateSession).Methods(http.MethodPost)
	sessions.HandleFunc("/{id}", s.handleDeleteSession).Methods(http.MethodDelete)
	sessions.HandleFunc("/{id}/messages", s.handleMessage).Methods(http.MethodPost)
	sessions.HandleFunc("/{id}/resume", s.handleResume).Methods(http.MethodPost)
	sessions.HandleFunc("/{id}/review", s.handleReview).Methods(http.MethodGet)
	sessions.HandleFunc("/{id}/question-count", s.handleQuestionCount).Methods(http.MethodGet)
	sessions.HandleFunc("/{id}/ws", s.handleWebSocket).Methods(http.MethodGet)

	r.HandleFunc("/transcribe", s.handleTranscribe).Methods(http.MethodPost)
	r.HandleFunc("/synthesize", s.handleSynthesize).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		sendError(w, http.StatusNotFound, ErrCodeNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		sendError(w, http.StatusMethodNotAllowed, ErrCodeInvalidRequest, "method not allowed")
	})
}

// Handler returns the root handler with recovery and request logging.
func (s *Server) Handler() http.Handler {
	return recovery(s.logger, requestLogging(s.logger, s.router))
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		// No write timeout: turns stream for as long as the models take.
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("starting server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
