package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/snarg/transcribe-api/internal/config"
	"github.com/snarg/transcribe-api/internal/metrics"
)

// ServerOptions carries the handlers' collaborators.
type ServerOptions struct {
	Tokens      TokenLookup
	Upload      *UploadHandler
	Transcripts *TranscriptionsHandler
	Health      http.Handler
	OpenAPISpec []byte
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(cfg *config.Config, opts ServerOptions, log zerolog.Logger) (*Server, error) {
	limiter, err := RateLimit(RateLimitOptions{
		Requests: cfg.RateLimitRequests,
		Window:   cfg.RateLimitWindow,
		RedisURL: cfg.RedisURL,
	}, log)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(Recoverer)
	if cfg.MetricsEnabled {
		r.Use(metrics.InstrumentHandler)
	}
	r.Use(CORSWithOrigins(cfg.CORSOrigins))

	// Health, metrics and API description: no auth
	r.Get("/health", opts.Health.ServeHTTP)
	r.Get("/api/v1/health", opts.Health.ServeHTTP)
	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if len(opts.OpenAPISpec) > 0 {
		r.Get("/api/v1/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/yaml")
			w.Write(opts.OpenAPISpec)
		})
	}

	// Authenticated, rate-limited routes
	r.Group(func(r chi.Router) {
		r.Use(limiter)
		r.Use(BearerAuth(opts.Tokens))

		r.Post("/transcribe", opts.Upload.Upload)
		r.Get("/transcriptions/{id}", opts.Transcripts.GetTranscription)

		r.Post("/api/v1/transcribe", opts.Upload.Upload)
		r.Get("/api/v1/transcriptions", opts.Transcripts.ListTranscriptions)
		r.Get("/api/v1/transcriptions/{id}", opts.Transcripts.GetTranscription)
	})

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}, nil
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
