package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/snarg/meeting-copilot/internal/config"
	"github.com/snarg/meeting-copilot/internal/metrics"
)

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// ServerOptions are the collaborators behind the HTTP surface. MQTT and Live
// may be nil.
type ServerOptions struct {
	Config    *config.Config
	DB        Pinger
	MQTT      ConnStatus
	Live      LiveDataSource
	Archive   ArchiveReader
	Asker     Asker
	Version   string
	StartTime time.Time
	Log       zerolog.Logger
}

// NewServer builds the router.
func NewServer(opts ServerOptions) *Server {
	log := opts.Log.With().Str("component", "http").Logger()
	return &Server{
		http: &http.Server{
			Addr:         opts.Config.HTTPAddr,
			Handler:      NewRouter(opts),
			ReadTimeout:  opts.Config.ReadTimeout,
			WriteTimeout: opts.Config.WriteTimeout,
			IdleTimeout:  opts.Config.IdleTimeout,
		},
		log: log,
	}
}

// NewRouter returns the HTTP handler tree.
func NewRouter(opts ServerOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Logger(opts.Log.With().Str("component", "http").Logger()))
	r.Use(Recoverer)
	r.Use(metrics.InstrumentHandler)
	r.Use(CORS)

	// Health and metrics: no auth
	health := NewHealthHandler(opts.DB, opts.MQTT, opts.Live, opts.Version, opts.StartTime)
	r.Get("/api/v1/health", health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuth(opts.Config.AuthToken))
		NewAnalysesHandler(opts.Archive).Routes(r)
		NewAskHandler(opts.Asker).Routes(r)
		NewEventsHandler(opts.Live).Routes(r)
	})
	return r
}

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
