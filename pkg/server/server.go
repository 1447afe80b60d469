package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/elonfeng/streamrank/internal/logging"
	"github.com/elonfeng/streamrank/pkg/livestream"
	"github.com/elonfeng/streamrank/pkg/provider"
	"github.com/elonfeng/streamrank/pkg/trend"
)

// Store is the persistence the HTTP API reads and writes directly.
type Store interface {
	TopTrending(ctx context.Context, limit int) ([]trend.Content, error)
	SaveWeights(ctx context.Context, w trend.Weights, reason, updatedBy string) (*trend.Config, error)
	SaveThresholds(ctx context.Context, th trend.Thresholds, reason, updatedBy string) (*trend.Config, error)
	History(ctx context.Context, limit int) ([]trend.HistoryEntry, error)
	ListProviders(ctx context.Context) ([]provider.Provider, error)
	ResetMonthlyUsage(ctx context.Context, name string) (int64, error)
}

// Deps wires the server to the rest of the application.
type Deps struct {
	Store   Store
	Engine  *trend.Engine
	Checker *provider.Checker
	Streams *livestream.Service
}

// Server provides the HTTP API.
type Server struct {
	store   Store
	engine  *trend.Engine
	checker *provider.Checker
	streams *livestream.Service
	port    int
	log     zerolog.Logger
}

// New creates a new HTTP server.
func New(d Deps, port int) *Server {
	if port == 0 {
		port = 8080
	}
	return &Server{
		store:   d.Store,
		engine:  d.Engine,
		checker: d.Checker,
		streams: d.Streams,
		port:    port,
		log:     logging.Component("http"),
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/trending", func(r chi.Router) {
		r.Get("/", s.handleTopTrending)
		r.Get("/config", s.handleGetConfig)
		r.Put("/config/weights", s.handleUpdateWeights)
		r.Put("/config/thresholds", s.handleUpdateThresholds)
		r.Get("/config/history", s.handleConfigHistory)
		r.Post("/batch-update", s.handleBatchUpdate)
		r.Post("/{contentId}/calculate", s.handleCalculate)
	})

	r.Route("/api/streaming/providers", func(r chi.Router) {
		r.Get("/", s.handleListProviders)
		r.Get("/best", s.handleBestProvider)
		r.Post("/health-check-all", s.handleHealthCheckAll)
		r.Post("/{name}/reset-usage", s.handleResetUsage)
	})

	r.Route("/api/livestreams", func(r chi.Router) {
		r.Post("/", s.handleStartStream)
		r.Post("/{id}/end", s.handleEndStream)
	})

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", srv.Addr).Msg("streamrank server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
