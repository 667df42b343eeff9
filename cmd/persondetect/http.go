package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/auth"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/health"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/middleware"
	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/stream"
)

// routes holds every HTTP surface of the binary.
type routes struct {
	health  *health.Handler
	stream  *stream.Server
	api     *api
	auth    *auth.Authenticator
	metrics http.Handler
	ws      http.Handler
}

// handler mounts the public routes directly and everything else behind the
// auth middleware.
func (r routes) handler() http.Handler {
	protected := http.NewServeMux()
	r.stream.Register(protected)
	protected.HandleFunc("GET /api/stats", r.api.handleStats)
	protected.HandleFunc("GET /api/alerts", r.api.handleAlerts)
	if r.ws != nil {
		protected.Handle("GET /ws", r.ws)
	}

	mux := http.NewServeMux()
	r.health.Register(mux)
	if r.metrics != nil {
		mux.Handle("GET /metrics", r.metrics)
	}
	mux.HandleFunc("POST /api/auth/login", r.api.handleLogin)
	mux.Handle("/", middleware.AuthMiddleware(r.auth)(protected))
	return mux
}

// serverError is a listener failure reported on the error channel.
type serverError struct {
	err error
}

func (e *serverError) Error() string { return "http server: " + e.err.Error() }

func (e *serverError) Unwrap() error { return e.err }

// handleHTTPServer starts the server and shuts it down when ctx is done.
func handleHTTPServer(ctx context.Context, addr string, handler http.Handler, wg *sync.WaitGroup, errc chan error, logger *slog.Logger) {
	logger = logger.With("component", "http")
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 60 * time.Second}

	wg.Add(1)
	go func() {
		defer wg.Done()

		// Start HTTP server in a separate goroutine.
		go func() {
			logger.Info("HTTP server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- &serverError{err: err}
			}
		}()

		<-ctx.Done()
		logger.Info("shutting down HTTP server", "addr", addr)

		// Shutdown gracefully with a 30s timeout.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("failed to shutdown", "error", err)
		}
	}()
}
