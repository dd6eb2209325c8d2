// Package httphandler serves the HTTP side of the cloud storage server: the metrics endpoint.
package httphandler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/telebroad/cloudstorage/metrics"
)

// Server is an http.Server that can be started with a startup window
type Server struct {
	*http.Server
	logger *slog.Logger
}

// NewMetricsServer returns a server for addr exposing the Prometheus metrics on /metrics
func NewMetricsServer(addr string) *Server {
	router := http.NewServeMux()
	router.Handle("GET /metrics", metrics.Handler())
	router.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "<html><body>")
		fmt.Fprintf(w, "<h1>Cloud storage server</h1>")
		fmt.Fprintf(w, `<h2>metrics are at <a href="/metrics">/metrics</a></h2>`)
		fmt.Fprintf(w, "</body></html>")
	})

	return &Server{
		Server: &http.Server{
			Addr:    addr,
			Handler: router,
		},
	}
}

// SetLogger sets the logger for the server.
func (s *Server) SetLogger(l *slog.Logger) {
	s.logger = l
}

// Logger returns the logger for the server.
func (s *Server) Logger() *slog.Logger {
	if s.logger == nil {
		s.logger = slog.Default().With("module", "http-server")
	}
	return s.logger
}

// TryListenAndServe starts the server in the background.
// It returns the error if the server fails within d, nil otherwise.
func (s *Server) TryListenAndServe(d time.Duration) error {
	errC := make(chan error, 1)
	go func() {
		err := s.Server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger().Error("HTTP server stopped", "error", err)
			errC <- err
		}
	}()

	select {
	case err := <-errC:
		return err
	case <-time.After(d):
		s.Logger().Info("Server started", "addr", s.Addr)
		return nil
	}
}
