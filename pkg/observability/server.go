package observability

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"time"
)

// DefaultSampleInterval is how often the server samples runtime gauges.
const DefaultSampleInterval = 15 * time.Second

// Server exposes health probes and Prometheus metrics on a side port,
// separate from the API listener.
type Server struct {
	httpServer     *http.Server
	port           int
	sampleInterval time.Duration
}

// NewServer creates a side server for the given port.
func NewServer(port int) *Server {
	return &Server{
		port:           port,
		sampleInterval: DefaultSampleInterval,
	}
}

// Handler returns the side server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler())
	mux.HandleFunc("/health/live", LivenessHandler())
	mux.HandleFunc("/health/ready", ReadinessHandler())
	mux.Handle("/metrics", MetricsHandler())
	return mux
}

// Start serves until Shutdown is called or ctx is done. Runtime gauges are
// sampled while the server runs.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.sample(ctx)

	log.Printf("[observability] health and metrics listening on :%d", s.port)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) sample(ctx context.Context) {
	SetGoroutines(runtime.NumGoroutine())
	ticker := time.NewTicker(s.sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			SetGoroutines(runtime.NumGoroutine())
		}
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
