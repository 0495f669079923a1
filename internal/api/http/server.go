// Package http exposes the local status API: health, metrics, the latest
// clustering labels and an SSE re-broadcast of passes.
package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"outlier-monitor/internal/detect"
	"outlier-monitor/internal/eventing"
)

// Server holds the status API state.
type Server struct {
	broker *SSEBroker
	logger *log.Logger

	mu     sync.RWMutex
	latest *detect.WindowClustered
}

// NewServer constructs a status server.
func NewServer(logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		broker: NewSSEBroker(),
		logger: logger,
	}
}

// HandlePass is an event bus handler for clustering passes.
func (s *Server) HandlePass(_ context.Context, event any) error {
	pass, ok := event.(detect.WindowClustered)
	if !ok {
		return eventing.ErrInvalidEventType
	}
	s.mu.Lock()
	s.latest = &pass
	s.mu.Unlock()
	s.broker.Broadcast(pass)
	return nil
}

// Handler returns the status API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/v1/outliers", s.handleOutliers)
	mux.Handle("/api/v1/outliers/stream", NewStreamHandler(s.broker))
	return loggingMiddleware(mux, s.logger)
}

// Start serves the status API on addr in a background goroutine.
func (s *Server) Start(addr string) {
	if addr == "" {
		return
	}
	s.logger.Printf("status api listening on %s", addr)
	go func() {
		if err := http.ListenAndServe(addr, s.Handler()); err != nil {
			s.logger.Printf("status api error: %v", err)
		}
	}()
}

func (s *Server) handleOutliers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.mu.RLock()
	latest := s.latest
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if latest == nil {
		_, _ = w.Write([]byte("{}"))
		return
	}
	_ = json.NewEncoder(w).Encode(latest)
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps SSE streaming working through the logging wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
