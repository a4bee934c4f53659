// Package httpapi serves the health, metrics and status endpoints of the service.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-narrator/internal/core"
	"github.com/book-expert/voice-narrator/internal/ingest"
	"github.com/book-expert/voice-narrator/internal/orchestrator"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	contentTypeJSON   = "application/json"
	headerContentType = "Content-Type"
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
	requestTimeout    = 30 * time.Second
)

// SampleStatus reports the stored voice sample.
type SampleStatus interface {
	Status(ctx context.Context) (ingest.Status, error)
}

// Cascade describes the configured backends and the current billing period.
type Cascade interface {
	Backends() []orchestrator.BackendInfo
	Period() string
}

// QuotaReader reads a ledger row.
type QuotaReader interface {
	Entry(ctx context.Context, backend core.BackendID, period string) (core.QuotaEntry, error)
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Sample   *SampleResponse            `json:"sample"`
	Backends []orchestrator.BackendInfo `json:"backends"`
	Quota    []QuotaResponse            `json:"quota"`
}

// SampleResponse describes the stored sample.
type SampleResponse struct {
	Path            string    `json:"path"`
	SizeBytes       int64     `json:"size_bytes"`
	DurationSeconds float64   `json:"duration_seconds"`
	CreatedAt       time.Time `json:"created_at"`
}

// QuotaResponse is one quota-bound backend's usage in the current period.
type QuotaResponse struct {
	Backend   core.BackendID `json:"backend"`
	Period    string         `json:"period"`
	Consumed  int            `json:"consumed"`
	Limit     int            `json:"limit"`
	Remaining int            `json:"remaining"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server exposes the service state over HTTP.
type Server struct {
	samples  SampleStatus
	cascade  Cascade
	quota    QuotaReader
	gatherer prometheus.Gatherer
	log      *logger.Logger
}

// New creates the server.
func New(samples SampleStatus, cascade Cascade, quota QuotaReader, gatherer prometheus.Gatherer, log *logger.Logger) *Server {
	return &Server{samples: samples, cascade: cascade, quota: quota, gatherer: gatherer, log: log}
}

// Router builds the route table.
func (s *Server) Router() *chi.Mux {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(middleware.StripSlashes)
	router.Use(middleware.Timeout(requestTimeout))

	router.Get("/healthz", s.health)
	router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	router.Get("/status", s.status)

	return router
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		s.log.Info("Status API listening on %s", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		s.log.Info("Status API shutting down")

		return server.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sampleStatus, err := s.samples.Status(ctx)
	if err != nil {
		s.log.Error("Status request failed to read sample: %v", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})

		return
	}

	response := StatusResponse{
		Sample:   nil,
		Backends: s.cascade.Backends(),
		Quota:    []QuotaResponse{},
	}

	if sampleStatus.Exists {
		response.Sample = &SampleResponse{
			Path:            sampleStatus.Path,
			SizeBytes:       sampleStatus.SizeBytes,
			DurationSeconds: sampleStatus.DurationSeconds,
			CreatedAt:       sampleStatus.CreatedAt,
		}
	}

	period := s.cascade.Period()

	for _, backend := range response.Backends {
		if !backend.Capabilities.QuotaBound {
			continue
		}

		entry, entryErr := s.quota.Entry(ctx, backend.ID, period)
		if entryErr != nil {
			s.log.Error("Status request failed to read quota for %s: %v", backend.ID, entryErr)
			s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: entryErr.Error()})

			return
		}

		response.Quota = append(response.Quota, QuotaResponse{
			Backend:   entry.Backend,
			Period:    entry.Period,
			Consumed:  entry.Consumed,
			Limit:     entry.Limit,
			Remaining: entry.Remaining(),
		})
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set(headerContentType, contentTypeJSON)
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		s.log.Warn("Failed to encode response: %v", err)
	}
}
