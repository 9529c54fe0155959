package stage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/blob"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/discovery"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/metrics"
)

// Server serves the stage registry and output polling endpoints.
type Server struct {
	Stages Registry
	Blobs  blob.Store
	// Buckets maps public bucket names (bronze, silver, gold) to real ones.
	Buckets map[string]string
	// BaseCtx outlives requests and carries asynchronous stage runs.
	BaseCtx context.Context
	// AllowedOrigins enables CORS when non-empty.
	AllowedOrigins []string
}

// NewRouter wires the HTTP routes.
func NewRouter(s *Server) chi.Router {
	if s.BaseCtx == nil {
		s.BaseCtx = context.Background()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if len(s.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Post("/stages/{stage}", s.handleStage)
	r.Get("/outputs/discovery/latest", s.handleLatestDiscovery)
	r.Get("/outputs/{bucket}/exists", s.handleExists)
	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Warn("stage: encode response", zap.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "stages": s.Stages.Names()})
}

// handleStage runs a stage. With ?async=true the stage runs in the
// background and the caller polls for its outputs.
func (s *Server) handleStage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "stage")
	if _, ok := s.Stages[name]; !ok {
		writeJSON(w, http.StatusNotFound, ErrorBody{Error: "stage: unknown stage " + name})
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, ErrorBody{Error: "invalid request body"})
		return
	}

	if r.URL.Query().Get("async") == "true" {
		go func() {
			s.Stages.Invoke(s.BaseCtx, name, req)
		}()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "stage": name})
		return
	}

	status, body := s.Stages.Invoke(r.Context(), name, req)
	writeJSON(w, status, body)
}

func (s *Server) handleLatestDiscovery(w http.ResponseWriter, r *http.Request) {
	bucket, ok := s.Buckets["bronze"]
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorBody{Error: "bronze bucket not configured"})
		return
	}
	desc, key, err := discovery.LatestDescriptor(r.Context(), s.Blobs, bucket)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, ErrorBody{Error: "no discovery batch found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, ErrorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "descriptor": desc})
}

func (s *Server) handleExists(w http.ResponseWriter, r *http.Request) {
	bucket, ok := s.Buckets[chi.URLParam(r, "bucket")]
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorBody{Error: "unknown bucket"})
		return
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		writeJSON(w, http.StatusBadRequest, ErrorBody{Error: "key is required"})
		return
	}
	exists, err := s.Blobs.Exists(r.Context(), bucket, key)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bucket": chi.URLParam(r, "bucket"), "key": key, "exists": exists})
}
