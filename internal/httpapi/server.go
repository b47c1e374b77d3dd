package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"recon3d/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Reconstruct(ctx context.Context, req types.ReconstructRequest) (types.ReconstructResponse, error)
	Device() types.DeviceResponse
	Ready() bool
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}

	r.Get("/device", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Device())
	})

	r.Post("/reconstruct", func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req types.ReconstructRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.SourceDir) == "" {
			writeJSONError(w, http.StatusBadRequest, "source_dir is required")
			return
		}

		lvl := requestLogLevel(r)
		start := time.Now()
		if lvl >= LevelInfo {
			withRequestID(zlog.Info(), r).Str("source_dir", req.SourceDir).Bool("track", req.Track).Msg("reconstruct start")
		}
		ctx, cancel := runContext(r)
		defer cancel()
		resp, err := svc.Reconstruct(ctx, req)
		if err != nil {
			if abandoned(r) {
				observeReconstruct(outcomeAbandoned, time.Since(start), 0)
				return
			}
			status := statusFor(err)
			observeReconstruct(outcomeFor(status), time.Since(start), 0)
			writeJSONError(w, status, err.Error())
			if lvl >= LevelError {
				withRequestID(zlog.Info(), r).Int("status", status).Dur("dur", time.Since(start)).Err(err).Msg("reconstruct end")
			}
			return
		}
		observeReconstruct(outcomeOK, time.Since(start), resp.Points)
		writeJSON(w, http.StatusOK, resp)
		if lvl >= LevelInfo {
			withRequestID(zlog.Info(), r).Int("status", http.StatusOK).Int("points", resp.Points).Dur("dur", time.Since(start)).Msg("reconstruct end")
		}
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
