// Package api exposes the read-only HTTP interface for the ingestion service.
// Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/alerts for recent alerts with filters.
//   - GET /v1/alerts/stats for windowed aggregates.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/whale-sentinel/internal/config"
	"github.com/JakeFAU/whale-sentinel/internal/metrics"
	"github.com/JakeFAU/whale-sentinel/internal/whale"
)

const (
	defaultAlertLimit = 100
	maxAlertLimit     = 1000
	queryTimeout      = 3 * time.Second
)

// Server wires HTTP handlers to the alert reader.
type Server struct {
	router chi.Router
	reader whale.AlertReader
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(reader whale.AlertReader, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		reader: reader,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "api")),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", s.listAlerts)
			r.Get("/stats", s.alertStats)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.reader == nil {
		writeError(w, http.StatusServiceUnavailable, "alert store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// listAlerts handles GET /v1/alerts?symbol=&blockchain=&min_amount_usd=&hours=&limit=.
// It returns {"alerts": [...]} on success, 400 for invalid query parameters,
// or 500 when the store call fails.
func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAlertFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	alerts, err := s.reader.ListRecentAlerts(ctx, filter)
	if err != nil {
		s.logger.Error("list alerts failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": toAlertDTOs(alerts)})
}

// alertStats handles GET /v1/alerts/stats?group_by=&hours=. It returns
// {"stats": [...]} grouped by symbol, blockchain, or transaction_type.
func (s *Server) alertStats(w http.ResponseWriter, r *http.Request) {
	groupBy := strings.TrimSpace(r.URL.Query().Get("group_by"))
	if groupBy == "" {
		groupBy = "symbol"
	}

	hours, err := parsePositiveInt(r, "hours", 24)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	stats, err := s.reader.AlertStats(ctx, groupBy, time.Duration(hours)*time.Hour)
	if err != nil {
		if strings.Contains(err.Error(), "invalid group_by") {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("alert stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": toStatDTOs(stats)})
}

func parseAlertFilter(r *http.Request) (whale.AlertFilter, error) {
	filter := whale.AlertFilter{
		Symbol:     strings.TrimSpace(r.URL.Query().Get("symbol")),
		Blockchain: strings.TrimSpace(r.URL.Query().Get("blockchain")),
	}

	if raw := r.URL.Query().Get("min_amount_usd"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			return whale.AlertFilter{}, errors.New("min_amount_usd must be a non-negative number")
		}
		filter.MinAmountUSD = v
	}

	hours, err := parsePositiveInt(r, "hours", 24)
	if err != nil {
		return whale.AlertFilter{}, err
	}
	filter.Since = time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	limit, err := parsePositiveInt(r, "limit", defaultAlertLimit)
	if err != nil {
		return whale.AlertFilter{}, err
	}
	if limit > maxAlertLimit {
		limit = maxAlertLimit
	}
	filter.Limit = limit

	return filter, nil
}

func parsePositiveInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, errors.New(name + " must be a positive integer")
	}
	return v, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
