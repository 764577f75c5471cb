// Package api is the local admin HTTP surface.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/prudhvinik1/syncbridge/internal/logger"
	"github.com/prudhvinik1/syncbridge/internal/models"
	"github.com/prudhvinik1/syncbridge/internal/orchestrator"
	"github.com/prudhvinik1/syncbridge/internal/repositories"
	"github.com/prudhvinik1/syncbridge/internal/services"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

type HealthReporter interface {
	Health() orchestrator.Health
}

type Handlers struct {
	health     HealthReporter
	dispatcher *services.Dispatcher
	audit      repositories.SyncEventRepository
	log        *zap.Logger
}

// NewRouter builds the router. A nil gatherer serves the default registry.
func NewRouter(health HealthReporter, dispatcher *services.Dispatcher, audit repositories.SyncEventRepository, gatherer prometheus.Gatherer) http.Handler {
	h := &Handlers{health: health, dispatcher: dispatcher, audit: audit, log: logger.Named("api")}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.requestLog)

	r.Get("/health", h.Health)
	r.Get("/sync/status", h.SyncStatus)
	r.Post("/sync/{domain}/reconcile", h.Reconcile)
	r.Get("/sync/{domain}/events", h.RecentEvents)
	r.Get("/sync/events/{eventId}", h.EventHistory)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

// Health answers 503 while the orchestrator is not running so health checks fail,
// but always renders the body.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := h.health.Health()
	status := http.StatusOK
	if !health.IsRunning {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

type syncStatusResponse struct {
	Domains   []models.SyncStatus `json:"domains"`
	Timestamp time.Time           `json:"timestamp"`
}

func (h *Handlers) SyncStatus(w http.ResponseWriter, r *http.Request) {
	syncers := h.dispatcher.Syncers()
	resp := syncStatusResponse{Domains: make([]models.SyncStatus, 0, len(syncers)), Timestamp: time.Now().UTC()}
	for _, s := range syncers {
		resp.Domains = append(resp.Domains, s.GetSyncStatus(r.Context()))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) Reconcile(w http.ResponseWriter, r *http.Request) {
	domain := models.Domain(chi.URLParam(r, "domain"))
	syncer, ok := h.dispatcher.Syncer(domain)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown domain")
		return
	}

	report, err := syncer.ReconcileAll(r.Context())
	switch {
	case err != nil:
		h.log.Warn("manual reconcile failed", logger.Domain(domain), logger.Err(err))
		writeError(w, http.StatusBadGateway, err.Error())
	case report.Skipped:
		writeJSON(w, http.StatusConflict, report)
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

type eventsResponse struct {
	Domain models.Domain         `json:"domain,omitempty"`
	Events []*models.AuditRecord `json:"events"`
}

// EventHistory returns every audit record of one event id, oldest first.
func (h *Handlers) EventHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.audit.GetByEventID(r.Context(), chi.URLParam(r, "eventId"))
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		writeError(w, http.StatusNotFound, "event not found")
	case err != nil:
		h.log.Warn("audit lookup failed", logger.Err(err))
		writeError(w, http.StatusInternalServerError, "audit log unavailable")
	default:
		writeJSON(w, http.StatusOK, eventsResponse{Events: records})
	}
}

// RecentEvents lists the newest audit records of a domain.
func (h *Handlers) RecentEvents(w http.ResponseWriter, r *http.Request) {
	domain := models.Domain(chi.URLParam(r, "domain"))
	if _, ok := h.dispatcher.Syncer(domain); !ok {
		writeError(w, http.StatusNotFound, "unknown domain")
		return
	}

	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxEventLimit)
	}

	records, err := h.audit.ListRecent(r.Context(), domain, limit)
	if err != nil {
		h.log.Warn("audit list failed", logger.Domain(domain), logger.Err(err))
		writeError(w, http.StatusInternalServerError, "audit log unavailable")
		return
	}
	if records == nil {
		records = []*models.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{Domain: domain, Events: records})
}

func (h *Handlers) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
