package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/mirador-phiguard/internal/audit"
	"github.com/miradorstack/mirador-phiguard/internal/metrics"
	"github.com/miradorstack/mirador-phiguard/internal/resilience"
)

// AdminDeps are the read-only views exposed on the admin listener.
type AdminDeps struct {
	Breakers *resilience.Registry
	Recorder *metrics.Recorder
	Audit    audit.Store
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

type healthResponse struct {
	Status   string                    `json:"status"`
	Breakers []resilience.BreakerStats `json:"breakers"`
}

// NewAdminRouter mounts /metrics, /healthz, /v1/metrics and /v1/audit/{correlationID}.
func NewAdminRouter(deps AdminDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", deps.health)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/metrics", deps.snapshot)
		r.Get("/audit/{correlationID}", deps.auditTrail)
	})
	return r
}

func (d AdminDeps) health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Breakers: []resilience.BreakerStats{}}
	if d.Breakers != nil {
		resp.Breakers = d.Breakers.Stats()
	}
	for _, b := range resp.Breakers {
		if b.State != resilience.StateClosed.String() {
			resp.Status = "degraded"
			break
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d AdminDeps) snapshot(w http.ResponseWriter, _ *http.Request) {
	if d.Recorder == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "metrics recorder not configured"})
		return
	}
	writeJSON(w, http.StatusOK, d.Recorder.Snapshot())
}

func (d AdminDeps) auditTrail(w http.ResponseWriter, r *http.Request) {
	if d.Audit == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "audit store not configured"})
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "correlationID"))
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "correlation id is required"})
		return
	}
	events, err := d.Audit.List(r.Context(), id)
	if err != nil {
		d.Logger.Error("audit trail lookup failed", slog.String("correlation_id", id), slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "audit store unavailable"})
		return
	}
	trail, err := ToProtoAuditTrail(id, events)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "encode audit trail"})
		return
	}
	writeJSON(w, http.StatusOK, trail.AsMap())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
