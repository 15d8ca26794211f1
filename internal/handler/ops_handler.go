package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"event-pipeline/internal/model"
	"event-pipeline/internal/util"
)

// HealthChecker is implemented by every infrastructure client the pipeline
// depends on.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// AuditReader reads back audit-store partitions for operational spot checks.
type AuditReader interface {
	EventsForDay(ctx context.Context, ingestDay string, bucket int) ([]*model.EnrichedEvent, error)
	EventWindow(ctx context.Context, ingestDay string, bucket int, from, to time.Time) ([]*model.EnrichedEvent, error)
}

// OpsHandler serves liveness, readiness and audit spot checks for the
// pipeline process.
type OpsHandler struct {
	checks       map[string]HealthChecker
	audit        AuditReader
	checkTimeout time.Duration
}

func NewOpsHandler(checks map[string]HealthChecker, audit AuditReader) *OpsHandler {
	return &OpsHandler{
		checks:       checks,
		audit:        audit,
		checkTimeout: 5 * time.Second,
	}
}

// Liveness reports that the process is up. It deliberately checks nothing
// else: a pipeline with an unreachable sink should be restarted by readiness
// gating, not killed.
func (h *OpsHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "alive",
		"service": "event-pipeline",
	})
}

// Readiness probes every infrastructure dependency and reports per-dependency
// status. Any failing dependency makes the process not ready.
func (h *OpsHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.checkTimeout)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))

	for name, check := range h.checks {
		if err := check.HealthCheck(ctx); err != nil {
			util.Warn("Readiness check failed",
				zap.String("dependency", name),
				zap.Error(err))
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	writeJSON(w, status, map[string]interface{}{
		"status":       statusWord(status),
		"dependencies": results,
	})
}

// AuditEvents reads back one bucket of a day partition from the audit store.
// With from/to query parameters (RFC 3339) the read narrows to a time window.
// This is a spot-check surface for operators, not a query API.
func (h *OpsHandler) AuditEvents(w http.ResponseWriter, r *http.Request) {
	day := chi.URLParam(r, "day")
	if _, err := time.Parse("2006-01-02", day); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "day must be YYYY-MM-DD"})
		return
	}

	bucket := 0
	if raw := r.URL.Query().Get("bucket"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bucket must be a non-negative integer"})
			return
		}
		bucket = n
	}

	var (
		events []*model.EnrichedEvent
		err    error
	)

	fromRaw, toRaw := r.URL.Query().Get("from"), r.URL.Query().Get("to")
	if fromRaw != "" || toRaw != "" {
		from, ferr := time.Parse(time.RFC3339, fromRaw)
		to, terr := time.Parse(time.RFC3339, toRaw)
		if ferr != nil || terr != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "from and to must both be RFC 3339 timestamps"})
			return
		}
		events, err = h.audit.EventWindow(r.Context(), day, bucket, from, to)
	} else {
		events, err = h.audit.EventsForDay(r.Context(), day, bucket)
	}

	if err != nil {
		util.Error("Audit spot check failed",
			zap.String("ingest_day", day),
			zap.Int("bucket", bucket),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "audit store read failed"})
		return
	}

	if events == nil {
		events = []*model.EnrichedEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ingest_day": day,
		"bucket":     bucket,
		"count":      len(events),
		"events":     events,
	})
}

func statusWord(status int) string {
	if status == http.StatusOK {
		return "ready"
	}
	return "not_ready"
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		util.Error("Failed to encode response", zap.Error(err))
	}
}
