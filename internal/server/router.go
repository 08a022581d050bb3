// Package server exposes the relay's operational HTTP surface: health,
// readiness, pipeline stats, and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/platewatch-systems/platewatch-relay/internal/dlq"
	"github.com/platewatch-systems/platewatch-relay/internal/pipeline"
)

// BrokerStatus reports whether the relay holds a live broker subscription.
type BrokerStatus interface {
	Connected() bool
}

// DeadLetters exposes the dead letter queue for operator inspection.
type DeadLetters interface {
	List(ctx context.Context, limit int) ([]dlq.FailedEvent, error)
	Written() uint64
}

// Handler serves the operational endpoints.
type Handler struct {
	broker      BrokerStatus
	pipe        *pipeline.Pipeline
	deadLetters DeadLetters
}

// NewHandler constructs a Handler. deadLetters may be nil when the relay
// runs without a dead letter queue.
func NewHandler(broker BrokerStatus, pipe *pipeline.Pipeline, deadLetters DeadLetters) *Handler {
	return &Handler{broker: broker, pipe: pipe, deadLetters: deadLetters}
}

// NewRouter constructs a ServeMux with all operational routes registered.
func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", h.Health)
	mux.HandleFunc("/readyz", h.Ready)
	mux.HandleFunc("/stats", h.Stats)
	mux.HandleFunc("/dlq", h.DeadLetterList)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// Health reports process liveness.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready reports whether the relay is subscribed and receiving.
func (h *Handler) Ready(w http.ResponseWriter, _ *http.Request) {
	if !h.broker.Connected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "broker not connected",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Stats returns pipeline counters.
func (h *Handler) Stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.pipe.Stats())
}

// DeadLetterList returns dead-lettered events, capped by the limit query
// parameter.
func (h *Handler) DeadLetterList(w http.ResponseWriter, r *http.Request) {
	if h.deadLetters == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "dead letter queue disabled",
		})
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a non-negative integer",
			})
			return
		}
		limit = n
	}

	events, err := h.deadLetters.List(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
		return
	}
	if events == nil {
		events = []dlq.FailedEvent{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"written": h.deadLetters.Written(),
		"events":  events,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
