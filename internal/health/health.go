// Package health evaluates readiness and serves the liveness, readiness and status endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Mode is the coarse health verdict reported on /healthz.
type Mode string

const (
	// ModeHealthy means every component is in its preferred state.
	ModeHealthy Mode = "healthy"
	// ModeDegraded means requests are served but a store fallback or a failed run was seen.
	ModeDegraded Mode = "degraded"
	// ModeUnhealthy means a readiness component is missing.
	ModeUnhealthy Mode = "unhealthy"
)

// Component keys reported in Status.Components.
const (
	ComponentSource         = "source"
	ComponentMetricStore    = "metric_store"
	ComponentStorePreferred = "store_preferred"
	ComponentLastRun        = "last_run"
)

// Input is a point-in-time snapshot of the runtime state that feeds Evaluate.
type Input struct {
	SourceConfigured bool
	StoreHealthy     bool
	// StoreFallback is set when a Redis store was configured but the in-memory store is in use.
	StoreFallback bool
	LastRunFailed bool
	LastRunAt     time.Time
}

// Status is the evaluated verdict, serialized as the /healthz body.
type Status struct {
	Mode       Mode            `json:"mode"`
	Ready      bool            `json:"ready"`
	Components map[string]bool `json:"components"`
	LastRunAt  *time.Time      `json:"lastRunAt,omitempty"`
}

// Provider supplies current health status.
type Provider interface {
	CurrentStatus(ctx context.Context) Status
}

// StatusEvaluator turns an Input into a Status. It holds no state.
type StatusEvaluator struct{}

// NewStatusEvaluator creates a health evaluator.
func NewStatusEvaluator() *StatusEvaluator {
	return &StatusEvaluator{}
}

// Evaluate requires a configured source and a healthy store for readiness; a store fallback or
// a failed last run only degrade.
func (e *StatusEvaluator) Evaluate(input Input) Status {
	status := Status{
		Mode:  ModeHealthy,
		Ready: input.SourceConfigured && input.StoreHealthy,
		Components: map[string]bool{
			ComponentSource:         input.SourceConfigured,
			ComponentMetricStore:    input.StoreHealthy,
			ComponentStorePreferred: !input.StoreFallback,
			ComponentLastRun:        !input.LastRunFailed,
		},
	}
	if !status.Ready {
		status.Mode = ModeUnhealthy
	} else if input.StoreFallback || input.LastRunFailed {
		status.Mode = ModeDegraded
	}

	if !input.LastRunAt.IsZero() {
		at := input.LastRunAt.UTC()
		status.LastRunAt = &at
	}
	return status
}

// NewHandler serves /livez, /readyz and /healthz from provider.
func NewHandler(provider Provider) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		writeBody(w, http.StatusOK, "", []byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if provider.CurrentStatus(r.Context()).Ready {
			writeBody(w, http.StatusOK, "", []byte("ready"))
			return
		}
		writeBody(w, http.StatusServiceUnavailable, "", []byte("not ready"))
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		payload, err := json.Marshal(provider.CurrentStatus(r.Context()))
		if err != nil {
			writeBody(w, http.StatusInternalServerError, "application/json",
				[]byte(`{"mode":"unhealthy","error":"marshal health status"}`))
			return
		}
		writeBody(w, http.StatusOK, "application/json", payload)
	})
	return mux
}

func writeBody(w http.ResponseWriter, code int, contentType string, body []byte) {
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(code)
	//nolint:gosec // Health payloads are server-generated.
	_, _ = w.Write(body)
}
