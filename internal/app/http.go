package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/cam3ron2/delivery-heatmap/internal/collect"
	"github.com/cam3ron2/delivery-heatmap/internal/heatmap"
	"github.com/cam3ron2/delivery-heatmap/internal/identity"
	"github.com/cam3ron2/delivery-heatmap/internal/telemetry"
)

const maxRosterBodyBytes = 1 << 20

// HeatmapService computes heatmaps and roster matches for the HTTP API.
type HeatmapService interface {
	Compute(ctx context.Context, groupID, startDate, endDate string) (heatmap.Result, error)
	MatchRoster(ctx context.Context, groupID string, names []string, threshold float64) ([]identity.RosterMatch, error)
}

type rosterMatchRequest struct {
	Names     []string `json:"names"`
	Threshold float64  `json:"threshold"`
}

type rosterMatchResponse struct {
	GroupID string                 `json:"groupId"`
	Matches []identity.RosterMatch `json:"matches"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewHTTPHandler wires the heatmap API, metrics and health endpoints on a single router.
func NewHTTPHandler(service HeatmapService, metricsHandler, healthHandler http.Handler, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	api := &apiHandler{service: service, logger: logger}

	router := chi.NewRouter()
	traceMode := telemetry.TraceMode()
	router.Method(http.MethodGet, "/api/v1/groups/{group}/heatmap", wrapHTTPHandler(traceMode, "heatmap", http.HandlerFunc(api.heatmap)))
	router.Method(http.MethodPost, "/api/v1/groups/{group}/roster-matches", wrapHTTPHandler(traceMode, "roster_matches", http.HandlerFunc(api.rosterMatches)))
	router.Handle("/metrics", wrapHTTPHandler(traceMode, "metrics", metricsHandler))
	router.Handle("/livez", wrapHTTPHandler(traceMode, "livez", healthHandler))
	router.Handle("/readyz", wrapHTTPHandler(traceMode, "readyz", healthHandler))
	router.Handle("/healthz", wrapHTTPHandler(traceMode, "healthz", healthHandler))
	return router
}

type apiHandler struct {
	service HeatmapService
	logger  *zap.Logger
}

func (h *apiHandler) heatmap(w http.ResponseWriter, r *http.Request) {
	group, ok := groupParam(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	start := strings.TrimSpace(query.Get("start"))
	end := strings.TrimSpace(query.Get("end"))
	if start == "" || end == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "start and end query parameters are required (YYYY-MM-DD)"})
		return
	}

	result, err := h.service.Compute(r.Context(), group, start, end)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *apiHandler) rosterMatches(w http.ResponseWriter, r *http.Request) {
	group, ok := groupParam(w, r)
	if !ok {
		return
	}

	var request rosterMatchRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRosterBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid roster body: " + err.Error()})
		return
	}
	if len(request.Names) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "names must not be empty"})
		return
	}
	if request.Threshold < 0 || request.Threshold > 100 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "threshold must be between 0 and 100"})
		return
	}

	matches, err := h.service.MatchRoster(r.Context(), group, request.Names, request.Threshold)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rosterMatchResponse{GroupID: group, Matches: matches})
}

func (h *apiHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// statusForError maps engine errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, heatmap.ErrInvalidGroup), errors.Is(err, heatmap.ErrInvalidDate):
		return http.StatusBadRequest
	case errors.Is(err, collect.ErrGroupUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func groupParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := chi.URLParam(r, "group")
	group, err := url.PathUnescape(raw)
	if err != nil || strings.TrimSpace(group) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "group must be a non-empty, path-escaped identifier"})
		return "", false
	}
	return strings.TrimSpace(group), true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:gosec // Payload is server-generated JSON.
	if _, err := w.Write(body); err != nil {
		return
	}
}

func wrapHTTPHandler(traceMode, route string, handler http.Handler) http.Handler {
	if handler == nil {
		handler = http.NotFoundHandler()
	}
	if strings.EqualFold(strings.TrimSpace(traceMode), "off") {
		return handler
	}

	operation := strings.TrimSpace(route)
	if operation == "" {
		operation = "handler"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := telemetry.Tracer("app").Start(
			r.Context(),
			"http.server."+operation,
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
			),
		)
		defer span.End()

		recorder := &statusCapturingResponseWriter{
			ResponseWriter: w,
			status:         http.StatusOK,
		}
		handler.ServeHTTP(recorder, r.WithContext(ctx))
		span.SetAttributes(attribute.Int("http.status_code", recorder.status))
		if recorder.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(recorder.status))
			return
		}
		span.SetStatus(codes.Ok, "request completed")
	})
}

type statusCapturingResponseWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusCapturingResponseWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
