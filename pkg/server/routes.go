package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"mercator-hq/tally/pkg/analytics"
	"mercator-hq/tally/pkg/analytics/capacity"
	"mercator-hq/tally/pkg/analytics/query"
	"mercator-hq/tally/pkg/analytics/retention"
	"mercator-hq/tally/pkg/config"
	"mercator-hq/tally/pkg/telemetry/health"
)

// Ops is the part of the analytics service exposed over HTTP.
type Ops interface {
	GetStorageStats(ctx context.Context) (*capacity.Stats, error)
	CheckAndCleanupStorage(ctx context.Context) (*retention.Report, error)
	EmergencyCleanup(ctx context.Context) (*retention.Report, error)
	Reader() *query.Reader
}

// Routes holds the handlers' collaborators. Nil Health or Metrics leaves the
// matching endpoints unregistered.
type Routes struct {
	Ops     Ops
	Health  *health.Checker
	Metrics http.Handler

	// MetricsPath defaults to "/metrics".
	MetricsPath string

	Version   string
	Commit    string
	BuildTime string
}

// ErrorResponse is the body of every non-2xx API answer.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (rt *Routes) mux() *http.ServeMux {
	mux := http.NewServeMux()

	if rt.Health != nil {
		mux.HandleFunc("/health", rt.Health.LivenessHandler())
		mux.HandleFunc("/ready", rt.Health.ReadinessHandler())
	}
	mux.HandleFunc("/version", health.VersionHandler(rt.Version, rt.Commit, rt.BuildTime))

	if rt.Metrics != nil {
		path := rt.MetricsPath
		if path == "" {
			path = config.DefaultPrometheusPath
		}
		mux.Handle("GET "+path, rt.Metrics)
	}

	mux.HandleFunc("GET /v1/storage/stats", rt.storageStats)
	mux.HandleFunc("POST /v1/storage/cleanup", rt.cleanup)
	mux.HandleFunc("POST /v1/storage/emergency", rt.emergency)
	mux.HandleFunc("GET /v1/searches/popular", rt.popularSearches)

	return mux
}

func (rt *Routes) storageStats(w http.ResponseWriter, r *http.Request) {
	stats, err := rt.Ops.GetStorageStats(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (rt *Routes) cleanup(w http.ResponseWriter, r *http.Request) {
	rt.writeReport(w, r, rt.Ops.CheckAndCleanupStorage)
}

// emergency requires ?confirm=true; the pass deletes data well inside the
// normal retention windows.
func (rt *Routes) emergency(w http.ResponseWriter, r *http.Request) {
	if confirm, _ := strconv.ParseBool(r.URL.Query().Get("confirm")); !confirm {
		writeError(w, http.StatusBadRequest, "emergency cleanup requires confirm=true")
		return
	}
	rt.writeReport(w, r, rt.Ops.EmergencyCleanup)
}

func (rt *Routes) writeReport(w http.ResponseWriter, r *http.Request, run func(context.Context) (*retention.Report, error)) {
	report, err := run(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if report.Skipped {
		writeJSON(w, http.StatusServiceUnavailable, report)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (rt *Routes) popularSearches(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "days")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	searches, err := rt.Ops.Reader().GetPopularSearches(r.Context(), days, limit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, searches)
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return n, nil
}

func statusFor(err error) int {
	if errors.Is(err, analytics.ErrUnavailable) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponse{Error: msg})
}
