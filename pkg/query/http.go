package query

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/reroll-core/pkg/metrics"
)

// Handler serves the Query & Aggregation API over plain JSON, following
// the same http.ServeMux health-server pattern used elsewhere in this
// codebase. Transport stays pluggable: an out-of-scope chat front-end can
// call Service directly instead.
type Handler struct {
	svc *Service
	mux *http.ServeMux
}

// NewHandler builds a Handler routing every spec §4.6 query.
func NewHandler(svc *Service) *Handler {
	h := &Handler{svc: svc, mux: http.NewServeMux()}
	h.mux.HandleFunc("/query/user-stats", h.instrument("/query/user-stats", h.userStats))
	h.mux.HandleFunc("/query/server-stats", h.instrument("/query/server-stats", h.serverStats))
	h.mux.HandleFunc("/query/leaderboard", h.instrument("/query/leaderboard", h.leaderboard))
	h.mux.HandleFunc("/query/anomalies", h.instrument("/query/anomalies", h.anomalies))
	h.mux.HandleFunc("/query/expiring", h.instrument("/query/expiring", h.expiring))
	h.mux.HandleFunc("/query/gp-summary", h.instrument("/query/gp-summary", h.gpSummary))
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) { h.mux.ServeHTTP(w, r) }

func (h *Handler) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)
		metrics.APIRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(sw.status)).Inc()
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func intQuery(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func (h *Handler) userStats(w http.ResponseWriter, r *http.Request) {
	workerID, err := strconv.ParseInt(r.URL.Query().Get("worker_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	windowDays := intQuery(r, "window_days", 30)
	res, err := h.svc.UserStats(r.Context(), workerID, windowDays, time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) serverStats(w http.ResponseWriter, r *http.Request) {
	windowDays := intQuery(r, "window_days", 30)
	res, err := h.svc.ServerStats(r.Context(), windowDays, time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	metric := LeaderboardMetric(r.URL.Query().Get("metric"))
	windowDays := intQuery(r, "window_days", 30)
	topK := intQuery(r, "top", 10)
	res, err := h.svc.Leaderboard(r.Context(), metric, windowDays, topK)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) anomalies(w http.ResponseWriter, r *http.Request) {
	workerID, err := strconv.ParseInt(r.URL.Query().Get("worker_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	windowDays := intQuery(r, "window_days", 30)
	res, err := h.svc.Anomalies(r.Context(), workerID, windowDays, time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) expiring(w http.ResponseWriter, r *http.Request) {
	daysAhead := intQuery(r, "days_ahead", 7)
	res, err := h.svc.Expiring(r.Context(), daysAhead, time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) gpSummary(w http.ResponseWriter, r *http.Request) {
	gpID, err := strconv.ParseInt(r.URL.Query().Get("gp_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := h.svc.GPSummary(r.Context(), gpID, time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
