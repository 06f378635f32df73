// metrics.go — Prometheus HTTP метрики FileVault:
// fv_http_requests_total, fv_http_request_duration_seconds.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fv_http_requests_total",
			Help: "Общее количество HTTP-запросов к FileVault",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fv_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к FileVault в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware собирает количество и длительность запросов по endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			path := normalizePath(r.URL.Path)

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// fileActions — допустимые суффиксы после /api/v1/files/{id}.
var fileActions = map[string]bool{
	"download": true,
	"delete":   true,
	"restore":  true,
	"favorite": true,
}

// normalizePath заменяет id файла на {id}, чтобы не раздувать кардинальность.
// Неизвестные пути сводятся к "other".
// /api/v1/files/a1b2c3d4-.../restore → /api/v1/files/{id}/restore
func normalizePath(path string) string {
	switch path {
	case "/health/live", "/health/ready", "/metrics",
		"/api/v1/me",
		"/api/v1/uploads",
		"/api/v1/files",
		"/api/v1/favorites":
		return path
	}

	const filesPrefix = "/api/v1/files/"
	if rest, ok := strings.CutPrefix(path, filesPrefix); ok && rest != "" {
		id, action, hasAction := strings.Cut(rest, "/")
		switch {
		case id == "":
			return "other"
		case !hasAction:
			return filesPrefix + "{id}"
		case fileActions[action]:
			return filesPrefix + "{id}/" + action
		}
	}
	return "other"
}
