package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "peerprep",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests received",
	}, []string{"service", "method", "path", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "peerprep",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"service", "method", "path", "status"})

	MatchesProposed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "peerprep",
		Name:      "matching_matches_proposed_total",
		Help:      "Pairings written as pending match records",
	})

	MatchesConfirmed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "peerprep",
		Name:      "matching_matches_confirmed_total",
		Help:      "Pairings confirmed into sessions",
	})

	WaitingTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "peerprep",
		Name:      "matching_waiting_timeouts_total",
		Help:      "Waiting entries evicted after the 60s window",
	})

	CustomRoomsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "peerprep",
		Name:      "matching_custom_rooms_created_total",
		Help:      "Custom rooms created",
	})

	CustomRoomsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "peerprep",
		Name:      "matching_custom_rooms_deleted_total",
		Help:      "Custom rooms deleted after the last participant left",
	})
)

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack keeps websocket upgrades working behind the middleware.
func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

// Middleware records request counts and latency per route.
func Middleware(service string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			status := strconv.Itoa(rec.status)
			httpRequests.WithLabelValues(service, r.Method, r.URL.Path, status).Inc()
			httpLatency.WithLabelValues(service, r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
		})
	}
}

// Handler exposes the prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
