package observability

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "pmsync", Name: "http_requests_total", Help: "HTTP requests."},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pmsync", Name: "http_request_duration_seconds",
			Help:    "HTTP request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	ExternalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "pmsync", Name: "external_requests_total", Help: "Outbound PMS requests."},
		[]string{"service", "endpoint", "status"},
	)
	ExternalLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pmsync", Name: "external_request_duration_seconds",
			Help:    "Outbound request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "endpoint"},
	)
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "pmsync", Name: "webhook_events_total", Help: "Webhook deliveries by outcome."},
		[]string{"result"}, // processed|duplicate|auth_rejected|invalid_payload|property_mismatch|handler_error
	)
	SyncPages = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "pmsync", Name: "sync_pages_total", Help: "Reservation pages fetched."},
	)
	SyncRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "pmsync", Name: "sync_records_total", Help: "Records per sync pass by outcome."},
		[]string{"outcome"}, // saved|failed
	)
	TokenRefreshes = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "pmsync", Name: "token_refreshes_total", Help: "OAuth client-credentials refreshes."},
	)
	StoreEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "pmsync", Name: "store_events_total", Help: "Token/cursor/idempotency/cache store events."},
		[]string{"store", "event"}, // event: hit|miss|set|del|save_error
	)
)

func Serve() {
	addr := os.Getenv("METRICS_ADDR")
	if addr == "" {
		return // disabled
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		log.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(HTTPRequests, HTTPLatency, ExternalRequests, ExternalLatency,
		WebhookEvents, SyncPages, SyncRecords, TokenRefreshes, StoreEvents)
	return reg
}

func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func ObserveHTTP(route, method string, status int, dur time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPLatency.WithLabelValues(route, method).Observe(dur.Seconds())
}

func ObserveExternal(service, endpoint string, status int, dur time.Duration) {
	ExternalRequests.WithLabelValues(service, endpoint, strconv.Itoa(status)).Inc()
	ExternalLatency.WithLabelValues(service, endpoint).Observe(dur.Seconds())
}

func ObserveStore(store, event string) { // event: hit|miss|set|del|save_error
	StoreEvents.WithLabelValues(store, event).Inc()
}

func LabelErr(err error) string {
	if err == nil {
		return "none"
	}
	return fmt.Sprintf("%T", err)
}
