package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketplace_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	checkouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_checkouts_total",
			Help: "Checkout attempts by result",
		},
		[]string{"result"},
	)

	reconciliations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_webhook_reconciliations_total",
			Help: "Payment notifications by outcome",
		},
		[]string{"outcome"},
	)

	stockShortfalls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketplace_stock_shortfall_lines_total",
			Help: "Order lines skipped on approval because stock was insufficient or the product was gone",
		},
	)

	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_events_published_total",
			Help: "Domain events handed to the broker",
		},
		[]string{"topic", "status"},
	)

	ordersExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketplace_orders_expired_total",
			Help: "Pending orders marked expired by the sweep",
		},
	)
)

// Middleware records request count and latency by route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				path = p
			}
		}
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		status := strconv.Itoa(code)
		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
	})
}

// RecordCheckout counts a checkout attempt. result is "ok" or an error kind.
func RecordCheckout(result string) { checkouts.WithLabelValues(result).Inc() }

// RecordReconciliation counts a notification. outcome is a transition name,
// "ignored", or an error kind.
func RecordReconciliation(outcome string) { reconciliations.WithLabelValues(outcome).Inc() }

func RecordShortfallLines(n int) { stockShortfalls.Add(float64(n)) }

func RecordPublish(topic string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	eventsPublished.WithLabelValues(topic, status).Inc()
}

func RecordExpired(n int) { ordersExpired.Add(float64(n)) }
