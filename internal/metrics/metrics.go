// Package metrics exposes Prometheus collectors for the tracking service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	shipmentsCheckedTotal   *prometheus.CounterVec
	shipmentsDeliveredTotal *prometheus.CounterVec
	trackFailuresTotal      *prometheus.CounterVec
	browserSessionsTotal    *prometheus.CounterVec
	alertsSentTotal         prometheus.Counter
	alertsFailedTotal       prometheus.Counter
	alertEscalationsTotal   prometheus.Counter
	cycleDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		shipmentsCheckedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_shipments_checked_total",
				Help: "Total tracking attempts, labeled by provider.",
			},
			[]string{"provider"},
		)

		shipmentsDeliveredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_shipments_delivered_total",
				Help: "Total shipments newly flagged delivered, labeled by provider.",
			},
			[]string{"provider"},
		)

		trackFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_track_failures_total",
				Help: "Total failed tracking attempts, labeled by provider.",
			},
			[]string{"provider"},
		)

		browserSessionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_browser_sessions_total",
				Help: "Total browser sessions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		alertsSentTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "tracker_alerts_sent_total",
			Help: "Total alerts delivered to the messaging channel.",
		})

		alertsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "tracker_alerts_failed_total",
			Help: "Total alert dispatches that exhausted all retries.",
		})

		alertEscalationsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "tracker_alert_escalations_total",
			Help: "Total fallback-channel escalation entries written.",
		})

		cycleDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tracker_cycle_duration_seconds",
				Help:    "Wall time of full tracking/alert cycles.",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
			},
			[]string{"cycle"},
		)
	})
}

// Handler returns the HTTP handler serving the Prometheus registry.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveShipmentChecked counts one tracking attempt for a provider.
func ObserveShipmentChecked(provider string) {
	Init()
	shipmentsCheckedTotal.WithLabelValues(provider).Inc()
}

// ObserveShipmentDelivered counts one delivery transition.
func ObserveShipmentDelivered(provider string) {
	Init()
	shipmentsDeliveredTotal.WithLabelValues(provider).Inc()
}

// ObserveTrackFailure counts one failed tracking attempt.
func ObserveTrackFailure(provider string) {
	Init()
	trackFailuresTotal.WithLabelValues(provider).Inc()
}

// ObserveBrowserSession counts one browser session by outcome
// ("ok" or "error").
func ObserveBrowserSession(outcome string) {
	Init()
	browserSessionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveAlertSent counts one successful alert delivery.
func ObserveAlertSent() {
	Init()
	alertsSentTotal.Inc()
}

// ObserveAlertFailed counts one exhausted alert dispatch.
func ObserveAlertFailed() {
	Init()
	alertsFailedTotal.Inc()
}

// ObserveAlertEscalation counts one escalation entry.
func ObserveAlertEscalation() {
	Init()
	alertEscalationsTotal.Inc()
}

// ObserveCycleDuration records the wall time of one cycle
// ("tracking" or "alerts").
func ObserveCycleDuration(cycle string, d time.Duration) {
	Init()
	cycleDurationSeconds.WithLabelValues(cycle).Observe(d.Seconds())
}
