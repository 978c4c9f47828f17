package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "niomon_build_info",
			Help:        "Build information",
			ConstLabels: prometheus.Labels{"component": "sdk"},
		},
		[]string{"date", "sha", "version"},
	)

	bridgeRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "niomon_bridge_requests_total",
			Help: "Number of bridged RPC requests",
		},
		[]string{"family", "outcome"},
	)

	bridgeNotifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "niomon_bridge_notifications_total",
			Help: "Notifications dispatched per bridge family",
		},
		[]string{"family", "method"},
	)

	bridgeDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "niomon_bridge_dropped_messages_total",
			Help: "Inbound messages dropped by the intake pipeline",
		},
		[]string{"family", "reason"},
	)

	sessionRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "niomon_session_refreshes_total",
			Help: "Silent token refresh attempts",
		},
		[]string{"outcome"},
	)

	sessionLogins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "niomon_session_logins_total",
			Help: "Login flow completions",
		},
		[]string{"flow", "outcome"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "niomon_bridge_request_duration_seconds",
			Help:    "Bridged RPC request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"family", "method"},
	)
)

// Register registers all metrics with the provided registerer.
func Register(r prometheus.Registerer) {
	r.MustRegister(buildInfo, bridgeRequests, bridgeNotifications, bridgeDropped, sessionRefreshes, sessionLogins, requestDuration)
}

// SetBuildInfo sets the build info metric for the SDK.
func SetBuildInfo(version, sha, date string) {
	buildInfo.WithLabelValues(date, sha, version).Set(1)
}

// RecordBridgeRequest counts one bridged RPC request by outcome.
func RecordBridgeRequest(family string, success bool) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	bridgeRequests.WithLabelValues(family, outcome).Inc()
}

// RecordNotification counts one dispatched notification.
func RecordNotification(family, method string) {
	bridgeNotifications.WithLabelValues(family, method).Inc()
}

// RecordDropped counts one inbound message dropped by the intake pipeline.
func RecordDropped(family, reason string) {
	bridgeDropped.WithLabelValues(family, reason).Inc()
}

// RecordRefresh counts one silent refresh attempt.
func RecordRefresh(success bool) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	sessionRefreshes.WithLabelValues(outcome).Inc()
}

// RecordLogin counts one login flow completion ("popup" or "redirect").
func RecordLogin(flow string, success bool) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	sessionLogins.WithLabelValues(flow, outcome).Inc()
}

// ObserveRequestDuration records the duration of one bridged request.
func ObserveRequestDuration(family, method string, d time.Duration) {
	requestDuration.WithLabelValues(family, method).Observe(d.Seconds())
}
