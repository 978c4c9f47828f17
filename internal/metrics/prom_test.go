package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPromMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)
	SetBuildInfo("1.0.0", "abc", "2024-01-01")
	RecordBridgeRequest("niomon_widget", true)
	RecordBridgeRequest("niomon_widget", false)
	RecordNotification("niomon_widget", "niomon_widget_ready")
	RecordDropped("niomon_widget", "foreign_source")
	RecordRefresh(true)
	RecordLogin("popup", false)
	ObserveRequestDuration("niomon_widget", "eth_accounts", 100*time.Millisecond)

	if v := testutil.ToFloat64(bridgeRequests.WithLabelValues("niomon_widget", "success")); v != 1 {
		t.Fatalf("bridge requests: %v", v)
	}
	if v := testutil.ToFloat64(bridgeRequests.WithLabelValues("niomon_widget", "error")); v != 1 {
		t.Fatalf("bridge request errors: %v", v)
	}
	if v := testutil.ToFloat64(bridgeNotifications.WithLabelValues("niomon_widget", "niomon_widget_ready")); v != 1 {
		t.Fatalf("notifications: %v", v)
	}
	if v := testutil.ToFloat64(bridgeDropped.WithLabelValues("niomon_widget", "foreign_source")); v != 1 {
		t.Fatalf("dropped: %v", v)
	}
	if v := testutil.ToFloat64(sessionRefreshes.WithLabelValues("success")); v != 1 {
		t.Fatalf("refreshes: %v", v)
	}
	if v := testutil.ToFloat64(sessionLogins.WithLabelValues("popup", "error")); v != 1 {
		t.Fatalf("logins: %v", v)
	}
	if v := testutil.ToFloat64(buildInfo.WithLabelValues("2024-01-01", "abc", "1.0.0")); v != 1 {
		t.Fatalf("build info: %v", v)
	}
}
