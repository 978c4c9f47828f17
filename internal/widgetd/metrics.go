package widgetd

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/niomon/niomon-go/internal/config"
)

// MetricsAddr returns the listen address for the separate metrics server,
// or empty when metrics are served on the main port.
func MetricsAddr(cfg config.WidgetdConfig) string {
	if cfg.MetricsPort == 0 || cfg.MetricsPort == cfg.Port {
		return ""
	}
	return fmt.Sprintf(":%d", cfg.MetricsPort)
}

// MetricsHandler serves the scrape endpoint for the separate metrics
// listener.
func MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
