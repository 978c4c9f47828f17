package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
)

// WidgetdConfig holds configuration for the development widget daemon.
type WidgetdConfig struct {
	Port           int
	MetricsPort    int
	WSPath         string
	FixturesPath   string
	AllowedOrigins []string
	LogLevel       string
}

// BindFlags populates the struct with defaults from environment variables and
// binds command line flags so main can call flag.Parse().
func (c *WidgetdConfig) BindFlags() {
	port, _ := strconv.Atoi(getEnv("PORT", "8091"))
	c.Port = port
	mp, _ := strconv.Atoi(getEnv("METRICS_PORT", strconv.Itoa(port)))
	c.MetricsPort = mp
	c.WSPath = getEnv("WS_PATH", "/widget")
	c.FixturesPath = getEnv("FIXTURES", "")
	if origins := getEnv("ALLOWED_ORIGINS", ""); origins != "" {
		c.AllowedOrigins = splitCSV(origins)
	}
	c.LogLevel = getEnv("NIOMON_LOG_LEVEL", "info")

	flag.IntVar(&c.Port, "port", c.Port, "HTTP listen port")
	flag.IntVar(&c.MetricsPort, "metrics-port", c.MetricsPort, "Prometheus metrics listen port; defaults to the value of --port")
	flag.StringVar(&c.WSPath, "ws-path", c.WSPath, "path SDK clients use to attach the widget WebSocket")
	flag.StringVar(&c.FixturesPath, "fixtures", c.FixturesPath, "YAML file with accounts and signing fixtures; empty uses built-in defaults")
	flag.Func("allowed-origins", "comma-separated list of origins allowed to connect", func(v string) error {
		c.AllowedOrigins = splitCSV(v)
		return nil
	})
	flag.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level (debug, info, warn, error)")
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
