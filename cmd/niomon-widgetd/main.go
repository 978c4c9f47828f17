package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/niomon/niomon-go/internal/config"
	"github.com/niomon/niomon-go/internal/logx"
	"github.com/niomon/niomon-go/internal/metrics"
	"github.com/niomon/niomon-go/internal/widgetd"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func main() {
	var cfg config.WidgetdConfig
	cfg.BindFlags()
	flag.Parse()
	logx.Configure(cfg.LogLevel)

	fx, err := widgetd.LoadFixtures(cfg.FixturesPath)
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("fixtures")
	}

	metrics.Register(prometheus.DefaultRegisterer)
	metrics.SetBuildInfo(version, buildSHA, buildDate)

	handler := widgetd.New(cfg, fx)
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: handler}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	if addr := widgetd.MetricsAddr(cfg); addr != "" {
		msrv := &http.Server{Addr: addr, Handler: widgetd.MetricsHandler()}
		go func() {
			<-ctx.Done()
			_ = msrv.Shutdown(context.Background())
		}()
		go func() {
			logx.Log.Info().Str("addr", addr).Msg("metrics listener starting")
			if err := msrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logx.Log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	logx.Log.Info().Int("port", cfg.Port).Str("ws_path", cfg.WSPath).Int("accounts", len(fx.Accounts)).Msg("widgetd starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logx.Log.Fatal().Err(err).Msg("server error")
	}
}
