// Command agent runs a long-lived telemetry shipper: it samples Go runtime
// stats, batches them and writes them to InfluxDB, and exposes its own
// health and delivery counters over HTTP.
//
// Usage:
//
//	agent -config agent.yaml [flags]
//
// Flags:
//
//	-config    Path to the YAML config file (required)
//	-env-file  Env file loaded before the config is parsed (default: .env)
//	-verbose   Enable debug logging
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	telemetry "github.com/rychale/telemetry-influxdb"
	"github.com/rychale/telemetry-influxdb/internal/config"
	"github.com/rychale/telemetry-influxdb/internal/metrics"
	"github.com/rychale/telemetry-influxdb/runtimestats"
)

const (
	ExitSuccess = 0
	ExitError   = 2
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (required)")
	envFile := flag.String("env-file", ".env", "env file loaded before the config is parsed")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "error: -config is required")
		flag.Usage()
		os.Exit(ExitError)
	}

	if _, err := os.Stat(*envFile); err == nil {
		if err := godotenv.Load(*envFile); err != nil {
			fmt.Fprintf(os.Stderr, "error: loading %s: %v\n", *envFile, err)
			os.Exit(ExitError)
		}
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(ExitError)
	}

	logger, err := buildLogger(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: building logger: %v\n", err)
		os.Exit(ExitError)
	}
	defer func() { _ = logger.Sync() }()

	clientCfg := cfg.ClientConfig()
	clientCfg.Logger = logger.Named("client")
	client, err := telemetry.New(clientCfg)
	if err != nil {
		logger.Error("starting client", zap.Error(err))
		os.Exit(ExitError)
	}

	var sampler *runtimestats.Sampler
	if cfg.Runtime.Enabled {
		sampler = runtimestats.NewSampler(client, cfg.Runtime.Interval)
		sampler.Start()
		logger.Info("runtime sampling enabled", zap.Duration("interval", cfg.Runtime.Interval))
	}

	var admin *http.Server
	if cfg.Admin.Addr != "" {
		admin = adminServer(cfg.Admin.Addr, client)
		go func() {
			logger.Info("admin server listening", zap.String("addr", cfg.Admin.Addr))
			if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("admin server failed", zap.Error(err))
			}
		}()
	}

	logger.Info("agent started",
		zap.String("transport", clientCfg.Transport),
		zap.Duration("batch_time", clientCfg.BatchTime))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))

	if admin != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := admin.Shutdown(ctx); err != nil {
			logger.Warn("admin shutdown", zap.Error(err))
		}
		cancel()
	}
	if sampler != nil {
		sampler.Stop()
	}
	if err := client.Close(); err != nil {
		logger.Warn("closing client", zap.Error(err))
	}

	stats := client.Stats()
	logger.Info("final delivery counters",
		zap.Int64("reported", stats.Reported),
		zap.Int64("written", stats.Written),
		zap.Int64("invalid", stats.Invalid),
		zap.Int64("failed", stats.Failed),
		zap.Int64("discarded", stats.Discarded))

	os.Exit(ExitSuccess)
}

func buildLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// adminServer serves the agent's own health and Prometheus metrics.
func adminServer(addr string, client *telemetry.Client) *http.Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.NewCollector("telemetry", client))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"ok"}`)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &http.Server{Addr: addr, Handler: mux}
}
