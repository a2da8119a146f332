// Package main — cmd/telemetry-bridge/main.go
//
// Telemetry bridge entrypoint: drains the orchestrator's outbound event
// link, decodes frames, and forwards batches to an uplink. Per spec
// §4.9 this path is best-effort — a malformed frame is logged (rate
// limited) and discarded, never retransmitted.
//
// This binary's uplink is a local JSON-lines sink (stdout or a file);
// a network uplink (MQTT/Wi-Fi) is named as an external collaborator
// out of this module's scope.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hoshiguma/safetycore/internal/config"
	"github.com/hoshiguma/safetycore/internal/observability"
	"github.com/hoshiguma/safetycore/internal/proto"
	"github.com/hoshiguma/safetycore/internal/serial"
	"github.com/hoshiguma/safetycore/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "/etc/safetycore/telemetry-bridge.yaml", "Path to config.yaml")
	outPath := flag.String("out", "", "Path to append forwarded events as JSON lines (default: stdout)")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("telemetry-bridge %s (commit=%s built=%s)\n", config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("telemetry-bridge starting", zap.String("node_id", cfg.NodeID), zap.String("config", *configPath))

	var out io.Writer = os.Stdout
	if *outPath != "" {
		f, err := os.OpenFile(*outPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatal("uplink sink open failed", zap.Error(err), zap.String("path", *outPath))
		}
		defer f.Close() //nolint:errcheck
		out = f
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	port, err := serial.Open(cfg.Serial.Device, uint32(cfg.Serial.BaudRate))
	if err != nil {
		log.Fatal("serial open failed", zap.Error(err), zap.String("device", cfg.Serial.Device))
	}
	defer port.Close() //nolint:errcheck
	log.Info("serial link opened", zap.String("device", cfg.Serial.Device))

	metrics := observability.NewMetrics()
	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	enc := json.NewEncoder(out)
	bridge := telemetry.New(port, func(batch []proto.Event) error {
		for _, e := range batch {
			metrics.TelemetryEventsForwardedTotal.Inc()
			if err := enc.Encode(e); err != nil {
				return fmt.Errorf("uplink write: %w", err)
			}
		}
		return nil
	}, telemetry.Options{
		LogDiscard: func(err error) {
			metrics.TelemetryDecodeFailuresTotal.Inc()
			log.Warn("telemetry frame discarded", zap.Error(err))
		},
	})

	runErr := make(chan error, 1)
	go func() { runErr <- bridge.Run(ctx) }()
	log.Info("telemetry bridge running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-runErr:
		log.Error("telemetry bridge exited", zap.Error(err))
	}

	cancel()
	shutdownTimer := time.NewTimer(5 * time.Second)
	defer shutdownTimer.Stop()
	select {
	case <-shutdownTimer.C:
		log.Warn("shutdown drain timeout — forcing exit")
	case <-runErr:
		log.Info("telemetry bridge stopped")
	}

	log.Info("telemetry-bridge shutdown complete")
}

func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
