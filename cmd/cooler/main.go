// Package main — cmd/cooler/main.go
//
// Cooler node entrypoint: the "dumb" peripheral that runs the coolant
// sensors and relays locally and answers whatever the orchestrator asks
// for over its single serial link.
//
// Startup sequence:
//  1. Load and validate config.
//  2. Initialise structured logger.
//  3. Open the serial link (this node's only RPC server transport).
//  4. Start the Prometheus metrics server.
//  5. Wire GPIO sensors/actuators from config.
//  6. Assemble and start the cooler Node.
//  7. Block on SIGINT/SIGTERM for graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hoshiguma/safetycore/internal/config"
	"github.com/hoshiguma/safetycore/internal/cooler"
	"github.com/hoshiguma/safetycore/internal/devices"
	"github.com/hoshiguma/safetycore/internal/gpio"
	"github.com/hoshiguma/safetycore/internal/observability"
	"github.com/hoshiguma/safetycore/internal/proto"
	"github.com/hoshiguma/safetycore/internal/serial"
)

func main() {
	configPath := flag.String("config", "/etc/safetycore/cooler.yaml", "Path to config.yaml")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("cooler %s (commit=%s built=%s)\n", config.Version, config.GitCommit, config.BuildTime)
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

	log.Info("cooler starting", zap.String("node_id", cfg.NodeID), zap.String("config", *configPath))
	if config.WarnIfUncalibrated(cfg) {
		log.Warn("sensors.litres_per_pulse still matches the factory placeholder — flow readings are uncalibrated")
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

	var n *cooler.Node
	sink := eventSink{&n}
	actuators := cooler.Actuators{
		CoolantPump: devices.New(proto.ActuatorCoolantPump, gpio.NewSimPin(false), sink),
		RadiatorFan: devices.New(proto.ActuatorRadiatorFan, gpio.NewSimPin(false), sink),
		Compressor:  devices.New(proto.ActuatorCompressor, gpio.NewSimPin(false), sink),
		Stirrer:     devices.New(proto.ActuatorStirrer, gpio.NewSimPin(false), sink),
	}
	sns := cooler.Sensors{
		FlowCounter:             &gpio.PulseCounter{},
		FlowGateInterval:        cfg.Sensors.FlowGateInterval,
		LitresPerPulse:          cfg.Sensors.LitresPerPulse,
		ReservoirLevelHigh:      gpio.NewSimPin(false),
		ReservoirLevelLow:       gpio.NewSimPin(true),
		LevelPollInterval:       cfg.Sensors.LevelPollInterval,
		HeatExchangeLevel:       wirePin(cfg.GPIO.HeatExchangeLevelPin),
		FlowTemperature:         constantTemperature{},
		TankTemperature:         constantTemperature{},
		TemperaturePollInterval: cfg.Sensors.TemperaturePollInterval,
	}

	info := proto.SystemInformation{GitRevision: config.GitCommit}
	n = cooler.New(port, actuators, sns, cfg.EventQueue.Capacity, info)

	runErr := make(chan error, 1)
	go func() { runErr <- n.Run(ctx) }()
	log.Info("cooler node running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-runErr:
		log.Error("cooler node exited", zap.Error(err))
	}

	cancel()
	shutdownTimer := time.NewTimer(5 * time.Second)
	defer shutdownTimer.Stop()
	select {
	case <-shutdownTimer.C:
		log.Warn("shutdown drain timeout — forcing exit")
	case <-runErr:
		log.Info("cooler node stopped")
	}

	log.Info("cooler shutdown complete")
}

// wirePin returns a SimPin for pin >= 0, or nil if the signal is not
// wired on this deployment (config.GPIOConfig's -1 sentinel).
func wirePin(pin int) gpio.Pin {
	if pin < 0 {
		return nil
	}
	return gpio.NewSimPin(false)
}

// eventSink defers to *n so actuators can be constructed before the Node
// that implements devices.EventSink exists.
type eventSink struct {
	n **cooler.Node
}

func (s eventSink) Emit(e proto.Event) {
	if *s.n != nil {
		(*s.n).Emit(e)
	}
}

// constantTemperature is a placeholder sensors.TemperatureSource for
// deployments where no real 1-Wire probe is wired; it reports a fixed,
// never-faulting reading. Real probe wiring is board-specific HAL work
// out of this module's scope.
type constantTemperature struct{}

func (constantTemperature) Read() (degreesC float32, fault bool) {
	return 20, false
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
