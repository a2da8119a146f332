// Package main — cmd/orchestrator/main.go
//
// Orchestrator node entrypoint: the "smart" half of the safety system,
// running the monitor fabric, both lockout state machines, and the
// serial links to the cooler node and the telemetry bridge.
//
// Startup sequence:
//  1. Load and validate config.
//  2. Initialise structured logger (zap, configurable format/level).
//  3. Open the diagnostic serial link (this node's own RPC server).
//  4. Open the cooler link (RPC client) and the telemetry uplink
//     (outbound event frames).
//  5. Start the Prometheus metrics server (127.0.0.1:9091 by default).
//  6. Wire GPIO inputs/actuators from config (pin == -1 means unwired).
//  7. Assemble and start the orchestrator Node.
//  8. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Cancel the root context (propagates to every goroutine).
//  2. Wait up to 5s for the node to return from Run.
//  3. Close the serial links.
//  4. Flush the logger.
//  5. Exit 0.
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
	"github.com/hoshiguma/safetycore/internal/devices"
	"github.com/hoshiguma/safetycore/internal/gpio"
	"github.com/hoshiguma/safetycore/internal/observability"
	"github.com/hoshiguma/safetycore/internal/orchestrator"
	"github.com/hoshiguma/safetycore/internal/proto"
	"github.com/hoshiguma/safetycore/internal/rpc"
	"github.com/hoshiguma/safetycore/internal/rpcframe"
	"github.com/hoshiguma/safetycore/internal/serial"
)

func main() {
	configPath := flag.String("config", "/etc/safetycore/orchestrator.yaml", "Path to config.yaml")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("orchestrator %s (commit=%s built=%s)\n", config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	// ── Step 1: Load config ──────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	// ── Step 2: Logger ───────────────────────────────────────────────────
	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("orchestrator starting",
		zap.String("version", config.Version),
		zap.String("node_id", cfg.NodeID),
		zap.String("config", *configPath),
	)
	if config.WarnIfUncalibrated(cfg) {
		log.Warn("sensors.litres_per_pulse still matches the factory placeholder — flow readings are uncalibrated")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Step 3/4: Serial links ───────────────────────────────────────────
	diagPort, err := serial.Open(cfg.Serial.Device, uint32(cfg.Serial.BaudRate))
	if err != nil {
		log.Fatal("diagnostic serial open failed", zap.Error(err), zap.String("device", cfg.Serial.Device))
	}
	defer diagPort.Close() //nolint:errcheck

	coolerPort, err := serial.Open(cfg.Serial.CoolerDevice, uint32(cfg.Serial.CoolerBaudRate))
	if err != nil {
		log.Fatal("cooler link open failed", zap.Error(err), zap.String("device", cfg.Serial.CoolerDevice))
	}
	defer coolerPort.Close() //nolint:errcheck
	coolerLink := orchestrator.NewCoolerLink(rpc.NewClient(coolerPort))

	var telemetryPort *serial.Port
	if cfg.Serial.TelemetryDevice != "" {
		telemetryPort, err = serial.Open(cfg.Serial.TelemetryDevice, uint32(cfg.Serial.TelemetryBaudRate))
		if err != nil {
			log.Fatal("telemetry uplink open failed", zap.Error(err), zap.String("device", cfg.Serial.TelemetryDevice))
		}
		defer telemetryPort.Close() //nolint:errcheck
	}
	log.Info("serial links opened",
		zap.String("diagnostic", cfg.Serial.Device),
		zap.String("cooler", cfg.Serial.CoolerDevice),
		zap.String("telemetry", cfg.Serial.TelemetryDevice))

	// ── Step 5: Metrics ───────────────────────────────────────────────────
	metrics := observability.NewMetrics()
	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	// ── Step 6: GPIO wiring ───────────────────────────────────────────────
	inputs := orchestrator.Inputs{
		ChassisIntrusion: wirePin(cfg.GPIO.ChassisIntrusionPin),
		MachinePower:     wirePin(cfg.GPIO.MachinePowerPin),
		DoorsClosed:      wirePin(cfg.GPIO.DoorsClosedPin),
		MachineRunning:   wirePin(cfg.GPIO.MachineRunningPin),
		AirAssistDemand:  wirePin(cfg.GPIO.AirAssistDemandPin),
		ExtractionMode:   wireExtractionMode(cfg.GPIO.ExtractionModeOverridePin),
		PollInterval:     cfg.Sensors.DebouncePollInterval,
	}

	var n *orchestrator.Node
	actuators := orchestrator.Actuators{
		MachineEnable:     devices.New(proto.ActuatorMachineEnable, gpio.NewSimPin(false), eventSink{&n}),
		LaserEnable:       devices.New(proto.ActuatorLaserEnable, gpio.NewSimPin(false), eventSink{&n}),
		FumeExtractionFan: devices.New(proto.ActuatorFumeExtractionFan, gpio.NewSimPin(false), eventSink{&n}),
		AirAssistPump:     devices.New(proto.ActuatorAirAssistPump, gpio.NewSimPin(false), eventSink{&n}),
		Lamp: devices.NewStatusLamp(
			gpio.NewSimPin(false), gpio.NewSimPin(false), gpio.NewSimPin(false), eventSink{&n}),
	}

	// ── Step 7: Assemble node ─────────────────────────────────────────────
	info := proto.SystemInformation{GitRevision: config.GitCommit}
	opts := orchestrator.Options{
		Thresholds:         cfg.Thresholds,
		RunOnDelay:         cfg.RunOnDelay,
		QueueCapacity:      cfg.EventQueue.Capacity,
		CoolerPollInterval: cfg.Sensors.TemperaturePollInterval,
		LockoutInterval:    100 * time.Millisecond,
		OnFatal: func(err error) {
			log.Fatal("monitor pub-sub lag", zap.Error(err))
		},
		OnLinkError: func(err error) {
			log.Warn("cooler link error", zap.Error(err))
		},
	}
	if telemetryPort != nil {
		opts.TelemetryOut = func(e proto.Event) {
			frame, err := telemetryEncodeAndWrite(ctx, telemetryPort, e)
			if err != nil {
				log.Warn("telemetry forward failed", zap.Error(err))
				return
			}
			_ = frame
		}
	}

	n = orchestrator.New(diagPort, coolerLink, inputs, actuators, info, opts)

	runErr := make(chan error, 1)
	go func() { runErr <- n.Run(ctx) }()
	log.Info("orchestrator node running")

	// ── Step 8: Wait for shutdown ─────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-runErr:
		log.Error("orchestrator node exited", zap.Error(err))
	}

	cancel()
	shutdownTimer := time.NewTimer(5 * time.Second)
	defer shutdownTimer.Stop()
	select {
	case <-shutdownTimer.C:
		log.Warn("shutdown drain timeout — forcing exit")
	case <-runErr:
		log.Info("orchestrator node stopped")
	}

	log.Info("orchestrator shutdown complete")
}

// wirePin returns a SimPin for pin >= 0, or nil if the signal is not
// wired on this deployment (config.GPIOConfig's -1 sentinel).
func wirePin(pin int) gpio.Pin {
	if pin < 0 {
		return nil
	}
	return gpio.NewSimPin(false)
}

// wireExtractionMode adapts the fume-extraction override switch's single
// GPIO pin into an orchestrator.ExtractionModeSource, or nil if unwired.
func wireExtractionMode(pin int) orchestrator.ExtractionModeSource {
	if pin < 0 {
		return nil
	}
	return extractionModeSource{pin: gpio.NewSimPin(false)}
}

// extractionModeSource reads the override switch's pin level directly:
// low = Automatic, high = OverrideRun, matching the physical two-position
// switch (there is no third "forced off" position).
type extractionModeSource struct {
	pin gpio.Pin
}

func (s extractionModeSource) Read() proto.ExtractionMode {
	if s.pin.Read() {
		return proto.ExtractionOverrideRun
	}
	return proto.ExtractionAutomatic
}

// eventSink defers to *n so actuators can be constructed before the Node
// that implements devices.EventSink exists.
type eventSink struct {
	n **orchestrator.Node
}

func (s eventSink) Emit(e proto.Event) {
	if *s.n != nil {
		(*s.n).Emit(e)
	}
}

// telemetryEncodeAndWrite frames e and writes it to the telemetry uplink.
func telemetryEncodeAndWrite(ctx context.Context, port *serial.Port, e proto.Event) ([]byte, error) {
	frame, err := rpcframe.EncodeEvent(e)
	if err != nil {
		return nil, err
	}
	if err := port.WriteFrame(ctx, frame); err != nil {
		return nil, err
	}
	return frame, nil
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
