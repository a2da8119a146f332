// Package config provides configuration loading and validation for the
// safetycore node binaries (orchestrator, cooler, telemetry-bridge,
// simulator).
//
// Configuration file: /etc/safetycore/<node>.yaml (default)
// Schema version: 1
//
// Validation:
//   - All required fields must be present.
//   - Numeric ranges enforced (e.g. run-on-delay durations, thresholds).
//   - serial.device must be non-empty; file paths are not otherwise checked.
//   - Invalid config on startup: the node refuses to start (fatal error).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime can be overridden at build time via
// -ldflags "-X ...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// factoryPlaceholderLitresPerPulse is the value the upstream firmware's
// TODO comment ships as a stand-in pending bench calibration; a config
// that still carries it is almost certainly uncalibrated hardware.
const factoryPlaceholderLitresPerPulse = 1.0

// Config is the root configuration structure for a safetycore node.
// All fields have defaults; see Defaults() for values.
type Config struct {
	// SchemaVersion must be "1". Future versions will trigger migration.
	SchemaVersion string `yaml:"schema_version"`

	// NodeID identifies this node in event records and telemetry.
	// Default: hostname.
	NodeID string `yaml:"node_id"`

	// Serial configures the COBS-framed RPC transport.
	Serial SerialConfig `yaml:"serial"`

	// GPIO configures pin assignments for inputs, actuators, and sensors.
	GPIO GPIOConfig `yaml:"gpio"`

	// Thresholds configures the monitor fabric's severity boundaries.
	Thresholds ThresholdsConfig `yaml:"thresholds"`

	// RunOnDelay configures the hold-over durations for C2 state machines.
	RunOnDelay RunOnDelayConfig `yaml:"run_on_delay"`

	// Sensors configures sensor polling and calibration.
	Sensors SensorsConfig `yaml:"sensors"`

	// EventQueue configures the C7 bounded event ring.
	EventQueue EventQueueConfig `yaml:"event_queue"`

	// Observability configures metrics and logging.
	Observability ObservabilityConfig `yaml:"observability"`
}

// SerialConfig holds the RPC transport's device and framing parameters.
// A node binds only the fields relevant to its own role: the cooler node
// has a single link (Device) answering the orchestrator; the
// orchestrator additionally dials out to the cooler (CoolerDevice) and
// writes event frames to the telemetry bridge (TelemetryDevice); the
// telemetry bridge reads from the other end of that same line (Device).
type SerialConfig struct {
	// Device is the path to this node's own serial device node, e.g.
	// /dev/ttyUSB0 — the cooler's only link, the orchestrator's
	// diagnostic link, or the telemetry bridge's inbound link.
	Device string `yaml:"device"`

	// BaudRate is the serial line rate for Device. Default: 115200.
	BaudRate int `yaml:"baud_rate"`

	// CoolerDevice / CoolerBaudRate configure the orchestrator's outbound
	// link to the cooler node. Unused by the cooler and telemetry-bridge
	// binaries.
	CoolerDevice   string `yaml:"cooler_device"`
	CoolerBaudRate int    `yaml:"cooler_baud_rate"`

	// TelemetryDevice / TelemetryBaudRate configure the orchestrator's
	// outbound link to the telemetry bridge. Unused by the cooler and
	// telemetry-bridge binaries.
	TelemetryDevice   string `yaml:"telemetry_device"`
	TelemetryBaudRate int    `yaml:"telemetry_baud_rate"`
}

// GPIOConfig holds pin assignments. A value of -1 means "not wired" and
// the corresponding task is not started.
type GPIOConfig struct {
	ChassisIntrusionPin int `yaml:"chassis_intrusion_pin"`
	MachinePowerPin     int `yaml:"machine_power_pin"`
	DoorsClosedPin      int `yaml:"doors_closed_pin"`
	MachineRunningPin   int `yaml:"machine_running_pin"`

	FumeExtractionFanPin int `yaml:"fume_extraction_fan_pin"`
	AirAssistPumpPin     int `yaml:"air_assist_pump_pin"`
	MachineEnablePin     int `yaml:"machine_enable_pin"`
	LaserEnablePin       int `yaml:"laser_enable_pin"`

	StatusLampGreenPin int `yaml:"status_lamp_green_pin"`
	StatusLampAmberPin int `yaml:"status_lamp_amber_pin"`
	StatusLampRedPin   int `yaml:"status_lamp_red_pin"`

	CoolantFlowPulsePin       int `yaml:"coolant_flow_pulse_pin"`
	ReservoirLevelHighPin     int `yaml:"reservoir_level_high_pin"`
	ReservoirLevelLowPin      int `yaml:"reservoir_level_low_pin"`
	HeatExchangeLevelPin      int `yaml:"heat_exchange_level_pin"`
	CoolantPumpPin            int `yaml:"coolant_pump_pin"`
	RadiatorFanPin            int `yaml:"radiator_fan_pin"`
	CompressorPin             int `yaml:"compressor_pin"`
	StirrerPin                int `yaml:"stirrer_pin"`

	// AirAssistDemandPin is the air-assist request button (orchestrator).
	AirAssistDemandPin int `yaml:"air_assist_demand_pin"`

	// ExtractionModeOverridePin is the fume-extraction override switch
	// (orchestrator): unwetted/low = Automatic, wetted/high = OverrideRun.
	ExtractionModeOverridePin int `yaml:"extraction_mode_override_pin"`
}

// ThresholdsConfig holds the monitor fabric's severity boundaries, per
// spec §4.5. Exposed as config so an operator can recalibrate without a
// rebuild; the compiled-in Defaults() values match spec §4.5 exactly.
type ThresholdsConfig struct {
	// CoolantFlowTemperatureWarningC / CriticalC gate MonitorCoolantFlowTemperature.
	CoolantFlowTemperatureWarningC  float64 `yaml:"coolant_flow_temperature_warning_c"`
	CoolantFlowTemperatureCriticalC float64 `yaml:"coolant_flow_temperature_critical_c"`

	// CoolantReservoirTemperatureWarningC / CriticalC gate MonitorCoolantReservoirTemperature.
	CoolantReservoirTemperatureWarningC  float64 `yaml:"coolant_reservoir_temperature_warning_c"`
	CoolantReservoirTemperatureCriticalC float64 `yaml:"coolant_reservoir_temperature_critical_c"`

	// CoolantFlowWarningLitresMin / CriticalLitresMin gate
	// MonitorCoolantFlowInsufficient; the monitor fires below these rates.
	CoolantFlowWarningLitresMin  float64 `yaml:"coolant_flow_warning_litres_min"`
	CoolantFlowCriticalLitresMin float64 `yaml:"coolant_flow_critical_litres_min"`
}

// RunOnDelayConfig holds the C2 hold-over durations named in spec §4.6.
type RunOnDelayConfig struct {
	FumeExtractionFan time.Duration `yaml:"fume_extraction_fan"`
	AirAssistPump     time.Duration `yaml:"air_assist_pump"`
	CoolerCooldown    time.Duration `yaml:"cooler_cooldown"`
	CoolerMinOffTime  time.Duration `yaml:"cooler_min_off_time"`
}

// SensorsConfig holds sensor polling intervals and calibration constants.
type SensorsConfig struct {
	// FlowGateInterval is the pulse-counting gate window for the coolant
	// flow sensor, per spec §4.3 ("fixed interval (2 s)").
	FlowGateInterval time.Duration `yaml:"flow_gate_interval"`

	// LitresPerPulse calibrates pulses/interval to L/min. When omitted it
	// keeps the factory placeholder from Defaults(); Validate refuses zero
	// or negative values, and WarnIfUncalibrated reports when the
	// placeholder is still in use, since an uncalibrated flow meter under-
	// or over-reports coolant flow and can mask a genuine blockage.
	LitresPerPulse float64 `yaml:"litres_per_pulse"`

	// LevelPollInterval / TemperaturePollInterval / DebouncePollInterval
	// are the polling periods for C1/C4's ticker-driven tasks.
	LevelPollInterval       time.Duration `yaml:"level_poll_interval"`
	TemperaturePollInterval time.Duration `yaml:"temperature_poll_interval"`
	DebouncePollInterval    time.Duration `yaml:"debounce_poll_interval"`
}

// EventQueueConfig holds the C7 bounded ring's capacity.
type EventQueueConfig struct {
	Capacity int `yaml:"capacity"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	// MetricsAddr is the Prometheus metrics HTTP bind address.
	// Default: 127.0.0.1:9091.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// LogFormat controls the log output format (json, console).
	LogFormat string `yaml:"log_format"`
}

// Defaults returns a Config populated with spec-compliant default values.
func Defaults() Config {
	hostname, _ := os.Hostname()
	return Config{
		SchemaVersion: "1",
		NodeID:        hostname,
		Serial: SerialConfig{
			Device:            "/dev/ttyUSB0",
			BaudRate:          115200,
			CoolerDevice:      "/dev/ttyUSB1",
			CoolerBaudRate:    115200,
			TelemetryDevice:   "/dev/ttyUSB2",
			TelemetryBaudRate: 115200,
		},
		GPIO: GPIOConfig{
			ChassisIntrusionPin: -1,
			MachinePowerPin:     -1,
			DoorsClosedPin:      -1,
			MachineRunningPin:   -1,

			FumeExtractionFanPin: -1,
			AirAssistPumpPin:     -1,
			MachineEnablePin:     -1,
			LaserEnablePin:       -1,

			StatusLampGreenPin: -1,
			StatusLampAmberPin: -1,
			StatusLampRedPin:   -1,

			CoolantFlowPulsePin:   -1,
			ReservoirLevelHighPin: -1,
			ReservoirLevelLowPin:  -1,
			HeatExchangeLevelPin:  -1,
			CoolantPumpPin:        -1,
			RadiatorFanPin:        -1,
			CompressorPin:         -1,
			StirrerPin:            -1,

			AirAssistDemandPin:        -1,
			ExtractionModeOverridePin: -1,
		},
		Thresholds: ThresholdsConfig{
			CoolantFlowTemperatureWarningC:        35,
			CoolantFlowTemperatureCriticalC:       45,
			CoolantReservoirTemperatureWarningC:   30,
			CoolantReservoirTemperatureCriticalC:  40,
			CoolantFlowWarningLitresMin:           4.5,
			CoolantFlowCriticalLitresMin:          2.0,
		},
		RunOnDelay: RunOnDelayConfig{
			FumeExtractionFan: 30 * time.Second,
			AirAssistPump:     500 * time.Millisecond,
			CoolerCooldown:    30 * time.Second,
			CoolerMinOffTime:  60 * time.Second,
		},
		Sensors: SensorsConfig{
			FlowGateInterval:        2 * time.Second,
			LitresPerPulse:          factoryPlaceholderLitresPerPulse,
			LevelPollInterval:       1 * time.Second,
			TemperaturePollInterval: 1 * time.Second,
			DebouncePollInterval:    50 * time.Millisecond,
		},
		EventQueue: EventQueueConfig{
			Capacity: 64,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9091",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// SimulatorOverrides shortens run-on-delay durations per spec §4.6's
// "0.5 s in simulator" carve-out for the fume extraction fan; all other
// defaults are shared between production and simulator builds.
func SimulatorOverrides(cfg *Config) {
	cfg.RunOnDelay.FumeExtractionFan = 500 * time.Millisecond
}

// Load reads and validates a config file from the given path.
// Returns the merged config (defaults overridden by file values).
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks all config fields for correctness. Returns a
// descriptive error listing all violations found.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.NodeID == "" {
		errs = append(errs, "node_id must not be empty")
	}
	if cfg.Serial.Device == "" {
		errs = append(errs, "serial.device must not be empty")
	}
	if cfg.Serial.BaudRate <= 0 {
		errs = append(errs, fmt.Sprintf("serial.baud_rate must be > 0, got %d", cfg.Serial.BaudRate))
	}
	if cfg.Serial.CoolerDevice != "" && cfg.Serial.CoolerBaudRate <= 0 {
		errs = append(errs, fmt.Sprintf("serial.cooler_baud_rate must be > 0, got %d", cfg.Serial.CoolerBaudRate))
	}
	if cfg.Serial.TelemetryDevice != "" && cfg.Serial.TelemetryBaudRate <= 0 {
		errs = append(errs, fmt.Sprintf("serial.telemetry_baud_rate must be > 0, got %d", cfg.Serial.TelemetryBaudRate))
	}

	if cfg.Thresholds.CoolantFlowTemperatureWarningC >= cfg.Thresholds.CoolantFlowTemperatureCriticalC {
		errs = append(errs, "thresholds.coolant_flow_temperature_warning_c must be < critical_c")
	}
	if cfg.Thresholds.CoolantReservoirTemperatureWarningC >= cfg.Thresholds.CoolantReservoirTemperatureCriticalC {
		errs = append(errs, "thresholds.coolant_reservoir_temperature_warning_c must be < critical_c")
	}
	if cfg.Thresholds.CoolantFlowWarningLitresMin <= cfg.Thresholds.CoolantFlowCriticalLitresMin {
		errs = append(errs, "thresholds.coolant_flow_warning_litres_min must be > critical_litres_min")
	}

	if cfg.RunOnDelay.CoolerMinOffTime < 60*time.Second {
		errs = append(errs, fmt.Sprintf(
			"run_on_delay.cooler_min_off_time must be >= 60s to protect the compressor, got %s",
			cfg.RunOnDelay.CoolerMinOffTime))
	}
	if cfg.RunOnDelay.FumeExtractionFan < 0 || cfg.RunOnDelay.AirAssistPump < 0 || cfg.RunOnDelay.CoolerCooldown < 0 {
		errs = append(errs, "run_on_delay durations must be >= 0")
	}

	if cfg.Sensors.LitresPerPulse <= 0 {
		errs = append(errs, fmt.Sprintf("sensors.litres_per_pulse must be > 0 (explicit calibration required), got %f", cfg.Sensors.LitresPerPulse))
	}
	if cfg.Sensors.FlowGateInterval <= 0 {
		errs = append(errs, "sensors.flow_gate_interval must be > 0")
	}

	if cfg.EventQueue.Capacity < 1 {
		errs = append(errs, fmt.Sprintf("event_queue.capacity must be >= 1, got %d", cfg.EventQueue.Capacity))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// WarnIfUncalibrated reports whether litres_per_pulse still matches the
// factory placeholder — valid per Validate (it is > 0), but almost
// certainly wrong for any specific machine. Callers should log.Warn
// when this returns true rather than failing startup outright.
func WarnIfUncalibrated(cfg *Config) bool {
	return cfg.Sensors.LitresPerPulse == factoryPlaceholderLitresPerPulse
}
