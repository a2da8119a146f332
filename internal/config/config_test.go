package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults_PassesValidation(t *testing.T) {
	cfg := Defaults()
	if err := Validate(&cfg); err != nil {
		t.Fatalf("Validate(Defaults()) = %v, want nil", err)
	}
}

func TestDefaults_MatchThresholds(t *testing.T) {
	cfg := Defaults()
	if cfg.Thresholds.CoolantFlowTemperatureWarningC != 35 || cfg.Thresholds.CoolantFlowTemperatureCriticalC != 45 {
		t.Fatalf("flow temperature thresholds = %v/%v, want 35/45", cfg.Thresholds.CoolantFlowTemperatureWarningC, cfg.Thresholds.CoolantFlowTemperatureCriticalC)
	}
	if cfg.Thresholds.CoolantReservoirTemperatureWarningC != 30 || cfg.Thresholds.CoolantReservoirTemperatureCriticalC != 40 {
		t.Fatalf("reservoir temperature thresholds = %v/%v, want 30/40", cfg.Thresholds.CoolantReservoirTemperatureWarningC, cfg.Thresholds.CoolantReservoirTemperatureCriticalC)
	}
	if cfg.RunOnDelay.FumeExtractionFan != 30*time.Second {
		t.Fatalf("FumeExtractionFan = %v, want 30s", cfg.RunOnDelay.FumeExtractionFan)
	}
	if cfg.RunOnDelay.CoolerMinOffTime != 60*time.Second {
		t.Fatalf("CoolerMinOffTime = %v, want 60s", cfg.RunOnDelay.CoolerMinOffTime)
	}
}

func TestSimulatorOverrides_ShortensFumeExtractionDelay(t *testing.T) {
	cfg := Defaults()
	SimulatorOverrides(&cfg)
	if cfg.RunOnDelay.FumeExtractionFan != 500*time.Millisecond {
		t.Fatalf("FumeExtractionFan after SimulatorOverrides = %v, want 500ms", cfg.RunOnDelay.FumeExtractionFan)
	}
}

func TestValidate_RejectsMinOffTimeBelow60s(t *testing.T) {
	cfg := Defaults()
	cfg.RunOnDelay.CoolerMinOffTime = 10 * time.Second
	if err := Validate(&cfg); err == nil {
		t.Fatalf("Validate with min_off_time=10s = nil, want error")
	}
}

func TestValidate_RejectsZeroLitresPerPulse(t *testing.T) {
	cfg := Defaults()
	cfg.Sensors.LitresPerPulse = 0
	if err := Validate(&cfg); err == nil {
		t.Fatalf("Validate with litres_per_pulse=0 = nil, want error")
	}
}

func TestValidate_RejectsInvertedThresholds(t *testing.T) {
	cfg := Defaults()
	cfg.Thresholds.CoolantFlowTemperatureWarningC = 50
	if err := Validate(&cfg); err == nil {
		t.Fatalf("Validate with warning > critical = nil, want error")
	}
}

func TestWarnIfUncalibrated_DetectsFactoryPlaceholder(t *testing.T) {
	cfg := Defaults()
	if !WarnIfUncalibrated(&cfg) {
		t.Fatalf("WarnIfUncalibrated on default config = false, want true (factory placeholder)")
	}
	cfg.Sensors.LitresPerPulse = 0.0137
	if WarnIfUncalibrated(&cfg) {
		t.Fatalf("WarnIfUncalibrated after explicit calibration = true, want false")
	}
}

func TestLoad_ReadsAndValidatesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	yaml := `
schema_version: "1"
node_id: test-node
serial:
  device: /dev/ttyUSB1
  baud_rate: 9600
sensors:
  litres_per_pulse: 0.02
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NodeID != "test-node" {
		t.Fatalf("NodeID = %q, want test-node", cfg.NodeID)
	}
	if cfg.Serial.Device != "/dev/ttyUSB1" || cfg.Serial.BaudRate != 9600 {
		t.Fatalf("Serial = %+v, want device=/dev/ttyUSB1 baud=9600", cfg.Serial)
	}
	// Defaults not present in the YAML survive the merge.
	if cfg.RunOnDelay.CoolerMinOffTime != 60*time.Second {
		t.Fatalf("CoolerMinOffTime after partial override = %v, want default 60s", cfg.RunOnDelay.CoolerMinOffTime)
	}
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	if _, err := Load("/nonexistent/path/node.yaml"); err == nil {
		t.Fatalf("Load on missing file = nil, want error")
	}
}
