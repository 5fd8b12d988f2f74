package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  log_level: debug

serial:
  enabled: true
  connection_type: udp
  address: "0.0.0.0:14550"

can:
  enabled: true
  interface: can0
  bitrate_hz: 1000000

mqtt:
  enabled: true
  broker: "tcp://localhost:1883"
  client_id: "test-client"
  topic_prefix: "remoteid/test"
  qos: 1
  lwt:
    enabled: true
    topic: "remoteid/status"
    message: "offline"

transmit:
  bt4_rate_hz: 2.0
  bt5_rate_hz: 2.0
  wifi_nan_rate_hz: 1.0
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.LogLevel != "debug" {
		t.Errorf("LogLevel: got %s, want debug", cfg.Server.LogLevel)
	}
	if !cfg.Serial.Enabled {
		t.Error("Serial should be enabled")
	}
	if cfg.Serial.Address != "0.0.0.0:14550" {
		t.Errorf("Serial Address: got %s, want 0.0.0.0:14550", cfg.Serial.Address)
	}
	if !cfg.CAN.Enabled {
		t.Error("CAN should be enabled")
	}
	if cfg.MQTT.ClientID != "test-client" {
		t.Errorf("MQTT ClientID: got %s, want test-client", cfg.MQTT.ClientID)
	}
	if cfg.Transmit.BLE4RateHz != 2.0 {
		t.Errorf("BLE4RateHz: got %f, want 2.0", cfg.Transmit.BLE4RateHz)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
serial:
  enabled: true
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.LogLevel != "info" {
		t.Errorf("Default LogLevel: got %s, want info", cfg.Server.LogLevel)
	}
	if cfg.CAN.BitrateHz != 1_000_000 {
		t.Errorf("Default CAN BitrateHz: got %d, want 1000000", cfg.CAN.BitrateHz)
	}
	if cfg.Transmit.BLE4RateHz != 1.0 {
		t.Errorf("Default BLE4RateHz: got %f, want 1.0", cfg.Transmit.BLE4RateHz)
	}
	if cfg.Security.LockLevel == nil || *cfg.Security.LockLevel != -1 {
		t.Errorf("Default LockLevel: got %v, want -1", cfg.Security.LockLevel)
	}
}

func TestApplyDefaultsPreservesExplicitZeroLockLevel(t *testing.T) {
	locked := int8(0)
	cfg := &Config{Security: SecurityConfig{LockLevel: &locked}}
	applyDefaults(cfg)
	if *cfg.Security.LockLevel != 0 {
		t.Errorf("explicit lock_level: 0 was overwritten to %d, want 0", *cfg.Security.LockLevel)
	}
}

func TestLoadConfigFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Expected error for non-existent file")
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("invalid: yaml: content:"), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Expected error for invalid YAML")
	}
}
