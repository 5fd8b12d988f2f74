// Package config loads the module's YAML configuration file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration document.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Serial   SerialConfig   `yaml:"serial"`
	CAN      CANConfig      `yaml:"can"`
	Transmit TransmitConfig `yaml:"transmit"`
	Security SecurityConfig `yaml:"security"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	HTTP     HTTPConfig     `yaml:"http"`
}

// ServerConfig contains process-wide settings.
type ServerConfig struct {
	LogLevel      string `yaml:"log_level"`
	LogBufferSize int    `yaml:"log_buffer_size"`
}

// SerialConfig configures the MAVLink serial/UDP/TCP link (C3).
type SerialConfig struct {
	Enabled        bool   `yaml:"enabled"`
	ConnectionType string `yaml:"connection_type"` // udp, tcp, serial
	Address        string `yaml:"address"`
	SerialPort     string `yaml:"serial_port"`
	SerialBaud     int    `yaml:"serial_baud"`
}

// CANConfig configures the DroneCAN link (C2).
type CANConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Interface  string `yaml:"interface"`   // e.g. "can0", or "vcan0" for SITL
	BitrateHz  uint32 `yaml:"bitrate_hz"`  // nominal bus bitrate, default 1_000_000
	NodeID     uint8  `yaml:"node_id"`     // 0 triggers dynamic node allocation
}

// TransmitConfig controls the per-backend broadcast rates (C6).
// WiFiBeacon and UASIDSuffix are parsed but not read by any component.
type TransmitConfig struct {
	BLE4RateHz  float64 `yaml:"bt4_rate_hz"`
	BLE5RateHz  float64 `yaml:"bt5_rate_hz"`
	WiFiNANRate float64 `yaml:"wifi_nan_rate_hz"`
	WiFiBeacon  bool    `yaml:"wifi_beacon_enabled"`
	UASIDSuffix string  `yaml:"uas_id"` // BLE short names come from the stored BasicID, not from this field
}

// SecurityConfig configures the Secure Command subsystem (C10).
type SecurityConfig struct {
	PublicKeys []string `yaml:"public_keys"` // "PUBLIC_KEYV1:<base64>" entries
	LockLevel  *int8    `yaml:"lock_level"`  // -1 = unlocked, matches firmware semantics; nil = unset, defaults to -1
	ForceArmOK bool     `yaml:"force_arm_ok"`
}

// MQTTConfig configures the optional UTM telemetry bridge (C11).
type MQTTConfig struct {
	Enabled     bool      `yaml:"enabled"`
	Broker      string    `yaml:"broker"`
	ClientID    string    `yaml:"client_id"`
	TopicPrefix string    `yaml:"topic_prefix"`
	QoS         int       `yaml:"qos"`
	Username    string    `yaml:"username"`
	Password    string    `yaml:"password"`
	LWT         LWTConfig `yaml:"lwt"`
}

// LWTConfig is the MQTT Last Will and Testament.
type LWTConfig struct {
	Enabled bool   `yaml:"enabled"`
	Topic   string `yaml:"topic"`
	Message string `yaml:"message"`
}

// HTTPConfig configures the read-only diagnostics API (C12).
type HTTPConfig struct {
	Enabled      bool       `yaml:"enabled"`
	Address      string     `yaml:"address"`
	CORSEnabled  bool       `yaml:"cors_enabled"`
	CORSOrigins  []string   `yaml:"cors_origins"`
	Auth         AuthConfig `yaml:"auth"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
}

// AuthConfig configures optional JWT authentication for the diagnostics API.
type AuthConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Username         string `yaml:"username"`
	PasswordHash     string `yaml:"password_hash"`
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpiryHours int    `yaml:"token_expiry_hours"`
}

// RateLimitConfig configures per-IP request throttling on the diagnostics API.
type RateLimitConfig struct {
	Enabled        bool    `yaml:"enabled"`
	RequestsPerSec float64 `yaml:"requests_per_sec"`
	BurstSize      int     `yaml:"burst_size"`
}

// Load reads and defaults a Config from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
	if cfg.Server.LogBufferSize == 0 {
		cfg.Server.LogBufferSize = 1000
	}
	if cfg.CAN.BitrateHz == 0 {
		cfg.CAN.BitrateHz = 1_000_000
	}
	if cfg.Transmit.BLE4RateHz == 0 {
		cfg.Transmit.BLE4RateHz = 1.0
	}
	if cfg.Transmit.BLE5RateHz == 0 {
		cfg.Transmit.BLE5RateHz = 1.0
	}
	if cfg.Transmit.WiFiNANRate == 0 {
		cfg.Transmit.WiFiNANRate = 1.0
	}
	if cfg.Security.LockLevel == nil {
		unlocked := int8(-1)
		cfg.Security.LockLevel = &unlocked
	}
	if cfg.HTTP.Address == "" {
		cfg.HTTP.Address = "0.0.0.0:8080"
	}
	if cfg.HTTP.Auth.TokenExpiryHours == 0 {
		cfg.HTTP.Auth.TokenExpiryHours = 24
	}
}
