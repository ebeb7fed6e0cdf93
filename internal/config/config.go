// Package config loads and validates the worker configuration from a YAML
// file, with GNSS_* environment variables layered on top for container
// deployments. The core never re-reads configuration at runtime.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	NTRIP       NTRIPConfig       `yaml:"ntrip"`
	Receiver    ReceiverConfig    `yaml:"receiver"`
	Output      OutputConfig      `yaml:"output"`
	Logging     LoggingConfig     `yaml:"logging"`
	Positioning PositioningConfig `yaml:"positioning"`
}

type NTRIPConfig struct {
	Server            string        `yaml:"server"`
	Port              int           `yaml:"port"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	Mountpoint        string        `yaml:"mountpoint"`
	Timeout           time.Duration `yaml:"timeout"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// ReceiverConfig selects the transport: Host (with Port) for TCP, Device
// (with Baud) for serial. Exactly one of the two.
type ReceiverConfig struct {
	Device      string        `yaml:"device"`
	Baud        int           `yaml:"baud"`
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

type OutputConfig struct {
	Path           string        `yaml:"path"`
	UpdateInterval time.Duration `yaml:"update_interval"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type PositioningConfig struct {
	GGAInterval time.Duration `yaml:"gga_interval"`
}

// Load reads path (optional: an empty path configures purely from env and
// defaults), applies GNSS_* environment overrides, then defaults and
// validates. Validation failures here are the only configuration errors the
// worker ever surfaces; the core consumes the result as already valid.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills zero values with defaults and rejects impossible
// configurations.
func DefaultAndValidate(cfg *Config) error {
	if cfg.NTRIP.Server == "" {
		return fmt.Errorf("config: ntrip.server is required")
	}
	if cfg.NTRIP.Username == "" {
		return fmt.Errorf("config: ntrip.username is required")
	}
	if cfg.NTRIP.Password == "" {
		return fmt.Errorf("config: ntrip.password is required")
	}
	if cfg.NTRIP.Mountpoint == "" {
		return fmt.Errorf("config: ntrip.mountpoint is required")
	}
	if cfg.NTRIP.Port == 0 {
		cfg.NTRIP.Port = 2101
	}
	if cfg.NTRIP.Timeout <= 0 {
		cfg.NTRIP.Timeout = 30 * time.Second
	}
	if cfg.NTRIP.ReconnectInterval <= 0 {
		cfg.NTRIP.ReconnectInterval = 5 * time.Second
	}

	if cfg.Receiver.Host == "" && cfg.Receiver.Device == "" {
		return fmt.Errorf("config: receiver.host or receiver.device is required")
	}
	if cfg.Receiver.Host != "" && cfg.Receiver.Device != "" {
		return fmt.Errorf("config: receiver.host and receiver.device are mutually exclusive")
	}
	if cfg.Receiver.Host != "" && cfg.Receiver.Port == 0 {
		return fmt.Errorf("config: receiver.port is required with receiver.host")
	}
	if cfg.Receiver.Device != "" && cfg.Receiver.Baud == 0 {
		cfg.Receiver.Baud = 115200
	}
	if cfg.Receiver.ReadTimeout <= 0 {
		cfg.Receiver.ReadTimeout = time.Second
	}

	if cfg.Output.Path == "" {
		cfg.Output.Path = "/tmp/gnss_location.json"
	}
	if cfg.Output.UpdateInterval <= 0 {
		cfg.Output.UpdateInterval = time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	if cfg.Positioning.GGAInterval <= 0 {
		cfg.Positioning.GGAInterval = 30 * time.Second
	}
	return nil
}

// applyEnv overlays the GNSS_* variables the original deployments use.
func applyEnv(cfg *Config) {
	envStr("GNSS_NTRIP_SERVER", &cfg.NTRIP.Server)
	envInt("GNSS_NTRIP_PORT", &cfg.NTRIP.Port)
	envStr("GNSS_NTRIP_USERNAME", &cfg.NTRIP.Username)
	envStr("GNSS_NTRIP_PASSWORD", &cfg.NTRIP.Password)
	envStr("GNSS_NTRIP_MOUNTPOINT", &cfg.NTRIP.Mountpoint)
	envDur("GNSS_NTRIP_TIMEOUT", &cfg.NTRIP.Timeout)
	envDur("GNSS_NTRIP_RECONNECT_INTERVAL", &cfg.NTRIP.ReconnectInterval)

	envStr("GNSS_SERIAL_HOST", &cfg.Receiver.Host)
	envInt("GNSS_SERIAL_TCP_PORT", &cfg.Receiver.Port)
	envStr("GNSS_SERIAL_DEVICE", &cfg.Receiver.Device)
	envInt("GNSS_SERIAL_BAUDRATE", &cfg.Receiver.Baud)
	envDur("GNSS_SERIAL_TIMEOUT", &cfg.Receiver.ReadTimeout)

	envStr("GNSS_OUTPUT_FILE", &cfg.Output.Path)
	envDur("GNSS_UPDATE_INTERVAL", &cfg.Output.UpdateInterval)

	envStr("GNSS_LOG_LEVEL", &cfg.Logging.Level)

	envDur("GNSS_GGA_INTERVAL", &cfg.Positioning.GGAInterval)
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// envDur accepts either a Go duration string ("30s") or a bare number of
// seconds, which is what the original env files carry.
func envDur(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = time.Duration(f * float64(time.Second))
	}
}
