package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalYAML = `
ntrip:
  server: caster.example.com
  username: user
  password: secret
  mountpoint: HeFei
receiver:
  device: /dev/ttyUSB0
`

func TestLoad_MinimalWithDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NTRIP.Port != 2101 {
		t.Errorf("ntrip.port = %d", cfg.NTRIP.Port)
	}
	if cfg.NTRIP.ReconnectInterval != 5*time.Second {
		t.Errorf("reconnect_interval = %v", cfg.NTRIP.ReconnectInterval)
	}
	if cfg.Receiver.Baud != 115200 {
		t.Errorf("baud = %d", cfg.Receiver.Baud)
	}
	if cfg.Receiver.ReadTimeout != time.Second {
		t.Errorf("read_timeout = %v", cfg.Receiver.ReadTimeout)
	}
	if cfg.Output.Path != "/tmp/gnss_location.json" {
		t.Errorf("output.path = %q", cfg.Output.Path)
	}
	if cfg.Output.UpdateInterval != time.Second {
		t.Errorf("update_interval = %v", cfg.Output.UpdateInterval)
	}
	if cfg.Positioning.GGAInterval != 30*time.Second {
		t.Errorf("gga_interval = %v", cfg.Positioning.GGAInterval)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
}

func TestLoad_FullySpecified(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
ntrip:
  server: 220.180.239.212
  port: 7990
  username: QL_NTRIP
  password: "123456"
  mountpoint: HeFei
  reconnect_interval: 10s
receiver:
  host: 192.168.1.40
  port: 9999
  read_timeout: 2s
output:
  path: /run/gnss/location.json
  update_interval: 500ms
logging:
  level: debug
positioning:
  gga_interval: 15s
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NTRIP.Port != 7990 || cfg.NTRIP.Mountpoint != "HeFei" {
		t.Errorf("ntrip = %+v", cfg.NTRIP)
	}
	if cfg.Receiver.Host != "192.168.1.40" || cfg.Receiver.Port != 9999 {
		t.Errorf("receiver = %+v", cfg.Receiver)
	}
	if cfg.Output.UpdateInterval != 500*time.Millisecond {
		t.Errorf("update_interval = %v", cfg.Output.UpdateInterval)
	}
	if cfg.Positioning.GGAInterval != 15*time.Second {
		t.Errorf("gga_interval = %v", cfg.Positioning.GGAInterval)
	}
}

func TestLoad_RequiredFields(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"missing server", `
ntrip:
  username: u
  password: p
  mountpoint: M
receiver:
  device: /dev/ttyUSB0
`, "ntrip.server"},
		{"missing mountpoint", `
ntrip:
  server: s
  username: u
  password: p
receiver:
  device: /dev/ttyUSB0
`, "ntrip.mountpoint"},
		{"no transport", `
ntrip:
  server: s
  username: u
  password: p
  mountpoint: M
`, "receiver.host or receiver.device"},
		{"both transports", `
ntrip:
  server: s
  username: u
  password: p
  mountpoint: M
receiver:
  device: /dev/ttyUSB0
  host: 10.0.0.1
  port: 9999
`, "mutually exclusive"},
		{"tcp without port", `
ntrip:
  server: s
  username: u
  password: p
  mountpoint: M
receiver:
  host: 10.0.0.1
`, "receiver.port"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GNSS_NTRIP_MOUNTPOINT", "RTCM33_GRC")
	t.Setenv("GNSS_NTRIP_PORT", "7990")
	t.Setenv("GNSS_UPDATE_INTERVAL", "0.5") // bare seconds, original style
	t.Setenv("GNSS_GGA_INTERVAL", "10s")

	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NTRIP.Mountpoint != "RTCM33_GRC" {
		t.Errorf("mountpoint = %q", cfg.NTRIP.Mountpoint)
	}
	if cfg.NTRIP.Port != 7990 {
		t.Errorf("port = %d", cfg.NTRIP.Port)
	}
	if cfg.Output.UpdateInterval != 500*time.Millisecond {
		t.Errorf("update_interval = %v", cfg.Output.UpdateInterval)
	}
	if cfg.Positioning.GGAInterval != 10*time.Second {
		t.Errorf("gga_interval = %v", cfg.Positioning.GGAInterval)
	}
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("GNSS_NTRIP_SERVER", "caster.example.com")
	t.Setenv("GNSS_NTRIP_USERNAME", "u")
	t.Setenv("GNSS_NTRIP_PASSWORD", "p")
	t.Setenv("GNSS_NTRIP_MOUNTPOINT", "M")
	t.Setenv("GNSS_SERIAL_HOST", "127.0.0.1")
	t.Setenv("GNSS_SERIAL_TCP_PORT", "8888")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Receiver.Host != "127.0.0.1" || cfg.Receiver.Port != 8888 {
		t.Errorf("receiver = %+v", cfg.Receiver)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
