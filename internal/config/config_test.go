package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestViperConfigGetString(t *testing.T) {
	v := viper.New()
	v.Set("interfaces.wireless", "wlan1")
	cfg := New(v)

	if got := cfg.GetString("interfaces.wireless"); got != "wlan1" {
		t.Errorf("GetString('interfaces.wireless') = %q, want %q", got, "wlan1")
	}
}

func TestViperConfigGetDuration(t *testing.T) {
	v := viper.New()
	v.Set("monitor.interval", "5s")
	cfg := New(v)

	want := 5 * time.Second
	if got := cfg.GetDuration("monitor.interval"); got != want {
		t.Errorf("GetDuration('monitor.interval') = %v, want %v", got, want)
	}
}

func TestViperConfigIsSet(t *testing.T) {
	v := viper.New()
	v.Set("mqtt.broker", "tcp://broker:1883")
	cfg := New(v)

	if !cfg.IsSet("mqtt.broker") {
		t.Error("IsSet('mqtt.broker') = false, want true")
	}
	if cfg.IsSet("mqtt.username") {
		t.Error("IsSet('mqtt.username') = true, want false")
	}
}

func TestViperConfigSub(t *testing.T) {
	v := viper.New()
	v.Set("arbiter.prefer_continuity", true)
	v.Set("arbiter.primary_metric", 50)
	cfg := New(v)

	sub := cfg.Sub("arbiter")
	if sub == nil {
		t.Fatal("Sub('arbiter') = nil")
	}
	if !sub.GetBool("prefer_continuity") {
		t.Error("sub.GetBool('prefer_continuity') = false, want true")
	}
	if got := sub.GetInt("primary_metric"); got != 50 {
		t.Errorf("sub.GetInt('primary_metric') = %d, want 50", got)
	}
	if cfg.Sub("missing") != nil {
		t.Error("Sub('missing') should be nil")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Interfaces.Wireless != "wlan0" {
		t.Errorf("Interfaces.Wireless = %q, want wlan0", cfg.Interfaces.Wireless)
	}
	if got := strings.Join(cfg.Interfaces.Wired, ","); got != "end0,eth0,enp0s3" {
		t.Errorf("Interfaces.Wired = %q", got)
	}
	if cfg.Hotspot.SSID != "WiFi-Setup" {
		t.Errorf("Hotspot.SSID = %q", cfg.Hotspot.SSID)
	}
	if cfg.Connect.AssociationTimeout != 30*time.Second {
		t.Errorf("AssociationTimeout = %v, want 30s", cfg.Connect.AssociationTimeout)
	}
	if cfg.Connect.BootRetries != 5 || cfg.Connect.BootBackoff != 20*time.Second {
		t.Errorf("boot retry policy = %d/%v, want 5/20s", cfg.Connect.BootRetries, cfg.Connect.BootBackoff)
	}
	if cfg.Monitor.Interval != 3*time.Second {
		t.Errorf("Monitor.Interval = %v, want 3s", cfg.Monitor.Interval)
	}
	if !cfg.Arbiter.PreferContinuity {
		t.Error("Arbiter.PreferContinuity = false, want true")
	}
	if cfg.Arbiter.PrimaryMetric != 100 || cfg.Arbiter.SecondaryMetric != 200 {
		t.Errorf("metrics = %d/%d, want 100/200", cfg.Arbiter.PrimaryMetric, cfg.Arbiter.SecondaryMetric)
	}
	if cfg.Paths.StatusFile != "/tmp/led_status" {
		t.Errorf("Paths.StatusFile = %q", cfg.Paths.StatusFile)
	}
	if cfg.HTTP.ScanCache != 30*time.Second || cfg.HTTP.NetworksPerPage != 10 {
		t.Errorf("scan cache/page = %v/%d, want 30s/10", cfg.HTTP.ScanCache, cfg.HTTP.NetworksPerPage)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hubnet.yaml")
	body := `
interfaces:
  wireless: wlan9
monitor:
  interval: 7s
arbiter:
  prefer_continuity: false
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HUBNET_STATE_DB_PATH", filepath.Join(dir, "env.db"))

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Interfaces.Wireless != "wlan9" {
		t.Errorf("Interfaces.Wireless = %q, want wlan9", cfg.Interfaces.Wireless)
	}
	if cfg.Monitor.Interval != 7*time.Second {
		t.Errorf("Monitor.Interval = %v, want 7s", cfg.Monitor.Interval)
	}
	if cfg.Arbiter.PreferContinuity {
		t.Error("PreferContinuity = true, want false from file")
	}
	if cfg.State.DBPath != filepath.Join(dir, "env.db") {
		t.Errorf("State.DBPath = %q, want env override", cfg.State.DBPath)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults ok", func(*Config) {}, ""},
		{"no wireless", func(c *Config) { c.Interfaces.Wireless = "" }, "interfaces.wireless"},
		{"zero retries", func(c *Config) { c.Connect.BootRetries = 0 }, "boot_retries"},
		{"metric order", func(c *Config) { c.Arbiter.PrimaryMetric = 300 }, "primary_metric"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
