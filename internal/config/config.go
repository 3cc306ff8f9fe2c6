// Package config loads hubnetd configuration from a YAML file, environment
// variables (HUBNET_ prefix) and built-in defaults using viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// HUBNET_INTERFACES_WIRELESS=wlan1.
const EnvPrefix = "HUBNET"

// Config is the fully resolved daemon configuration.
type Config struct {
	Interfaces InterfacesConfig `mapstructure:"interfaces"`
	Hotspot    HotspotConfig    `mapstructure:"hotspot"`
	Paths      PathsConfig      `mapstructure:"paths"`
	State      StateConfig      `mapstructure:"state"`
	Connect    ConnectConfig    `mapstructure:"connect"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Arbiter    ArbiterConfig    `mapstructure:"arbiter"`
	Static     StaticConfig     `mapstructure:"static"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	MDNS       MDNSConfig       `mapstructure:"mdns"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// InterfacesConfig names the managed network interfaces.
type InterfacesConfig struct {
	Wireless string   `mapstructure:"wireless"`
	Wired    []string `mapstructure:"wired"`
}

// HotspotConfig describes the setup access point.
type HotspotConfig struct {
	SSID      string `mapstructure:"ssid"`
	Address   string `mapstructure:"address"`
	Channel   int    `mapstructure:"channel"`
	Country   string `mapstructure:"country"`
	DHCPRange string `mapstructure:"dhcp_range"`
	MaxSta    int    `mapstructure:"max_stations"`
}

// PathsConfig lists files written or read by the daemon.
type PathsConfig struct {
	WPAConfig     string `mapstructure:"wpa_config"`
	HostapdConfig string `mapstructure:"hostapd_config"`
	StatusFile    string `mapstructure:"status_file"`
	PIDFile       string `mapstructure:"pid_file"`
	ResolvConf    string `mapstructure:"resolv_conf"`
}

// StateConfig locates the persisted state database.
type StateConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// ConnectConfig holds connect-sequence timing policy.
type ConnectConfig struct {
	AssociationTimeout time.Duration `mapstructure:"association_timeout"`
	NotFoundWindow     time.Duration `mapstructure:"not_found_window"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	AddressTimeout     time.Duration `mapstructure:"address_timeout"`
	LeaseToolTimeout   time.Duration `mapstructure:"lease_tool_timeout"`
	ProbeTimeout       time.Duration `mapstructure:"probe_timeout"`
	BootRetries        int           `mapstructure:"boot_retries"`
	BootBackoff        time.Duration `mapstructure:"boot_backoff"`
	LeaseStrategies    []string      `mapstructure:"lease_strategies"`
}

// MonitorConfig holds Monitor Loop timing.
type MonitorConfig struct {
	Interval             time.Duration `mapstructure:"interval"`
	FallbackGrace        time.Duration `mapstructure:"fallback_grace"`
	HealthInterval       time.Duration `mapstructure:"health_interval"`
	ResetListenerPattern string        `mapstructure:"reset_listener_pattern"`
	Netwatch             bool          `mapstructure:"netwatch"`
}

// ArbiterConfig holds the priority arbitration policy.
type ArbiterConfig struct {
	PreferContinuity bool `mapstructure:"prefer_continuity"`
	PrimaryMetric    int  `mapstructure:"primary_metric"`
	SecondaryMetric  int  `mapstructure:"secondary_metric"`
}

// StaticConfig holds defaults offered for static addressing.
type StaticConfig struct {
	Address string `mapstructure:"address"`
	Gateway string `mapstructure:"gateway"`
	DNS     string `mapstructure:"dns"`
}

// HTTPConfig configures the intake API.
type HTTPConfig struct {
	Addr          string  `mapstructure:"addr"`
	ConnectPerMin float64 `mapstructure:"connect_per_minute"`
	ConnectBurst  int     `mapstructure:"connect_burst"`
	// ScanCache is how long network scan results are reused.
	ScanCache       time.Duration `mapstructure:"scan_cache"`
	NetworksPerPage int           `mapstructure:"networks_per_page"`
}

// MQTTConfig configures the optional MQTT status publisher.
type MQTTConfig struct {
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
}

// MDNSConfig configures the client-mode mDNS announcement.
type MDNSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Instance string `mapstructure:"instance"`
	Port     int    `mapstructure:"port"`
}

// LoggingConfig selects the zap logger flavour.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("interfaces.wireless", "wlan0")
	v.SetDefault("interfaces.wired", []string{"end0", "eth0", "enp0s3"})

	v.SetDefault("hotspot.ssid", "WiFi-Setup")
	v.SetDefault("hotspot.address", "192.168.4.1/24")
	v.SetDefault("hotspot.channel", 6)
	v.SetDefault("hotspot.country", "US")
	v.SetDefault("hotspot.dhcp_range", "192.168.4.10,192.168.4.50,12h")
	v.SetDefault("hotspot.max_stations", 10)

	v.SetDefault("paths.wpa_config", "/tmp/wpa_supplicant.conf")
	v.SetDefault("paths.hostapd_config", "/tmp/hostapd.conf")
	v.SetDefault("paths.status_file", "/tmp/led_status")
	v.SetDefault("paths.pid_file", "/tmp/onboarding.pid")
	v.SetDefault("paths.resolv_conf", "/etc/resolv.conf")

	v.SetDefault("state.db_path", "/data/hubnet.db")

	v.SetDefault("connect.association_timeout", 30*time.Second)
	v.SetDefault("connect.not_found_window", 15*time.Second)
	v.SetDefault("connect.poll_interval", time.Second)
	v.SetDefault("connect.address_timeout", 15*time.Second)
	v.SetDefault("connect.lease_tool_timeout", 20*time.Second)
	v.SetDefault("connect.probe_timeout", 3*time.Second)
	v.SetDefault("connect.boot_retries", 5)
	v.SetDefault("connect.boot_backoff", 20*time.Second)
	v.SetDefault("connect.lease_strategies", []string{"dhcpcd", "dhclient", "udhcpc", "native"})

	v.SetDefault("monitor.interval", 3*time.Second)
	v.SetDefault("monitor.fallback_grace", 60*time.Second)
	v.SetDefault("monitor.health_interval", 30*time.Second)
	v.SetDefault("monitor.reset_listener_pattern", "button_monitor")
	v.SetDefault("monitor.netwatch", true)

	v.SetDefault("arbiter.prefer_continuity", true)
	v.SetDefault("arbiter.primary_metric", 100)
	v.SetDefault("arbiter.secondary_metric", 200)

	v.SetDefault("static.address", "192.168.1.100/24")
	v.SetDefault("static.gateway", "192.168.1.1")
	v.SetDefault("static.dns", "8.8.8.8")

	v.SetDefault("http.addr", ":80")
	v.SetDefault("http.connect_per_minute", 6.0)
	v.SetDefault("http.connect_burst", 2)
	v.SetDefault("http.scan_cache", "30s")
	v.SetDefault("http.networks_per_page", 10)

	v.SetDefault("mqtt.client_id", "hubnetd")
	v.SetDefault("mqtt.topic_prefix", "hubnet")

	v.SetDefault("mdns.enabled", true)
	v.SetDefault("mdns.instance", "hubnet")
	v.SetDefault("mdns.port", 80)

	v.SetDefault("logging.level", "info")
}

// NewViper returns a viper instance with defaults and environment binding
// applied. If path is non-empty the file is read; a missing file is an error.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}
	return v, nil
}

// Load reads configuration from path (optional) and returns the typed Config.
func Load(path string) (*Config, error) {
	v, err := NewViper(path)
	if err != nil {
		return nil, err
	}
	return Decode(v)
}

// Decode unmarshals v into a Config and validates it.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the manager cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Interfaces.Wireless == "" {
		errs = append(errs, errors.New("interfaces.wireless is required"))
	}
	if c.State.DBPath == "" {
		errs = append(errs, errors.New("state.db_path is required"))
	}
	if c.Connect.AssociationTimeout <= 0 {
		errs = append(errs, errors.New("connect.association_timeout must be positive"))
	}
	if c.Connect.BootRetries < 1 {
		errs = append(errs, errors.New("connect.boot_retries must be at least 1"))
	}
	if c.Monitor.Interval <= 0 {
		errs = append(errs, errors.New("monitor.interval must be positive"))
	}
	if c.Arbiter.PrimaryMetric >= c.Arbiter.SecondaryMetric {
		errs = append(errs, fmt.Errorf("arbiter.primary_metric (%d) must be lower than secondary_metric (%d)",
			c.Arbiter.PrimaryMetric, c.Arbiter.SecondaryMetric))
	}
	return errors.Join(errs...)
}

// ViperConfig adapts a *viper.Viper for key-level lookups by components
// that only need a handful of values.
type ViperConfig struct {
	v *viper.Viper
}

// New wraps v.
func New(v *viper.Viper) *ViperConfig {
	return &ViperConfig{v: v}
}

func (c *ViperConfig) GetString(key string) string          { return c.v.GetString(key) }
func (c *ViperConfig) GetInt(key string) int                { return c.v.GetInt(key) }
func (c *ViperConfig) GetBool(key string) bool              { return c.v.GetBool(key) }
func (c *ViperConfig) GetDuration(key string) time.Duration { return c.v.GetDuration(key) }
func (c *ViperConfig) GetStringSlice(key string) []string   { return c.v.GetStringSlice(key) }
func (c *ViperConfig) IsSet(key string) bool                { return c.v.IsSet(key) }

// Sub returns the sub-tree rooted at key, or nil when the key is absent.
func (c *ViperConfig) Sub(key string) *ViperConfig {
	sub := c.v.Sub(key)
	if sub == nil {
		return nil
	}
	return &ViperConfig{v: sub}
}
