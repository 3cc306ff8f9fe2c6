// Package hotspot runs the setup access point: hostapd for the open network
// and dnsmasq for DHCP and catch-all DNS on the wireless interface.
package hotspot

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/hubnet/internal/runner"
)

// Config describes the access point.
type Config struct {
	Iface       string
	SSID        string
	Address     netip.Prefix
	Channel     int
	Country     string
	DHCPRange   string
	MaxStations int
	ConfigPath  string
	// CommandTimeout bounds each tool invocation.
	CommandTimeout time.Duration
}

// managedUnits are the packaged services stopped before the manager drives
// the interface itself.
var managedUnits = []string{"hostapd", "dnsmasq", "wpa_supplicant"}

// Manager starts and stops the access point services.
type Manager struct {
	run      runner.Runner
	services ServiceControl
	cfg      Config
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
}

// New returns a Manager. A nil services uses process control only.
func New(run runner.Runner, services ServiceControl, cfg Config, logger *zap.Logger) *Manager {
	if services == nil {
		services = processControl{}
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 10 * time.Second
	}
	return &Manager{run: run, services: services, cfg: cfg, logger: logger}
}

// Address returns the access point address.
func (m *Manager) Address() netip.Addr { return m.cfg.Address.Addr() }

// Running reports whether the last Start succeeded and no Stop followed.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Start (re)starts the access point: stop everything, configure the
// interface address, write the hostapd config, start hostapd then dnsmasq.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.stop(ctx); err != nil {
		m.logger.Warn("stop before start incomplete", zap.Error(err))
	}
	if err := m.configureLink(ctx); err != nil {
		return err
	}
	if err := os.WriteFile(m.cfg.ConfigPath, []byte(HostapdConfig(m.cfg)), 0o600); err != nil {
		return fmt.Errorf("write hostapd config: %w", err)
	}
	if err := m.must(ctx, "hostapd", "-B", m.cfg.ConfigPath); err != nil {
		return err
	}
	if err := m.must(ctx, "dnsmasq", DnsmasqArgs(m.cfg)...); err != nil {
		return err
	}
	m.running = true
	m.logger.Info("access point started",
		zap.String("iface", m.cfg.Iface),
		zap.String("ssid", m.cfg.SSID),
		zap.String("address", m.cfg.Address.String()),
	)
	return nil
}

// Stop tears the access point down. Every step is attempted; failures are
// returned joined.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stop(ctx)
}

func (m *Manager) stop(ctx context.Context) error {
	var errs []error
	for _, unit := range managedUnits {
		if err := m.services.Stop(ctx, unit); err != nil {
			errs = append(errs, err)
		}
	}
	for _, pattern := range []string{"hostapd", "dnsmasq.*" + m.cfg.Iface} {
		// pkill exits 1 when nothing matched.
		if _, err := m.run.Run(ctx, m.cfg.CommandTimeout, "pkill", "-f", pattern); err != nil && !errors.Is(err, runner.ErrNotFound) {
			errs = append(errs, fmt.Errorf("pkill %s: %w", pattern, err))
		}
	}
	if m.cfg.Address.IsValid() {
		// Exit 2 when the address is not assigned.
		_, _ = m.run.Run(ctx, m.cfg.CommandTimeout, "ip", "addr", "del", m.cfg.Address.String(), "dev", m.cfg.Iface)
	}
	m.running = false
	if len(errs) == 0 {
		m.logger.Debug("access point stopped", zap.String("services", m.services.Name()))
	}
	return errors.Join(errs...)
}

func (m *Manager) configureLink(ctx context.Context) error {
	iface := m.cfg.Iface
	steps := [][]string{
		{"ip", "link", "set", iface, "down"},
		{"ip", "addr", "flush", "dev", iface},
		{"ip", "route", "flush", "dev", iface},
		{"ip", "link", "set", iface, "up"},
		{"ip", "addr", "add", m.cfg.Address.String(), "dev", iface},
	}
	for _, s := range steps {
		if err := m.must(ctx, s[0], s[1:]...); err != nil {
			return err
		}
	}
	res, err := m.run.Run(ctx, m.cfg.CommandTimeout, "ip", "-o", "-4", "addr", "show", "dev", iface)
	if err != nil {
		return fmt.Errorf("verify access point address: %w", err)
	}
	if !strings.Contains(res.Stdout, " "+m.cfg.Address.Addr().String()+"/") {
		return fmt.Errorf("access point address %s not present on %s", m.cfg.Address, iface)
	}
	return nil
}

func (m *Manager) must(ctx context.Context, name string, args ...string) error {
	res, err := m.run.Run(ctx, m.cfg.CommandTimeout, name, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", runner.Line(name, args...), err)
	}
	if !res.OK() {
		return fmt.Errorf("%s: exit %d: %s", runner.Line(name, args...), res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// HostapdConfig renders the open-network hostapd configuration.
func HostapdConfig(cfg Config) string {
	var b strings.Builder
	fmt.Fprintf(&b, "interface=%s\n", cfg.Iface)
	b.WriteString("driver=nl80211\n")
	fmt.Fprintf(&b, "ssid=%s\n", cfg.SSID)
	b.WriteString("hw_mode=g\n")
	fmt.Fprintf(&b, "channel=%d\n", cfg.Channel)
	b.WriteString("auth_algs=1\n")
	b.WriteString("wpa=0\n")
	b.WriteString("ieee80211n=1\n")
	b.WriteString("wmm_enabled=1\n")
	if cfg.Country != "" {
		fmt.Fprintf(&b, "country_code=%s\n", cfg.Country)
	}
	b.WriteString("beacon_int=100\n")
	b.WriteString("ignore_broadcast_ssid=0\n")
	if cfg.MaxStations > 0 {
		fmt.Fprintf(&b, "max_num_sta=%d\n", cfg.MaxStations)
	}
	return b.String()
}

// DnsmasqArgs returns the dnsmasq command line. Every DNS name resolves to
// the access point so phones open the setup page.
func DnsmasqArgs(cfg Config) []string {
	addr := cfg.Address.Addr().String()
	return []string{
		"--interface=" + cfg.Iface,
		"--bind-interfaces",
		"--except-interface=lo",
		"--dhcp-range=" + cfg.DHCPRange,
		"--dhcp-option=3," + addr,
		"--dhcp-option=6," + addr,
		"--address=/#/" + addr,
		"--no-resolv",
		"--no-hosts",
		"--log-dhcp",
	}
}
