// Package inspect reads the live state of a network interface. It is
// stateless: every call re-reads the kernel through the ip tool and sysfs.
package inspect

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/hubnet/internal/runner"
)

// DefaultSysfsRoot is where the kernel exposes per-interface attributes.
const DefaultSysfsRoot = "/sys/class/net"

const queryTimeout = 5 * time.Second

// InterfaceState is a point-in-time reading of one interface. It is never
// persisted.
type InterfaceState struct {
	Name       string     `json:"name"`
	Present    bool       `json:"present"`
	LinkUp     bool       `json:"link_up"`
	HasCarrier bool       `json:"carrier"`
	Address    netip.Addr `json:"address,omitzero"`
	Prefix     int        `json:"prefix,omitempty"`
	Gateway    netip.Addr `json:"gateway,omitzero"`
	SSID       string     `json:"ssid,omitempty"`
}

// Connected reports a present interface with link and carrier.
func (s InterfaceState) Connected() bool {
	return s.Present && s.LinkUp && s.HasCarrier
}

// HasAddress reports a usable (non link-local) IPv4 address.
func (s InterfaceState) HasAddress() bool {
	return s.Address.IsValid() && !s.Address.IsLinkLocalUnicast() && !s.Address.IsUnspecified()
}

// Prefixed renders Address/Prefix, or "" without an address.
func (s InterfaceState) Prefixed() string {
	if !s.Address.IsValid() {
		return ""
	}
	return netip.PrefixFrom(s.Address, s.Prefix).String()
}

// Equal reports whether two readings differ in any field the monitor acts
// on.
func (s InterfaceState) Equal(o InterfaceState) bool {
	return s.Name == o.Name &&
		s.Present == o.Present &&
		s.LinkUp == o.LinkUp &&
		s.HasCarrier == o.HasCarrier &&
		s.Address == o.Address &&
		s.Gateway == o.Gateway
}

// SSIDReader returns the SSID an interface is associated with.
type SSIDReader interface {
	SSID(iface string) (string, error)
}

// Option configures an Inspector.
type Option func(*Inspector)

// WithSysfsRoot overrides /sys/class/net.
func WithSysfsRoot(root string) Option {
	return func(i *Inspector) { i.sysfs = root }
}

// WithIgnoredAddress hides addr from readings. The access-point address is
// never a usable client address.
func WithIgnoredAddress(addr netip.Addr) Option {
	return func(i *Inspector) { i.ignored = append(i.ignored, addr) }
}

// WithSSIDReader enables SSID read-back for wireless interfaces.
func WithSSIDReader(r SSIDReader) Option {
	return func(i *Inspector) { i.ssid = r }
}

// Inspector queries interface state.
type Inspector struct {
	run     runner.Runner
	logger  *zap.Logger
	sysfs   string
	ignored []netip.Addr
	ssid    SSIDReader
}

// New returns an Inspector.
func New(run runner.Runner, logger *zap.Logger, opts ...Option) *Inspector {
	i := &Inspector{run: run, logger: logger, sysfs: DefaultSysfsRoot}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Inspect reads the current state of iface. A missing interface is not an
// error: it yields Present=false.
func (i *Inspector) Inspect(ctx context.Context, iface string) (InterfaceState, error) {
	st := InterfaceState{Name: iface}
	if _, err := os.Stat(filepath.Join(i.sysfs, iface)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return st, nil
		}
		return st, fmt.Errorf("stat %s: %w", iface, err)
	}
	st.Present = true

	res, err := i.run.Run(ctx, queryTimeout, "ip", "-o", "link", "show", "dev", iface)
	if err != nil {
		return st, fmt.Errorf("link %s: %w", iface, err)
	}
	if !res.OK() {
		// Removed between the sysfs check and the query.
		st.Present = false
		return st, nil
	}
	flags := linkFlags(res.Stdout)
	st.LinkUp = flags["UP"]
	st.HasCarrier = i.carrier(iface, flags["LOWER_UP"])

	res, err = i.run.Run(ctx, queryTimeout, "ip", "-o", "-4", "addr", "show", "dev", iface)
	if err != nil {
		return st, fmt.Errorf("addresses %s: %w", iface, err)
	}
	st.Address, st.Prefix = i.pickAddress(parseAddrs(res.Stdout))

	res, err = i.run.Run(ctx, queryTimeout, "ip", "-4", "route", "show", "default", "dev", iface)
	if err != nil {
		return st, fmt.Errorf("routes %s: %w", iface, err)
	}
	st.Gateway = parseGateway(res.Stdout)

	if i.ssid != nil && st.LinkUp {
		if ssid, err := i.ssid.SSID(iface); err == nil {
			st.SSID = ssid
		} else {
			i.logger.Debug("ssid read-back unavailable", zap.String("iface", iface), zap.Error(err))
		}
	}
	return st, nil
}

// FirstPresent inspects candidates in order and returns the first present
// one. With no candidate present it returns a reading named after the first
// candidate with Present=false.
func (i *Inspector) FirstPresent(ctx context.Context, candidates []string) (InterfaceState, error) {
	for _, name := range candidates {
		st, err := i.Inspect(ctx, name)
		if err != nil {
			return st, err
		}
		if st.Present {
			return st, nil
		}
	}
	if len(candidates) == 0 {
		return InterfaceState{}, nil
	}
	return InterfaceState{Name: candidates[0]}, nil
}

func (i *Inspector) carrier(iface string, lowerUp bool) bool {
	b, err := os.ReadFile(filepath.Join(i.sysfs, iface, "carrier"))
	if err != nil {
		// The kernel refuses to read carrier while the link is down.
		return lowerUp
	}
	return strings.TrimSpace(string(b)) == "1"
}

func (i *Inspector) pickAddress(addrs []netip.Prefix) (netip.Addr, int) {
	var fallback netip.Prefix
	for _, p := range addrs {
		if i.isIgnored(p.Addr()) {
			continue
		}
		if p.Addr().IsLinkLocalUnicast() {
			if !fallback.IsValid() {
				fallback = p
			}
			continue
		}
		return p.Addr(), p.Bits()
	}
	if fallback.IsValid() {
		return fallback.Addr(), fallback.Bits()
	}
	return netip.Addr{}, 0
}

func (i *Inspector) isIgnored(a netip.Addr) bool {
	for _, ig := range i.ignored {
		if ig == a {
			return true
		}
	}
	return false
}

// linkFlags parses the <...> flag list of `ip -o link show`.
func linkFlags(out string) map[string]bool {
	flags := make(map[string]bool)
	start := strings.IndexByte(out, '<')
	end := strings.IndexByte(out, '>')
	if start < 0 || end <= start {
		return flags
	}
	for _, f := range strings.Split(out[start+1:end], ",") {
		flags[f] = true
	}
	return flags
}

// parseAddrs extracts every "inet a.b.c.d/n" from `ip -o -4 addr show`.
func parseAddrs(out string) []netip.Prefix {
	var addrs []netip.Prefix
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		for j := 0; j+1 < len(fields); j++ {
			if fields[j] != "inet" {
				continue
			}
			if p, err := netip.ParsePrefix(fields[j+1]); err == nil {
				addrs = append(addrs, p)
			}
		}
	}
	return addrs
}

// parseGateway returns the "via" address of the first default route.
func parseGateway(out string) netip.Addr {
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		for j := 0; j+1 < len(fields); j++ {
			if fields[j] != "via" {
				continue
			}
			if a, err := netip.ParseAddr(fields[j+1]); err == nil {
				return a
			}
		}
	}
	return netip.Addr{}
}
