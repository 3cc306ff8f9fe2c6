package mode

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/HerbHall/hubnet/internal/acquire"
)

// ParseStatic builds a static assignment from text fields. A bare address
// gets a /24 prefix. dns is a comma or space separated list.
func ParseStatic(address, gateway, dns string) (*acquire.Static, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, errors.New("static address is required")
	}
	if !strings.Contains(address, "/") {
		address += "/24"
	}
	prefix, err := netip.ParsePrefix(address)
	if err != nil {
		return nil, fmt.Errorf("static address: %w", err)
	}
	s := &acquire.Static{Address: prefix}

	if gw := strings.TrimSpace(gateway); gw != "" {
		s.Gateway, err = netip.ParseAddr(gw)
		if err != nil {
			return nil, fmt.Errorf("static gateway: %w", err)
		}
	}
	for _, f := range strings.FieldsFunc(dns, func(r rune) bool { return r == ',' || r == ' ' }) {
		a, err := netip.ParseAddr(f)
		if err != nil {
			return nil, fmt.Errorf("static dns: %w", err)
		}
		s.DNS = append(s.DNS, a)
	}
	return s, nil
}

func joinAddrs(addrs []netip.Addr) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, ",")
}
