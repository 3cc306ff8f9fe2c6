package inspect

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/mdlayher/wifi"
)

// NL80211 reads the associated SSID and scan results over nl80211.
type NL80211 struct{}

var _ SSIDReader = NL80211{}

// SSID returns the SSID of the BSS iface is associated with.
func (NL80211) SSID(iface string) (string, error) {
	c, err := wifi.New()
	if err != nil {
		return "", fmt.Errorf("open nl80211: %w", err)
	}
	defer c.Close()

	ifi, err := wifiInterface(c, iface)
	if err != nil {
		return "", err
	}
	bss, err := c.BSS(ifi)
	if err != nil {
		return "", fmt.Errorf("bss %s: %w", iface, err)
	}
	return bss.SSID, nil
}

// Network is one SSID seen by a scan.
type Network struct {
	SSID  string `json:"ssid"`
	BSSID string `json:"bssid"`
	// Signal is in dBm.
	Signal    int  `json:"signal_strength"`
	Frequency int  `json:"frequency"`
	Secured   bool `json:"secured"`
}

// Scan asks iface for a fresh scan and returns the networks it sees, one
// per SSID, strongest first. A radio that refuses to scan (an interface
// serving the setup access point often does) still reports what it last
// saw.
func (NL80211) Scan(ctx context.Context, iface string) ([]Network, error) {
	c, err := wifi.New()
	if err != nil {
		return nil, fmt.Errorf("open nl80211: %w", err)
	}
	defer c.Close()

	ifi, err := wifiInterface(c, iface)
	if err != nil {
		return nil, err
	}
	scanErr := c.Scan(ctx, ifi)
	seen, err := c.AccessPoints(ifi)
	if err != nil {
		return nil, fmt.Errorf("scan results %s: %w", iface, err)
	}
	if len(seen) == 0 && scanErr != nil {
		return nil, fmt.Errorf("scan %s: %w", iface, scanErr)
	}

	nets := make([]Network, 0, len(seen))
	for _, b := range seen {
		nets = append(nets, Network{
			SSID:      b.SSID,
			BSSID:     b.BSSID.String(),
			Signal:    int(b.Signal / 100),
			Frequency: b.Frequency,
			Secured:   b.RSN.IsInitialized(),
		})
	}
	return RankNetworks(nets), nil
}

// RankNetworks drops hidden SSIDs, keeps the strongest BSS of each SSID and
// orders the result by signal, strongest first. Ties sort by SSID.
func RankNetworks(nets []Network) []Network {
	best := make(map[string]Network, len(nets))
	for _, n := range nets {
		if n.SSID == "" {
			continue
		}
		if cur, ok := best[n.SSID]; !ok || n.Signal > cur.Signal {
			best[n.SSID] = n
		}
	}
	out := make([]Network, 0, len(best))
	for _, n := range best {
		out = append(out, n)
	}
	slices.SortFunc(out, func(a, b Network) int {
		if c := cmp.Compare(b.Signal, a.Signal); c != 0 {
			return c
		}
		return cmp.Compare(a.SSID, b.SSID)
	})
	return out
}

func wifiInterface(c *wifi.Client, iface string) (*wifi.Interface, error) {
	ifis, err := c.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list wifi interfaces: %w", err)
	}
	for _, ifi := range ifis {
		if ifi.Name == iface {
			return ifi, nil
		}
	}
	return nil, fmt.Errorf("%s is not a wifi interface", iface)
}
