package hotspot

import (
	"context"
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HerbHall/hubnet/internal/runner"
	"github.com/HerbHall/hubnet/internal/testutil"
)

type fakeServices struct {
	stopped []string
	err     error
}

func (f *fakeServices) Name() string { return "fake" }
func (f *fakeServices) Stop(_ context.Context, unit string) error {
	f.stopped = append(f.stopped, unit)
	return f.err
}

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Iface:       "wlan0",
		SSID:        "WiFi-Setup",
		Address:     netip.MustParsePrefix("192.168.4.1/24"),
		Channel:     6,
		Country:     "US",
		DHCPRange:   "192.168.4.10,192.168.4.50,12h",
		MaxStations: 10,
		ConfigPath:  filepath.Join(t.TempDir(), "hostapd.conf"),
	}
}

const apAddrLine = "3: wlan0    inet 192.168.4.1/24 brd 192.168.4.255 scope global wlan0\n"

func TestStart_Order(t *testing.T) {
	cfg := testConfig(t)
	run := testutil.NewFakeRunner().On("ip -o -4 addr show dev wlan0", apAddrLine, 0)
	svc := &fakeServices{}
	m := New(run, svc, cfg, zap.NewNop())

	require.NoError(t, m.Start(context.Background()))
	assert.True(t, m.Running())
	assert.Equal(t, managedUnits, svc.stopped)

	order := []string{
		"pkill -f hostapd",
		"ip link set wlan0 down",
		"ip addr flush dev wlan0",
		"ip link set wlan0 up",
		"ip addr add 192.168.4.1/24 dev wlan0",
		"hostapd -B " + cfg.ConfigPath,
		"dnsmasq --interface=wlan0",
	}
	prev := -1
	for _, p := range order {
		i := run.Index(p)
		require.GreaterOrEqual(t, i, 0, "missing %q in %v", p, run.Calls())
		assert.Greater(t, i, prev, "%q out of order", p)
		prev = i
	}

	body, err := os.ReadFile(cfg.ConfigPath)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ssid=WiFi-Setup\n")
	assert.Contains(t, string(body), "wpa=0\n")
}

func TestStart_AddressMissing(t *testing.T) {
	run := testutil.NewFakeRunner().On("ip -o -4 addr show dev wlan0", "", 0)
	m := New(run, nil, testConfig(t), zap.NewNop())

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.False(t, m.Running())
	assert.False(t, run.Called("hostapd -B"))
}

func TestStart_HostapdFails(t *testing.T) {
	run := testutil.NewFakeRunner().
		On("ip -o -4 addr show dev wlan0", apAddrLine, 0).
		Handle("hostapd -B", func(string) (runner.Result, error) {
			return runner.Result{ExitCode: 1, Stderr: "nl80211: Could not configure driver mode\n"}, nil
		})
	m := New(run, nil, testConfig(t), zap.NewNop())

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Could not configure driver mode")
	assert.False(t, run.Called("dnsmasq"))
	assert.False(t, m.Running())
}

func TestStart_MissingBinary(t *testing.T) {
	run := testutil.NewFakeRunner().
		On("ip -o -4 addr show dev wlan0", apAddrLine, 0).
		Fail("dnsmasq", runner.ErrNotFound)
	m := New(run, nil, testConfig(t), zap.NewNop())

	err := m.Start(context.Background())
	require.ErrorIs(t, err, runner.ErrNotFound)
}

func TestStop_JoinsErrors(t *testing.T) {
	run := testutil.NewFakeRunner()
	svc := &fakeServices{err: errors.New("bus gone")}
	m := New(run, svc, testConfig(t), zap.NewNop())

	err := m.Stop(context.Background())
	require.Error(t, err)
	assert.Len(t, svc.stopped, len(managedUnits))
	assert.True(t, run.Called("pkill -f dnsmasq.*wlan0"))
	assert.True(t, run.Called("ip addr del 192.168.4.1/24 dev wlan0"))
}

func TestHostapdConfig(t *testing.T) {
	cfg := testConfig(t)
	got := HostapdConfig(cfg)
	for _, want := range []string{
		"interface=wlan0\n",
		"driver=nl80211\n",
		"hw_mode=g\n",
		"channel=6\n",
		"country_code=US\n",
		"max_num_sta=10\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("config missing %q:\n%s", want, got)
		}
	}

	cfg.Country = ""
	cfg.MaxStations = 0
	got = HostapdConfig(cfg)
	if strings.Contains(got, "country_code") || strings.Contains(got, "max_num_sta") {
		t.Errorf("optional keys rendered:\n%s", got)
	}
}

func TestDnsmasqArgs(t *testing.T) {
	args := DnsmasqArgs(testConfig(t))
	want := []string{
		"--interface=wlan0",
		"--dhcp-range=192.168.4.10,192.168.4.50,12h",
		"--dhcp-option=3,192.168.4.1",
		"--dhcp-option=6,192.168.4.1",
		"--address=/#/192.168.4.1",
	}
	for _, w := range want {
		assert.Contains(t, args, w)
	}
}
