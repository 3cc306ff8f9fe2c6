package inspect

import (
	"context"
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/HerbHall/hubnet/internal/testutil"
)

// fakeSysfs creates <root>/<iface>/carrier for each entry; an empty carrier
// value creates the directory without the file.
func fakeSysfs(t *testing.T, carriers map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, c := range carriers {
		dir := filepath.Join(root, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if c != "" {
			if err := os.WriteFile(filepath.Join(dir, "carrier"), []byte(c+"\n"), 0o644); err != nil {
				t.Fatal(err)
			}
		}
	}
	return root
}

const (
	linkUp   = "2: eth0: <BROADCAST,MULTICAST,UP,LOWER_UP> mtu 1500 qdisc mq state UP mode DEFAULT group default qlen 1000\\    link/ether 00:11:22:33:44:55 brd ff:ff:ff:ff:ff:ff"
	linkDown = "2: eth0: <NO-CARRIER,BROADCAST,MULTICAST> mtu 1500 qdisc mq state DOWN mode DEFAULT group default qlen 1000"
)

func TestInspect_Absent(t *testing.T) {
	run := testutil.NewFakeRunner()
	in := New(run, zap.NewNop(), WithSysfsRoot(fakeSysfs(t, nil)))

	st, err := in.Inspect(context.Background(), "eth0")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if st.Present || st.Connected() || st.HasAddress() {
		t.Errorf("absent interface reported %+v", st)
	}
	if len(run.Calls()) != 0 {
		t.Errorf("no commands expected for an absent interface, got %v", run.Calls())
	}
}

func TestInspect_ConnectedWithAddressAndGateway(t *testing.T) {
	run := testutil.NewFakeRunner().
		On("ip -o link show dev eth0", linkUp, 0).
		On("ip -o -4 addr show dev eth0",
			"2: eth0    inet 169.254.10.2/16 brd 169.254.255.255 scope link eth0\\       valid_lft forever preferred_lft forever\n"+
				"2: eth0    inet 10.0.0.50/24 brd 10.0.0.255 scope global dynamic eth0\\       valid_lft 86000sec preferred_lft 86000sec\n", 0).
		On("ip -4 route show default dev eth0", "default via 10.0.0.1 proto dhcp src 10.0.0.50 metric 100\n", 0)
	in := New(run, zap.NewNop(), WithSysfsRoot(fakeSysfs(t, map[string]string{"eth0": "1"})))

	st, err := in.Inspect(context.Background(), "eth0")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if !st.Connected() {
		t.Errorf("Connected() = false for %+v", st)
	}
	if st.Address != netip.MustParseAddr("10.0.0.50") || st.Prefix != 24 {
		t.Errorf("address = %s/%d, want 10.0.0.50/24", st.Address, st.Prefix)
	}
	if st.Gateway != netip.MustParseAddr("10.0.0.1") {
		t.Errorf("gateway = %s, want 10.0.0.1", st.Gateway)
	}
	if !st.HasAddress() {
		t.Error("HasAddress() = false")
	}
	if st.Prefixed() != "10.0.0.50/24" {
		t.Errorf("Prefixed() = %q", st.Prefixed())
	}
}

func TestInspect_LinkLocalOnlyIsNotUsable(t *testing.T) {
	run := testutil.NewFakeRunner().
		On("ip -o link show dev eth0", linkUp, 0).
		On("ip -o -4 addr show dev eth0", "2: eth0    inet 169.254.3.4/16 scope link eth0\n", 0)
	in := New(run, zap.NewNop(), WithSysfsRoot(fakeSysfs(t, map[string]string{"eth0": "1"})))

	st, err := in.Inspect(context.Background(), "eth0")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if !st.Address.IsValid() {
		t.Fatal("link-local address should still be reported")
	}
	if st.HasAddress() {
		t.Error("HasAddress() = true for a link-local address")
	}
}

func TestInspect_IgnoresAccessPointAddress(t *testing.T) {
	run := testutil.NewFakeRunner().
		On("ip -o link show dev wlan0", linkUp, 0).
		On("ip -o -4 addr show dev wlan0", "3: wlan0    inet 192.168.4.1/24 scope global wlan0\n", 0)
	in := New(run, zap.NewNop(),
		WithSysfsRoot(fakeSysfs(t, map[string]string{"wlan0": "1"})),
		WithIgnoredAddress(netip.MustParseAddr("192.168.4.1")))

	st, err := in.Inspect(context.Background(), "wlan0")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if st.HasAddress() {
		t.Errorf("access-point address reported as usable: %s", st.Address)
	}
}

func TestInspect_CarrierFallsBackToLowerUp(t *testing.T) {
	run := testutil.NewFakeRunner().On("ip -o link show dev eth0", linkDown, 0)
	// Directory without carrier file: the kernel refuses the read when down.
	in := New(run, zap.NewNop(), WithSysfsRoot(fakeSysfs(t, map[string]string{"eth0": ""})))

	st, err := in.Inspect(context.Background(), "eth0")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if !st.Present || st.LinkUp || st.HasCarrier {
		t.Errorf("got %+v, want present, down, no carrier", st)
	}
}

func TestInspect_RunnerError(t *testing.T) {
	run := testutil.NewFakeRunner().Fail("ip -o link", errors.New("exec failed"))
	in := New(run, zap.NewNop(), WithSysfsRoot(fakeSysfs(t, map[string]string{"eth0": "1"})))

	if _, err := in.Inspect(context.Background(), "eth0"); err == nil {
		t.Fatal("expected error")
	}
}

type staticSSID string

func (s staticSSID) SSID(string) (string, error) { return string(s), nil }

func TestInspect_SSIDReadBack(t *testing.T) {
	run := testutil.NewFakeRunner().On("ip -o link show dev wlan0", linkUp, 0)
	in := New(run, zap.NewNop(),
		WithSysfsRoot(fakeSysfs(t, map[string]string{"wlan0": "1"})),
		WithSSIDReader(staticSSID("HomeNet")))

	st, err := in.Inspect(context.Background(), "wlan0")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if st.SSID != "HomeNet" {
		t.Errorf("SSID = %q, want HomeNet", st.SSID)
	}
}

func TestFirstPresent(t *testing.T) {
	run := testutil.NewFakeRunner().On("ip -o link show dev eth0", linkUp, 0)
	in := New(run, zap.NewNop(), WithSysfsRoot(fakeSysfs(t, map[string]string{"eth0": "1"})))

	st, err := in.FirstPresent(context.Background(), []string{"end0", "eth0", "enp0s3"})
	if err != nil {
		t.Fatalf("FirstPresent: %v", err)
	}
	if st.Name != "eth0" || !st.Present {
		t.Errorf("got %+v, want present eth0", st)
	}

	none, err := in.FirstPresent(context.Background(), []string{"end0", "enp0s3"})
	if err != nil {
		t.Fatalf("FirstPresent: %v", err)
	}
	if none.Name != "end0" || none.Present {
		t.Errorf("got %+v, want absent end0", none)
	}
}

func TestEqual(t *testing.T) {
	a := InterfaceState{Name: "eth0", Present: true, LinkUp: true, HasCarrier: true, Address: netip.MustParseAddr("10.0.0.5")}
	b := a
	if !a.Equal(b) {
		t.Error("identical states should be equal")
	}
	b.SSID = "ignored"
	if !a.Equal(b) {
		t.Error("SSID must not affect equality")
	}
	b.Gateway = netip.MustParseAddr("10.0.0.1")
	if a.Equal(b) {
		t.Error("gateway change must be detected")
	}
}
