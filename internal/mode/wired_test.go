package mode

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HerbHall/hubnet/internal/acquire"
	"github.com/HerbHall/hubnet/internal/arbiter"
	"github.com/HerbHall/hubnet/internal/inspect"
	"github.com/HerbHall/hubnet/internal/monitor"
	"github.com/HerbHall/hubnet/internal/state"
	"github.com/HerbHall/hubnet/internal/status"
)

// linkTable stands in for the kernel: the inspector reads it and a wired
// lease writes the address back into it.
type linkTable struct {
	mu    sync.Mutex
	wired inspect.InterfaceState
	lease acquire.Lease
	wants []netip.Addr
}

func (l *linkTable) plug(s inspect.InterfaceState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.wired = s
}

func (l *linkTable) Inspect(_ context.Context, iface string) (inspect.InterfaceState, error) {
	return inspect.InterfaceState{Name: iface, Present: true}, nil
}

func (l *linkTable) FirstPresent(_ context.Context, _ []string) (inspect.InterfaceState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wired, nil
}

func (l *linkTable) AcquireWired(_ context.Context, iface string, want netip.Addr) (acquire.Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.wants = append(l.wants, want)
	l.wired.Address, l.wired.Prefix, l.wired.Gateway = l.lease.Address, l.lease.Prefix, l.lease.Gateway
	lease := l.lease
	lease.Iface = iface
	return lease, nil
}

type routeLog struct {
	mu  sync.Mutex
	set []string
}

func (r *routeLog) SetDefault(_ context.Context, iface string, gw netip.Addr, metric int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.set = append(r.set, fmt.Sprintf("%s via %s metric %d", iface, gw, metric))
	return nil
}

func (r *routeLog) RemoveDefault(context.Context, string) error { return nil }

func (r *routeLog) routes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.set...)
}

func TestRun_AccessPointLeasesWiredLink(t *testing.T) {
	h := newHarness(t, Config{})
	links := &linkTable{lease: acquire.Lease{
		Address: netip.MustParseAddr("10.0.0.50"), Prefix: 24,
		Gateway: netip.MustParseAddr("10.0.0.1"), Method: "test",
	}}
	routes := &routeLog{}
	arb := arbiter.New(links, routes, h.shared, arbiter.Config{
		PrimaryMetric: 100, SecondaryMetric: 200,
	}, zap.NewNop())
	kick := make(chan struct{}, 1)
	mon := monitor.New(monitor.Config{
		Wireless:        "wlan0",
		WiredCandidates: []string{"eth0"},
		Interval:        time.Hour,
	}, links, arb, nil, nil, h.ctl.StatusSink(), zap.NewNop(),
		monitor.WithKick(kick),
		monitor.WithHooks(monitor.Hooks{WithLock: h.ctl.WithLock, OnDecision: h.ctl.Observe}),
	)
	h.ctl.AttachMonitor(mon)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.ctl.Run(ctx) }()

	require.Eventually(t, func() bool { return h.sink.Contains(status.AccessPointAdvertising) },
		time.Second, 5*time.Millisecond)

	links.plug(inspect.InterfaceState{Name: "eth0", Present: true, LinkUp: true, HasCarrier: true})
	kick <- struct{}{}

	require.Eventually(t, func() bool { return h.ctl.Status().ActiveInterface == state.InterfaceWired },
		time.Second, 5*time.Millisecond)

	snap := h.ctl.Status()
	assert.Equal(t, AccessPoint, snap.Mode, "wired link must not leave access point mode")
	assert.Equal(t, netip.MustParseAddr("10.0.0.50"), snap.Address)
	assert.Equal(t, status.AccessPointAdvertising, snap.Status)
	assert.Equal(t, []string{"eth0 via 10.0.0.1 metric 100"}, routes.routes())

	sh, err := h.shared.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, state.InterfaceWired, sh.ActiveInterface)
	assert.Equal(t, netip.MustParseAddr("10.0.0.50"), sh.SharedAddress)

	_, stops := h.ap.counts()
	assert.Zero(t, stops, "access point torn down for the wired link")

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, status.AccessPointAdvertising, h.sink.Values()[len(h.sink.Values())-2])
}

func TestRun_ResetDuringBootBackoff(t *testing.T) {
	h := newHarness(t, Config{BootRetries: 5})
	require.NoError(t, h.profiles.Save(context.Background(), state.Profile{SSID: "home", Secret: "correct horse"}))
	h.acq.fn = func(context.Context, acquire.WirelessRequest) (acquire.Lease, error) {
		return acquire.Lease{}, &acquire.Error{Kind: acquire.KindNetworkNotFound}
	}
	sleeping := make(chan struct{}, 1)
	h.ctl.sleep = func(ctx context.Context, _ time.Duration) error {
		select {
		case sleeping <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.ctl.Run(ctx) }()

	select {
	case <-sleeping:
	case <-time.After(time.Second):
		t.Fatal("boot never reached its back-off")
	}
	assert.True(t, h.ctl.RequestReset(SourceSignal))

	require.Eventually(t, func() bool { return h.ctl.Status().ResetCount == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, AccessPoint, h.ctl.Mode())
	assert.Equal(t, 1, h.acq.calls(), "boot kept retrying after the reset")
	_, err := h.profiles.Load(context.Background())
	assert.ErrorIs(t, err, state.ErrNotFound)
	assert.True(t, h.sink.Contains(status.ResetInProgress))
}
