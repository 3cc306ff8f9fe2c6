package acquire

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Native is an in-process DHCPv4 client. It needs no external binary, so it
// sits last in the default strategy list as the fallback of last resort.
// An applied lease is renewed in the background until Release is called for
// its interface.
type Native struct {
	timeout time.Duration
	logger  *zap.Logger

	mu       sync.Mutex
	renewals map[string]context.CancelFunc
}

var (
	_ LeaseStrategy = (*Native)(nil)
	_ Releaser      = (*Native)(nil)
)

// NewNative returns the in-process strategy.
func NewNative(timeout time.Duration, logger *zap.Logger) *Native {
	return &Native{timeout: timeout, logger: logger, renewals: make(map[string]context.CancelFunc)}
}

func (n *Native) Name() string { return "native" }

// Release stops renewing the lease held on iface.
func (n *Native) Release(iface string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if cancel, ok := n.renewals[iface]; ok {
		cancel()
		delete(n.renewals, iface)
	}
}

// track replaces any renewal running on iface and returns the context the
// new one runs under.
func (n *Native) track(iface string) context.Context {
	n.mu.Lock()
	defer n.mu.Unlock()
	if cancel, ok := n.renewals[iface]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	n.renewals[iface] = cancel
	return ctx
}

// infiniteLease is the DHCP encoding of a lease that never expires.
const infiniteLease = time.Duration(math.MaxUint32) * time.Second

// leaseTiming is how long an applied address lives and when to renew it.
// Zero lifetimes install a permanent address; a zero Renew never renews.
type leaseTiming struct {
	Valid     int
	Preferred int
	Renew     time.Duration
}

// timingFor derives address lifetimes (seconds) and the renewal delay from
// the lease time and the server's T1 and T2. Missing or inconsistent T1 and
// T2 fall back to 1/2 and 7/8 of the lease (RFC 2131 4.4.5).
func timingFor(lease, t1, t2 time.Duration) leaseTiming {
	if lease <= 0 || lease >= infiniteLease {
		return leaseTiming{}
	}
	if lease < time.Second {
		lease = time.Second
	}
	if t2 <= 0 || t2 > lease {
		t2 = lease * 7 / 8
	}
	if t1 <= 0 || t1 >= t2 {
		t1 = lease / 2
		if t1 >= t2 {
			t1 = t2
		}
	}
	return leaseTiming{
		Valid:     int(lease / time.Second),
		Preferred: max(1, int(t2/time.Second)),
		Renew:     max(time.Second, t1),
	}
}
