package acquire

import (
	"context"
	"fmt"
	"net/netip"

	"go.uber.org/zap"
)

// AcquireWired brings iface up and leases an address, asking for want when
// valid. An interface that already holds a usable address is returned as is.
func (a *Acquirer) AcquireWired(ctx context.Context, iface string, want netip.Addr) (Lease, error) {
	if err := checkpoint(ctx, StepLink); err != nil {
		return Lease{}, err
	}
	if err := a.must(ctx, StepLink, "ip", "link", "set", iface, "up"); err != nil {
		return Lease{}, err
	}

	st, err := a.inspector.Inspect(ctx, iface)
	if err != nil {
		if ctx.Err() != nil {
			return Lease{}, fail(KindAborted, StepLink, ctx.Err())
		}
		return Lease{}, fail(KindCommandExecutionFailed, StepLink, err)
	}
	if st.HasAddress() {
		return Lease{Iface: iface, Address: st.Address, Prefix: st.Prefix, Gateway: st.Gateway, Method: "existing"}, nil
	}

	if err := a.stopProcesses(ctx, iface, false); err != nil {
		return Lease{}, err
	}
	a.logger.Info("acquiring wired lease", zap.String("iface", iface), zap.String("want", addrOrNone(want)))
	lease, err := a.obtainLease(ctx, iface, want)
	if err != nil {
		return Lease{}, err
	}
	if err := a.verify(ctx, iface, false); err != nil {
		return Lease{}, err
	}
	return lease, nil
}

func addrOrNone(a netip.Addr) string {
	if !a.IsValid() {
		return "none"
	}
	return a.String()
}

// String renders the lease for logs.
func (l Lease) String() string {
	return fmt.Sprintf("%s %s/%d via %s (%s)", l.Iface, l.Address, l.Prefix, addrOrNone(l.Gateway), l.Method)
}
