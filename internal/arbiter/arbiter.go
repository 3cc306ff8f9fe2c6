// Package arbiter decides which interface owns the shared address. Wired
// always wins when it is connected; wireless is kept as a lower-priority
// backup route.
package arbiter

import (
	"context"
	"fmt"
	"net/netip"

	"go.uber.org/zap"

	"github.com/HerbHall/hubnet/internal/acquire"
	"github.com/HerbHall/hubnet/internal/inspect"
	"github.com/HerbHall/hubnet/internal/state"
)

// WiredAcquirer leases an address on a wired link.
type WiredAcquirer interface {
	AcquireWired(ctx context.Context, iface string, want netip.Addr) (acquire.Lease, error)
}

// Config is the arbitration policy.
type Config struct {
	// PreferContinuity makes a newly arbitrated wired link request the
	// current shared address.
	PreferContinuity bool
	PrimaryMetric    int
	SecondaryMetric  int
}

// Input is one pair of interface readings.
type Input struct {
	Wired    inspect.InterfaceState
	Wireless inspect.InterfaceState
}

// Decision is the outcome of one arbitration.
type Decision struct {
	Active  state.Interface
	Address netip.Addr
	// Wired and Wireless are the readings after any acquisition.
	Wired    inspect.InterfaceState
	Wireless inspect.InterfaceState
	// NoConnectivity is set when neither interface is usable.
	NoConnectivity bool
	// Retry asks the caller to arbitrate again on the next tick even if the
	// readings do not change (a lease or route change failed).
	Retry bool
}

// Arbiter applies the priority rule. It is not safe for concurrent use; the
// mode controller serializes calls.
type Arbiter struct {
	acq    WiredAcquirer
	routes Router
	shared state.SharedRepository
	cfg    Config
	logger *zap.Logger
}

// New returns an Arbiter.
func New(acq WiredAcquirer, routes Router, shared state.SharedRepository, cfg Config, logger *zap.Logger) *Arbiter {
	return &Arbiter{acq: acq, routes: routes, shared: shared, cfg: cfg, logger: logger}
}

// Arbitrate applies the priority rule to in and persists the result before
// returning. A persistence failure is returned; lease and route failures are
// logged and reported through Decision.Retry.
func (a *Arbiter) Arbitrate(ctx context.Context, in Input) (Decision, error) {
	sh, err := a.shared.Load(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("arbitrate: %w", err)
	}
	prev := sh

	d := Decision{Wired: in.Wired, Wireless: in.Wireless}
	wired, wireless := in.Wired, in.Wireless
	wirelessUsable := wireless.Present && wireless.LinkUp && wireless.HasAddress()

	if wired.Connected() && !wired.HasAddress() {
		var want netip.Addr
		if a.cfg.PreferContinuity {
			want = sh.Preferred()
		}
		lease, err := a.acq.AcquireWired(ctx, wired.Name, want)
		if err != nil {
			if ctx.Err() != nil {
				return Decision{}, ctx.Err()
			}
			a.logger.Warn("wired acquisition failed", zap.String("iface", wired.Name), zap.Error(err))
			d.Retry = true
		} else {
			wired.Address, wired.Prefix, wired.Gateway = lease.Address, lease.Prefix, lease.Gateway
			d.Wired = wired
		}
	}

	switch {
	case wired.Connected() && wired.HasAddress():
		if wired.Gateway.IsValid() {
			d.Retry = a.setRoute(ctx, wired.Name, wired.Gateway, a.cfg.PrimaryMetric) || d.Retry
		}
		if wirelessUsable && wireless.Gateway.IsValid() {
			d.Retry = a.setRoute(ctx, wireless.Name, wireless.Gateway, a.cfg.SecondaryMetric) || d.Retry
		}
		sh.SharedAddress = wired.Address
		sh.ActiveInterface = state.InterfaceWired
		d.Active, d.Address = state.InterfaceWired, wired.Address

	case wirelessUsable:
		if wired.Name != "" && wired.Present {
			if err := a.routes.RemoveDefault(ctx, wired.Name); err != nil {
				a.logger.Debug("remove wired default route", zap.String("iface", wired.Name), zap.Error(err))
			}
		}
		if wireless.Gateway.IsValid() {
			d.Retry = a.setRoute(ctx, wireless.Name, wireless.Gateway, a.cfg.PrimaryMetric) || d.Retry
		}
		sh.SharedAddress = wireless.Address
		sh.ActiveInterface = state.InterfaceWireless
		d.Active, d.Address = state.InterfaceWireless, wireless.Address

	default:
		// Keep SharedAddress so a returning interface can ask for it again.
		if sh.SharedAddress.IsValid() {
			sh.ReservedAddress = sh.SharedAddress
		}
		sh.ActiveInterface = state.InterfaceNone
		d.NoConnectivity = true
		d.Address = sh.SharedAddress
	}

	if sh.SharedAddress != prev.SharedAddress ||
		sh.ActiveInterface != prev.ActiveInterface ||
		sh.ReservedAddress != prev.ReservedAddress {
		if err := a.shared.Save(ctx, sh); err != nil {
			return d, fmt.Errorf("arbitrate: %w", err)
		}
		a.logger.Info("arbitration changed",
			zap.String("active", string(sh.ActiveInterface)),
			zap.String("shared_address", addrString(sh.SharedAddress)),
			zap.String("previous_active", string(prev.ActiveInterface)),
		)
	}
	return d, nil
}

func (a *Arbiter) setRoute(ctx context.Context, iface string, gw netip.Addr, metric int) (failed bool) {
	if err := a.routes.SetDefault(ctx, iface, gw, metric); err != nil {
		a.logger.Warn("default route update failed",
			zap.String("iface", iface),
			zap.String("gateway", gw.String()),
			zap.Int("metric", metric),
			zap.Error(err),
		)
		return true
	}
	return false
}

func addrString(a netip.Addr) string {
	if !a.IsValid() {
		return ""
	}
	return a.String()
}
