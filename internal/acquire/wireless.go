package acquire

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/hubnet/internal/runner"
)

// ConnectWireless runs the full client-mode sequence on req.Iface:
// stop, reset link, write credentials, associate, poll, address, verify.
func (a *Acquirer) ConnectWireless(ctx context.Context, req WirelessRequest) (Lease, error) {
	log := a.logger.With(zap.String("iface", req.Iface), zap.String("ssid", req.SSID))

	if err := ValidateCredentials(req.SSID, req.Secret); err != nil {
		return Lease{}, fail(KindCommandExecutionFailed, StepCredentials, err)
	}

	if err := checkpoint(ctx, StepStop); err != nil {
		return Lease{}, err
	}
	if err := a.stopProcesses(ctx, req.Iface, true); err != nil {
		return Lease{}, err
	}

	if err := checkpoint(ctx, StepResetLink); err != nil {
		return Lease{}, err
	}
	if err := a.ResetLink(ctx, req.Iface); err != nil {
		return Lease{}, err
	}

	if err := checkpoint(ctx, StepCredentials); err != nil {
		return Lease{}, err
	}
	body := wpaConfig(a.cfg.WPACtrlDir, a.cfg.Country, req.SSID, req.Secret)
	if err := writeWPAConfig(a.cfg.WPAConfigPath, body); err != nil {
		return Lease{}, fail(KindCommandExecutionFailed, StepCredentials, err)
	}

	if err := checkpoint(ctx, StepAssociate); err != nil {
		return Lease{}, err
	}
	if err := a.must(ctx, StepAssociate, "wpa_supplicant",
		"-B", "-i", req.Iface, "-c", a.cfg.WPAConfigPath, "-D", "nl80211"); err != nil {
		return Lease{}, err
	}
	log.Info("association started")

	if err := a.waitAssociated(ctx, req.Iface, req.SSID); err != nil {
		log.Warn("association failed", zap.Error(err))
		return Lease{}, err
	}
	log.Info("associated")

	if err := checkpoint(ctx, StepAddress); err != nil {
		return Lease{}, err
	}
	var (
		lease Lease
		err   error
	)
	if req.Static != nil {
		lease, err = a.applyStatic(ctx, req.Iface, *req.Static)
	} else {
		lease, err = a.obtainLease(ctx, req.Iface, req.Want)
	}
	if err != nil {
		return Lease{}, err
	}

	if err := checkpoint(ctx, StepVerify); err != nil {
		return Lease{}, err
	}
	if err := a.verify(ctx, req.Iface, true); err != nil {
		return Lease{}, err
	}

	log.Info("wireless connected",
		zap.String("address", lease.Address.String()),
		zap.String("gateway", lease.Gateway.String()),
		zap.String("method", lease.Method),
	)
	return lease, nil
}

// Teardown leaves iface unassociated with no address. It is best effort:
// failures are returned joined but every step is attempted.
func (a *Acquirer) Teardown(ctx context.Context, iface string) error {
	for _, s := range a.strategies {
		if r, ok := s.(Releaser); ok {
			r.Release(iface)
		}
	}
	var errs []error
	if err := a.stopProcesses(ctx, iface, false); err != nil {
		errs = append(errs, err)
	}
	if err := a.ResetLink(ctx, iface); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// stopProcesses kills lease clients and the association process bound to
// iface. With accessPoint set the hotspot daemons are killed too.
func (a *Acquirer) stopProcesses(ctx context.Context, iface string, accessPoint bool) error {
	patterns := []string{
		"wpa_supplicant.*" + iface,
		"dhcpcd.*" + iface,
		"dhclient.*" + iface,
		"udhcpc.*" + iface,
	}
	if accessPoint {
		patterns = append(patterns, "hostapd", "dnsmasq.*"+iface)
	}
	for _, p := range patterns {
		// pkill exits 1 when nothing matched.
		if err := a.try(ctx, StepStop, "pkill", "-f", p); err != nil {
			return err
		}
	}
	// A killed wpa_supplicant leaves its control socket behind and a new
	// instance refuses to start while it exists.
	if a.cfg.WPACtrlDir != "" {
		_ = os.Remove(filepath.Join(a.cfg.WPACtrlDir, iface))
	}
	return nil
}

// ResetLink takes iface down, flushes addresses and routes, drops any
// association and brings it back up. The link must come back UP.
func (a *Acquirer) ResetLink(ctx context.Context, iface string) error {
	if err := a.must(ctx, StepResetLink, "ip", "link", "set", iface, "down"); err != nil {
		return err
	}
	if err := a.try(ctx, StepResetLink, "ip", "addr", "flush", "dev", iface); err != nil {
		return err
	}
	if err := a.try(ctx, StepResetLink, "ip", "route", "flush", "dev", iface); err != nil {
		return err
	}
	if err := a.try(ctx, StepResetLink, "iw", "dev", iface, "disconnect"); err != nil {
		return err
	}
	if err := a.must(ctx, StepResetLink, "ip", "link", "set", iface, "up"); err != nil {
		return err
	}

	st, err := a.inspector.Inspect(ctx, iface)
	if err != nil {
		if ctx.Err() != nil {
			return fail(KindAborted, StepResetLink, ctx.Err())
		}
		return fail(KindCommandExecutionFailed, StepResetLink, err)
	}
	if !st.Present || !st.LinkUp {
		return fail(KindCommandExecutionFailed, StepResetLink, fmt.Errorf("%s did not come up", iface))
	}
	return nil
}

// waitAssociated polls wpa_cli until COMPLETED or a terminal failure.
func (a *Acquirer) waitAssociated(ctx context.Context, iface, ssid string) error {
	// Kick a scan so hidden and freshly reset radios populate results.
	if err := a.try(ctx, StepPoll, "wpa_cli", "-i", iface, "scan"); err != nil {
		return err
	}

	start := time.Now()
	var (
		last         string
		sawHandshake bool
		scanChecked  bool
	)
	for {
		if err := checkpoint(ctx, StepPoll); err != nil {
			return err
		}

		res, err := a.run.Run(ctx, a.cfg.CommandTimeout, "wpa_cli", "-i", iface, "status")
		switch {
		case err != nil && ctx.Err() != nil:
			return fail(KindAborted, StepPoll, ctx.Err())
		case errors.Is(err, runner.ErrNotFound):
			return fail(KindCommandExecutionFailed, StepPoll, err)
		case err != nil:
			a.logger.Debug("wpa_cli status failed", zap.String("iface", iface), zap.Error(err))
		default:
			state := parseWPAState(res.Stdout)
			if state != last {
				a.logger.Debug("association state", zap.String("iface", iface), zap.String("state", state))
			}
			last = state

			switch {
			case state == wpaCompleted:
				return nil
			case isHandshake(state):
				sawHandshake = true
			case state == wpaDisconnected && sawHandshake:
				return fail(KindAuthFailed, StepPoll, errors.New("disconnected during key handshake"))
			}

			idle := state == wpaDisconnected || state == wpaInactive || state == wpaScanning || state == wpaInterfaceDisabled
			if idle && !sawHandshake && !scanChecked && time.Since(start) >= a.cfg.NotFoundWindow {
				scanChecked = true
				visible, err := a.ssidVisible(ctx, iface, ssid)
				if err != nil {
					return err
				}
				if !visible {
					return fail(KindNetworkNotFound, StepPoll, fmt.Errorf("%q not in scan results", ssid))
				}
				if state == wpaInactive || state == wpaDisconnected {
					if err := a.try(ctx, StepPoll, "wpa_cli", "-i", iface, "reconnect"); err != nil {
						return err
					}
				}
			}
		}

		if time.Since(start) >= a.cfg.AssociationTimeout {
			if isHandshake(last) || sawHandshake {
				return fail(KindAuthFailed, StepPoll, fmt.Errorf("no association after %s, last state %s", a.cfg.AssociationTimeout, last))
			}
			return fail(KindAssociationTimeout, StepPoll, fmt.Errorf("no association after %s, last state %s", a.cfg.AssociationTimeout, last))
		}
		if err := sleep(ctx, a.cfg.PollInterval); err != nil {
			return fail(KindAborted, StepPoll, err)
		}
	}
}

func (a *Acquirer) ssidVisible(ctx context.Context, iface, ssid string) (bool, error) {
	res, err := a.run.Run(ctx, a.cfg.CommandTimeout, "wpa_cli", "-i", iface, "scan_results")
	if err != nil {
		if ctx.Err() != nil {
			return false, fail(KindAborted, StepPoll, ctx.Err())
		}
		// Without scan results we cannot claim the network is missing.
		a.logger.Debug("scan_results failed", zap.String("iface", iface), zap.Error(err))
		return true, nil
	}
	return scanHasSSID(res.Stdout, ssid), nil
}

// verify requires a usable address and, when a gateway is known, that it
// answers a probe.
func (a *Acquirer) verify(ctx context.Context, iface string, probeGateway bool) error {
	st, err := a.inspector.Inspect(ctx, iface)
	if err != nil {
		if ctx.Err() != nil {
			return fail(KindAborted, StepVerify, ctx.Err())
		}
		return fail(KindVerificationFailed, StepVerify, err)
	}
	if !st.HasAddress() {
		return fail(KindVerificationFailed, StepVerify, fmt.Errorf("%s has no usable address", iface))
	}
	if !probeGateway || !st.Gateway.IsValid() || a.prober == nil {
		return nil
	}
	if err := a.prober.Probe(ctx, st.Gateway); err != nil {
		if ctx.Err() != nil {
			return fail(KindAborted, StepVerify, ctx.Err())
		}
		return fail(KindVerificationFailed, StepVerify, fmt.Errorf("gateway %s unreachable: %w", st.Gateway, err))
	}
	return nil
}

// waitAddress polls the inspector until iface has a usable address.
func (a *Acquirer) waitAddress(ctx context.Context, iface string, want netip.Addr) (Lease, bool, error) {
	deadline := time.Now().Add(a.cfg.AddressTimeout)
	for {
		st, err := a.inspector.Inspect(ctx, iface)
		if err == nil && st.HasAddress() {
			if want.IsValid() && st.Address != want {
				a.logger.Info("lease differs from requested address",
					zap.String("iface", iface),
					zap.String("want", want.String()),
					zap.String("got", st.Address.String()),
				)
			}
			return Lease{Iface: iface, Address: st.Address, Prefix: st.Prefix, Gateway: st.Gateway}, true, nil
		}
		if time.Now().After(deadline) {
			return Lease{}, false, nil
		}
		if err := sleep(ctx, a.cfg.PollInterval); err != nil {
			return Lease{}, false, fail(KindAborted, StepAddress, err)
		}
	}
}
