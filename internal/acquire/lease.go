package acquire

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/hubnet/internal/runner"
)

// LeaseStrategy obtains a DHCP lease on an interface. Obtain returning nil
// means the tool reported success; the Acquirer still confirms the address
// through the inspector. A wrapped runner.ErrNotFound means the strategy is
// unavailable on this system.
type LeaseStrategy interface {
	Name() string
	Obtain(ctx context.Context, iface string, want netip.Addr) error
}

// Releaser is a LeaseStrategy that keeps state for a lease after Obtain
// returns. Teardown calls Release for the interface being torn down.
type Releaser interface {
	Release(iface string)
}

// CommandStrategy runs an external DHCP client.
type CommandStrategy struct {
	name    string
	run     runner.Runner
	timeout time.Duration
	args    func(iface string, want netip.Addr) []string
}

var _ LeaseStrategy = (*CommandStrategy)(nil)

func (s *CommandStrategy) Name() string { return s.name }

func (s *CommandStrategy) Obtain(ctx context.Context, iface string, want netip.Addr) error {
	res, err := s.run.Run(ctx, s.timeout, s.name, s.args(iface, want)...)
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("%s exited %d: %s", s.name, res.ExitCode, firstLine(res.Stderr))
	}
	return nil
}

// Dhcpcd requests want with -r when set.
func Dhcpcd(run runner.Runner, timeout time.Duration) *CommandStrategy {
	return &CommandStrategy{name: "dhcpcd", run: run, timeout: timeout,
		args: func(iface string, want netip.Addr) []string {
			args := []string{"-4", "-t", "15"}
			if want.IsValid() {
				args = append(args, "-r", want.String())
			}
			return append(args, iface)
		}}
}

// Dhclient runs a one-shot ISC dhclient.
func Dhclient(run runner.Runner, timeout time.Duration) *CommandStrategy {
	return &CommandStrategy{name: "dhclient", run: run, timeout: timeout,
		args: func(iface string, _ netip.Addr) []string {
			return []string{"-4", "-1", iface}
		}}
}

// Udhcpc runs the busybox client, quitting after the lease.
func Udhcpc(run runner.Runner, timeout time.Duration) *CommandStrategy {
	return &CommandStrategy{name: "udhcpc", run: run, timeout: timeout,
		args: func(iface string, want netip.Addr) []string {
			args := []string{"-i", iface, "-n", "-q", "-t", "10"}
			if want.IsValid() {
				args = append(args, "-r", want.String())
			}
			return args
		}}
}

// Strategies builds the ordered strategy list from names. Unknown names are
// an error.
func Strategies(names []string, run runner.Runner, timeout time.Duration, logger *zap.Logger) ([]LeaseStrategy, error) {
	out := make([]LeaseStrategy, 0, len(names))
	for _, n := range names {
		switch strings.ToLower(n) {
		case "dhcpcd":
			out = append(out, Dhcpcd(run, timeout))
		case "dhclient":
			out = append(out, Dhclient(run, timeout))
		case "udhcpc":
			out = append(out, Udhcpc(run, timeout))
		case "native":
			out = append(out, NewNative(timeout, logger))
		default:
			return nil, fmt.Errorf("unknown lease strategy %q", n)
		}
	}
	return out, nil
}

// obtainLease tries each strategy in order; the first that yields a usable
// address wins.
func (a *Acquirer) obtainLease(ctx context.Context, iface string, want netip.Addr) (Lease, error) {
	if len(a.strategies) == 0 {
		return Lease{}, fail(KindAddressAcquisitionFailed, StepAddress, errors.New("no lease strategies configured"))
	}
	var errs []error
	for _, s := range a.strategies {
		if err := checkpoint(ctx, StepAddress); err != nil {
			return Lease{}, err
		}
		log := a.logger.With(zap.String("iface", iface), zap.String("strategy", s.Name()))

		err := s.Obtain(ctx, iface, want)
		switch {
		case err != nil && ctx.Err() != nil:
			return Lease{}, fail(KindAborted, StepAddress, ctx.Err())
		case errors.Is(err, runner.ErrNotFound):
			log.Debug("lease strategy unavailable")
			continue
		case err != nil:
			log.Info("lease strategy failed", zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}

		lease, ok, err := a.waitAddress(ctx, iface, want)
		if err != nil {
			return Lease{}, err
		}
		if ok {
			lease.Method = s.Name()
			return lease, nil
		}
		log.Info("lease strategy left no usable address", zap.Duration("waited", a.cfg.AddressTimeout))
		errs = append(errs, fmt.Errorf("%s: no address after %s", s.Name(), a.cfg.AddressTimeout))
	}
	if len(errs) == 0 {
		errs = append(errs, errors.New("no lease tool available"))
	}
	return Lease{}, fail(KindAddressAcquisitionFailed, StepAddress, errors.Join(errs...))
}

// applyStatic assigns a fixed address, default route and resolvers.
func (a *Acquirer) applyStatic(ctx context.Context, iface string, st Static) (Lease, error) {
	if !st.Address.IsValid() {
		return Lease{}, fail(KindAddressAcquisitionFailed, StepAddress, errors.New("invalid static address"))
	}
	if err := a.try(ctx, StepAddress, "ip", "addr", "flush", "dev", iface); err != nil {
		return Lease{}, err
	}
	if err := a.must(ctx, StepAddress, "ip", "addr", "add", st.Address.String(), "dev", iface); err != nil {
		return Lease{}, fail(KindAddressAcquisitionFailed, StepAddress, err)
	}
	if st.Gateway.IsValid() {
		if err := a.must(ctx, StepAddress, "ip", "route", "replace", "default", "via", st.Gateway.String(), "dev", iface); err != nil {
			return Lease{}, fail(KindAddressAcquisitionFailed, StepAddress, err)
		}
	}
	if len(st.DNS) > 0 && a.cfg.ResolvConf != "" {
		if err := writeResolvConf(a.cfg.ResolvConf, st.DNS); err != nil {
			a.logger.Warn("resolver configuration failed", zap.Error(err))
		}
	}

	lease, ok, err := a.waitAddress(ctx, iface, st.Address.Addr())
	if err != nil {
		return Lease{}, err
	}
	if !ok {
		return Lease{}, fail(KindAddressAcquisitionFailed, StepAddress, fmt.Errorf("%s not visible on %s", st.Address, iface))
	}
	lease.Method = "static"
	return lease, nil
}

func writeResolvConf(path string, servers []netip.Addr) error {
	var b strings.Builder
	for _, s := range servers {
		fmt.Fprintf(&b, "nameserver %s\n", s)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
