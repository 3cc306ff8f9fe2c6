package arbiter

import (
	"context"
	"fmt"
	"net/netip"
	"strconv"
	"time"

	"github.com/HerbHall/hubnet/internal/runner"
)

// Router manages per-interface default routes.
type Router interface {
	// SetDefault leaves exactly one default route on iface: via gw at metric.
	SetDefault(ctx context.Context, iface string, gw netip.Addr, metric int) error
	// RemoveDefault drops every default route on iface.
	RemoveDefault(ctx context.Context, iface string) error
}

// maxDefaultRoutes bounds the delete loop; an interface never carries more
// than a DHCP route plus ours.
const maxDefaultRoutes = 4

// IPRouter drives the ip tool.
type IPRouter struct {
	run     runner.Runner
	timeout time.Duration
}

var _ Router = (*IPRouter)(nil)

// NewIPRouter returns a Router backed by `ip route`.
func NewIPRouter(run runner.Runner) *IPRouter {
	return &IPRouter{run: run, timeout: 5 * time.Second}
}

func (r *IPRouter) SetDefault(ctx context.Context, iface string, gw netip.Addr, metric int) error {
	if err := r.RemoveDefault(ctx, iface); err != nil {
		return err
	}
	res, err := r.run.Run(ctx, r.timeout, "ip", "route", "add", "default",
		"via", gw.String(), "dev", iface, "metric", strconv.Itoa(metric))
	if err != nil {
		return fmt.Errorf("add default via %s dev %s: %w", gw, iface, err)
	}
	if !res.OK() {
		return fmt.Errorf("add default via %s dev %s: exit %d: %s", gw, iface, res.ExitCode, res.Stderr)
	}
	return nil
}

func (r *IPRouter) RemoveDefault(ctx context.Context, iface string) error {
	for range maxDefaultRoutes {
		res, err := r.run.Run(ctx, r.timeout, "ip", "route", "del", "default", "dev", iface)
		if err != nil {
			return fmt.Errorf("delete default dev %s: %w", iface, err)
		}
		if !res.OK() {
			// No such process: nothing left to delete.
			return nil
		}
	}
	return nil
}
