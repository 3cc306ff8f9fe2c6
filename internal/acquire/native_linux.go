//go:build linux

package acquire

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/dhcpv4/nclient4"
	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
)

// Obtain runs DISCOVER/OFFER/REQUEST/ACK on iface and applies the lease with
// netlink: the address with the lease's lifetimes, then the default route
// when the server sent one. The client is kept to renew the lease.
func (n *Native) Obtain(ctx context.Context, iface string, want netip.Addr) error {
	n.Release(iface)

	client, err := nclient4.New(iface, nclient4.WithTimeout(n.timeout))
	if err != nil {
		return fmt.Errorf("dhcp client on %s: %w", iface, err)
	}

	var mods []dhcpv4.Modifier
	if want.IsValid() {
		mods = append(mods, dhcpv4.WithOption(dhcpv4.OptRequestedIPAddress(net.IP(want.AsSlice()))))
	}

	reqCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	lease, err := client.Request(reqCtx, mods...)
	if err != nil {
		client.Close()
		return fmt.Errorf("dhcp request on %s: %w", iface, err)
	}

	link, err := netlink.LinkByName(iface)
	if err != nil {
		client.Close()
		return fmt.Errorf("link %s: %w", iface, err)
	}
	timing := ackTiming(lease.ACK)
	addr, err := applyAddress(link, lease.ACK, timing)
	if err != nil {
		client.Close()
		return err
	}

	if routers := lease.ACK.Router(); len(routers) > 0 {
		route := &netlink.Route{LinkIndex: link.Attrs().Index, Gw: routers[0]}
		if err := netlink.RouteReplace(route); err != nil {
			client.Close()
			return fmt.Errorf("default route via %s: %w", routers[0], err)
		}
	}

	n.logger.Info("native lease applied",
		zap.String("iface", iface),
		zap.String("address", addr.IPNet.String()),
		zap.Int("valid_lft", timing.Valid),
		zap.Duration("renew_in", timing.Renew),
	)
	if timing.Renew == 0 {
		client.Close()
		return nil
	}
	go n.keep(n.track(iface), client, link, lease, timing)
	return nil
}

func ackTiming(ack *dhcpv4.DHCPv4) leaseTiming {
	return timingFor(ack.IPAddressLeaseTime(0), ack.IPAddressRenewalTime(0), ack.IPAddressRebindingTime(0))
}

func leaseNet(ack *dhcpv4.DHCPv4) *net.IPNet {
	mask := ack.SubnetMask()
	if mask == nil {
		mask = ack.YourIPAddr.DefaultMask()
	}
	return &net.IPNet{IP: ack.YourIPAddr, Mask: mask}
}

func applyAddress(link netlink.Link, ack *dhcpv4.DHCPv4, timing leaseTiming) (*netlink.Addr, error) {
	addr := &netlink.Addr{
		IPNet:       leaseNet(ack),
		ValidLft:    timing.Valid,
		PreferedLft: timing.Preferred,
	}
	if err := netlink.AddrReplace(link, addr); err != nil {
		return nil, fmt.Errorf("assign %s to %s: %w", addr.IPNet, link.Attrs().Name, err)
	}
	return addr, nil
}

// keep renews lease at T1 until ctx is cancelled. A failed renewal is
// retried at half the remaining lifetime; once the lease runs out the kernel
// drops the address and the monitor acquires again.
func (n *Native) keep(ctx context.Context, client *nclient4.Client, link netlink.Link, lease *nclient4.Lease, timing leaseTiming) {
	defer client.Close()
	iface := link.Attrs().Name
	log := n.logger.With(zap.String("iface", iface))
	expires := lease.CreationTime.Add(time.Duration(timing.Valid) * time.Second)
	wait := timing.Renew

	for {
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}

		rctx, cancel := context.WithTimeout(ctx, n.timeout)
		next, err := client.Renew(rctx, lease)
		cancel()
		if ctx.Err() != nil {
			return
		}

		var nak *nclient4.ErrNak
		switch {
		case errors.As(err, &nak):
			log.Warn("dhcp server refused renewal, dropping address")
			if derr := netlink.AddrDel(link, &netlink.Addr{IPNet: leaseNet(lease.ACK)}); derr != nil {
				log.Warn("removing refused address failed", zap.Error(derr))
			}
			return
		case err == nil:
			timing = ackTiming(next.ACK)
			if _, err = applyAddress(link, next.ACK, timing); err == nil {
				lease = next
				expires = lease.CreationTime.Add(time.Duration(timing.Valid) * time.Second)
				log.Debug("dhcp lease renewed", zap.Int("valid_lft", timing.Valid))
				if timing.Renew == 0 {
					return
				}
				wait = timing.Renew
				continue
			}
		}

		left := time.Until(expires)
		if left <= time.Second {
			log.Warn("dhcp lease expired without renewal", zap.Error(err))
			return
		}
		wait = left / 2
		log.Warn("dhcp renewal failed", zap.Duration("retry_in", wait), zap.Error(err))
	}
}
