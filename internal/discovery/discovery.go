// Package discovery announces the hub on the client network over mDNS so
// the companion app can find it once onboarding has finished.
package discovery

import (
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/hashicorp/mdns"
	"go.uber.org/zap"

	"github.com/HerbHall/hubnet/internal/version"
)

// ServiceType is the advertised DNS-SD service.
const ServiceType = "_hubnet._tcp"

type server interface {
	Shutdown() error
}

// Announcer runs at most one mDNS responder, bound to the current address.
type Announcer struct {
	instance string
	port     int
	logger   *zap.Logger

	newServer func(*mdns.MDNSService) (server, error)

	mu   sync.Mutex
	srv  server
	addr netip.Addr
}

// NewAnnouncer returns an Announcer for instance on port.
func NewAnnouncer(instance string, port int, logger *zap.Logger) *Announcer {
	return &Announcer{
		instance: instance,
		port:     port,
		logger:   logger,
		newServer: func(svc *mdns.MDNSService) (server, error) {
			return mdns.NewServer(&mdns.Config{Zone: svc})
		},
	}
}

// Announce starts advertising addr, replacing any previous announcement.
// Announcing the same address again is a no-op.
func (a *Announcer) Announce(addr netip.Addr) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.srv != nil && a.addr == addr {
		return nil
	}
	a.shutdownLocked()

	svc, err := mdns.NewMDNSService(a.instance, ServiceType, "", "", a.port,
		[]net.IP{net.IP(addr.AsSlice())}, version.MDNSText())
	if err != nil {
		return fmt.Errorf("build mdns service: %w", err)
	}
	srv, err := a.newServer(svc)
	if err != nil {
		return fmt.Errorf("start mdns responder: %w", err)
	}
	a.srv = srv
	a.addr = addr
	a.logger.Info("mdns announcement started",
		zap.String("instance", a.instance),
		zap.String("address", addr.String()),
		zap.Int("port", a.port),
	)
	return nil
}

// Withdraw stops advertising.
func (a *Announcer) Withdraw() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.shutdownLocked()
}

// Address returns the advertised address, or the zero Addr.
func (a *Announcer) Address() netip.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

func (a *Announcer) shutdownLocked() {
	if a.srv == nil {
		return
	}
	if err := a.srv.Shutdown(); err != nil {
		a.logger.Debug("mdns shutdown", zap.Error(err))
	}
	a.logger.Info("mdns announcement stopped", zap.String("address", a.addr.String()))
	a.srv = nil
	a.addr = netip.Addr{}
}
