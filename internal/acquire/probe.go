package acquire

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// ErrUnreachable is returned when every probe packet was lost.
var ErrUnreachable = errors.New("all packets lost")

// ICMPProber pings targets via pro-bing.
type ICMPProber struct {
	timeout time.Duration
	count   int
}

var _ Prober = (*ICMPProber)(nil)

// NewICMPProber returns a prober sending count echo requests within timeout.
func NewICMPProber(timeout time.Duration, count int) *ICMPProber {
	return &ICMPProber{timeout: timeout, count: count}
}

// Probe succeeds when at least one reply arrives.
func (p *ICMPProber) Probe(ctx context.Context, target netip.Addr) error {
	pinger, err := probing.NewPinger(target.String())
	if err != nil {
		return fmt.Errorf("create pinger: %w", err)
	}
	pinger.Count = p.count
	pinger.Timeout = p.timeout
	// Raw sockets as root; unprivileged UDP ping otherwise.
	pinger.SetPrivileged(os.Geteuid() == 0)

	done := make(chan error, 1)
	go func() {
		done <- pinger.Run()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("ping %s: %w", target, err)
		}
		if pinger.Statistics().PacketsRecv == 0 {
			return fmt.Errorf("ping %s: %w", target, ErrUnreachable)
		}
		return nil
	case <-ctx.Done():
		pinger.Stop()
		<-done
		return ctx.Err()
	}
}
