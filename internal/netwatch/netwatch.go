// Package netwatch turns kernel link and address notifications into
// coalesced wake-ups for the monitor loop. Events carry no payload: the
// monitor re-inspects the interfaces itself.
package netwatch

import "errors"

// ErrUnsupported is returned by New where route netlink is unavailable.
var ErrUnsupported = errors.New("netwatch: not supported on this platform")

// notify performs a non-blocking send; a pending wake-up absorbs the rest.
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func watchSet(ifaces []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ifaces))
	for _, name := range ifaces {
		if name != "" {
			set[name] = struct{}{}
		}
	}
	return set
}
