//go:build !linux

package acquire

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/HerbHall/hubnet/internal/runner"
)

// Obtain is unavailable off Linux; the strategy is skipped like a missing
// binary.
func (n *Native) Obtain(context.Context, string, netip.Addr) error {
	return fmt.Errorf("native dhcp: %w", errors.Join(runner.ErrNotFound, errors.ErrUnsupported))
}
