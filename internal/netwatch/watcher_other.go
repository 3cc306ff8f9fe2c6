//go:build !linux

package netwatch

import (
	"context"

	"go.uber.org/zap"
)

// Watcher is a placeholder on platforms without route netlink.
type Watcher struct{}

// New always fails with ErrUnsupported.
func New(_ *zap.Logger, _ []string) (*Watcher, error) {
	return nil, ErrUnsupported
}

// Events returns nil.
func (w *Watcher) Events() <-chan struct{} { return nil }

// Run returns ErrUnsupported.
func (w *Watcher) Run(_ context.Context) error { return ErrUnsupported }

// Close is a no-op.
func (w *Watcher) Close() error { return nil }
