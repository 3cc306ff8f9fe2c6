// Package status defines the externally visible hub status values and the
// sinks that carry them to the LED driver and other observers.
package status

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Value is one externally visible hub status.
type Value string

const (
	Booting                Value = "booting"
	AccessPointAdvertising Value = "accessPointAdvertising"
	Connecting             Value = "connecting"
	WiredConnected         Value = "wiredConnected"
	WirelessConnected      Value = "wirelessConnected"
	WirelessNoInternet     Value = "wirelessNoInternet"
	DualNetwork            Value = "dualNetwork"
	ResetInProgress        Value = "resetInProgress"
	Error                  Value = "error"
	ShuttingDown           Value = "shuttingDown"
)

var known = map[Value]struct{}{
	Booting:                {},
	AccessPointAdvertising: {},
	Connecting:             {},
	WiredConnected:         {},
	WirelessConnected:      {},
	WirelessNoInternet:     {},
	DualNetwork:            {},
	ResetInProgress:        {},
	Error:                  {},
	ShuttingDown:           {},
}

// Normalize maps s onto a known Value. Unknown input becomes Error.
func Normalize(s string) Value {
	v := Value(s)
	if _, ok := known[v]; ok {
		return v
	}
	return Error
}

// Valid reports whether v is a known status value.
func (v Value) Valid() bool {
	_, ok := known[v]
	return ok
}

func (v Value) String() string { return string(v) }

// Sink receives status values. Implementations must be safe for concurrent
// use.
type Sink interface {
	Emit(ctx context.Context, v Value) error
}

// Fanout delivers each value to every sink. Sink errors are logged and do not
// stop delivery to the remaining sinks. Emit remembers the last value so
// repeated emissions of the same value are suppressed.
type Fanout struct {
	logger *zap.Logger
	sinks  []Sink

	mu   sync.Mutex
	last Value
}

// Compile-time interface guard.
var _ Sink = (*Fanout)(nil)

// NewFanout returns a Fanout over sinks. Nil sinks are skipped.
func NewFanout(logger *zap.Logger, sinks ...Sink) *Fanout {
	f := &Fanout{logger: logger}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Emit normalizes v and forwards it to every sink.
func (f *Fanout) Emit(ctx context.Context, v Value) error {
	v = Normalize(string(v))

	f.mu.Lock()
	defer f.mu.Unlock()
	if v == f.last {
		return nil
	}
	f.last = v

	f.logger.Info("status changed", zap.String("status", string(v)))
	for _, s := range f.sinks {
		if err := s.Emit(ctx, v); err != nil {
			f.logger.Warn("status sink failed", zap.String("status", string(v)), zap.Error(err))
		}
	}
	return nil
}

// Last returns the most recently emitted value, or "" before the first Emit.
func (f *Fanout) Last() Value {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}
