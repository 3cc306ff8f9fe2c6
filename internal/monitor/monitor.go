// Package monitor polls both interfaces while the hub is in client mode,
// re-arbitrates when a reading changes, and emits the resulting status. In
// access point mode it watches the wired link alone.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/hubnet/internal/arbiter"
	"github.com/HerbHall/hubnet/internal/inspect"
	"github.com/HerbHall/hubnet/internal/metrics"
	"github.com/HerbHall/hubnet/internal/runner"
	"github.com/HerbHall/hubnet/internal/state"
	"github.com/HerbHall/hubnet/internal/status"
)

// ErrNoConnectivity is returned by Run when neither interface has been
// usable for the fallback grace period.
var ErrNoConnectivity = errors.New("no connectivity beyond grace period")

// Inspector reads interface state.
type Inspector interface {
	Inspect(ctx context.Context, iface string) (inspect.InterfaceState, error)
	FirstPresent(ctx context.Context, candidates []string) (inspect.InterfaceState, error)
}

// Arbitrator applies the priority rule.
type Arbitrator interface {
	Arbitrate(ctx context.Context, in arbiter.Input) (arbiter.Decision, error)
}

// Prober checks gateway reachability.
type Prober interface {
	Probe(ctx context.Context, target netip.Addr) error
}

// Hooks connect the monitor to its owner.
type Hooks struct {
	// WithLock runs fn while holding the owner's arbitration lock. A nil
	// WithLock runs fn directly.
	WithLock func(ctx context.Context, fn func(context.Context) error) error
	// OnDecision observes every arbitration result. The value is empty for
	// wired-only polls.
	OnDecision func(arbiter.Decision, status.Value)
}

// Config holds the monitor timing and interface names.
type Config struct {
	Wireless        string
	WiredCandidates []string
	Interval        time.Duration
	FallbackGrace   time.Duration
	HealthInterval  time.Duration
	// ListenerPattern is matched with pgrep -f; empty disables the check.
	ListenerPattern string
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock replaces time.Now for the fallback grace period.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithKick wakes the monitor early whenever ch delivers.
func WithKick(ch <-chan struct{}) Option {
	return func(m *Monitor) { m.kick = ch }
}

// WithHooks installs owner callbacks.
func WithHooks(h Hooks) Option {
	return func(m *Monitor) { m.hooks = h }
}

// WithMetrics records arbitration and listener health.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) { m.metrics = mt }
}

// Monitor is a single-goroutine poll loop. Run may be called again after it
// returns; each run starts from a fresh snapshot.
type Monitor struct {
	cfg     Config
	insp    Inspector
	arb     Arbitrator
	prober  Prober
	run     runner.Runner
	sink    status.Sink
	metrics *metrics.Metrics
	logger  *zap.Logger
	hooks   Hooks
	kick    <-chan struct{}
	now     func() time.Time

	// Per-run state, owned by the Run goroutine.
	primed   bool
	retry    bool
	wired    inspect.InterfaceState
	wireless inspect.InterfaceState
	last     status.Value
	lostAt   time.Time
	fired    bool
}

// New returns a Monitor.
func New(cfg Config, insp Inspector, arb Arbitrator, prober Prober, run runner.Runner,
	sink status.Sink, logger *zap.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		cfg:    cfg,
		insp:   insp,
		arb:    arb,
		prober: prober,
		run:    run,
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	if m.cfg.Interval <= 0 {
		m.cfg.Interval = 3 * time.Second
	}
	return m
}

// Run polls until ctx is done (returning nil) or the grace period expires
// (returning ErrNoConnectivity).
func (m *Monitor) Run(ctx context.Context) error {
	m.reset()
	m.logger.Info("monitor started",
		zap.Duration("interval", m.cfg.Interval),
		zap.String("wireless", m.cfg.Wireless),
		zap.Strings("wired", m.cfg.WiredCandidates),
	)
	defer m.logger.Info("monitor stopped")

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	var health <-chan time.Time
	if m.cfg.ListenerPattern != "" && m.cfg.HealthInterval > 0 {
		ht := time.NewTicker(m.cfg.HealthInterval)
		defer ht.Stop()
		health = ht.C
		m.CheckListener(ctx)
	}

	poll := true
	for {
		if poll {
			if err := m.Tick(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				m.logger.Warn("monitor tick failed", zap.Error(err))
			}
			if m.fired {
				return ErrNoConnectivity
			}
		}

		poll = true
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-m.kick:
			m.logger.Debug("woken by interface event")
		case <-health:
			m.CheckListener(ctx)
			poll = false
		}
	}
}

// RunWired watches only the wired candidates until ctx is done. It runs
// while the wireless interface serves the access point: a wired link that
// appears is leased and routed, no status is published and the fallback
// grace period never applies.
func (m *Monitor) RunWired(ctx context.Context) error {
	m.reset()
	m.logger.Info("wired watch started", zap.Strings("wired", m.cfg.WiredCandidates))
	defer m.logger.Info("wired watch stopped")

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := m.TickWired(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.logger.Warn("wired watch tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-m.kick:
			m.logger.Debug("woken by interface event")
		}
	}
}

// TickWired performs one wired-only poll. The wireless reading is left
// empty so the arbiter never routes over the access point.
func (m *Monitor) TickWired(ctx context.Context) error {
	wired, err := m.insp.FirstPresent(ctx, m.cfg.WiredCandidates)
	if err != nil {
		return fmt.Errorf("inspect wired: %w", err)
	}
	if m.primed && !m.retry && wired.Equal(m.wired) {
		return nil
	}

	var d arbiter.Decision
	err = m.withLock(ctx, func(ctx context.Context) error {
		var aerr error
		d, aerr = m.arb.Arbitrate(ctx, arbiter.Input{Wired: wired})
		return aerr
	})
	if err != nil {
		m.retry = true
		return fmt.Errorf("arbitrate: %w", err)
	}

	m.primed = true
	m.retry = d.Retry
	m.wired = d.Wired
	m.metrics.Arbitration(string(d.Active))
	if d.Active == state.InterfaceWired {
		m.logger.Info("wired link available while advertising the access point",
			zap.String("iface", d.Wired.Name),
			zap.String("address", d.Address.String()),
		)
	}
	if m.hooks.OnDecision != nil {
		// No status value: the access point owns the status.
		m.hooks.OnDecision(d, "")
	}
	return nil
}

func (m *Monitor) reset() {
	m.primed, m.retry, m.fired = false, false, false
	m.wired, m.wireless = inspect.InterfaceState{}, inspect.InterfaceState{}
	m.last = ""
	m.lostAt = time.Time{}
}

// Tick performs one poll. The first tick of a run always arbitrates.
func (m *Monitor) Tick(ctx context.Context) error {
	wired, err := m.insp.FirstPresent(ctx, m.cfg.WiredCandidates)
	if err != nil {
		return fmt.Errorf("inspect wired: %w", err)
	}
	wireless, err := m.insp.Inspect(ctx, m.cfg.Wireless)
	if err != nil {
		return fmt.Errorf("inspect wireless: %w", err)
	}

	changed := !m.primed || m.retry || !wired.Equal(m.wired) || !wireless.Equal(m.wireless)
	if !changed {
		if m.last == status.WirelessNoInternet {
			// Reachability can recover without any interface change.
			m.publish(ctx, m.deriveWireless(ctx, wireless))
		}
		m.checkGrace()
		return nil
	}

	var d arbiter.Decision
	err = m.withLock(ctx, func(ctx context.Context) error {
		var aerr error
		d, aerr = m.arb.Arbitrate(ctx, arbiter.Input{Wired: wired, Wireless: wireless})
		return aerr
	})
	if err != nil {
		m.retry = true
		return fmt.Errorf("arbitrate: %w", err)
	}

	m.primed = true
	m.retry = d.Retry
	m.wired, m.wireless = d.Wired, d.Wireless
	m.metrics.Arbitration(string(d.Active))

	if d.NoConnectivity {
		if m.lostAt.IsZero() {
			m.lostAt = m.now()
			m.logger.Warn("no connectivity on any interface",
				zap.Duration("fallback_in", m.cfg.FallbackGrace))
		}
	} else {
		m.lostAt = time.Time{}
	}

	v := m.derive(ctx, d)
	m.publish(ctx, v)
	if m.hooks.OnDecision != nil {
		m.hooks.OnDecision(d, v)
	}
	m.checkGrace()
	return nil
}

func (m *Monitor) withLock(ctx context.Context, fn func(context.Context) error) error {
	if m.hooks.WithLock == nil {
		return fn(ctx)
	}
	return m.hooks.WithLock(ctx, fn)
}

func (m *Monitor) checkGrace() {
	if m.lostAt.IsZero() || m.fired || m.cfg.FallbackGrace <= 0 {
		return
	}
	if m.now().Sub(m.lostAt) < m.cfg.FallbackGrace {
		return
	}
	m.fired = true
	m.logger.Warn("connectivity lost beyond grace period",
		zap.Duration("grace", m.cfg.FallbackGrace))
}

// derive maps a decision onto a status value.
func (m *Monitor) derive(ctx context.Context, d arbiter.Decision) status.Value {
	wiredUp := d.Wired.Connected() && d.Wired.HasAddress()
	wirelessUp := d.Wireless.Present && d.Wireless.LinkUp && d.Wireless.HasAddress()
	switch {
	case wiredUp && wirelessUp:
		return status.DualNetwork
	case wiredUp:
		return status.WiredConnected
	case wirelessUp:
		return m.deriveWireless(ctx, d.Wireless)
	default:
		// Waiting for a link to come back within the grace period.
		return status.Connecting
	}
}

func (m *Monitor) deriveWireless(ctx context.Context, w inspect.InterfaceState) status.Value {
	if !w.Gateway.IsValid() {
		return status.WirelessNoInternet
	}
	if m.prober == nil {
		return status.WirelessConnected
	}
	if err := m.prober.Probe(ctx, w.Gateway); err != nil {
		m.logger.Debug("gateway probe failed",
			zap.String("gateway", w.Gateway.String()), zap.Error(err))
		return status.WirelessNoInternet
	}
	return status.WirelessConnected
}

func (m *Monitor) publish(ctx context.Context, v status.Value) {
	if v == m.last {
		return
	}
	m.last = v
	if m.sink == nil {
		return
	}
	if err := m.sink.Emit(ctx, v); err != nil {
		m.logger.Warn("status emit failed", zap.String("status", string(v)), zap.Error(err))
	}
}

// CheckListener reports whether the reset-signal listener process is
// running. The result is only logged and exported.
func (m *Monitor) CheckListener(ctx context.Context) bool {
	if m.cfg.ListenerPattern == "" || m.run == nil {
		return true
	}
	res, err := m.run.Run(ctx, 5*time.Second, "pgrep", "-f", m.cfg.ListenerPattern)
	alive := err == nil && res.OK()
	m.metrics.ListenerAlive(alive)
	if !alive {
		m.logger.Warn("reset listener not running",
			zap.String("pattern", m.cfg.ListenerPattern), zap.Error(err))
	}
	return alive
}
