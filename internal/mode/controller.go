package mode

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HerbHall/hubnet/internal/acquire"
	"github.com/HerbHall/hubnet/internal/arbiter"
	"github.com/HerbHall/hubnet/internal/metrics"
	"github.com/HerbHall/hubnet/internal/monitor"
	"github.com/HerbHall/hubnet/internal/state"
	"github.com/HerbHall/hubnet/internal/status"
)

// Acquirer runs the wireless connect sequence.
type Acquirer interface {
	ConnectWireless(ctx context.Context, req acquire.WirelessRequest) (acquire.Lease, error)
	Teardown(ctx context.Context, iface string) error
}

// Hotspot runs the setup access point.
type Hotspot interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Monitor is the poll loop. Run is the client-mode loop and returns
// monitor.ErrNoConnectivity when the hub should fall back to the access
// point. RunWired watches the wired link while the access point is up.
type Monitor interface {
	Run(ctx context.Context) error
	RunWired(ctx context.Context) error
}

// Announcer advertises the hub on the client network.
type Announcer interface {
	Announce(addr netip.Addr) error
	Withdraw()
}

// Config holds controller policy.
type Config struct {
	Wireless string
	// BootRetries is the number of connect attempts made with the saved
	// profile at start-up.
	BootRetries int
	BootBackoff time.Duration
	// PreferContinuity requests the shared address on wireless leases.
	PreferContinuity bool
	// CleanupTimeout bounds teardown work that outlives the caller.
	CleanupTimeout time.Duration
}

// Deps are the controller's collaborators. Metrics and Announcer may be nil.
type Deps struct {
	Acquirer    Acquirer
	AccessPoint Hotspot
	Profiles    state.ProfileRepository
	Shared      state.SharedRepository
	Sink        status.Sink
	Metrics     *metrics.Metrics
	Announcer   Announcer
	Logger      *zap.Logger
}

// Controller is the mode state machine. Connect and Reset may be called from
// any goroutine; Run consumes reset requests.
type Controller struct {
	cfg       Config
	acq       Acquirer
	ap        Hotspot
	profiles  state.ProfileRepository
	shared    state.SharedRepository
	sink      status.Sink
	metrics   *metrics.Metrics
	announcer Announcer
	logger    *zap.Logger

	now   func() time.Time
	newID func() string
	sleep func(ctx context.Context, d time.Duration) error

	// mu serializes transitions.
	mu            sync.Mutex
	mode          Mode
	epoch         uint64
	inFlight      bool
	cancelAttempt context.CancelFunc
	attemptDone   chan struct{}
	cancelBoot    context.CancelFunc
	monitor       Monitor
	monCancel     context.CancelFunc
	monDone       chan struct{}
	base          context.Context

	// arbMu serializes writes to the shared address record.
	arbMu sync.Mutex

	snapMu sync.RWMutex
	snap   Status

	resets chan ResetSource
}

// New returns a Controller in AccessPoint mode. Nothing is started until Run
// or Connect is called.
func New(cfg Config, deps Deps) *Controller {
	if cfg.BootRetries < 1 {
		cfg.BootRetries = 5
	}
	if cfg.BootBackoff <= 0 {
		cfg.BootBackoff = 20 * time.Second
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = 30 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:       cfg,
		acq:       deps.Acquirer,
		ap:        deps.AccessPoint,
		profiles:  deps.Profiles,
		shared:    deps.Shared,
		sink:      deps.Sink,
		metrics:   deps.Metrics,
		announcer: deps.Announcer,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
		sleep:     sleepCtx,
		mode:      AccessPoint,
		snap:      Status{Mode: AccessPoint},
		resets:    make(chan ResetSource, 1),
	}
}

// AttachMonitor sets the loop started on entering Client mode. It must be
// called before Run.
func (c *Controller) AttachMonitor(m Monitor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.monitor = m
}

// Resets returns the channel Run consumes reset requests from.
func (c *Controller) Resets() chan<- ResetSource { return c.resets }

// RequestReset queues a reset without blocking. A reset already queued
// absorbs the request.
func (c *Controller) RequestReset(src ResetSource) bool {
	select {
	case c.resets <- src:
		return true
	default:
		return false
	}
}

// Status returns a snapshot without waiting on transitions.
func (c *Controller) Status() Status {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap
}

// Mode returns the current mode.
func (c *Controller) Mode() Mode {
	return c.Status().Mode
}

// Connect joins the network in req. It blocks for the whole sequence and
// honours ctx. Validation happens before any interface is touched.
func (c *Controller) Connect(ctx context.Context, req ConnectRequest) Result {
	return c.connect(ctx, req, false)
}

func (c *Controller) connect(ctx context.Context, req ConnectRequest, boot bool) Result {
	if err := validate(req); err != nil {
		c.logger.Info("connect rejected", zap.Error(err))
		c.metrics.ConnectResult(string(InvalidInput), 0)
		return Result{Kind: InvalidInput, Err: err}
	}

	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return Result{Kind: Busy, Err: ErrBusy}
	}
	if !boot && c.cancelBoot != nil {
		// The installer takes over from boot-time reconnection.
		c.cancelBoot()
		c.cancelBoot = nil
	}
	c.inFlight = true
	c.epoch++
	epoch := c.epoch
	attemptCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancelAttempt, c.attemptDone = cancel, done
	id := c.newID()
	c.stopMonitorLocked()
	c.setModeLocked(Connecting)
	c.updateSnap(func(s *Status) {
		s.Attempt = id
		s.SSID = req.SSID
		s.LastError = ""
		s.ActiveInterface = state.InterfaceNone
		s.Address = netip.Addr{}
	})
	c.emitLocked(ctx, status.Connecting)
	c.mu.Unlock()

	log := c.logger.With(zap.String("attempt", id), zap.String("ssid", req.SSID))
	log.Info("connect attempt started", zap.Bool("boot", boot), zap.Bool("static", req.Static != nil))
	start := c.now()

	if c.announcer != nil {
		c.announcer.Withdraw()
	}
	if err := c.ap.Stop(attemptCtx); err != nil {
		log.Warn("access point stop incomplete", zap.Error(err))
	}
	lease, err := c.runSequence(attemptCtx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	defer close(done)
	c.inFlight = false
	cancel()
	if c.attemptDone == done {
		c.attemptDone = nil
	}
	took := c.now().Sub(start)

	if c.epoch != epoch {
		log.Info("connect attempt superseded by reset")
		c.metrics.ConnectResult(string(Aborted), took)
		return Result{Kind: Aborted, AttemptID: id, Err: context.Canceled}
	}
	c.cancelAttempt = nil

	if err != nil {
		kind := kindOf(err)
		log.Warn("connect attempt failed",
			zap.String("kind", string(kind)),
			zap.Duration("took", took),
			zap.Error(err),
		)
		c.metrics.ConnectResult(string(kind), took)
		c.toAccessPointLocked(ctx, false, err.Error())
		return Result{Kind: kind, AttemptID: id, Err: err}
	}

	if perr := c.profiles.Save(context.WithoutCancel(ctx), profileFor(req)); perr != nil {
		log.Error("saving connection profile failed", zap.Error(perr))
	}
	c.metrics.ConnectResult(string(Connected), took)
	c.setModeLocked(Client)
	c.updateSnap(func(s *Status) {
		s.ActiveInterface = state.InterfaceWireless
		s.Address = lease.Address
	})
	c.announce(lease.Address)
	c.startMonitorLocked(epoch)
	log.Info("connected",
		zap.String("address", lease.Address.String()),
		zap.String("method", lease.Method),
		zap.Duration("took", took),
	)
	return Result{Success: true, Kind: Connected, Address: lease.Address, AttemptID: id}
}

// runSequence drives the acquirer. A panic inside it becomes an error.
func (c *Controller) runSequence(ctx context.Context, req ConnectRequest) (lease acquire.Lease, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("connect sequence panicked: %v", r)
		}
	}()
	wr := acquire.WirelessRequest{
		Iface:  c.cfg.Wireless,
		SSID:   req.SSID,
		Secret: req.Secret,
		Static: req.Static,
	}
	if c.cfg.PreferContinuity && req.Static == nil {
		if sh, lerr := c.shared.Load(ctx); lerr == nil {
			wr.Want = sh.Preferred()
		}
	}
	return c.acq.ConnectWireless(ctx, wr)
}

// Reset returns the hub to first-boot AccessPoint mode: the in-flight
// attempt is abandoned, the monitor stopped, the saved profile and shared
// address forgotten, and the access point restarted. It always completes;
// cleanup failures are logged.
func (c *Controller) Reset(ctx context.Context, src ResetSource) {
	c.mu.Lock()
	c.epoch++
	if c.cancelAttempt != nil {
		c.cancelAttempt()
		c.cancelAttempt = nil
	}
	if c.cancelBoot != nil {
		c.cancelBoot()
		c.cancelBoot = nil
	}
	done := c.attemptDone
	c.mu.Unlock()

	if done != nil {
		// Let the abandoned attempt finish its current command.
		select {
		case <-done:
		case <-time.After(c.cfg.CleanupTimeout):
			c.logger.Warn("abandoned connect attempt did not stop in time")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	if c.cancelAttempt != nil {
		c.cancelAttempt()
		c.cancelAttempt = nil
	}
	c.recordResetLocked(src)
	c.logger.Info("reset requested", zap.String("source", string(src)), zap.String("mode", string(c.mode)))
	c.emitLocked(ctx, status.ResetInProgress)
	c.stopMonitorLocked()
	c.toAccessPointLocked(ctx, true, "")
}

// Fallback returns to AccessPoint mode after sustained loss of
// connectivity. Unlike Reset the saved profile is kept. It does nothing
// outside Client mode.
func (c *Controller) Fallback(ctx context.Context) {
	c.fallback(ctx, 0)
}

func (c *Controller) fallback(ctx context.Context, epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != Client || (epoch != 0 && epoch != c.epoch) {
		return
	}
	c.epoch++
	c.recordResetLocked(SourceFailover)
	c.logger.Warn("no connectivity, returning to access point with the saved profile kept")
	c.stopMonitorLocked()
	c.toAccessPointLocked(ctx, false, "no connectivity")
}

// WithLock runs fn holding the arbitration lock. The monitor routes every
// arbitration through it.
func (c *Controller) WithLock(ctx context.Context, fn func(context.Context) error) error {
	c.arbMu.Lock()
	defer c.arbMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// Observe records an arbitration result from the monitor.
// An empty v leaves the published status alone.
func (c *Controller) Observe(d arbiter.Decision, v status.Value) {
	c.updateSnap(func(s *Status) {
		s.ActiveInterface = d.Active
		if d.Active != state.InterfaceNone {
			s.Address = d.Address
		} else {
			s.Address = netip.Addr{}
		}
		if v != "" {
			s.Status = v
		}
	})
	if d.Active != state.InterfaceNone {
		c.announce(d.Address)
	}
}

// StatusSink returns a sink that records each value in the snapshot before
// forwarding it. The monitor emits through it.
func (c *Controller) StatusSink() status.Sink {
	return snapshotSink{c: c}
}

type snapshotSink struct{ c *Controller }

func (s snapshotSink) Emit(ctx context.Context, v status.Value) error {
	s.c.updateSnap(func(st *Status) { st.Status = v })
	if s.c.sink == nil {
		return nil
	}
	return s.c.sink.Emit(ctx, v)
}

// Run performs the boot sequence and then serves reset requests until ctx is
// done.
func (c *Controller) Run(ctx context.Context) error {
	bootCtx, cancelBoot := context.WithCancel(ctx)
	c.mu.Lock()
	c.base = ctx
	c.cancelBoot = cancelBoot
	c.emitLocked(ctx, status.Booting)
	c.mu.Unlock()

	bootDone := make(chan struct{})
	go func() {
		defer close(bootDone)
		c.boot(bootCtx)
	}()

	for {
		select {
		case <-ctx.Done():
			cancelBoot()
			<-bootDone
			c.shutdown()
			return nil
		case src := <-c.resets:
			c.Reset(ctx, src)
		}
	}
}

func (c *Controller) boot(ctx context.Context) {
	p, err := c.profiles.Load(ctx)
	if err != nil {
		if !errors.Is(err, state.ErrNotFound) {
			c.logger.Error("loading saved profile failed", zap.Error(err))
		}
		c.startAccessPoint(ctx)
		return
	}
	req, err := requestFor(*p)
	if err != nil {
		c.logger.Error("saved profile unusable", zap.Error(err))
		c.startAccessPoint(ctx)
		return
	}

	c.logger.Info("reconnecting with saved profile",
		zap.String("ssid", p.SSID), zap.Int("attempts", c.cfg.BootRetries))
	for i := 1; i <= c.cfg.BootRetries; i++ {
		res := c.connect(ctx, req, true)
		switch {
		case res.Success:
			return
		case res.Kind == Aborted, res.Kind == Busy, res.Kind == InvalidInput:
			return
		case ctx.Err() != nil:
			return
		}
		if i == c.cfg.BootRetries {
			break
		}
		c.logger.Info("saved network unavailable, retrying",
			zap.Int("attempt", i), zap.Duration("backoff", c.cfg.BootBackoff))
		if err := c.sleep(ctx, c.cfg.BootBackoff); err != nil {
			return
		}
	}
	// Every failed attempt already restored the access point.
	c.logger.Info("saved network unreachable, staying in access point mode")
}

func (c *Controller) startAccessPoint(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	c.toAccessPointLocked(ctx, false, "")
}

func (c *Controller) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	if c.cancelAttempt != nil {
		c.cancelAttempt()
		c.cancelAttempt = nil
	}
	c.stopMonitorLocked()
	if c.announcer != nil {
		c.announcer.Withdraw()
	}
	c.emitLocked(context.Background(), status.ShuttingDown)
	c.logger.Info("mode controller stopped")
}

// toAccessPointLocked tears the client side down and restarts the access
// point. With forget set the saved profile and shared address are cleared.
func (c *Controller) toAccessPointLocked(ctx context.Context, forget bool, lastErr string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.CleanupTimeout)
	defer cancel()

	if c.announcer != nil {
		c.announcer.Withdraw()
	}
	if forget {
		if err := c.profiles.Delete(cctx); err != nil {
			c.logger.Error("deleting saved profile failed", zap.Error(err))
		}
		c.arbMu.Lock()
		if err := c.shared.Clear(cctx); err != nil {
			c.logger.Error("clearing shared address failed", zap.Error(err))
		}
		c.arbMu.Unlock()
	}
	if err := c.acq.Teardown(cctx, c.cfg.Wireless); err != nil {
		c.logger.Warn("wireless teardown incomplete", zap.Error(err))
	}

	v := status.AccessPointAdvertising
	if err := c.ap.Start(cctx); err != nil {
		c.logger.Error("access point start failed", zap.Error(err))
		v = status.Error
		if lastErr == "" {
			lastErr = err.Error()
		}
	}
	c.setModeLocked(AccessPoint)
	c.updateSnap(func(s *Status) {
		s.ActiveInterface = state.InterfaceNone
		s.Address = netip.Addr{}
		s.SSID = ""
		s.Attempt = ""
		if forget || lastErr != "" {
			s.LastError = lastErr
		}
	})
	c.emitLocked(cctx, v)
	c.startWiredWatchLocked()
}

func (c *Controller) startMonitorLocked(epoch uint64) {
	if c.monitor == nil {
		return
	}
	base := c.base
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)
	done := make(chan struct{})
	c.monCancel, c.monDone = cancel, done
	mon := c.monitor
	go func() {
		err := mon.Run(ctx)
		close(done)
		switch {
		case errors.Is(err, monitor.ErrNoConnectivity):
			c.fallback(context.WithoutCancel(ctx), epoch)
		case err != nil && ctx.Err() == nil:
			c.logger.Error("monitor stopped unexpectedly", zap.Error(err))
		}
	}()
}

// startWiredWatchLocked keeps a wired link leased and routed while the
// access point is up.
func (c *Controller) startWiredWatchLocked() {
	if c.monitor == nil {
		return
	}
	c.stopMonitorLocked()
	base := c.base
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)
	done := make(chan struct{})
	c.monCancel, c.monDone = cancel, done
	mon := c.monitor
	go func() {
		defer close(done)
		if err := mon.RunWired(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("wired watch stopped unexpectedly", zap.Error(err))
		}
	}()
}

func (c *Controller) stopMonitorLocked() {
	if c.monCancel == nil {
		return
	}
	c.monCancel()
	<-c.monDone
	c.monCancel, c.monDone = nil, nil
}

func (c *Controller) setModeLocked(m Mode) {
	if c.mode == m {
		return
	}
	c.logger.Info("mode transition", zap.String("from", string(c.mode)), zap.String("to", string(m)))
	c.metrics.Transition(string(c.mode), string(m))
	c.mode = m
	c.updateSnap(func(s *Status) { s.Mode = m })
}

func (c *Controller) recordResetLocked(src ResetSource) {
	c.metrics.Reset(string(src))
	at := c.now()
	c.updateSnap(func(s *Status) {
		s.ResetCount++
		s.LastResetAt = at
	})
}

func (c *Controller) emitLocked(ctx context.Context, v status.Value) {
	c.updateSnap(func(s *Status) { s.Status = v })
	if c.sink == nil {
		return
	}
	if err := c.sink.Emit(ctx, v); err != nil {
		c.logger.Warn("status emit failed", zap.String("status", string(v)), zap.Error(err))
	}
}

func (c *Controller) announce(addr netip.Addr) {
	if c.announcer == nil || !addr.IsValid() {
		return
	}
	if err := c.announcer.Announce(addr); err != nil {
		c.logger.Warn("mdns announcement failed", zap.Error(err))
	}
}

func (c *Controller) updateSnap(fn func(*Status)) {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	fn(&c.snap)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
