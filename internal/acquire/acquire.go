// Package acquire brings an interface from "present" to "addressed and
// reachable". The wireless path runs the full association sequence; the
// wired path only needs a lease. Every step checks the context first so an
// attempt can be abandoned between steps.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/hubnet/internal/inspect"
	"github.com/HerbHall/hubnet/internal/runner"
)

// Kind classifies an acquisition failure.
type Kind string

const (
	KindAuthFailed               Kind = "auth_failed"
	KindNetworkNotFound          Kind = "network_not_found"
	KindAssociationTimeout       Kind = "association_timeout"
	KindAddressAcquisitionFailed Kind = "address_acquisition_failed"
	KindVerificationFailed       Kind = "verification_failed"
	KindCommandExecutionFailed   Kind = "command_execution_failed"
	KindAborted                  Kind = "aborted"
)

// Step names the point of the sequence where a failure happened.
type Step string

const (
	StepStop        Step = "stop_processes"
	StepResetLink   Step = "reset_interface"
	StepCredentials Step = "write_credentials"
	StepAssociate   Step = "start_association"
	StepPoll        Step = "poll_association"
	StepAddress     Step = "acquire_address"
	StepVerify      Step = "verify"
	StepLink        Step = "link_up"
)

// Error is the typed failure of an acquisition.
type Error struct {
	Kind Kind
	Step Step
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Step, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Step, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func fail(kind Kind, step Step, err error) *Error {
	return &Error{Kind: kind, Step: step, Err: err}
}

// KindOf extracts the Kind of err. Context errors are KindAborted; any
// other untyped error is KindCommandExecutionFailed.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindAborted
	}
	return KindCommandExecutionFailed
}

// Inspector reads interface state.
type Inspector interface {
	Inspect(ctx context.Context, iface string) (inspect.InterfaceState, error)
}

// Prober checks that a target answers on the network.
type Prober interface {
	Probe(ctx context.Context, target netip.Addr) error
}

// Config holds the acquisition timing and file locations.
type Config struct {
	WPAConfigPath string
	WPACtrlDir    string
	Country       string
	ResolvConf    string

	AssociationTimeout time.Duration
	NotFoundWindow     time.Duration
	PollInterval       time.Duration
	AddressTimeout     time.Duration
	LeaseToolTimeout   time.Duration
	CommandTimeout     time.Duration
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		WPAConfigPath:      "/tmp/wpa_supplicant.conf",
		WPACtrlDir:         "/var/run/wpa_supplicant",
		Country:            "US",
		ResolvConf:         "/etc/resolv.conf",
		AssociationTimeout: 30 * time.Second,
		NotFoundWindow:     15 * time.Second,
		PollInterval:       time.Second,
		AddressTimeout:     15 * time.Second,
		LeaseToolTimeout:   20 * time.Second,
		CommandTimeout:     10 * time.Second,
	}
}

// Static is a fixed address assignment.
type Static struct {
	Address netip.Prefix
	Gateway netip.Addr
	DNS     []netip.Addr
}

// WirelessRequest asks for a client-mode connection.
type WirelessRequest struct {
	Iface  string
	SSID   string
	Secret string
	Static *Static
	// Want is requested from the DHCP server when valid.
	Want netip.Addr
}

// Lease describes the address an interface ended up with.
type Lease struct {
	Iface   string     `json:"iface"`
	Address netip.Addr `json:"address"`
	Prefix  int        `json:"prefix"`
	Gateway netip.Addr `json:"gateway,omitzero"`
	Method  string     `json:"method"`
}

// Acquirer runs acquisition sequences. It holds no per-attempt state and may
// be shared; callers serialize attempts on the same interface.
type Acquirer struct {
	run        runner.Runner
	inspector  Inspector
	prober     Prober
	strategies []LeaseStrategy
	cfg        Config
	logger     *zap.Logger
}

// New returns an Acquirer. strategies are tried in order for every lease.
func New(run runner.Runner, inspector Inspector, prober Prober, strategies []LeaseStrategy, cfg Config, logger *zap.Logger) *Acquirer {
	return &Acquirer{
		run:        run,
		inspector:  inspector,
		prober:     prober,
		strategies: strategies,
		cfg:        cfg,
		logger:     logger,
	}
}

// checkpoint returns a KindAborted error when ctx is done.
func checkpoint(ctx context.Context, step Step) error {
	if err := ctx.Err(); err != nil {
		return fail(KindAborted, step, err)
	}
	return nil
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// must runs a command that has to succeed for step to continue.
func (a *Acquirer) must(ctx context.Context, step Step, name string, args ...string) error {
	res, err := a.run.Run(ctx, a.cfg.CommandTimeout, name, args...)
	if err != nil {
		if ctx.Err() != nil {
			return fail(KindAborted, step, ctx.Err())
		}
		return fail(KindCommandExecutionFailed, step, err)
	}
	if !res.OK() {
		return fail(KindCommandExecutionFailed, step,
			fmt.Errorf("%s exited %d: %s", runner.Line(name, args...), res.ExitCode, firstLine(res.Stderr)))
	}
	return nil
}

// try runs a best-effort command. Only cancellation is reported.
func (a *Acquirer) try(ctx context.Context, step Step, name string, args ...string) error {
	if _, err := a.run.Run(ctx, a.cfg.CommandTimeout, name, args...); err != nil {
		if ctx.Err() != nil {
			return fail(KindAborted, step, ctx.Err())
		}
		a.logger.Debug("best-effort command failed",
			zap.String("cmd", runner.Line(name, args...)),
			zap.Error(err),
		)
	}
	return nil
}
