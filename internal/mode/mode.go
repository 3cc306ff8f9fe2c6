// Package mode owns the hub's network mode: advertising the setup access
// point, connecting to a home network, or operating as a client. All
// transitions go through the Controller.
package mode

import (
	"errors"
	"net/netip"
	"time"

	"github.com/HerbHall/hubnet/internal/acquire"
	"github.com/HerbHall/hubnet/internal/state"
	"github.com/HerbHall/hubnet/internal/status"
)

// Mode is the state machine state.
type Mode string

const (
	AccessPoint Mode = "accessPoint"
	Connecting  Mode = "connecting"
	Client      Mode = "client"
)

// ResultKind classifies a Connect outcome for the caller.
type ResultKind string

const (
	Connected                ResultKind = "connected"
	InvalidInput             ResultKind = "invalidInput"
	AuthFailed               ResultKind = "authFailed"
	NetworkNotFound          ResultKind = "networkNotFound"
	Timeout                  ResultKind = "timeout"
	AddressAcquisitionFailed ResultKind = "addressAcquisitionFailed"
	VerificationFailed       ResultKind = "verificationFailed"
	CommandFailed            ResultKind = "commandFailed"
	Aborted                  ResultKind = "aborted"
	Busy                     ResultKind = "busy"
)

// ErrBusy is the Err of a Busy result.
var ErrBusy = errors.New("a connect attempt is already in progress")

// ResetSource records what asked for a reset.
type ResetSource string

const (
	SourceAPI      ResetSource = "api"
	SourceSignal   ResetSource = "signal"
	SourceFailover ResetSource = "failover"
)

// ConnectRequest carries credentials from the intake.
type ConnectRequest struct {
	SSID   string
	Secret string
	// Static selects a fixed address instead of a lease.
	Static *acquire.Static
}

// Result is the typed outcome of Connect. Err is nil on success.
type Result struct {
	Success   bool
	Kind      ResultKind
	Address   netip.Addr
	AttemptID string
	Err       error
}

// Status is a point-in-time snapshot for status queries.
type Status struct {
	Mode            Mode            `json:"mode"`
	Status          status.Value    `json:"status"`
	ActiveInterface state.Interface `json:"active_interface"`
	Address         netip.Addr      `json:"address,omitzero"`
	SSID            string          `json:"ssid,omitempty"`
	LastError       string          `json:"last_error,omitempty"`
	ResetCount      int             `json:"reset_count"`
	LastResetAt     time.Time       `json:"last_reset_at,omitzero"`
	Attempt         string          `json:"attempt,omitempty"`
}

// kindOf maps an acquisition failure onto a ResultKind.
func kindOf(err error) ResultKind {
	if errors.Is(err, acquire.ErrInvalidCredentials) {
		return InvalidInput
	}
	switch acquire.KindOf(err) {
	case acquire.KindAuthFailed:
		return AuthFailed
	case acquire.KindNetworkNotFound:
		return NetworkNotFound
	case acquire.KindAssociationTimeout:
		return Timeout
	case acquire.KindAddressAcquisitionFailed:
		return AddressAcquisitionFailed
	case acquire.KindVerificationFailed:
		return VerificationFailed
	case acquire.KindAborted:
		return Aborted
	default:
		return CommandFailed
	}
}

// validate rejects requests before any interface is touched.
func validate(req ConnectRequest) error {
	if err := acquire.ValidateCredentials(req.SSID, req.Secret); err != nil {
		return err
	}
	if req.Static != nil {
		if !req.Static.Address.IsValid() || !req.Static.Address.Addr().Is4() {
			return errors.New("static address must be an IPv4 prefix")
		}
		if req.Static.Gateway.IsValid() && !req.Static.Address.Contains(req.Static.Gateway) {
			return errors.New("static gateway outside the address prefix")
		}
	}
	return nil
}

// profileFor converts a successful request into the persisted profile.
func profileFor(req ConnectRequest) state.Profile {
	p := state.Profile{SSID: req.SSID, Secret: req.Secret, AddressMode: state.AddressDHCP}
	if s := req.Static; s != nil {
		p.AddressMode = state.AddressStatic
		p.StaticAddress = s.Address.String()
		if s.Gateway.IsValid() {
			p.StaticGateway = s.Gateway.String()
		}
		p.StaticDNS = joinAddrs(s.DNS)
	}
	return p
}

// requestFor rebuilds a ConnectRequest from a saved profile.
func requestFor(p state.Profile) (ConnectRequest, error) {
	req := ConnectRequest{SSID: p.SSID, Secret: p.Secret}
	if p.AddressMode != state.AddressStatic {
		return req, nil
	}
	s, err := ParseStatic(p.StaticAddress, p.StaticGateway, p.StaticDNS)
	if err != nil {
		return ConnectRequest{}, err
	}
	req.Static = s
	return req, nil
}
