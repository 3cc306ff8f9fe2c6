// Package state persists the saved connection profile and the address shared
// between the wired and wireless interfaces. Both records survive restarts.
package state

import (
	"context"
	"errors"
	"net/netip"
	"time"
)

// ErrNotFound is returned when no connection profile is saved.
var ErrNotFound = errors.New("not found")

// AddressMode selects how a client-mode interface gets its address.
type AddressMode string

const (
	AddressDHCP   AddressMode = "dhcp"
	AddressStatic AddressMode = "static"
)

// Profile holds the credentials of the last successful connect.
type Profile struct {
	SSID          string      `json:"ssid" yaml:"ssid"`
	Secret        string      `json:"secret,omitempty" yaml:"secret,omitempty"`
	AddressMode   AddressMode `json:"address_mode" yaml:"address_mode"`
	StaticAddress string      `json:"static_address,omitempty" yaml:"static_address,omitempty"`
	StaticGateway string      `json:"static_gateway,omitempty" yaml:"static_gateway,omitempty"`
	StaticDNS     string      `json:"static_dns,omitempty" yaml:"static_dns,omitempty"`
	SavedAt       time.Time   `json:"saved_at" yaml:"saved_at"`
}

// Redacted returns a copy safe to log or expose: a set secret becomes "***".
func (p Profile) Redacted() Profile {
	if p.Secret != "" {
		p.Secret = "***"
	}
	return p
}

// Interface names which link currently owns the shared address.
type Interface string

const (
	InterfaceNone     Interface = ""
	InterfaceWired    Interface = "wired"
	InterfaceWireless Interface = "wireless"
)

// Shared is the address continuity record. ActiveInterface is set only while
// SharedAddress is bound to a live interface.
type Shared struct {
	SharedAddress   netip.Addr `json:"shared_address,omitzero" yaml:"shared_address"`
	ActiveInterface Interface  `json:"active_interface" yaml:"active_interface"`
	ReservedAddress netip.Addr `json:"reserved_address,omitzero" yaml:"reserved_address"`
	UpdatedAt       time.Time  `json:"updated_at" yaml:"updated_at"`
}

// Preferred returns the address a returning interface should request: the
// shared address, else the reserved one.
func (s Shared) Preferred() netip.Addr {
	if s.SharedAddress.IsValid() {
		return s.SharedAddress
	}
	return s.ReservedAddress
}

// ProfileRepository stores the single active Profile.
type ProfileRepository interface {
	// Load returns ErrNotFound when nothing is saved.
	Load(ctx context.Context) (*Profile, error)
	Save(ctx context.Context, p Profile) error
	Delete(ctx context.Context) error
}

// SharedRepository stores the Shared singleton. Load of a never-written
// record returns the zero value.
type SharedRepository interface {
	Load(ctx context.Context) (Shared, error)
	Save(ctx context.Context, s Shared) error
	Clear(ctx context.Context) error
}
