package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/HerbHall/hubnet/internal/store"
)

// Compile-time interface guards.
var (
	_ ProfileRepository = (*SQLiteProfileRepository)(nil)
	_ SharedRepository  = (*SQLiteSharedRepository)(nil)
)

const component = "state"

// NewRepositories migrates the state schema and returns both repositories.
func NewRepositories(ctx context.Context, s *store.SQLiteStore) (*SQLiteProfileRepository, *SQLiteSharedRepository, error) {
	if err := s.Migrate(ctx, component, migrations); err != nil {
		return nil, nil, fmt.Errorf("state migrations: %w", err)
	}
	return &SQLiteProfileRepository{db: s.DB(), now: time.Now},
		&SQLiteSharedRepository{db: s.DB(), now: time.Now}, nil
}

// SQLiteProfileRepository implements ProfileRepository.
type SQLiteProfileRepository struct {
	db  *sql.DB
	now func() time.Time
}

func (r *SQLiteProfileRepository) Load(ctx context.Context) (*Profile, error) {
	var p Profile
	var mode string
	err := r.db.QueryRowContext(ctx, `
		SELECT ssid, secret, address_mode, static_address, static_gateway, static_dns, saved_at
		FROM connection_profile WHERE id = 1`,
	).Scan(&p.SSID, &p.Secret, &mode, &p.StaticAddress, &p.StaticGateway, &p.StaticDNS, &p.SavedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load profile: %w", err)
	}
	p.AddressMode = AddressMode(mode)
	return &p, nil
}

// Save overwrites the active profile. A zero SavedAt is stamped with now.
func (r *SQLiteProfileRepository) Save(ctx context.Context, p Profile) error {
	if p.SSID == "" {
		return errors.New("save profile: empty ssid")
	}
	if p.AddressMode == "" {
		p.AddressMode = AddressDHCP
	}
	if p.SavedAt.IsZero() {
		p.SavedAt = r.now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO connection_profile (id, ssid, secret, address_mode, static_address, static_gateway, static_dns, saved_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ssid = excluded.ssid,
			secret = excluded.secret,
			address_mode = excluded.address_mode,
			static_address = excluded.static_address,
			static_gateway = excluded.static_gateway,
			static_dns = excluded.static_dns,
			saved_at = excluded.saved_at`,
		p.SSID, p.Secret, string(p.AddressMode), p.StaticAddress, p.StaticGateway, p.StaticDNS, p.SavedAt,
	)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// Delete removes the profile. Deleting a missing profile is not an error.
func (r *SQLiteProfileRepository) Delete(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM connection_profile`); err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	return nil
}

// SQLiteSharedRepository implements SharedRepository.
type SQLiteSharedRepository struct {
	db  *sql.DB
	now func() time.Time
}

func (r *SQLiteSharedRepository) Load(ctx context.Context) (Shared, error) {
	var (
		s                Shared
		shared, reserved string
		active           string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT shared_address, active_interface, reserved_address, updated_at
		FROM ip_shared_state WHERE id = 1`,
	).Scan(&shared, &active, &reserved, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Shared{}, nil
		}
		return Shared{}, fmt.Errorf("load shared state: %w", err)
	}
	s.ActiveInterface = Interface(active)
	if s.SharedAddress, err = parseOptionalAddr(shared); err != nil {
		return Shared{}, fmt.Errorf("load shared state: shared_address: %w", err)
	}
	if s.ReservedAddress, err = parseOptionalAddr(reserved); err != nil {
		return Shared{}, fmt.Errorf("load shared state: reserved_address: %w", err)
	}
	return s, nil
}

// Save writes s synchronously and stamps UpdatedAt.
func (r *SQLiteSharedRepository) Save(ctx context.Context, s Shared) error {
	s.UpdatedAt = r.now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ip_shared_state (id, shared_address, active_interface, reserved_address, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			shared_address = excluded.shared_address,
			active_interface = excluded.active_interface,
			reserved_address = excluded.reserved_address,
			updated_at = excluded.updated_at`,
		formatOptionalAddr(s.SharedAddress), string(s.ActiveInterface), formatOptionalAddr(s.ReservedAddress), s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save shared state: %w", err)
	}
	return nil
}

// Clear forgets every address.
func (r *SQLiteSharedRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM ip_shared_state`); err != nil {
		return fmt.Errorf("clear shared state: %w", err)
	}
	return nil
}

func parseOptionalAddr(s string) (netip.Addr, error) {
	if s == "" {
		return netip.Addr{}, nil
	}
	return netip.ParseAddr(s)
}

func formatOptionalAddr(a netip.Addr) string {
	if !a.IsValid() {
		return ""
	}
	return a.String()
}

// migrations defines the state schema. Both tables hold at most one row.
var migrations = []store.Migration{
	{
		Version:     1,
		Description: "create connection_profile and ip_shared_state",
		Up: func(tx *sql.Tx) error {
			stmts := []string{
				`CREATE TABLE connection_profile (
					id             INTEGER PRIMARY KEY CHECK (id = 1),
					ssid           TEXT NOT NULL,
					secret         TEXT NOT NULL DEFAULT '',
					address_mode   TEXT NOT NULL DEFAULT 'dhcp',
					static_address TEXT NOT NULL DEFAULT '',
					static_gateway TEXT NOT NULL DEFAULT '',
					static_dns     TEXT NOT NULL DEFAULT '',
					saved_at       DATETIME NOT NULL
				)`,
				`CREATE TABLE ip_shared_state (
					id               INTEGER PRIMARY KEY CHECK (id = 1),
					shared_address   TEXT NOT NULL DEFAULT '',
					active_interface TEXT NOT NULL DEFAULT '',
					reserved_address TEXT NOT NULL DEFAULT '',
					updated_at       DATETIME NOT NULL
				)`,
			}
			for _, s := range stmts {
				if _, err := tx.Exec(s); err != nil {
					return err
				}
			}
			return nil
		},
	},
}
