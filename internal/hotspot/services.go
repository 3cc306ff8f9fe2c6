package hotspot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"github.com/HerbHall/hubnet/internal/runner"
)

// ServiceControl stops distribution-managed units that would otherwise
// fight the manager for the wireless interface (a packaged hostapd or
// wpa_supplicant service restarting itself, for example).
type ServiceControl interface {
	// Name returns the init system name ("systemd", "openrc", "process").
	Name() string
	// Stop stops unit if the init system knows it. Unknown units are not
	// an error.
	Stop(ctx context.Context, unit string) error
}

// DetectServices returns the ServiceControl for the running init system.
func DetectServices(run runner.Runner, logger *zap.Logger) ServiceControl {
	return detectPlatform("/", exec.LookPath, run, logger)
}

func detectPlatform(root string, lookPath func(string) (string, error), run runner.Runner, logger *zap.Logger) ServiceControl {
	if _, err := os.Stat(filepath.Join(root, "run", "systemd", "system")); err == nil {
		return &systemdControl{run: run, logger: logger, dial: dialSystemd}
	}
	if _, err := lookPath("rc-service"); err == nil {
		return &openrcControl{run: run, logger: logger}
	}
	return processControl{}
}

// unitManager is the slice of the systemd manager API used here.
type unitManager interface {
	StopUnit(ctx context.Context, name string) error
}

type dbusManager struct {
	obj dbus.BusObject
}

func dialSystemd() (unitManager, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	return &dbusManager{obj: conn.Object("org.freedesktop.systemd1", "/org/freedesktop/systemd1")}, nil
}

func (m *dbusManager) StopUnit(ctx context.Context, name string) error {
	var job dbus.ObjectPath
	err := m.obj.CallWithContext(ctx, "org.freedesktop.systemd1.Manager.StopUnit", 0, name, "replace").Store(&job)
	var dErr dbus.Error
	if errors.As(err, &dErr) && dErr.Name == "org.freedesktop.systemd1.NoSuchUnit" {
		return nil
	}
	return err
}

// systemdControl stops units over D-Bus, falling back to systemctl when the
// system bus is unreachable.
type systemdControl struct {
	run    runner.Runner
	logger *zap.Logger
	dial   func() (unitManager, error)
	mgr    unitManager
}

func (s *systemdControl) Name() string { return "systemd" }

func (s *systemdControl) Stop(ctx context.Context, unit string) error {
	name := unit + ".service"
	if s.mgr == nil && s.dial != nil {
		mgr, err := s.dial()
		if err != nil {
			s.logger.Debug("systemd D-Bus unavailable, using systemctl", zap.Error(err))
			s.dial = nil
		} else {
			s.mgr = mgr
		}
	}
	if s.mgr != nil {
		if err := s.mgr.StopUnit(ctx, name); err != nil {
			return fmt.Errorf("stop %s: %w", name, err)
		}
		return nil
	}
	res, err := s.run.Run(ctx, 15*time.Second, "systemctl", "stop", name)
	if err != nil {
		return fmt.Errorf("systemctl stop %s: %w", name, err)
	}
	if !res.OK() {
		// Exit 5: unit not loaded.
		s.logger.Debug("systemctl stop failed",
			zap.String("unit", name), zap.Int("exit", res.ExitCode))
	}
	return nil
}

// openrcControl stops services with rc-service.
type openrcControl struct {
	run    runner.Runner
	logger *zap.Logger
}

func (o *openrcControl) Name() string { return "openrc" }

func (o *openrcControl) Stop(ctx context.Context, unit string) error {
	res, err := o.run.Run(ctx, 15*time.Second, "rc-service", unit, "stop")
	if err != nil {
		return fmt.Errorf("rc-service %s stop: %w", unit, err)
	}
	if !res.OK() {
		o.logger.Debug("rc-service stop failed",
			zap.String("unit", unit), zap.Int("exit", res.ExitCode))
	}
	return nil
}

// processControl is used when no init system manages the daemons; the
// hotspot kills stray processes itself.
type processControl struct{}

func (processControl) Name() string                           { return "process" }
func (processControl) Stop(_ context.Context, _ string) error { return nil }
