package hotspot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/HerbHall/hubnet/internal/testutil"
)

func noBinary(string) (string, error) { return "", errors.New("not found") }

func TestDetectPlatform(t *testing.T) {
	systemdRoot := t.TempDir()
	if err := os.MkdirAll(filepath.Join(systemdRoot, "run", "systemd", "system"), 0o755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		root     string
		lookPath func(string) (string, error)
		want     string
	}{
		{"systemd", systemdRoot, noBinary, "systemd"},
		{"openrc", t.TempDir(), func(string) (string, error) { return "/sbin/rc-service", nil }, "openrc"},
		{"none", t.TempDir(), noBinary, "process"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detectPlatform(tt.root, tt.lookPath, testutil.NewFakeRunner(), zap.NewNop())
			if got.Name() != tt.want {
				t.Errorf("Name() = %q, want %q", got.Name(), tt.want)
			}
		})
	}
}

type fakeUnits struct {
	stopped []string
}

func (f *fakeUnits) StopUnit(_ context.Context, name string) error {
	f.stopped = append(f.stopped, name)
	return nil
}

func TestSystemd_UsesBus(t *testing.T) {
	units := &fakeUnits{}
	run := testutil.NewFakeRunner()
	s := &systemdControl{
		run:    run,
		logger: zap.NewNop(),
		dial:   func() (unitManager, error) { return units, nil },
	}

	if err := s.Stop(context.Background(), "hostapd"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(units.stopped) != 1 || units.stopped[0] != "hostapd.service" {
		t.Errorf("stopped = %v", units.stopped)
	}
	if run.Called("systemctl") {
		t.Error("systemctl used while the bus was available")
	}
}

func TestSystemd_FallsBackToSystemctl(t *testing.T) {
	run := testutil.NewFakeRunner().On("systemctl stop dnsmasq.service", "", 5)
	dials := 0
	s := &systemdControl{
		run:    run,
		logger: zap.NewNop(),
		dial: func() (unitManager, error) {
			dials++
			return nil, errors.New("no bus")
		},
	}

	for range 2 {
		if err := s.Stop(context.Background(), "dnsmasq"); err != nil {
			t.Fatalf("Stop: %v", err)
		}
	}
	if dials != 1 {
		t.Errorf("dialled %d times, want 1", dials)
	}
	if n := run.Count("systemctl stop dnsmasq.service"); n != 2 {
		t.Errorf("systemctl calls = %d, want 2", n)
	}
}

func TestOpenRC_Stop(t *testing.T) {
	run := testutil.NewFakeRunner().On("rc-service hostapd stop", "", 1)
	o := &openrcControl{run: run, logger: zap.NewNop()}
	if err := o.Stop(context.Background(), "hostapd"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !run.Called("rc-service hostapd stop") {
		t.Error("rc-service not called")
	}
}
