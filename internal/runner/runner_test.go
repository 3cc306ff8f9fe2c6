package runner

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"go.uber.org/zap"
)

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
}

func TestExec_CapturesOutputAndExitCode(t *testing.T) {
	requireBinary(t, "sh")
	r := NewExec(zap.NewNop())

	res, err := r.Run(context.Background(), 5*time.Second, "sh", "-c", "echo out; echo err >&2; exit 3")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if res.OK() {
		t.Error("OK() = true for exit 3")
	}
	if res.Stdout != "out\n" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "out\n")
	}
	if res.Stderr != "err\n" {
		t.Errorf("Stderr = %q, want %q", res.Stderr, "err\n")
	}
}

func TestExec_MissingBinary(t *testing.T) {
	r := NewExec(zap.NewNop())
	_, err := r.Run(context.Background(), time.Second, "hubnet-definitely-not-installed")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestExec_Timeout(t *testing.T) {
	requireBinary(t, "sleep")
	r := NewExec(zap.NewNop())

	start := time.Now()
	_, err := r.Run(context.Background(), 100*time.Millisecond, "sleep", "5")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("timeout not enforced, took %v", time.Since(start))
	}
}

func TestExec_ContextCancelled(t *testing.T) {
	requireBinary(t, "true")
	r := NewExec(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, time.Second, "true")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestExec_BackgroundChildHoldsOutput(t *testing.T) {
	requireBinary(t, "sh")
	requireBinary(t, "sleep")
	r := NewExec(zap.NewNop())

	tests := []struct {
		script string
		want   int
	}{
		{"echo started; sleep 3 & exit 0", 0},
		{"sleep 3 & exit 4", 4},
	}
	for _, tt := range tests {
		res, err := r.Run(context.Background(), 5*time.Second, "sh", "-c", tt.script)
		if err != nil {
			t.Fatalf("%q: Run: %v", tt.script, err)
		}
		if res.ExitCode != tt.want {
			t.Errorf("%q: ExitCode = %d, want %d", tt.script, res.ExitCode, tt.want)
		}
	}
}

func TestLine(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"ip", nil, "ip"},
		{"ip", []string{"link", "set", "wlan0", "up"}, "ip link set wlan0 up"},
	}
	for _, tt := range tests {
		if got := Line(tt.name, tt.args...); got != tt.want {
			t.Errorf("Line(%q, %v) = %q, want %q", tt.name, tt.args, got, tt.want)
		}
	}
}
