package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/HerbHall/hubnet/internal/runner"
	"github.com/HerbHall/hubnet/internal/status"
)

func TestLogger_NotNil(t *testing.T) {
	if Logger() == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewStore_Usable(t *testing.T) {
	db := NewStore(t)
	if err := db.DB().PingContext(context.Background()); err != nil {
		t.Fatalf("PingContext: %v", err)
	}
}

func TestClock_Advance(t *testing.T) {
	c := NewClock()
	start := c.Now()
	c.Advance(5 * time.Minute)
	if got := c.Now().Sub(start); got != 5*time.Minute {
		t.Errorf("advanced %v, want 5m", got)
	}
}

func TestFakeRunner_LongestPrefixAndSequence(t *testing.T) {
	f := NewFakeRunner().
		On("wpa_cli", "generic", 0).
		Seq("wpa_cli -i wlan0 status", Reply("wpa_state=SCANNING", 0), Reply("wpa_state=COMPLETED", 0))
	ctx := context.Background()

	out := func(name string, args ...string) string {
		res, err := f.Run(ctx, time.Second, name, args...)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return res.Stdout
	}

	if got := out("wpa_cli", "-i", "wlan0", "status"); got != "wpa_state=SCANNING" {
		t.Errorf("first status = %q", got)
	}
	if got := out("wpa_cli", "-i", "wlan0", "status"); got != "wpa_state=COMPLETED" {
		t.Errorf("second status = %q", got)
	}
	if got := out("wpa_cli", "-i", "wlan0", "status"); got != "wpa_state=COMPLETED" {
		t.Errorf("repeated status = %q", got)
	}
	if got := out("wpa_cli", "-i", "wlan0", "scan_results"); got != "generic" {
		t.Errorf("scan_results = %q", got)
	}
	if got := out("ip", "link"); got != "" {
		t.Errorf("unmatched = %q, want empty", got)
	}
	if f.Count("wpa_cli -i wlan0 status") != 3 {
		t.Errorf("Count = %d, want 3", f.Count("wpa_cli -i wlan0 status"))
	}
	if f.Index("ip link") != 4 {
		t.Errorf("Index(ip link) = %d, want 4", f.Index("ip link"))
	}
}

func TestFakeRunner_Fail(t *testing.T) {
	f := NewFakeRunner().Fail("dhcpcd", runner.ErrNotFound)
	if _, err := f.Run(context.Background(), time.Second, "dhcpcd", "-4"); !errors.Is(err, runner.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRecordingSink(t *testing.T) {
	s := &RecordingSink{}
	_ = s.Emit(context.Background(), status.Booting)
	_ = s.Emit(context.Background(), status.Connecting)
	if s.Last() != status.Connecting {
		t.Errorf("Last() = %q", s.Last())
	}
	if !s.Contains(status.Booting) || s.Contains(status.Error) {
		t.Errorf("Contains mismatch: %v", s.Values())
	}
}
