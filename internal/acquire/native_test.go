package acquire

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestTimingFor(t *testing.T) {
	tests := []struct {
		name   string
		lease  time.Duration
		t1, t2 time.Duration
		want   leaseTiming
	}{
		{name: "no lease time", want: leaseTiming{}},
		{name: "infinite", lease: infiniteLease, want: leaseTiming{}},
		{
			name:  "server omits T1 and T2",
			lease: time.Hour,
			want:  leaseTiming{Valid: 3600, Preferred: 3150, Renew: 30 * time.Minute},
		},
		{
			name:  "server T1 and T2",
			lease: time.Hour, t1: 20 * time.Minute, t2: 50 * time.Minute,
			want: leaseTiming{Valid: 3600, Preferred: 3000, Renew: 20 * time.Minute},
		},
		{
			name:  "T1 after T2",
			lease: time.Hour, t1: 55 * time.Minute, t2: 50 * time.Minute,
			want: leaseTiming{Valid: 3600, Preferred: 3000, Renew: 30 * time.Minute},
		},
		{
			name:  "T2 beyond lease",
			lease: time.Hour, t1: 10 * time.Minute, t2: 2 * time.Hour,
			want: leaseTiming{Valid: 3600, Preferred: 3150, Renew: 10 * time.Minute},
		},
		{
			name:  "sub-second lease",
			lease: 200 * time.Millisecond,
			want:  leaseTiming{Valid: 1, Preferred: 1, Renew: time.Second},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := timingFor(tt.lease, tt.t1, tt.t2); got != tt.want {
				t.Errorf("timingFor(%v, %v, %v) = %+v, want %+v", tt.lease, tt.t1, tt.t2, got, tt.want)
			}
		})
	}
}

func TestNative_ReleaseStopsRenewal(t *testing.T) {
	n := NewNative(time.Second, zap.NewNop())
	first := n.track("eth0")
	second := n.track("eth0")
	if first.Err() == nil {
		t.Error("a new lease on eth0 must stop the previous renewal")
	}

	other := n.track("wlan0")
	n.Release("eth0")
	if second.Err() == nil {
		t.Error("Release left the eth0 renewal running")
	}
	if other.Err() != nil {
		t.Error("Release on eth0 stopped the wlan0 renewal")
	}
	n.Release("eth0")
}

func TestTeardown_ReleasesLeases(t *testing.T) {
	h := newHarness(t)
	n := NewNative(time.Second, zap.NewNop())
	h.rebuild(Dhcpcd(h.run, time.Second), n)
	renewal := n.track("wlan0")

	if err := h.acq.Teardown(context.Background(), "wlan0"); err != nil {
		t.Fatalf("Teardown: %v", err)
	}
	if renewal.Err() == nil {
		t.Error("Teardown left the native lease renewing")
	}
}
