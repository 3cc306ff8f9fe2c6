package inspect

import (
	"reflect"
	"testing"
)

func TestRankNetworks(t *testing.T) {
	got := RankNetworks([]Network{
		{SSID: "cafe", BSSID: "aa:00:00:00:00:01", Signal: -80},
		{SSID: "home", BSSID: "aa:00:00:00:00:02", Signal: -60},
		{SSID: "", BSSID: "aa:00:00:00:00:03", Signal: -30},
		{SSID: "home", BSSID: "aa:00:00:00:00:04", Signal: -45, Secured: true},
		{SSID: "attic", BSSID: "aa:00:00:00:00:05", Signal: -80},
		{SSID: "cafe", BSSID: "aa:00:00:00:00:06", Signal: -90},
	})
	want := []Network{
		{SSID: "home", BSSID: "aa:00:00:00:00:04", Signal: -45, Secured: true},
		{SSID: "attic", BSSID: "aa:00:00:00:00:05", Signal: -80},
		{SSID: "cafe", BSSID: "aa:00:00:00:00:01", Signal: -80},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("RankNetworks =\n%+v\nwant\n%+v", got, want)
	}
	if got := RankNetworks(nil); len(got) != 0 {
		t.Errorf("RankNetworks(nil) = %v", got)
	}
}
