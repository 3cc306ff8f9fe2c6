package acquire

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateCredentials(t *testing.T) {
	tests := []struct {
		name    string
		ssid    string
		secret  string
		wantErr bool
	}{
		{"wpa passphrase", "HomeNet", "correct horse", false},
		{"open network", "CoffeeShop", "", false},
		{"hex psk", "HomeNet", strings.Repeat("ab", 32), false},
		{"empty ssid", "", "password1", true},
		{"ssid too long", strings.Repeat("x", 33), "password1", true},
		{"short passphrase", "HomeNet", "short", true},
		{"long passphrase", "HomeNet", strings.Repeat("p", 64), true},
		{"control character", "HomeNet", "pass\nword", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCredentials(tt.ssid, tt.secret)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateCredentials(%q, %q) = %v, wantErr %v", tt.ssid, tt.secret, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("error %v does not wrap ErrInvalidCredentials", err)
			}
		})
	}
}

func TestWPAConfig(t *testing.T) {
	secured := wpaConfig("/var/run/wpa_supplicant", "US", "HomeNet", `pa"ss\word`)
	for _, want := range []string{
		"ctrl_interface=/var/run/wpa_supplicant\n",
		"country=US\n",
		"\tssid=\"HomeNet\"\n",
		"\tpsk=\"pa\"ss\\word\"\n",
		"\tkey_mgmt=WPA-PSK\n",
	} {
		if !strings.Contains(secured, want) {
			t.Errorf("secured config missing %q:\n%s", want, secured)
		}
	}

	open := wpaConfig("/run/wpa", "DE", "Cafe", "")
	if !strings.Contains(open, "\tkey_mgmt=NONE\n") {
		t.Errorf("open config missing key_mgmt=NONE:\n%s", open)
	}
	if strings.Contains(open, "psk=") {
		t.Errorf("open config must not carry a psk:\n%s", open)
	}

	raw := wpaConfig("/run/wpa", "US", "HomeNet", strings.Repeat("AB", 32))
	if !strings.Contains(raw, "\tpsk="+strings.Repeat("ab", 32)+"\n") {
		t.Errorf("hex psk should be written unquoted:\n%s", raw)
	}
}

func TestQuoteSSID(t *testing.T) {
	if got := quoteSSID("Home Net"); got != `"Home Net"` {
		t.Errorf("quoteSSID plain = %s", got)
	}
	if got := quoteSSID(`Bob's "Lair"`); got != "426f62277320224c61697222" {
		t.Errorf("quoteSSID with quotes = %s, want hex", got)
	}
	if got := quoteSSID("Café"); got != "436166c3a9" {
		t.Errorf("quoteSSID non-ascii = %s, want hex", got)
	}
}

func TestParseWPAState(t *testing.T) {
	out := "bssid=00:11:22:33:44:55\nfreq=2437\nssid=HomeNet\nid=0\nmode=station\nwpa_state=4WAY_HANDSHAKE\naddress=aa:bb:cc:dd:ee:ff\n"
	if got := parseWPAState(out); got != "4WAY_HANDSHAKE" {
		t.Errorf("parseWPAState = %q", got)
	}
	if got := parseWPAState("Failed to connect to non-global ctrl_ifname: wlan0"); got != "" {
		t.Errorf("parseWPAState(error) = %q, want empty", got)
	}
}

func TestScanHasSSID(t *testing.T) {
	out := "bssid / frequency / signal level / flags / ssid\n" +
		"00:11:22:33:44:55\t2437\t-48\t[WPA2-PSK-CCMP][ESS]\tHomeNet\n" +
		"66:77:88:99:aa:bb\t5180\t-70\t[ESS]\tHomeNet-5G\n"
	if !scanHasSSID(out, "HomeNet") {
		t.Error("HomeNet should be visible")
	}
	if !scanHasSSID(out, "HomeNet-5G") {
		t.Error("HomeNet-5G should be visible")
	}
	if scanHasSSID(out, "Home") {
		t.Error("prefix of a visible SSID must not match")
	}
}
