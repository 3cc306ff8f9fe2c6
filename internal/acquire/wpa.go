package acquire

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Association states reported by `wpa_cli status`.
const (
	wpaCompleted         = "COMPLETED"
	wpaDisconnected      = "DISCONNECTED"
	wpaInactive          = "INACTIVE"
	wpaScanning          = "SCANNING"
	wpaAuthenticating    = "AUTHENTICATING"
	wpaAssociating       = "ASSOCIATING"
	wpaAssociated        = "ASSOCIATED"
	wpaFourWayHandshake  = "4WAY_HANDSHAKE"
	wpaGroupHandshake    = "GROUP_HANDSHAKE"
	wpaInterfaceDisabled = "INTERFACE_DISABLED"
)

// ErrInvalidCredentials wraps every ValidateCredentials failure.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ValidateCredentials checks an SSID and secret before any interface is
// touched. An empty secret selects an open network. A secret is either an
// 8-63 character passphrase or a 64 digit hex PSK.
func ValidateCredentials(ssid, secret string) error {
	switch {
	case ssid == "":
		return fmt.Errorf("%w: ssid is required", ErrInvalidCredentials)
	case len(ssid) > 32:
		return fmt.Errorf("%w: ssid longer than 32 bytes", ErrInvalidCredentials)
	}
	if secret == "" || isHexPSK(secret) {
		return nil
	}
	if len(secret) < 8 || len(secret) > 63 {
		return fmt.Errorf("%w: passphrase must be 8-63 characters", ErrInvalidCredentials)
	}
	for _, r := range secret {
		if r < 0x20 || r > 0x7e {
			return fmt.Errorf("%w: passphrase must be printable ASCII", ErrInvalidCredentials)
		}
	}
	return nil
}

func isHexPSK(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// wpaConfig renders a wpa_supplicant configuration for one network.
func wpaConfig(ctrlDir, country, ssid, secret string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ctrl_interface=%s\n", ctrlDir)
	b.WriteString("update_config=1\n")
	fmt.Fprintf(&b, "country=%s\n", country)
	b.WriteString("ap_scan=1\n\n")

	b.WriteString("network={\n")
	fmt.Fprintf(&b, "\tssid=%s\n", quoteSSID(ssid))
	b.WriteString("\tscan_ssid=1\n")
	switch {
	case secret == "":
		b.WriteString("\tkey_mgmt=NONE\n")
	case isHexPSK(secret):
		fmt.Fprintf(&b, "\tpsk=%s\n", strings.ToLower(secret))
		b.WriteString("\tkey_mgmt=WPA-PSK\n")
	default:
		fmt.Fprintf(&b, "\tpsk=\"%s\"\n", secret)
		b.WriteString("\tkey_mgmt=WPA-PSK\n")
	}
	b.WriteString("}\n")
	return b.String()
}

// quoteSSID emits a quoted SSID, or the hex form wpa_supplicant accepts for
// SSIDs it cannot quote.
func quoteSSID(ssid string) string {
	for _, r := range ssid {
		if r == '"' || r == '\\' || r < 0x20 || r > 0x7e {
			return hex.EncodeToString([]byte(ssid))
		}
	}
	return `"` + ssid + `"`
}

// writeWPAConfig writes the file readable only by root.
func writeWPAConfig(path, body string) error {
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// parseWPAState returns the wpa_state value of `wpa_cli status` output.
func parseWPAState(out string) string {
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		if v, ok := strings.CutPrefix(strings.TrimSpace(sc.Text()), "wpa_state="); ok {
			return v
		}
	}
	return ""
}

// scanHasSSID reports whether `wpa_cli scan_results` lists ssid.
// Rows are: bssid, frequency, signal level, flags, ssid (tab separated).
func scanHasSSID(out, ssid string) bool {
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Split(sc.Text(), "\t")
		if len(fields) >= 5 && fields[4] == ssid {
			return true
		}
	}
	return false
}

func isHandshake(state string) bool {
	return state == wpaFourWayHandshake || state == wpaGroupHandshake
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
