// Package bssid canonicalizes and inspects MAC-style device identifiers.
package bssid

import (
	"fmt"
	"net"
	"strings"
)

// Canonicalize parses a MAC-like identifier and returns it in uppercase
// colon-separated hex form ("AA:BB:CC:DD:EE:FF"). It accepts the common
// colon, hyphen and dot notations via net.ParseMAC.
func Canonicalize(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("empty device identifier")
	}
	hw, err := net.ParseMAC(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid device identifier %q: %w", raw, err)
	}
	return strings.ToUpper(hw.String()), nil
}

// IsLocallyAdministered reports whether the identifier has the locally
// administered bit set (second-least-significant bit of the first octet).
// Randomized or rotating radios, like phone hotspots, usually set it, so it
// serves as a best-effort mobile-hotspot annotation only.
func IsLocallyAdministered(canonical string) bool {
	hw, err := net.ParseMAC(canonical)
	if err != nil || len(hw) == 0 {
		return false
	}
	return hw[0]&0x02 != 0
}
