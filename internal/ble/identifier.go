package ble

import (
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"
)

// ParseIdentifier validates a peripheral identifier and returns its
// canonical form. Identifiers are either UUIDs, as issued by platforms that
// hide the device address, or 48-bit device addresses.
func ParseIdentifier(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrInvalidIdentifier
	}

	if strings.Count(s, "-") == 4 {
		u, err := uuid.Parse(s)
		if err != nil {
			return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
		}
		return strings.ToUpper(u.String()), nil
	}

	hw, err := net.ParseMAC(s)
	if err != nil || len(hw) != 6 {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
	}
	return strings.ToUpper(hw.String()), nil
}
