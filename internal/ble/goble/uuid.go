package goble

import (
	"encoding/hex"
	"strings"

	gble "github.com/go-ble/ble"

	"github.com/nerrad567/geeny-gateway/internal/device"
)

// formatUUID renders a go-ble UUID (little-endian bytes) in uppercase
// canonical form: "180F" for 16-bit ids, 8-4-4-4-12 for 128-bit ids.
func formatUUID(u gble.UUID) string {
	s := strings.ToUpper(hex.EncodeToString(gble.Reverse(u)))
	if len(s) != 32 {
		return s
	}
	return s[0:8] + "-" + s[8:12] + "-" + s[12:16] + "-" + s[16:20] + "-" + s[20:32]
}

func formatUUIDs(us []gble.UUID) []string {
	out := make([]string, 0, len(us))
	for _, u := range us {
		out = append(out, formatUUID(u))
	}
	return out
}

// toProperties maps go-ble property bits. Both follow the Bluetooth Core
// layout, so the low byte carries over unchanged.
func toProperties(p gble.Property) device.Properties {
	return device.Properties(uint16(p) & 0xFF)
}
