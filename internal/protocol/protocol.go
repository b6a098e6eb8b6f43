package protocol

import (
	"encoding/hex"
	"strings"
)

// GATT identifiers of the native-device descriptor.
const (
	ServiceID        = "0F050001-3225-44B1-B97D-D3274ACB29DE"
	CharacteristicID = "0F050002-3225-44B1-B97D-D3274ACB29DE"
)

const (
	versionSize = 2
	uuidSize    = 16

	// v1Size is the exact payload length of a version 1 descriptor.
	v1Size = versionSize + 2*uuidSize
)

// Info is the decoded native-device descriptor.
type Info struct {
	ProtocolVersion uint   `json:"protocol_version"`
	SerialNumber    string `json:"serial_number"`
	DeviceTypeID    string `json:"device_type_id"`
}

// Decode parses a descriptor payload. The boolean is false when the payload
// is too short, has the wrong length for its version, or carries an unknown
// version.
func Decode(b []byte) (Info, bool) {
	if len(b) < versionSize {
		return Info{}, false
	}

	version := uint(b[1])<<8 + uint(b[0])
	switch version {
	case 1:
		return decodeV1(b)
	default:
		return Info{}, false
	}
}

func decodeV1(b []byte) (Info, bool) {
	if len(b) != v1Size {
		return Info{}, false
	}
	return Info{
		ProtocolVersion: 1,
		SerialNumber:    formatUUID(b[versionSize : versionSize+uuidSize]),
		DeviceTypeID:    formatUUID(b[versionSize+uuidSize : v1Size]),
	}, true
}

// formatUUID renders a little-endian 16-byte value as an uppercase
// 8-4-4-4-12 string.
func formatUUID(le []byte) string {
	be := make([]byte, len(le))
	for i, v := range le {
		be[len(le)-1-i] = v
	}
	s := strings.ToUpper(hex.EncodeToString(be))
	return s[0:8] + "-" + s[8:12] + "-" + s[12:16] + "-" + s[16:20] + "-" + s[20:32]
}

// Encode builds a version 1 payload. It is the inverse of Decode and is
// used by simulators and tests. Both identifiers must be canonical UUID
// strings; ok is false otherwise.
func Encode(info Info) ([]byte, bool) {
	serial, ok := parseUUID(info.SerialNumber)
	if !ok {
		return nil, false
	}
	devType, ok := parseUUID(info.DeviceTypeID)
	if !ok {
		return nil, false
	}

	out := make([]byte, 0, v1Size)
	out = append(out, 0x01, 0x00)
	out = append(out, serial...)
	out = append(out, devType...)
	return out, true
}

// parseUUID returns the little-endian bytes of a canonical UUID string.
func parseUUID(s string) ([]byte, bool) {
	raw, err := hex.DecodeString(strings.ReplaceAll(s, "-", ""))
	if err != nil || len(raw) != uuidSize {
		return nil, false
	}
	for i, j := 0, len(raw)-1; i < j; i, j = i+1, j-1 {
		raw[i], raw[j] = raw[j], raw[i]
	}
	return raw, true
}
