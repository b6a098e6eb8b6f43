package protocol

import "testing"

func v1Fixture() []byte {
	b := []byte{0x01, 0x00}
	for i := 0x0F; i >= 0; i-- {
		b = append(b, byte(i))
	}
	for i := 0; i < 16; i++ {
		b = append(b, 0xA0+byte(i))
	}
	return b
}

func TestDecodeV1(t *testing.T) {
	info, ok := Decode(v1Fixture())
	if !ok {
		t.Fatal("Decode() ok = false, want true")
	}
	if info.ProtocolVersion != 1 {
		t.Errorf("ProtocolVersion = %d, want 1", info.ProtocolVersion)
	}
	if want := "00010203-0405-0607-0809-0A0B0C0D0E0F"; info.SerialNumber != want {
		t.Errorf("SerialNumber = %q, want %q", info.SerialNumber, want)
	}
	if want := "AFAEADAC-ABAA-A9A8-A7A6-A5A4A3A2A1A0"; info.DeviceTypeID != want {
		t.Errorf("DeviceTypeID = %q, want %q", info.DeviceTypeID, want)
	}
}

func TestDecodeRejects(t *testing.T) {
	long := append(v1Fixture(), 0x00)

	tests := []struct {
		name string
		in   []byte
	}{
		{"nil", nil},
		{"one byte", []byte{0x01}},
		{"version only", []byte{0x01, 0x00}},
		{"v1 too short", v1Fixture()[:33]},
		{"v1 too long", long},
		{"version 2", append([]byte{0x02, 0x00}, v1Fixture()[2:]...)},
		{"version 256", append([]byte{0x00, 0x01}, v1Fixture()[2:]...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := Decode(tt.in); ok {
				t.Errorf("Decode(%x) ok = true, want false", tt.in)
			}
		})
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	want := Info{
		ProtocolVersion: 1,
		SerialNumber:    "00010203-0405-0607-0809-0A0B0C0D0E0F",
		DeviceTypeID:    "3C7B2B4E-1A61-4C3B-8F1E-6A3B9C0D2E11",
	}
	b, ok := Encode(want)
	if !ok {
		t.Fatal("Encode() ok = false")
	}
	if len(b) != v1Size {
		t.Fatalf("len = %d, want %d", len(b), v1Size)
	}
	got, ok := Decode(b)
	if !ok || got != want {
		t.Errorf("Decode(Encode()) = %+v, %v; want %+v", got, ok, want)
	}
}

func TestEncodeRejectsMalformed(t *testing.T) {
	if _, ok := Encode(Info{SerialNumber: "nope", DeviceTypeID: "3C7B2B4E-1A61-4C3B-8F1E-6A3B9C0D2E11"}); ok {
		t.Error("Encode() accepted malformed serial")
	}
}
