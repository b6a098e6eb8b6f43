package device

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/nerrad567/geeny-gateway/internal/protocol"
)

// Family distinguishes things backed by a BLE peripheral from things that
// only exist on the broker side.
type Family string

// Family values.
const (
	FamilyPhysical Family = "physical"
	FamilyVirtual  Family = "virtual"
)

// Valid reports whether f is a known family.
func (f Family) Valid() bool {
	return f == FamilyPhysical || f == FamilyVirtual
}

// Properties is the GATT characteristic property bitset. Values follow the
// Bluetooth Core characteristic properties field, extended with the two
// encryption-required flags.
type Properties uint16

// Property flags.
const (
	PropBroadcast                  Properties = 0x01
	PropRead                       Properties = 0x02
	PropWriteWithoutResponse       Properties = 0x04
	PropWrite                      Properties = 0x08
	PropNotify                     Properties = 0x10
	PropIndicate                   Properties = 0x20
	PropSignedWrite                Properties = 0x40
	PropExtendedProperties         Properties = 0x80
	PropNotifyEncryptionRequired   Properties = 0x100
	PropIndicateEncryptionRequired Properties = 0x200
)

var propertyNames = []struct {
	flag Properties
	name string
}{
	{PropBroadcast, "broadcast"},
	{PropRead, "read"},
	{PropWriteWithoutResponse, "writeWithoutResponse"},
	{PropWrite, "write"},
	{PropNotify, "notify"},
	{PropIndicate, "indicate"},
	{PropSignedWrite, "signedWrite"},
	{PropExtendedProperties, "extendedProperties"},
	{PropNotifyEncryptionRequired, "notifyEncryptionRequired"},
	{PropIndicateEncryptionRequired, "indicateEncryptionRequired"},
}

// Has reports whether every flag in f is set.
func (p Properties) Has(f Properties) bool {
	return p&f == f
}

// CanNotify reports whether the characteristic pushes value updates.
func (p Properties) CanNotify() bool {
	return p&(PropNotify|PropIndicate) != 0
}

// CanWrite reports whether the characteristic accepts writes of any kind.
func (p Properties) CanWrite() bool {
	return p&(PropWrite|PropWriteWithoutResponse) != 0
}

// WriteMode picks the write type for the characteristic: without response
// when the peripheral supports it, with response otherwise.
func (p Properties) WriteMode() WriteMode {
	if p.Has(PropWriteWithoutResponse) {
		return WriteWithoutResponse
	}
	return WriteWithResponse
}

// String lists the set flags, e.g. "read|notify".
func (p Properties) String() string {
	var names []string
	for _, pn := range propertyNames {
		if p.Has(pn.flag) {
			names = append(names, pn.name)
		}
	}
	return strings.Join(names, "|")
}

// WriteMode selects how a value is written to a characteristic.
type WriteMode int

// Write modes.
const (
	WriteWithResponse WriteMode = iota
	WriteWithoutResponse
)

// Characteristic describes one GATT characteristic of a thing. Topic is the
// broker topic suffix the characteristic is bridged to.
type Characteristic struct {
	UUID        string     `json:"uuid"`
	Description string     `json:"description"`
	Topic       string     `json:"topic"`
	Properties  Properties `json:"properties"`
}

// NewCharacteristic builds a descriptor whose description and topic are the
// characteristic UUID.
func NewCharacteristic(uuid string, props Properties) Characteristic {
	return Characteristic{UUID: uuid, Description: uuid, Topic: uuid, Properties: props}
}

// Info describes a thing known to the gateway.
type Info struct {
	Family          Family           `json:"family"`
	Name            string           `json:"name"`
	UserGivenName   string           `json:"user_given_name,omitempty"`
	PeripheralID    string           `json:"peripheral_id"`
	CloudID         string           `json:"cloud_id,omitempty"`
	IsNative        bool             `json:"is_native"`
	Protocol        *protocol.Info   `json:"protocol,omitempty"`
	Characteristics []Characteristic `json:"characteristics"`
	AutoPublish     bool             `json:"auto_publish"`
}

// NewInfo creates a thing description with auto-publish enabled.
func NewInfo(family Family, name, peripheralID string, isNative bool) Info {
	return Info{
		Family:       family,
		Name:         name,
		PeripheralID: peripheralID,
		IsNative:     isNative,
		AutoPublish:  true,
	}
}

// Update lists optional field changes applied by Info.With. Nil fields are
// left untouched.
type Update struct {
	UserGivenName   *string
	CloudID         *string
	Protocol        *protocol.Info
	Characteristics []Characteristic
	AutoPublish     *bool
}

// With returns a copy of i with the update applied. Supplying protocol info
// marks the thing as native.
func (i Info) With(u Update) Info {
	out := i.Clone()
	if u.UserGivenName != nil {
		out.UserGivenName = *u.UserGivenName
	}
	if u.CloudID != nil {
		out.CloudID = *u.CloudID
	}
	if u.Protocol != nil {
		p := *u.Protocol
		out.Protocol = &p
		out.IsNative = true
	}
	if u.Characteristics != nil {
		out.Characteristics = slices.Clone(u.Characteristics)
	}
	if u.AutoPublish != nil {
		out.AutoPublish = *u.AutoPublish
	}
	return out
}

// Clone returns a deep copy of i.
func (i Info) Clone() Info {
	out := i
	if i.Protocol != nil {
		p := *i.Protocol
		out.Protocol = &p
	}
	out.Characteristics = slices.Clone(i.Characteristics)
	return out
}

// IsRegistered reports whether the thing has a cloud identity.
func (i Info) IsRegistered() bool {
	return i.CloudID != ""
}

// DisplayName prefers the user given name over the advertised one.
func (i Info) DisplayName() string {
	if i.UserGivenName != "" {
		return i.UserGivenName
	}
	return i.Name
}

// Characteristic looks up a characteristic by UUID, ignoring case.
func (i Info) Characteristic(uuid string) (Characteristic, bool) {
	for _, c := range i.Characteristics {
		if strings.EqualFold(c.UUID, uuid) {
			return c, true
		}
	}
	return Characteristic{}, false
}

// Ptr returns a pointer to v. It keeps Update literals short.
func Ptr[T any](v T) *T {
	return &v
}

// CertificatePaths locates the PEM files issued to a registered thing.
type CertificatePaths struct {
	CA   string `json:"ca"`
	Cert string `json:"cert"`
	Key  string `json:"key"`
}

// marshalCharacteristics encodes the characteristic list for storage.
func marshalCharacteristics(cs []Characteristic) (string, error) {
	if cs == nil {
		cs = []Characteristic{}
	}
	b, err := json.Marshal(cs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
