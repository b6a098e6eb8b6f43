// Package protocol decodes the Geeny native-device descriptor.
//
// A native device exposes a dedicated GATT service carrying one readable
// characteristic. The characteristic value is a little-endian version word
// followed by a version-specific body. Version 1 carries two 128-bit
// identifiers: the device serial number and the device type.
//
//	offset  size  field
//	0       2     protocol version (little-endian)
//	2       16    serial number   (little-endian UUID)
//	18      16    device type id  (little-endian UUID)
package protocol
