// Package device holds the gateway's data model for BLE things and the
// registration cache that persists them.
//
// # Model
//
// An Info describes one thing: the peripheral it maps to, whether it speaks
// the native descriptor protocol, its GATT characteristics, and, once
// registered, its cloud identity. Info values are treated as immutable;
// Info.With returns an updated copy.
//
// # Registration cache
//
//	┌──────────────────┐    ┌──────────────────┐
//	│     Registry     │───▶│    Repository    │
//	│  (registry.go)   │    │ (repository.go)  │
//	│ • in-memory map  │    │ • SQLite tables  │
//	│ • thread safety  │    │ • JSON columns   │
//	└──────────────────┘    └──────────────────┘
//
// The Registry is populated at startup with RefreshCache and written
// through on every change. It also keeps the two lookup tables learned
// from the cloud: characteristic → message type and thing-type name →
// thing type id, plus the certificate paths issued for each thing.
package device
