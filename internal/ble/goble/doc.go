// Package goble adapts github.com/go-ble/ble to the ble.Radio and
// ble.Peripheral capabilities.
//
// go-ble exposes blocking calls. The adapter runs them on goroutines (one
// worker per connected peripheral, one for the active scan) and posts every
// result onto the scheduler's executor, so the core only ever sees events
// in delivery order on a single goroutine.
package goble
