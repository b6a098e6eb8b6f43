// Package ble drives BLE scanning, connection and GATT discovery for the
// gateway.
//
// The package never talks to a radio directly. It consumes the Radio and
// Peripheral capabilities, implemented by a real driver adapter
// (package goble) or by the in-memory double in package bletest.
//
// # Scheduling
//
// A Scheduler owns at most one active task at a time: a scan or a connect.
// Radio callbacks are translated into task events and the task reports a
// single terminal result on its result channel. While a task is active any
// further submission is rejected with ErrBusy, so callers know a retry is
// sane.
//
//	            SubmitScan / SubmitConnect
//	                      │
//	                      ▼
//	┌──────────────────────────────────────────┐
//	│                Scheduler                 │
//	│  active task ── scanTask | connectTask   │
//	│  connected peripherals                   │
//	│  GATT result cache ◀── Detector          │
//	└──────────────────────────────────────────┘
//	        ▲                          │
//	  RadioHandler events        Scan/StopScan/Connect
//	        │                          ▼
//	┌──────────────────────────────────────────┐
//	│            Radio (driver adapter)        │
//	└──────────────────────────────────────────┘
//
// # Threading
//
// All scheduler and detector state is confined to one Executor. Public
// methods post onto it; drivers must deliver every RadioHandler and
// PeripheralHandler call on it as well. No locks guard that state.
package ble
