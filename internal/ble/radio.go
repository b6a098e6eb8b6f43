package ble

import "github.com/nerrad567/geeny-gateway/internal/device"

// RadioState is the power and availability state reported by the radio.
type RadioState int

// Radio states.
const (
	RadioUnknown RadioState = iota
	RadioResetting
	RadioUnsupported
	RadioUnauthorized
	RadioPoweredOff
	RadioPoweredOn
)

var radioStateNames = map[RadioState]string{
	RadioUnknown:      "unknown",
	RadioResetting:    "resetting",
	RadioUnsupported:  "unsupported",
	RadioUnauthorized: "unauthorized",
	RadioPoweredOff:   "poweredOff",
	RadioPoweredOn:    "poweredOn",
}

func (s RadioState) String() string {
	if name, ok := radioStateNames[s]; ok {
		return name
	}
	return "invalid"
}

// PeripheralState is the connection state of a peripheral.
type PeripheralState int

// Peripheral connection states.
const (
	PeripheralDisconnected PeripheralState = iota
	PeripheralConnecting
	PeripheralConnected
	PeripheralDisconnecting
)

func (s PeripheralState) String() string {
	switch s {
	case PeripheralDisconnected:
		return "disconnected"
	case PeripheralConnecting:
		return "connecting"
	case PeripheralConnected:
		return "connected"
	case PeripheralDisconnecting:
		return "disconnecting"
	default:
		return "invalid"
	}
}

// Advertisement carries the parts of an advertising report the gateway uses.
type Advertisement struct {
	LocalName string
	Services  []string
	RSSI      int
}

// CharacteristicInfo is a characteristic as reported by discovery.
type CharacteristicInfo struct {
	UUID       string
	Properties device.Properties
}

// Radio is the central-role capability of a BLE driver.
type Radio interface {
	// State returns the current radio state.
	State() RadioState

	// Scan starts scanning. A nil filter reports every advertiser.
	Scan(services []string)

	// StopScan stops an ongoing scan. It is a no-op when idle.
	StopScan()

	// Connect requests a connection. The outcome arrives through
	// RadioHandler.PeripheralConnected or PeripheralConnectFailed.
	Connect(p Peripheral)

	// SetHandler installs the receiver of radio events.
	SetHandler(h RadioHandler)
}

// RadioHandler receives radio events. Drivers call it on the executor.
type RadioHandler interface {
	StateChanged(state RadioState)
	PeripheralDiscovered(p Peripheral, adv Advertisement)
	PeripheralConnected(p Peripheral)
	PeripheralDisconnected(p Peripheral, err error)
	PeripheralConnectFailed(p Peripheral, err error)
}

// Peripheral is a remote device known to the radio. The driver owns its
// lifecycle; the gateway only holds references.
type Peripheral interface {
	ID() string
	Name() string
	State() PeripheralState

	// Handler returns the current receiver of peripheral events.
	Handler() PeripheralHandler

	// SetHandler replaces the receiver of peripheral events and returns
	// the previous one.
	SetHandler(h PeripheralHandler) PeripheralHandler

	DiscoverServices()
	DiscoverCharacteristics(service string)
	ReadValue(characteristic string)
	SetNotify(enabled bool, characteristic string)
	WriteValue(data []byte, characteristic string, mode device.WriteMode)
}

// PeripheralHandler receives the results of peripheral operations.
type PeripheralHandler interface {
	ServicesDiscovered(p Peripheral, services []string, err error)
	CharacteristicsDiscovered(p Peripheral, service string, chars []CharacteristicInfo, err error)
	ValueUpdated(p Peripheral, characteristic string, value []byte, err error)
}
