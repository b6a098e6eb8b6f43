//go:build linux

package goble

import (
	gble "github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

// openHCI opens the HCI controller with the given index.
func openHCI(index int) (hostDevice, error) {
	return linux.NewDevice(gble.OptDeviceID(index))
}
