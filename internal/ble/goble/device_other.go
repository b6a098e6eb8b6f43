//go:build !linux

package goble

import "errors"

func openHCI(int) (hostDevice, error) {
	return nil, errors.New("goble: HCI access requires linux")
}
