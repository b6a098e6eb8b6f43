package device

import (
	"fmt"
	"strings"
)

// ValidateInfo checks that an Info can be stored.
func ValidateInfo(i Info) error {
	if strings.TrimSpace(i.PeripheralID) == "" {
		return fmt.Errorf("%w: peripheral id is required", ErrInvalidInfo)
	}
	if !i.Family.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidFamily, i.Family)
	}
	for idx, c := range i.Characteristics {
		if c.UUID == "" {
			return fmt.Errorf("%w: characteristic %d has no uuid", ErrInvalidInfo, idx)
		}
	}
	if i.IsNative && i.Protocol == nil && i.IsRegistered() {
		return fmt.Errorf("%w: registered native thing without protocol info", ErrInvalidInfo)
	}
	return nil
}
