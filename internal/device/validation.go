package device

import (
	"fmt"
	"strings"
)

const (
	maxNameLength       = 100
	maxIdentityLength   = 256
	maxPropertyKeys     = 50
	maxPropertyValueLen = 1024
)

// ValidateKnownDevice checks a known device before it is stored.
func ValidateKnownDevice(d KnownDevice) error {
	identity := strings.TrimSpace(d.Identity)
	if identity == "" {
		return fmt.Errorf("%w: identity is required", ErrInvalidDevice)
	}
	if len(identity) > maxIdentityLength {
		return fmt.Errorf("%w: identity exceeds %d characters", ErrInvalidDevice, maxIdentityLength)
	}
	if identity != d.Identity {
		return fmt.Errorf("%w: identity has surrounding whitespace", ErrInvalidDevice)
	}
	if strings.TrimSpace(d.Protocol) == "" {
		return fmt.Errorf("%w: protocol is required", ErrInvalidDevice)
	}
	if len(d.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidDevice, maxNameLength)
	}
	if len(d.Properties) > maxPropertyKeys {
		return fmt.Errorf("%w: more than %d properties", ErrInvalidDevice, maxPropertyKeys)
	}
	for k, v := range d.Properties {
		if len(v) > maxPropertyValueLen {
			return fmt.Errorf("%w: property %q exceeds %d characters", ErrInvalidDevice, k, maxPropertyValueLen)
		}
	}
	return nil
}
