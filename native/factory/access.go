package factory

import (
	"fmt"

	"stablefactory/crypto"
)

// AccessControl gates administrative operations on a fixed set of addresses
// supplied at startup.
type AccessControl struct {
	admins map[[20]byte]struct{}
}

// NewAccessControl builds an allowlist from raw administrator addresses.
func NewAccessControl(admins [][20]byte) *AccessControl {
	set := make(map[[20]byte]struct{}, len(admins))
	for _, admin := range admins {
		if admin == ([20]byte{}) {
			continue
		}
		set[admin] = struct{}{}
	}
	return &AccessControl{admins: set}
}

// ParseAccessControl decodes bech32 administrator addresses.
func ParseAccessControl(admins []string) (*AccessControl, error) {
	raw := make([][20]byte, 0, len(admins))
	for _, encoded := range admins {
		addr, err := crypto.ParseAccount(encoded)
		if err != nil {
			return nil, fmt.Errorf("admin %q: %w", encoded, err)
		}
		raw = append(raw, addr)
	}
	return NewAccessControl(raw), nil
}

// Authorize succeeds iff caller is an administrator.
func (a *AccessControl) Authorize(caller [20]byte) error {
	if a == nil {
		return fmt.Errorf("%w: no administrators configured", ErrUnauthorized)
	}
	if _, ok := a.admins[caller]; !ok {
		return fmt.Errorf("%w: %s", ErrUnauthorized, crypto.FromRaw(caller).String())
	}
	return nil
}

// Len reports the number of administrators.
func (a *AccessControl) Len() int {
	if a == nil {
		return 0
	}
	return len(a.admins)
}
