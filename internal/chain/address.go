package chain

import (
	"errors"
	"regexp"
)

// ErrInvalidAddress is returned for a malformed wallet address
var ErrInvalidAddress = errors.New("invalid wallet address")

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// ValidateAddress checks the 0x-prefixed 32-byte hex form
func ValidateAddress(address string) error {
	if !addressPattern.MatchString(address) {
		return ErrInvalidAddress
	}
	return nil
}
