package keyring

import "errors"

var (
	ErrUnknownChannel = errors.New("no key for channel and no default key configured")
	ErrMalformedKey   = errors.New("malformed channel key")
	ErrBadKeyLength   = errors.New("channel key must be 1, 16 or 32 bytes")
)
