// Package errors pkg/wire/errors.go provides errors for the wire package.

package wire

import "errors"

var (
	// ErrEnvelopeCorrupt marks outer-envelope damage. Messages failing with
	// it are dropped; nothing is stored.
	ErrEnvelopeCorrupt = errors.New("envelope corrupt")

	// ErrDecode marks a payload that could not be interpreted. Packets
	// failing with it degrade to the unknown port and are still stored.
	ErrDecode = errors.New("payload decode failed")

	ErrBadCipherKey = errors.New("invalid cipher key")
)
