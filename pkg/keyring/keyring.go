// Package keyring pkg/keyring/keyring.go holds the per-channel symmetric
// decryption keys for the capture pipeline. Keys are base64 in configuration,
// decoded exactly once at construction; lookups after that never fail on key
// format.
package keyring

import (
	"encoding/base64"
	"fmt"
)

// defaultPSK is the well-known key that single-byte "key index" entries
// expand from. Index 1 is the PSK itself; indices 2..10 replace the last byte
// with last+index-1. This expansion is a wire compatibility contract.
var defaultPSK = []byte{
	0xd4, 0xf1, 0xbb, 0x3a, 0x20, 0x29, 0x07, 0x59,
	0xf0, 0xbc, 0xff, 0xab, 0xcf, 0x4e, 0x69, 0x01,
}

const maxKeyIndex = 10

// Keyring resolves a channel name to its symmetric key. Immutable after New.
type Keyring struct {
	keys       map[string][]byte
	defaultKey []byte
}

// New builds a Keyring from base64-encoded key material. defaultKey may be
// empty, in which case Resolve fails for channels without an exact match.
// Malformed base64 or an invalid key length fails here, not per-message.
func New(defaultKey string, channelKeys map[string]string) (*Keyring, error) {
	kr := &Keyring{keys: make(map[string][]byte, len(channelKeys))}

	if defaultKey != "" {
		key, err := decodeKey(defaultKey)
		if err != nil {
			return nil, fmt.Errorf("default key: %w", err)
		}

		kr.defaultKey = key
	}

	for channel, encoded := range channelKeys {
		key, err := decodeKey(encoded)
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", channel, err)
		}

		kr.keys[channel] = key
	}

	return kr, nil
}

// Resolve returns the key for an exact channel-name match, falling back to
// the default key. A nil key with nil error means the channel is configured
// unencrypted (key index 0).
func (kr *Keyring) Resolve(channel string) ([]byte, error) {
	if key, ok := kr.keys[channel]; ok {
		return key, nil
	}

	if kr.defaultKey == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}

	return kr.defaultKey, nil
}

// HasDefault reports whether a fallback key is configured.
func (kr *Keyring) HasDefault() bool {
	return kr.defaultKey != nil
}

func decodeKey(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedKey, err)
	}

	return expandKey(raw)
}

// expandKey applies the single-byte key-index convention and validates AES
// key lengths. Index 0 means the channel carries plaintext.
func expandKey(raw []byte) ([]byte, error) {
	switch len(raw) {
	case 1:
		idx := raw[0]
		if idx == 0 {
			return nil, nil
		}

		if idx > maxKeyIndex {
			return nil, fmt.Errorf("%w: key index %d", ErrBadKeyLength, idx)
		}

		key := make([]byte, len(defaultPSK))
		copy(key, defaultPSK)
		key[len(key)-1] += idx - 1

		return key, nil
	case 16, 32:
		return raw, nil
	default:
		return nil, fmt.Errorf("%w: got %d", ErrBadKeyLength, len(raw))
	}
}
