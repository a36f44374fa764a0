package wire

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
)

// payloadNonce derives the 16-byte stream-cipher nonce from the packet id and
// sender id, both widened to 64 bits little-endian. The layout is fixed by
// the mesh protocol.
func payloadNonce(packetID, sender uint32) []byte {
	nonce := make([]byte, aes.BlockSize)
	binary.LittleEndian.PutUint64(nonce[0:8], uint64(packetID))
	binary.LittleEndian.PutUint64(nonce[8:16], uint64(sender))

	return nonce
}

// DecryptPayload runs the channel payload through AES-CTR with the nonce
// derived from (packetID, sender). The transform is deterministic and has no
// integrity check: a wrong key yields garbage bytes, not an error, and the
// caller's parse stage is expected to tolerate that.
func DecryptPayload(key []byte, packetID, sender uint32, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadCipherKey, err)
	}

	stream := cipher.NewCTR(block, payloadNonce(packetID, sender))

	plaintext := make([]byte, len(ciphertext))
	stream.XORKeyStream(plaintext, ciphertext)

	return plaintext, nil
}

// EncryptPayload is the inverse of DecryptPayload. CTR mode is symmetric, so
// it is the same transform; it exists for fixture construction and bridge
// tooling, the capture path never encrypts.
func EncryptPayload(key []byte, packetID, sender uint32, plaintext []byte) ([]byte, error) {
	return DecryptPayload(key, packetID, sender, plaintext)
}
