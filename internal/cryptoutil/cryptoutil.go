// Package cryptoutil holds the small set of primitive operations shared by
// the handshake (internal/mtls) and the secure channel
// (internal/securechannel): truncated HMAC tags, AES-CTR, and constant-time
// comparison. Keeping them here avoids either package depending on the
// other just to share a MAC helper.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
)

// MACSize is the truncated HMAC-SHA256 tag length used throughout the wire
// protocol (§6: "MAC tags are 16-byte HMAC truncations").
const MACSize = 16

// HMACFull computes a full 32-byte HMAC-SHA256 tag over the concatenation
// of parts.
func HMACFull(key []byte, parts ...[]byte) []byte {
	mac := hmac.New(sha256.New, key)
	for _, p := range parts {
		mac.Write(p)
	}
	return mac.Sum(nil)
}

// HMACTag16 computes HMAC-SHA256 and truncates to MACSize bytes.
func HMACTag16(key []byte, parts ...[]byte) []byte {
	return HMACFull(key, parts...)[:MACSize]
}

// Equal compares two MAC tags in constant time.
func Equal(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}

// AESCTR runs AES-128-CTR over data with the given 32-byte subkey and IV.
// Per §6/§9, the cipher key is the first 16 bytes of the 32-byte subkey
// (an Open Question in spec.md, resolved per the wire format's explicit
// parenthetical; see DESIGN.md).
func AESCTR(key32, iv, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key32[:16])
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: aes init: %w", err)
	}
	if len(iv) != block.BlockSize() {
		return nil, fmt.Errorf("cryptoutil: iv must be %d bytes, got %d", block.BlockSize(), len(iv))
	}
	out := make([]byte, len(data))
	cipher.NewCTR(block, iv).XORKeyStream(out, data)
	return out, nil
}

// BE32 big-endian encodes a uint32 (sid in MAC/IV inputs, §6 "Endianness").
func BE32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// BE16 big-endian encodes a uint16 (seq/clen in MAC/IV inputs, §6
// "Endianness").
func BE16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}
