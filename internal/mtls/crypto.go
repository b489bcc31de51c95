package mtls

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"

	"github.com/srg/keybridge/internal/cryptoutil"
)

const macSize = cryptoutil.MACSize

func hmacSHA256(key []byte, parts ...[]byte) []byte { return cryptoutil.HMACFull(key, parts...) }
func hmacTag16(key []byte, parts ...[]byte) []byte  { return cryptoutil.HMACTag16(key, parts...) }
func hmacEqual(a, b []byte) bool                    { return cryptoutil.Equal(a, b) }
func aesCTRCrypt(key32, iv, data []byte) ([]byte, error) {
	return cryptoutil.AESCTR(key32, iv, data)
}
func be32(v uint32) []byte { return cryptoutil.BE32(v) }

// derivePBKDF2 computes the password-derived verifier (§4.4 step 3).
func derivePBKDF2(password []byte, salt []byte, iters int) []byte {
	return pbkdf2.Key(password, salt, iters, 32, sha256.New)
}

// hkdfExpand derives a 32-byte session key from ECDH shared secret material
// (§4.4 step 6).
func hkdfExpand(secret, salt, info []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, salt, info)
	out := make([]byte, 32)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, fmt.Errorf("mtls: hkdf expand: %w", err)
	}
	return out, nil
}

// generateP256KeyPair creates an ephemeral ECDH key pair on P-256 (§4.4
// step 2) and returns the private key plus its uncompressed 65-byte public
// key encoding.
func generateP256KeyPair() (*ecdh.PrivateKey, []byte, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("mtls: generating ephemeral key: %w", err)
	}
	return priv, priv.PublicKey().Bytes(), nil
}

// ecdhShared computes the ECDH shared secret given our private key and the
// peer's uncompressed 65-byte public key.
func ecdhShared(priv *ecdh.PrivateKey, peerPub65 []byte) ([]byte, error) {
	pub, err := ecdh.P256().NewPublicKey(peerPub65)
	if err != nil {
		return nil, fmt.Errorf("mtls: invalid peer public key: %w", err)
	}
	shared, err := priv.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("mtls: ecdh: %w", err)
	}
	return shared, nil
}
