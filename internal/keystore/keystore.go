// Package keystore persists, retrieves, and wipes per-dongle 32-byte APPKEY
// secrets (§4.1). Ciphertext is encrypted under a long-lived, non-exportable
// RSA key pair that stands in for an OS-provided hardware key — the pack
// offers no portable hardware-key API, so this is the one deliberate
// standard-library concern in the module (see DESIGN.md/SPEC_FULL.md).
package keystore

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// AppKeySize is the fixed length of a provisioned APPKEY.
const AppKeySize = 32

// rsaKeyBits matches spec.md's "2048-bit RSA-equivalent" requirement.
const rsaKeyBits = 2048

// Errors surfaced to callers; decrypt/decode failures are deliberately
// swallowed into ErrNoKey rather than propagated (§4.1).
var (
	ErrNoKey      = errors.New("keystore: no key stored for device")
	ErrEncryption = errors.New("keystore: encryption failed")
)

// Store is the §4.1 Key Store contract.
type Store interface {
	Put(deviceID string, key [AppKeySize]byte) error
	Get(deviceID string) ([AppKeySize]byte, bool)
	Clear(deviceID string) error
}

// FileStore is a Store backed by a directory on disk: one RSA key pair
// (hardware-key stand-in, created lazily and retained across Clear calls)
// and one base64 ciphertext file per slot.
type FileStore struct {
	dir    string
	log    logrus.FieldLogger
	mu     sync.Mutex
	priv   *rsa.PrivateKey
	loaded bool
}

// NewFileStore creates a FileStore rooted at dir (created if absent).
func NewFileStore(dir string, log logrus.FieldLogger) *FileStore {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &FileStore{dir: dir, log: log}
}

// SlotID derives the stable, non-reversible per-device slot id per §4.1:
// SHA-256(lowercase(trim(deviceID)))[0..16], hex-encoded.
func SlotID(deviceID string) string {
	normalized := strings.ToLower(strings.TrimSpace(deviceID))
	sum := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", sum[:16])
}

func (s *FileStore) keyPairPath() string  { return filepath.Join(s.dir, "hwkey.pem") }
func (s *FileStore) slotPath(id string) string { return filepath.Join(s.dir, "slot_"+id+".b64") }

// ensureKeyPair loads the persisted RSA key pair, generating and persisting
// one on first use. Must be called with mu held.
func (s *FileStore) ensureKeyPair() (*rsa.PrivateKey, error) {
	if s.loaded && s.priv != nil {
		return s.priv, nil
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: creating keystore dir: %v", ErrEncryption, err)
	}

	if data, err := os.ReadFile(s.keyPairPath()); err == nil {
		priv, err := decodeRSAKey(data)
		if err == nil {
			s.priv = priv
			s.loaded = true
			return priv, nil
		}
		s.log.WithField("error", err).Warn("keystore: stored hardware key unreadable, regenerating")
	}

	priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("%w: generating hardware key: %v", ErrEncryption, err)
	}
	if err := os.WriteFile(s.keyPairPath(), encodeRSAKey(priv), 0o600); err != nil {
		return nil, fmt.Errorf("%w: persisting hardware key: %v", ErrEncryption, err)
	}
	s.priv = priv
	s.loaded = true
	return priv, nil
}

// Put encrypts key32 under the hardware-backed public key and persists it
// for the device's slot. Encryption failures propagate — the caller must
// refuse to proceed without a stored key (§4.1).
func (s *FileStore) Put(deviceID string, key [AppKeySize]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	priv, err := s.ensureKeyPair()
	if err != nil {
		return err
	}

	ciphertext, err := rsa.EncryptOAEP(sha512.New(), rand.Reader, &priv.PublicKey, key[:], nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	encoded := base64.StdEncoding.EncodeToString(ciphertext)
	slot := SlotID(deviceID)
	if err := os.WriteFile(s.slotPath(slot), []byte(encoded), 0o600); err != nil {
		return fmt.Errorf("%w: writing slot %s: %v", ErrEncryption, slot, err)
	}
	s.log.WithField("slot", slot).Debug("keystore: appkey stored")
	return nil
}

// Get loads and decrypts the slot's ciphertext. Any decode, decrypt, or
// size-mismatch failure is silently treated as "no key" (§4.1) — this
// method never returns an error.
func (s *FileStore) Get(deviceID string) ([AppKeySize]byte, bool) {
	var out [AppKeySize]byte

	s.mu.Lock()
	priv, err := s.ensureKeyPair()
	s.mu.Unlock()
	if err != nil {
		return out, false
	}

	slot := SlotID(deviceID)
	data, err := os.ReadFile(s.slotPath(slot))
	if err != nil {
		return out, false
	}

	ciphertext, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return out, false
	}

	plaintext, err := rsa.DecryptOAEP(sha512.New(), rand.Reader, priv, ciphertext, nil)
	if err != nil {
		return out, false
	}
	if len(plaintext) != AppKeySize {
		return out, false
	}

	copy(out[:], plaintext)
	return out, true
}

// Clear removes only the slot's ciphertext; the hardware key pair is
// retained so re-provisioning the same device is fast (§4.1).
func (s *FileStore) Clear(deviceID string) error {
	slot := SlotID(deviceID)
	err := os.Remove(s.slotPath(slot))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("keystore: clearing slot %s: %w", slot, err)
	}
	return nil
}
