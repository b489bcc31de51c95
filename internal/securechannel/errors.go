// Package securechannel implements the §4.5 B3 encrypted envelope: wrap
// and unwrap of inner application frames with per-direction sequence
// counters, deterministic IVs, and MAC verification.
package securechannel

import "errors"

// CryptoError is the §7 CryptoError taxonomy entry. Any instance means the
// session must be abandoned (§4.5, §7).
type CryptoError struct {
	Reason string
}

func (e *CryptoError) Error() string { return "secure channel: " + e.Reason }

var (
	// ErrSequenceWrap is returned instead of sending when seqOut would wrap
	// past 0xFFFF (§4.5, §8 "Sequence wrap").
	ErrSequenceWrap = errors.New("securechannel: sequence would wrap, session abandoned")
	// ErrReplay marks a received frame whose seq != seqIn (§4.5, §8 "Replay
	// rejection"). It is not a CryptoError: replay frames are silently
	// dropped without tearing down the session.
	ErrReplay = errors.New("securechannel: replayed or reordered sequence, dropped")
	// ErrRehandshakeForced signals that a fresh B0 arrived while an
	// encrypted session was active — the device forced a re-handshake
	// (§4.5 special case).
	ErrRehandshakeForced = errors.New("securechannel: device sent B0, re-handshake required")
	// ErrOpMismatch signals the decrypted inner frame's op did not match
	// what the caller expected (§4.5 "Return inner payload only if...").
	ErrOpMismatch = errors.New("securechannel: unexpected inner op")
)
