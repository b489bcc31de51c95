package securechannel

import (
	"encoding/binary"
	"fmt"

	"github.com/srg/keybridge/internal/cryptoutil"
	"github.com/srg/keybridge/internal/wire"
)

var (
	labelIV1 = []byte("IV1")
	labelEncM = []byte("ENCM")
)

const (
	dirClient byte = 'C'
	dirServer byte = 'S'
	macSize        = cryptoutil.MACSize
)

// Send wraps inner = [op][len LE][payload] into a B3 envelope and advances
// seqOut. Returns the full outer frame bytes ready to write to the
// transport (§4.5 "Send").
func (s *Session) Send(op wire.Op, payload []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.live {
		return nil, &CryptoError{Reason: "session already abandoned"}
	}
	if s.seqOut == 0xFFFF {
		s.live = false
		return nil, ErrSequenceWrap
	}

	inner := wire.Encode(op, payload)
	seq := s.seqOut
	sidBE := cryptoutil.BE32(s.sid)
	seqBE := cryptoutil.BE16(seq)

	iv := cryptoutil.HMACTag16(s.keys.Iv[:], labelIV1, sidBE, []byte{dirClient}, seqBE)
	cipherText, err := cryptoutil.AESCTR(s.keys.Enc[:], iv, inner)
	if err != nil {
		s.live = false
		return nil, &CryptoError{Reason: fmt.Sprintf("encrypt: %v", err)}
	}
	mac := cryptoutil.HMACTag16(s.keys.Mac[:], labelEncM, sidBE, []byte{dirClient}, seqBE, cipherText)

	outerPayload := make([]byte, 0, 2+2+len(cipherText)+len(mac))
	outerPayload = append(outerPayload, seqBE...)
	outerPayload = append(outerPayload, cryptoutil.BE16(uint16(len(cipherText)))...)
	outerPayload = append(outerPayload, cipherText...)
	outerPayload = append(outerPayload, mac...)

	s.seqOut++
	return wire.Encode(wire.OpSecureEnvelope, outerPayload), nil
}

// Receive unwraps a B3 frame and returns the inner payload, but only if
// the decrypted inner op matches expectOp (§4.5 "Return inner payload
// only if inner op matches the caller's expected op").
//
// A replayed/reordered frame (seq != seqIn) is dropped: Receive returns
// ErrReplay and leaves the session live with seqIn unchanged (§8 "Replay
// rejection"). Any MAC or length failure abandons the session.
func (s *Session) Receive(frame wire.Frame, expectOp wire.Op) ([]byte, error) {
	if frame.Op == wire.OpServerHello {
		s.mu.Lock()
		s.live = false
		s.mu.Unlock()
		return nil, ErrRehandshakeForced
	}

	if frame.Op != wire.OpSecureEnvelope {
		return nil, fmt.Errorf("securechannel: expected B3, got %s", wire.Name(frame.Op))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.live {
		return nil, &CryptoError{Reason: "session already abandoned"}
	}
	if len(frame.Payload) < 4+macSize {
		s.live = false
		return nil, &CryptoError{Reason: "B3 payload too short"}
	}

	seq := binary.BigEndian.Uint16(frame.Payload[0:2])
	clen := binary.BigEndian.Uint16(frame.Payload[2:4])
	rest := frame.Payload[4:]
	if len(rest) != int(clen)+macSize {
		s.live = false
		return nil, &CryptoError{Reason: "B3 length mismatch"}
	}
	cipherText := rest[:clen]
	mac := rest[clen:]

	if seq != s.seqIn {
		return nil, ErrReplay
	}

	sidBE := cryptoutil.BE32(s.sid)
	seqBE := cryptoutil.BE16(seq)
	expMac := cryptoutil.HMACTag16(s.keys.Mac[:], labelEncM, sidBE, []byte{dirServer}, seqBE, cipherText)
	if !cryptoutil.Equal(expMac, mac) {
		s.live = false
		return nil, &CryptoError{Reason: "B3 MAC mismatch"}
	}

	iv := cryptoutil.HMACTag16(s.keys.Iv[:], labelIV1, sidBE, []byte{dirServer}, seqBE)
	inner, err := cryptoutil.AESCTR(s.keys.Enc[:], iv, cipherText)
	if err != nil {
		s.live = false
		return nil, &CryptoError{Reason: fmt.Sprintf("decrypt: %v", err)}
	}
	if len(inner) < wire.HeaderLen {
		s.live = false
		return nil, &CryptoError{Reason: "inner frame too short"}
	}
	innerOp := wire.Op(inner[0])
	innerLen := int(binary.LittleEndian.Uint16(inner[1:3]))
	if len(inner) != wire.HeaderLen+innerLen {
		s.live = false
		return nil, &CryptoError{Reason: "inner frame length mismatch"}
	}

	s.seqIn++

	if innerOp != expectOp {
		return nil, ErrOpMismatch
	}
	return inner[wire.HeaderLen:], nil
}

