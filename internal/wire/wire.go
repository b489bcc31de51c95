// Package wire defines the outer frame format shared by every message the
// host exchanges with the dongle: OP(1) | LEN(2, little-endian) | PAYLOAD.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Op identifies a wire message type.
type Op byte

// Message types, per spec §6.
const (
	OpAppkeyChallengeReq   Op = 0xA0
	OpAppkeyChallenge      Op = 0xA2
	OpAppkeyProof          Op = 0xA3
	OpAppkeyResult         Op = 0xA1
	OpServerHello          Op = 0xB0
	OpClientHello          Op = 0xB1
	OpServerFinish         Op = 0xB2
	OpSecureEnvelope       Op = 0xB3
	OpSetLayout            Op = 0xC0
	OpGetInfo              Op = 0xC1
	OpInfo                 Op = 0xC2
	OpFactoryReset         Op = 0xC4
	OpEnableRawKeys        Op = 0xC8
	OpTypeString           Op = 0xD0
	OpTypeResult           Op = 0xD1
	OpRawKeyTap            Op = 0xE0
	OpAck                  Op = 0x00
	OpError                Op = 0xFF
)

// MaxFrameLen is the largest plausible payload length (§4.3).
const MaxFrameLen = 1024

// HeaderLen is the size of OP+LEN.
const HeaderLen = 3

// Frame is a reassembled, semantically uninterpreted wire message.
type Frame struct {
	Op      Op
	Payload []byte
}

// Encode serializes a frame as OP | LEN(LE) | PAYLOAD.
func Encode(op Op, payload []byte) []byte {
	buf := make([]byte, HeaderLen+len(payload))
	buf[0] = byte(op)
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(payload)))
	copy(buf[3:], payload)
	return buf
}

// Decode parses a single complete OP|LEN|PAYLOAD buffer. It does not
// handle partial frames or resync; that is the Framer's job. Decode is for
// callers that already know they hold exactly one frame's bytes.
func Decode(buf []byte) (Frame, error) {
	if len(buf) < HeaderLen {
		return Frame{}, fmt.Errorf("wire: buffer shorter than header: %d bytes", len(buf))
	}
	op := Op(buf[0])
	n := int(binary.LittleEndian.Uint16(buf[1:3]))
	if len(buf) != HeaderLen+n {
		return Frame{}, fmt.Errorf("wire: length mismatch: header says %d, have %d", n, len(buf)-HeaderLen)
	}
	return Frame{Op: op, Payload: buf[HeaderLen:]}, nil
}

// opNames mirrors the teacher's known-name lookup idiom (internal/bledb),
// adapted from a GATT UUID table to this protocol's small, fixed op set.
var opNames = map[Op]string{
	OpAppkeyChallengeReq: "A0 APPKEY_CHALLENGE_REQ",
	OpAppkeyChallenge:    "A2 APPKEY_CHALLENGE",
	OpAppkeyProof:        "A3 APPKEY_PROOF",
	OpAppkeyResult:       "A1 APPKEY_RESULT",
	OpServerHello:        "B0 SERVER_HELLO",
	OpClientHello:        "B1 CLIENT_HELLO",
	OpServerFinish:       "B2 SERVER_FINISH",
	OpSecureEnvelope:     "B3 SECURE_ENVELOPE",
	OpSetLayout:          "C0 SET_LAYOUT",
	OpGetInfo:            "C1 GET_INFO",
	OpInfo:               "C2 INFO",
	OpFactoryReset:       "C4 FACTORY_RESET",
	OpEnableRawKeys:      "C8 ENABLE_RAW_KEYS",
	OpTypeString:         "D0 TYPE_STRING",
	OpTypeResult:         "D1 TYPE_RESULT",
	OpRawKeyTap:          "E0 RAW_KEY_TAP",
	OpAck:                "00 ACK",
	OpError:              "FF ERROR",
}

// Name returns a human-readable op name for logging, falling back to the
// literal "UNKNOWN" for unrecognized ops (the dongle's op space may grow).
func Name(op Op) string {
	if n, ok := opNames[op]; ok {
		return n
	}
	return "UNKNOWN"
}
