package mtls

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/keybridge/internal/wire"
)

// Subkey domain-separation labels (§4.4 step 7).
var (
	labelEnc  = []byte("ENC")
	labelMac  = []byte("MAC")
	labelIvK  = []byte("IVK")
	labelKeyX = []byte("KEYX")
	labelSFin = []byte("SFIN")
	hkdfInfoTag = []byte("MT1")
)

// SessionKeys holds the three 32-byte subkeys derived for one MTLS session
// (§3 SessionKeys).
type SessionKeys struct {
	Enc [32]byte
	Mac [32]byte
	Iv  [32]byte
}

// SessionResult is the outcome of a successful session establishment
// (§4.4 step 9): enough to construct a securechannel.Session.
type SessionResult struct {
	SID  uint32
	Keys SessionKeys
}

// EstablishSession runs the §4.4 B0/B1/B2 MTLS session establishment.
// ctx bounds how long to wait for the unsolicited server hello.
func EstablishSession(ctx context.Context, ex Exchanger, appkey [32]byte, log logrus.FieldLogger) (*SessionResult, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	b0, err := ex.RecvFrame(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoB0, err)
	}
	if b0.Op != wire.OpServerHello {
		return nil, fmt.Errorf("%w: got %s instead", ErrNoB0, wire.Name(b0.Op))
	}
	if len(b0.Payload) != 65+4 {
		return nil, fmt.Errorf("mtls: malformed B0 (%d bytes)", len(b0.Payload))
	}
	srvPub := append([]byte(nil), b0.Payload[:65]...)
	sid := binary.BigEndian.Uint32(b0.Payload[65:69])
	sidBE := be32(sid)

	cliPriv, cliPub, err := generateP256KeyPair()
	if err != nil {
		return nil, err
	}

	mac16 := hmacTag16(appkey[:], labelKeyX, sidBE, srvPub, cliPub)

	b1Payload := append(append([]byte(nil), cliPub...), mac16...)
	if err := ex.SendFrame(ctx, wire.OpClientHello, b1Payload); err != nil {
		return nil, fmt.Errorf("mtls: sending B1: %w", err)
	}

	b2, err := ex.RecvFrame(ctx)
	if err != nil {
		return nil, fmt.Errorf("mtls: awaiting B2: %w", err)
	}
	if b2.Op == wire.OpError {
		return nil, &HandshakeError{Class: classifyHandshakeError(string(b2.Payload)), Reason: string(b2.Payload)}
	}
	if b2.Op != wire.OpServerFinish {
		return nil, fmt.Errorf("mtls: expected B2, got %s", wire.Name(b2.Op))
	}
	if len(b2.Payload) != macSize {
		return nil, fmt.Errorf("mtls: malformed B2 (%d bytes)", len(b2.Payload))
	}

	shared, err := ecdhShared(cliPriv, srvPub)
	if err != nil {
		return nil, &HandshakeError{Class: HandshakeDerive, Reason: err.Error()}
	}

	info := append(append(append([]byte(nil), hkdfInfoTag...), sidBE...), append(srvPub, cliPub...)...)
	sessKey, err := hkdfExpand(shared, appkey[:], info)
	if err != nil {
		return nil, &HandshakeError{Class: HandshakeDerive, Reason: err.Error()}
	}

	keys := SessionKeys{}
	copy(keys.Enc[:], hmacSHA256(sessKey, labelEnc))
	copy(keys.Mac[:], hmacSHA256(sessKey, labelMac))
	copy(keys.Iv[:], hmacSHA256(sessKey, labelIvK))

	expectedFin := hmacTag16(keys.Mac[:], labelSFin, sidBE, srvPub, cliPub)
	if !hmacEqual(expectedFin, b2.Payload) {
		return nil, fmt.Errorf("%w", ErrSFINMismatch)
	}

	log.WithField("sid", sid).Info("mtls: session established")
	return &SessionResult{SID: sid, Keys: keys}, nil
}
