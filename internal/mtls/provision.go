package mtls

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/unicode/norm"

	"github.com/srg/keybridge/internal/keystore"
	"github.com/srg/keybridge/internal/wire"
)

// appkeyLabel / wrap labels are the fixed HMAC domain-separation strings
// from §4.4.
var (
	labelAppkey = []byte("APPKEY")
	labelWrap   = []byte("AKWRAP")
	labelMAC    = []byte("AKMAC")
	labelIV     = []byte("AKIV")
)

// Provisioner runs the §4.4 APPKEY provisioning subprotocol and stores the
// resulting key via the supplied keystore.Store.
type Provisioner struct {
	ex     Exchanger
	store  keystore.Store
	prompt PasswordPrompt
	log    logrus.FieldLogger
}

func NewProvisioner(ex Exchanger, store keystore.Store, prompt PasswordPrompt, log logrus.FieldLogger) *Provisioner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Provisioner{ex: ex, store: store, prompt: prompt, log: log}
}

// challenge is the decoded A2 payload.
type challenge struct {
	salt  []byte
	iters uint32
	chal  []byte
}

func decodeChallenge(payload []byte) (challenge, error) {
	if len(payload) != 16+4+16 {
		return challenge{}, fmt.Errorf("mtls: malformed A2 challenge (%d bytes)", len(payload))
	}
	return challenge{
		salt:  append([]byte(nil), payload[0:16]...),
		iters: binary.LittleEndian.Uint32(payload[16:20]),
		chal:  append([]byte(nil), payload[20:36]...),
	}, nil
}

// Provision runs steps 1-8 of §4.4's APPKEY provisioning, storing the
// resulting key on success. If forceFetch is false and a key is already
// stored for deviceID, this is a no-op (§8 "Idempotent provisioning").
func (p *Provisioner) Provision(ctx context.Context, deviceID string, forceFetch bool) error {
	if !forceFetch {
		if _, ok := p.store.Get(deviceID); ok {
			p.log.WithField("device", deviceID).Debug("mtls: appkey already stored, skipping provisioning")
			return nil
		}
	}

	ch, err := p.requestChallenge(ctx)
	if err != nil {
		return err
	}

	pwBytes, err := p.prompt(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("mtls: password prompt failed: %w", err)
	}
	defer zero(pwBytes)

	key32, err := p.proveAndFetch(ctx, ch, pwBytes)
	if err != nil {
		var perr *ProvisioningError
		if asProvisioningError(err, &perr) && perr.Class == ProvBadProof {
			normalized := normalizePassword(pwBytes)
			defer zero(normalized)
			if bytes.Equal(normalized, pwBytes) {
				return err // nothing different to retry with
			}
			p.log.Debug("mtls: retrying provisioning with NFKC-normalized password")
			ch2, rerr := p.requestChallenge(ctx)
			if rerr != nil {
				return rerr
			}
			key32, err = p.proveAndFetch(ctx, ch2, normalized)
			if err != nil {
				return err
			}
		} else {
			return err
		}
	}

	if err := p.store.Put(deviceID, key32); err != nil {
		return fmt.Errorf("mtls: storing provisioned appkey: %w", err)
	}
	p.log.WithField("device", deviceID).Info("mtls: appkey provisioned")
	return nil
}

// requestChallenge sends A0 and awaits A2 (or FF).
func (p *Provisioner) requestChallenge(ctx context.Context) (challenge, error) {
	if err := p.ex.SendFrame(ctx, wire.OpAppkeyChallengeReq, nil); err != nil {
		return challenge{}, fmt.Errorf("mtls: sending A0: %w", err)
	}
	frame, err := p.ex.RecvFrame(ctx)
	if err != nil {
		return challenge{}, fmt.Errorf("mtls: awaiting A2: %w", err)
	}
	if frame.Op == wire.OpError {
		return challenge{}, &ProvisioningError{Class: classifyProvisioningError(string(frame.Payload)), Reason: string(frame.Payload)}
	}
	if frame.Op != wire.OpAppkeyChallenge {
		return challenge{}, fmt.Errorf("mtls: expected A2, got %s", wire.Name(frame.Op))
	}
	return decodeChallenge(frame.Payload)
}

// proveAndFetch sends A3 (proof) and handles the A1 response, unwrapping
// the key if it arrives in wrapped form.
func (p *Provisioner) proveAndFetch(ctx context.Context, ch challenge, password []byte) ([keystore.AppKeySize]byte, error) {
	var out [keystore.AppKeySize]byte

	verif := derivePBKDF2(password, ch.salt, int(ch.iters))
	proof := hmacSHA256(verif, labelAppkey, ch.chal)

	if err := p.ex.SendFrame(ctx, wire.OpAppkeyProof, proof); err != nil {
		return out, fmt.Errorf("mtls: sending A3: %w", err)
	}

	frame, err := p.ex.RecvFrame(ctx)
	if err != nil {
		return out, fmt.Errorf("mtls: awaiting A1: %w", err)
	}
	if frame.Op == wire.OpError {
		return out, &ProvisioningError{Class: classifyProvisioningError(string(frame.Payload)), Reason: string(frame.Payload)}
	}
	if frame.Op != wire.OpAppkeyResult {
		return out, fmt.Errorf("mtls: expected A1, got %s", wire.Name(frame.Op))
	}

	switch len(frame.Payload) {
	case keystore.AppKeySize:
		copy(out[:], frame.Payload)
		return out, nil
	case keystore.AppKeySize + macSize:
		cipher := frame.Payload[:keystore.AppKeySize]
		mac := frame.Payload[keystore.AppKeySize:]

		wrapKey := hmacSHA256(verif, labelWrap, ch.chal)
		macExp := hmacTag16(wrapKey, labelMAC, ch.chal, cipher)
		if !hmacEqual(macExp, mac) {
			return out, &ProvisioningError{Class: ProvBadProof, Reason: "wrapped APPKEY MAC mismatch"}
		}
		iv := hmacTag16(verif, labelIV, ch.chal)
		plain, derr := aesCTRCrypt(wrapKey, iv, cipher)
		if derr != nil {
			return out, fmt.Errorf("mtls: unwrapping appkey: %w", derr)
		}
		copy(out[:], plain)
		return out, nil
	default:
		return out, fmt.Errorf("mtls: malformed A1 payload (%d bytes)", len(frame.Payload))
	}
}

// normalizePassword returns the NFKC-normalized, trimmed form of pw as a
// fresh buffer; it never mutates pw in place so the caller's zero(pw) on
// the original still clears every byte the prompt actually returned.
func normalizePassword(pw []byte) []byte {
	return bytes.TrimSpace(norm.NFKC.Bytes(pw))
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func asProvisioningError(err error, target **ProvisioningError) bool {
	perr, ok := err.(*ProvisioningError)
	if !ok {
		return false
	}
	*target = perr
	return true
}
