package mtls

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/srg/keybridge/internal/wire"
)

func encodeChallengeFrame(salt []byte, iters uint32, chal []byte) wire.Frame {
	payload := make([]byte, 0, 36)
	payload = append(payload, salt...)
	payload = append(payload, byte(iters), byte(iters>>8), byte(iters>>16), byte(iters>>24))
	payload = append(payload, chal...)
	return wire.Frame{Op: wire.OpAppkeyChallenge, Payload: payload}
}

type provisionFixture struct {
	salt  []byte
	iters uint32
	chal  []byte
}

func newProvisionFixture() provisionFixture {
	salt := make([]byte, 16)
	chal := make([]byte, 16)
	for i := range salt {
		salt[i] = byte(i + 1)
		chal[i] = byte(i + 100)
	}
	return provisionFixture{salt: salt, iters: 4096, chal: chal}
}

// respondWithProof wires a scriptedExchanger to serve one A0->A2 challenge
// and validate the A3 proof against password, replying with the raw
// 32-byte appkey on success or a "bad proof" FF otherwise.
func (f provisionFixture) respondWithProof(ex *scriptedExchanger, password string, appkey [32]byte) {
	ex.respond = func(op wire.Op, payload []byte) wire.Frame {
		switch op {
		case wire.OpAppkeyChallengeReq:
			return encodeChallengeFrame(f.salt, f.iters, f.chal)
		case wire.OpAppkeyProof:
			verif := derivePBKDF2([]byte(password), f.salt, int(f.iters))
			want := hmacSHA256(verif, labelAppkey, f.chal)
			if !hmacEqual(want, payload) {
				return wire.Frame{Op: wire.OpError, Payload: []byte("bad proof")}
			}
			return wire.Frame{Op: wire.OpAppkeyResult, Payload: appkey[:]}
		default:
			panic("provisionFixture: unexpected op")
		}
	}
}

// respondWithWrappedProof behaves like respondWithProof but replies with
// the wrapped (cipher+mac) A1 form instead of the raw key.
func (f provisionFixture) respondWithWrappedProof(ex *scriptedExchanger, password string, appkey [32]byte) {
	ex.respond = func(op wire.Op, payload []byte) wire.Frame {
		switch op {
		case wire.OpAppkeyChallengeReq:
			return encodeChallengeFrame(f.salt, f.iters, f.chal)
		case wire.OpAppkeyProof:
			verif := derivePBKDF2([]byte(password), f.salt, int(f.iters))
			want := hmacSHA256(verif, labelAppkey, f.chal)
			if !hmacEqual(want, payload) {
				return wire.Frame{Op: wire.OpError, Payload: []byte("bad proof")}
			}
			wrapKey := hmacSHA256(verif, labelWrap, f.chal)
			iv := hmacTag16(verif, labelIV, f.chal)
			cipher, err := aesCTRCrypt(wrapKey, iv, appkey[:])
			if err != nil {
				panic(err)
			}
			mac := hmacTag16(wrapKey, labelMAC, f.chal, cipher)
			return wire.Frame{Op: wire.OpAppkeyResult, Payload: append(cipher, mac...)}
		default:
			panic("provisionFixture: unexpected op")
		}
	}
}

func fixedPrompt(password string) PasswordPrompt {
	return func(ctx context.Context, deviceID string) ([]byte, error) { return []byte(password), nil }
}

type ProvisionTestSuite struct {
	suite.Suite
	fx     provisionFixture
	appkey [32]byte
}

func (s *ProvisionTestSuite) SetupTest() {
	s.fx = newProvisionFixture()
	for i := range s.appkey {
		s.appkey[i] = byte(200 + i)
	}
}

func (s *ProvisionTestSuite) TestSkipsWhenKeyAlreadyStoredAndNotForced() {
	store := newFakeStore()
	s.Require().NoError(store.Put("dongle-1", s.appkey))

	ex := newScriptedExchanger()
	p := NewProvisioner(ex, store, fixedPrompt("irrelevant"), nil)

	s.Require().NoError(p.Provision(context.Background(), "dongle-1", false))
	s.Equal(0, ex.sentCount(), "no wire traffic expected when provisioning is skipped")
}

func (s *ProvisionTestSuite) TestHappyPathStoresRawKey() {
	store := newFakeStore()
	ex := newScriptedExchanger()
	s.fx.respondWithProof(ex, "correct horse", s.appkey)

	p := NewProvisioner(ex, store, fixedPrompt("correct horse"), nil)
	s.Require().NoError(p.Provision(context.Background(), "dongle-2", false))

	got, ok := store.Get("dongle-2")
	s.Require().True(ok)
	s.Equal(s.appkey, got)
}

func (s *ProvisionTestSuite) TestForceFetchIgnoresExistingKey() {
	store := newFakeStore()
	var staleKey [32]byte
	staleKey[0] = 0xAA
	s.Require().NoError(store.Put("dongle-3", staleKey))

	ex := newScriptedExchanger()
	s.fx.respondWithProof(ex, "correct horse", s.appkey)

	p := NewProvisioner(ex, store, fixedPrompt("correct horse"), nil)
	s.Require().NoError(p.Provision(context.Background(), "dongle-3", true))
	s.True(ex.sentCount() > 0)

	got, ok := store.Get("dongle-3")
	s.Require().True(ok)
	s.Equal(s.appkey, got)
}

func (s *ProvisionTestSuite) TestWrappedAppkeyIsUnwrapped() {
	store := newFakeStore()
	ex := newScriptedExchanger()
	s.fx.respondWithWrappedProof(ex, "correct horse", s.appkey)

	p := NewProvisioner(ex, store, fixedPrompt("correct horse"), nil)
	s.Require().NoError(p.Provision(context.Background(), "dongle-4", false))

	got, ok := store.Get("dongle-4")
	s.Require().True(ok)
	s.Equal(s.appkey, got)
}

func (s *ProvisionTestSuite) TestRetriesWithNFKCNormalizedPassword() {
	// "A + combining ring above" normalizes (NFKC) to the single codepoint
	// "Å", so the raw and normalized passwords derive different verifiers.
	raw := "secretÅ"
	normalized := normalizePassword([]byte(raw))
	s.Require().NotEqual([]byte(raw), normalized)

	store := newFakeStore()
	ex := newScriptedExchanger()

	callCount := 0
	ex.respond = func(op wire.Op, payload []byte) wire.Frame {
		switch op {
		case wire.OpAppkeyChallengeReq:
			callCount++
			return encodeChallengeFrame(s.fx.salt, s.fx.iters, s.fx.chal)
		case wire.OpAppkeyProof:
			verif := derivePBKDF2(normalized, s.fx.salt, int(s.fx.iters))
			want := hmacSHA256(verif, labelAppkey, s.fx.chal)
			if !hmacEqual(want, payload) {
				return wire.Frame{Op: wire.OpError, Payload: []byte("bad proof")}
			}
			return wire.Frame{Op: wire.OpAppkeyResult, Payload: s.appkey[:]}
		default:
			panic("unexpected op")
		}
	}

	p := NewProvisioner(ex, store, fixedPrompt(raw), nil)
	s.Require().NoError(p.Provision(context.Background(), "dongle-5", false))

	got, ok := store.Get("dongle-5")
	s.Require().True(ok)
	s.Equal(s.appkey, got)
	s.Equal(2, callCount, "expected one challenge for the failed attempt and one for the retry")
}

func (s *ProvisionTestSuite) TestChallengeErrorIsClassified() {
	store := newFakeStore()
	ex := newScriptedExchanger()
	ex.respond = func(op wire.Op, payload []byte) wire.Frame {
		return wire.Frame{Op: wire.OpError, Payload: []byte("LOCKED_SINGLE_NEED_RESET")}
	}

	p := NewProvisioner(ex, store, fixedPrompt("whatever"), nil)
	err := p.Provision(context.Background(), "dongle-6", false)
	s.Require().Error(err)

	var perr *ProvisioningError
	s.Require().ErrorAs(err, &perr)
	s.Equal(ProvLockedNeedsReset, perr.Class)
}

func (s *ProvisionTestSuite) TestUnrecoverableBadProofPropagatesWhenPasswordAlreadyNormalized() {
	store := newFakeStore()
	ex := newScriptedExchanger()
	// Password is already NFKC-normalized, so a bad-proof failure has
	// nothing different to retry with and must propagate.
	s.fx.respondWithProof(ex, "the-actual-password", s.appkey)

	p := NewProvisioner(ex, store, fixedPrompt("wrong-password"), nil)
	err := p.Provision(context.Background(), "dongle-7", false)
	s.Require().Error(err)

	var perr *ProvisioningError
	s.Require().ErrorAs(err, &perr)
	s.Equal(ProvBadProof, perr.Class)
}

func TestProvisionTestSuite(t *testing.T) {
	suite.Run(t, new(ProvisionTestSuite))
}
