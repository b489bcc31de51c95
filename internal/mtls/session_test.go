package mtls

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/srg/keybridge/internal/wire"
)

// serverHello builds a valid B0 frame for a given server keypair and sid.
func serverHelloFrame(srvPub []byte, sid uint32) wire.Frame {
	payload := append(append([]byte(nil), srvPub...), be32(sid)...)
	return wire.Frame{Op: wire.OpServerHello, Payload: payload}
}

func TestEstablishSessionSuite(t *testing.T) {
	suite.Run(t, new(EstablishSessionTestSuite))
}

type EstablishSessionTestSuite struct {
	suite.Suite
}

func (s *EstablishSessionTestSuite) appkey() [32]byte {
	var k [32]byte
	for i := range k {
		k[i] = byte(i + 7)
	}
	return k
}

func (s *EstablishSessionTestSuite) TestHappyPath() {
	srvPriv, srvPub, err := generateP256KeyPair()
	s.Require().NoError(err)
	const sid = uint32(99)
	appkey := s.appkey()

	ex := newScriptedExchanger()
	ex.push(serverHelloFrame(srvPub, sid))

	var gotKeys SessionKeys
	ex.respond = func(op wire.Op, payload []byte) wire.Frame {
		s.Require().Equal(wire.OpClientHello, op)
		cliPub := append([]byte(nil), payload[:65]...)
		sidBE := be32(sid)

		shared, err := ecdhShared(srvPriv, cliPub)
		s.Require().NoError(err)
		info := append(append(append([]byte(nil), hkdfInfoTag...), sidBE...), append(append([]byte(nil), srvPub...), cliPub...)...)
		sessKey, err := hkdfExpand(shared, appkey[:], info)
		s.Require().NoError(err)

		copy(gotKeys.Enc[:], hmacSHA256(sessKey, labelEnc))
		copy(gotKeys.Mac[:], hmacSHA256(sessKey, labelMac))
		copy(gotKeys.Iv[:], hmacSHA256(sessKey, labelIvK))

		fin := hmacTag16(gotKeys.Mac[:], labelSFin, sidBE, srvPub, cliPub)
		return wire.Frame{Op: wire.OpServerFinish, Payload: fin}
	}

	result, err := EstablishSession(context.Background(), ex, appkey, nil)
	s.Require().NoError(err)
	s.Equal(sid, result.SID)
	s.Equal(gotKeys, result.Keys)
}

func (s *EstablishSessionTestSuite) TestRejectsWrongB0Op() {
	ex := newScriptedExchanger()
	ex.push(wire.Frame{Op: wire.OpAck})

	_, err := EstablishSession(context.Background(), ex, s.appkey(), nil)
	s.ErrorIs(err, ErrNoB0)
}

func (s *EstablishSessionTestSuite) TestRejectsMalformedB0() {
	ex := newScriptedExchanger()
	ex.push(wire.Frame{Op: wire.OpServerHello, Payload: []byte{0x01, 0x02}})

	_, err := EstablishSession(context.Background(), ex, s.appkey(), nil)
	s.Error(err)
}

func (s *EstablishSessionTestSuite) TestSFINMismatchIsBareSentinel() {
	_, srvPub, err := generateP256KeyPair()
	s.Require().NoError(err)
	const sid = uint32(7)

	ex := newScriptedExchanger()
	ex.push(serverHelloFrame(srvPub, sid))
	ex.respond = func(op wire.Op, payload []byte) wire.Frame {
		return wire.Frame{Op: wire.OpServerFinish, Payload: make([]byte, macSize)}
	}

	_, err = EstablishSession(context.Background(), ex, s.appkey(), nil)
	s.Require().Error(err)
	s.True(errors.Is(err, ErrSFINMismatch))

	var herr *HandshakeError
	s.False(errors.As(err, &herr), "SFIN mismatch must surface as the bare sentinel, not a HandshakeError")
}

func (s *EstablishSessionTestSuite) TestServerErrorDuringB1IsClassified() {
	_, srvPub, err := generateP256KeyPair()
	s.Require().NoError(err)
	const sid = uint32(7)

	ex := newScriptedExchanger()
	ex.push(serverHelloFrame(srvPub, sid))
	ex.respond = func(op wire.Op, payload []byte) wire.Frame {
		return wire.Frame{Op: wire.OpError, Payload: []byte("BADMAC on keyx")}
	}

	_, err = EstablishSession(context.Background(), ex, s.appkey(), nil)
	s.Require().Error(err)
	var herr *HandshakeError
	s.Require().ErrorAs(err, &herr)
	s.Equal(HandshakeBadMAC, herr.Class)
}

func (s *EstablishSessionTestSuite) TestMalformedB2Rejected() {
	_, srvPub, err := generateP256KeyPair()
	s.Require().NoError(err)
	const sid = uint32(7)

	ex := newScriptedExchanger()
	ex.push(serverHelloFrame(srvPub, sid))
	ex.respond = func(op wire.Op, payload []byte) wire.Frame {
		return wire.Frame{Op: wire.OpServerFinish, Payload: []byte{0x01}}
	}

	_, err = EstablishSession(context.Background(), ex, s.appkey(), nil)
	s.Error(err)
}
