package ops

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/keybridge/internal/cryptoutil"
	"github.com/srg/keybridge/internal/mtls"
	"github.com/srg/keybridge/internal/securechannel"
	"github.com/srg/keybridge/internal/wire"
)

// fakeChannel is an in-memory Channel: WriteRaw hands the written bytes to
// a scripted responder, which decides what frame (if any) comes back on
// the next ReadFrame. Enough to drive Ops without any real transport.
type fakeChannel struct {
	mu       sync.Mutex
	written  [][]byte
	replies  chan wire.Frame
	respond  func(outer []byte) *wire.Frame
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{replies: make(chan wire.Frame, 8)}
}

func (c *fakeChannel) WriteRaw(ctx context.Context, data []byte) error {
	c.mu.Lock()
	c.written = append(c.written, append([]byte(nil), data...))
	respond := c.respond
	c.mu.Unlock()

	if respond != nil {
		if f := respond(data); f != nil {
			c.replies <- *f
		}
	}
	return nil
}

func (c *fakeChannel) ReadFrame(ctx context.Context) (wire.Frame, error) {
	select {
	case f := <-c.replies:
		return f, nil
	case <-ctx.Done():
		return wire.Frame{}, ctx.Err()
	}
}

func (c *fakeChannel) lastWritten() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written[len(c.written)-1]
}

// securechannel.Session always plays the host (client) role: Send tags
// outgoing frames 'C' and Receive only accepts frames tagged 'S'. A test
// "dongle" therefore cannot reuse that type directly — it needs the
// opposite tagging. fakeServerSession reimplements the §4.5 B3 envelope
// algorithm from internal/cryptoutil with the roles swapped, so it can
// stand in for the real dongle against a genuine client Session.
type fakeServerSession struct {
	sid    uint32
	seqOut uint16
	seqIn  uint16
	keys   mtls.SessionKeys
}

const (
	testDirClient byte = 'C'
	testDirServer byte = 'S'
)

var (
	testLabelIV1  = []byte("IV1")
	testLabelEncM = []byte("ENCM")
)

// send encrypts a server-originated inner frame, tagged 'S', mirroring
// securechannel.Session.Send with the direction flipped.
func (f *fakeServerSession) send(op wire.Op, payload []byte) wire.Frame {
	inner := wire.Encode(op, payload)
	seq := f.seqOut
	sidBE := cryptoutil.BE32(f.sid)
	seqBE := cryptoutil.BE16(seq)

	iv := cryptoutil.HMACTag16(f.keys.Iv[:], testLabelIV1, sidBE, []byte{testDirServer}, seqBE)
	cipherText, err := cryptoutil.AESCTR(f.keys.Enc[:], iv, inner)
	if err != nil {
		panic(err)
	}
	mac := cryptoutil.HMACTag16(f.keys.Mac[:], testLabelEncM, sidBE, []byte{testDirServer}, seqBE, cipherText)

	outerPayload := make([]byte, 0, 2+2+len(cipherText)+len(mac))
	outerPayload = append(outerPayload, seqBE...)
	outerPayload = append(outerPayload, cryptoutil.BE16(uint16(len(cipherText)))...)
	outerPayload = append(outerPayload, cipherText...)
	outerPayload = append(outerPayload, mac...)

	f.seqOut++
	outer := wire.Encode(wire.OpSecureEnvelope, outerPayload)
	frame, err := wire.Decode(outer)
	if err != nil {
		panic(err)
	}
	return frame
}

// receive decrypts a client-originated outer frame, expecting it tagged
// 'C', mirroring securechannel.Session.Receive with the direction flipped.
func (f *fakeServerSession) receive(outer []byte, expectOp wire.Op) ([]byte, error) {
	frame, err := wire.Decode(outer)
	if err != nil {
		return nil, err
	}
	if frame.Op != wire.OpSecureEnvelope {
		return nil, fmt.Errorf("fakeServerSession: expected B3, got %s", wire.Name(frame.Op))
	}
	if len(frame.Payload) < 4+cryptoutil.MACSize {
		return nil, fmt.Errorf("fakeServerSession: B3 payload too short")
	}

	seq := binary.BigEndian.Uint16(frame.Payload[0:2])
	clen := binary.BigEndian.Uint16(frame.Payload[2:4])
	rest := frame.Payload[4:]
	if len(rest) != int(clen)+cryptoutil.MACSize {
		return nil, fmt.Errorf("fakeServerSession: B3 length mismatch")
	}
	cipherText := rest[:clen]
	mac := rest[clen:]

	if seq != f.seqIn {
		return nil, fmt.Errorf("fakeServerSession: unexpected seq %d, want %d", seq, f.seqIn)
	}

	sidBE := cryptoutil.BE32(f.sid)
	seqBE := cryptoutil.BE16(seq)
	expMac := cryptoutil.HMACTag16(f.keys.Mac[:], testLabelEncM, sidBE, []byte{testDirClient}, seqBE, cipherText)
	if !cryptoutil.Equal(expMac, mac) {
		return nil, fmt.Errorf("fakeServerSession: B3 MAC mismatch")
	}

	iv := cryptoutil.HMACTag16(f.keys.Iv[:], testLabelIV1, sidBE, []byte{testDirClient}, seqBE)
	inner, err := cryptoutil.AESCTR(f.keys.Enc[:], iv, cipherText)
	if err != nil {
		return nil, err
	}
	innerFrame, err := wire.Decode(inner)
	if err != nil {
		return nil, err
	}
	f.seqIn++
	if innerFrame.Op != expectOp {
		return nil, fmt.Errorf("fakeServerSession: expected inner op %s, got %s", wire.Name(expectOp), wire.Name(innerFrame.Op))
	}
	return innerFrame.Payload, nil
}

// pairedSessions builds a real client Session and a fake server sharing
// the same keys and sid, so tests can encrypt server replies the way the
// real dongle would without re-running the full handshake.
func pairedSessions() (client *securechannel.Session, server *fakeServerSession) {
	keys := mtls.SessionKeys{}
	for i := range keys.Enc {
		keys.Enc[i] = byte(i)
		keys.Mac[i] = byte(i + 1)
		keys.Iv[i] = byte(i + 2)
	}
	result := &mtls.SessionResult{SID: 0x1234, Keys: keys}
	return securechannel.NewSession(result), &fakeServerSession{sid: 0x1234, keys: keys}
}

type OpsTestSuite struct {
	suite.Suite

	client *securechannel.Session
	server *fakeServerSession
	ch     *fakeChannel
	ops    *Ops
}

func (s *OpsTestSuite) SetupTest() {
	s.client, s.server = pairedSessions()
	s.ch = newFakeChannel()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	s.ops = New(s.client, s.ch, log)
}

// serverEncode wraps a server-originated inner frame through the paired
// fake server, mirroring what the dongle would send back.
func (s *OpsTestSuite) serverEncode(op wire.Op, payload []byte) wire.Frame {
	return s.server.send(op, payload)
}

func (s *OpsTestSuite) TestSendStringSuccess() {
	s.ch.respond = func(outer []byte) *wire.Frame {
		_, err := s.server.receive(outer, wire.OpTypeString)
		s.Require().NoError(err)

		sent := []byte("hello\n")
		sum := md5.Sum(sent)
		reply := append([]byte{0x00}, sum[:]...)
		f := s.serverEncode(wire.OpTypeResult, reply)
		return &f
	}

	err := s.ops.SendString(context.Background(), "hello", true)
	s.NoError(err)
}

func (s *OpsTestSuite) TestSendStringMismatchedEcho() {
	s.ch.respond = func(outer []byte) *wire.Frame {
		_, _ = s.server.receive(outer, wire.OpTypeString)

		badSum := md5.Sum([]byte("not what was sent"))
		reply := append([]byte{0x00}, badSum[:]...)
		f := s.serverEncode(wire.OpTypeResult, reply)
		return &f
	}

	err := s.ops.SendString(context.Background(), "hello", false)
	s.Error(err)
	var perr *ProtocolError
	s.ErrorAs(err, &perr)
}

func (s *OpsTestSuite) TestGetLayoutExtractsCode() {
	s.ch.respond = func(outer []byte) *wire.Frame {
		_, err := s.server.receive(outer, wire.OpGetInfo)
		s.Require().NoError(err)
		f := s.serverEncode(wire.OpInfo, []byte("FW=1.2.0 LAYOUT=US_QWERTY BAT=88"))
		return &f
	}

	layout, err := s.ops.GetLayout(context.Background())
	s.NoError(err)
	s.Equal("US_QWERTY", layout)
}

func (s *OpsTestSuite) TestGetLayoutMissingField() {
	s.ch.respond = func(outer []byte) *wire.Frame {
		_, _ = s.server.receive(outer, wire.OpGetInfo)
		f := s.serverEncode(wire.OpInfo, []byte("FW=1.2.0"))
		return &f
	}

	_, err := s.ops.GetLayout(context.Background())
	s.ErrorIs(err, ErrNoLayout)
}

func (s *OpsTestSuite) TestSetLayoutAwaitsAck() {
	s.ch.respond = func(outer []byte) *wire.Frame {
		_, err := s.server.receive(outer, wire.OpSetLayout)
		s.Require().NoError(err)
		f := s.serverEncode(wire.OpAck, nil)
		return &f
	}

	s.NoError(s.ops.SetLayout(context.Background(), "DE_QWERTZ"))
	s.Equal(wire.OpSecureEnvelope, mustDecodeOp(s.ch.lastWritten()))
}

func (s *OpsTestSuite) TestEnableRawFastModeTogglesFlag() {
	s.False(s.ops.FastKeysEnabled())

	s.ch.respond = func(outer []byte) *wire.Frame {
		_, err := s.server.receive(outer, wire.OpEnableRawKeys)
		s.Require().NoError(err)
		f := s.serverEncode(wire.OpAck, nil)
		return &f
	}

	s.NoError(s.ops.EnableRawFastMode(context.Background()))
	s.True(s.ops.FastKeysEnabled())
}

func (s *OpsTestSuite) TestRawKeyTapRequiresFastMode() {
	err := s.ops.RawKeyTap(context.Background(), 0, 0x04, 0)
	s.ErrorIs(err, ErrRawKeysNotEnabled)
}

func (s *OpsTestSuite) TestRawKeyTapSendsPlainFrameNotB3() {
	s.ch.respond = func(outer []byte) *wire.Frame {
		_, err := s.server.receive(outer, wire.OpEnableRawKeys)
		s.Require().NoError(err)
		f := s.serverEncode(wire.OpAck, nil)
		return &f
	}
	s.Require().NoError(s.ops.EnableRawFastMode(context.Background()))
	s.ch.respond = nil

	s.NoError(s.ops.RawKeyTap(context.Background(), 0x02, 0x04, 3))

	got, err := wire.Decode(s.ch.lastWritten())
	s.Require().NoError(err)
	s.Equal(wire.OpRawKeyTap, got.Op)
	s.Equal([]byte{0x02, 0x04, 0x03}, got.Payload)
}

func mustDecodeOp(raw []byte) wire.Op {
	f, err := wire.Decode(raw)
	if err != nil {
		panic(err)
	}
	return f.Op
}

func TestOpsTestSuite(t *testing.T) {
	suite.Run(t, new(OpsTestSuite))
}
