//go:build test

package testutils

import "github.com/srg/keybridge/internal/wire"

// FrameBuilder is a fluent builder for constructing wire-encoded test
// fixtures, in the same chained-With* idiom the teacher's advertisement
// and device builders used for BLE fixtures.
type FrameBuilder struct {
	op      wire.Op
	payload []byte
}

// NewFrameBuilder starts a fixture for the given op.
func NewFrameBuilder(op wire.Op) *FrameBuilder {
	return &FrameBuilder{op: op}
}

// WithPayload sets the frame payload outright.
func (b *FrameBuilder) WithPayload(payload []byte) *FrameBuilder {
	b.payload = payload
	return b
}

// WithBytes appends bytes to the current payload, for building up
// multi-field payloads field by field (salt, iters, challenge, ...).
func (b *FrameBuilder) WithBytes(bs ...byte) *FrameBuilder {
	b.payload = append(b.payload, bs...)
	return b
}

// WithString appends a UTF-8 string to the current payload.
func (b *FrameBuilder) WithString(s string) *FrameBuilder {
	b.payload = append(b.payload, []byte(s)...)
	return b
}

// Frame returns the built wire.Frame.
func (b *FrameBuilder) Frame() wire.Frame {
	return wire.Frame{Op: b.op, Payload: b.payload}
}

// Encode returns the fully wire-encoded OP|LEN|PAYLOAD bytes.
func (b *FrameBuilder) Encode() []byte {
	return wire.Encode(b.op, b.payload)
}

// ChallengeFixture builds a well-formed A2 APPKEY_CHALLENGE payload:
// salt(16) || iters(4 LE) || challenge(16), the layout internal/mtls
// expects (§4.4 step 1).
func ChallengeFixture(salt [16]byte, iters uint32, chal [16]byte) []byte {
	out := make([]byte, 0, 36)
	out = append(out, salt[:]...)
	out = append(out, byte(iters), byte(iters>>8), byte(iters>>16), byte(iters>>24))
	out = append(out, chal[:]...)
	return out
}
