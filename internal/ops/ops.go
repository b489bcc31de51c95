package ops

import (
	"context"
	"crypto/md5"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/keybridge/internal/securechannel"
	"github.com/srg/keybridge/internal/wire"
)

// DefaultReplyTimeout bounds every request/reply op except the string-echo
// round trip, which gets its own longer budget (§4.6: "~6s, the device may
// be mid-keystroke-burst").
const DefaultReplyTimeout = 3 * time.Second

// StringEchoTimeout is the reply budget for SendString's MD5 echo (§4.6).
const StringEchoTimeout = 6 * time.Second

var layoutRE = regexp.MustCompile(`\bLAYOUT=([A-Z0-9_]+)`)

// Ops is the §4.6 Operation Layer: the verbs the UI calls against a live
// secure session. One Ops is bound to one securechannel.Session and the
// Channel it rides over; a fresh handshake means a fresh Ops.
type Ops struct {
	session *securechannel.Session
	ch      Channel
	log     logrus.FieldLogger

	mu             sync.Mutex
	fastKeysEnabled bool
}

// New builds an Ops bound to a live secure session.
func New(session *securechannel.Session, ch Channel, log logrus.FieldLogger) *Ops {
	return &Ops{session: session, ch: ch, log: log}
}

// FastKeysEnabled reports whether EnableRawFastMode has succeeded on this
// session. Cleared implicitly the moment the session is replaced: there is
// no persistent "enabled" flag across reconnects (§4.7 Open Question
// decision, see DESIGN.md).
func (o *Ops) FastKeysEnabled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fastKeysEnabled
}

func (o *Ops) sendAndAwait(ctx context.Context, timeout time.Duration, op wire.Op, payload []byte, expectOp wire.Op) ([]byte, error) {
	outer, err := o.session.Send(op, payload)
	if err != nil {
		return nil, fmt.Errorf("ops: encrypt %s: %w", wire.Name(op), err)
	}
	if err := o.ch.WriteRaw(ctx, outer); err != nil {
		return nil, fmt.Errorf("ops: write %s: %w", wire.Name(op), err)
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("ops: timed out waiting for reply to %s", wire.Name(op))
		}
		rctx, cancel := context.WithTimeout(ctx, remaining)
		frame, err := o.ch.ReadFrame(rctx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("ops: read reply to %s: %w", wire.Name(op), err)
		}
		payload, err := o.session.Receive(frame, expectOp)
		if err == securechannel.ErrReplay {
			o.log.WithField("op", wire.Name(op)).Debug("dropped replayed/reordered frame, retrying wait")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("ops: reply to %s: %w", wire.Name(op), err)
		}
		return payload, nil
	}
}

// SendString types text on the dongle. If appendNewline is set a trailing
// '\n' is appended before transmission (§4.6 "SendString"). Success is
// verified by comparing the MD5 the device echoes back against the exact
// bytes sent — a mismatch or non-zero status is a ProtocolError, not a
// silent partial success.
func (o *Ops) SendString(ctx context.Context, text string, appendNewline bool) error {
	payload := []byte(text)
	if appendNewline {
		payload = append(payload, '\n')
	}
	sum := md5.Sum(payload)

	reply, err := o.sendAndAwait(ctx, StringEchoTimeout, wire.OpTypeString, payload, wire.OpTypeResult)
	if err != nil {
		return err
	}
	if len(reply) != 1+len(sum) {
		return &ProtocolError{Reason: fmt.Sprintf("malformed D1 reply: %d bytes", len(reply))}
	}
	status := reply[0]
	gotSum := reply[1:]
	if status != 0 {
		return &ProtocolError{Reason: fmt.Sprintf("device reported status %d for SendString", status)}
	}
	for i := range sum {
		if gotSum[i] != sum[i] {
			return &ProtocolError{Reason: "SendString echo MD5 mismatch"}
		}
	}
	return nil
}

// GetLayout asks the device for its current keyboard layout code.
func (o *Ops) GetLayout(ctx context.Context) (string, error) {
	reply, err := o.sendAndAwait(ctx, DefaultReplyTimeout, wire.OpGetInfo, nil, wire.OpInfo)
	if err != nil {
		return "", err
	}
	if len(reply) == 0 {
		return "", &ProtocolError{Reason: "empty INFO reply"}
	}
	m := layoutRE.FindSubmatch(reply)
	if m == nil {
		return "", ErrNoLayout
	}
	return string(m[1]), nil
}

// SetLayout pushes a new keyboard layout code to the device.
func (o *Ops) SetLayout(ctx context.Context, code string) error {
	_, err := o.sendAndAwait(ctx, DefaultReplyTimeout, wire.OpSetLayout, []byte(code), wire.OpAck)
	return err
}

// FactoryReset wipes the device's stored APPKEY and layout preference.
func (o *Ops) FactoryReset(ctx context.Context) error {
	_, err := o.sendAndAwait(ctx, DefaultReplyTimeout, wire.OpFactoryReset, nil, wire.OpAck)
	return err
}

// EnableRawFastMode turns on the low-latency unencrypted keystroke path
// (§4.6 "EnableRawKeys"). Only after this returns nil is RawKeyTap usable.
func (o *Ops) EnableRawFastMode(ctx context.Context) error {
	_, err := o.sendAndAwait(ctx, DefaultReplyTimeout, wire.OpEnableRawKeys, []byte{0x01}, wire.OpAck)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.fastKeysEnabled = true
	o.mu.Unlock()
	return nil
}

// RawKeyTap sends one raw keystroke directly, bypassing the B3 secure
// envelope entirely (§4.6: "not wrapped in B3 — sent as a plain framed
// message to minimize latency"). No reply is expected; the call returns as
// soon as the bytes are on the wire. repeat, when non-zero, must be in
// [1,255] and asks the device to auto-repeat the tap.
func (o *Ops) RawKeyTap(ctx context.Context, mods, usage byte, repeat byte) error {
	if !o.FastKeysEnabled() {
		return ErrRawKeysNotEnabled
	}
	if !o.session.Live() {
		return &ProtocolError{Reason: "no live secure session"}
	}

	payload := []byte{mods, usage}
	if repeat > 0 {
		payload = append(payload, repeat)
	}
	return o.ch.WriteRaw(ctx, wire.Encode(wire.OpRawKeyTap, payload))
}
