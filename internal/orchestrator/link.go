package orchestrator

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/keybridge/internal/framer"
	"github.com/srg/keybridge/internal/transport"
	"github.com/srg/keybridge/internal/wire"
)

// link binds one transport.Connection to one Framer and fans reassembled
// frames out over a channel. It implements both mtls.Exchanger (send by
// op+payload) and ops.Channel (send pre-encoded bytes), the two shapes the
// handshake and the operation layer each want over the same physical
// connection.
type link struct {
	conn   *transport.Connection
	framer *framer.Framer
	frames chan wire.Frame
	log    logrus.FieldLogger
}

// newLink wires onDisconnect to the underlying transport.Connection's
// unsolicited-disconnect monitor, so a caller (the orchestrator) learns
// when the peripheral drops the link on its own rather than only noticing
// on the next send/recv.
func newLink(log logrus.FieldLogger, onDisconnect func()) *link {
	l := &link{frames: make(chan wire.Frame, 32), log: log}
	l.framer = framer.New(log)
	l.conn = transport.New(log, l.onBytes)
	l.conn.SetDisconnectHandler(onDisconnect)
	return l
}

func (l *link) onBytes(chunk []byte) {
	for _, f := range l.framer.Push(chunk) {
		select {
		case l.frames <- f:
		default:
			l.log.Warn("link: frame channel full, dropping oldest reassembled frame")
			select {
			case <-l.frames:
			default:
			}
			l.frames <- f
		}
	}
}

func (l *link) connect(ctx context.Context, opts transport.ConnectOptions) error {
	return l.conn.Connect(ctx, opts)
}

func (l *link) disconnect() error { return l.conn.Disconnect() }

// SendFrame implements mtls.Exchanger.
func (l *link) SendFrame(ctx context.Context, op wire.Op, payload []byte) error {
	return l.conn.Write(ctx, wire.Encode(op, payload))
}

// WriteRaw implements ops.Channel.
func (l *link) WriteRaw(ctx context.Context, data []byte) error {
	return l.conn.Write(ctx, data)
}

// RecvFrame implements both mtls.Exchanger and ops.Channel (identical
// shape, named once here and satisfying both interfaces).
func (l *link) RecvFrame(ctx context.Context) (wire.Frame, error) {
	select {
	case f := <-l.frames:
		return f, nil
	case <-ctx.Done():
		return wire.Frame{}, fmt.Errorf("link: recv frame: %w", ctx.Err())
	}
}

// ReadFrame implements ops.Channel.
func (l *link) ReadFrame(ctx context.Context) (wire.Frame, error) {
	return l.RecvFrame(ctx)
}
