// Package framer reassembles arbitrary BLE notification chunks into
// discrete wire.Frame values (§4.3). It is a pure byte-to-frame transducer:
// it knows nothing about what any Op means.
package framer

import (
	"encoding/binary"

	"github.com/sirupsen/logrus"

	"github.com/srg/keybridge/internal/wire"
)

// DefaultBufferCapacity is the initial FrameBuffer capacity; it grows on
// demand for unusually large bursts.
const DefaultBufferCapacity = 512

// Framer accumulates notification bytes and emits complete frames.
// It is not safe for concurrent use — per §5, the notification consumer
// that owns it runs on a single event thread.
type Framer struct {
	buf      *frameBuffer
	log      logrus.FieldLogger
	resyncs  uint64
	received uint64
}

// New creates a Framer with a fresh, empty FrameBuffer.
func New(log logrus.FieldLogger) *Framer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Framer{buf: newFrameBuffer(DefaultBufferCapacity), log: log}
}

// Resyncs reports how many bytes have been skipped while resynchronizing
// on implausible headers — a useful health signal for a noisy transport.
func (f *Framer) Resyncs() uint64 { return f.resyncs }

// Push appends a notification chunk and returns every frame that is now
// complete, in arrival order. Trailing partial bytes remain buffered for
// the next call.
func (f *Framer) Push(chunk []byte) []wire.Frame {
	f.buf.push(chunk)
	f.received += uint64(len(chunk))

	var out []wire.Frame
	for {
		frame, consumed, ok := f.tryExtract()
		if !ok {
			break
		}
		if consumed == 0 {
			break
		}
		f.buf.discard(consumed)
		if frame != nil {
			out = append(out, *frame)
		}
	}
	return out
}

// tryExtract scans the buffer starting at offset 0, skipping implausible
// header bytes one at a time (resync), and returns the first complete
// frame found along with the number of bytes to discard to consume it
// (header+payload). If no complete frame can be found yet, ok is false: the
// implausible bytes skipped so far are discarded, and a plausible header
// whose payload has not fully arrived stays buffered.
func (f *Framer) tryExtract() (*wire.Frame, int, bool) {
	total := f.buf.len()
	offset := 0

	for offset+wire.HeaderLen <= total {
		header := f.buf.peek(offset, wire.HeaderLen)
		op := wire.Op(header[0])
		length := int(binary.LittleEndian.Uint16(header[1:3]))

		if length > wire.MaxFrameLen {
			// Implausible: resync by one byte and keep scanning.
			offset++
			f.resyncs++
			continue
		}

		if offset+wire.HeaderLen+length > total {
			// Plausible header, but payload not fully buffered yet.
			if offset > 0 {
				f.buf.discard(offset)
			}
			return nil, 0, false
		}

		// Copy the payload out before discard shifts the buffer under it.
		payload := append([]byte(nil), f.buf.peek(offset+wire.HeaderLen, length)...)
		if offset > 0 {
			f.log.WithField("skipped", offset).Debug("framer: resynced past implausible bytes")
		}
		f.buf.discard(offset)
		frame := &wire.Frame{Op: op, Payload: payload}
		return frame, wire.HeaderLen + length, true
	}

	// Nothing plausible found in the buffered region; drop all but the
	// trailing bytes that could still become a header once more arrives.
	if offset > 0 {
		f.buf.discard(offset)
	}
	return nil, 0, false
}
