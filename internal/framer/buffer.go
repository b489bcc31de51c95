package framer

// frameBuffer is the §3 FrameBuffer: a byte accumulator owned exclusively by
// Framer, mutated only through push and discard. Backed by a plain slice rather than a
// ring buffer: Framer's access pattern is dominated by peek(offset, n),
// which needs random access into the buffered region, not FIFO
// enqueue/dequeue — a ring buffer would force a full materialization on
// every peek for no benefit.
type frameBuffer struct {
	data []byte
}

func newFrameBuffer(capacity int) *frameBuffer {
	return &frameBuffer{data: make([]byte, 0, capacity)}
}

// push appends a chunk of newly received bytes.
func (b *frameBuffer) push(chunk []byte) {
	b.data = append(b.data, chunk...)
}

// len reports the number of buffered, unconsumed bytes.
func (b *frameBuffer) len() int {
	return len(b.data)
}

// peek returns (without consuming) up to n buffered bytes starting at
// offset. Used by Framer to scan headers before deciding whether to
// consume them.
func (b *frameBuffer) peek(offset, n int) []byte {
	if offset >= len(b.data) {
		return nil
	}
	end := offset + n
	if end > len(b.data) {
		end = len(b.data)
	}
	return b.data[offset:end]
}

// discard removes the first n bytes from the buffer (resync or consumed
// frame), shifting the remainder down so the underlying array is reused
// rather than re-allocated.
func (b *frameBuffer) discard(n int) {
	if n <= 0 {
		return
	}
	if n >= len(b.data) {
		b.data = b.data[:0]
		return
	}
	copy(b.data, b.data[n:])
	b.data = b.data[:len(b.data)-n]
}
