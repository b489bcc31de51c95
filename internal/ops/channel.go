package ops

import (
	"context"

	"github.com/srg/keybridge/internal/wire"
)

// Channel is the transport seam the operation layer writes through. It is
// deliberately narrower than a full transport: a raw byte sink plus a
// reassembled-frame source, so Ops can be exercised against a fake in
// tests without any BLE plumbing (the same decoupling internal/mtls uses
// for its Exchanger).
type Channel interface {
	WriteRaw(ctx context.Context, data []byte) error
	ReadFrame(ctx context.Context) (wire.Frame, error)
}
