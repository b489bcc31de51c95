package mtls

import (
	"context"

	"github.com/srg/keybridge/internal/wire"
)

// Exchanger is the minimal transport-facing capability the handshake needs:
// send one framed message, and wait for the next inbound frame (already
// reassembled by the Framer). Both orchestrator and tests supply this —
// it decouples mtls from any concrete transport.
type Exchanger interface {
	SendFrame(ctx context.Context, op wire.Op, payload []byte) error
	RecvFrame(ctx context.Context) (wire.Frame, error)
}

// PasswordPrompt is the §2.8 external collaborator: asks the UI for a
// device password, returned as a byte buffer rather than a string so the
// handshake code can zero the exact memory the UI handed back (§9
// "password as a character array cleared after use" — see provision.go's
// defer zero(pwBytes)). Implementations should avoid retaining their own
// copy once this returns.
type PasswordPrompt func(ctx context.Context, deviceID string) ([]byte, error)
