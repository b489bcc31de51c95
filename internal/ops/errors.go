// Package ops implements the §4.6 Operation Layer: the high-level verbs
// the UI is allowed to call, all built on top of a live securechannel.Session.
package ops

import "errors"

// ProtocolError is the §7 ProtocolError taxonomy entry: unexpected op,
// empty INFO, malformed D1, and similar violations of the application
// protocol layered over an otherwise-healthy secure channel.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.Reason }

// ErrRawKeysNotEnabled is returned by RawKeyTap when the session has not
// called EnableRawFastMode successfully (§4.6).
var ErrRawKeysNotEnabled = errors.New("ops: raw key mode not enabled for this session")

// ErrNoLayout is returned by GetLayout when the device's INFO reply does
// not contain a LAYOUT= field.
var ErrNoLayout = errors.New("ops: no LAYOUT field in device info")
