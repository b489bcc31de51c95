// Package orchestrator implements the §4.7 Session Orchestrator: the
// connect-attempt state machine, candidate discovery/ranking, and the
// auto-connect policy that ties preferences, the key store, the
// handshake, and the transport together into one owning authority for
// SessionState and the active BLE link.
package orchestrator

import "errors"

// ErrBusy is returned when Connect is called while another connect
// attempt is already in flight (§4.7 "connectInProgress").
var ErrBusy = errors.New("orchestrator: connect already in progress")

// ErrNoCandidates is returned by AutoConnect when there is nothing to
// try: the use-external toggle is off, or there is no primary device and
// no bonded device with a stored APPKEY.
var ErrNoCandidates = errors.New("orchestrator: no connect candidates available")

// ErrAllCandidatesFailed is returned when every candidate, fast path and
// scan fallback alike, failed to reach Secure (§4.7 step 6: "disabled by
// error").
var ErrAllCandidatesFailed = errors.New("orchestrator: all candidates failed, auto-connect disabled")

// ErrSuppressed is returned when AutoConnect is called during an
// active suppressAutoConnect window.
var ErrSuppressed = errors.New("orchestrator: auto-connect suppressed")

// ErrPromptUnavailable is returned when a handshake needs a password but
// the caller path does not allow prompting (silent auto-connect, §4.7
// "startup entry points do not" prompt).
var ErrPromptUnavailable = errors.New("orchestrator: password required but prompting not allowed on this path")
