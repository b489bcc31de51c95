package securechannel

import (
	"sync"

	"github.com/srg/keybridge/internal/mtls"
)

// Session is the §3 SessionState: sid, both directions' sequence counters,
// and the derived subkeys. Exists only while the secure session is live;
// a caller should discard it entirely on any transport drop, MAC failure,
// or sequence wrap (§3 invariant).
//
// Session is safe for concurrent use; per §5 all mutation happens from the
// single orchestrator event thread in practice, but the mutex keeps the
// type correct regardless of caller discipline.
type Session struct {
	mu     sync.Mutex
	sid    uint32
	seqOut uint16
	seqIn  uint16
	keys   mtls.SessionKeys
	live   bool
}

// NewSession builds a live Session from a completed MTLS handshake result.
func NewSession(result *mtls.SessionResult) *Session {
	return &Session{sid: result.SID, keys: result.Keys, live: true}
}

// SID returns the session id.
func (s *Session) SID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sid
}

// Live reports whether the session is still usable.
func (s *Session) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// Abandon marks the session dead; any subsequent Send/Receive fails.
func (s *Session) Abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = false
}
