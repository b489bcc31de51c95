// Package events holds the §2.8/§6 external-facing types: the
// ConnectionState observable a UI layer polls or subscribes to, the
// Notifier toast/log channel, and the PasswordPrompt callback contract
// (re-exported from internal/mtls so UI code depends on one package for
// every external collaborator rather than reaching into the handshake
// package for a single type alias).
package events

import (
	"sync"

	"github.com/srg/keybridge/internal/mtls"
)

// PasswordPrompt asks the UI for a device password during provisioning.
// Alias of mtls.PasswordPrompt: the handshake package owns the contract
// (it is the one that must clear the returned buffer after use, per §9),
// this package just gives UI code a name that doesn't require importing
// internal/mtls for a single type.
type PasswordPrompt = mtls.PasswordPrompt

// ConnectionState is the observable surface described by §3: what a UI
// needs to know to render a status line, independent of the orchestrator's
// internal state machine. Invariants (§3):
//
//   - SecureUp implies BleUp.
//   - BleUp transitioning false forces SecureUp false and FastKeysEnabled
//     false (fast-keys mode does not survive a transport drop, §9).
type ConnectionState struct {
	BleUp           bool
	SecureUp        bool
	CurrentTarget   string
	FastKeysEnabled bool
}

// normalize enforces the struct's own invariants regardless of what the
// caller passed in, so a bad call site can't desync the observable from
// the rules the rest of the system assumes hold.
func (s ConnectionState) normalize() ConnectionState {
	if !s.BleUp {
		s.SecureUp = false
		s.FastKeysEnabled = false
	}
	if !s.SecureUp {
		s.FastKeysEnabled = false
	}
	return s
}

// StateObserver publishes ConnectionState transitions to any number of
// subscribers. Safe for concurrent use.
type StateObserver struct {
	mu     sync.Mutex
	state  ConnectionState
	subs   map[int]chan ConnectionState
	nextID int
}

// NewStateObserver returns an observer starting from the zero (all-down)
// state.
func NewStateObserver() *StateObserver {
	return &StateObserver{subs: make(map[int]chan ConnectionState)}
}

// Current returns the last published state.
func (o *StateObserver) Current() ConnectionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Set publishes a new state to every active subscriber. Subscribers that
// are not ready to receive are skipped rather than blocking the publisher
// (a UI that's slow to redraw must never stall the orchestrator).
func (o *StateObserver) Set(s ConnectionState) {
	s = s.normalize()

	o.mu.Lock()
	o.state = s
	subs := make([]chan ConnectionState, 0, len(o.subs))
	for _, ch := range o.subs {
		subs = append(subs, ch)
	}
	o.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- s:
		default:
		}
	}
}

// Subscribe registers a channel that receives every future Set. Call the
// returned cancel func to unsubscribe and release the channel.
func (o *StateObserver) Subscribe() (<-chan ConnectionState, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ch := make(chan ConnectionState, 1)
	id := o.nextID
	o.nextID++
	o.subs[id] = ch

	return ch, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if _, ok := o.subs[id]; ok {
			delete(o.subs, id)
			close(ch)
		}
	}
}

// Level classifies a Notifier message the way a CLI or UI harness would
// color/route it.
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

// Notifier is the §2.8 toast/log external collaborator: something the
// orchestrator and operation layer can call to surface a message to
// whatever UI is hosting them, without depending on that UI's concrete
// type.
type Notifier interface {
	Notify(level Level, message string)
}

// NoopNotifier discards every message. Used by tests and any embedding
// that has no UI surface.
type NoopNotifier struct{}

func (NoopNotifier) Notify(Level, string) {}
