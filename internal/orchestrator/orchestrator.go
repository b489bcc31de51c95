package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/keybridge/internal/events"
	"github.com/srg/keybridge/internal/keystore"
	"github.com/srg/keybridge/internal/mtls"
	"github.com/srg/keybridge/internal/ops"
	"github.com/srg/keybridge/internal/securechannel"
	"github.com/srg/keybridge/internal/transport"
)

// Timeouts per §4.7.
const (
	FastPathConnectTimeout = 3500 * time.Millisecond
	ScanFallbackDuration    = 800 * time.Millisecond
	PerCandidateTimeout     = 2 * time.Second
	DefaultSuppressWindow   = 5 * time.Second
)

// Orchestrator is the single owner of SessionState and the active
// transport handle (§4 "Ownership"). One process holds exactly one
// Orchestrator.
type Orchestrator struct {
	log    logrus.FieldLogger
	store  keystore.Store
	prefs  Prefs
	prompt mtls.PasswordPrompt

	mu               sync.Mutex
	state            State
	target           string
	link             *link
	session          *securechannel.Session
	ops              *ops.Ops

	connectInProgress atomic.Bool
	suppressUntil     time.Time

	registry *candidateRegistry
	observer *events.StateObserver
}

// New builds an Orchestrator. prompt may be nil; passing nil disables any
// path that would need to ask for a password (equivalent to "prompting
// not allowed").
func New(log logrus.FieldLogger, store keystore.Store, prefs Prefs, prompt mtls.PasswordPrompt) *Orchestrator {
	return &Orchestrator{
		log:      log,
		store:    store,
		prefs:    prefs,
		prompt:   prompt,
		state:    Idle,
		registry: newCandidateRegistry(),
		observer: events.NewStateObserver(),
	}
}

// Observer returns the §2.8 connection-state observable a UI layer
// subscribes to. BleUp/SecureUp/FastKeysEnabled track the state machine
// below (§8: bleUp false forces secureUp and fastKeysEnabled false).
func (o *Orchestrator) Observer() *events.StateObserver {
	return o.observer
}

// publishState recomputes the external ConnectionState from the
// orchestrator's current internal state and publishes it. Called at every
// state transition so a subscriber never observes a stale combination
// (e.g. a live-looking session after the transport has already dropped).
func (o *Orchestrator) publishState() {
	o.mu.Lock()
	state := o.state
	target := o.target
	opsHandle := o.ops
	o.mu.Unlock()

	st := events.ConnectionState{
		BleUp:         state == Connecting || state == WaitB0 || state == Handshaking || state == Secure,
		SecureUp:      state == Secure,
		CurrentTarget: target,
	}
	if opsHandle != nil {
		st.FastKeysEnabled = opsHandle.FastKeysEnabled()
	}
	o.observer.Set(st)
}

// State returns the current connect-attempt state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Target returns the address of the device the current (or most recent)
// session is/was established with.
func (o *Orchestrator) Target() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.target
}

// Ops returns the operation-layer handle for the current Secure session,
// or nil if no session is live.
func (o *Orchestrator) Ops() *ops.Ops {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ops
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	o.publishState()
}

// handleTransportDown reacts to an unsolicited transport drop (the
// transport-disconnect-monitor goroutine firing because the peripheral
// disconnected on its own, not because Disconnect was called). §8 is
// mandatory here: bleUp going false must force secureUp and
// fastKeysEnabled false before any subsequent operation observes state, so
// the live session and operation handle are torn down immediately rather
// than left for the next send/recv to discover.
func (o *Orchestrator) handleTransportDown() {
	o.mu.Lock()
	session := o.session
	o.link = nil
	o.session = nil
	o.ops = nil
	o.state = Failed
	o.mu.Unlock()

	if session != nil {
		session.Abandon()
	}

	o.log.Warn("orchestrator: transport dropped unexpectedly, session and fast-keys torn down")
	o.publishState()
}

// NoteCandidate records a scan-discovered (or otherwise learned)
// candidate for later ranking.
func (o *Orchestrator) NoteCandidate(c transport.Candidate) {
	o.registry.Upsert(c)
}

// Connect runs one explicit connect attempt against address, prompting
// for a password if provisioning is needed and allowPrompt is set (§4.7
// "Manual entry points ... allow prompting for a password; startup entry
// points do not").
func (o *Orchestrator) Connect(ctx context.Context, address string, timeout time.Duration, allowPrompt bool) error {
	if !o.connectInProgress.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer o.connectInProgress.Store(false)

	return o.attempt(ctx, address, timeout, allowPrompt)
}

// Disconnect tears down the active session and link, optionally
// suppressing auto-connect for a window (§5 "credential-injection flows
// that want to release the radio without immediate reconnect").
func (o *Orchestrator) Disconnect(suppressFor time.Duration) error {
	o.mu.Lock()
	l := o.link
	session := o.session
	o.link = nil
	o.session = nil
	o.ops = nil
	o.state = Idle
	if suppressFor > 0 {
		o.suppressUntil = time.Now().Add(suppressFor)
	}
	o.mu.Unlock()

	if session != nil {
		session.Abandon()
	}
	o.publishState()

	if l == nil {
		return nil
	}
	return l.disconnect()
}

func (o *Orchestrator) suppressed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return time.Now().Before(o.suppressUntil)
}

// attempt drives one candidate address through the full state machine:
// Connecting -> WaitB0 -> Handshaking -> Secure.
func (o *Orchestrator) attempt(ctx context.Context, address string, timeout time.Duration, allowPrompt bool) error {
	log := o.log.WithField("address", address)
	o.setState(Connecting)

	l := newLink(o.log, o.handleTransportDown)
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := l.connect(actx, transport.ConnectOptions{Address: address, ConnectTimeout: timeout}); err != nil {
		o.setState(Failed)
		return fmt.Errorf("orchestrator: connect %s: %w", address, err)
	}

	o.setState(WaitB0)

	appkey, haveKey := o.store.Get(address)
	if !haveKey {
		if !allowPrompt || o.prompt == nil {
			_ = l.disconnect()
			o.setState(Failed)
			return ErrPromptUnavailable
		}
		prov := mtls.NewProvisioner(l, o.store, o.prompt, o.log)
		if err := prov.Provision(actx, address, false); err != nil {
			_ = l.disconnect()
			o.setState(Failed)
			return fmt.Errorf("orchestrator: provisioning %s: %w", address, err)
		}
		appkey, _ = o.store.Get(address)
	}

	o.setState(Handshaking)
	result, err := mtls.EstablishSession(actx, l, appkey, o.log)
	if err != nil {
		_ = l.disconnect()
		o.setState(Failed)

		if o.isBadMACOrReprovision(err) && allowPrompt {
			log.Warn("orchestrator: handshake failed with bad-mac class, clearing appkey and reprovisioning")
			_ = o.store.Clear(address)
			return o.attempt(ctx, address, timeout, allowPrompt)
		}
		return fmt.Errorf("orchestrator: handshake %s: %w", address, err)
	}

	session := securechannel.NewSession(result)

	o.mu.Lock()
	o.link = l
	o.session = session
	o.ops = ops.New(session, l, o.log)
	o.target = address
	o.state = Secure
	o.mu.Unlock()
	o.publishState()

	if err := o.prefs.SetPrimary(address); err != nil {
		log.WithError(err).Warn("orchestrator: failed to persist primary device")
	}
	if err := o.prefs.SetDisabledByError(false); err != nil {
		log.WithError(err).Warn("orchestrator: failed to clear disabled-by-error flag")
	}

	log.Info("orchestrator: session secure")
	return nil
}

// isBadMACOrReprovision reports whether a handshake failure is the class
// spec.md §4.7 says should trigger clear-APPKEY-and-reprovision: an
// explicit device-reported BADMAC, or an SFIN mismatch computed locally
// (both indicate the stored APPKEY no longer matches the device's).
func (o *Orchestrator) isBadMACOrReprovision(err error) bool {
	if errors.Is(err, mtls.ErrSFINMismatch) {
		return true
	}
	var herr *mtls.HandshakeError
	if errors.As(err, &herr) {
		return herr.Class == mtls.HandshakeBadMAC
	}
	return false
}

// AutoConnect runs the §4.7 autoConnectFromPrefs policy: fast path against
// the primary, then an RSSI scan fallback over the remaining bonded
// candidates. Never prompts for a password (silent auto-connect).
func (o *Orchestrator) AutoConnect(ctx context.Context) error {
	snap := o.prefs.Snapshot()

	if snap.DisabledByError {
		return ErrAllCandidatesFailed
	}
	if !snap.UseExternal {
		return ErrNoCandidates
	}
	if o.suppressed() {
		return ErrSuppressed
	}

	candidates := o.buildCandidateList(snap)
	if len(candidates) == 0 {
		return ErrNoCandidates
	}

	primary := candidates[0]
	if err := o.Connect(ctx, primary, FastPathConnectTimeout, false); err == nil {
		return nil
	} else {
		o.log.WithField("address", primary).WithError(err).Debug("orchestrator: fast path failed, falling back to RSSI scan")
	}

	filter := newBondedFilter(candidates)
	if err := o.scanFallback(ctx, ScanFallbackDuration, filter); err != nil {
		o.log.WithError(err).Debug("orchestrator: scan fallback produced no usable candidates")
	}

	for _, addr := range fallbackAttemptOrder(primary, candidates, o.registry.Ranked()) {
		if err := o.Connect(ctx, addr, PerCandidateTimeout, false); err == nil {
			return nil
		}
	}

	_ = o.prefs.SetDisabledByError(true)
	return ErrAllCandidatesFailed
}

// fallbackAttemptOrder builds the §4.7 step 5 scan-fallback attempt order:
// strongest-RSSI-first among candidates that actually advertised during the
// scan window (ranked, already RSSI-descending with discovery-order
// tiebreak), then every remaining bonded candidate that never advertised —
// seen-before-unseen, not seen-only. A dongle that simply didn't advertise
// in the ~800ms scan window still deserves a direct connect attempt.
func fallbackAttemptOrder(primary string, candidates []string, ranked []transport.Candidate) []string {
	attempted := map[string]bool{primary: true}
	var out []string
	for _, c := range ranked {
		if attempted[c.Address] || !contains(candidates, c.Address) {
			continue
		}
		attempted[c.Address] = true
		out = append(out, c.Address)
	}
	for _, addr := range candidates {
		if attempted[addr] {
			continue
		}
		attempted[addr] = true
		out = append(out, addr)
	}
	return out
}

func (o *Orchestrator) buildCandidateList(snap PreferenceSnapshot) []string {
	seen := make(map[string]bool)
	var out []string
	if snap.PrimaryAddress != "" {
		out = append(out, snap.PrimaryAddress)
		seen[snap.PrimaryAddress] = true
	}
	for _, addr := range snap.BondedWithKey {
		if !seen[addr] {
			out = append(out, addr)
			seen[addr] = true
		}
	}
	return out
}

func (o *Orchestrator) scanFallback(ctx context.Context, duration time.Duration, filter *bondedFilter) error {
	return transport.Scan(ctx, duration, func(c transport.Candidate) {
		if !filter.allows(c.Address) {
			return
		}
		o.registry.Upsert(c)
	})
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
