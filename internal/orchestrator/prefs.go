package orchestrator

// PreferenceSnapshot is the subset of stored preferences the orchestrator's
// auto-connect policy reads (§3 Preferences, §4.7).
type PreferenceSnapshot struct {
	PrimaryAddress  string
	UseExternal     bool
	DisabledByError bool
	BondedWithKey   []string // addresses of bonded devices known to have a stored APPKEY
}

// Prefs is the narrow seam onto internal/prefs.Store the orchestrator
// needs: read the current policy inputs, and write back the two fields
// auto-connect itself mutates (primary address on success, disabled flag
// on total failure).
type Prefs interface {
	Snapshot() PreferenceSnapshot
	SetPrimary(address string) error
	SetDisabledByError(disabled bool) error
}
