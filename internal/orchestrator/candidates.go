package orchestrator

import (
	"sort"
	"sync"

	"github.com/cornelk/hashmap"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/keybridge/internal/transport"
)

// bondedFilter is a lock-free concurrent set of addresses worth recording
// during a scan (§4.7 step 5: "remaining candidates" = bonded devices with
// a stored APPKEY). It is rebuilt once per AutoConnect call and then read
// from the go-ble scan callback goroutine without taking the registry's
// mutex, keeping the scan hot path off any lock the rest of the
// orchestrator might be holding.
type bondedFilter struct {
	m *hashmap.Map[string, struct{}]
}

func newBondedFilter(addresses []string) *bondedFilter {
	m := hashmap.New[string, struct{}]()
	for _, addr := range addresses {
		m.Set(addr, struct{}{})
	}
	return &bondedFilter{m: m}
}

func (f *bondedFilter) allows(address string) bool {
	if f == nil || f.m == nil {
		return true
	}
	_, ok := f.m.Get(address)
	return ok
}

// candidateRegistry tracks discovered dongles in discovery order, so
// ranking can apply the §4.7 deterministic tiebreak: RSSI desc, then
// input (discovery) order. Backed by an ordered map rather than a plain
// map precisely because that insertion order is part of the contract, not
// an implementation accident.
type candidateRegistry struct {
	mu sync.Mutex
	om *orderedmap.OrderedMap[string, transport.Candidate]
}

func newCandidateRegistry() *candidateRegistry {
	return &candidateRegistry{om: orderedmap.New[string, transport.Candidate]()}
}

// Upsert records or refreshes a candidate's RSSI/seen-at. The first time
// an address is seen its discovery-order position is fixed; later RSSI
// updates do not move it for tiebreak purposes.
func (r *candidateRegistry) Upsert(c transport.Candidate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.om.Set(c.Address, c)
}

// Get returns a previously seen candidate by address.
func (r *candidateRegistry) Get(address string) (transport.Candidate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.om.Get(address)
}

// Clear empties the registry, e.g. before a fresh scan pass.
func (r *candidateRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.om = orderedmap.New[string, transport.Candidate]()
}

// Ranked returns every known candidate ordered strongest-RSSI-first, with
// ties broken by discovery order (§4.7 "Candidate ranking deterministic
// tiebreak: first by RSSI desc, then by input order").
func (r *candidateRegistry) Ranked() []transport.Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]transport.Candidate, 0, r.om.Len())
	for pair := r.om.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	// sort.SliceStable preserves discovery order (the slice's current
	// order, which is insertion order) among equal-RSSI entries.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RSSI > out[j].RSSI
	})
	return out
}
