package serverstate

import "sync/atomic"

// Status values reported by /healthz and /api/state.
const (
	StatusNotReady = "not_ready"
	StatusReady    = "ready"
	StatusDraining = "draining"
	StatusUnknown  = "unknown"
)

// State holds the server status and draining flag. Both fields are updated
// together so callers always observe a consistent snapshot.
type State struct {
	Status   string `json:"status"`
	Draining bool   `json:"draining"`
}

// Store defines how the server state is persisted. Implementations may store
// state in memory or in an external service such as Redis.
type Store interface {
	Load() State
	Store(State)
}

// memoryStore implements Store using an atomic.Value.
type memoryStore struct {
	v atomic.Value
}

// NewMemoryStore returns a memory-backed Store initialized to not_ready.
func NewMemoryStore() Store {
	ms := &memoryStore{}
	ms.v.Store(State{Status: StatusNotReady})
	return ms
}

func (m *memoryStore) Load() State {
	if st, ok := m.v.Load().(State); ok {
		return st
	}
	return State{Status: StatusUnknown}
}

func (m *memoryStore) Store(s State) {
	m.v.Store(s)
}

// Tracker reads and updates the server state through a Store.
type Tracker struct {
	store Store
}

// NewTracker returns a Tracker over s, or over a memory store when s is nil.
func NewTracker(s Store) *Tracker {
	if s == nil {
		s = NewMemoryStore()
	}
	return &Tracker{store: s}
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() State { return t.store.Load() }

// SetStatus updates the status string.
func (t *Tracker) SetStatus(status string) {
	st := t.store.Load()
	st.Status = status
	t.store.Store(st)
}

// SetReady marks the server ready and clears any drain flag left behind by a
// previous process sharing the store.
func (t *Tracker) SetReady() {
	t.store.Store(State{Status: StatusReady})
}

// Status returns the current status string.
func (t *Tracker) Status() string { return t.store.Load().Status }

// StartDrain marks the server as draining.
func (t *Tracker) StartDrain() {
	t.store.Store(State{Status: StatusDraining, Draining: true})
}

// IsDraining reports whether the server is draining.
func (t *Tracker) IsDraining() bool { return t.store.Load().Draining }
