package presence

import (
	"sync"
	"time"

	"github.com/nerrad567/keygate/internal/auth"
)

// Entry is one connected principal.
type Entry struct {
	Identity string    `json:"-"`
	Username string    `json:"username"`
	Role     auth.Role `json:"role"`
	Version  string    `json:"version"`
	LastSeen time.Time `json:"lastSeen"`
}

// DefaultVersion is recorded when a client does not report one.
const DefaultVersion = "1.0"

// Registry is the set of live entries in insertion order.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Registry struct {
	clock func() time.Time

	mu      sync.Mutex
	entries map[string]*Entry
	order   []string
}

// NewRegistry creates an empty registry.
//
// Parameters:
//   - clock: Time source for LastSeen and staleness; nil uses time.Now
//
// Returns:
//   - *Registry: Ready for use; safe for concurrent use
func NewRegistry(clock func() time.Time) *Registry {
	if clock == nil {
		clock = time.Now
	}
	return &Registry{
		clock:   clock,
		entries: make(map[string]*Entry),
	}
}

// RecordHeartbeat creates or refreshes the entry for identity. It reports
// whether the entry is new, which callers use to decide on a broadcast.
// An empty version keeps the previously reported one.
func (r *Registry) RecordHeartbeat(identity, username string, role auth.Role, version string) bool {
	now := r.clock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[identity]; ok {
		e.LastSeen = now
		if version != "" {
			e.Version = version
		}
		return false
	}

	if version == "" {
		version = DefaultVersion
	}
	r.entries[identity] = &Entry{
		Identity: identity,
		Username: username,
		Role:     role,
		Version:  version,
		LastSeen: now,
	}
	r.order = append(r.order, identity)
	return true
}

// Touch refreshes LastSeen for an existing entry. It reports whether the
// entry exists.
func (r *Registry) Touch(identity string) bool {
	now := r.clock()

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[identity]
	if ok {
		e.LastSeen = now
	}
	return ok
}

// ListOnline returns copies of every entry in insertion order.
func (r *Registry) ListOnline() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.entries[id])
	}
	return out
}

// Get returns the entry for identity.
func (r *Registry) Get(identity string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[identity]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// FindByUsername returns the identities of every live entry for name, in
// insertion order.
func (r *Registry) FindByUsername(name string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for _, id := range r.order {
		if r.entries[id].Username == name {
			ids = append(ids, id)
		}
	}
	return ids
}

// Remove deletes the entry for identity and reports whether it existed.
func (r *Registry) Remove(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.removeLocked(identity)
}

// RemoveUser deletes every entry for username and returns their identities.
func (r *Registry) RemoveUser(username string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for _, id := range append([]string(nil), r.order...) {
		if r.entries[id].Username == username {
			r.removeLocked(id)
			removed = append(removed, id)
		}
	}
	return removed
}

// SweepStale removes entries not seen for longer than maxAge and returns
// their identities.
func (r *Registry) SweepStale(maxAge time.Duration) []string {
	cutoff := r.clock().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()

	var swept []string
	for _, id := range append([]string(nil), r.order...) {
		if r.entries[id].LastSeen.Before(cutoff) {
			r.removeLocked(id)
			swept = append(swept, id)
		}
	}
	return swept
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) removeLocked(identity string) bool {
	if _, ok := r.entries[identity]; !ok {
		return false
	}
	delete(r.entries, identity)
	for i, id := range r.order {
		if id == identity {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}
