package catchup

import "sync"

// Versions holds the per-identity report version counters and the set of
// identities with a catch-up job in flight. Both share one lock.
type Versions struct {
	mu       sync.Mutex
	counters map[string]int
	pending  map[string]struct{}
}

// NewVersions creates an empty Versions.
func NewVersions() *Versions {
	return &Versions{
		counters: make(map[string]int),
		pending:  make(map[string]struct{}),
	}
}

// Next increments and returns key's version. The first call returns 1.
func (v *Versions) Next(key string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.counters[key]++
	return v.counters[key]
}

// Current returns key's latest version, 0 if none was issued.
func (v *Versions) Current(key string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.counters[key]
}

// Pending reports whether a catch-up job for key is in flight.
func (v *Versions) Pending(key string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.pending[key]
	return ok
}

// claim marks key pending and reports false if it already was.
func (v *Versions) claim(key string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.pending[key]; ok {
		return false
	}
	v.pending[key] = struct{}{}
	return true
}

func (v *Versions) release(key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.pending, key)
}
