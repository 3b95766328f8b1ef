package events

import (
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// DefaultGrace is how long a path stays suppressed after an I/O operation
// completes, giving the OS time to deliver the watcher echo (spec §9,
// "Self-inflicted-event suppression").
const DefaultGrace = time.Second

// SuppressSet is the shared in-memory set the spec requires for echo
// suppression: paths are added before an I/O operation begins and removed
// after a short grace period once it completes. It backs both
// queue_uploading and queue_downloading (spec §3) — one instance per queue.
//
// It is also consulted with a *prefix* match: an echo for a file inside a
// directory that's being downloaded must be suppressed too.
type SuppressSet struct {
	mu      sync.Mutex
	active  mapset.Set[string]
	expires map[string]time.Time
	grace   time.Duration
}

func NewSuppressSet() *SuppressSet {
	return &SuppressSet{
		active:  mapset.NewThreadUnsafeSet[string](),
		expires: make(map[string]time.Time),
		grace:   DefaultGrace,
	}
}

// Begin marks path as undergoing I/O. Call Done when the I/O completes.
func (s *SuppressSet) Begin(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active.Add(normalize(path))
	delete(s.expires, normalize(path))
}

// Done schedules path for removal from the set after the grace period.
func (s *SuppressSet) Done(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expires[normalize(path)] = time.Now().Add(s.grace)
}

// Contains reports whether path (or an ancestor directory of path) is
// currently suppressed. Expired entries are swept lazily.
func (s *SuppressSet) Contains(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	p := normalize(path)
	for _, candidate := range s.active.ToSlice() {
		if p == candidate || strings.HasPrefix(p, candidate+"/") {
			return true
		}
	}
	return false
}

// Paths returns a snapshot of all currently-suppressed paths, for status
// reporting (queued_for_upload / queued_for_download).
func (s *SuppressSet) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	return s.active.ToSlice()
}

func (s *SuppressSet) sweepLocked() {
	now := time.Now()
	for path, deadline := range s.expires {
		if now.After(deadline) {
			s.active.Remove(path)
			delete(s.expires, path)
		}
	}
}

func normalize(path string) string {
	return strings.ToLower(strings.TrimSuffix(path, "/"))
}
