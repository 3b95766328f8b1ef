package upload

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session tracks one in-flight file upload for observability — status
// reporting and log correlation — mirroring the teacher's
// UploadRegistry, but scoped to the single-shot (non-resumable)
// uploads this engine performs rather than multipart resumable ones.
type Session struct {
	ID        string
	RemotePath string
	StartedAt time.Time
}

// sessionRegistry is a small in-memory table of active upload sessions,
// keyed by a google/uuid session ID generated per upload attempt.
type sessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: map[string]Session{}}
}

func (r *sessionRegistry) start(remotePath string) Session {
	s := Session{ID: uuid.New().String(), RemotePath: remotePath, StartedAt: time.Now()}
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

func (r *sessionRegistry) finish(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// active returns a snapshot of currently in-flight upload sessions.
func (r *sessionRegistry) active() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
