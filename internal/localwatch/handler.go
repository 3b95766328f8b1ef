package localwatch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/orbitflux/syncd/internal/events"
	"github.com/orbitflux/syncd/internal/pathutil"
)

// Phase gates which local events the Handler lets through (spec §4.4:
// "drop if not syncing/startup").
type Phase int

const (
	PhasePaused Phase = iota
	PhaseStartup
	PhaseSyncing
)

// Handler applies the local-event filtering rules of spec §4.4 on top of
// the raw debounced stream from Watcher: phase gating, suppression of
// self-inflicted download events, and case-conflict detection on
// case-sensitive filesystems.
type Handler struct {
	mapper    *pathutil.Mapper
	suppress  *events.SuppressSet
	phase     Phase
	phaseFunc func() Phase
}

func NewHandler(mapper *pathutil.Mapper, suppress *events.SuppressSet) *Handler {
	return &Handler{mapper: mapper, suppress: suppress, phase: PhasePaused}
}

// SetPhase updates the gate directly (used by tests and by the scheduler
// when it has a fixed phase rather than a dynamic query function).
func (h *Handler) SetPhase(p Phase) { h.phase = p }

// SetPhaseFunc installs a dynamic phase query, taking precedence over
// SetPhase. The scheduler uses this to reflect its own running state
// without the handler needing a reference back into it.
func (h *Handler) SetPhaseFunc(f func() Phase) { h.phaseFunc = f }

func (h *Handler) currentPhase() Phase {
	if h.phaseFunc != nil {
		return h.phaseFunc()
	}
	return h.phase
}

// Filter decides whether ev should be dropped before it reaches the
// normalizer, rewriting it first if it triggers a local case conflict.
// Returns the (possibly rewritten) event and false to drop.
func (h *Handler) Filter(ev events.Event) (events.Event, bool) {
	phase := h.currentPhase()
	if phase == PhasePaused {
		return ev, false
	}

	remote, err := h.mapper.ToRemote(ev.Path())
	if err != nil {
		return ev, false
	}

	// An event for a path currently being written by the download engine
	// is our own write landing back on disk, not a user edit (spec §4.4
	// "drop if in queue_downloading").
	if h.suppress.Contains(remote) {
		return ev, false
	}

	// The case-conflict rename suppresses its own echoes, so it runs after
	// the suppression check: the rewritten event itself is forwarded.
	return h.resolveCaseConflict(ev), true
}

// resolveCaseConflict implements spec §4.4 step 3: a newly created item
// that collides case-insensitively with an existing sibling on a
// case-sensitive filesystem is renamed to "<base> (case conflict[ N])<ext>"
// before it ever reaches the uploader, so the remote namespace — which
// cannot hold both — never sees the collision. The rename's own watcher
// echo is suppressed on both the old and new paths, and the event is
// rewritten to the new path.
func (h *Handler) resolveCaseConflict(ev events.Event) events.Event {
	if ev.Kind != events.Created {
		return ev
	}
	if _, conflict := h.CaseConflict(ev.SrcPath); !conflict {
		return ev
	}

	renamed := nextCaseConflictName(filepath.Dir(ev.SrcPath), filepath.Base(ev.SrcPath))

	for _, p := range []string{ev.SrcPath, renamed} {
		remote, err := h.mapper.ToRemote(p)
		if err != nil {
			continue
		}
		h.suppress.Begin(remote)
		defer h.suppress.Done(remote)
	}

	if err := os.Rename(ev.SrcPath, renamed); err != nil {
		return ev
	}
	return events.NewCreated(renamed, ev.IsDirectory)
}

// nextCaseConflictName finds the first unused "<base> (case conflict[
// N])<ext>" name in dir for the colliding file base.
func nextCaseConflictName(dir, base string) string {
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	candidate := filepath.Join(dir, fmt.Sprintf("%s (case conflict)%s", stem, ext))
	for n := 2; pathExists(candidate); n++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s (case conflict %d)%s", stem, n, ext))
	}
	return candidate
}

func pathExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// CaseConflict reports whether local already has a sibling on disk whose
// name matches case-insensitively but not exactly — the local filesystem
// equivalent of spec §4.8's remote case conflicts, arising when a
// case-sensitive filesystem (Linux) holds two entries a case-insensitive
// remote namespace cannot represent separately.
func (h *Handler) CaseConflict(local string) (existing string, conflict bool) {
	dir := filepath.Dir(local)
	base := filepath.Base(local)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, entry := range entries {
		if entry.Name() == base {
			continue
		}
		if strings.EqualFold(entry.Name(), base) {
			return filepath.Join(dir, entry.Name()), true
		}
	}
	return "", false
}
