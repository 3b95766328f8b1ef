// Package normalizer implements the Event Normalizer (spec §4.5): it
// takes a time-bounded burst of canonical events and produces a minimal
// equivalent set, ready for the Upload Engine.
//
// Grounded on internal/client/sync/sync_engine.go's reconcile step, which
// performs an analogous reduction (comparing local/remote/journal state
// to decide Create/Modify/Delete per path) though over a three-way diff
// rather than a raw event burst; the per-path reduction here follows the
// same "what is the net effect on this path" idea.
package normalizer

import (
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/orbitflux/syncd/internal/events"
	"github.com/orbitflux/syncd/internal/pathutil"
)

// ExcludedFunc reports whether a remote-mapped path is excluded, used to
// detect a move crossing an exclusion boundary.
type ExcludedFunc func(path string) bool

// Normalize reduces a burst of canonical events to the minimal equivalent
// set described by spec §4.5, given a way to map local paths to remote
// paths (for exclusion-boundary checks) and an exclusion predicate.
func Normalize(burst []events.Event, toRemote func(string) string, excluded ExcludedFunc) []events.Event {
	working := dropBareDirModified(burst)
	working = collapseSubtreeMoves(working)
	working = collapseSubtreeDeletes(working)
	working = splitProblematicMoves(working, toRemote, excluded)
	reduced := reduceByPath(working)
	return order(reduced)
}

func dropBareDirModified(in []events.Event) []events.Event {
	out := make([]events.Event, 0, len(in))
	for _, ev := range in {
		if ev.Kind == events.Modified && ev.IsDirectory {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// collapseSubtreeMoves removes events for paths that moved only because
// their parent directory moved: if D's src->dest move is in the burst,
// any other event whose src and dest both lie under D's src and dest
// respectively is redundant with the single top-level move.
func collapseSubtreeMoves(in []events.Event) []events.Event {
	var movedDirs []events.Event
	for _, ev := range in {
		if ev.Kind == events.Moved && ev.IsDirectory {
			movedDirs = append(movedDirs, ev)
		}
	}
	if len(movedDirs) == 0 {
		return in
	}

	out := make([]events.Event, 0, len(in))
	for _, ev := range in {
		redundant := false
		for _, dir := range movedDirs {
			if ev.SrcPath == dir.SrcPath && ev.DestPath == dir.DestPath {
				continue // the move itself, not a child
			}
			srcUnder := ev.SrcPath != "" && pathutil.IsChild(slash(ev.SrcPath), slash(dir.SrcPath))
			destUnder := ev.DestPath != "" && pathutil.IsChild(slash(ev.DestPath), slash(dir.DestPath))
			if ev.Kind == events.Moved && srcUnder && destUnder {
				redundant = true
				break
			}
		}
		if !redundant {
			out = append(out, ev)
		}
	}
	return out
}

// collapseSubtreeDeletes removes events for children of a deleted
// directory; the top-level delete already implies their removal.
func collapseSubtreeDeletes(in []events.Event) []events.Event {
	var deletedDirs []events.Event
	for _, ev := range in {
		if ev.Kind == events.Deleted && ev.IsDirectory {
			deletedDirs = append(deletedDirs, ev)
		}
	}
	if len(deletedDirs) == 0 {
		return in
	}

	out := make([]events.Event, 0, len(in))
	for _, ev := range in {
		redundant := false
		for _, dir := range deletedDirs {
			if ev.SrcPath == dir.SrcPath && ev.Kind == events.Deleted {
				continue // the deletion itself
			}
			if pathutil.IsChild(slash(ev.Path()), slash(dir.SrcPath)) {
				redundant = true
				break
			}
		}
		if !redundant {
			out = append(out, ev)
		}
	}
	return out
}

// splitProblematicMoves replaces a move with a delete-then-create pair
// when either endpoint also appears elsewhere in the burst, or when the
// move crosses an exclusion boundary (spec §4.3, §4.5).
func splitProblematicMoves(in []events.Event, toRemote func(string) string, excluded ExcludedFunc) []events.Event {
	shared := mapset.NewSet[string]()
	counts := make(map[string]int)
	for _, ev := range in {
		if ev.SrcPath != "" {
			counts[ev.SrcPath]++
		}
		if ev.DestPath != "" {
			counts[ev.DestPath]++
		}
	}
	for path, n := range counts {
		if n > 2 {
			shared.Add(path)
		}
	}

	out := make([]events.Event, 0, len(in))
	for _, ev := range in {
		if ev.Kind != events.Moved {
			out = append(out, ev)
			continue
		}

		problematic := shared.Contains(ev.SrcPath) || shared.Contains(ev.DestPath)
		if excluded != nil && toRemote != nil {
			srcExcluded := excluded(toRemote(ev.SrcPath))
			destExcluded := excluded(toRemote(ev.DestPath))
			if srcExcluded != destExcluded {
				problematic = true
			}
		}

		if problematic {
			out = append(out, events.NewDeleted(ev.SrcPath, ev.IsDirectory))
			out = append(out, events.NewCreated(ev.DestPath, ev.IsDirectory))
		} else {
			out = append(out, ev)
		}
	}
	return out
}

// pathHistory accumulates a per-path event group for the reduction step.
type pathHistory struct {
	events []events.Event
}

// reduceByPath collapses each path's remaining Created/Modified/Deleted
// events into at most one (or a delete+create pair, on a directory/file
// kind change) event, tracking whether the path existed before the burst
// and whether it exists after: a path that never existed before the
// burst and does not exist after it (pure create/delete churn) is
// dropped entirely. A move that survived splitProblematicMoves is a
// legitimate rename and passes through untouched — the Upload Engine
// handles Moved events directly (spec §4.6 step 5).
func reduceByPath(in []events.Event) []events.Event {
	groups := make(map[string]*pathHistory)
	var seq []string
	var moves []events.Event

	for _, ev := range in {
		if ev.Kind == events.Moved {
			moves = append(moves, ev)
			continue
		}
		key := ev.Path()
		g, ok := groups[key]
		if !ok {
			g = &pathHistory{}
			groups[key] = g
			seq = append(seq, key)
		}
		g.events = append(g.events, ev)
	}

	var out []events.Event
	for _, key := range seq {
		g := groups[key]
		reduced, ok := reduceGroup(key, g.events)
		if ok {
			out = append(out, reduced...)
		}
	}
	out = append(out, moves...)
	return out
}

func reduceGroup(path string, evs []events.Event) ([]events.Event, bool) {
	if len(evs) == 0 {
		return nil, false
	}

	first := evs[0]
	existedBefore := first.Kind != events.Created

	exists := existedBefore
	var lastKindDir bool
	lastKindDir = first.IsDirectory

	for _, ev := range evs {
		switch ev.Kind {
		case events.Created:
			exists = true
			lastKindDir = ev.IsDirectory
		case events.Deleted:
			exists = false
		case events.Modified:
			lastKindDir = ev.IsDirectory
		}
	}

	switch {
	case !existedBefore && !exists:
		return nil, false // purely transient: created and removed within the window
	case !existedBefore && exists:
		return []events.Event{events.NewCreated(path, lastKindDir)}, true
	case existedBefore && !exists:
		return []events.Event{events.NewDeleted(path, first.IsDirectory)}, true
	default: // existedBefore && exists: net Modified, unless the kind changed mid-burst
		if first.IsDirectory != lastKindDir {
			return []events.Event{
				events.NewDeleted(path, first.IsDirectory),
				events.NewCreated(path, lastKindDir),
			}, true
		}
		return []events.Event{events.NewModified(path, lastKindDir)}, true
	}
}

// order sorts the reduced set per spec §4.5: directory creates ascend by
// depth (parents before children), deletions descend by depth (children
// before parents); everything else keeps its relative reduction order.
func order(in []events.Event) []events.Event {
	creates := make([]events.Event, 0)
	deletes := make([]events.Event, 0)
	rest := make([]events.Event, 0)

	for _, ev := range in {
		switch ev.Kind {
		case events.Created:
			creates = append(creates, ev)
		case events.Deleted:
			deletes = append(deletes, ev)
		default:
			rest = append(rest, ev)
		}
	}

	sort.SliceStable(creates, func(i, j int) bool {
		return pathutil.Depth(slash(creates[i].Path())) < pathutil.Depth(slash(creates[j].Path()))
	})
	sort.SliceStable(deletes, func(i, j int) bool {
		return pathutil.Depth(slash(deletes[i].Path())) > pathutil.Depth(slash(deletes[j].Path()))
	})

	out := make([]events.Event, 0, len(in))
	out = append(out, deletes...)
	out = append(out, creates...)
	out = append(out, rest...)
	return out
}

// slash gives local OS paths a leading "/" so pathutil.Depth/IsChild (built
// for remote paths) can compare segments uniformly regardless of platform
// separators.
func slash(p string) string {
	if p == "" {
		return "/"
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}
