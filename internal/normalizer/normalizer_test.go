package normalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/orbitflux/syncd/internal/events"
)

func identity(p string) string { return p }
func noExclusions(string) bool { return false }

func TestNormalize_DropsBareDirModified(t *testing.T) {
	burst := []events.Event{events.NewModified("/dir", true)}
	out := Normalize(burst, identity, noExclusions)
	assert.Empty(t, out)
}

func TestNormalize_BurstOfCreatesAndDeletesCancels(t *testing.T) {
	var burst []events.Event
	for i := 0; i < 10; i++ {
		burst = append(burst, events.NewCreated("/a.txt", false))
		burst = append(burst, events.NewDeleted("/a.txt", false))
	}
	out := Normalize(burst, identity, noExclusions)
	assert.Empty(t, out)
}

func TestNormalize_NetCreateSurvives(t *testing.T) {
	burst := []events.Event{
		events.NewCreated("/a.txt", false),
		events.NewDeleted("/a.txt", false),
		events.NewCreated("/a.txt", false),
	}
	out := Normalize(burst, identity, noExclusions)
	assert.Len(t, out, 1)
	assert.Equal(t, events.Created, out[0].Kind)
}

func TestNormalize_ExistingFileModifiedStaysModified(t *testing.T) {
	burst := []events.Event{
		events.NewModified("/a.txt", false),
		events.NewModified("/a.txt", false),
	}
	out := Normalize(burst, identity, noExclusions)
	assert.Len(t, out, 1)
	assert.Equal(t, events.Modified, out[0].Kind)
}

func TestNormalize_KindChangeProducesDeleteCreatePair(t *testing.T) {
	burst := []events.Event{
		events.NewDeleted("/a", false),
		events.NewCreated("/a", true),
	}
	out := Normalize(burst, identity, noExclusions)
	assert.Len(t, out, 2)

	var kinds []events.Kind
	for _, ev := range out {
		kinds = append(kinds, ev.Kind)
	}
	assert.Contains(t, kinds, events.Deleted)
	assert.Contains(t, kinds, events.Created)
}

func TestNormalize_CollapsesSubtreeDeletes(t *testing.T) {
	burst := []events.Event{
		events.NewDeleted("/dir", true),
		events.NewDeleted("/dir/a.txt", false),
		events.NewDeleted("/dir/sub/b.txt", false),
	}
	out := Normalize(burst, identity, noExclusions)
	assert.Len(t, out, 1)
	assert.Equal(t, "/dir", out[0].Path())
}

func TestNormalize_CollapsesSubtreeMoves(t *testing.T) {
	burst := []events.Event{
		events.NewMoved("/old", "/new", true),
		events.NewMoved("/old/a.txt", "/new/a.txt", false),
	}
	out := Normalize(burst, identity, noExclusions)
	assert.Len(t, out, 1)
	assert.Equal(t, "/new", out[0].DestPath)
}

func TestNormalize_SplitsMoveAcrossExclusionBoundary(t *testing.T) {
	excluded := func(p string) bool { return p == "/Archive/a.txt" }
	burst := []events.Event{events.NewMoved("/a.txt", "/Archive/a.txt", false)}
	out := Normalize(burst, identity, excluded)

	assert.Len(t, out, 2)
	var kinds []events.Kind
	for _, ev := range out {
		kinds = append(kinds, ev.Kind)
	}
	assert.Contains(t, kinds, events.Deleted)
	assert.Contains(t, kinds, events.Created)
}

func TestNormalize_CleanMovePassesThrough(t *testing.T) {
	burst := []events.Event{events.NewMoved("/old.txt", "/new.txt", false)}
	out := Normalize(burst, identity, noExclusions)
	assert.Len(t, out, 1)
	assert.Equal(t, events.Moved, out[0].Kind)
}

func TestNormalize_OrdersDeletesDescendingCreatesAscending(t *testing.T) {
	burst := []events.Event{
		events.NewCreated("/a/b/c", true),
		events.NewCreated("/a", true),
		events.NewCreated("/a/b", true),
		events.NewDeleted("/x", true),
		events.NewDeleted("/y/z", true),
	}
	out := Normalize(burst, identity, noExclusions)

	var creates, deletes []string
	for _, ev := range out {
		switch ev.Kind {
		case events.Created:
			creates = append(creates, ev.Path())
		case events.Deleted:
			deletes = append(deletes, ev.Path())
		}
	}
	assert.Equal(t, []string{"/a", "/a/b", "/a/b/c"}, creates)
	assert.Equal(t, []string{"/y/z", "/x"}, deletes)
}

func TestNormalize_Idempotent(t *testing.T) {
	burst := []events.Event{
		events.NewCreated("/a.txt", false),
		events.NewModified("/a.txt", false),
		events.NewDeleted("/b.txt", false),
		events.NewMoved("/c.txt", "/d.txt", false),
	}
	once := Normalize(burst, identity, noExclusions)
	twice := Normalize(once, identity, noExclusions)
	assert.Equal(t, once, twice)
}

func TestNormalize_AtMostOneEntryPerPath(t *testing.T) {
	burst := []events.Event{
		events.NewCreated("/a.txt", false),
		events.NewModified("/a.txt", false),
		events.NewModified("/a.txt", false),
	}
	out := Normalize(burst, identity, noExclusions)

	seen := make(map[string]int)
	for _, ev := range out {
		seen[ev.Path()]++
	}
	for path, n := range seen {
		assert.LessOrEqualf(t, n, 1, "path %s appeared %d times", path, n)
	}
}
