package upload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRegistry_StartThenFinishRemoves(t *testing.T) {
	r := newSessionRegistry()
	s := r.start("/a.txt")
	require.NotEmpty(t, s.ID)
	assert.Len(t, r.active(), 1)

	r.finish(s.ID)
	assert.Empty(t, r.active())
}

func TestSessionRegistry_UniqueIDsPerStart(t *testing.T) {
	r := newSessionRegistry()
	a := r.start("/a.txt")
	b := r.start("/b.txt")
	assert.NotEqual(t, a.ID, b.ID)
	assert.Len(t, r.active(), 2)
}
