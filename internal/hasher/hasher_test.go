package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashReader_EmptyFile(t *testing.T) {
	want := hex.EncodeToString(sha256.New().Sum(nil))
	got, err := HashReader(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestHashReader_SingleBlock(t *testing.T) {
	data := strings.Repeat("a", 100)
	blockSum := sha256.Sum256([]byte(data))
	h := sha256.New()
	h.Write(blockSum[:])
	want := hex.EncodeToString(h.Sum(nil))

	got, err := HashReader(strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestHashReader_MultiBlockBoundary(t *testing.T) {
	// Exactly two full blocks: verifies the loop doesn't double-hash a
	// phantom trailing empty block.
	data := strings.Repeat("x", BlockSize*2)

	block1 := sha256.Sum256([]byte(data[:BlockSize]))
	block2 := sha256.Sum256([]byte(data[BlockSize:]))
	h := sha256.New()
	h.Write(block1[:])
	h.Write(block2[:])
	want := hex.EncodeToString(h.Sum(nil))

	got, err := HashReader(strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestHashFile_MatchesHashReader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	content := strings.Repeat("hello world ", 1000)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	fromReader, err := HashReader(strings.NewReader(content))
	require.NoError(t, err)

	fromFile, err := HashFile(path)
	require.NoError(t, err)

	assert.Equal(t, fromReader, fromFile)
}
