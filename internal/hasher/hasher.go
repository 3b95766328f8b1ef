// Package hasher implements the Dropbox content-hash algorithm used to
// compare local and remote file identity (spec §2 "Content Hasher").
//
// The algorithm is Dropbox's own, publicly documented format: split the file
// into 4 MiB blocks, SHA-256 each block, then SHA-256 the concatenation of
// the block digests, and hex-encode the result. This is grounded on
// original_source/maestral/sync.py's DropboxContentHasher, reimplemented
// against io.Reader the way the teacher's sync_local_state.go computes its
// own (MD5-based) ETag over a file handle.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// BlockSize is the Dropbox content-hash block size: 4 MiB.
const BlockSize = 4 * 1024 * 1024

// FolderSentinel is the rev-tag value used in place of a content hash for
// directories (spec §3, §4.8).
const FolderSentinel = "folder"

// HashFile computes the Dropbox content hash of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hasher: open %s: %w", path, err)
	}
	defer f.Close()
	return HashReader(f)
}

// HashReader computes the Dropbox content hash of r, consuming it fully.
func HashReader(r io.Reader) (string, error) {
	overall := sha256.New()
	block := make([]byte, BlockSize)

	for {
		n, err := io.ReadFull(r, block)
		if n > 0 {
			blockSum := sha256.Sum256(block[:n])
			overall.Write(blockSum[:])
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("hasher: read: %w", err)
		}
		if n < BlockSize {
			break
		}
	}

	return hex.EncodeToString(overall.Sum(nil)), nil
}
