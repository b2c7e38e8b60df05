// Package gitlib provides repository access for change-impact analysis using
// libgit2: the current commit, first-parent history and working-tree diffs.
package gitlib

import (
	"encoding/hex"
	"errors"
	"fmt"

	git2go "github.com/libgit2/git2go/v34"

	"github.com/Sumatoshi-tech/duvet/pkg/coverage"
)

// Constants for hash operations.
const (
	// HashSize is the size of a SHA-1 hash in bytes.
	HashSize = 20
	// HashHexSize is the size of a hex-encoded SHA-1 hash.
	HashHexSize = 40
)

// ErrInvalidHash is returned when parsing a malformed object id.
var ErrInvalidHash = errors.New("invalid object id")

// Hash represents a git object hash (SHA-1).
type Hash [HashSize]byte

// ParseHash parses a 40-character hex object id.
func ParseHash(hexStr string) (Hash, error) {
	var hash Hash

	if len(hexStr) != HashHexSize {
		return hash, fmt.Errorf("%w: %q", ErrInvalidHash, hexStr)
	}

	_, err := hex.Decode(hash[:], []byte(hexStr))
	if err != nil {
		return hash, fmt.Errorf("%w: %q: %w", ErrInvalidHash, hexStr, err)
	}

	return hash, nil
}

// HashFromCommitID converts a recorded commit id. DirtyCommit has no hash.
func HashFromCommitID(id coverage.CommitID) (Hash, error) {
	if id.IsDirty() {
		return Hash{}, fmt.Errorf("%w: dirty working tree", ErrInvalidHash)
	}

	return ParseHash(string(id))
}

// HashFromOid converts a libgit2 Oid to Hash.
func HashFromOid(oid *git2go.Oid) Hash {
	var h Hash
	copy(h[:], oid[:])

	return h
}

// String returns the hex representation of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// CommitID returns the hash as a recorded commit id.
func (h Hash) CommitID() coverage.CommitID {
	return coverage.CommitID(h.String())
}

// IsZero returns true if the hash is all zeros.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// ToOid converts Hash back to libgit2 Oid.
func (h Hash) ToOid() *git2go.Oid {
	oid := new(git2go.Oid)
	copy(oid[:], h[:])

	return oid
}
