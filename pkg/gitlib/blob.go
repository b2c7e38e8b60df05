package gitlib

import (
	"context"
	"fmt"
	"slices"

	"github.com/src-d/enry/v2"
)

// ReadBlob returns a copy of the blob contents.
func (r *Repository) ReadBlob(_ context.Context, hash Hash) ([]byte, error) {
	blob, err := r.repo.LookupBlob(hash.ToOid())
	if err != nil {
		return nil, fmt.Errorf("lookup blob %s: %w", hash, err)
	}
	defer blob.Free()

	// Contents aliases libgit2 memory released by Free.
	return slices.Clone(blob.Contents()), nil
}

// IsBinary reports whether content looks like a binary file.
func IsBinary(content []byte) bool {
	return enry.IsBinary(content)
}
