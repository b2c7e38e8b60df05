package gitlib

import (
	"context"
	"fmt"
	"time"

	"github.com/Sumatoshi-tech/duvet/pkg/coverage"
)

// Signature is a commit author or committer.
type Signature struct {
	When  time.Time
	Name  string
	Email string
}

// CommitInfo describes a commit for display.
type CommitInfo struct {
	Author  Signature
	Summary string
	Hash    Hash
}

// Commit returns metadata of the commit with the given id.
func (r *Repository) Commit(ctx context.Context, id coverage.CommitID) (*CommitInfo, error) {
	hash, err := r.resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	commit, err := r.repo.LookupCommit(hash.ToOid())
	if err != nil {
		return nil, fmt.Errorf("lookup commit: %w", err)
	}
	defer commit.Free()

	sig := commit.Author()

	return &CommitInfo{
		Hash:    hash,
		Summary: commit.Summary(),
		Author: Signature{
			Name:  sig.Name,
			Email: sig.Email,
			When:  sig.When,
		},
	}, nil
}
