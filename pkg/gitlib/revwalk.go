package gitlib

import (
	"context"
	"errors"
	"fmt"
	"io"

	git2go "github.com/libgit2/git2go/v34"

	"github.com/Sumatoshi-tech/duvet/pkg/coverage"
)

// AncestorIter lazily walks first-parent history, newest first.
type AncestorIter struct {
	walk *git2go.RevWalk
}

// Ancestors starts a first-parent walk at start, which is yielded first.
// DirtyCommit starts at HEAD.
func (r *Repository) Ancestors(ctx context.Context, start coverage.CommitID) (*AncestorIter, error) {
	hash, err := r.resolve(ctx, start)
	if err != nil {
		return nil, err
	}

	walk, err := r.repo.Walk()
	if err != nil {
		return nil, fmt.Errorf("create revwalk: %w", err)
	}

	// Topological order never yields a commit before its descendants.
	walk.Sorting(git2go.SortTime | git2go.SortTopological)
	walk.SimplifyFirstParent()

	err = walk.Push(hash.ToOid())
	if err != nil {
		walk.Free()

		return nil, fmt.Errorf("push %s to revwalk: %w", hash, err)
	}

	return &AncestorIter{walk: walk}, nil
}

// Next returns the next ancestor, or io.EOF past the root commit.
func (it *AncestorIter) Next() (coverage.CommitID, error) {
	if it.walk == nil {
		return coverage.DirtyCommit, io.EOF
	}

	oid := new(git2go.Oid)

	err := it.walk.Next(oid)
	if git2go.IsErrorCode(err, git2go.ErrorCodeIterOver) {
		it.Free()

		return coverage.DirtyCommit, io.EOF
	}

	if err != nil {
		return coverage.DirtyCommit, fmt.Errorf("revwalk next: %w", err)
	}

	return HashFromOid(oid).CommitID(), nil
}

// Free releases the walker resources.
func (it *AncestorIter) Free() {
	if it.walk != nil {
		it.walk.Free()
		it.walk = nil
	}
}

// WalkAncestors calls fn for each first-parent ancestor of start, newest
// first, until fn returns false, an error occurs or history ends.
func (r *Repository) WalkAncestors(
	ctx context.Context, start coverage.CommitID, fn func(coverage.CommitID) (bool, error),
) error {
	it, err := r.Ancestors(ctx, start)
	if err != nil {
		return err
	}
	defer it.Free()

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		commit, nextErr := it.Next()
		if errors.Is(nextErr, io.EOF) {
			return nil
		}

		if nextErr != nil {
			return nextErr
		}

		more, fnErr := fn(commit)
		if fnErr != nil || !more {
			return fnErr
		}
	}
}
