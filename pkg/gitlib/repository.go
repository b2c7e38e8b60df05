package gitlib

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	git2go "github.com/libgit2/git2go/v34"

	"github.com/Sumatoshi-tech/duvet/pkg/coverage"
)

// ErrBareRepository is returned when the repository has no working tree.
var ErrBareRepository = errors.New("repository has no working tree")

// Repository wraps a libgit2 repository with a working tree.
type Repository struct {
	repo    *git2go.Repository
	workdir string
}

// OpenRepository opens the repository containing path, searching parent
// directories like git does.
func OpenRepository(path string) (*Repository, error) {
	gitDir, err := git2go.Discover(path, false, nil)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}

	repo, err := git2go.OpenRepository(gitDir)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}

	if repo.IsBare() {
		repo.Free()

		return nil, fmt.Errorf("open repository %s: %w", path, ErrBareRepository)
	}

	return &Repository{repo: repo, workdir: filepath.Clean(repo.Workdir())}, nil
}

// WorkDir returns the absolute working tree root.
func (r *Repository) WorkDir() string {
	return r.workdir
}

// Free releases the repository resources.
func (r *Repository) Free() {
	if r.repo != nil {
		r.repo.Free()
		r.repo = nil
	}
}

// Head returns the HEAD reference target.
func (r *Repository) Head(_ context.Context) (Hash, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return Hash{}, fmt.Errorf("get HEAD: %w", err)
	}
	defer ref.Free()

	return HashFromOid(ref.Target()), nil
}

// IsDirty reports whether the index or any tracked file differs from HEAD.
// Untracked files are ignored.
func (r *Repository) IsDirty(_ context.Context) (bool, error) {
	list, err := r.repo.StatusList(&git2go.StatusOptions{
		Show:  git2go.StatusShowIndexAndWorkdir,
		Flags: git2go.StatusOptExcludeSubmodules,
	})
	if err != nil {
		return false, fmt.Errorf("status: %w", err)
	}
	defer list.Free()

	count, err := list.EntryCount()
	if err != nil {
		return false, fmt.Errorf("status entry count: %w", err)
	}

	return count > 0, nil
}

// CurrentCommit returns HEAD's id, or DirtyCommit when the working tree has
// local modifications.
func (r *Repository) CurrentCommit(ctx context.Context) (coverage.CommitID, error) {
	dirty, err := r.IsDirty(ctx)
	if err != nil {
		return coverage.DirtyCommit, err
	}

	head, err := r.Head(ctx)
	if err != nil {
		return coverage.DirtyCommit, err
	}

	if dirty {
		return coverage.DirtyCommit, nil
	}

	return head.CommitID(), nil
}

// resolve maps a recorded commit id to a hash; DirtyCommit resolves to HEAD.
func (r *Repository) resolve(ctx context.Context, id coverage.CommitID) (Hash, error) {
	if id.IsDirty() {
		return r.Head(ctx)
	}

	return HashFromCommitID(id)
}
