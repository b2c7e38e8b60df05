package gitlib

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	git2go "github.com/libgit2/git2go/v34"

	"github.com/Sumatoshi-tech/duvet/pkg/coverage"
)

// ChangeStatus classifies a working-tree change.
type ChangeStatus int

const (
	// StatusModified means the file exists on both sides with different content.
	StatusModified ChangeStatus = iota
	// StatusAdded means the file does not exist in the commit.
	StatusAdded
	// StatusDeleted means the file no longer exists in the working tree.
	StatusDeleted
)

// String returns the status name.
func (s ChangeStatus) String() string {
	switch s {
	case StatusAdded:
		return "added"
	case StatusDeleted:
		return "deleted"
	default:
		return "modified"
	}
}

// WorkdirChange is one file differing between a commit and the working tree.
type WorkdirChange struct {
	// Path is relative to the working tree root, slash-separated.
	Path string
	// Old is the content at the commit; nil when added.
	Old []byte
	// New is the working-tree content; nil when deleted.
	New    []byte
	Status ChangeStatus
	Binary bool
}

// AbsPath returns the change's absolute path under workdir.
func (c WorkdirChange) AbsPath(workdir string) string {
	return filepath.Join(workdir, filepath.FromSlash(c.Path))
}

// DiffWorkdir lists files that differ between the commit's tree and the
// working tree, staged changes included. Renames appear as a deletion plus an
// addition. DirtyCommit diffs against HEAD.
func (r *Repository) DiffWorkdir(ctx context.Context, id coverage.CommitID) ([]WorkdirChange, error) {
	hash, err := r.resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	commit, err := r.repo.LookupCommit(hash.ToOid())
	if err != nil {
		return nil, fmt.Errorf("lookup commit %s: %w", hash, err)
	}
	defer commit.Free()

	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("get commit tree: %w", err)
	}
	defer tree.Free()

	opts, err := git2go.DefaultDiffOptions()
	if err != nil {
		return nil, fmt.Errorf("get diff options: %w", err)
	}

	diff, err := r.repo.DiffTreeToWorkdirWithIndex(tree, &opts)
	if err != nil {
		return nil, fmt.Errorf("diff %s to workdir: %w", hash, err)
	}
	defer diff.Free()

	numDeltas, err := diff.NumDeltas()
	if err != nil {
		return nil, fmt.Errorf("get num deltas: %w", err)
	}

	changes := make([]WorkdirChange, 0, numDeltas)

	for i := range numDeltas {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		delta, deltaErr := diff.Delta(i)
		if deltaErr != nil {
			return nil, fmt.Errorf("get delta %d: %w", i, deltaErr)
		}

		deltaChanges, convErr := r.convertDelta(ctx, delta)
		if convErr != nil {
			return nil, convErr
		}

		changes = append(changes, deltaChanges...)
	}

	return changes, nil
}

func (r *Repository) convertDelta(ctx context.Context, delta git2go.DiffDelta) ([]WorkdirChange, error) {
	switch delta.Status {
	case git2go.DeltaAdded:
		added, err := r.added(delta.NewFile.Path)

		return []WorkdirChange{added}, err
	case git2go.DeltaDeleted:
		deleted, err := r.deleted(ctx, delta.OldFile)

		return []WorkdirChange{deleted}, err
	case git2go.DeltaModified, git2go.DeltaTypeChange:
		old, err := r.ReadBlob(ctx, HashFromOid(delta.OldFile.Oid))
		if err != nil {
			return nil, err
		}

		current, err := r.readWorkdirFile(delta.NewFile.Path)
		if errors.Is(err, fs.ErrNotExist) {
			return []WorkdirChange{{Path: delta.OldFile.Path, Old: old, Status: StatusDeleted, Binary: IsBinary(old)}}, nil
		}

		if err != nil {
			return nil, err
		}

		return []WorkdirChange{{
			Path:   delta.NewFile.Path,
			Old:    old,
			New:    current,
			Status: StatusModified,
			Binary: IsBinary(old) || IsBinary(current),
		}}, nil
	case git2go.DeltaRenamed, git2go.DeltaCopied:
		added, err := r.added(delta.NewFile.Path)
		if err != nil {
			return nil, err
		}

		if delta.Status == git2go.DeltaCopied {
			return []WorkdirChange{added}, nil
		}

		deleted, err := r.deleted(ctx, delta.OldFile)
		if err != nil {
			return nil, err
		}

		return []WorkdirChange{deleted, added}, nil
	default:
		// Unmodified, ignored, untracked, unreadable or conflicted entries.
		return nil, nil
	}
}

func (r *Repository) added(path string) (WorkdirChange, error) {
	current, err := r.readWorkdirFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return WorkdirChange{}, err
	}

	return WorkdirChange{Path: path, New: current, Status: StatusAdded, Binary: IsBinary(current)}, nil
}

func (r *Repository) deleted(ctx context.Context, file git2go.DiffFile) (WorkdirChange, error) {
	old, err := r.ReadBlob(ctx, HashFromOid(file.Oid))
	if err != nil {
		return WorkdirChange{}, err
	}

	return WorkdirChange{Path: file.Path, Old: old, Status: StatusDeleted, Binary: IsBinary(old)}, nil
}

func (r *Repository) readWorkdirFile(path string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(r.workdir, filepath.FromSlash(path)))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	return data, nil
}
