package coverage

const shortCommitLen = 8

// CommitID identifies a repository commit by its hex object id.
// DirtyCommit stands for a working tree with local modifications.
type CommitID string

// DirtyCommit is the commit recorded for runs against a modified working tree.
const DirtyCommit CommitID = ""

// IsDirty reports whether c is the DirtyCommit sentinel.
func (c CommitID) IsDirty() bool {
	return c == DirtyCommit
}

// String returns the hex id, or "DIRTY" for the sentinel.
func (c CommitID) String() string {
	if c.IsDirty() {
		return "DIRTY"
	}

	return string(c)
}

// Short returns an abbreviated id for display.
func (c CommitID) Short() string {
	if len(c) > shortCommitLen {
		return string(c[:shortCommitLen])
	}

	return c.String()
}
