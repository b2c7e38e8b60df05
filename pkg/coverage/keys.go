package coverage

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Reserved trailing components of non-test keys.
const (
	testSetSentinel = "__coverage__global__"
	runSentinel     = "__duvet_run__"
)

// ErrMalformedKey is returned by ParseKey for keys that are not store keys.
var ErrMalformedKey = errors.New("malformed store key")

// KeyKind classifies a store key.
type KeyKind int

// Store key kinds.
const (
	KeyTest KeyKind = iota
	KeyTestSet
	KeyRun
)

// Key is a decoded store key.
type Key struct {
	Commit CommitID
	Test   TestID
	Kind   KeyKind
}

// TestKey returns the key of the record for test at commit.
func TestKey(commit CommitID, test TestID) string {
	return encodeKey(commit, test...)
}

// TestSetKey returns the key of the set of tests recorded at commit.
func TestSetKey(commit CommitID) string {
	return encodeKey(commit, testSetSentinel)
}

// RunKey returns the key of the last run marker at commit.
func RunKey(commit CommitID) string {
	return encodeKey(commit, runSentinel)
}

// encodeKey renders a compact JSON array whose first element is the commit
// id, or null for DirtyCommit.
func encodeKey(commit CommitID, parts ...string) string {
	items := make([]any, 0, len(parts)+1)

	if commit.IsDirty() {
		items = append(items, nil)
	} else {
		items = append(items, string(commit))
	}

	for _, part := range parts {
		items = append(items, part)
	}

	data, err := json.Marshal(items)
	if err != nil {
		// Strings and nil always marshal.
		panic(err)
	}

	return string(data)
}

// ParseKey decodes a key produced by TestKey, TestSetKey or RunKey.
func ParseKey(key string) (Key, error) {
	var items []*string

	err := json.Unmarshal([]byte(key), &items)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %q: %w", ErrMalformedKey, key, err)
	}

	if len(items) < 2 {
		return Key{}, fmt.Errorf("%w: %q", ErrMalformedKey, key)
	}

	var parsed Key

	if items[0] != nil {
		parsed.Commit = CommitID(*items[0])
	}

	rest := make([]string, 0, len(items)-1)

	for _, item := range items[1:] {
		if item == nil {
			return Key{}, fmt.Errorf("%w: %q", ErrMalformedKey, key)
		}

		rest = append(rest, *item)
	}

	switch {
	case len(rest) == 1 && rest[0] == testSetSentinel:
		parsed.Kind = KeyTestSet
	case len(rest) == 1 && rest[0] == runSentinel:
		parsed.Kind = KeyRun
	default:
		parsed.Kind = KeyTest
		parsed.Test = TestID(rest)
	}

	return parsed, nil
}
