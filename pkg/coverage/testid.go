// Package coverage defines the coverage data model: test identities, commit
// identities, per-test line coverage records and their store encoding.
package coverage

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// TestIDSeparator joins TestID components in their string form.
const TestIDSeparator = "::"

// ErrEmptyTestID is returned when parsing a test identifier without components.
var ErrEmptyTestID = errors.New("empty test id")

// TestID is an ordered tuple of strings naming a test, such as
// (package import path, test function) or (module, class, method).
// Values are treated as immutable.
type TestID []string

// NewTestID builds a TestID from its components.
func NewTestID(parts ...string) TestID {
	return slices.Clone(TestID(parts))
}

// ParseTestID parses either the "::"-joined form or a JSON array of strings.
func ParseTestID(text string) (TestID, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyTestID
	}

	if strings.HasPrefix(text, "[") {
		var parts []string

		err := json.Unmarshal([]byte(text), &parts)
		if err != nil {
			return nil, fmt.Errorf("parse test id %q: %w", text, err)
		}

		if len(parts) == 0 {
			return nil, ErrEmptyTestID
		}

		return TestID(parts), nil
	}

	return TestID(strings.Split(text, TestIDSeparator)), nil
}

// String returns the "::"-joined form.
func (id TestID) String() string {
	return strings.Join(id, TestIDSeparator)
}

// Key returns a string usable as a map key.
func (id TestID) Key() string {
	data, err := json.Marshal([]string(id))
	if err != nil {
		return id.String()
	}

	return string(data)
}

// Equal reports whether both ids have the same components.
func (id TestID) Equal(other TestID) bool {
	return slices.Equal(id, other)
}

// Compare orders ids component-wise, shorter first on a common prefix.
func (id TestID) Compare(other TestID) int {
	return slices.Compare(id, other)
}
