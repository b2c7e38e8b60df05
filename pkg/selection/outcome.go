package selection

import (
	"errors"
	"fmt"
)

// ErrUnknownOutcome is returned by ParseOutcome.
var ErrUnknownOutcome = errors.New("unknown test outcome")

// Outcome is the result reported for one test.
type Outcome string

// Test outcomes.
const (
	OutcomePassed  Outcome = "passed"
	OutcomeFailed  Outcome = "failed"
	OutcomeErrored Outcome = "errored"
	// OutcomeSkipped marks a test not run because no change affects it.
	OutcomeSkipped Outcome = "skipped-not-affected"
)

// IsFailure reports whether the outcome fails the run.
func (o Outcome) IsFailure() bool {
	return o == OutcomeFailed || o == OutcomeErrored
}

// ParseOutcome parses an outcome name.
func ParseOutcome(name string) (Outcome, error) {
	switch outcome := Outcome(name); outcome {
	case OutcomePassed, OutcomeFailed, OutcomeErrored, OutcomeSkipped:
		return outcome, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownOutcome, name)
	}
}
