package matrix

import "fmt"

// ValidationError reports a malformed combination construction.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid combination: " + e.Reason
}

// ConflictError reports a transition attempted against a combination that
// already has a render attempt in flight.
type ConflictError struct {
	ID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("combination %s is already generating", e.ID)
}

// RangeError reports an engagement score outside [0,1].
type RangeError struct {
	Score float64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("engagement score %v outside [0,1]", e.Score)
}

// NotFoundError reports a lookup for an id the collection does not hold.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return "combination not found: " + e.ID
}
