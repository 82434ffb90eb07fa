package engine

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by gateways for unknown entity ids.
var ErrNotFound = errors.New("not found")

// ErrRecordRequired means a task completion was refused because no learning
// record exists for it. A business precondition, not a lock failure: the
// entity version is not consumed.
var ErrRecordRequired = errors.New("learning record required before completion")

// ErrDuplicateAction means a second check-in was attempted for the same
// task and calendar day.
var ErrDuplicateAction = errors.New("action already performed today")

// ErrNoCheckInToday means a cancellation found no check-in for today.
var ErrNoCheckInToday = errors.New("no check-in recorded today")

// ConflictError reports an optimistic-lock failure. Current is the
// authoritative version so the caller can re-fetch and decide to retry.
type ConflictError struct {
	Expected int
	Current  int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict: expected %d, current %d", e.Expected, e.Current)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
