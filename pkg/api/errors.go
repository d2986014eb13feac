package api

import "errors"

// ErrorClass categorizes an activity failure for operator judgment. The
// class determines whether a retry is safe and what must be re-verified
// before resuming
type ErrorClass string

const (
	// ClassConflict marks a topology precondition violation. Never retried
	// blindly; surfaced to the caller of the triggering activity
	ClassConflict ErrorClass = "precondition_conflict"

	// ClassTransient marks a temporarily unavailable store or transport.
	// Safe to retry the whole operation since mutations are all-or-nothing
	ClassTransient ErrorClass = "transient_infra"

	// ClassRemote marks a remote script that ran and reported failure
	ClassRemote ErrorClass = "remote_execution"

	// ClassTimeout marks an activity with no terminal status within budget.
	// Remote side effects are unknown; resume must re-verify remote state
	ClassTimeout ErrorClass = "timeout"
)

var (
	ErrConflict         = errors.New("topology precondition conflict")
	ErrStoreUnavailable = errors.New("topology store unavailable")
	ErrRemoteFailure    = errors.New("remote execution failed")
	ErrTimeout          = errors.New("activity timed out")
)

// Classify maps an error to its failure class. Unknown errors are treated
// as transient since the engine's own mutations are all-or-nothing
func Classify(err error) ErrorClass {
	switch {
	case errors.Is(err, ErrConflict):
		return ClassConflict
	case errors.Is(err, ErrTimeout):
		return ClassTimeout
	case errors.Is(err, ErrRemoteFailure):
		return ClassRemote
	default:
		return ClassTransient
	}
}

// Retryable reports whether failures of this class may be retried without
// operator intervention re-verifying state first
func (c ErrorClass) Retryable() bool {
	return c == ClassTransient
}
