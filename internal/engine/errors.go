package engine

import "errors"

// The error taxonomy surfaced verbatim by every public operation. Callers
// match with errors.Is; the HTTP layer maps each kind to a status code.
var (
	// ErrValidation marks bad input; retrying unchanged cannot succeed.
	ErrValidation = errors.New("validation failed")

	// ErrTaskNotAcceptable means the task is no longer open for applications.
	ErrTaskNotAcceptable = errors.New("task not acceptable")

	// ErrAlreadyAssigned means another confirmation won the assignment race.
	ErrAlreadyAssigned = errors.New("task already assigned")

	// ErrAlreadyResolved means the acceptance reached a terminal state that
	// differs from the requested decision.
	ErrAlreadyResolved = errors.New("acceptance already resolved")

	// ErrSelfAcceptance means an owner tried to apply to their own task.
	ErrSelfAcceptance = errors.New("owner cannot accept own task")

	// ErrNotOwner means the caller does not own the task.
	ErrNotOwner = errors.New("caller is not the task owner")

	// ErrNotAssignee means the caller is not the assigned applicant.
	ErrNotAssignee = errors.New("caller is not the assignee")

	// ErrInvalidState means the operation is not valid for the task's
	// current lifecycle state.
	ErrInvalidState = errors.New("invalid lifecycle state")

	// ErrStorageUnavailable marks a transient store failure; safe to retry.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
