package friendship

import "errors"

var (
	// ErrSelfRequest is returned when a user tries to friend themselves.
	ErrSelfRequest = errors.New("friendship: cannot send a request to yourself")

	// ErrDuplicateRequest is returned when a row already exists between the
	// pair and the new request adds nothing.
	ErrDuplicateRequest = errors.New("friendship: request already exists")

	// ErrPreviouslyDeclined is returned when the caller's own earlier
	// request was declined; re-sending it is rejected as a distinguished
	// business rule, not as a duplicate.
	ErrPreviouslyDeclined = errors.New("friendship: request was previously declined")

	// ErrNotFound is returned when the operation targets a row that does
	// not exist (accepting or declining a request that was never sent, or
	// was withdrawn).
	ErrNotFound = errors.New("friendship: not found")
)
