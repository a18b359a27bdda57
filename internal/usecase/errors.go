package usecase

import "errors"

var (
	// ErrRunInProgress is returned when a run is requested while another one is still going.
	ErrRunInProgress = errors.New("a run is already in progress")
	// ErrIdentityUnrecoverable means the candidate's source URL does not identify a notice.
	ErrIdentityUnrecoverable = errors.New("notice identity unrecoverable")
)

// ErrInvalidConfig wraps scheduler configuration the service refuses to apply.
var ErrInvalidConfig = errors.New("invalid scheduler configuration")
