package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// ErrJobNotFound is returned when a job id is unknown or its record
	// has aged out of the retention window.
	ErrJobNotFound = errors.New("job not found")
	// ErrRequestNotFound is returned when a service request id is unknown.
	ErrRequestNotFound = errors.New("service request not found")
	// ErrUserNotFound is returned when a user id is unknown.
	ErrUserNotFound = errors.New("user not found")
	// ErrServiceNotFound is returned when a catalog service id is unknown.
	ErrServiceNotFound = errors.New("service not found")
)
