package customers

import "errors"

var (
	// ErrNotFound is returned when a customer is not in the directory
	ErrNotFound = errors.New("customers: not found")

	// ErrMissingUserID is returned when a user id is blank
	ErrMissingUserID = errors.New("customers: user id is required")
)
