package util

import "errors"

var (
	// ErrNotFound is returned by store adapters when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when a device or admin identity cannot be verified.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidArgument marks caller input that failed validation.
	ErrInvalidArgument = errors.New("invalid argument")
)
