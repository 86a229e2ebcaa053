package devices

import "errors"

// Error kinds surfaced to the transport layer; match them with errors.Is.
var (
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("device not found")
	ErrArgument     = errors.New("invalid argument")
)
