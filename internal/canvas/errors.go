package canvas

import "errors"

var (
	// ErrNotFound is returned when the requested canvas or node does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRole is returned when a node draft carries an unknown role.
	ErrInvalidRole = errors.New("invalid role")
)
