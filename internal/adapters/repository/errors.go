package repository

import "errors"

// Sentinel kinds for repository errors.
var (
	ErrNotFound       = errors.New("run not found")
	ErrInvalidRun     = errors.New("invalid run")
	ErrMalformedInput = errors.New("malformed input file")
)
