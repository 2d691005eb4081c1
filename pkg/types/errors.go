package types

import "errors"

// Domain errors for type validation
var (
	ErrMissingStableID = errors.New("stable ID is required")
	ErrMissingPath     = errors.New("path is required")
	ErrEmptyBody       = errors.New("body cannot be empty")
	ErrInvalidRank     = errors.New("rank must be >= 1")
	ErrInvalidScore    = errors.New("score must be between 0 and 1")
)
