package model

import "errors"

// Sentinel errors for model validation.
var (
	// ErrInvalidRating indicates a rating outside forgot..easy.
	ErrInvalidRating = errors.New("invalid rating")

	// ErrInvalidTransition indicates a session status change that is not allowed.
	ErrInvalidTransition = errors.New("invalid session status transition")
)
