package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound        = errors.New("progression not found")
	ErrAlreadyExists   = errors.New("progression already exists")
	ErrVersionConflict = errors.New("progression version conflict")
	ErrAlreadyApplied  = errors.New("submission already applied")
	ErrClosed          = errors.New("store closed")
)
