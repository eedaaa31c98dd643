package service

import "errors"

// Errors returned by the service. Callers match them with errors.Is.
var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotFound      = errors.New("progression not found")
	ErrAlreadyExists = errors.New("progression already exists")
	ErrConflict      = errors.New("concurrent update conflict")
	ErrUnavailable   = errors.New("progression store unavailable")
	ErrBackpressure  = errors.New("reward queue is full")
	ErrNotStarted    = errors.New("service not started")
)
