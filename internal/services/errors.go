package services

import "errors"

// Sentinel errors mapped to HTTP statuses at the handler layer.
var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version mismatch")
	ErrValidation      = errors.New("validation failed")
	ErrDuplicate       = errors.New("duplicate")
)
