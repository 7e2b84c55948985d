package store

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrClaimConflict = errors.New("claim conflict")
	ErrConflict      = errors.New("status conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrValidation    = errors.New("validation error")
)
