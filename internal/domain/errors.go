package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidSignature  = errors.New("invalid webhook signature")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrChannelDisabled   = errors.New("channel disabled by preference")
	ErrLockHeld          = errors.New("lock already held")
)
