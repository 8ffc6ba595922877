package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrPaymentRequired  = errors.New("payment required")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrLockHeld         = errors.New("job is locked by another invocation")
	ErrLockLost         = errors.New("job lock lost")
	ErrNotConfigured    = errors.New("not configured")
	ErrProviderFailure  = errors.New("provider failure")
	ErrRateLimited      = errors.New("provider rate limited")
	ErrEmptyBundle      = errors.New("no stickers could be bundled")
)
