package domain

import "errors"

var (
	ErrEmptyContent     = errors.New("message content must not be empty")
	ErrMissingUser      = errors.New("message author is required")
	ErrStoreUnavailable = errors.New("message store unavailable")
)
