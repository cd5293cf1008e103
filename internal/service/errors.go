package service

import "errors"

var (
	// ErrNotFound means no active URL matches the key or secret
	ErrNotFound = errors.New("URL not found")
	// ErrAliasTaken means the requested custom key is already in use
	ErrAliasTaken = errors.New("custom alias already exists")
	// ErrRateLimited means the caller used up the create budget for the current window
	ErrRateLimited = errors.New("too many requests")
	// ErrConflict means the store rejected the insert on a unique index
	ErrConflict = errors.New("key conflict")
	// ErrInvalidURL means the target is not an absolute http(s) URL
	ErrInvalidURL = errors.New("invalid target URL")
	// ErrInvalidKey means the custom key contains unsupported characters or is reserved
	ErrInvalidKey = errors.New("invalid custom key")
)
