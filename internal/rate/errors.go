package rate

import "errors"

var (
	// ErrBanned is returned by Hit when the attempt crossed the ceiling.
	ErrBanned = errors.New("actor banned")
	// ErrRedisUnavailable wraps any backend failure.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrInvalidPolicy reports a policy with a missing scope or non-positive bounds.
	ErrInvalidPolicy = errors.New("invalid rate policy")
)
