package rate

import "errors"

var (
	// ErrRedisUnavailable wraps any counter failure. It is never a "blocked" signal.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrInvalidPolicy is returned for a non-positive limit or window.
	ErrInvalidPolicy = errors.New("invalid rate limit policy")
)
