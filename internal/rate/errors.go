package rate

import "errors"

var (
	// ErrRateLimited is returned by Allow once a key's window is spent.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps Redis failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
