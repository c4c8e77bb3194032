package rate

import "errors"

// ErrCacheUnavailable wraps Redis failures. The accompanying Decision is always allowed.
var ErrCacheUnavailable = errors.New("rate limit cache unavailable")
