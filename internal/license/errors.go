package license

import "errors"

// Domain errors surfaced by the manager and validator. Unknown-key
// conditions pass through as store.ErrNotFound so callers have a single
// sentinel to branch on.
var (
	ErrInvalidTier     = errors.New("license: invalid tier")
	ErrEmptyKey        = errors.New("license: empty license key")
	ErrKeygenExhausted = errors.New("license: could not generate a unique key")
)
