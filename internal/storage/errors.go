package storage

import "errors"

// ErrPoolExhausted is returned by Pool.Acquire when every connection stayed
// in use for the whole bounded wait. Fatal for the calling operation; callers
// decide whether to retry at a higher level.
var ErrPoolExhausted = errors.New("storage: connection pool exhausted")

// ErrNotFound is returned by lookups for rows that do not exist.
var ErrNotFound = errors.New("storage: not found")
